// Package anncsu implements the registry client against the ANNCSU
// address-registry HTTP API (the Italian national street and civic
// number archive).
package anncsu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/geodiff-tools/registry-replay/config"
	"github.com/geodiff-tools/registry-replay/metrics"
	"github.com/geodiff-tools/registry-replay/registry"
)

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

type client struct {
	baseURL string
	token   string
	http    Httper
	metrics *metrics.Metrics
}

// New builds an ANNCSU registry client. A missing token or base URL is a
// construction failure, which callers treat as fatal for the whole run.
func New(cfg config.Registry, metrics *metrics.Metrics) (registry.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("anncsu base url empty")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("anncsu api token empty")
	}
	return &client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: metrics,
	}, nil
}

func (c *client) Create(ctx context.Context, fields map[string]any) (string, error) {
	slog.Debug("Creating address record")

	body, err := c.do(ctx, "insert", http.MethodPost, c.baseURL+"/addresses", fields)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		// Some deployments return an empty body on create. The record
		// is applied either way, only the returned id is lost.
		slog.Debug("No id in create response", "error", err)
		return "", nil
	}
	return created.ID, nil
}

func (c *client) Update(ctx context.Context, key string, fields map[string]any) error {
	slog.Debug("Updating address record", "key", key)

	_, err := c.do(ctx, "update", http.MethodPut, c.baseURL+"/addresses/"+url.PathEscape(key), fields)
	return err
}

func (c *client) Delete(ctx context.Context, key string) error {
	slog.Debug("Deleting address record", "key", key)

	_, err := c.do(ctx, "delete", http.MethodDelete, c.baseURL+"/addresses/"+url.PathEscape(key), nil)
	return err
}

func (c *client) do(ctx context.Context, op, method, endpoint string, fields map[string]any) ([]byte, error) {
	var reqBody io.Reader
	if fields != nil {
		data, err := json.Marshal(fields)
		if err != nil {
			c.metrics.IncRegistryRequest(op, false)
			return nil, &registry.Error{Message: fmt.Sprintf("encode fields: %v", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		c.metrics.IncRegistryRequest(op, false)
		return nil, &registry.Error{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures and timeouts are worth another attempt.
		c.metrics.IncRegistryRequest(op, false)
		return nil, &registry.Error{Transient: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		c.metrics.IncRegistryRequest(op, false)
		return nil, &registry.Error{Transient: true, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.metrics.IncRegistryRequest(op, true)
		return body, nil
	}

	c.metrics.IncRegistryRequest(op, false)
	return nil, &registry.Error{
		Transient: isTransientStatus(resp.StatusCode),
		Status:    resp.StatusCode,
		Message:   errMessage(resp.StatusCode, body),
	}
}

// Rate limiting and server-side failures may clear up on retry. Every
// other rejection, a 404 on a missing key included, is permanent.
func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func errMessage(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(status)
	}
	return msg
}

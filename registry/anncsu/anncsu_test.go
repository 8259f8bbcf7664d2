package anncsu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodiff-tools/registry-replay/config"
	"github.com/geodiff-tools/registry-replay/metrics"
	"github.com/geodiff-tools/registry-replay/registry"
)

func testConfig(baseURL string) config.Registry {
	return config.Registry{
		BaseURL: baseURL,
		Token:   "test-token",
		Timeout: 2 * time.Second,
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.Registry{BaseURL: "http://example.com"}, metrics.New())
	require.Error(t, err)

	_, err = New(config.Registry{Token: "tok"}, metrics.New())
	require.Error(t, err)
}

func TestCreate(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "civ-42"})
	}))
	defer srv.Close()

	client, err := New(testConfig(srv.URL), metrics.New())
	require.NoError(t, err)

	id, err := client.Create(context.Background(), map[string]any{"street": "via roma"})
	require.NoError(t, err)

	assert.Equal(t, "civ-42", id)
	assert.Equal(t, "/addresses", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "via roma", gotBody["street"])
}

func TestUpdateAndDelete(t *testing.T) {
	type call struct {
		method string
		path   string
	}
	var calls []call

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{method: r.Method, path: r.URL.Path})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := New(testConfig(srv.URL), metrics.New())
	require.NoError(t, err)

	require.NoError(t, client.Update(context.Background(), "civ-1", map[string]any{"number": 14}))
	require.NoError(t, client.Delete(context.Background(), "civ 2"))

	require.Len(t, calls, 2)
	assert.Equal(t, call{method: http.MethodPut, path: "/addresses/civ-1"}, calls[0])
	// Keys are path-escaped on the wire.
	assert.Equal(t, call{method: http.MethodDelete, path: "/addresses/civ 2"}, calls[1])
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "validation failure", status: http.StatusUnprocessableEntity, transient: false},
		{name: "missing key", status: http.StatusNotFound, transient: false},
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "server error", status: http.StatusInternalServerError, transient: true},
		{name: "bad gateway", status: http.StatusBadGateway, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			}))
			defer srv.Close()

			client, err := New(testConfig(srv.URL), metrics.New())
			require.NoError(t, err)

			err = client.Delete(context.Background(), "civ-1")
			require.Error(t, err)

			var regErr *registry.Error
			require.ErrorAs(t, err, &regErr)
			assert.Equal(t, tt.status, regErr.Status)
			assert.Equal(t, tt.transient, regErr.Transient)
			assert.Contains(t, regErr.Message, tt.name)
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client, err := New(testConfig(srv.URL), metrics.New())
	require.NoError(t, err)

	err = client.Update(context.Background(), "civ-1", map[string]any{"n": 1})
	require.Error(t, err)
	assert.True(t, registry.IsTransient(err))
}

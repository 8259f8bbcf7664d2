package registry

import (
	"context"
	"errors"
	"fmt"
)

// Client is the capability the replay engine needs from a remote address
// registry. Implementations wrap a concrete transport (HTTP, vendor SDK)
// and are swapped without touching the engine. Every call is
// non-transactional and independently retryable.
type Client interface {
	Create(ctx context.Context, fields map[string]any) (string, error)
	Update(ctx context.Context, key string, fields map[string]any) error
	Delete(ctx context.Context, key string) error
}

// Error is a failed registry call. Transient marks conditions worth
// retrying (rate limiting, timeouts, server errors); everything else is
// a permanent rejection.
type Error struct {
	Transient bool
	Status    int
	Message   string
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("registry: %s error (status %d): %s", kind, e.Status, e.Message)
	}
	return fmt.Sprintf("registry: %s error: %s", kind, e.Message)
}

// IsTransient reports whether err is a registry error eligible for retry.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Transient
}

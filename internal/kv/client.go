package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client scopes every key as "<scope>:<key>" and adds JSON helpers on top
// of a Backend.
type Client struct {
	backend Backend
	scope   string
	timeout time.Duration
}

// NewClient creates a scoped client. A positive timeout bounds every backend
// call that arrives without its own deadline.
func NewClient(backend Backend, scope string, timeout time.Duration) *Client {
	return &Client{backend: backend, scope: scope, timeout: timeout}
}

// Key returns the physical key for a logical key.
func (c *Client) Key(key string) string {
	return c.scope + ":" + key
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Get returns the raw value, or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.Get(ctx, c.Key(key))
}

// Set stores a raw value with an optional ttl.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.Set(ctx, c.Key(key), value, ttl)
}

// SetPersistent stores a raw value without expiry.
func (c *Client) SetPersistent(ctx context.Context, key string, value []byte) error {
	return c.Set(ctx, key, value, 0)
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.Delete(ctx, c.Key(key))
}

// GetJSON decodes the value at key into out. It reports false, with a nil
// error, when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := c.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it with ttl, zero meaning no expiry.
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// SetPersistentJSON stores v without expiry.
func (c *Client) SetPersistentJSON(ctx context.Context, key string, v interface{}) error {
	return c.SetJSON(ctx, key, v, 0)
}

// Cached is a read-through JSON cache. Unless invalidate is set, a cached
// value is returned as is; otherwise producer is called and a non-nil
// result is stored with ttl. Nil results are returned but never cached.
func Cached[T any](ctx context.Context, c *Client, key string, ttl time.Duration, invalidate bool, producer func(context.Context) (*T, error)) (*T, error) {
	if !invalidate {
		var cached T
		found, err := c.GetJSON(ctx, key, &cached)
		if err != nil {
			return nil, err
		}
		if found {
			return &cached, nil
		}
	}

	result, err := producer(ctx)
	if err != nil || result == nil {
		return result, err
	}

	if err := c.SetJSON(ctx, key, result, ttl); err != nil {
		return result, fmt.Errorf("cache %s: %w", key, err)
	}
	return result, nil
}

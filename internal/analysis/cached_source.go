package analysis

import (
	"context"
	"fmt"
	"time"

	"stardust/internal/kv"
)

// CachedSource keeps upstream answers in the key-value store so repeated
// operations on the same subject skip the upstream.
type CachedSource struct {
	next   Source
	client *kv.Client
	ttl    time.Duration
}

// NewCachedSource wraps next with a read-through cache.
func NewCachedSource(next Source, client *kv.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, client: client, ttl: ttl}
}

type invalidateKey struct{}

// WithInvalidation makes cached reads under ctx refetch from the upstream.
func WithInvalidation(ctx context.Context) context.Context {
	return context.WithValue(ctx, invalidateKey{}, true)
}

func invalidated(ctx context.Context) bool {
	v, _ := ctx.Value(invalidateKey{}).(bool)
	return v
}

func (c *CachedSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	return c.list(ctx, fmt.Sprintf("search:%s:%d", query, limit), func(ctx context.Context) ([]string, error) {
		return c.next.Search(ctx, query, limit)
	})
}

func (c *CachedSource) Repository(ctx context.Context, fullName string) (*Repo, error) {
	return kv.Cached(ctx, c.client, "repo:"+fullName, c.ttl, invalidated(ctx), func(ctx context.Context) (*Repo, error) {
		return c.next.Repository(ctx, fullName)
	})
}

func (c *CachedSource) Stargazers(ctx context.Context, fullName string, limit int) ([]string, error) {
	return c.list(ctx, fmt.Sprintf("stargazers:%s:%d", fullName, limit), func(ctx context.Context) ([]string, error) {
		return c.next.Stargazers(ctx, fullName, limit)
	})
}

func (c *CachedSource) Starred(ctx context.Context, login string, limit int) ([]string, error) {
	return c.list(ctx, fmt.Sprintf("starred:%s:%d", login, limit), func(ctx context.Context) ([]string, error) {
		return c.next.Starred(ctx, login, limit)
	})
}

func (c *CachedSource) list(ctx context.Context, key string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	names, err := kv.Cached(ctx, c.client, key, c.ttl, invalidated(ctx), func(ctx context.Context) (*[]string, error) {
		names, err := fetch(ctx)
		if err != nil || names == nil {
			return nil, err
		}
		return &names, nil
	})
	if err != nil || names == nil {
		return nil, err
	}
	return *names, nil
}

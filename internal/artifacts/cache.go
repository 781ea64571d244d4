// Package artifacts stores operation outputs, tabular CSV documents and
// opaque JSON blobs, in the key-value store under content-derived keys.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"stardust/internal/exporter"
	"stardust/internal/kv"
	"stardust/pkg/contracts/domain"
)

// KindTabular is the key prefix of CSV artifacts.
const KindTabular = "csv"

// ErrNotFound is returned when an artifact key holds nothing.
var ErrNotFound = errors.New("artifact not found")

// TabularKey names the index-th tabular output of an operation.
func TabularKey(uid string, index int) string {
	return fmt.Sprintf("%s:%s.%d", KindTabular, uid, index)
}

// BlobKey names a JSON blob of the given kind for an operation.
func BlobKey(kind, uid string) string {
	return kind + ":" + uid
}

// OperationUID extracts the operation uid from an artifact key, accepting
// both "<kind>:<uid>" and "<kind>:<uid>.<n>".
func OperationUID(key string) (string, bool) {
	_, rest, ok := strings.Cut(key, ":")
	if !ok || rest == "" {
		return "", false
	}
	uid, suffix, hasIndex := strings.Cut(rest, ".")
	if uid == "" {
		return "", false
	}
	if hasIndex {
		if _, err := strconv.Atoi(suffix); err != nil {
			return "", false
		}
	}
	return uid, true
}

// Artifact is a stored output as read back from the cache.
type Artifact struct {
	Key string
	// Raw is the stored JSON document.
	Raw json.RawMessage
	// CSV holds the decoded text when the artifact is a tabular document.
	CSV []byte
}

// IsTabular reports whether the artifact decoded to CSV text.
func (a *Artifact) IsTabular() bool {
	return a.CSV != nil
}

// Cache reads and writes artifacts. Values never expire.
type Cache struct {
	kv     *kv.Client
	logger *slog.Logger
}

// NewCache creates a new artifact cache
func NewCache(client *kv.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{kv: client, logger: logger.With(slog.String("component", "artifacts"))}
}

// PutTabular converts payload to CSV and stores it under key. The returned
// reference carries the table shape. exporter.ErrEmptyPayload and
// exporter.ErrNotSequence report unusable payloads.
func (c *Cache) PutTabular(ctx context.Context, key, format string, payload interface{}) (domain.OutputRef, error) {
	table, err := exporter.RecordsToCSV(payload)
	if err != nil {
		return domain.OutputRef{}, err
	}

	// CSV text is stored as a JSON string, like every other artifact.
	if err := c.kv.SetPersistentJSON(ctx, key, string(table.Data)); err != nil {
		return domain.OutputRef{}, fmt.Errorf("store %s: %w", key, err)
	}

	ref := domain.OutputRef{
		Format:   format,
		RowCount: table.Rows,
		ColCount: table.Cols,
		ByteSize: len(table.Data),
		CacheKey: key,
	}
	c.logger.InfoContext(ctx, "tabular artifact stored",
		slog.String("key", key),
		slog.Int("rows", ref.RowCount),
		slog.Int("cols", ref.ColCount),
		slog.Int("bytes", ref.ByteSize))
	return ref, nil
}

// PutJSON stores payload as an opaque JSON blob.
func (c *Cache) PutJSON(ctx context.Context, key string, payload interface{}) error {
	if err := c.kv.SetPersistentJSON(ctx, key, payload); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	c.logger.InfoContext(ctx, "json artifact stored", slog.String("key", key))
	return nil
}

// Get loads an artifact. A stored JSON string containing a newline is
// treated as CSV text.
func (c *Cache) Get(ctx context.Context, key string) (*Artifact, error) {
	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{Key: key, Raw: raw}
	var text string
	if json.Unmarshal(raw, &text) == nil && strings.Contains(text, "\n") {
		artifact.CSV = []byte(text)
	}
	return artifact, nil
}

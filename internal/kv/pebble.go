package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// pebbleHeaderLen is the size of the big-endian expiry prefix stored in
// front of every value.
const pebbleHeaderLen = 8

// PebbleBackend keeps keys in an embedded Pebble LSM.
type PebbleBackend struct {
	db  *pebble.DB
	now func() time.Time
}

// NewPebbleBackend opens (or creates) a Pebble store at dir. A nil fs uses
// the operating system filesystem.
func NewPebbleBackend(dir string, fs vfs.FS) (*PebbleBackend, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", dir, err)
	}
	return &PebbleBackend{db: db, now: time.Now}, nil
}

func (p *PebbleBackend) Get(_ context.Context, key string) ([]byte, error) {
	raw, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if len(raw) < pebbleHeaderLen {
		return nil, fmt.Errorf("pebble: corrupt value for %q", key)
	}
	deadline := int64(binary.BigEndian.Uint64(raw[:pebbleHeaderLen]))
	if expired(p.now(), deadline) {
		_ = p.db.Delete([]byte(key), pebble.NoSync)
		return nil, ErrNotFound
	}

	out := make([]byte, len(raw)-pebbleHeaderLen)
	copy(out, raw[pebbleHeaderLen:])
	return out, nil
}

func (p *PebbleBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, pebbleHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf[:pebbleHeaderLen], uint64(expiry(p.now(), ttl)))
	copy(buf[pebbleHeaderLen:], value)

	batch := p.db.NewBatch()
	if err := batch.Set([]byte(key), buf, nil); err != nil {
		_ = batch.Close()
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleBackend) Delete(_ context.Context, key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *PebbleBackend) Ping(context.Context) error {
	_, closer, err := p.db.Get([]byte{0})
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func (p *PebbleBackend) Close() error {
	return p.db.Close()
}

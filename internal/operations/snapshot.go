package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stardust/internal/kv"
	"stardust/pkg/contracts/domain"
)

const (
	// SnapshotKey is the logical key of the persisted operation list.
	SnapshotKey = "state:backend"
	// FormatVersion is the snapshot layout this build reads and writes.
	FormatVersion = 10

	defaultSnapshotTimeout = 10 * time.Second
)

// Snapshot is the persisted document.
type Snapshot struct {
	FormatVersion int                 `json:"formatVersion"`
	Operations    []*domain.Operation `json:"operations"`
}

// storedSnapshot defers operation decoding until migrations have run.
type storedSnapshot struct {
	FormatVersion int                      `json:"formatVersion"`
	Operations    []map[string]interface{} `json:"operations"`
}

// migration rewrites the stored operations of one document in place.
// Storage order is newest first.
type migration func(ops []map[string]interface{})

// migrations lists the fixups applied to documents of each supported
// version, in order.
var migrations = map[int][]migration{
	FormatVersion: {renameOmitStarHistory, renumberMissingSeq},
}

// renameOmitStarHistory turns request.omitStarHistory into its negation,
// request.starsHistory.
func renameOmitStarHistory(ops []map[string]interface{}) {
	for _, op := range ops {
		req, ok := op["request"].(map[string]interface{})
		if !ok {
			continue
		}
		omit, hasOmit := req["omitStarHistory"]
		if !hasOmit {
			continue
		}
		if _, hasStars := req["starsHistory"]; !hasStars {
			req["starsHistory"] = omit != true
		}
		delete(req, "omitStarHistory")
	}
}

// renumberMissingSeq numbers the whole document by storage position when
// any operation lacks a sequence, so the oldest gets 1 and no two share
// one. Documents where every operation has a sequence are left alone.
func renumberMissingSeq(ops []map[string]interface{}) {
	missing := false
	for _, op := range ops {
		if op == nil {
			continue
		}
		if seq, ok := op["seq"].(json.Number); !ok || seq.String() == "0" {
			missing = true
			break
		}
	}
	if !missing {
		return
	}
	for i, op := range ops {
		if op != nil {
			op["seq"] = len(ops) - i
		}
	}
}

// SnapshotStore persists the operation list under SnapshotKey. Saves are
// written in the background and a save that has not started writing is
// skipped when a newer one arrives.
type SnapshotStore struct {
	backend SnapshotBackend
	logger  *slog.Logger
	timeout time.Duration

	generation atomic.Uint64
	writeMu    sync.Mutex
	inflight   sync.WaitGroup
}

// NewSnapshotStore creates a snapshot store on backend.
func NewSnapshotStore(backend SnapshotBackend, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{
		backend: backend,
		logger:  logger.With(slog.String("component", "snapshot")),
		timeout: defaultSnapshotTimeout,
	}
}

// Restore loads the persisted operations, newest first. A missing,
// undecodable or foreign-version document yields an empty list. Operations
// caught mid-run are put back in the queue.
func (s *SnapshotStore) Restore(ctx context.Context) ([]*domain.Operation, error) {
	raw, err := s.backend.Get(ctx, SnapshotKey)
	if errors.Is(err, kv.ErrNotFound) {
		s.logger.InfoContext(ctx, "no snapshot found, starting empty")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var stored storedSnapshot
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&stored); err != nil {
		s.logger.ErrorContext(ctx, "snapshot undecodable, starting empty", slog.String("error", err.Error()))
		return nil, nil
	}
	if stored.FormatVersion != FormatVersion {
		s.logger.WarnContext(ctx, "snapshot version mismatch, skipped",
			slog.Int("stored_version", stored.FormatVersion),
			slog.Int("supported_version", FormatVersion))
		return nil, nil
	}

	for _, m := range migrations[stored.FormatVersion] {
		m(stored.Operations)
	}

	// Re-encode the migrated maps and decode them into the typed model.
	migrated, err := json.Marshal(stored.Operations)
	if err != nil {
		return nil, fmt.Errorf("encode migrated snapshot: %w", err)
	}
	var ops []*domain.Operation
	if err := json.Unmarshal(migrated, &ops); err != nil {
		s.logger.ErrorContext(ctx, "snapshot operations undecodable, starting empty", slog.String("error", err.Error()))
		return nil, nil
	}

	reset := 0
	for _, op := range ops {
		if op == nil || op.Progress.State != domain.StateRunning {
			continue
		}
		op.Progress.State = domain.StateQueued
		op.Progress.StartedAt = 0
		op.Progress.PhaseIndex = 0
		op.Progress.Fraction = 0
		op.Progress.Error = ""
		reset++
	}

	s.logger.InfoContext(ctx, "snapshot restored",
		slog.Int("operations", len(ops)),
		slog.Int("requeued", reset))
	return ops, nil
}

// Save encodes ops now and writes them in the background. Write failures
// are logged only.
func (s *SnapshotStore) Save(ops []*domain.Operation) {
	if ops == nil {
		ops = []*domain.Operation{}
	}
	data, err := json.Marshal(Snapshot{FormatVersion: FormatVersion, Operations: ops})
	if err != nil {
		s.logger.Error("snapshot encode failed", slog.String("error", err.Error()))
		return
	}

	gen := s.generation.Add(1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if s.generation.Load() != gen {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.backend.SetPersistent(ctx, SnapshotKey, data); err != nil {
			s.logger.Error("snapshot write failed",
				slog.String("error", err.Error()),
				slog.Int("bytes", len(data)))
			return
		}
		s.logger.Debug("snapshot written", slog.Int("operations", len(ops)), slog.Int("bytes", len(data)))
	}()
}

// Flush waits for every pending write.
func (s *SnapshotStore) Flush() {
	s.inflight.Wait()
}

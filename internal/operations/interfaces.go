package operations

import (
	"context"

	"stardust/pkg/contracts/domain"
	"stardust/pkg/contracts/events"
)

// Analyzer executes the work of one operation. Analyze blocks until the
// work is finished and reports everything observable through hooks. A
// returned error marks the operation as failed.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.Request, hooks Hooks) error
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, req domain.Request, hooks Hooks) error

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, req domain.Request, hooks Hooks) error {
	return f(ctx, req, hooks)
}

// Hooks is the only way a running analysis may touch its operation.
// Calls made after the operation has completed are ignored.
type Hooks interface {
	// OnProgress merges patch into the operation's progress.
	OnProgress(patch ProgressPatch)
	// OnFunnel appends one funnel entry.
	OnFunnel(entry domain.FunnelEntry)
	// OnFilters appends filter descriptions.
	OnFilters(filters ...string)
	// OnOutput hands over the result of a phase. Only storage failures are
	// returned; unusable payloads are recorded on the operation instead.
	OnOutput(ctx context.Context, phase domain.Phase, payload interface{}) error
}

// ProgressPatch is a partial progress update. Nil fields are left alone.
type ProgressPatch struct {
	PhaseIndex *int
	PhaseCount *int
	Fraction   *float64
	Error      *string
}

// Broadcaster fans a payload out to every connected observer. Payloads are
// encoded before Broadcast returns, so callers may keep mutating them.
type Broadcaster interface {
	Broadcast(channel events.Channel, payload interface{})
}

// Conn is a single observer connection.
type Conn interface {
	Send(channel events.Channel, payload interface{}) error
}

// ArtifactStore persists operation outputs.
type ArtifactStore interface {
	PutTabular(ctx context.Context, key, format string, payload interface{}) (domain.OutputRef, error)
	PutJSON(ctx context.Context, key string, payload interface{}) error
}

// SnapshotBackend reads and writes the raw snapshot document.
type SnapshotBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetPersistent(ctx context.Context, key string, value []byte) error
}

// Int returns a pointer to v, for building patches.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for building patches.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }

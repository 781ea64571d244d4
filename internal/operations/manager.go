package operations

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"stardust/pkg/contracts/domain"
	"stardust/pkg/contracts/events"
)

// Options tunes a Manager.
type Options struct {
	// MaxActive caps operations that are not done. Zero means DefaultMaxActive.
	MaxActive int
	// Development turns scheduler invariant violations into panics.
	Development bool
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// Manager owns the queue, the scheduler and the live server status. One
// mutex guards all of them; analyses run on their own goroutines and reach
// back only through Hooks.
type Manager struct {
	mu       sync.Mutex
	queue    *Queue
	notifier *Notifier
	current  *run
	started  bool
	baseCtx  context.Context

	analyzer  Analyzer
	artifacts ArtifactStore
	snapshots *SnapshotStore

	development bool
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *Metrics
	now         func() time.Time

	runs sync.WaitGroup
}

// NewManager wires a manager. Nothing runs until Start.
func NewManager(analyzer Analyzer, artifacts ArtifactStore, snapshots SnapshotBackend, out Broadcaster, opts Options) (*Manager, error) {
	if analyzer == nil {
		return nil, errors.New("operations: analyzer is required")
	}
	if artifacts == nil {
		return nil, errors.New("operations: artifact store is required")
	}
	if snapshots == nil {
		return nil, errors.New("operations: snapshot backend is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = defaultTracer()
	}
	metrics, err := NewMetrics(opts.Meter)
	if err != nil {
		return nil, err
	}

	return &Manager{
		queue:       NewQueue(opts.MaxActive),
		notifier:    NewNotifier(out),
		baseCtx:     context.Background(),
		analyzer:    analyzer,
		artifacts:   artifacts,
		snapshots:   NewSnapshotStore(snapshots, logger),
		development: opts.Development,
		logger:      logger.With(slog.String("component", "operations")),
		tracer:      tracer,
		metrics:     metrics,
		now:         time.Now,
	}, nil
}

// Start restores the persisted queue and starts the first eligible
// operation. A failed read of the store aborts startup; an unusable
// document does not.
func (m *Manager) Start(ctx context.Context) error {
	ops, err := m.snapshots.Restore(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("operations: manager already started")
	}
	m.queue.Load(ops)
	m.started = true
	m.baseCtx = context.WithoutCancel(ctx)

	m.logger.InfoContext(ctx, "operation manager started",
		slog.Int("operations", m.queue.Len()),
		slog.Int("active", m.queue.ActiveCount()))

	m.notifier.BroadcastStatus(StatusPatch{QueueFull: Bool(m.queue.IsSaturated())})
	m.startNextLocked()
	return nil
}

// Submit queues a new operation and starts it when the scheduler is idle.
// The returned operation is a copy taken at admission.
func (m *Manager) Submit(ctx context.Context, req domain.Request, submitterID string) (*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.submitLocked(ctx, req, submitterID, false)
	if err != nil {
		return nil, err
	}
	admitted := op.Clone()

	m.notifier.BroadcastList(m.queue.Operations())
	m.notifier.BroadcastStatus(StatusPatch{QueueFull: Bool(m.queue.IsSaturated())})
	m.saveLocked()
	if m.current == nil {
		m.startNextLocked()
	}
	return admitted, nil
}

func (m *Manager) submitLocked(ctx context.Context, req domain.Request, submitterID string, bypass bool) (*domain.Operation, error) {
	op, err := m.queue.Submit(req, submitterID, bypass)
	if err != nil {
		m.metrics.recordRejected(ctx, GetErrorType(err))
		m.logger.WarnContext(ctx, "submission rejected",
			slog.String("submitter", submitterID),
			slog.String("error", err.Error()))
		return nil, err
	}
	m.metrics.recordSubmitted(ctx, op.Request)
	m.logger.InfoContext(ctx, "operation queued",
		slog.String("uid", op.UID),
		slog.Uint64("seq", op.Seq),
		slog.String("query", op.Request.OpQuery),
		slog.String("submitter", submitterID))
	return op, nil
}

// Delete removes a queued or finished operation.
func (m *Manager) Delete(ctx context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.queue.Delete(uid); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "operation deleted", slog.String("uid", uid))

	m.notifier.BroadcastList(m.queue.Operations())
	m.notifier.BroadcastStatus(StatusPatch{QueueFull: Bool(m.queue.IsSaturated())})
	m.saveLocked()
	return nil
}

// Find returns a copy of the operation with uid.
func (m *Manager) Find(uid string) (*domain.Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := m.queue.Find(uid)
	if op == nil {
		return nil, false
	}
	return op.Clone(), true
}

// List returns copies of every operation, newest first.
func (m *Manager) List() []*domain.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// Status returns the live server status.
func (m *Manager) Status() domain.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifier.Status()
}

// ClientConnected counts a new observer and sends it the whole list.
func (m *Manager) ClientConnected(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := m.notifier.Status().ConnectedClients + 1
	m.notifier.BroadcastStatus(StatusPatch{ConnectedClients: &clients})
	if err := conn.Send(events.ChannelList, m.queue.Operations()); err != nil {
		m.logger.Warn("initial list not delivered", slog.String("error", err.Error()))
	}
}

// ClientDisconnected uncounts an observer.
func (m *Manager) ClientDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := m.notifier.Status().ConnectedClients - 1
	if clients < 0 {
		clients = 0
	}
	m.notifier.BroadcastStatus(StatusPatch{ConnectedClients: &clients})
}

// Shutdown writes a final snapshot and waits for pending writes. Running
// analyses are not interrupted; a restart puts them back in the queue.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.saveLocked()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.snapshots.Flush()
		close(done)
	}()
	select {
	case <-done:
		m.logger.InfoContext(ctx, "operation manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started analysis has completed.
func (m *Manager) Wait() {
	m.runs.Wait()
}

func (m *Manager) saveLocked() {
	m.snapshots.Save(m.queue.Operations())
}

package operations

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stardust/internal/infrastructure"
	"stardust/pkg/contracts/domain"
)

// startNextLocked starts the queued operation submitted first. Callers
// must hold m.mu and only call it while the scheduler is idle.
func (m *Manager) startNextLocked() {
	if !m.started {
		return
	}
	if m.current != nil {
		m.invariantViolation("start requested while an operation is running",
			slog.String("running_uid", m.current.op.UID))
		return
	}

	op := m.queue.EligibleForStart()
	if op == nil {
		m.logger.Debug("no queued operations", slog.Int("total", m.queue.Len()))
		return
	}

	now := m.now()
	op.Progress.State = domain.StateRunning
	op.Progress.StartedAt = now.Unix()
	r := &run{m: m, op: op, startedAt: now, nextOutput: len(op.Outputs)}
	m.current = r

	m.logger.Info("operation started",
		slog.String("uid", op.UID),
		slog.Uint64("seq", op.Seq),
		slog.String("query", op.Request.OpQuery))

	m.notifier.BroadcastStatus(StatusPatch{IsRunning: Bool(true)})
	m.notifier.BroadcastOperation(op)
	m.saveLocked()

	m.runs.Add(1)
	go m.execute(r, op.Clone())
}

// execute runs the analysis for r. snapshot is a private copy of the
// operation taken at start.
func (m *Manager) execute(r *run, snapshot *domain.Operation) {
	defer m.runs.Done()

	ctx := infrastructure.WithTraceID(m.baseCtx, infrastructure.GenerateTraceID())
	ctx, span := m.tracer.Start(ctx, "operation.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(operationAttributes(snapshot)...))
	defer span.End()
	m.metrics.recordStarted(ctx)

	err := m.analyze(ctx, snapshot.Request, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	m.complete(ctx, r, err)
}

// analyze calls the analyzer, turning a panic into an error.
func (m *Manager) analyze(ctx context.Context, req domain.Request, hooks Hooks) (err error) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.ErrorContext(ctx, "analysis panicked",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("analysis panicked: %v", p)
		}
	}()
	return m.analyzer.Analyze(ctx, req, hooks)
}

// complete finalizes r and chains the next operation.
func (m *Manager) complete(ctx context.Context, r *run, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := r.op
	r.closed = true
	now := m.now()
	op.Progress.State = domain.StateDone
	op.Progress.EndedAt = now.Unix()
	elapsed := now.Sub(r.startedAt)

	if err != nil {
		op.Progress.Error = err.Error()
		m.logger.ErrorContext(ctx, "operation failed",
			slog.String("uid", op.UID),
			slog.String("query", op.Request.OpQuery),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	} else {
		m.logger.InfoContext(ctx, "operation complete",
			slog.String("uid", op.UID),
			slog.String("query", op.Request.OpQuery),
			slog.Duration("elapsed", elapsed))
	}
	m.metrics.recordCompleted(ctx, elapsed, err != nil)

	m.notifier.BroadcastOperation(op)
	m.saveLocked()

	if m.current == r {
		m.current = nil
	}
	m.notifier.BroadcastStatus(StatusPatch{
		IsRunning: Bool(false),
		QueueFull: Bool(m.queue.IsSaturated()),
	})
	m.startNextLocked()
}

// invariantViolation reports scheduler misuse. It panics in development.
func (m *Manager) invariantViolation(msg string, attrs ...any) {
	if m.development {
		panic("operations: " + msg)
	}
	m.logger.Error("scheduler invariant violated: "+msg, attrs...)
}

package operations

import (
	"context"
	"log/slog"

	"stardust/pkg/contracts/domain"
)

// AdminReseed resubmits every operation that is not running.
const AdminReseed = "reseed"

// Reseed deletes every non-running operation and submits its request
// again, oldest first, ignoring the admission limit. It returns the number
// of operations resubmitted.
func (m *Manager) Reseed(ctx context.Context, submitterID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := m.queue.Operations()
	requests := make([]domain.Request, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.Progress.State == domain.StateRunning {
			continue
		}
		if err := m.queue.Delete(op.UID); err != nil {
			return 0, err
		}
		req := op.Clone().Request
		requests = append(requests, req)
	}

	resubmitted := 0
	for _, req := range requests {
		if _, err := m.submitLocked(ctx, req, submitterID, true); err != nil {
			m.logger.WarnContext(ctx, "reseed dropped a request",
				slog.String("query", req.OpQuery),
				slog.String("error", err.Error()))
			continue
		}
		resubmitted++
	}

	m.logger.InfoContext(ctx, "queue reseeded",
		slog.Int("resubmitted", resubmitted),
		slog.String("submitter", submitterID))

	m.notifier.BroadcastList(m.queue.Operations())
	m.notifier.BroadcastStatus(StatusPatch{QueueFull: Bool(m.queue.IsSaturated())})
	m.saveLocked()
	if m.current == nil {
		m.startNextLocked()
	}
	return resubmitted, nil
}

// ExecuteAdmin runs the named admin operation.
func (m *Manager) ExecuteAdmin(ctx context.Context, name, submitterID string) error {
	switch name {
	case AdminReseed:
		_, err := m.Reseed(ctx, submitterID)
		return err
	default:
		m.logger.WarnContext(ctx, "unsupported admin operation", slog.String("name", name))
		return &OperationError{
			Type:    ErrorTypeUnsupported,
			Message: "admin operation not supported: " + name,
		}
	}
}

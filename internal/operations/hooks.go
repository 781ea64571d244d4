package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"stardust/internal/artifacts"
	"stardust/internal/exporter"
	"stardust/pkg/contracts/domain"
)

// outputPolicy says how the output of a phase is kept.
type outputPolicy struct {
	// tabular outputs are converted to CSV and listed on the operation.
	tabular bool
	// kind is the key prefix of non-tabular outputs.
	kind string
	// format is recorded on the operation's output entry.
	format string
}

// outputPolicies lists the phases whose outputs are kept.
var outputPolicies = map[domain.Phase]outputPolicy{
	domain.PhaseTopicsStats: {kind: "topics"},
	domain.PhaseStats:       {tabular: true, format: "csv-stats"},
}

// run is the Hooks handed to one analysis. Its fields are guarded by the
// manager mutex.
type run struct {
	m          *Manager
	op         *domain.Operation
	startedAt  time.Time
	nextOutput int
	closed     bool
}

var _ Hooks = (*run)(nil)

func (r *run) OnProgress(patch ProgressPatch) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.closed {
		return
	}

	progress := &r.op.Progress
	milestone := false
	if patch.PhaseIndex != nil && *patch.PhaseIndex != progress.PhaseIndex {
		progress.PhaseIndex = *patch.PhaseIndex
		milestone = true
	}
	if patch.PhaseCount != nil {
		progress.PhaseCount = *patch.PhaseCount
	}
	if patch.Fraction != nil {
		progress.Fraction = clampFraction(*patch.Fraction)
	}
	if patch.Error != nil {
		progress.Error = *patch.Error
	}

	m.notifier.BroadcastOperation(r.op)
	if milestone {
		m.saveLocked()
	}
}

func (r *run) OnFunnel(entry domain.FunnelEntry) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.closed {
		return
	}
	r.op.Funnel = append(r.op.Funnel, entry)
	m.notifier.BroadcastOperation(r.op)
}

func (r *run) OnFilters(filters ...string) {
	if len(filters) == 0 {
		return
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.closed {
		return
	}
	r.op.Filters = append(r.op.Filters, filters...)
	m.notifier.BroadcastOperation(r.op)
}

func (r *run) OnOutput(ctx context.Context, phase domain.Phase, payload interface{}) error {
	policy, ok := outputPolicies[phase]
	if !ok {
		return nil
	}
	m := r.m

	// Reserve the key under the lock, store outside it.
	m.mu.Lock()
	if r.closed {
		m.mu.Unlock()
		return nil
	}
	uid := r.op.UID
	var key string
	index := r.nextOutput
	if policy.tabular {
		key = artifacts.TabularKey(uid, index)
		r.nextOutput++
	} else {
		key = artifacts.BlobKey(policy.kind, uid)
	}
	m.mu.Unlock()

	if !policy.tabular {
		if err := m.artifacts.PutJSON(ctx, key, payload); err != nil {
			return fmt.Errorf("store %s output: %w", phase, err)
		}
		return nil
	}

	ref, err := m.artifacts.PutTabular(ctx, key, policy.format, payload)
	if err != nil {
		r.releaseOutput(index)
	}
	if errors.Is(err, exporter.ErrEmptyPayload) || errors.Is(err, exporter.ErrNotSequence) {
		m.logger.WarnContext(ctx, "unusable output payload",
			slog.String("uid", uid),
			slog.String("phase", phase.String()),
			slog.String("error", err.Error()))
		m.mu.Lock()
		defer m.mu.Unlock()
		if !r.closed {
			r.op.Progress.Error = fmt.Sprintf("Insufficient data or other data issue (%d)", phase)
			m.notifier.BroadcastOperation(r.op)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store %s output: %w", phase, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r.closed {
		return nil
	}
	r.op.Outputs = append(r.op.Outputs, ref)
	m.notifier.BroadcastOperation(r.op)
	m.saveLocked()
	return nil
}

// releaseOutput gives back a tabular index that produced no output, so the
// next output keeps its key in step with its position in Outputs.
func (r *run) releaseOutput(index int) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.nextOutput == index+1 {
		r.nextOutput = index
	}
}

func clampFraction(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

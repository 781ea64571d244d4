package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stardust/internal/config"
	"stardust/internal/operations"
	"stardust/internal/shared/testutil"
	"stardust/pkg/contracts/domain"
)

// recordingHooks captures everything a pipeline reports.
type recordingHooks struct {
	mu       sync.Mutex
	progress domain.Progress
	funnel   []domain.FunnelEntry
	filters  []string
	outputs  map[domain.Phase]interface{}
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{outputs: make(map[domain.Phase]interface{})}
}

func (h *recordingHooks) OnProgress(patch operations.ProgressPatch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if patch.PhaseIndex != nil {
		h.progress.PhaseIndex = *patch.PhaseIndex
	}
	if patch.PhaseCount != nil {
		h.progress.PhaseCount = *patch.PhaseCount
	}
	if patch.Fraction != nil {
		h.progress.Fraction = *patch.Fraction
	}
}

func (h *recordingHooks) OnFunnel(entry domain.FunnelEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funnel = append(h.funnel, entry)
}

func (h *recordingHooks) OnFilters(filters ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filters = append(h.filters, filters...)
}

func (h *recordingHooks) OnOutput(_ context.Context, phase domain.Phase, payload interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs[phase] = payload
	return nil
}

func (h *recordingHooks) rows(t *testing.T) []StatsRow {
	t.Helper()
	rows, ok := h.outputs[domain.PhaseStats].([]StatsRow)
	require.True(t, ok, "stats output missing")
	return rows
}

func newTestPipeline(t *testing.T, stages ...Stage) *Pipeline {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewPipeline(config.AnalysisConfig{Parallelism: 4}, NewSampleSource(), logger, stages...)
}

func relatedRequest() domain.Request {
	return domain.Request{
		OpCode:            domain.OpCodeRelated,
		OpQuery:           "golang/go",
		MaxResults:        50,
		LimitStarsPerUser: 30,
	}
}

func TestPipeline_RelatedRepository(t *testing.T) {
	hooks := newRecordingHooks()
	require.NoError(t, newTestPipeline(t).Analyze(t.Context(), relatedRequest(), hooks))

	assert.Equal(t, 6, hooks.progress.PhaseCount)
	assert.Equal(t, 6, hooks.progress.PhaseIndex)
	assert.InDelta(t, 1.0, hooks.progress.Fraction, 1e-9)

	stages := make([]string, 0, len(hooks.funnel))
	for _, f := range hooks.funnel {
		stages = append(stages, f.Stage)
	}
	assert.Equal(t, []string{"input", "stargazers", "comparisons", "skim", "augment"}, stages)
	assert.Contains(t, hooks.filters, "shared stargazers >= 2")

	rows := hooks.rows(t)
	require.NotEmpty(t, rows)
	assert.LessOrEqual(t, len(rows), 50)
	assert.True(t, sort.SliceIsSorted(rows, func(i, j int) bool {
		return rows[i].SharedStargazers > rows[j].SharedStargazers
	}))
	for _, r := range rows {
		assert.NotEqual(t, "golang/go", r.Repo)
		assert.GreaterOrEqual(t, r.SharedStargazers, 2)
		assert.Nil(t, r.StarsPerYear)
	}

	topics, ok := hooks.outputs[domain.PhaseTopicsStats].(TopicsStats)
	require.True(t, ok)
	assert.NotEmpty(t, topics.Languages)
}

func TestPipeline_Deterministic(t *testing.T) {
	first, second := newRecordingHooks(), newRecordingHooks()
	require.NoError(t, newTestPipeline(t).Analyze(t.Context(), relatedRequest(), first))
	require.NoError(t, newTestPipeline(t).Analyze(t.Context(), relatedRequest(), second))

	assert.Equal(t, first.rows(t), second.rows(t))
	assert.Equal(t, first.funnel, second.funnel)
}

func TestPipeline_StarsHistory(t *testing.T) {
	req := relatedRequest()
	req.StarsHistory = true

	hooks := newRecordingHooks()
	require.NoError(t, newTestPipeline(t).Analyze(t.Context(), req, hooks))

	for _, r := range hooks.rows(t) {
		require.NotNil(t, r.StarsPerYear)
		assert.Positive(t, *r.StarsPerYear)
	}
}

func TestPipeline_QueryMode(t *testing.T) {
	hooks := newRecordingHooks()
	req := domain.Request{OpCode: domain.OpCodeQuery, OpQuery: "Machine Learning", MaxResults: 20, LimitStarsPerUser: 10}
	require.NoError(t, newTestPipeline(t).Analyze(t.Context(), req, hooks))

	require.NotEmpty(t, hooks.funnel)
	assert.Equal(t, "search", hooks.funnel[0].Source)
	assert.GreaterOrEqual(t, hooks.funnel[0].Size, 3)
}

func TestPipeline_UnknownRepository(t *testing.T) {
	hooks := newRecordingHooks()
	req := relatedRequest()
	req.OpQuery = "not-a-repository"

	err := newTestPipeline(t).Analyze(t.Context(), req, hooks)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRepoNotFound)
	assert.Empty(t, hooks.outputs)
}

func TestPipeline_StageFailureStops(t *testing.T) {
	boom := errors.New("upstream exploded")
	var reached bool
	p := newTestPipeline(t,
		StageFunc(domain.PhaseResolveInput, func(context.Context, *Run) error { return nil }),
		StageFunc(domain.PhaseResolveComparisons, func(context.Context, *Run) error { return boom }),
		StageFunc(domain.PhaseStats, func(context.Context, *Run) error {
			reached = true
			return nil
		}),
	)

	hooks := newRecordingHooks()
	err := p.Analyze(t.Context(), relatedRequest(), hooks)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), domain.PhaseResolveComparisons.String())
	assert.False(t, reached)
	assert.Equal(t, 3, hooks.progress.PhaseCount)
	assert.Equal(t, 2, hooks.progress.PhaseIndex)
	assert.InDelta(t, 1.0/3, hooks.progress.Fraction, 1e-9)
}

func TestRun_ForEachBoundsParallelism(t *testing.T) {
	run := &Run{parallelism: 2}

	var active, peak atomic.Int32
	err := run.ForEach(t.Context(), 10, func(context.Context, int) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_ForEachReturnsFirstError(t *testing.T) {
	run := &Run{parallelism: 3}
	boom := errors.New("boom")

	err := run.ForEach(t.Context(), 5, func(_ context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

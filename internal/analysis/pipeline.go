package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stardust/internal/config"
	"stardust/internal/operations"
	"stardust/pkg/contracts/domain"
)

// Stage is one step of the pipeline.
type Stage interface {
	Phase() domain.Phase
	Run(ctx context.Context, run *Run) error
}

// StageFunc adapts a function to the Stage interface.
func StageFunc(phase domain.Phase, fn func(ctx context.Context, run *Run) error) Stage {
	return stageFunc{phase: phase, fn: fn}
}

type stageFunc struct {
	phase domain.Phase
	fn    func(ctx context.Context, run *Run) error
}

func (s stageFunc) Phase() domain.Phase                     { return s.phase }
func (s stageFunc) Run(ctx context.Context, run *Run) error { return s.fn(ctx, run) }

// Run is the state of one analysis, shared by its stages.
type Run struct {
	Request domain.Request
	Hooks   operations.Hooks
	Source  Source
	Logger  *slog.Logger

	limiter     *rate.Limiter
	parallelism int

	// working set handed from stage to stage
	subjects   []string
	stargazers []string
	counts     map[string]int
	candidates []string
	repos      []*Repo
}

// Wait blocks until the upstream limiter admits one more call.
func (r *Run) Wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// ForEach calls fn for every index in [0, n) with bounded parallelism.
// The first error cancels the rest.
func (r *Run) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.parallelism, 1))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

// Pipeline runs its stages in order. It implements operations.Analyzer.
type Pipeline struct {
	stages      []Stage
	source      Source
	limiter     *rate.Limiter
	parallelism int
	tracer      trace.Tracer
	logger      *slog.Logger
}

var _ operations.Analyzer = (*Pipeline)(nil)

// NewPipeline creates a pipeline over source. With no stages the default
// stage set is used.
func NewPipeline(cfg config.AnalysisConfig, source Source, logger *slog.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if len(stages) == 0 {
		stages = DefaultStages()
	}

	limit := rate.Inf
	if cfg.UpstreamRPS > 0 {
		limit = rate.Limit(cfg.UpstreamRPS)
	}
	return &Pipeline{
		stages:      stages,
		source:      source,
		limiter:     rate.NewLimiter(limit, max(cfg.UpstreamBurst, 1)),
		parallelism: max(cfg.Parallelism, 1),
		tracer:      otel.Tracer("stardust.analysis"),
		logger:      logger.With(slog.String("component", "analysis")),
	}
}

// Analyze runs every stage against req, reporting progress after each.
func (p *Pipeline) Analyze(ctx context.Context, req domain.Request, hooks operations.Hooks) error {
	ctx, span := p.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("op_query", req.OpQuery),
		attribute.Int("op_code", int(req.OpCode)),
	))
	defer span.End()

	run := &Run{
		Request:     req,
		Hooks:       hooks,
		Source:      p.source,
		Logger:      p.logger.With(slog.String("op_query", req.OpQuery)),
		limiter:     p.limiter,
		parallelism: p.parallelism,
		counts:      make(map[string]int),
	}

	total := len(p.stages)
	hooks.OnProgress(operations.ProgressPatch{
		PhaseIndex: operations.Int(0),
		PhaseCount: operations.Int(total),
		Fraction:   operations.Float(0),
	})

	start := time.Now()
	for i, stage := range p.stages {
		hooks.OnProgress(operations.ProgressPatch{PhaseIndex: operations.Int(i + 1)})

		stageStart := time.Now()
		if err := p.runStage(ctx, stage, run); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			run.Logger.WarnContext(ctx, "analysis stage failed",
				slog.String("phase", stage.Phase().String()),
				slog.String("error", err.Error()))
			return fmt.Errorf("%s: %w", stage.Phase(), err)
		}
		run.Logger.DebugContext(ctx, "analysis stage completed",
			slog.String("phase", stage.Phase().String()),
			slog.Duration("duration", time.Since(stageStart)))

		hooks.OnProgress(operations.ProgressPatch{Fraction: operations.Float(float64(i+1) / float64(total))})
	}

	run.Logger.InfoContext(ctx, "analysis completed",
		slog.Int("results", len(run.repos)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, run *Run) error {
	ctx, span := p.tracer.Start(ctx, "analysis."+stage.Phase().String())
	defer span.End()
	return stage.Run(ctx, run)
}

// Package migration runs a full graph-to-relational migration: plan, create
// tables, bulk copy, then melt matrix files.
package migration

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/copier"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/melting"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/source"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Destination is the relational store a run writes to.
type Destination interface {
	copier.Sink
	melting.Sink
	CreateTables(ctx context.Context, tables []*schema.Table) error
}

// RunStore persists run summaries as they progress.
type RunStore interface {
	Save(ctx context.Context, summary *models.RunSummary) error
}

type Config struct {
	Planner schema.Options
	Copy    copier.Config
	Melt    melting.Config
	// SkipMelt stops after the bulk copy.
	SkipMelt bool
}

// Runner orchestrates migration runs
type Runner struct {
	logger ectologger.Logger
	source source.Store
	dest   Destination
	files  melting.FileSource
	runs   RunStore
	config Config
}

// NewRunner creates a new migration runner. runs may be nil.
func NewRunner(logger ectologger.Logger, src source.Store, dest Destination, files melting.FileSource, runs RunStore, config Config) *Runner {
	return &Runner{
		logger: logger,
		source: src,
		dest:   dest,
		files:  files,
		runs:   runs,
		config: config,
	}
}

// Plan reads the source's descriptors and plans the destination layout.
func (r *Runner) Plan(ctx context.Context) (*schema.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "migration.Runner.Plan")
	defer span.End()

	descriptors, err := r.source.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	return schema.NewPlanner(r.logger, r.config.Planner).Plan(ctx, descriptors)
}

// Run executes one migration. The summary is returned even on failure and
// its Err combines every recorded failure.
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := models.NewRunSummary()
	ctx = appctx.SetRunID(ctx, summary.ID.String())
	ctx, span := tracing.StartSpan(ctx, "migration.Runner.Run", attribute.String("run_id", summary.ID.String()))
	defer span.End()
	start := time.Now()
	log := r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": summary.ID.String()})
	log.Info("Migration run started")
	r.save(ctx, summary)

	defer func() {
		summary.Finish()
		r.save(context.WithoutCancel(ctx), summary)
		metrics.RunDuration.WithLabelValues(string(summary.CurrentStatus())).Observe(time.Since(start).Seconds())
		log.WithFields(map[string]any{
			"status":     summary.CurrentStatus(),
			"tables":     len(summary.Tables()),
			"failures":   len(summary.FailureList()),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Info("Migration run finished")
	}()

	plan, err := r.Plan(ctx)
	if err != nil {
		r.fail(summary, "plan", err)
		return summary, summary.Err()
	}
	log.WithFields(map[string]any{"tables": len(plan.Tables), "facts": len(plan.Facts)}).Info("Planned destination schema")

	if err := r.dest.CreateTables(ctx, plan.Tables); err != nil {
		r.fail(summary, "create_tables", err)
		return summary, summary.Err()
	}

	allocator := identity.NewAllocator()
	if err := copier.NewCopier(r.logger, r.source, r.dest, allocator, r.config.Copy).CopyAll(ctx, plan, summary); err != nil {
		// per-collection failures are already on the summary
		log.WithError(err).Warn("Bulk copy finished with failures")
	}
	if ctx.Err() != nil {
		r.fail(summary, "copy", ctx.Err())
		return summary, summary.Err()
	}

	if !r.config.SkipMelt && len(plan.Facts) > 0 {
		melter := melting.NewMelter(r.logger, r.source, r.files, r.dest, r.config.Melt)
		if err := melter.MeltAll(ctx, plan, summary); err != nil {
			r.fail(summary, "melt", err)
		}
	}
	return summary, summary.Err()
}

func (r *Runner) fail(summary *models.RunSummary, stage string, err error) {
	f := models.Failure{Stage: stage, Err: err}
	if kgErr, ok := kgerrors.As(err); ok {
		f.Kind = string(kgErr.Kind)
		f.Collection = kgErr.Collection
		f.Table = kgErr.Table
	}
	summary.AddFailure(f)
}

func (r *Runner) save(ctx context.Context, summary *models.RunSummary) {
	if r.runs == nil {
		return
	}
	if err := r.runs.Save(ctx, summary); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to save migration run")
	}
}

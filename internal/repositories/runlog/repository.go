package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const table = "migration_runs"

var columns = []string{"id", "status", "started_at", "finished_at", "table_counts", "failures"}

// Run is a persisted migration run summary.
type Run struct {
	ID          string                          `db:"id" json:"id"`
	Status      models.RunStatus                `db:"status" json:"status"`
	StartedAt   time.Time                       `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time                      `db:"finished_at" json:"finished_at,omitempty"`
	TableCounts database.JSON[map[string]int64] `db:"table_counts" json:"table_counts"`
	Failures    database.JSON[[]models.Failure] `db:"failures" json:"failures"`
}

// Repository handles run log persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new run log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the current state of a run summary.
func (r *Repository) Save(ctx context.Context, summary *models.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "runlog.Repository.Save")
	defer span.End()

	run := FromSummary(summary)
	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(run.ID, string(run.Status), run.StartedAt, run.FinishedAt, run.TableCounts, run.Failures)
	database.OnConflictUpdate(ib, []string{"id"}, []string{"status", "finished_at", "table_counts", "failures"})

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to save migration run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save migration run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": run.ID, "status": run.Status}).Debug("Saved migration run")
	return nil
}

// Get retrieves a run by ID
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	ctx, span := tracing.StartSpan(ctx, "runlog.Repository.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid run id %s", id))
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...).From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run Run
	if err := r.db.Executor(ctx).GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("migration run %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get migration run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get migration run")
	}
	return &run, nil
}

// List returns the most recent runs first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Run, error) {
	ctx, span := tracing.StartSpan(ctx, "runlog.Repository.List")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...).From(table)
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	runs := []Run{}
	if err := r.db.Executor(ctx).SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list migration runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list migration runs")
	}
	return runs, nil
}

// FromSummary snapshots a summary into its persisted form.
func FromSummary(s *models.RunSummary) Run {
	tables := s.Tables()
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		counts[t] = s.Count(t)
	}
	return Run{
		ID:          s.ID.String(),
		Status:      s.CurrentStatus(),
		StartedAt:   s.StartedAt,
		FinishedAt:  s.Finished(),
		TableCounts: database.NewJSON(counts),
		Failures:    database.NewJSON(s.FailureList()),
	}
}

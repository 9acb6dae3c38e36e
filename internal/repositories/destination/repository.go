package destination

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultInsertBatchSize caps rows per INSERT statement.
const DefaultInsertBatchSize = 1000

// Repository reads and writes the planned tables of the relational destination.
// Every statement runs on the transaction open in ctx, if any.
type Repository struct {
	db        database.DB
	logger    ectologger.Logger
	batchSize int
}

// NewRepository creates a destination repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:        db,
		logger:    logger,
		batchSize: DefaultInsertBatchSize,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

func (r *Repository) quote(name string) string {
	return r.db.Flavor().Quote(name)
}

func (r *Repository) quoteAll(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = r.quote(n)
	}
	return quoted
}

// CreateTables creates every table in order, skipping the ones that exist.
func (r *Repository) CreateTables(ctx context.Context, tables []*schema.Table) error {
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.CreateTables", attribute.Int("tables", len(tables)))
	defer span.End()

	exec := r.db.Executor(ctx)
	for _, t := range tables {
		for _, stmt := range schema.CreateTable(r.db.Flavor(), t) {
			if _, err := exec.ExecContext(ctx, stmt); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": t.Name}).Error("Failed to create table")
				return kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to create table").WithTable(t.Name)
			}
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"tables": len(tables)}).Info("Created destination tables")
	return nil
}

// Insert writes rows with multi-row INSERT statements sized to the dialect's
// bind-parameter limit.
func (r *Repository) Insert(ctx context.Context, table string, columns []string, rows []models.Record) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.Insert",
		attribute.String("table", table), attribute.Int("rows", len(rows)))
	defer span.End()

	exec := r.db.Executor(ctx)
	perStatement := database.RowsPerStatement(r.db.Flavor(), len(columns), r.batchSize)
	quotedCols := r.quoteAll(columns)

	var inserted int64
	for start := 0; start < len(rows); start += perStatement {
		end := start + perStatement
		if end > len(rows) {
			end = len(rows)
		}

		ib := r.db.Flavor().NewInsertBuilder()
		ib.InsertInto(r.quote(table))
		ib.Cols(quotedCols...)
		for _, row := range rows[start:end] {
			ib.Values(row.Values(columns)...)
		}

		query, args := ib.Build()
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to insert rows")
			return inserted, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to insert rows").WithTable(table)
		}
		inserted += int64(end - start)
	}
	return inserted, nil
}

// FindByKeys loads the rows whose keyColumns match one of keys.
func (r *Repository) FindByKeys(ctx context.Context, table string, keyColumns []string, keys []models.Record) ([]models.Record, error) {
	if len(keys) == 0 || len(keyColumns) == 0 {
		return nil, nil
	}
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.FindByKeys",
		attribute.String("table", table), attribute.Int("keys", len(keys)))
	defer span.End()

	exec := r.db.Executor(ctx)
	perStatement := database.RowsPerStatement(r.db.Flavor(), len(keyColumns), r.batchSize)

	var found []models.Record
	for start := 0; start < len(keys); start += perStatement {
		end := start + perStatement
		if end > len(keys) {
			end = len(keys)
		}

		sb := r.db.Flavor().NewSelectBuilder()
		sb.Select("*").From(r.quote(table))
		if len(keyColumns) == 1 {
			values := make([]any, 0, end-start)
			for _, k := range keys[start:end] {
				values = append(values, k[keyColumns[0]])
			}
			sb.Where(sb.In(r.quote(keyColumns[0]), values...))
		} else {
			conds := make([]string, 0, end-start)
			for _, k := range keys[start:end] {
				parts := make([]string, len(keyColumns))
				for i, c := range keyColumns {
					parts[i] = sb.Equal(r.quote(c), k[c])
				}
				conds = append(conds, sb.And(parts...))
			}
			sb.Where(sb.Or(conds...))
		}

		rows, err := r.queryRecords(ctx, exec, sb)
		if err != nil {
			return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to load existing rows").WithTable(table)
		}
		found = append(found, rows...)
	}
	return found, nil
}

func (r *Repository) queryRecords(ctx context.Context, exec database.Executor, sb *sqlbuilder.SelectBuilder) ([]models.Record, error) {
	query, args := sb.Build()
	rows, err := exec.QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query rows")
		return nil, err
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		record := make(models.Record, len(row))
		for k, v := range row {
			record[k] = models.NormalizeValue(v)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Change is one row's changed columns, addressed by its key values.
type Change struct {
	Key models.Record
	Set models.Record
}

// UpdateChanged writes only the changed columns of each row.
func (r *Repository) UpdateChanged(ctx context.Context, table string, keyColumns []string, changes []Change) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.UpdateChanged",
		attribute.String("table", table), attribute.Int("rows", len(changes)))
	defer span.End()

	exec := r.db.Executor(ctx)
	var updated int64
	for _, change := range changes {
		if len(change.Set) == 0 {
			continue
		}
		ub := r.db.Flavor().NewUpdateBuilder()
		ub.Update(r.quote(table))

		columns := sortedKeys(change.Set)
		assignments := make([]string, len(columns))
		for i, c := range columns {
			assignments[i] = ub.Assign(r.quote(c), change.Set[c])
		}
		ub.Set(assignments...)

		conds := make([]string, len(keyColumns))
		for i, c := range keyColumns {
			conds[i] = ub.Equal(r.quote(c), change.Key[c])
		}
		ub.Where(conds...)

		query, args := ub.Build()
		res, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to update row")
			return updated, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to update rows").WithTable(table)
		}
		n, _ := res.RowsAffected()
		updated += n
	}
	return updated, nil
}

// MaxID returns the largest integer value of column, or zero for an empty table.
func (r *Repository) MaxID(ctx context.Context, table, column string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.MaxID", attribute.String("table", table))
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(fmt.Sprintf("MAX(%s)", r.quote(column))).From(r.quote(table))
	query, args := sb.Build()

	var maxID sql.NullInt64
	if err := r.db.Executor(ctx).GetContext(ctx, &maxID, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to read max id")
		return 0, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read max id").WithTable(table)
	}
	return maxID.Int64, nil
}

// Count returns the number of rows in table.
func (r *Repository) Count(ctx context.Context, table string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.Count", attribute.String("table", table))
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("COUNT(*)").From(r.quote(table))
	query, args := sb.Build()

	var n int64
	if err := r.db.Executor(ctx).GetContext(ctx, &n, query, args...); err != nil {
		return 0, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to count rows").WithTable(table)
	}
	return n, nil
}

// Identifiers returns the distinct non-null values of column.
func (r *Repository) Identifiers(ctx context.Context, table, column string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.Identifiers", attribute.String("table", table))
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(r.quote(column)).Distinct().From(r.quote(table))
	sb.Where(sb.IsNotNull(r.quote(column)))
	query, args := sb.Build()

	var ids []string
	if err := r.db.Executor(ctx).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to read identifiers")
		return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read identifiers").WithTable(table)
	}
	return ids, nil
}

// IDMapping maps each stored natural key in keyColumn to its surrogate key.
func (r *Repository) IDMapping(ctx context.Context, table, idColumn, keyColumn string) (map[string]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.IDMapping", attribute.String("table", table))
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(sb.As(r.quote(idColumn), "id"), sb.As(r.quote(keyColumn), "natural_key")).From(r.quote(table))
	sb.Where(sb.IsNotNull(r.quote(keyColumn)))
	query, args := sb.Build()

	var rows []struct {
		ID  int64  `db:"id"`
		Key string `db:"natural_key"`
	}
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to read id mapping")
		return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read id mapping").WithTable(table)
	}
	mapping := make(map[string]int64, len(rows))
	for _, row := range rows {
		mapping[row.Key] = row.ID
	}
	return mapping, nil
}

// WriteBatch inserts every group in one transaction, in order.
func (r *Repository) WriteBatch(ctx context.Context, batches []models.TableRows) (err error) {
	ctx, span := tracing.StartSpan(ctx, "destination.Repository.WriteBatch", attribute.Int("tables", len(batches)))
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to begin batch")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, b := range batches {
		if _, err = r.Insert(ctx, b.Table, b.Columns, b.Rows); err != nil {
			return err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to commit batch")
	}
	return nil
}

func sortedKeys(r models.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

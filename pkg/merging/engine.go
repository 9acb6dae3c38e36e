// Package merging reconciles converted destination records with the rows
// already stored under the same key.
package merging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/internal/repositories/destination"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
)

// Store is the destination surface the engine writes through.
type Store interface {
	DB() database.DB
	FindByKeys(ctx context.Context, table string, keyColumns []string, keys []models.Record) ([]models.Record, error)
	Insert(ctx context.Context, table string, columns []string, rows []models.Record) (int64, error)
	UpdateChanged(ctx context.Context, table string, keyColumns []string, changes []destination.Change) (int64, error)
	MaxID(ctx context.Context, table, column string) (int64, error)
}

// Locker serializes converter cycles for one table across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

type Config struct {
	// NoMerge skips existing-row lookups. Only safe against a fresh destination.
	NoMerge  bool
	Behavior models.FieldConflictBehavior
	LockTTL  time.Duration
}

// Engine handles record merging
type Engine struct {
	logger    ectologger.Logger
	store     Store
	registry  *Registry
	allocator *identity.Allocator
	merger    *FieldMerger
	config    Config
	locker    Locker

	mu     sync.Mutex
	tables map[string]*sync.Mutex
}

// NewEngine creates a new merge engine
func NewEngine(logger ectologger.Logger, store Store, registry *Registry, allocator *identity.Allocator, config Config) *Engine {
	if config.LockTTL <= 0 {
		config.LockTTL = 5 * time.Minute
	}
	return &Engine{
		logger:    logger,
		store:     store,
		registry:  registry,
		allocator: allocator,
		merger:    NewFieldMerger(config.Behavior),
		config:    config,
		tables:    make(map[string]*sync.Mutex),
	}
}

// WithLocker adds cross-process serialization of each table's cycle.
func (e *Engine) WithLocker(l Locker) *Engine {
	e.locker = l
	return e
}

// Flush runs every registered converter over its kind's entities. Each
// converter is one atomic cycle; a failed cycle rolls back and is reported
// without stopping the others. Cancellation is checked between converters.
func (e *Engine) Flush(ctx context.Context, entities map[string][]Entity) (*models.FlushReport, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Flush", attribute.Int("kinds", len(entities)))
	defer span.End()
	return e.flush(ctx, entities, nil)
}

// FlushOnly runs just the converters named by ids, as reported by
// ConverterReport.ID. Used to retry the converters of a batch that failed
// without repeating the cycles that committed.
func (e *Engine) FlushOnly(ctx context.Context, entities map[string][]Entity, ids []string) (*models.FlushReport, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.FlushOnly", attribute.Int("converters", len(ids)))
	defer span.End()
	only := make(map[string]bool, len(ids))
	for _, id := range ids {
		only[id] = true
	}
	return e.flush(ctx, entities, only)
}

func (e *Engine) flush(ctx context.Context, entities map[string][]Entity, only map[string]bool) (*models.FlushReport, error) {
	kinds := make([]string, 0, len(entities))
	for k := range entities {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	report := &models.FlushReport{}
	var result *multierror.Error
	for _, kind := range kinds {
		converters := e.registry.For(kind)
		if len(converters) == 0 {
			e.logger.WithContext(ctx).WithFields(map[string]any{"kind": kind}).Debug("No converters registered")
			continue
		}
		for _, conv := range converters {
			if only != nil && !only[conv.Kind+"/"+conv.Name] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, multierror.Append(result, err).ErrorOrNil()
			}
			cr, err := e.flushConverter(ctx, conv, entities[kind])
			if err != nil {
				cr.Error = err.Error()
				metrics.MergeFailuresTotal.WithLabelValues(conv.Name, conv.Type.Table).Inc()
				tracing.RecordError(ctx, err)
				result = multierror.Append(result, fmt.Errorf("converter %s: %w", conv.Name, err))
			}
			report.Converters = append(report.Converters, cr)
		}
	}
	return report, result.ErrorOrNil()
}

func (e *Engine) tableLock(table string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.tables[table]
	if !ok {
		l = &sync.Mutex{}
		e.tables[table] = l
	}
	return l
}

func (e *Engine) flushConverter(ctx context.Context, conv Converter, entities []Entity) (models.ConverterReport, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.flushConverter",
		attribute.String("converter", conv.Name), attribute.String("table", conv.Type.Table))
	defer span.End()

	start := time.Now()
	report := models.ConverterReport{Kind: conv.Kind, Converter: conv.Name, Table: conv.Type.Table}
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":      conv.Kind,
		"converter": conv.Name,
		"table":     conv.Type.Table,
	})

	var records []models.Record
	for _, entity := range entities {
		res, err := conv.Convert(entity)
		if err != nil {
			return report, fmt.Errorf("failed to convert %s entity: %w", conv.Kind, err)
		}
		for _, rec := range Records(res) {
			records = append(records, normalize(rec))
		}
	}
	report.Converted = len(records)
	if len(records) == 0 {
		report.Skipped = true
		log.Debug("Converter produced no records, skipping")
		return report, nil
	}

	lock := e.tableLock(conv.Type.Table)
	lock.Lock()
	defer lock.Unlock()

	cycle := func() error {
		return e.runCycle(ctx, conv, records, &report)
	}
	var err error
	if e.locker != nil {
		err = e.locker.WithLock(ctx, "merge:"+conv.Type.Table, e.config.LockTTL, cycle)
	} else {
		err = cycle()
	}

	report.Elapsed = time.Since(start)
	metrics.ConverterFlushDuration.WithLabelValues(conv.Name, conv.Type.Table).Observe(report.Elapsed.Seconds())
	if err != nil {
		log.WithError(err).Error("Converter cycle failed, rolled back")
		return report, err
	}

	metrics.MergeRecordsTotal.WithLabelValues(conv.Type.Table, "inserted").Add(float64(report.Inserted))
	metrics.MergeRecordsTotal.WithLabelValues(conv.Type.Table, "updated").Add(float64(report.Updated))
	metrics.MergeRecordsTotal.WithLabelValues(conv.Type.Table, "unchanged").Add(float64(report.Unchanged))
	log.WithFields(map[string]any{
		"converted":  report.Converted,
		"inserted":   report.Inserted,
		"updated":    report.Updated,
		"unchanged":  report.Unchanged,
		"elapsed_ms": report.Elapsed.Milliseconds(),
	}).Info("Flushed converter")
	return report, nil
}

// runCycle partitions records into inserts and updates and writes both in
// one transaction.
func (e *Engine) runCycle(ctx context.Context, conv Converter, records []models.Record, report *models.ConverterReport) (err error) {
	ctx, tx, err := e.store.DB().GetTx(ctx, nil)
	if err != nil {
		return kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to begin merge cycle").WithTable(conv.Type.Table)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var inserts []models.Record
	var changes []destination.Change
	keyColumns := conv.KeyColumns()

	if conv.appendOnly() {
		inserts, err = e.assignSurrogates(ctx, conv, records)
		if err != nil {
			return err
		}
	} else {
		batch, audits := e.collapse(conv, records, keyColumns)
		report.Updates = append(report.Updates, audits...)

		existing := map[string]models.Record{}
		if !e.config.NoMerge || conv.MergeAnyway {
			existing, err = e.loadExisting(ctx, conv.Type.Table, keyColumns, batch)
			if err != nil {
				return err
			}
		}

		for _, rec := range batch {
			key, ok := models.KeyOf(rec, keyColumns)
			current, found := existing[key]
			if !ok || !found {
				inserts = append(inserts, rec)
				continue
			}
			changed, audits := e.merger.Merge(conv.Type.Table, key, current, rec, keyColumns)
			report.Updates = append(report.Updates, audits...)
			if len(changed) == 0 {
				report.Unchanged++
				continue
			}
			changes = append(changes, destination.Change{Key: keyValues(current, keyColumns), Set: encodeRecord(changed)})
		}
		if conv.Type.IsAutoIncrement() && len(inserts) > 0 {
			if inserts, err = e.assignSurrogates(ctx, conv, inserts); err != nil {
				return err
			}
		}
	}

	if len(inserts) > 0 {
		rows := make([]models.Record, len(inserts))
		for i, r := range inserts {
			rows[i] = encodeRecord(r)
		}
		if _, err = e.store.Insert(ctx, conv.Type.Table, insertColumns(rows, conv.Type.PrimaryKey), rows); err != nil {
			return err
		}
	}
	if len(changes) > 0 {
		if _, err = e.store.UpdateChanged(ctx, conv.Type.Table, keyColumns, changes); err != nil {
			return err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to commit merge cycle").WithTable(conv.Type.Table)
	}

	report.Inserted = len(inserts)
	report.Updated = len(changes)
	return nil
}

// assignSurrogates keeps unique caller-supplied ids, advancing the allocator
// past them, and allocates fresh ids for the rest.
func (e *Engine) assignSurrogates(ctx context.Context, conv Converter, records []models.Record) ([]models.Record, error) {
	table := conv.Type.Table
	column := conv.Type.PrimaryKey[0]

	if err := e.seedAllocator(ctx, table, column); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		key, ok := models.KeyOf(rec, []string{column})
		if !ok {
			continue
		}
		if seen[key] {
			return nil, kgerrors.Newf(kgerrors.KindMergeConflictInconsistency,
				"two records share %s=%s on an autoincrement table", column, key).WithTable(table)
		}
		seen[key] = true
		if id, isInt := rec[column].(int64); isInt {
			e.allocator.Observe(table, id)
		}
	}
	for _, rec := range records {
		if rec[column] == nil {
			rec[column] = e.allocator.Next(table)
		}
	}
	return records, nil
}

// seedAllocator reads the table's current maximum inside the cycle's
// transaction. Other writers may have appended since the last cycle.
func (e *Engine) seedAllocator(ctx context.Context, table, column string) error {
	maxID, err := e.store.MaxID(ctx, table, column)
	if err != nil {
		return err
	}
	e.allocator.Seed(table, maxID)
	return nil
}

// collapse folds records sharing a key within the batch into one, keeping
// first-seen order. Records with an incomplete key pass through untouched.
func (e *Engine) collapse(conv Converter, records []models.Record, keyColumns []string) ([]models.Record, []models.FieldUpdate) {
	index := make(map[string]int, len(records))
	out := make([]models.Record, 0, len(records))
	var audits []models.FieldUpdate
	for _, rec := range records {
		key, ok := models.KeyOf(rec, keyColumns)
		if !ok {
			out = append(out, rec)
			continue
		}
		i, dup := index[key]
		if !dup {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}
		if conv.Deduplicate {
			out[i] = rec
			continue
		}
		_, updates := e.merger.Merge(conv.Type.Table, key, out[i], rec, keyColumns)
		audits = append(audits, updates...)
	}
	return out, audits
}

func (e *Engine) loadExisting(ctx context.Context, table string, keyColumns []string, records []models.Record) (map[string]models.Record, error) {
	keys := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if _, ok := models.KeyOf(rec, keyColumns); ok {
			keys = append(keys, keyValues(rec, keyColumns))
		}
	}
	rows, err := e.store.FindByKeys(ctx, table, keyColumns, keys)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]models.Record, len(rows))
	for _, row := range rows {
		if key, ok := models.KeyOf(row, keyColumns); ok {
			existing[key] = row
		}
	}
	return existing, nil
}

func keyValues(r models.Record, keyColumns []string) models.Record {
	key := make(models.Record, len(keyColumns))
	for _, c := range keyColumns {
		key[c] = r[c]
	}
	return key
}

func normalize(r models.Record) models.Record {
	out := make(models.Record, len(r))
	for k, v := range r {
		out[k] = models.NormalizeValue(v)
	}
	return out
}

// encodeRecord stores nested values as JSON text.
func encodeRecord(r models.Record) models.Record {
	out := make(models.Record, len(r))
	for k, v := range r {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return v
	}
	if list, ok := asList(v); ok {
		b, _ := json.Marshal(list)
		return string(b)
	}
	if m, ok := v.(map[string]any); ok {
		b, _ := json.Marshal(m)
		return string(b)
	}
	return v
}

// insertColumns is the union of every row's columns, key columns first.
func insertColumns(rows []models.Record, primaryKey []string) []string {
	set := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			set[k] = true
		}
	}
	columns := make([]string, 0, len(set))
	for _, pk := range primaryKey {
		if set[pk] {
			columns = append(columns, pk)
			delete(set, pk)
		}
	}
	rest := make([]string, 0, len(set))
	for k := range set {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

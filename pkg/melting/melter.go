package melting

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/source"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultChunkSize caps fact rows held in memory per write.
const DefaultChunkSize = 10000

// Sink is the destination of melted rows. Chunks of one document share a
// transaction opened on DB.
type Sink interface {
	DB() database.DB
	WriteBatch(ctx context.Context, batches []models.TableRows) error
	Identifiers(ctx context.Context, table, column string) ([]string, error)
}

type Config struct {
	ChunkSize          int
	FileReferenceField string
	// IndexColumn names the parquet column holding row labels.
	IndexColumn string
}

// Melter handles matrix melting
type Melter struct {
	logger ectologger.Logger
	source source.Store
	files  FileSource
	sink   Sink
	config Config

	mu        sync.Mutex
	resolvers map[string]*Resolver
}

// NewMelter creates a new matrix melter
func NewMelter(logger ectologger.Logger, src source.Store, files FileSource, sink Sink, config Config) *Melter {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.FileReferenceField == "" {
		config.FileReferenceField = schema.FileReferenceField
	}
	return &Melter{
		logger:    logger,
		source:    src,
		files:     files,
		sink:      sink,
		config:    config,
		resolvers: make(map[string]*Resolver),
	}
}

// MeltAll melts every file-reference collection with planned fact tables. A
// failed document is recorded on summary and does not stop the others.
func (m *Melter) MeltAll(ctx context.Context, plan *schema.Plan, summary *models.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "melting.Melter.MeltAll", attribute.Int("facts", len(plan.Facts)))
	defer span.End()

	var parents []string
	seen := map[string]bool{}
	for _, f := range plan.Facts {
		if !seen[f.ParentCollection] {
			seen[f.ParentCollection] = true
			parents = append(parents, f.ParentCollection)
		}
	}
	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.MeltCollection(ctx, parent, plan.FactsFor(parent), summary); err != nil {
			return err
		}
	}
	return nil
}

// MeltCollection melts the documents of one file-reference collection. The
// returned error is fatal for the collection; per-document failures only
// reach summary.
func (m *Melter) MeltCollection(ctx context.Context, parent string, facts []schema.FactPlan, summary *models.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "melting.Melter.MeltCollection", attribute.String("collection", parent))
	defer span.End()
	log := m.logger.WithContext(ctx).WithFields(map[string]any{"collection": parent, "run_id": appctx.GetRunID(ctx)})

	candidates, err := m.matchDocuments(ctx, facts)
	if err != nil {
		return err
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := m.source.Page(ctx, parent, after, m.config.ChunkSize)
		if err != nil {
			return kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read file-reference documents").WithCollection(parent)
		}
		for _, doc := range docs {
			m.meltOne(ctx, log, parent, doc, candidates, summary)
		}
		if len(docs) < m.config.ChunkSize {
			return nil
		}
		after = docs[len(docs)-1].Key
	}
}

func (m *Melter) meltOne(ctx context.Context, log ectologger.Logger, parent string, doc models.Document, candidates map[string][]schema.FactPlan, summary *models.RunSummary) {
	id := doc.String("id")
	if id == "" {
		id = doc.Key
	}
	ref := doc.String(m.config.FileReferenceField)
	if ref == "" {
		return
	}
	plans := candidates[id]
	if len(plans) == 0 {
		log.WithFields(map[string]any{"document_id": id}).Warn("No analyte edges found for document, skipping")
		return
	}

	n, table, err := m.MeltDocument(ctx, id, ref, plans)
	if err != nil {
		kind := ""
		if kgErr, ok := kgerrors.As(err); ok {
			kind = string(kgErr.Kind)
		}
		log.WithError(err).WithFields(map[string]any{"document_id": id, "file_path": ref}).Error("Failed to melt document")
		metrics.MeltFailuresTotal.WithLabelValues(parent).Inc()
		if summary != nil {
			summary.AddFailure(models.Failure{
				Stage: "melt", Collection: parent, DocumentID: id, FilePath: ref, Kind: kind, Err: err,
			})
		}
		return
	}
	if summary != nil {
		summary.AddRows(table, n)
	}
}

// matchDocuments maps each document id to the fact plans whose analyte edge
// starts at it, in plan order.
func (m *Melter) matchDocuments(ctx context.Context, facts []schema.FactPlan) (map[string][]schema.FactPlan, error) {
	candidates := make(map[string][]schema.FactPlan)
	for _, f := range facts {
		starts, err := m.source.EdgeStarts(ctx, f.Analyte.Edge)
		if err != nil {
			return nil, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read analyte edge starts").WithCollection(f.Analyte.Edge)
		}
		for _, id := range starts {
			candidates[id] = append(candidates[id], f)
		}
	}
	return candidates, nil
}

// MeltDocument fetches and melts one matrix file into the first candidate
// plan whose analytes resolve every row label. All chunks commit together.
func (m *Melter) MeltDocument(ctx context.Context, docID, ref string, plans []schema.FactPlan) (rows int64, table string, err error) {
	ctx, span := tracing.StartSpan(ctx, "melting.Melter.MeltDocument",
		attribute.String("document_id", docID), attribute.String("file_path", ref))
	defer span.End()
	start := time.Now()

	data, err := m.files.Fetch(ctx, ref)
	if err != nil {
		return 0, "", kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to fetch matrix file").WithDocument(docID).WithFile(ref)
	}
	if data, err = Decompress(ref, data); err != nil {
		return 0, "", kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to decode matrix file").WithDocument(docID).WithFile(ref)
	}
	matrix, err := ReadMatrix(data, FormatOf(ref), m.config.IndexColumn)
	if err != nil {
		return 0, "", kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to decode matrix file").WithDocument(docID).WithFile(ref)
	}

	plan, analytes, samples, err := m.choosePlan(ctx, matrix, plans)
	if err != nil {
		if kgErr, ok := kgerrors.As(err); ok {
			kgErr.WithDocument(docID).WithFile(ref)
		}
		return 0, "", err
	}

	ctx, tx, err := m.sink.DB().GetTx(ctx, nil)
	if err != nil {
		return 0, "", kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to begin melt").WithDocument(docID)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	columns := plan.Columns()
	rows, err = Melt(matrix, docID, plan, analytes, samples, m.config.ChunkSize, func(chunk []models.Record) error {
		return m.sink.WriteBatch(ctx, []models.TableRows{{Table: plan.Table.Name, Columns: columns, Rows: chunk}})
	})
	if err != nil {
		if kgErr, ok := kgerrors.As(err); ok {
			kgErr.WithDocument(docID).WithFile(ref)
		}
		return 0, "", err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, "", kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to commit melt").WithDocument(docID)
	}

	metrics.MeltedRowsTotal.WithLabelValues(plan.Table.Name).Add(float64(rows))
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"document_id": docID,
		"file_path":   ref,
		"table":       plan.Table.Name,
		"rows":        rows,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	}).Info("Melted matrix")
	return rows, plan.Table.Name, nil
}

func (m *Melter) choosePlan(ctx context.Context, matrix *Matrix, plans []schema.FactPlan) (schema.FactPlan, *Resolver, *Resolver, error) {
	var firstErr error
	for _, plan := range plans {
		analytes, err := m.resolver(ctx, plan.Analyte.Table)
		if err != nil {
			return schema.FactPlan{}, nil, nil, err
		}
		if missing, ok := analytes.Missing(matrix.RowLabels); !ok {
			if firstErr == nil {
				firstErr = kgerrors.Newf(kgerrors.KindUnresolvableAnalyteReference,
					"row label %q has no %s record", missing, plan.Analyte.Table).WithTable(plan.Table.Name)
			}
			continue
		}
		var samples *Resolver
		if plan.Sample != nil {
			if samples, err = m.resolver(ctx, plan.Sample.Table); err != nil {
				return schema.FactPlan{}, nil, nil, err
			}
		}
		return plan, analytes, samples, nil
	}
	return schema.FactPlan{}, nil, nil, firstErr
}

// resolver loads the identifier set of table once per melter.
func (m *Melter) resolver(ctx context.Context, table string) (*Resolver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resolvers[table]; ok {
		return r, nil
	}
	ids, err := m.sink.Identifiers(ctx, table, "id")
	if err != nil {
		return nil, err
	}
	r := NewResolver(ids)
	m.resolvers[table] = r
	return r, nil
}

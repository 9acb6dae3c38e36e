// Package copier drains source collections into their planned tables one
// key-ordered page at a time.
package copier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/source"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Sink receives each page's rows in one transaction.
type Sink interface {
	WriteBatch(ctx context.Context, batches []models.TableRows) error
	MaxID(ctx context.Context, table, column string) (int64, error)
}

type Config struct {
	PageSize    int
	Concurrency int
	// MaxRetries bounds retries of one page, each at half the previous size.
	MaxRetries    int
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PageSize:      10000,
		Concurrency:   4,
		MaxRetries:    1,
		RetryInterval: 100 * time.Millisecond,
	}
}

// Copier handles bulk collection copies
type Copier struct {
	logger    ectologger.Logger
	source    source.Store
	sink      Sink
	allocator *identity.Allocator
	config    Config

	seedMu sync.Mutex
	seeded map[string]bool
}

// NewCopier creates a new bulk copier
func NewCopier(logger ectologger.Logger, src source.Store, sink Sink, allocator *identity.Allocator, config Config) *Copier {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Copier{
		logger:    logger,
		source:    src,
		sink:      sink,
		allocator: allocator,
		config:    config,
		seeded:    make(map[string]bool),
	}
}

// CopyAll copies every planned collection, documents before edges, with up
// to Concurrency collections in flight. A failed collection is recorded on
// summary and does not stop its siblings.
func (c *Copier) CopyAll(ctx context.Context, plan *schema.Plan, summary *models.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "copier.Copier.CopyAll", attribute.Int("collections", len(plan.Order)))
	defer span.End()

	var documents, edges []*schema.CollectionPlan
	for _, name := range plan.Order {
		cp := plan.Collections[name]
		if cp.Descriptor.IsEdge() {
			edges = append(edges, cp)
		} else {
			documents = append(documents, cp)
		}
	}

	var mu sync.Mutex
	var result *multierror.Error
	for _, phase := range [][]*schema.CollectionPlan{documents, edges} {
		var g errgroup.Group
		g.SetLimit(c.config.Concurrency)
		for _, cp := range phase {
			if err := ctx.Err(); err != nil {
				break
			}
			g.Go(func() error {
				if _, err := c.CopyCollection(ctx, cp, summary); err != nil {
					summary.AddFailure(models.Failure{Stage: "copy", Collection: cp.Collection, Kind: kindOf(err), Err: err})
					mu.Lock()
					result = multierror.Append(result, fmt.Errorf("collection %s: %w", cp.Collection, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
	}
	return result.ErrorOrNil()
}

// CopyCollection copies one collection and returns the number of source
// documents visited. Data-implicit edges are skipped.
func (c *Copier) CopyCollection(ctx context.Context, cp *schema.CollectionPlan, summary *models.RunSummary) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "copier.Copier.CopyCollection", attribute.String("collection", cp.Collection))
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{"collection": cp.Collection})
	if cp.DataImplicit || cp.Table == nil {
		log.Debug("Skipping data-implicit collection")
		return 0, nil
	}
	if err := c.seedChildren(ctx, cp.Children); err != nil {
		return 0, err
	}

	start := time.Now()
	var visited int64
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		page, err := c.copyPageWithRetry(ctx, cp, after)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"bookmark": after}).Error("Failed to copy page")
			tracing.RecordError(ctx, err)
			return visited, err
		}
		visited += int64(page.documents)
		for table, n := range page.counts {
			if summary != nil {
				summary.AddRows(table, n)
			}
			metrics.CopiedRowsTotal.WithLabelValues(table).Add(float64(n))
		}
		log.WithFields(map[string]any{
			"page_size": page.documents,
			"bookmark":  page.last,
		}).Debug("Copied page")

		if !page.more {
			break
		}
		after = page.last
	}

	log.WithFields(map[string]any{
		"documents":  visited,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("Copied collection")
	return visited, nil
}

type pageResult struct {
	documents int
	last      string
	more      bool
	counts    map[string]int64
}

// copyPageWithRetry retries a failed page at half the previous size, up to
// MaxRetries times.
func (c *Copier) copyPageWithRetry(ctx context.Context, cp *schema.CollectionPlan, after string) (pageResult, error) {
	size := c.config.PageSize
	var page pageResult
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		res, err := c.copyPage(ctx, cp, after, size)
		if err != nil {
			if !kgerrors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		next := size / 2
		if next < 1 {
			next = 1
		}
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"collection": cp.Collection,
			"page_size":  next,
			"bookmark":   after,
		}).Warn("Retrying page at half size")
		metrics.PageRetriesTotal.WithLabelValues(cp.Collection).Inc()
		size = next
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryInterval), uint64(c.config.MaxRetries)),
		ctx,
	)
	err := backoff.RetryNotify(op, policy, notify)
	return page, err
}

// copyPage reads one page plus a single lookahead document, so that a
// collection whose size is a multiple of the page size ends without an
// extra empty read. The page's rows are written in one transaction.
func (c *Copier) copyPage(ctx context.Context, cp *schema.CollectionPlan, after string, size int) (pageResult, error) {
	docs, err := c.source.Page(ctx, cp.Collection, after, size+1)
	if err != nil {
		return pageResult{}, kgerrors.Wrap(kgerrors.KindStoreIO, err, "failed to read page").WithCollection(cp.Collection)
	}
	more := len(docs) > size
	if more {
		docs = docs[:size]
	}
	if len(docs) == 0 {
		return pageResult{}, nil
	}

	b := newBatch()
	for _, doc := range docs {
		if cp.Descriptor.IsEdge() {
			row, err := edgeRow(cp, doc)
			if err != nil {
				return pageResult{}, kgerrors.Wrap(kgerrors.KindMalformedIdentifier, err, "invalid edge document").
					WithCollection(cp.Collection).WithDocument(doc.Key)
			}
			b.add(cp.Table, row)
			continue
		}
		if err := splitDocument(b, cp, doc, c.allocator); err != nil {
			return pageResult{}, kgerrors.Wrap(kgerrors.KindMalformedIdentifier, err, "invalid document").
				WithCollection(cp.Collection).WithDocument(doc.Key)
		}
	}

	if err := c.sink.WriteBatch(ctx, b.rows()); err != nil {
		return pageResult{}, err
	}
	return pageResult{
		documents: len(docs),
		last:      docs[len(docs)-1].Key,
		more:      more,
		counts:    b.counts(),
	}, nil
}

// seedChildren advances the allocator past every surrogate already stored
// in the collection's child tables.
func (c *Copier) seedChildren(ctx context.Context, children []schema.ChildPlan) error {
	for _, child := range children {
		if !child.HasSurrogateKey() {
			continue
		}
		c.seedMu.Lock()
		done := c.seeded[child.Table.Name]
		c.seedMu.Unlock()
		if !done {
			maxID, err := c.sink.MaxID(ctx, child.Table.Name, "id")
			if err != nil {
				return err
			}
			c.allocator.Seed(child.Table.Name, maxID)
			c.seedMu.Lock()
			c.seeded[child.Table.Name] = true
			c.seedMu.Unlock()
		}
		if err := c.seedChildren(ctx, child.Children); err != nil {
			return err
		}
	}
	return nil
}

func kindOf(err error) string {
	if kgErr, ok := kgerrors.As(err); ok {
		return string(kgErr.Kind)
	}
	return ""
}

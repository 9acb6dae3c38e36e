// Package processor merges live ingestion batches into the destination.
package processor

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
)

// Flusher is the merge engine as the processor uses it.
type Flusher interface {
	Flush(ctx context.Context, entities map[string][]merging.Entity) (*models.FlushReport, error)
	FlushOnly(ctx context.Context, entities map[string][]merging.Entity, ids []string) (*models.FlushReport, error)
}

const (
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 500 * time.Millisecond
)

// DeadLetters receives messages that could not be decoded or merged.
type DeadLetters interface {
	Add(ctx context.Context, entry redis.DeadLetter) (string, error)
}

// MergeProcessor handles batches of node and relationship messages
type MergeProcessor struct {
	logger  ectologger.Logger
	decoder *Decoder
	flusher Flusher
	dlq     DeadLetters

	maxRetries    uint64
	retryInterval time.Duration
}

// NewMergeProcessor creates a new merge processor
func NewMergeProcessor(logger ectologger.Logger, flusher Flusher) *MergeProcessor {
	return &MergeProcessor{
		logger:  logger,
		decoder: NewDecoder(logger),
		flusher: flusher,

		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
	}
}

// WithRetry sets how many times failed converters are flushed again before
// their messages are dead-lettered.
func (p *MergeProcessor) WithRetry(maxRetries int, interval time.Duration) *MergeProcessor {
	if maxRetries >= 0 {
		p.maxRetries = uint64(maxRetries)
	}
	if interval > 0 {
		p.retryInterval = interval
	}
	return p
}

// WithDeadLetters records undecodable messages instead of only logging them.
func (p *MergeProcessor) WithDeadLetters(dlq DeadLetters) *MergeProcessor {
	p.dlq = dlq
	return p
}

// HandleBatch decodes, groups and flushes one batch. Undecodable messages
// are dead-lettered. Converters that fail are flushed again, alone, up to
// the retry limit; after that their messages are dead-lettered and the batch
// is still acknowledged. Only cancellation is returned as an error.
func (p *MergeProcessor) HandleBatch(ctx context.Context, msgs []*kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.MergeProcessor.HandleBatch", attribute.Int("messages", len(msgs)))
	defer span.End()
	start := time.Now()
	log := p.logger.WithContext(ctx)
	metrics.IngestBatchesInFlight.Inc()
	defer metrics.IngestBatchesInFlight.Dec()

	entities := make([]merging.Entity, 0, len(msgs))
	byKind := make(map[string][]*kafka.IncomingMessage)
	relationships := make(map[string]*identity.Relationship)
	malformed := 0
	for _, msg := range msgs {
		entity, xrefErrs, err := p.decoder.Decode(ctx, msg.Value)
		malformed += len(xrefErrs)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("Failed to decode message, skipping")
			metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
			p.deadLetter(ctx, msg, err)
			continue
		}
		// relationships between the same endpoints keep every repeated sub-record
		if rel, ok := entity.(*identity.Relationship); ok {
			if existing, seen := relationships[rel.EndpointKey()]; seen {
				existing.Absorb(*rel)
				byKind[rel.EntityKind()] = append(byKind[rel.EntityKind()], msg)
				continue
			}
			relationships[rel.EndpointKey()] = rel
		}
		entities = append(entities, entity)
		byKind[entity.EntityKind()] = append(byKind[entity.EntityKind()], msg)
	}
	if len(entities) == 0 {
		return nil
	}

	groups := merging.GroupByKind(entities)
	report, err := p.flush(ctx, groups)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	merged := len(entities)
	if err != nil {
		log.WithError(err).Error("Failed to flush batch, dead-lettering its failed converters")
		failed := 0
		for kind := range failedKinds(report, groups) {
			merged -= len(groups[kind])
			for _, msg := range byKind[kind] {
				p.deadLetter(ctx, msg, err)
				failed++
			}
		}
		metrics.IngestMessagesTotal.WithLabelValues("failed").Add(float64(failed))
	}
	metrics.IngestMessagesTotal.WithLabelValues("merged").Add(float64(merged))

	inserted, updated := report.Totals()
	log.WithFields(map[string]any{
		"messages":        len(msgs),
		"entities":        len(entities),
		"inserted":        inserted,
		"updated":         updated,
		"malformed_xrefs": malformed,
		"elapsed_ms":      time.Since(start).Milliseconds(),
	}).Info("Merged batch")
	return nil
}

// flush runs every converter once, then retries only the ones that rolled
// back. The returned report holds the last outcome of each converter.
func (p *MergeProcessor) flush(ctx context.Context, groups map[string][]merging.Entity) (*models.FlushReport, error) {
	report := &models.FlushReport{}
	// without per-converter outcomes nothing is known to have committed
	whole := true

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.retryInterval),
		backoff.WithMaxElapsedTime(0),
	), p.maxRetries), ctx)
	err := backoff.RetryNotify(func() error {
		var retried *models.FlushReport
		var err error
		if whole {
			retried, err = p.flusher.Flush(ctx, groups)
			if retried != nil {
				report = retried
			}
		} else {
			retried, err = p.flusher.FlushOnly(ctx, groups, report.Failed())
			if retried != nil {
				report = mergeReports(report, retried)
			}
		}
		whole = len(report.Failed()) == 0
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"converters": report.Failed(),
			"retry_in":   wait.String(),
		}).Warn("Converters failed, retrying them")
	})
	return report, err
}

// mergeReports replaces the entries of retried converters with their latest
// outcome.
func mergeReports(report, retried *models.FlushReport) *models.FlushReport {
	latest := make(map[string]models.ConverterReport, len(retried.Converters))
	for _, c := range retried.Converters {
		latest[c.ID()] = c
	}
	out := &models.FlushReport{Converters: make([]models.ConverterReport, 0, len(report.Converters))}
	for _, c := range report.Converters {
		if r, ok := latest[c.ID()]; ok {
			c = r
		}
		out.Converters = append(out.Converters, c)
	}
	return out
}

// failedKinds lists the entity kinds with a converter that never committed.
// Without a per-converter report every kind counts as failed.
func failedKinds(report *models.FlushReport, groups map[string][]merging.Entity) map[string]bool {
	kinds := make(map[string]bool)
	if report == nil || len(report.Failed()) == 0 {
		for kind := range groups {
			kinds[kind] = true
		}
		return kinds
	}
	for _, c := range report.Converters {
		if c.Error != "" {
			kinds[c.Kind] = true
		}
	}
	return kinds
}

func (p *MergeProcessor) deadLetter(ctx context.Context, msg *kafka.IncomingMessage, reason error) {
	if p.dlq == nil {
		return
	}
	_, err := p.dlq.Add(ctx, redis.DeadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Value:     string(msg.Value),
		Reason:    reason.Error(),
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to record dead letter")
	}
}

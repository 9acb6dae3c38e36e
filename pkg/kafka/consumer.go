// Package kafka consumes live ingestion messages in batches.
package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

// BatchHandler processes one batch. Offsets are committed only after it
// returns nil.
type BatchHandler func(ctx context.Context, msgs []*IncomingMessage) error

// Reader is the part of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	BatchSize     int
	BatchTimeout  time.Duration
	// RetryInterval is the first wait before a failed batch is handled again.
	RetryInterval time.Duration
	// FetchRetryInterval is the first wait after a failed fetch.
	FetchRetryInterval time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 2 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.FetchRetryInterval <= 0 {
		c.FetchRetryInterval = 100 * time.Millisecond
	}
}

// Consumer handles Kafka message consumption
type Consumer struct {
	reader  Reader
	logger  ectologger.Logger
	handler BatchHandler
	config  ConsumerConfig
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	fetchBackoff *backoff.ExponentialBackOff
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, cfg, logger, handler)
}

func NewConsumerWithReader(reader Reader, cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	cfg.setDefaults()
	return &Consumer{
		reader:  reader,
		logger:  logger,
		handler: handler,
		config:  cfg,
		fetchBackoff: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(cfg.FetchRetryInterval),
			backoff.WithMaxInterval(5*time.Second),
			backoff.WithMaxElapsedTime(0),
		),
	}
}

// Start begins consuming messages in the background
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithContext(ctx).WithError(err).Error("Consumer loop stopped")
		}
	}()

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      c.config.Topic,
		"batch_size": c.config.BatchSize,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

// Health returns the consumer health status
func (c *Consumer) Health() bool {
	return c.reader != nil
}

// Run consumes until ctx ends or the reader is closed. A failed batch is
// retried with backoff until it succeeds, so nothing past it is committed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		batch, err := c.collect(ctx)
		if len(batch) > 0 {
			if herr := c.handle(ctx, batch); herr != nil {
				return herr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// collect fetches until the batch is full or BatchTimeout has passed since
// its first message.
func (c *Consumer) collect(ctx context.Context) ([]kafka.Message, error) {
	batch := make([]kafka.Message, 0, c.config.BatchSize)
	fetchCtx := ctx
	cancel := context.CancelFunc(func() {})
	defer func() { cancel() }()

	for len(batch) < c.config.BatchSize {
		msg, err := c.reader.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return batch, err
			}
			wait := c.fetchBackoff.NextBackOff()
			c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"retry_in": wait.String()}).Error("Failed to fetch message")
			select {
			case <-fetchCtx.Done():
			case <-time.After(wait):
			}
			continue
		}
		c.fetchBackoff.Reset()
		if len(batch) == 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, c.config.BatchTimeout)
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (c *Consumer) handle(ctx context.Context, batch []kafka.Message) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.handle", attribute.Int("messages", len(batch)))
	defer span.End()

	last := batch[len(batch)-1]
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"messages":  len(batch),
		"partition": last.Partition,
		"offset":    last.Offset,
	})

	incoming := make([]*IncomingMessage, len(batch))
	for i, msg := range batch {
		incoming[i] = incomingOf(msg)
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.config.RetryInterval),
		backoff.WithMaxElapsedTime(0),
	), ctx)
	err := backoff.RetryNotify(func() error {
		return c.handler(ctx, incoming)
	}, policy, func(err error, wait time.Duration) {
		log.WithError(err).WithFields(map[string]any{"retry_in": wait.String()}).Error("Failed to process batch (not committing)")
	})
	if err != nil {
		return err
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		log.WithError(err).Error("Failed to commit messages")
		return err
	}
	log.Debug("Committed batch")
	return nil
}

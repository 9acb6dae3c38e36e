package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultDeadLetterStream is the default dead letter stream name
	DefaultDeadLetterStream = "fern:dlq"

	// DeadLetterMaxLen caps the stream; oldest entries are trimmed
	DeadLetterMaxLen = 10000
)

// DeadLetter is one ingestion message that could not be decoded or merged.
type DeadLetter struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// DeadLetterQueue appends dead letters to a capped stream
type DeadLetterQueue struct {
	client     *Client
	streamName string
}

// NewDeadLetterQueue creates a new dead letter queue handler
func NewDeadLetterQueue(client *Client, streamName string) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDeadLetterStream
	}
	return &DeadLetterQueue{client: client, streamName: streamName}
}

// Add appends entry and returns its stream id.
func (d *DeadLetterQueue) Add(ctx context.Context, entry DeadLetter) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.TraceID == "" {
		entry.TraceID = tracing.GetTraceID(ctx)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	id, err := d.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DeadLetterMaxLen,
		Approx: true,
		Values: map[string]any{"entry": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add dead letter: %w", err)
	}

	d.client.logger.WithContext(ctx).WithFields(map[string]any{
		"stream":    d.streamName,
		"entry_id":  id,
		"topic":     entry.Topic,
		"partition": entry.Partition,
		"offset":    entry.Offset,
	}).Warn("Message sent to dead letter stream")
	return id, nil
}

// List returns up to count entries, oldest first.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := d.client.rdb.XRangeN(ctx, d.streamName, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["entry"].(string)
		var entry DeadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fakeReader struct {
	messages chan kafka.Message
	mu       sync.Mutex
	commits  []int64
}

func newFakeReader(n int, closeAfter bool) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, n)}
	for i := 0; i < n; i++ {
		r.messages <- kafka.Message{
			Topic:   "entities",
			Offset:  int64(i),
			Value:   []byte(`{}`),
			Headers: []kafka.Header{{Key: "source", Value: []byte("pounce")}},
		}
	}
	if closeAfter {
		close(r.messages)
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case msg, ok := <-r.messages:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func testConfig() ConsumerConfig {
	return ConsumerConfig{Topic: "entities", BatchSize: 2, BatchTimeout: 20 * time.Millisecond, RetryInterval: time.Millisecond}
}

func TestConsumer_BatchesAndCommits(t *testing.T) {
	reader := newFakeReader(5, true)
	var sizes []int
	var headers []string
	consumer := NewConsumerWithReader(reader, testConfig(), testLogger, func(_ context.Context, msgs []*IncomingMessage) error {
		sizes = append(sizes, len(msgs))
		headers = append(headers, msgs[0].Headers["source"])
		return nil
	})

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"pounce", "pounce", "pounce"}, headers)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.committed())
}

func TestConsumer_RetriesFailedBatch(t *testing.T) {
	reader := newFakeReader(2, true)
	calls := 0
	consumer := NewConsumerWithReader(reader, testConfig(), testLogger, func(context.Context, []*IncomingMessage) error {
		calls++
		if calls == 1 {
			return errors.New("destination unavailable")
		}
		return nil
	})

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{0, 1}, reader.committed())
}

func TestConsumer_FlushesOnTimeout(t *testing.T) {
	reader := newFakeReader(1, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan int, 1)
	consumer := NewConsumerWithReader(reader, testConfig(), testLogger, func(_ context.Context, msgs []*IncomingMessage) error {
		handled <- len(msgs)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case n := <-handled:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("partial batch was never flushed")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []int64{0}, reader.committed())
}

func TestConsumer_NeverCommitsUnhandledBatch(t *testing.T) {
	reader := newFakeReader(2, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	consumer := NewConsumerWithReader(reader, testConfig(), testLogger, func(context.Context, []*IncomingMessage) error {
		return errors.New("destination unavailable")
	})

	err := consumer.Run(ctx)
	require.Error(t, err)
	assert.Empty(t, reader.committed())
}

type flakyReader struct {
	*fakeReader
	failures int
	calls    []time.Time
}

func (r *flakyReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.calls = append(r.calls, time.Now())
	if r.failures > 0 {
		r.failures--
		return kafka.Message{}, errors.New("broker unreachable")
	}
	return r.fakeReader.FetchMessage(ctx)
}

func TestConsumer_BacksOffAfterFetchErrors(t *testing.T) {
	reader := &flakyReader{fakeReader: newFakeReader(1, true), failures: 3}
	cfg := testConfig()
	cfg.FetchRetryInterval = 10 * time.Millisecond

	handled := 0
	consumer := NewConsumerWithReader(reader, cfg, testLogger, func(_ context.Context, msgs []*IncomingMessage) error {
		handled += len(msgs)
		return nil
	})

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, 1, handled)
	require.GreaterOrEqual(t, len(reader.calls), 4)
	assert.GreaterOrEqual(t, reader.calls[3].Sub(reader.calls[0]), 15*time.Millisecond)
	assert.Equal(t, []int64{0}, reader.committed())
}

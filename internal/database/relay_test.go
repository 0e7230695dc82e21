package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	return redis.NewStringResult("1700000000000-0", m.Called(ctx, args).Error(0))
}

type MockEventSource struct {
	mock.Mock
}

func (m *MockEventSource) Due(ctx context.Context, limit int) ([]*StreamEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*StreamEvent)
	return events, args.Error(1)
}

func (m *MockEventSource) Delivered(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockEventSource) Failed(ctx context.Context, id uuid.UUID, cause error) error {
	return m.Called(ctx, id, cause).Error(0)
}

func (m *MockEventSource) Counts(ctx context.Context) (OutboxCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(OutboxCounts), args.Error(1)
}

func completedEvent(t *testing.T, products int) *StreamEvent {
	t.Helper()
	run := sampleRun()
	run.ID = uuid.New()
	run.Products = products
	payload, err := json.Marshal(NewCrawlCompleted(run))
	require.NoError(t, err)
	return &StreamEvent{
		ID:        uuid.New(),
		CrawlID:   run.ID,
		Type:      EventCrawlCompleted,
		Stream:    DefaultStream,
		Payload:   payload,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 43, 0, time.UTC),
	}
}

func forCrawl(event *StreamEvent) interface{} {
	return mock.MatchedBy(func(args *redis.XAddArgs) bool {
		values, _ := args.Values.(map[string]interface{})
		return values["crawl_id"] == event.CrawlID.String()
	})
}

func TestRelay_Flush(t *testing.T) {
	ctx := context.Background()
	config := RelayConfig{BatchSize: 2}

	tests := []struct {
		name      string
		batches   int
		failing   map[int]bool
		delivered int
	}{
		{name: "empty outbox"},
		{name: "short batch", batches: 1, delivered: 1},
		{name: "drains full batches", batches: 5, delivered: 5},
		{name: "skips failing events", batches: 3, failing: map[int]bool{0: true}, delivered: 2},
		{name: "stops when a full batch fails", batches: 2, failing: map[int]bool{0: true, 1: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := new(MockPublisher)
			source := new(MockEventSource)

			var events []*StreamEvent
			for i := range tt.batches {
				event := completedEvent(t, i)
				events = append(events, event)
				if tt.failing[i] {
					publisher.On("XAdd", ctx, forCrawl(event)).Return(errors.New("connection refused"))
					source.On("Failed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
						return err.Error() == "xadd stream:recycle_crawls: connection refused"
					})).Return(nil)
					continue
				}
				publisher.On("XAdd", ctx, forCrawl(event)).Return(nil)
				source.On("Delivered", ctx, event.ID).Return(nil)
			}

			// Due hands out the queue in BatchSize slices.
			for start := 0; ; start += config.BatchSize {
				end := min(start+config.BatchSize, len(events))
				source.On("Due", ctx, config.BatchSize).Return(events[start:end], nil).Once()
				if end-start < config.BatchSize {
					break
				}
				if tt.failing[start] && tt.failing[start+1] {
					break
				}
			}

			delivered, err := NewRelay(source, publisher, slog.Default(), config).Flush(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.delivered, delivered)
			publisher.AssertExpectations(t)
			source.AssertExpectations(t)
		})
	}
}

func TestRelay_FlushErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("outbox read failure", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("Due", ctx, 100).Return(nil, errors.New("connection reset"))

		_, err := NewRelay(source, new(MockPublisher), slog.Default(), RelayConfig{}).Flush(ctx)
		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("published but not marked", func(t *testing.T) {
		event := completedEvent(t, 1)
		source := new(MockEventSource)
		publisher := new(MockPublisher)
		source.On("Due", ctx, 100).Return([]*StreamEvent{event}, nil)
		publisher.On("XAdd", ctx, forCrawl(event)).Return(nil)
		source.On("Delivered", ctx, event.ID).Return(ErrEventNotFound)

		delivered, err := NewRelay(source, publisher, slog.Default(), RelayConfig{}).Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, delivered)
		source.AssertNotCalled(t, "Failed", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRelay_StreamEntry(t *testing.T) {
	ctx := context.Background()
	event := completedEvent(t, 12)

	tests := []struct {
		name   string
		maxLen int64
		approx bool
	}{
		{name: "untrimmed stream"},
		{name: "trimmed stream", maxLen: 500, approx: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := new(MockPublisher)
			source := new(MockEventSource)
			source.On("Due", ctx, 100).Return([]*StreamEvent{event}, nil)
			source.On("Delivered", ctx, event.ID).Return(nil)

			var sent *redis.XAddArgs
			publisher.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
				sent = args.Get(1).(*redis.XAddArgs)
			}).Return(nil)

			_, err := NewRelay(source, publisher, slog.Default(), RelayConfig{MaxLen: tt.maxLen}).Flush(ctx)
			require.NoError(t, err)
			require.NotNil(t, sent)

			assert.Equal(t, DefaultStream, sent.Stream)
			assert.Equal(t, tt.maxLen, sent.MaxLen)
			assert.Equal(t, tt.approx, sent.Approx)
			values, ok := sent.Values.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, event.ID.String(), values["event_id"])
			assert.Equal(t, EventCrawlCompleted, values["event_type"])
			assert.Equal(t, "2026-03-01T10:00:43Z", values["created_at"])

			var payload CrawlCompleted
			require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &payload))
			assert.Equal(t, event.CrawlID, payload.CrawlID)
			assert.Equal(t, 12, payload.Products)
		})
	}
}

func TestRelay_Backlog(t *testing.T) {
	ctx := context.Background()

	source := new(MockEventSource)
	source.On("Counts", ctx).Return(OutboxCounts{Pending: 3, Abandoned: 1}, nil).Once()
	source.On("Counts", ctx).Return(OutboxCounts{}, errors.New("db down")).Once()
	relay := NewRelay(source, new(MockPublisher), slog.Default(), RelayConfig{})

	counts, err := relay.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxCounts{Pending: 3, Abandoned: 1}, counts)

	_, err = relay.Backlog(ctx)
	assert.EqualError(t, err, "db down")
}

func TestRelay_Run(t *testing.T) {
	var polls atomic.Int32
	source := new(MockEventSource)
	source.On("Due", mock.Anything, 100).Run(func(mock.Arguments) { polls.Add(1) }).Return([]*StreamEvent{}, nil)
	relay := NewRelay(source, new(MockPublisher), slog.Default(), RelayConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- relay.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return polls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/jobs"
	"github.com/maltedev/recycle-crawler/internal/queue"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	streams, _ := args.Get(0).([]redis.XStream)
	return redis.NewXStreamSliceCmdResult(streams, args.Error(1))
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return redis.NewIntResult(int64(len(ids)), args.Error(0))
}

type fakeSubmitter struct {
	requests []string
	err      error
}

func (f *fakeSubmitter) CreateJob(_ context.Context, locator string, mode crawler.Mode) (*jobs.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, fmt.Sprintf("%s %s", mode, locator))
	return &jobs.Job{ID: fmt.Sprintf("job-%d", len(f.requests))}, nil
}

func testConfig() ConsumerConfig {
	return ConsumerConfig{Stream: "stream:requests", Group: "crawler", Consumer: "c1"}
}

func request(id, eventType, payload string) redis.XMessage {
	values := map[string]interface{}{"event_type": eventType}
	if payload != "" {
		values["payload"] = payload
	}
	return redis.XMessage{ID: id, Values: values}
}

const locator = "https://m.aihuishou.com/p/main/recycle/brand-list?categoryId=1"

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name      string
		msg       redis.XMessage
		submitErr error
		wantErr   bool
		submitted []string
	}{
		{
			name:      "browser mode by default",
			msg:       request("1-0", EventCrawlRequested, `{"locator":"`+locator+`"}`),
			submitted: []string{"browser " + locator},
		},
		{
			name:      "api mode",
			msg:       request("1-0", EventCrawlRequested, `{"locator":"`+locator+`","mode":"API"}`),
			submitted: []string{"api " + locator},
		},
		{
			name: "other event types are skipped",
			msg:  request("1-0", "CRAWL_COMPLETED", `{"locator":"x"}`),
		},
		{
			name: "missing payload is dropped",
			msg:  request("1-0", EventCrawlRequested, ""),
		},
		{
			name: "broken json is dropped",
			msg:  request("1-0", EventCrawlRequested, `{broken`),
		},
		{
			name: "missing locator is dropped",
			msg:  request("1-0", EventCrawlRequested, `{"mode":"api"}`),
		},
		{
			name: "unknown mode is dropped",
			msg:  request("1-0", EventCrawlRequested, `{"locator":"x","mode":"carrier-pigeon"}`),
		},
		{
			name:      "invalid job is dropped",
			msg:       request("1-0", EventCrawlRequested, `{"locator":"x"}`),
			submitErr: fmt.Errorf("%w: bad locator", jobs.ErrInvalidJob),
		},
		{
			name:      "full queue is retried",
			msg:       request("1-0", EventCrawlRequested, `{"locator":"x"}`),
			submitErr: queue.ErrQueueFull,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &fakeSubmitter{err: tt.submitErr}
			c := NewConsumer(new(MockStreamClient), submitter, slog.Default(), testConfig())

			err := c.Handle(context.Background(), tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.submitted, submitter.requests)
		})
	}
}

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledges handled messages", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Group == "crawler" && a.Consumer == "c1" && a.Streams[0] == "stream:requests" && a.Streams[1] == ">"
		})).Return([]redis.XStream{{
			Stream: "stream:requests",
			Messages: []redis.XMessage{
				request("1-0", EventCrawlRequested, `{"locator":"a"}`),
				request("2-0", "OTHER", ""),
			},
		}}, nil)
		client.On("XAck", ctx, "stream:requests", "crawler", []string{"1-0"}).Return(nil)
		client.On("XAck", ctx, "stream:requests", "crawler", []string{"2-0"}).Return(nil)

		submitter := &fakeSubmitter{}
		acked, err := NewConsumer(client, submitter, slog.Default(), testConfig()).Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, acked)
		assert.Equal(t, []string{"browser a"}, submitter.requests)
		client.AssertExpectations(t)
	})

	t.Run("leaves rejected requests pending", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   "stream:requests",
			Messages: []redis.XMessage{request("1-0", EventCrawlRequested, `{"locator":"a"}`)},
		}}, nil)

		acked, err := NewConsumer(client, &fakeSubmitter{err: queue.ErrQueueClosed}, slog.Default(), testConfig()).Poll(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
		client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("timeout without messages", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

		acked, err := NewConsumer(client, &fakeSubmitter{}, slog.Default(), testConfig()).Poll(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
	})

	t.Run("read error", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := NewConsumer(client, &fakeSubmitter{}, slog.Default(), testConfig()).Poll(ctx)
		assert.EqualError(t, err, "connection refused")
	})
}

func TestConsumer_Run(t *testing.T) {
	t.Run("existing group is fine", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", ctx, "stream:requests", "crawler", "0").
			Return(errors.New("BUSYGROUP Consumer Group name already exists"))
		client.On("XReadGroup", ctx, reading("0")).Run(func(mock.Arguments) { cancel() }).Return(nil, redis.Nil)

		err := NewConsumer(client, &fakeSubmitter{}, slog.Default(), testConfig()).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		client.AssertExpectations(t)
	})

	t.Run("group creation failure", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("NOAUTH"))

		err := NewConsumer(client, &fakeSubmitter{}, slog.Default(), testConfig()).Run(context.Background())
		assert.ErrorContains(t, err, "failed to create consumer group")
	})
}

func reading(id string) interface{} {
	return mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		if a.Streams[1] != id {
			return false
		}
		// pending entries are read without blocking
		return id == ">" || a.Block < 0
	})
}

func TestConsumer_RetriesPendingRequests(t *testing.T) {
	ctx := context.Background()
	msg := request("1-0", EventCrawlRequested, `{"locator":"a"}`)

	client := new(MockStreamClient)
	client.On("XReadGroup", ctx, reading(">")).Return([]redis.XStream{{Stream: "stream:requests", Messages: []redis.XMessage{msg}}}, nil).Once()
	client.On("XReadGroup", ctx, reading(">")).Return(nil, redis.Nil).Once()
	client.On("XReadGroup", ctx, reading("0")).Return([]redis.XStream{{Stream: "stream:requests", Messages: []redis.XMessage{msg}}}, nil).Once()
	client.On("XReadGroup", ctx, reading("0")).Return([]redis.XStream{{Stream: "stream:requests"}}, nil).Once()
	client.On("XAck", ctx, "stream:requests", "crawler", []string{"1-0"}).Return(nil).Once()

	submitter := &fakeSubmitter{err: queue.ErrQueueFull}
	now := time.Unix(1_700_000_000, 0)
	c := NewConsumer(client, submitter, slog.Default(), testConfig())
	c.now = func() time.Time { return now }

	acked, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, acked)

	// not due yet, so new messages are read instead
	acked, err = c.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, acked)

	now = now.Add(31 * time.Second)
	submitter.err = nil

	acked, err = c.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Equal(t, []string{"browser a"}, submitter.requests)

	acked, err = c.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, acked)
	assert.False(t, c.backlog)

	client.AssertExpectations(t)
}

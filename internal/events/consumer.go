// Package events consumes crawl requests published on a Redis stream and
// hands them to the job manager.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/jobs"
)

const EventCrawlRequested = "CRAWL_REQUESTED"

var errMalformed = errors.New("malformed crawl request")

// StreamClient is the subset of the redis client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Submitter accepts crawl jobs. *jobs.Manager implements it.
type Submitter interface {
	CreateJob(ctx context.Context, locator string, mode crawler.Mode) (*jobs.Job, error)
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
	// RetryInterval is how long a rejected request stays pending before the
	// consumer reads its pending entries again.
	RetryInterval time.Duration
}

type CrawlRequest struct {
	Locator string `json:"locator"`
	Mode    string `json:"mode"`
}

type Consumer struct {
	client StreamClient
	jobs   Submitter
	logger *slog.Logger
	config ConsumerConfig
	now    func() time.Time

	// backlog is set while this consumer may own unacknowledged entries.
	backlog bool
	retryAt time.Time
}

func NewConsumer(client StreamClient, submitter Submitter, logger *slog.Logger, config ConsumerConfig) *Consumer {
	if config.Block <= 0 {
		config.Block = 5 * time.Second
	}
	if config.Count <= 0 {
		config.Count = 10
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 30 * time.Second
	}
	return &Consumer{
		client: client,
		jobs:   submitter,
		logger: logger.With("component", "request_consumer"),
		config: config,
		now:    time.Now,
	}
}

// Run reads the stream until ctx is done. Messages are acknowledged once
// handled. A request the queue could not take stays pending and is read
// again after RetryInterval; entries left pending by a previous run of the
// same consumer name are read first.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.config.Stream, "group", c.config.Group)
	c.backlog = true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll performs one read and handles what arrived. When pending entries are
// due for a retry it reads those, otherwise it blocks for new messages. It
// returns the number of messages acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if c.backlog && !c.now().Before(c.retryAt) {
		return c.read(ctx, "0")
	}
	return c.read(ctx, ">")
}

func (c *Consumer) read(ctx context.Context, id string) (int, error) {
	pending := id != ">"
	args := &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		Streams:  []string{c.config.Stream, id},
		Count:    c.config.Count,
		Block:    c.config.Block,
	}
	if pending {
		args.Block = -1
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		if pending {
			c.backlog = false
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	read, acked := 0, 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			read++
			if err := c.Handle(ctx, msg); err != nil {
				c.logger.Error("failed to submit crawl request", "id", msg.ID, "error", err)
				c.retryLater()
				continue
			}
			if err := c.client.XAck(ctx, c.config.Stream, c.config.Group, msg.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				c.retryLater()
				continue
			}
			acked++
		}
	}

	if pending && read == 0 {
		c.backlog = false
	}
	return acked, nil
}

func (c *Consumer) retryLater() {
	c.backlog = true
	c.retryAt = c.now().Add(c.config.RetryInterval)
}

// Handle submits one message. Other event types and malformed requests are
// dropped without error so they get acknowledged.
func (c *Consumer) Handle(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != EventCrawlRequested {
		return nil
	}

	req, err := decodeRequest(msg)
	if err != nil {
		c.logger.Warn("dropping crawl request", "id", msg.ID, "error", err)
		return nil
	}

	mode, err := crawler.ParseMode(req.Mode)
	if err != nil {
		c.logger.Warn("dropping crawl request", "id", msg.ID, "error", err)
		return nil
	}

	job, err := c.jobs.CreateJob(ctx, req.Locator, mode)
	if errors.Is(err, jobs.ErrInvalidJob) {
		c.logger.Warn("dropping crawl request", "id", msg.ID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("crawl requested", "id", msg.ID, "job_id", job.ID, "locator", req.Locator, "mode", string(mode))
	return nil
}

func decodeRequest(msg redis.XMessage) (CrawlRequest, error) {
	var req CrawlRequest
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return req, fmt.Errorf("%w: missing payload", errMalformed)
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return req, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if strings.TrimSpace(req.Locator) == "" {
		return req, fmt.Errorf("%w: missing locator", errMalformed)
	}
	return req, nil
}

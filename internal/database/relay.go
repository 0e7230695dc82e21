package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher appends to a Redis stream. *redis.Client implements it.
type Publisher interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// EventSource is the outbox side of the relay. *Outbox implements it.
type EventSource interface {
	Due(ctx context.Context, limit int) ([]*StreamEvent, error)
	Delivered(ctx context.Context, id uuid.UUID) error
	Failed(ctx context.Context, id uuid.UUID, cause error) error
	Counts(ctx context.Context) (OutboxCounts, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxLen trims each stream to roughly this many entries. Zero keeps all.
	MaxLen int64
}

// Relay moves crawl events from the outbox to their Redis streams.
type Relay struct {
	events    EventSource
	publisher Publisher
	logger    *slog.Logger
	config    RelayConfig
}

func NewRelay(events EventSource, publisher Publisher, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		events:    events,
		publisher: publisher,
		logger:    logger.With("component", "relay"),
		config:    config,
	}
}

// Run flushes the outbox every PollInterval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.config.PollInterval, "batch_size", r.config.BatchSize)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to flush outbox", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush publishes due events batch by batch until a batch comes back short
// or publishes nothing. It returns the number of events delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	delivered := 0
	for {
		batch, err := r.events.Due(ctx, r.config.BatchSize)
		if err != nil {
			return delivered, fmt.Errorf("failed to read outbox: %w", err)
		}

		n := 0
		for _, event := range batch {
			if r.deliver(ctx, event) {
				n++
			}
		}
		delivered += n

		if len(batch) < r.config.BatchSize || n == 0 {
			return delivered, nil
		}
	}
}

func (r *Relay) deliver(ctx context.Context, event *StreamEvent) bool {
	log := r.logger.With("event_id", event.ID, "crawl_id", event.CrawlID, "stream", event.Stream)

	if err := r.publish(ctx, event); err != nil {
		log.Warn("failed to publish event", "attempt", event.Attempts+1, "error", err)
		if err := r.events.Failed(ctx, event.ID, err); err != nil {
			log.Error("failed to record publish failure", "error", err)
		}
		return false
	}

	// The entry is already on the stream, so a failure here means it is
	// published again on the next flush.
	if err := r.events.Delivered(ctx, event.ID); err != nil {
		log.Error("failed to mark event delivered", "error", err)
		return false
	}

	log.Info("event relayed", "event_type", event.Type)
	return true
}

func (r *Relay) publish(ctx context.Context, event *StreamEvent) error {
	args := &redis.XAddArgs{
		Stream: event.Stream,
		Values: streamValues(event),
	}
	if r.config.MaxLen > 0 {
		args.MaxLen = r.config.MaxLen
		args.Approx = true
	}
	if err := r.publisher.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", event.Stream, err)
	}
	return nil
}

// streamValues lays an event out as flat stream fields. Readers switch on
// event_type and decode payload, the same shape crawl requests arrive in.
func streamValues(event *StreamEvent) map[string]interface{} {
	return map[string]interface{}{
		"event_id":   event.ID.String(),
		"event_type": event.Type,
		"crawl_id":   event.CrawlID.String(),
		"payload":    string(event.Payload),
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339),
		"source":     "recycle-crawler",
	}
}

// Backlog reports the outbox counts for health checks.
func (r *Relay) Backlog(ctx context.Context) (OutboxCounts, error) {
	return r.events.Counts(ctx)
}

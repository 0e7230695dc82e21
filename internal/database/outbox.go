package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Event states in crawl_event.
const (
	EventPending   = "pending"
	EventRetrying  = "retrying"
	EventDelivered = "delivered"
	EventAbandoned = "abandoned"
)

const (
	DefaultStream       = "stream:recycle_crawls"
	EventCrawlCompleted = "CRAWL_COMPLETED"

	// maxAttempts failed publishes move an event to EventAbandoned.
	maxAttempts = 5
	maxBackoff  = 5 * time.Minute
)

var ErrEventNotFound = errors.New("outbox event not found")

// CrawlCompleted is the payload announced for every stored crawl run.
type CrawlCompleted struct {
	CrawlID         uuid.UUID   `json:"crawl_id"`
	Locator         string      `json:"locator"`
	Mode            string      `json:"mode"`
	Status          CrawlStatus `json:"status"`
	CategoryID      string      `json:"category_id"`
	FrontCategoryID string      `json:"front_category_id"`
	Brands          int         `json:"brands"`
	Collections     int         `json:"collections"`
	Products        int         `json:"products"`
	FetchFailures   int         `json:"fetch_failures"`
	FinishedAt      time.Time   `json:"finished_at"`
}

func NewCrawlCompleted(run *CrawlRun) CrawlCompleted {
	return CrawlCompleted{
		CrawlID:         run.ID,
		Locator:         run.Locator,
		Mode:            run.Mode,
		Status:          run.Status,
		CategoryID:      run.CategoryID,
		FrontCategoryID: run.FrontCategoryID,
		Brands:          run.Brands,
		Collections:     run.Collections,
		Products:        run.Products,
		FetchFailures:   run.FetchFailures,
		FinishedAt:      run.FinishedAt.UTC().Truncate(time.Second),
	}
}

// StreamEvent is a queued event that still has to reach its stream.
type StreamEvent struct {
	ID        uuid.UUID
	CrawlID   uuid.UUID
	Type      string
	Stream    string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// OutboxCounts is the relay backlog.
type OutboxCounts struct {
	Pending   int64 `json:"pending"`
	Abandoned int64 `json:"abandoned"`
}

// Outbox stores crawl events next to the crawl they describe, so an event
// exists exactly when its crawl was committed.
type Outbox struct {
	db  *DB
	now func() time.Time
}

func NewOutbox(db *DB) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

func (o *Outbox) enqueueCrawlCompleted(ctx context.Context, tx pgx.Tx, stream string, run *CrawlRun) (*StreamEvent, error) {
	payload, err := json.Marshal(NewCrawlCompleted(run))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &StreamEvent{
		ID:        uuid.New(),
		CrawlID:   run.ID,
		Type:      EventCrawlCompleted,
		Stream:    stream,
		Payload:   payload,
		CreatedAt: o.now(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO crawl_event (id, crawl_id, event_type, stream, payload, state, created_at, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		event.ID, event.CrawlID, event.Type, event.Stream, event.Payload, EventPending, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to queue crawl event: %w", err)
	}
	return event, nil
}

// Due returns up to limit events whose next publish attempt is due, oldest
// first.
func (o *Outbox) Due(ctx context.Context, limit int) ([]*StreamEvent, error) {
	rows, err := o.db.pool.Query(ctx, `
		SELECT id, crawl_id, event_type, stream, payload, attempts, created_at
		FROM crawl_event
		WHERE state IN ($1, $2) AND due_at <= $3
		ORDER BY created_at
		LIMIT $4`,
		EventPending, EventRetrying, o.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}
	defer rows.Close()

	var events []*StreamEvent
	for rows.Next() {
		e := &StreamEvent{}
		if err := rows.Scan(&e.ID, &e.CrawlID, &e.Type, &e.Stream, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// Delivered records a successful publish.
func (o *Outbox) Delivered(ctx context.Context, id uuid.UUID) error {
	tag, err := o.db.pool.Exec(ctx, `
		UPDATE crawl_event
		SET state = $1, delivered_at = $2, last_error = NULL
		WHERE id = $3 AND state IN ($4, $5)`,
		EventDelivered, o.now(), id, EventPending, EventRetrying)
	if err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// Failed records a failed publish and schedules the next attempt, or
// abandons the event once it has used up its attempts.
func (o *Outbox) Failed(ctx context.Context, id uuid.UUID, cause error) error {
	return o.db.Transaction(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx, "SELECT attempts FROM crawl_event WHERE id = $1 FOR UPDATE", id).Scan(&attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock event: %w", err)
		}

		attempts++
		state := EventRetrying
		if attempts >= maxAttempts {
			state = EventAbandoned
		}

		_, err = tx.Exec(ctx, `
			UPDATE crawl_event
			SET state = $1, attempts = $2, last_error = $3, due_at = $4
			WHERE id = $5`,
			state, attempts, cause.Error(), o.now().Add(backoff(attempts)), id)
		if err != nil {
			return fmt.Errorf("failed to mark event failed: %w", err)
		}
		return nil
	})
}

// Counts reports how many events wait for delivery and how many were
// abandoned.
func (o *Outbox) Counts(ctx context.Context) (OutboxCounts, error) {
	var c OutboxCounts
	err := o.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state IN ($1, $2)),
			COUNT(*) FILTER (WHERE state = $3)
		FROM crawl_event`,
		EventPending, EventRetrying, EventAbandoned).Scan(&c.Pending, &c.Abandoned)
	if err != nil {
		return OutboxCounts{}, fmt.Errorf("failed to count events: %w", err)
	}
	return c, nil
}

// backoff doubles from one second per attempt, capped at maxBackoff.
func backoff(attempts int) time.Duration {
	if attempts >= 16 {
		return maxBackoff
	}
	return min(time.Second<<attempts, maxBackoff)
}

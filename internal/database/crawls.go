package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/recycle-crawler/internal/models"
)

var ErrCrawlNotFound = errors.New("crawl not found")

type CrawlStatus string

const (
	CrawlStatusCompleted CrawlStatus = "completed"
	// CrawlStatusPartial marks a crawl that finished with fetch failures.
	CrawlStatusPartial CrawlStatus = "partial"
	CrawlStatusFailed  CrawlStatus = "failed"
)

// CrawlRun is the persisted summary of one finished crawl.
type CrawlRun struct {
	ID              uuid.UUID   `json:"id"`
	Locator         string      `json:"locator"`
	Mode            string      `json:"mode"`
	Status          CrawlStatus `json:"status"`
	CategoryID      string      `json:"categoryId"`
	FrontCategoryID string      `json:"frontCategoryId"`
	BizType         string      `json:"bizType,omitempty"`
	Brands          int         `json:"brands"`
	Collections     int         `json:"collections"`
	Products        int         `json:"products"`
	Fetches         int         `json:"fetches"`
	FetchFailures   int         `json:"fetchFailures"`
	Error           *string     `json:"error,omitempty"`
	StartedAt       time.Time   `json:"startedAt"`
	FinishedAt      time.Time   `json:"finishedAt"`
}

type CrawlStore struct {
	db     *DB
	outbox *Outbox
	stream string
}

func NewCrawlStore(db *DB, stream string) *CrawlStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &CrawlStore{
		db:     db,
		outbox: NewOutbox(db),
		stream: stream,
	}
}

var productColumns = []string{
	"crawl_id", "position", "product_id", "raw_id", "name", "brand_id", "brand_name", "series_name",
	"collection_id", "collection_title", "sub_title", "image_url", "max_price",
}

// Save stores the run, its products and a CRAWL_COMPLETED event in one
// transaction.
func (s *CrawlStore) Save(ctx context.Context, run *CrawlRun, products []models.Product) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO crawl_run (
				id, locator, mode, status, category_id, front_category_id, biz_type,
				brands, collections, products, fetches, fetch_failures,
				error_message, started_at, finished_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
			)`,
			run.ID, run.Locator, run.Mode, string(run.Status), run.CategoryID, run.FrontCategoryID, run.BizType,
			run.Brands, run.Collections, run.Products, run.Fetches, run.FetchFailures,
			run.Error, run.StartedAt, run.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert crawl run: %w", err)
		}

		if len(products) > 0 {
			if _, err := tx.CopyFrom(ctx,
				pgx.Identifier{"crawl_product"},
				productColumns,
				pgx.CopyFromRows(productRows(run.ID, products)),
			); err != nil {
				return fmt.Errorf("failed to copy products: %w", err)
			}
		}

		_, err = s.outbox.enqueueCrawlCompleted(ctx, tx, s.stream, run)
		return err
	})
}

func productRows(crawlID uuid.UUID, products []models.Product) [][]any {
	rows := make([][]any, 0, len(products))
	for i, p := range products {
		rows = append(rows, []any{
			crawlID, i, p.ID, p.RawID, p.Name, p.BrandID, p.BrandName, p.SeriesName,
			p.CollectionID, p.CollectionTitle, p.SubTitle, p.ImageURL, p.MaxPrice,
		})
	}
	return rows
}

const crawlRunColumns = `
	id, locator, mode, status, category_id, front_category_id, biz_type,
	brands, collections, products, fetches, fetch_failures,
	error_message, started_at, finished_at`

func scanCrawlRun(row pgx.Row) (*CrawlRun, error) {
	run := &CrawlRun{}
	var status string
	err := row.Scan(
		&run.ID, &run.Locator, &run.Mode, &status, &run.CategoryID, &run.FrontCategoryID, &run.BizType,
		&run.Brands, &run.Collections, &run.Products, &run.Fetches, &run.FetchFailures,
		&run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = CrawlStatus(status)
	return run, nil
}

func (s *CrawlStore) Get(ctx context.Context, id uuid.UUID) (*CrawlRun, error) {
	row := s.db.pool.QueryRow(ctx, "SELECT"+crawlRunColumns+" FROM crawl_run WHERE id = $1", id)
	run, err := scanCrawlRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCrawlNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl: %w", err)
	}
	return run, nil
}

func (s *CrawlStore) List(ctx context.Context, limit int) ([]*CrawlRun, error) {
	rows, err := s.db.pool.Query(ctx,
		"SELECT"+crawlRunColumns+" FROM crawl_run ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var runs []*CrawlRun
	for rows.Next() {
		run, err := scanCrawlRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// Products returns the products of one crawl in the order they were found.
func (s *CrawlStore) Products(ctx context.Context, crawlID uuid.UUID) ([]models.Product, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT product_id, raw_id, name, brand_id, brand_name, series_name,
			collection_id, collection_title, sub_title, image_url, max_price
		FROM crawl_product
		WHERE crawl_id = $1
		ORDER BY position`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(
			&p.ID, &p.RawID, &p.Name, &p.BrandID, &p.BrandName, &p.SeriesName,
			&p.CollectionID, &p.CollectionTitle, &p.SubTitle, &p.ImageURL, &p.MaxPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return products, nil
}

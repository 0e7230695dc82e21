package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/recycle-crawler/internal/models"
)

func sampleProducts() []models.Product {
	price := 1299.5
	return []models.Product{
		{ID: 200, Name: "Mate 60", BrandID: 2, BrandName: "Huawei", SeriesName: "Mate"},
		{ID: 100, Name: "iPhone 15", BrandID: 1, BrandName: "Apple", CollectionID: 11,
			CollectionTitle: "iPhone 15 Series", SubTitle: "128G", ImageURL: "img", MaxPrice: &price},
	}
}

func sampleRun() *CrawlRun {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &CrawlRun{
		Locator:         "https://m.aihuishou.com/n/#/category?frontCategoryId=145&categoryId=1",
		Mode:            "browser",
		Status:          CrawlStatusPartial,
		CategoryID:      "1",
		FrontCategoryID: "145",
		Brands:          2,
		Collections:     1,
		Products:        2,
		Fetches:         5,
		FetchFailures:   1,
		StartedAt:       started,
		FinishedAt:      started.Add(42 * time.Second),
	}
}

func TestProductRows(t *testing.T) {
	id := uuid.New()
	rows := productRows(id, sampleProducts())

	require.Len(t, rows, 2)
	assert.Len(t, rows[0], len(productColumns))
	assert.Equal(t, []any{id, 0, int64(200), ""}, rows[0][:4])
	assert.Equal(t, 1, rows[1][1])
	assert.Nil(t, rows[0][len(productColumns)-1])
}

func TestCrawlStore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewCrawlStore(db, "")

	run := sampleRun()
	require.NoError(t, store.Save(ctx, run, sampleProducts()))
	require.NotEqual(t, uuid.Nil, run.ID)

	t.Run("get", func(t *testing.T) {
		got, err := store.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.Locator, got.Locator)
		assert.Equal(t, CrawlStatusPartial, got.Status)
		assert.Equal(t, 2, got.Products)
		assert.Nil(t, got.Error)
		assert.True(t, run.FinishedAt.Equal(got.FinishedAt))
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrCrawlNotFound)
	})

	t.Run("products keep crawl order", func(t *testing.T) {
		products, err := store.Products(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Equal(t, int64(200), products[0].ID)
		assert.Nil(t, products[0].MaxPrice)
		require.NotNil(t, products[1].MaxPrice)
		assert.InDelta(t, 1299.5, *products[1].MaxPrice, 0.001)
		assert.Equal(t, "iPhone 15 Series", products[1].CollectionTitle)
	})

	t.Run("list newest first", func(t *testing.T) {
		older := sampleRun()
		older.StartedAt = run.StartedAt.Add(-time.Hour)
		older.Status = CrawlStatusFailed
		msg := "category identifiers unresolved"
		older.Error = &msg
		require.NoError(t, store.Save(ctx, older, nil))

		runs, err := store.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, run.ID, runs[0].ID)
		assert.Equal(t, older.ID, runs[1].ID)
		require.NotNil(t, runs[1].Error)
		assert.Equal(t, msg, *runs[1].Error)
	})

	t.Run("completion events are queued", func(t *testing.T) {
		events, err := store.outbox.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, run.ID, events[0].CrawlID)
		assert.Equal(t, EventCrawlCompleted, events[0].Type)
		assert.Equal(t, DefaultStream, events[0].Stream)

		counts, err := store.outbox.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutboxCounts{Pending: 2}, counts)
	})

	t.Run("raw product ids survive", func(t *testing.T) {
		raw := sampleRun()
		products := []models.Product{{RawID: "S-9", Name: "A"}, {RawID: "S-10", Name: "B"}}
		require.NoError(t, store.Save(ctx, raw, products))

		got, err := store.Products(ctx, raw.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "S-9", got[0].Key())
		assert.Equal(t, "S-10", got[1].Key())
	})
}

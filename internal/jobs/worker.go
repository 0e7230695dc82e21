package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/database"
	"github.com/maltedev/recycle-crawler/internal/models"
	"github.com/maltedev/recycle-crawler/internal/queue"
)

const storeTimeout = 30 * time.Second

// StartWorker runs queued jobs one at a time until ctx is done or the queue
// is closed. Only one crawl is ever in flight.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to pop job", "error", err)
			continue
		}

		m.processJob(ctx, task)
	}
}

func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	started := time.Now()
	m.update(task.ID, func(e *entry) {
		e.job.Status = StatusRunning
		e.job.StartedAt = &started
	})

	m.logger.Info("processing job", "id", task.ID, "url", task.Locator, "mode", task.Mode)

	result, err := m.runner.Run(ctx, crawler.Mode(task.Mode), task.Locator)
	finished := time.Now()
	status := finalStatus(result, err)

	m.update(task.ID, func(e *entry) {
		e.job.Status = status
		e.job.CompletedAt = &finished
		if err != nil {
			e.job.Error = err.Error()
		}
		if result != nil {
			stats := result.Stats
			e.job.Stats = &stats
			e.job.Category = result.Category
			e.products = result.Products()
			e.job.Products = len(e.products)
		}
		m.prune()
	})

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "error", err)
	} else {
		m.logger.Info("job completed", "id", task.ID, "status", status)
	}

	if m.store != nil {
		m.persist(ctx, task, started, finished, status, result, err)
	}
}

func (m *Manager) persist(ctx context.Context, task *queue.Task, started, finished time.Time,
	status Status, result *crawler.Result, crawlErr error) {
	id, err := uuid.Parse(task.ID)
	if err != nil {
		m.logger.Error("job id is not a uuid", "id", task.ID)
		return
	}

	run := &database.CrawlRun{
		ID:         id,
		Locator:    task.Locator,
		Mode:       task.Mode,
		Status:     database.CrawlStatus(status),
		StartedAt:  started,
		FinishedAt: finished,
	}
	if crawlErr != nil {
		msg := crawlErr.Error()
		run.Error = &msg
	}

	var products []models.Product
	if result != nil {
		products = result.Products()
		run.CategoryID = result.Category.CategoryID
		run.FrontCategoryID = result.Category.FrontCategoryID
		run.BizType = result.Category.BizType
		run.Brands = result.Stats.Brands
		run.Collections = result.Stats.Collections
		run.Products = len(products)
		run.Fetches = result.Stats.Fetches
		run.FetchFailures = len(result.Stats.FetchFailures)
	}

	// ctx is already cancelled when the worker is shutting down
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := m.store.Save(storeCtx, run, products); err != nil {
		m.logger.Error("failed to store crawl", "id", task.ID, "error", err)
		return
	}
	m.logger.Info("crawl stored", "id", task.ID, "products", len(products))
}

func finalStatus(result *crawler.Result, err error) Status {
	switch {
	case err != nil:
		return StatusFailed
	case result != nil && len(result.Stats.FetchFailures) > 0:
		return StatusPartial
	default:
		return StatusCompleted
	}
}

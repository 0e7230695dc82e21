package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/database"
	"github.com/maltedev/recycle-crawler/internal/models"
	"github.com/maltedev/recycle-crawler/internal/queue"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("invalid job")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// DefaultRetention is how many finished jobs stay in memory.
const DefaultRetention = 100

// Runner performs one crawl.
type Runner interface {
	Run(ctx context.Context, mode crawler.Mode, locator string) (*crawler.Result, error)
}

type RunnerFunc func(ctx context.Context, mode crawler.Mode, locator string) (*crawler.Result, error)

func (f RunnerFunc) Run(ctx context.Context, mode crawler.Mode, locator string) (*crawler.Result, error) {
	return f(ctx, mode, locator)
}

// Store persists finished crawls. *database.CrawlStore satisfies it.
type Store interface {
	Save(ctx context.Context, run *database.CrawlRun, products []models.Product) error
	Get(ctx context.Context, id uuid.UUID) (*database.CrawlRun, error)
	Products(ctx context.Context, crawlID uuid.UUID) ([]models.Product, error)
}

// Job represents a crawl job
type Job struct {
	ID          string              `json:"id"`
	Locator     string              `json:"locator"`
	Mode        crawler.Mode        `json:"mode"`
	Status      Status              `json:"status"`
	Category    models.CategoryInfo `json:"category"`
	Stats       *crawler.Stats      `json:"stats,omitempty"`
	Products    int                 `json:"products"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// Stats summarizes the jobs known to the manager.
type Stats struct {
	TotalJobs     int     `json:"totalJobs"`
	PendingJobs   int     `json:"pendingJobs"`
	RunningJobs   int     `json:"runningJobs"`
	CompletedJobs int     `json:"completedJobs"`
	PartialJobs   int     `json:"partialJobs"`
	FailedJobs    int     `json:"failedJobs"`
	TotalProducts int     `json:"totalProducts"`
	SuccessRate   float64 `json:"successRate"`
}

type entry struct {
	job      Job
	products []models.Product
}

type Manager struct {
	runner    Runner
	queue     queue.Queue
	store     Store
	logger    *slog.Logger
	retention int

	mu    sync.RWMutex
	jobs  map[string]*entry
	order []string
}

// NewManager wires a manager. store may be nil, in which case results live
// in memory only.
func NewManager(runner Runner, q queue.Queue, store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:    runner,
		queue:     q,
		store:     store,
		logger:    logger.With("component", "job_manager"),
		retention: DefaultRetention,
		jobs:      make(map[string]*entry),
	}
}

// CreateJob validates the request and queues a crawl.
func (m *Manager) CreateJob(ctx context.Context, locator string, mode crawler.Mode) (*Job, error) {
	if _, err := crawler.ParseLocator(locator); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	mode, err := crawler.ParseMode(string(mode))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	job := Job{
		ID:        uuid.New().String(),
		Locator:   locator,
		Mode:      mode,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = &entry{job: job}
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{
		ID:        job.ID,
		Locator:   locator,
		Mode:      string(mode),
		CreatedAt: job.CreatedAt,
	}); err != nil {
		m.remove(job.ID)
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", locator, "mode", mode)
	return &job, nil
}

// GetJob returns a snapshot of a job. Jobs no longer held in memory are
// looked up in the store.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[jobID]
	if ok {
		job := e.job
		m.mu.RUnlock()
		return &job, nil
	}
	m.mu.RUnlock()

	id, err := m.storeID(jobID)
	if err != nil {
		return nil, err
	}
	run, err := m.store.Get(ctx, id)
	if errors.Is(err, database.ErrCrawlNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return jobFromRun(run), nil
}

// ListJobs returns the jobs held in memory, newest first.
func (m *Manager) ListJobs(_ context.Context) []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]].job
		jobs = append(jobs, &job)
	}
	return jobs
}

// GetJobProducts returns the products a finished job collected.
func (m *Manager) GetJobProducts(ctx context.Context, jobID string) ([]models.Product, error) {
	m.mu.RLock()
	e, ok := m.jobs[jobID]
	if ok {
		products := append([]models.Product(nil), e.products...)
		m.mu.RUnlock()
		return products, nil
	}
	m.mu.RUnlock()

	id, err := m.storeID(jobID)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Get(ctx, id); err != nil {
		if errors.Is(err, database.ErrCrawlNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	products, err := m.store.Products(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job products: %w", err)
	}
	return products, nil
}

func (m *Manager) GetStats(_ context.Context) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for _, e := range m.jobs {
		stats.TotalJobs++
		stats.TotalProducts += e.job.Products
		switch e.job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusPartial:
			stats.PartialJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}

	if finished := stats.CompletedJobs + stats.PartialJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs+stats.PartialJobs) / float64(finished) * 100
	}
	return stats
}

func (m *Manager) storeID(jobID string) (uuid.UUID, error) {
	if m.store == nil {
		return uuid.Nil, ErrJobNotFound
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		return uuid.Nil, ErrJobNotFound
	}
	return id, nil
}

func (m *Manager) update(jobID string, fn func(e *entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[jobID]; ok {
		fn(e)
	}
}

func (m *Manager) remove(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	for i, id := range m.order {
		if id == jobID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// prune drops the oldest finished jobs beyond the retention limit. Callers
// hold mu.
func (m *Manager) prune() {
	finished := 0
	for _, id := range m.order {
		if m.jobs[id].job.Status.Finished() {
			finished++
		}
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if finished > m.retention && m.jobs[id].job.Status.Finished() {
			delete(m.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func jobFromRun(run *database.CrawlRun) *Job {
	job := &Job{
		ID:      run.ID.String(),
		Locator: run.Locator,
		Mode:    crawler.Mode(run.Mode),
		Status:  Status(run.Status),
		Category: models.CategoryInfo{
			CategoryID:      run.CategoryID,
			FrontCategoryID: run.FrontCategoryID,
			BizType:         run.BizType,
		},
		Products:    run.Products,
		CreatedAt:   run.StartedAt,
		StartedAt:   &run.StartedAt,
		CompletedAt: &run.FinishedAt,
	}
	if run.Error != nil {
		job.Error = *run.Error
	}
	return job
}

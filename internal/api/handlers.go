package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/database"
	"github.com/maltedev/recycle-crawler/internal/export"
	"github.com/maltedev/recycle-crawler/internal/jobs"
	"github.com/maltedev/recycle-crawler/internal/queue"
)

// OutboxStats reports the relay backlog for the health check.
type OutboxStats interface {
	Backlog(ctx context.Context) (database.OutboxCounts, error)
}

const (
	pendingWarnThreshold   = 1000
	abandonedFailThreshold = 100
)

type Handlers struct {
	jobs   *jobs.Manager
	outbox OutboxStats
	logger *slog.Logger
}

// NewHandlers builds the handlers. outbox may be nil when no database is
// configured.
func NewHandlers(jobs *jobs.Manager, outbox OutboxStats, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:   jobs,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// CreateCrawlRequest represents a new crawl request
type CreateCrawlRequest struct {
	Locator string `json:"locator"`
	Mode    string `json:"mode"`
}

type CreateCrawlResponse struct {
	JobID   string      `json:"jobId"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateCrawl queues a crawl of one category page.
func (h *Handlers) CreateCrawl(w http.ResponseWriter, r *http.Request) {
	var req CreateCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Locator == "" {
		h.respondError(w, http.StatusBadRequest, "locator is required")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Locator, crawler.Mode(req.Mode))
	switch {
	case errors.Is(err, jobs.ErrInvalidJob):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		h.respondError(w, http.StatusServiceUnavailable, "crawl queue unavailable")
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateCrawlResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Crawl queued",
	})
}

func (h *Handlers) GetCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.jobError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListCrawls(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs(r.Context()))
}

// GetCrawlProducts returns a crawl's products as JSON records, or as a
// product table when ?format=csv|xlsx is given.
func (h *Handlers) GetCrawlProducts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	products, err := h.jobs.GetJobProducts(r.Context(), jobID)
	if err != nil {
		h.jobError(w, err)
		return
	}

	raw := r.URL.Query().Get("format")
	if raw == "" {
		h.respondJSON(w, http.StatusOK, products)
		return
	}

	format, err := export.ParseFormat(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := export.Filename("aihuishou_products_"+jobID[:min(8, len(jobID))], format, time.Now())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if err := format.Write(w, export.ProductRows(products)); err != nil {
		h.logger.Error("failed to write products", "job", jobID, "format", format, "error", err)
	}
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats(r.Context()))
}

// Health reports ok, or the outbox backlog when it grows.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Backlog(r.Context())
		switch {
		case err != nil:
			h.logger.Error("failed to get outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case stats.Abandoned > abandonedFailThreshold:
			health["status"] = "error"
			health["message"] = "High number of abandoned outbox events"
			status = http.StatusServiceUnavailable
		case stats.Pending > pendingWarnThreshold:
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if err == nil {
			health["outbox"] = stats
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "crawl not found")
		return
	}
	h.logger.Error("failed to get job", "error", err)
	h.respondError(w, http.StatusInternalServerError, "failed to get crawl")
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

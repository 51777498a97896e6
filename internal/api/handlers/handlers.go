package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/sghousing/resale-tracker/internal/api/middleware"
	"github.com/sghousing/resale-tracker/internal/dashboard"
	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/jobs"
)

// DatasetReader is the read side of the published dataset.
type DatasetReader interface {
	Dataset(ctx context.Context) (*domain.EnrichedDataset, error)
	LastUpdated(ctx context.Context) (civil.Date, error)
}

// DatasetHandler serves the dashboard endpoints.
type DatasetHandler struct {
	reader DatasetReader
	log    zerolog.Logger
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(reader DatasetReader, log zerolog.Logger) *DatasetHandler {
	return &DatasetHandler{reader: reader, log: log}
}

// ListTransactions handles GET /api/transactions
func (h *DatasetHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	dataset, ok := h.dataset(w, r)
	if !ok {
		return
	}

	rows := filter.Apply(dataset.Rows)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rows":         rows,
		"count":        len(rows),
		"last_updated": dataset.LastUpdated.String(),
	})
}

// Summary handles GET /api/summary
func (h *DatasetHandler) Summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	dataset, ok := h.dataset(w, r)
	if !ok {
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summary": dashboard.Summarize(filter.Apply(dataset.Rows)),
	})
}

// Options handles GET /api/options
func (h *DatasetHandler) Options(w http.ResponseWriter, r *http.Request) {
	dataset, ok := h.dataset(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dashboard.BuildOptions(dataset.Rows, r.URL.Query().Get("town")))
}

// LastUpdated handles GET /api/last-updated
func (h *DatasetHandler) LastUpdated(w http.ResponseWriter, r *http.Request) {
	date, err := h.reader.LastUpdated(r.Context())
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"last_updated": date.String()})
}

func (h *DatasetHandler) dataset(w http.ResponseWriter, r *http.Request) (*domain.EnrichedDataset, bool) {
	dataset, err := h.reader.Dataset(r.Context())
	if err != nil {
		h.writeReadError(w, err)
		return nil, false
	}
	return dataset, true
}

func (h *DatasetHandler) writeReadError(w http.ResponseWriter, err error) {
	if errors.Is(err, dashboard.ErrNoData) {
		middleware.WriteError(w, http.StatusNotFound, "no data")
		return
	}
	h.log.Error().Err(err).Msg("Failed to read dataset")
	middleware.WriteError(w, http.StatusInternalServerError, "failed to read dataset")
}

// parseFilter reads dashboard filters from query parameters. "model" may repeat.
func parseFilter(q url.Values) (dashboard.Filter, error) {
	f := dashboard.Filter{
		Town:   q.Get("town"),
		Models: q["model"],
		Street: q.Get("street"),
	}

	ints := map[string]*int{
		"month_start": &f.MonthStart,
		"month_end":   &f.MonthEnd,
	}
	for name, dst := range ints {
		if raw := q.Get(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return f, errors.New("invalid " + name)
			}
			*dst = v
		}
	}

	floats := map[string]*float64{
		"min_sqm":   &f.MinSqM,
		"max_sqm":   &f.MaxSqM,
		"min_lease": &f.MinLease,
		"min_price": &f.MinPrice,
		"max_price": &f.MaxPrice,
	}
	for name, dst := range floats {
		if raw := q.Get(name); raw != "" {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return f, errors.New("invalid " + name)
			}
			*dst = v
		}
	}
	return f, nil
}

// RefreshHandler enqueues extraction runs.
type RefreshHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(publisher jobs.Publisher, log zerolog.Logger) *RefreshHandler {
	return &RefreshHandler{publisher: publisher, log: log}
}

// Refresh handles POST /api/refresh
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	job := &jobs.RefreshJob{Trigger: "api"}
	if err := h.publisher.PublishRefresh(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue refresh job")
		middleware.WriteError(w, http.StatusInternalServerError, "failed to enqueue refresh job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Msg("Refresh job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

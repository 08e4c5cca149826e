package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/geo"
	"github.com/mapscout/placecrawler/internal/scraper"
)

const (
	defaultJobLimit    = 50
	maxJobLimit        = 500
	defaultDetailLimit = 20
	maxDetailLimit     = 100
)

type createJobRequest struct {
	ClientLabel      string         `json:"client_label"`
	Terms            []string       `json:"terms"`
	Locations        []string       `json:"locations"`
	Grid             *gridRequest   `json:"grid"`
	ResultCapPerTerm int            `json:"result_cap_per_term"`
	Pacing           *pacingRequest `json:"pacing"`
	Fields           []string       `json:"fields"`
}

type gridRequest struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius_meters"`
	Rings        int     `json:"rings"`
}

type pacingRequest struct {
	MinDelayMS     int64 `json:"min_delay_ms"`
	MaxDelayMS     int64 `json:"max_delay_ms"`
	RestEvery      int   `json:"rest_every"`
	RestDurationMS int64 `json:"rest_duration_ms"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.toJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := s.enqueueScrape(r, job.ID, scraper.Cursor{}); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":             job.ID,
		"status":             job.Status,
		"estimated_duration": job.Estimated.String(),
	})
}

// toJob validates a submission and fills defaults.
func (s *Server) toJob(req createJobRequest) (scraper.Job, error) {
	terms := trimNonEmpty(req.Terms)
	if len(terms) == 0 {
		return scraper.Job{}, errors.New("at least one search term is required")
	}
	locations := trimNonEmpty(req.Locations)

	var grid *scraper.GridSpec
	if req.Grid != nil {
		if req.Grid.RadiusMeters <= 0 {
			return scraper.Job{}, errors.New("grid radius_meters must be positive")
		}
		if req.Grid.Rings <= 0 {
			return scraper.Job{}, errors.New("grid rings must be positive")
		}
		grid = &scraper.GridSpec{
			Lat:          req.Grid.Lat,
			Lng:          req.Grid.Lng,
			RadiusMeters: req.Grid.RadiusMeters,
			Rings:        req.Grid.Rings,
		}
		center := geo.Point{Lat: grid.Lat, Lng: grid.Lng}
		for _, p := range geo.Grid(center, grid.RadiusMeters, grid.Rings) {
			locations = append(locations, p.String())
		}
	}

	resultCap := req.ResultCapPerTerm
	switch {
	case resultCap <= 0:
		resultCap = s.cfg.DefaultResultCap
	case resultCap > s.cfg.MaxResultCap:
		resultCap = s.cfg.MaxResultCap
	}

	pacing, err := s.toPacing(req.Pacing)
	if err != nil {
		return scraper.Job{}, err
	}

	fields, err := normalizeFields(req.Fields)
	if err != nil {
		return scraper.Job{}, err
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scraper.Job{
		ID:          id,
		ClientLabel: strings.TrimSpace(req.ClientLabel),
		Terms:       terms,
		Locations:   locations,
		Grid:        grid,
		ResultCap:   resultCap,
		Pacing:      pacing,
		Fields:      fields,
		Status:      scraper.JobStatusPending,
		Created:     s.clock.Now(),
	}
	job.Estimated = scraper.EstimateDuration(job)
	return job, nil
}

func (s *Server) toPacing(req *pacingRequest) (scraper.Pacing, error) {
	p := s.cfg.DefaultPacing
	if req == nil {
		return p, nil
	}
	if req.MinDelayMS > 0 {
		p.MinDelay = time.Duration(req.MinDelayMS) * time.Millisecond
	}
	if req.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(req.MaxDelayMS) * time.Millisecond
	}
	if req.RestEvery > 0 {
		p.RestEvery = req.RestEvery
	}
	if req.RestDurationMS > 0 {
		p.RestDuration = time.Duration(req.RestDurationMS) * time.Millisecond
	}
	if p.MinDelay > p.MaxDelay {
		return scraper.Pacing{}, errors.New("pacing min_delay_ms exceeds max_delay_ms")
	}
	return p, nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *scraper.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = &parsed
	}
	jobs, err := s.jobs.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	limit, offset, err := parseLimitOffset(r, defaultDetailLimit, maxDetailLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	places, err := s.places.ListByJob(r.Context(), jobID, limit, offset)
	if err != nil {
		s.logger.Error("list places failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load places")
		return
	}
	failures, err := s.failures.ListByJob(r.Context(), jobID, limit, offset)
	if err != nil {
		s.logger.Error("list failures failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load failures")
		return
	}
	events, err := s.events.ListByJob(r.Context(), jobID, limit, offset)
	if err != nil {
		s.logger.Error("list events failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":      job,
		"places":   places,
		"failures": failures,
		"events":   events,
	})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.Status != scraper.JobStatusRunning {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot pause a %s job", job.Status))
		return
	}
	if err := s.jobs.RequestPause(r.Context(), jobID); err != nil {
		s.logger.Error("request pause failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to request pause")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pause_requested"})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.Status != scraper.JobStatusPaused {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot resume a %s job", job.Status))
		return
	}
	if err := s.jobs.ClearPauseRequest(r.Context(), jobID); err != nil {
		s.logger.Error("clear pause request failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resume job")
		return
	}
	if err := s.jobs.UpdateStatus(r.Context(), jobID, scraper.JobStatusPending, "", ""); err != nil {
		s.logger.Error("mark job pending failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resume job")
		return
	}
	if err := s.enqueueScrape(r, jobID, job.Cursor); err != nil {
		s.logger.Error("re-enqueue job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to re-enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": scraper.JobStatusPending,
		"cursor": job.Cursor,
	})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("delete job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enqueueScrape(r *http.Request, jobID string, cursor scraper.Cursor) error {
	payload, err := json.Marshal(scraper.ScrapeUnit{JobID: jobID, Cursor: cursor})
	if err != nil {
		return fmt.Errorf("marshal scrape unit: %w", err)
	}
	return s.queue.Enqueue(r.Context(), scraper.UnitScrape, jobID, payload)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(raw string) (scraper.JobStatus, error) {
	status := scraper.JobStatus(strings.ToLower(raw))
	switch status {
	case scraper.JobStatusPending, scraper.JobStatusRunning, scraper.JobStatusCompleted,
		scraper.JobStatusFailed, scraper.JobStatusPaused:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q", raw)
	}
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

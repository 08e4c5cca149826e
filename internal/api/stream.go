package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mapscout/placecrawler/internal/progress"
	"github.com/mapscout/placecrawler/internal/scraper"
)

const streamKeepalive = 15 * time.Second

// streamJob serves the live progress channel for one job over server-sent
// events. The stream closes itself after a terminal event; a client attaching
// to an already-finished job gets the terminal event immediately.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
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
	if s.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "live progress unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.broadcaster.Subscribe(jobID, 64)
	defer cancel()

	// Re-read after subscribing: a job that reached a terminal state between
	// the first load and the subscription has already flushed its terminal
	// event past us.
	if latest, err := s.jobs.GetJob(r.Context(), jobID); err == nil {
		job = latest
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	switch job.Status {
	case scraper.JobStatusCompleted:
		writeSSE(w, flusher, "completed", map[string]string{"job_id": jobID})
		return
	case scraper.JobStatusFailed:
		writeSSE(w, flusher, "failed", map[string]string{"job_id": jobID, "error": job.ErrorText})
		return
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if terminal := forwardEvent(w, flusher, evt); terminal {
				return
			}
		}
	}
}

// forwardEvent translates one hub event into its SSE form and reports
// whether it ended the stream.
func forwardEvent(w http.ResponseWriter, flusher http.Flusher, evt progress.Event) bool {
	switch evt.Stage {
	case progress.StageRecordDone:
		writeSSE(w, flusher, "record", map[string]any{
			"job_id":          evt.JobID,
			"records_scraped": evt.Scraped,
			"current_term":    evt.Term,
		})
	case progress.StageJobDone:
		writeSSE(w, flusher, "completed", map[string]string{"job_id": evt.JobID})
		return true
	case progress.StageJobError:
		writeSSE(w, flusher, "failed", map[string]string{"job_id": evt.JobID, "error": evt.Note})
		return true
	}
	return false
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}

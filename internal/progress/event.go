// Package progress defines the event structures emitted while jobs scrape.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobPaused    Stage = "JOB_PAUSED"
	StageJobResumed   Stage = "JOB_RESUMED"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageRecordDone   Stage = "RECORD_DONE"
	StageRecordFailed Stage = "RECORD_FAILED"
	StageRecordDupe   Stage = "RECORD_DUPLICATE"
	StageRest         Stage = "REST_WINDOW"
	StageEnrichDone   Stage = "ENRICH_DONE"
)

// Event captures a single unit of scraping progress.
type Event struct {
	// JobID identifies the job run.
	JobID string `json:"job_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which lifecycle or record milestone occurred.
	Stage Stage `json:"stage"`
	// Term and Location scope record events to the query that produced them.
	Term     string `json:"term,omitempty"`
	Location string `json:"location,omitempty"`
	// PlaceName names the record for record-level events.
	PlaceName string `json:"place_name,omitempty"`
	// Scraped and Failed carry the job's running totals at emission time.
	Scraped int `json:"scraped"`
	Failed  int `json:"failed"`
	// Dur captures processing latency for record and job completions.
	Dur time.Duration `json:"dur,omitempty"`
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobPaused, StageJobResumed, StageJobDone, StageJobError,
		StageRest, StageEnrichDone:
	case StageRecordDone, StageRecordFailed, StageRecordDupe:
		if e.Term == "" {
			return errors.New("record events require a term")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Package scraper defines core types shared across subsystems.
package scraper

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPaused    JobStatus = "paused"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusPaused
	case JobStatusPaused:
		return to == JobStatusPending
	default:
		return false
	}
}

// Pacing captures the per-job delay configuration requested by the client.
type Pacing struct {
	MinDelay     time.Duration `json:"min_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	RestEvery    int           `json:"rest_every"`
	RestDuration time.Duration `json:"rest_duration"`
}

// Cursor marks the next unprocessed (term, location) pair. It is the sole
// resume point after a pause or crash.
type Cursor struct {
	TermIndex     int `json:"term_index"`
	LocationIndex int `json:"location_index"`
}

// Counters tracks per-job success/failure totals.
type Counters struct {
	Scraped int `json:"scraped"`
	Failed  int `json:"failed"`
}

// GridSpec requests fan-out of a center coordinate into sub-locations.
type GridSpec struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius_meters"`
	Rings        int     `json:"rings"`
}

// Job represents the metadata persisted for each submitted scrape request.
type Job struct {
	ID           string        `json:"id"`
	ClientLabel  string        `json:"client_label"`
	Terms        []string      `json:"terms"`
	Locations    []string      `json:"locations,omitempty"`
	Grid         *GridSpec     `json:"grid,omitempty"`
	ResultCap    int           `json:"result_cap"`
	Pacing       Pacing        `json:"pacing"`
	Fields       []string      `json:"fields,omitempty"`
	Status       JobStatus     `json:"status"`
	Cursor       Cursor        `json:"cursor"`
	Counters     Counters      `json:"counters"`
	PauseReason  string        `json:"pause_reason,omitempty"`
	ErrorText    string        `json:"error_text,omitempty"`
	Estimated    time.Duration `json:"estimated_duration"`
	Created      time.Time     `json:"created_at"`
	Started      *time.Time    `json:"started_at,omitempty"`
	Completed    *time.Time    `json:"completed_at,omitempty"`
	PauseWanted  bool          `json:"-"`
}

// EnrichStatus reflects the secondary contact-harvest pass on a place.
type EnrichStatus string

// Enrichment states stored on each place row.
const (
	EnrichNone     EnrichStatus = ""
	EnrichScraping EnrichStatus = "scraping"
	EnrichDone     EnrichStatus = "done"
	EnrichFailed   EnrichStatus = "failed"
)

// Place is one scraped record. PlaceID is the source system's own stable
// identifier and the global deduplication key; everything else is optional.
type Place struct {
	PlaceID     string       `json:"place_id"`
	JobID       string       `json:"job_id"`
	Name        string       `json:"name,omitempty"`
	Address     string       `json:"address,omitempty"`
	Locality    string       `json:"locality,omitempty"`
	Rating      *float64     `json:"rating,omitempty"`
	Reviews     *int         `json:"review_count,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Website     string       `json:"website,omitempty"`
	Email       string       `json:"email,omitempty"`
	Social      []string     `json:"social_links,omitempty"`
	Lat         *float64     `json:"lat,omitempty"`
	Lng         *float64     `json:"lng,omitempty"`
	OpenStatus  string       `json:"open_status,omitempty"`
	Categories  []string     `json:"categories,omitempty"`
	Hours       string       `json:"hours,omitempty"`
	Description string       `json:"description,omitempty"`
	Enrich      EnrichStatus `json:"enrich_status,omitempty"`
	ScrapedAt   time.Time    `json:"scraped_at"`
}

// FailureKind classifies a per-record failure row.
type FailureKind string

// Failure classifications written to the failure log.
const (
	FailureNavigation FailureKind = "navigation"
	FailureParse      FailureKind = "parse"
	FailurePersist    FailureKind = "persist"
	FailureEnrich     FailureKind = "enrich"
)

// Failure is an append-only record of one per-record error. Never mutated.
type Failure struct {
	JobID    string      `json:"job_id"`
	Term     string      `json:"term"`
	Location string      `json:"location,omitempty"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	At       time.Time   `json:"at"`
}

// EventLevel grades job audit entries.
type EventLevel string

// Severity levels for the per-job event log.
const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// JobEvent is an append-only audit entry for a job.
type JobEvent struct {
	JobID   string     `json:"job_id"`
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// UnitKind selects which worker pool consumes a queue unit.
type UnitKind string

// Queue unit kinds.
const (
	UnitScrape UnitKind = "scrape"
	UnitEnrich UnitKind = "enrich"
)

// ScrapeUnit is the payload of a primary queue unit: the job id plus the
// cursor to resume from. Terms/locations are reloaded from the job store so a
// requeued unit always sees the latest persisted state.
type ScrapeUnit struct {
	JobID  string `json:"job_id"`
	Cursor Cursor `json:"cursor"`
}

// EnrichUnit is the payload of a secondary queue unit.
type EnrichUnit struct {
	PlaceID string `json:"place_id"`
	Website string `json:"website"`
}

// QueueItem wraps a unit leased from the durable queue.
type QueueItem struct {
	ID      int64    `json:"id"`
	Kind    UnitKind `json:"kind"`
	JobID   string   `json:"job_id"`
	Payload []byte   `json:"payload"`
	Attempt int      `json:"attempt"`
}

// JobSummary is the paginated listing shape returned by the API.
type JobSummary struct {
	ID          string     `json:"id"`
	ClientLabel string     `json:"client_label"`
	Status      JobStatus  `json:"status"`
	Counters    Counters   `json:"counters"`
	Created     time.Time  `json:"created_at"`
	Completed   *time.Time `json:"completed_at,omitempty"`
}

package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrChallenge marks an anti-automation interstitial. It is a signal, not a
// failure: the orchestrator pauses the job and never retries automatically.
var ErrChallenge = errors.New("challenge page detected")

// JobStore persists job rows and drives cursor/status updates.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]JobSummary, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, pauseReason, errText string) error
	SetStartedIfUnset(ctx context.Context, jobID string, at time.Time) error
	SetCompleted(ctx context.Context, jobID string, at time.Time) error
	UpdateCursor(ctx context.Context, jobID string, cursor Cursor) error
	UpdateCounters(ctx context.Context, jobID string, counters Counters) error
	RequestPause(ctx context.Context, jobID string) error
	ClearPauseRequest(ctx context.Context, jobID string) error
	PauseRequested(ctx context.Context, jobID string) (bool, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// PlaceStore persists scraped places keyed by the source place id.
type PlaceStore interface {
	// UpsertPlace inserts the place and reports whether a new row was
	// created. A natural-key collision is not an error: it returns
	// (false, nil) and leaves the existing row untouched.
	UpsertPlace(ctx context.Context, place Place) (bool, error)
	GetPlace(ctx context.Context, placeID string) (Place, error)
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]Place, error)
	StreamByJob(ctx context.Context, jobID string, fn func(Place) error) error
	SetEnrichment(ctx context.Context, placeID string, status EnrichStatus, email string) error
}

// FailureStore appends per-record failure rows.
type FailureStore interface {
	RecordFailure(ctx context.Context, failure Failure) error
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]Failure, error)
}

// EventStore appends job audit log entries.
type EventStore interface {
	Append(ctx context.Context, event JobEvent) error
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]JobEvent, error)
}

// Queue provides durable enqueue/lease semantics for work units.
type Queue interface {
	Enqueue(ctx context.Context, kind UnitKind, jobID string, payload []byte) error
	// Dequeue blocks until a unit of the given kind is leased or ctx ends.
	Dequeue(ctx context.Context, kind UnitKind) (QueueItem, error)
	Heartbeat(ctx context.Context, itemID int64) error
	Complete(ctx context.Context, itemID int64) error
	// Fail schedules a retry after the given delay, or marks the unit dead
	// once attempts are exhausted.
	Fail(ctx context.Context, itemID int64, retryIn time.Duration) error
}

// NavOptions tunes a single browser navigation.
type NavOptions struct {
	// WaitSelector is the landmark element that must appear before the DOM
	// is considered settled.
	WaitSelector string
	// ScrollSelector, when set, names a lazy-loaded container to scroll
	// until EndMarker appears or no new children show up for
	// ScrollIdleRounds consecutive attempts (bounded by MaxScrolls).
	ScrollSelector   string
	EndMarker        string
	ScrollIdleRounds int
	MaxScrolls       int
}

// Browser is one live automation context. Implementations own exactly one
// underlying browser tab at a time and rotate it on a budget.
type Browser interface {
	Initialize(ctx context.Context) error
	Navigate(ctx context.Context, url string, opts NavOptions) (*goquery.Document, error)
	// RecordProcessed advances the rotation budget by one record.
	RecordProcessed()
	// MaybeRotate recycles the context when the record or age budget is
	// exhausted. Called before each unit of work.
	MaybeRotate(ctx context.Context) error
	Close() error
}

// BrowserFactory yields a fresh Browser for one job execution. A Browser
// wraps a single tab, so concurrent executions must never share one.
type BrowserFactory func() Browser

// ChallengeDetector inspects a loaded page for anti-automation interstitials.
type ChallengeDetector interface {
	IsChallenge(doc *goquery.Document) bool
}

// Notifier delivers fire-and-forget operator notifications. Delivery failures
// are logged and swallowed by implementations, never propagated.
type Notifier interface {
	Notify(ctx context.Context, msg Notification)
}

// Notification is one operator-facing message.
type Notification struct {
	Kind    string         `json:"kind"`
	JobID   string         `json:"job_id"`
	Urgent  bool           `json:"urgent,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Notification kinds emitted by the orchestrator.
const (
	NotifyJobStarted = "job_started"
	NotifyMilestone  = "milestone"
	NotifyPaused     = "paused"
	NotifyCompleted  = "completed"
	NotifyFailed     = "failed"
	NotifyChallenge  = "challenge_detected"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Package orchestrator drives the job state machine and the term/location
// scraping loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/extractor"
	"github.com/mapscout/placecrawler/internal/progress"
	"github.com/mapscout/placecrawler/internal/scraper"
)

// PauseReasonRequested is stored when an operator asked for the pause.
const PauseReasonRequested = "pause requested"

// PauseReasonChallenge is stored when an anti-automation page stopped the job.
const PauseReasonChallenge = "challenge detected"

// Config tunes loop behavior.
type Config struct {
	// MilestoneEvery triggers an operator notification each time the scraped
	// total crosses a multiple of it. Defaults to 500.
	MilestoneEvery int
	// ScrollIdleRounds and MaxScrolls bound listing feed scrolling.
	ScrollIdleRounds int
	MaxScrolls       int
}

func (c *Config) applyDefaults() {
	if c.MilestoneEvery <= 0 {
		c.MilestoneEvery = 500
	}
	if c.ScrollIdleRounds <= 0 {
		c.ScrollIdleRounds = 3
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 40
	}
}

// Orchestrator executes jobs leased by the worker pool; it owns everything
// between "job leased" and "job reached a rest state". Each execution opens
// its own browser session from the factory, so one Orchestrator can serve
// several workers concurrently without two jobs steering the same tab.
type Orchestrator struct {
	jobs       scraper.JobStore
	places     scraper.PlaceStore
	failures   scraper.FailureStore
	events     scraper.EventStore
	queue      scraper.Queue
	newBrowser scraper.BrowserFactory
	detector   scraper.ChallengeDetector
	notifier   scraper.Notifier
	emitter    progress.Emitter
	pacer      *scraper.Pacer
	listing    *extractor.Listing
	detail     *extractor.Detail
	clock      scraper.Clock
	cfg        Config
	logger     *zap.Logger
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Jobs     scraper.JobStore
	Places   scraper.PlaceStore
	Failures scraper.FailureStore
	Events   scraper.EventStore
	Queue    scraper.Queue
	// NewBrowser is invoked once per job execution.
	NewBrowser scraper.BrowserFactory
	Detector   scraper.ChallengeDetector
	Notifier   scraper.Notifier
	Emitter    progress.Emitter
	Clock      scraper.Clock
	Logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case deps.Places == nil:
		return nil, fmt.Errorf("place store is required")
	case deps.Failures == nil:
		return nil, fmt.Errorf("failure store is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("event store is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.NewBrowser == nil:
		return nil, fmt.Errorf("browser factory is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("challenge detector is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		jobs:       deps.Jobs,
		places:     deps.Places,
		failures:   deps.Failures,
		events:     deps.Events,
		queue:      deps.Queue,
		newBrowser: deps.NewBrowser,
		detector:   deps.Detector,
		notifier:   deps.Notifier,
		emitter:    deps.Emitter,
		pacer:      scraper.NewPacer(),
		listing:    extractor.NewListing(),
		detail:     extractor.NewDetail(),
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     deps.Logger,
	}, nil
}

// RunJob executes the scraping loop for one job until it completes, pauses,
// or hits an error outside the per-record boundary. Pauses and completions
// return nil; only errors the retry machinery should see are returned.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			o.logger.Warn("leased unit for missing job", zap.String("job_id", jobID))
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}

	switch job.Status {
	case scraper.JobStatusCompleted, scraper.JobStatusFailed, scraper.JobStatusPaused:
		// Stale unit; the job already reached a rest state.
		return nil
	case scraper.JobStatusPending:
		if err := o.jobs.UpdateStatus(ctx, job.ID, scraper.JobStatusRunning, "", ""); err != nil {
			return fmt.Errorf("mark running: %w", err)
		}
		job.Status = scraper.JobStatusRunning
	case scraper.JobStatusRunning:
		// Crash or retry recovery: resume from the persisted cursor.
	}

	now := o.clock.Now()
	if err := o.jobs.SetStartedIfUnset(ctx, job.ID, now); err != nil {
		o.logger.Warn("set started failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	resumed := job.Cursor != scraper.Cursor{}
	o.audit(ctx, job.ID, scraper.EventInfo, startMessage(resumed, job.Cursor))
	o.emit(progress.Event{
		JobID: job.ID, TS: now, Stage: startStage(resumed),
		Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
	})
	if !resumed {
		o.notify(ctx, scraper.Notification{
			Kind: scraper.NotifyJobStarted, JobID: job.ID,
			Message: fmt.Sprintf("job %s started: %d terms", job.ID, len(job.Terms)),
		})
	}

	browser := o.newBrowser()
	if err := browser.Initialize(ctx); err != nil {
		return o.escape(ctx, &job, fmt.Errorf("initialize browser session: %w", err))
	}
	defer func() {
		if err := browser.Close(); err != nil {
			o.logger.Warn("close browser session", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	return o.loop(ctx, browser, &job)
}

// loop walks terms (outer) and locations (inner) from the persisted cursor.
func (o *Orchestrator) loop(ctx context.Context, browser scraper.Browser, job *scraper.Job) error {
	locations := job.Locations
	if len(locations) == 0 {
		locations = []string{""}
	}

	for ti := job.Cursor.TermIndex; ti < len(job.Terms); ti++ {
		li := 0
		if ti == job.Cursor.TermIndex {
			li = job.Cursor.LocationIndex
		}
		for ; li < len(locations); li++ {
			cursor := scraper.Cursor{TermIndex: ti, LocationIndex: li}

			paused, err := o.pauseIfRequested(ctx, job, cursor)
			if err != nil {
				return o.escape(ctx, job, err)
			}
			if paused {
				return nil
			}

			if err := o.jobs.UpdateCursor(ctx, job.ID, cursor); err != nil {
				return o.escape(ctx, job, fmt.Errorf("persist cursor: %w", err))
			}
			job.Cursor = cursor

			err = o.scrapePair(ctx, browser, job, job.Terms[ti], locations[li])
			if errors.Is(err, scraper.ErrChallenge) {
				return o.pauseForChallenge(ctx, job)
			}
			if err != nil {
				return o.escape(ctx, job, err)
			}
		}
	}
	return o.complete(ctx, job)
}

// scrapePair fetches one listing and processes its detail links. Per-record
// errors are absorbed into failure rows; only challenge detection and
// persistence-layer breakage escape.
func (o *Orchestrator) scrapePair(ctx context.Context, browser scraper.Browser, job *scraper.Job, term, location string) error {
	if err := browser.MaybeRotate(ctx); err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}

	listingURL := extractor.SearchURL(term, location)
	doc, err := browser.Navigate(ctx, listingURL, scraper.NavOptions{
		WaitSelector:     extractor.ListingReadySelector,
		ScrollSelector:   extractor.ListingFeedSelector,
		EndMarker:        extractor.ListingEndSelector,
		ScrollIdleRounds: o.cfg.ScrollIdleRounds,
		MaxScrolls:       o.cfg.MaxScrolls,
	})
	if err != nil {
		// A dead listing is one failure row, not a job failure.
		o.recordFailure(ctx, job, term, location, scraper.FailureNavigation,
			fmt.Sprintf("listing navigation: %v", err))
		return nil
	}
	if o.detector.IsChallenge(doc) {
		return scraper.ErrChallenge
	}

	links, atEnd := o.listing.Links(doc)
	if len(links) > job.ResultCap {
		links = links[:job.ResultCap]
	}
	o.logger.Debug("listing parsed",
		zap.String("job_id", job.ID),
		zap.String("term", term),
		zap.String("location", location),
		zap.Int("links", len(links)),
		zap.Bool("at_end", atEnd),
	)

	for _, link := range links {
		if err := o.scrapeRecord(ctx, browser, job, term, location, link); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("record loop: %w", ctx.Err())
		}
	}
	return nil
}

// scrapeRecord processes one detail link end to end.
func (o *Orchestrator) scrapeRecord(ctx context.Context, browser scraper.Browser, job *scraper.Job, term, location, link string) error {
	if err := browser.MaybeRotate(ctx); err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	scraper.Sleep(ctx, o.pacer.InterRecordDelay(job.Pacing.MinDelay, job.Pacing.MaxDelay))

	started := o.clock.Now()
	doc, err := browser.Navigate(ctx, link, scraper.NavOptions{
		WaitSelector: extractor.DetailReadySelector,
	})
	if err != nil {
		o.recordFailure(ctx, job, term, location, scraper.FailureNavigation, err.Error())
		return nil
	}
	if o.detector.IsChallenge(doc) {
		return scraper.ErrChallenge
	}

	fields, err := o.detail.Place(doc, link)
	if err != nil {
		o.recordFailure(ctx, job, term, location, scraper.FailureParse, err.Error())
		return nil
	}

	place := placeFromFields(job.ID, fields, extractor.ScrapeTimestamp(o.clock.Now()))
	created, err := o.places.UpsertPlace(ctx, place)
	if err != nil {
		return fmt.Errorf("persist place %s: %w", place.PlaceID, err)
	}
	browser.RecordProcessed()

	if !created {
		// Already discovered by an earlier job or pair. The cap slot is
		// consumed but counters and storage stay untouched.
		o.emit(progress.Event{
			JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageRecordDupe,
			Term: term, Location: location, PlaceName: place.Name,
			Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		})
		return nil
	}

	job.Counters.Scraped++
	if err := o.jobs.UpdateCounters(ctx, job.ID, job.Counters); err != nil {
		return fmt.Errorf("persist counters: %w", err)
	}
	o.emit(progress.Event{
		JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageRecordDone,
		Term: term, Location: location, PlaceName: place.Name,
		Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		Dur: o.clock.Now().Sub(started),
	})

	if place.Website != "" {
		if err := o.enqueueEnrich(ctx, job.ID, place); err != nil {
			o.logger.Warn("enqueue enrichment failed",
				zap.String("job_id", job.ID),
				zap.String("place_id", place.PlaceID),
				zap.Error(err))
		}
	}

	if o.cfg.MilestoneEvery > 0 && job.Counters.Scraped%o.cfg.MilestoneEvery == 0 {
		o.notify(ctx, scraper.Notification{
			Kind: scraper.NotifyMilestone, JobID: job.ID,
			Message: fmt.Sprintf("job %s scraped %d records", job.ID, job.Counters.Scraped),
			Fields:  map[string]any{"scraped": job.Counters.Scraped},
		})
	}

	if job.Pacing.RestEvery > 0 && job.Counters.Scraped%job.Pacing.RestEvery == 0 {
		o.emit(progress.Event{
			JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageRest,
			Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		})
		scraper.Sleep(ctx, o.pacer.RestWindow(job.Pacing.RestDuration))
	}
	return nil
}

// pauseIfRequested checks the operator pause flag at an iteration boundary.
func (o *Orchestrator) pauseIfRequested(ctx context.Context, job *scraper.Job, cursor scraper.Cursor) (bool, error) {
	requested, err := o.jobs.PauseRequested(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("read pause flag: %w", err)
	}
	if !requested {
		return false, nil
	}
	if err := o.jobs.UpdateCursor(ctx, job.ID, cursor); err != nil {
		return false, fmt.Errorf("persist cursor: %w", err)
	}
	job.Cursor = cursor
	if err := o.jobs.UpdateStatus(ctx, job.ID, scraper.JobStatusPaused, PauseReasonRequested, ""); err != nil {
		return false, fmt.Errorf("mark paused: %w", err)
	}
	if err := o.jobs.ClearPauseRequest(ctx, job.ID); err != nil {
		o.logger.Warn("clear pause flag failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	o.audit(ctx, job.ID, scraper.EventInfo,
		fmt.Sprintf("paused at term %d location %d", cursor.TermIndex, cursor.LocationIndex))
	o.notify(ctx, scraper.Notification{
		Kind: scraper.NotifyPaused, JobID: job.ID,
		Message: "job paused on request",
	})
	o.emit(progress.Event{
		JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageJobPaused,
		Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		Note: PauseReasonRequested,
	})
	return true, nil
}

// pauseForChallenge stops the job without consuming a retry attempt. The
// cursor still points at the pair that hit the interstitial, so resuming
// repeats it.
func (o *Orchestrator) pauseForChallenge(ctx context.Context, job *scraper.Job) error {
	if err := o.jobs.UpdateStatus(ctx, job.ID, scraper.JobStatusPaused, PauseReasonChallenge, ""); err != nil {
		return fmt.Errorf("mark paused: %w", err)
	}
	o.audit(ctx, job.ID, scraper.EventWarn, "challenge page detected, job paused")
	o.notify(ctx, scraper.Notification{
		Kind: scraper.NotifyChallenge, JobID: job.ID, Urgent: true,
		Message: "challenge page detected; manual intervention required",
	})
	o.emit(progress.Event{
		JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageJobPaused,
		Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		Note: PauseReasonChallenge,
	})
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, job *scraper.Job) error {
	now := o.clock.Now()
	if err := o.jobs.UpdateCounters(ctx, job.ID, job.Counters); err != nil {
		return fmt.Errorf("persist final counters: %w", err)
	}
	if err := o.jobs.UpdateStatus(ctx, job.ID, scraper.JobStatusCompleted, "", ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := o.jobs.SetCompleted(ctx, job.ID, now); err != nil {
		o.logger.Warn("set completed failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	var dur time.Duration
	if job.Started != nil {
		dur = now.Sub(*job.Started)
	}
	o.audit(ctx, job.ID, scraper.EventInfo,
		fmt.Sprintf("completed: %d scraped, %d failed", job.Counters.Scraped, job.Counters.Failed))
	o.notify(ctx, scraper.Notification{
		Kind: scraper.NotifyCompleted, JobID: job.ID,
		Message: fmt.Sprintf("job %s completed: %d scraped, %d failed in %s",
			job.ID, job.Counters.Scraped, job.Counters.Failed, dur.Round(time.Second)),
		Fields: map[string]any{
			"scraped":  job.Counters.Scraped,
			"failed":   job.Counters.Failed,
			"duration": dur.String(),
		},
	})
	o.emit(progress.Event{
		JobID: job.ID, TS: now, Stage: progress.StageJobDone,
		Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		Dur: dur,
	})
	return nil
}

// escape handles an error outside the per-record boundary: persist what we
// know and surface the error to the retry machinery. The job stays running so
// a later attempt can resume from the cursor; FailJob finalizes once the
// attempts are spent.
func (o *Orchestrator) escape(ctx context.Context, job *scraper.Job, err error) error {
	o.audit(ctx, job.ID, scraper.EventError, err.Error())
	o.logger.Error("job attempt aborted",
		zap.String("job_id", job.ID),
		zap.Int("term_index", job.Cursor.TermIndex),
		zap.Int("location_index", job.Cursor.LocationIndex),
		zap.Error(err))
	return err
}

// FailJob finalizes a job whose attempts are exhausted.
func (o *Orchestrator) FailJob(ctx context.Context, jobID, errText string) error {
	if err := o.jobs.UpdateStatus(ctx, jobID, scraper.JobStatusFailed, "", errText); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	o.audit(ctx, jobID, scraper.EventError, "failed: "+errText)
	o.notify(ctx, scraper.Notification{
		Kind: scraper.NotifyFailed, JobID: jobID,
		Message: fmt.Sprintf("job %s failed: %s", jobID, errText),
	})
	o.emit(progress.Event{
		JobID: jobID, TS: o.clock.Now(), Stage: progress.StageJobError,
		Note: errText,
	})
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, job *scraper.Job, term, location string, kind scraper.FailureKind, msg string) {
	failure := scraper.Failure{
		JobID:    job.ID,
		Term:     term,
		Location: location,
		Kind:     kind,
		Message:  msg,
		At:       o.clock.Now(),
	}
	if err := o.failures.RecordFailure(ctx, failure); err != nil {
		o.logger.Error("record failure row", zap.String("job_id", job.ID), zap.Error(err))
	}
	job.Counters.Failed++
	if err := o.jobs.UpdateCounters(ctx, job.ID, job.Counters); err != nil {
		o.logger.Error("persist counters", zap.String("job_id", job.ID), zap.Error(err))
	}
	o.emit(progress.Event{
		JobID: job.ID, TS: o.clock.Now(), Stage: progress.StageRecordFailed,
		Term: term, Location: location,
		Scraped: job.Counters.Scraped, Failed: job.Counters.Failed,
		Note: msg,
	})
}

func (o *Orchestrator) enqueueEnrich(ctx context.Context, jobID string, place scraper.Place) error {
	payload, err := json.Marshal(scraper.EnrichUnit{PlaceID: place.PlaceID, Website: place.Website})
	if err != nil {
		return fmt.Errorf("marshal enrich unit: %w", err)
	}
	if err := o.queue.Enqueue(ctx, scraper.UnitEnrich, jobID, payload); err != nil {
		return fmt.Errorf("enqueue enrich unit: %w", err)
	}
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, jobID string, level scraper.EventLevel, msg string) {
	event := scraper.JobEvent{JobID: jobID, Level: level, Message: msg, At: o.clock.Now()}
	if err := o.events.Append(ctx, event); err != nil {
		o.logger.Warn("append job event", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, msg scraper.Notification) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, msg)
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}

func startStage(resumed bool) progress.Stage {
	if resumed {
		return progress.StageJobResumed
	}
	return progress.StageJobStart
}

func startMessage(resumed bool, cursor scraper.Cursor) string {
	if resumed {
		return fmt.Sprintf("resumed at term %d location %d", cursor.TermIndex, cursor.LocationIndex)
	}
	return "job started"
}

// placeFromFields maps an extraction result onto the persisted record.
func placeFromFields(jobID string, f extractor.Fields, at time.Time) scraper.Place {
	return scraper.Place{
		PlaceID:     f.PlaceID,
		JobID:       jobID,
		Name:        f.Name,
		Address:     f.Address,
		Locality:    f.Locality,
		Rating:      f.Rating,
		Reviews:     f.Reviews,
		Phone:       f.Phone,
		Website:     f.Website,
		Lat:         f.Lat,
		Lng:         f.Lng,
		OpenStatus:  f.OpenStatus,
		Categories:  f.Categories,
		Hours:       f.Hours,
		Description: f.Description,
		Enrich:      scraper.EnrichNone,
		ScrapedAt:   at,
	}
}

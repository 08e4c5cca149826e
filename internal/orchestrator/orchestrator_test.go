package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/mapscout/placecrawler/internal/extractor"
	notifymem "github.com/mapscout/placecrawler/internal/notify/memory"
	"github.com/mapscout/placecrawler/internal/progress"
	"github.com/mapscout/placecrawler/internal/scraper"
)

// TestRunJobCompletesCleanRun walks the bakery/Springfield fixture end to end:
// every record extracted, counters persisted, completion stamped, enrichment
// enqueued for records with a website.
func TestRunJobCompletesCleanRun(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", "https://springfield-sourdough.com"),
		fix.addDetail("Capital City Bakes", "0x1:0xb", ""),
		fix.addDetail("Prairie Crust", "0x1:0xc", "https://prairiecrust.example"),
	)
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusCompleted, stored.Status)
	require.Equal(t, 3, stored.Counters.Scraped)
	require.Equal(t, 0, stored.Counters.Failed)
	require.NotNil(t, stored.Started)
	require.NotNil(t, stored.Completed)

	require.Len(t, fix.places.all(), 3)
	require.Equal(t, []string{"job_started", "completed"}, fix.notifier.Kinds())

	// Only the two records with a website become enrichment units.
	require.Len(t, fix.queue.enqueued, 2)
	var unit scraper.EnrichUnit
	require.NoError(t, json.Unmarshal(fix.queue.enqueued[0].payload, &unit))
	require.Equal(t, "0x1:0xa", unit.PlaceID)
	require.Equal(t, "https://springfield-sourdough.com", unit.Website)
}

// TestRunJobSkipsDuplicates consumes the cap slot for an already-known place
// without storing or counting it.
func TestRunJobSkipsDuplicates(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", "https://springfield-sourdough.com"),
		fix.addDetail("Capital City Bakes", "0x1:0xb", ""),
	)
	fix.places.seed(scraper.Place{PlaceID: "0x1:0xa", JobID: "earlier-job", Name: "Springfield Sourdough"})
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusCompleted, stored.Status)
	require.Equal(t, 1, stored.Counters.Scraped)

	// The earlier job's row is untouched.
	kept := fix.places.byID("0x1:0xa")
	require.Equal(t, "earlier-job", kept.JobID)
	// No enrichment for the duplicate either.
	require.Empty(t, fix.queue.enqueued)
}

// TestRunJobPausesOnChallenge stops at the interstitial, keeps prior records,
// and raises the urgent notification.
func TestRunJobPausesOnChallenge(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	good := fix.addDetail("Springfield Sourdough", "0x1:0xa", "")
	blocked := fix.detailURL("Blocked Bakery", "0x1:0xb")
	fix.browser.pages[blocked] = `<html><body>
		<p>Our systems have detected unusual traffic from your computer network.</p>
	</body></html>`
	fix.addListing("bakery", "Springfield, IL", good, blocked)
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusPaused, stored.Status)
	require.Equal(t, PauseReasonChallenge, stored.PauseReason)
	require.Equal(t, 1, stored.Counters.Scraped)

	kinds := fix.notifier.Kinds()
	require.Contains(t, kinds, "challenge_detected")
	last := fix.notifier.Sent()[len(kinds)-1]
	require.True(t, last.Urgent)
}

// TestRunJobHonorsPauseRequest pauses at the iteration boundary before any
// scraping happens.
func TestRunJobHonorsPauseRequest(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", ""),
	)
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)
	require.NoError(t, fix.jobs.RequestPause(context.Background(), job.ID))

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusPaused, stored.Status)
	require.Equal(t, PauseReasonRequested, stored.PauseReason)
	require.False(t, stored.PauseWanted)
	require.Zero(t, stored.Counters.Scraped)
	require.Empty(t, fix.places.all())
	require.Empty(t, fix.browser.visited)
}

// TestRunJobResumesFromCursor starts at the persisted pair, skipping
// everything before it, and does not re-announce the job start.
func TestRunJobResumesFromCursor(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", ""),
	)
	fix.addListing("cafe", "Springfield, IL",
		fix.addDetail("Prairie Beans", "0x1:0xd", ""),
	)
	job := fix.createJob([]string{"bakery", "cafe"}, []string{"Springfield, IL"}, 10)
	fix.jobs.setCursor(job.ID, scraper.Cursor{TermIndex: 1, LocationIndex: 0})

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusCompleted, stored.Status)
	require.Equal(t, 1, stored.Counters.Scraped)
	require.Equal(t, "Prairie Beans", fix.places.all()[0].Name)

	bakeryListing := extractor.SearchURL("bakery", "Springfield, IL")
	require.NotContains(t, fix.browser.visited, bakeryListing)
	require.NotContains(t, fix.notifier.Kinds(), "job_started")
}

// TestRunJobRecordsPerRecordFailures turns a dead detail page into a failure
// row and keeps going.
func TestRunJobRecordsPerRecordFailures(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	broken := fix.detailURL("Vanished Bakery", "0x1:0xe")
	fix.browser.errs[broken] = fmt.Errorf("navigation timeout")
	fix.addListing("bakery", "Springfield, IL",
		broken,
		fix.addDetail("Springfield Sourdough", "0x1:0xa", ""),
	)
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusCompleted, stored.Status)
	require.Equal(t, 1, stored.Counters.Scraped)
	require.Equal(t, 1, stored.Counters.Failed)

	require.Len(t, fix.failures.rows, 1)
	require.Equal(t, scraper.FailureNavigation, fix.failures.rows[0].Kind)
	require.Equal(t, "bakery", fix.failures.rows[0].Term)
}

// TestRunJobRespectsResultCap processes at most ResultCap links per pair.
func TestRunJobRespectsResultCap(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", ""),
		fix.addDetail("Capital City Bakes", "0x1:0xb", ""),
		fix.addDetail("Prairie Crust", "0x1:0xc", ""),
	)
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 2)

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))
	require.Equal(t, 2, fix.jobs.get(job.ID).Counters.Scraped)
}

// TestRunJobSurfacesPersistErrors leaves the job running for the retry
// machinery when the storage layer breaks mid-record.
func TestRunJobSurfacesPersistErrors(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", ""),
	)
	fix.places.failUpserts = true
	job := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)

	err := fix.orch.RunJob(context.Background(), job.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist place")

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusRunning, stored.Status)
}

// TestRunJobIgnoresStaleUnits is a no-op for jobs already in a rest state.
func TestRunJobIgnoresStaleUnits(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	job := fix.createJob([]string{"bakery"}, nil, 10)
	fix.jobs.setStatus(job.ID, scraper.JobStatusCompleted)

	require.NoError(t, fix.orch.RunJob(context.Background(), job.ID))
	require.Empty(t, fix.browser.visited)
}

// TestRunJobGivesEachExecutionItsOwnBrowser runs two jobs concurrently
// through one orchestrator and checks neither parses a page the other
// navigated to.
func TestRunJobGivesEachExecutionItsOwnBrowser(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.addListing("bakery", "Springfield, IL",
		fix.addDetail("Springfield Sourdough", "0x1:0xa", ""),
	)
	fix.addListing("cafe", "Shelbyville, IL",
		fix.addDetail("Shelby Beans", "0x2:0xa", ""),
	)
	jobA := fix.createJob([]string{"bakery"}, []string{"Springfield, IL"}, 10)
	jobB := fix.createJob([]string{"cafe"}, []string{"Shelbyville, IL"}, 10)

	var (
		mu       sync.Mutex
		browsers []*tabBrowser
	)
	orch, err := New(Deps{
		Jobs:     fix.jobs,
		Places:   fix.places,
		Failures: fix.failures,
		Events:   fix.events,
		Queue:    fix.queue,
		NewBrowser: func() scraper.Browser {
			b := &tabBrowser{pages: fix.browser.pages}
			mu.Lock()
			browsers = append(browsers, b)
			mu.Unlock()
			return b
		},
		Detector: scraper.NewChallengeDetector(nil, nil),
		Notifier: fix.notifier,
		Clock:    fixedClock{at: time.Unix(1700000000, 0).UTC()},
	}, Config{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{jobA.ID, jobB.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = orch.RunJob(context.Background(), id)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Len(t, browsers, 2)
	for _, b := range browsers {
		require.Zero(t, b.crossServed, "a navigation returned a page another execution requested")
	}
	require.Equal(t, 1, fix.jobs.get(jobA.ID).Counters.Scraped)
	require.Equal(t, 1, fix.jobs.get(jobB.ID).Counters.Scraped)
	require.Equal(t, jobA.ID, fix.places.byID("0x1:0xa").JobID)
	require.Equal(t, jobB.ID, fix.places.byID("0x2:0xa").JobID)
}

// TestFailJobFinalizes marks the job failed and notifies once attempts are
// exhausted.
func TestFailJobFinalizes(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	job := fix.createJob([]string{"bakery"}, nil, 10)
	fix.jobs.setStatus(job.ID, scraper.JobStatusRunning)

	require.NoError(t, fix.orch.FailJob(context.Background(), job.ID, "browser crashed"))

	stored := fix.jobs.get(job.ID)
	require.Equal(t, scraper.JobStatusFailed, stored.Status)
	require.Equal(t, "browser crashed", stored.ErrorText)
	require.Contains(t, fix.notifier.Kinds(), "failed")
}

// ---- fixture ----

type fixture struct {
	t        *testing.T
	jobs     *fakeJobStore
	places   *fakePlaceStore
	failures *fakeFailureStore
	events   *fakeEventStore
	queue    *fakeQueue
	browser  *fakeBrowser
	notifier *notifymem.Notifier
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fix := &fixture{
		t:        t,
		jobs:     newFakeJobStore(),
		places:   newFakePlaceStore(),
		failures: &fakeFailureStore{},
		events:   &fakeEventStore{},
		queue:    &fakeQueue{},
		browser:  newFakeBrowser(),
		notifier: notifymem.New(),
	}
	orch, err := New(Deps{
		Jobs:       fix.jobs,
		Places:     fix.places,
		Failures:   fix.failures,
		Events:     fix.events,
		Queue:      fix.queue,
		NewBrowser: func() scraper.Browser { return fix.browser },
		Detector:   scraper.NewChallengeDetector(nil, nil),
		Notifier:   fix.notifier,
		Clock:      fixedClock{at: time.Unix(1700000000, 0).UTC()},
	}, Config{})
	require.NoError(t, err)
	fix.orch = orch
	return fix
}

func (f *fixture) createJob(terms, locations []string, cap int) scraper.Job {
	job := scraper.Job{
		ID:        fmt.Sprintf("job-%d", len(f.jobs.jobs)+1),
		Terms:     terms,
		Locations: locations,
		ResultCap: cap,
		Status:    scraper.JobStatusPending,
		Created:   time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(f.t, f.jobs.CreateJob(context.Background(), job))
	return job
}

func (f *fixture) detailURL(name, placeID string) string {
	slug := strings.ReplaceAll(name, " ", "+")
	return fmt.Sprintf(
		"https://www.google.com/maps/place/%s/@39.7817,-89.6501,17z/data=!3m1!1s%s",
		slug, placeID,
	)
}

// addDetail registers a detail page and returns its URL.
func (f *fixture) addDetail(name, placeID, website string) string {
	url := f.detailURL(name, placeID)
	var site string
	if website != "" {
		site = fmt.Sprintf(`<a data-item-id="authority" href=%q>Website</a>`, website)
	}
	f.browser.pages[url] = fmt.Sprintf(`<html><body>
		<h1>%s</h1>
		<div role="main">
			<button data-item-id="address" aria-label="Address: 100 Main St, Springfield, IL 62701"></button>
			%s
		</div>
	</body></html>`, name, site)
	return url
}

// addListing registers a listing page for (term, location) linking the given
// detail URLs.
func (f *fixture) addListing(term, location string, detailURLs ...string) {
	var anchors strings.Builder
	for _, u := range detailURLs {
		fmt.Fprintf(&anchors, `<a href=%q>result</a>`, u)
	}
	f.browser.pages[extractor.SearchURL(term, location)] = fmt.Sprintf(
		`<html><body><div role="feed">%s</div></body></html>`, anchors.String())
}

// ---- fakes ----

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*scraper.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*scraper.Job)}
}

func (s *fakeJobStore) get(id string) scraper.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeJobStore) setStatus(id string, status scraper.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
}

func (s *fakeJobStore) setCursor(id string, cursor scraper.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Cursor = cursor
}

func (s *fakeJobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, id string) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	return *job, nil
}

func (s *fakeJobStore) ListJobs(_ context.Context, _ *scraper.JobStatus, _, _ int) ([]scraper.JobSummary, error) {
	return nil, nil
}

func (s *fakeJobStore) UpdateStatus(_ context.Context, id string, status scraper.JobStatus, pauseReason, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scraper.ErrNotFound
	}
	job.Status = status
	job.PauseReason = pauseReason
	job.ErrorText = errText
	return nil
}

func (s *fakeJobStore) SetStartedIfUnset(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Started == nil {
		job.Started = &at
	}
	return nil
}

func (s *fakeJobStore) SetCompleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Completed = &at
	return nil
}

func (s *fakeJobStore) UpdateCursor(_ context.Context, id string, cursor scraper.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Cursor = cursor
	return nil
}

func (s *fakeJobStore) UpdateCounters(_ context.Context, id string, counters scraper.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Counters = counters
	return nil
}

func (s *fakeJobStore) RequestPause(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scraper.ErrNotFound
	}
	job.PauseWanted = true
	return nil
}

func (s *fakeJobStore) ClearPauseRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].PauseWanted = false
	return nil
}

func (s *fakeJobStore) PauseRequested(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].PauseWanted, nil
}

func (s *fakeJobStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

type fakePlaceStore struct {
	mu          sync.Mutex
	places      map[string]scraper.Place
	order       []string
	failUpserts bool
}

func newFakePlaceStore() *fakePlaceStore {
	return &fakePlaceStore{places: make(map[string]scraper.Place)}
}

func (s *fakePlaceStore) seed(place scraper.Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places[place.PlaceID] = place
	s.order = append(s.order, place.PlaceID)
}

func (s *fakePlaceStore) all() []scraper.Place {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scraper.Place, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.places[id])
	}
	return out
}

func (s *fakePlaceStore) byID(id string) scraper.Place {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.places[id]
}

func (s *fakePlaceStore) UpsertPlace(_ context.Context, place scraper.Place) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts {
		return false, fmt.Errorf("connection reset")
	}
	if _, exists := s.places[place.PlaceID]; exists {
		return false, nil
	}
	s.places[place.PlaceID] = place
	s.order = append(s.order, place.PlaceID)
	return true, nil
}

func (s *fakePlaceStore) GetPlace(_ context.Context, id string) (scraper.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	place, ok := s.places[id]
	if !ok {
		return scraper.Place{}, scraper.ErrNotFound
	}
	return place, nil
}

func (s *fakePlaceStore) ListByJob(_ context.Context, jobID string, _, _ int) ([]scraper.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scraper.Place
	for _, id := range s.order {
		if s.places[id].JobID == jobID {
			out = append(out, s.places[id])
		}
	}
	return out, nil
}

func (s *fakePlaceStore) StreamByJob(ctx context.Context, jobID string, fn func(scraper.Place) error) error {
	places, _ := s.ListByJob(ctx, jobID, 0, 0)
	for _, p := range places {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakePlaceStore) SetEnrichment(_ context.Context, id string, status scraper.EnrichStatus, email string) error {
	place, ok := s.places[id]
	if !ok {
		return scraper.ErrNotFound
	}
	place.Enrich = status
	place.Email = email
	s.places[id] = place
	return nil
}

type fakeFailureStore struct {
	mu   sync.Mutex
	rows []scraper.Failure
}

func (s *fakeFailureStore) RecordFailure(_ context.Context, failure scraper.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, failure)
	return nil
}

func (s *fakeFailureStore) ListByJob(_ context.Context, _ string, _, _ int) ([]scraper.Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, nil
}

type fakeEventStore struct {
	mu   sync.Mutex
	rows []scraper.JobEvent
}

func (s *fakeEventStore) Append(_ context.Context, event scraper.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, event)
	return nil
}

func (s *fakeEventStore) ListByJob(_ context.Context, _ string, _, _ int) ([]scraper.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, nil
}

type enqueuedUnit struct {
	kind    scraper.UnitKind
	jobID   string
	payload []byte
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []enqueuedUnit
}

func (q *fakeQueue) Enqueue(_ context.Context, kind scraper.UnitKind, jobID string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, enqueuedUnit{kind: kind, jobID: jobID, payload: payload})
	return nil
}

func (q *fakeQueue) Dequeue(context.Context, scraper.UnitKind) (scraper.QueueItem, error) {
	return scraper.QueueItem{}, fmt.Errorf("not implemented")
}

func (q *fakeQueue) Heartbeat(context.Context, int64) error { return nil }
func (q *fakeQueue) Complete(context.Context, int64) error  { return nil }
func (q *fakeQueue) Fail(context.Context, int64, time.Duration) error {
	return nil
}

type fakeBrowser struct {
	pages       map[string]string
	errs        map[string]error
	visited     []string
	initialized bool
	processed   int
	rotations   int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages: make(map[string]string),
		errs:  make(map[string]error),
	}
}

func (b *fakeBrowser) Initialize(context.Context) error {
	b.initialized = true
	return nil
}

func (b *fakeBrowser) Navigate(_ context.Context, url string, _ scraper.NavOptions) (*goquery.Document, error) {
	b.visited = append(b.visited, url)
	if err, ok := b.errs[url]; ok {
		return nil, err
	}
	html, ok := b.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page registered for %s", url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (b *fakeBrowser) RecordProcessed() { b.processed++ }

func (b *fakeBrowser) MaybeRotate(context.Context) error {
	b.rotations++
	return nil
}

func (b *fakeBrowser) Close() error { return nil }

// tabBrowser models a real single-tab session: Navigate parks the tab on the
// URL, yields the scheduler, then renders whatever the tab points at. Shared
// across concurrent executions it serves the wrong page.
type tabBrowser struct {
	pages map[string]string

	mu          sync.Mutex
	current     string
	crossServed int
}

func (b *tabBrowser) Initialize(context.Context) error { return nil }

func (b *tabBrowser) Navigate(_ context.Context, url string, _ scraper.NavOptions) (*goquery.Document, error) {
	b.mu.Lock()
	b.current = url
	b.mu.Unlock()
	time.Sleep(time.Millisecond)
	b.mu.Lock()
	served := b.current
	if served != url {
		b.crossServed++
	}
	b.mu.Unlock()
	html, ok := b.pages[served]
	if !ok {
		return nil, fmt.Errorf("no page registered for %s", served)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (b *tabBrowser) RecordProcessed() {}

func (b *tabBrowser) MaybeRotate(context.Context) error { return nil }

func (b *tabBrowser) Close() error { return nil }

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

var _ progress.Emitter = (*progress.Hub)(nil)

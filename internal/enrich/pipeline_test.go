package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/progress"
	"github.com/mapscout/placecrawler/internal/scraper"
)

// TestPipelineHarvestsEmails walks homepage plus contact page and stores the
// deduplicated union.
func TestPipelineHarvestsEmails(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]string{
		"https://cakes.example": `<html><body>
			<p>Reach us at info@cakes.example or info@cakes.example</p>
			<a href="/contact">Contact us</a>
		</body></html>`,
		"https://cakes.example/contact": `<html><body>
			<a href="mailto:orders@cakes.example?subject=hi">Order</a>
		</body></html>`,
	}}
	places := newStubPlaceStore(scraper.Place{
		PlaceID: "p-1", JobID: "job-1", Name: "Cakes", Website: "https://cakes.example",
	})
	emitter := &captureEmitter{}

	p := newTestPipeline(t, places, fetcher, emitter)
	require.NoError(t, p.Enrich(context.Background(), scraper.EnrichUnit{
		PlaceID: "p-1", Website: "https://cakes.example",
	}))

	require.Equal(t, []enrichmentCall{
		{status: scraper.EnrichScraping},
		{status: scraper.EnrichDone, email: "info@cakes.example;orders@cakes.example"},
	}, places.calls("p-1"))

	events := emitter.events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageEnrichDone, events[0].Stage)
	require.Equal(t, "job-1", events[0].JobID)
	require.Equal(t, "Cakes", events[0].PlaceName)
	require.Equal(t, "2 email(s)", events[0].Note)
}

// TestPipelineMarksFailedOnFetchError absorbs homepage failures by marking
// the place instead of returning an error.
func TestPipelineMarksFailedOnFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{err: errors.New("connection refused")}
	places := newStubPlaceStore(scraper.Place{
		PlaceID: "p-1", JobID: "job-1", Website: "https://down.example",
	})
	emitter := &captureEmitter{}

	p := newTestPipeline(t, places, fetcher, emitter)
	require.NoError(t, p.Enrich(context.Background(), scraper.EnrichUnit{
		PlaceID: "p-1", Website: "https://down.example",
	}))

	require.Equal(t, []enrichmentCall{
		{status: scraper.EnrichScraping},
		{status: scraper.EnrichFailed},
	}, places.calls("p-1"))
	require.Empty(t, emitter.events())
}

// TestPipelineSkipsBrokenContactPages keeps homepage results when a contact
// page fails to load.
func TestPipelineSkipsBrokenContactPages(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]string{
		"https://cakes.example": `<html><body>
			<p>info@cakes.example</p>
			<a href="/contact">Contact</a>
		</body></html>`,
	}}
	places := newStubPlaceStore(scraper.Place{
		PlaceID: "p-1", JobID: "job-1", Website: "https://cakes.example",
	})

	p := newTestPipeline(t, places, fetcher, &captureEmitter{})
	require.NoError(t, p.Enrich(context.Background(), scraper.EnrichUnit{
		PlaceID: "p-1", Website: "https://cakes.example",
	}))

	require.Equal(t, []enrichmentCall{
		{status: scraper.EnrichScraping},
		{status: scraper.EnrichDone, email: "info@cakes.example"},
	}, places.calls("p-1"))
}

// TestPipelineCompletesWithoutEmails marks done with an empty contact when
// the site yields nothing.
func TestPipelineCompletesWithoutEmails(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]string{
		"https://plain.example": `<html><body><h1>Welcome</h1></body></html>`,
	}}
	places := newStubPlaceStore(scraper.Place{
		PlaceID: "p-1", JobID: "job-1", Website: "https://plain.example",
	})
	emitter := &captureEmitter{}

	p := newTestPipeline(t, places, fetcher, emitter)
	require.NoError(t, p.Enrich(context.Background(), scraper.EnrichUnit{
		PlaceID: "p-1", Website: "https://plain.example",
	}))

	require.Equal(t, []enrichmentCall{
		{status: scraper.EnrichScraping},
		{status: scraper.EnrichDone},
	}, places.calls("p-1"))
	require.Len(t, emitter.events(), 1)
	require.Equal(t, "0 email(s)", emitter.events()[0].Note)
}

// TestPipelineIgnoresVanishedPlace treats a deleted place as a no-op.
func TestPipelineIgnoresVanishedPlace(t *testing.T) {
	t.Parallel()

	places := newStubPlaceStore()
	p := newTestPipeline(t, places, &stubFetcher{}, &captureEmitter{})

	require.NoError(t, p.Enrich(context.Background(), scraper.EnrichUnit{PlaceID: "gone"}))
	require.Empty(t, places.calls("gone"))
}

// TestPipelineSurfacesStorageErrors propagates persistence breakage so the
// worker retry machinery sees it.
func TestPipelineSurfacesStorageErrors(t *testing.T) {
	t.Parallel()

	places := newStubPlaceStore(scraper.Place{
		PlaceID: "p-1", JobID: "job-1", Website: "https://cakes.example",
	})
	places.setErr = errors.New("connection reset")

	p := newTestPipeline(t, places, &stubFetcher{pages: map[string]string{}}, &captureEmitter{})
	err := p.Enrich(context.Background(), scraper.EnrichUnit{
		PlaceID: "p-1", Website: "https://cakes.example",
	})
	require.ErrorContains(t, err, "mark place p-1 scraping")
}

// TestNormalizeSiteURL coerces scraped website values into fetchable URLs.
func TestNormalizeSiteURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://cakes.example/menu": "https://cakes.example/menu",
		"cakes.example":              "https://cakes.example",
		"  http://cakes.example ":    "http://cakes.example",
		"ftp://cakes.example":        "",
		"":                           "",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeSiteURL(in), "input %q", in)
	}
}

// TestCollyFetcherParsesPage exercises the real fetcher against a local server.
func TestCollyFetcherParsesPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>Hello</h1></body></html>`))
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(FetcherConfig{PerDomainDelay: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	doc, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Hello", doc.Find("h1").Text())
}

// TestCollyFetcherReportsHTTPErrors surfaces non-2xx responses as errors.
func TestCollyFetcherReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(FetcherConfig{PerDomainDelay: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func newTestPipeline(t *testing.T, places scraper.PlaceStore, fetcher Fetcher, emitter progress.Emitter) *Pipeline {
	t.Helper()
	p, err := New(places, fetcher, emitter, fixedClock{}, zap.NewNop(), Config{})
	require.NoError(t, err)
	return p
}

// ---- stubs ----

type stubFetcher struct {
	pages map[string]string
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (*goquery.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

type enrichmentCall struct {
	status scraper.EnrichStatus
	email  string
}

type stubPlaceStore struct {
	mu     sync.Mutex
	byID   map[string]scraper.Place
	set    map[string][]enrichmentCall
	setErr error
}

func newStubPlaceStore(seed ...scraper.Place) *stubPlaceStore {
	s := &stubPlaceStore{
		byID: make(map[string]scraper.Place),
		set:  make(map[string][]enrichmentCall),
	}
	for _, p := range seed {
		s.byID[p.PlaceID] = p
	}
	return s
}

func (s *stubPlaceStore) UpsertPlace(_ context.Context, place scraper.Place) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[place.PlaceID]; ok {
		return false, nil
	}
	s.byID[place.PlaceID] = place
	return true, nil
}

func (s *stubPlaceStore) GetPlace(_ context.Context, placeID string) (scraper.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[placeID]
	if !ok {
		return scraper.Place{}, scraper.ErrNotFound
	}
	return p, nil
}

func (s *stubPlaceStore) ListByJob(context.Context, string, int, int) ([]scraper.Place, error) {
	return nil, nil
}

func (s *stubPlaceStore) StreamByJob(context.Context, string, func(scraper.Place) error) error {
	return nil
}

func (s *stubPlaceStore) SetEnrichment(_ context.Context, placeID string, status scraper.EnrichStatus, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.set[placeID] = append(s.set[placeID], enrichmentCall{status: status, email: email})
	return nil
}

func (s *stubPlaceStore) calls(placeID string) []enrichmentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]enrichmentCall(nil), s.set[placeID]...)
}

type captureEmitter struct {
	mu  sync.Mutex
	evs []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evs = append(e.evs, evt)
}

func (e *captureEmitter) events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.evs...)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

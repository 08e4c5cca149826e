// Package enrich implements the secondary contact-harvest pass: for every
// scraped place with a website, fetch the site over plain HTTP and extract
// email addresses from the homepage and its contact/about pages.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/extractor"
	"github.com/mapscout/placecrawler/internal/progress"
	"github.com/mapscout/placecrawler/internal/scraper"
)

// Config tunes the pipeline.
type Config struct {
	// MaxContactLinks bounds how many contact/about pages are visited beyond
	// the homepage. Defaults to 2.
	MaxContactLinks int
}

// Pipeline harvests contact data for one place at a time. Page-level failures
// are absorbed by marking the place's enrichment failed; only storage errors
// propagate to the caller.
type Pipeline struct {
	places  scraper.PlaceStore
	fetcher Fetcher
	contact *extractor.Contact
	emitter progress.Emitter
	clock   scraper.Clock
	logger  *zap.Logger
	cfg     Config
}

// New constructs a Pipeline.
func New(places scraper.PlaceStore, fetcher Fetcher, emitter progress.Emitter, clock scraper.Clock, logger *zap.Logger, cfg Config) (*Pipeline, error) {
	if places == nil {
		return nil, errors.New("enrich: place store is required")
	}
	if fetcher == nil {
		return nil, errors.New("enrich: fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("enrich: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContactLinks <= 0 {
		cfg.MaxContactLinks = 2
	}
	return &Pipeline{
		places:  places,
		fetcher: fetcher,
		contact: extractor.NewContact(),
		emitter: emitter,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// Enrich runs the harvest for one unit. A place that has vanished is treated
// as done; a site that cannot be fetched or yields nothing marks the place
// failed without returning an error.
func (p *Pipeline) Enrich(ctx context.Context, unit scraper.EnrichUnit) error {
	if unit.PlaceID == "" {
		return errors.New("enrich: unit has no place id")
	}

	place, err := p.places.GetPlace(ctx, unit.PlaceID)
	if errors.Is(err, scraper.ErrNotFound) {
		p.logger.Warn("enrich target vanished", zap.String("place_id", unit.PlaceID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load place %s: %w", unit.PlaceID, err)
	}

	site := normalizeSiteURL(firstNonEmpty(unit.Website, place.Website))
	if site == "" {
		return p.finish(ctx, place, scraper.EnrichFailed, "")
	}

	if err := p.places.SetEnrichment(ctx, place.PlaceID, scraper.EnrichScraping, ""); err != nil {
		return fmt.Errorf("mark place %s scraping: %w", place.PlaceID, err)
	}

	emails, err := p.harvest(ctx, site)
	if err != nil {
		p.logger.Warn("site fetch failed",
			zap.String("place_id", place.PlaceID),
			zap.String("site", site),
			zap.Error(err))
		return p.finish(ctx, place, scraper.EnrichFailed, "")
	}
	if len(emails) == 0 {
		return p.finish(ctx, place, scraper.EnrichDone, "")
	}
	return p.finish(ctx, place, scraper.EnrichDone, strings.Join(emails, ";"))
}

// harvest fetches the homepage plus up to MaxContactLinks contact pages and
// returns the deduplicated, sorted union of emails found. Contact page fetch
// failures are logged and skipped; only the homepage fetch is fatal.
func (p *Pipeline) harvest(ctx context.Context, site string) ([]string, error) {
	home, err := p.fetcher.Fetch(ctx, site)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, e := range p.contact.Emails(home) {
		seen[e] = struct{}{}
	}

	for _, link := range p.contact.ContactLinks(home, site, p.cfg.MaxContactLinks) {
		doc, err := p.fetcher.Fetch(ctx, link)
		if err != nil {
			p.logger.Debug("contact page fetch failed", zap.String("url", link), zap.Error(err))
			continue
		}
		for _, e := range p.contact.Emails(doc) {
			seen[e] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Pipeline) finish(ctx context.Context, place scraper.Place, status scraper.EnrichStatus, email string) error {
	if err := p.places.SetEnrichment(ctx, place.PlaceID, status, email); err != nil {
		return fmt.Errorf("finish place %s: %w", place.PlaceID, err)
	}
	if p.emitter != nil && status == scraper.EnrichDone {
		p.emitter.Emit(progress.Event{
			JobID:     place.JobID,
			TS:        p.clock.Now(),
			Stage:     progress.StageEnrichDone,
			PlaceName: place.Name,
			Note:      fmt.Sprintf("%d email(s)", emailCount(email)),
		})
	}
	return nil
}

func emailCount(joined string) int {
	if joined == "" {
		return 0
	}
	return strings.Count(joined, ";") + 1
}

// normalizeSiteURL coerces the value scraped off the detail page into a
// fetchable absolute URL. Detail pages sometimes carry bare hosts.
func normalizeSiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

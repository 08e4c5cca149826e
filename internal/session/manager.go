// Package session owns the live browser automation context used for
// scraping. One Manager wraps exactly one chromedp tab at a time and recycles
// it on a record or wall-clock budget so no single browser fingerprint lives
// long enough to accumulate a history.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// Config controls session identity and rotation budgets.
type Config struct {
	UserAgent         string
	AcceptLanguage    string
	TargetOrigin      string
	NavigationTimeout time.Duration
	// RecordBudget recycles the context after this many processed records.
	RecordBudget int
	// MaxAge recycles the context after this much wall-clock time.
	MaxAge time.Duration
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultRecordBudget      = 400
	defaultMaxAge            = 45 * time.Minute

	scrollSettle = 700 * time.Millisecond
)

// Manager implements scraper.Browser using chromedp.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	openedAt    time.Time
	records     int
	rotations   int
}

// New constructs a Manager; Initialize must be called before Navigate.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.RecordBudget <= 0 {
		cfg.RecordBudget = defaultRecordBudget
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Initialize opens a fresh browser context with identity masking applied.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(ctx)
}

func (m *Manager) openLocked(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	width, height := plausibleViewport()
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(width, height, 1.0, false),
	}
	if m.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(m.cfg.UserAgent))
	}
	if m.cfg.AcceptLanguage != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": m.cfg.AcceptLanguage,
		}))
	}
	if m.cfg.TargetOrigin != "" {
		actions = append(actions, browser.GrantPermissions(
			[]browser.PermissionType{
				browser.PermissionTypeGeolocation,
				browser.PermissionTypeNotifications,
			},
		).WithOrigin(m.cfg.TargetOrigin))
	}
	runCtx, cancel := context.WithTimeout(tabCtx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("apply session identity: %w", err)
	}
	if ctx.Err() != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("session open canceled: %w", ctx.Err())
	}

	m.closeContextsLocked()
	m.allocator = allocCtx
	m.allocCancel = allocCancel
	m.tab = tabCtx
	m.tabCancel = tabCancel
	m.openedAt = time.Now()
	m.records = 0
	m.logger.Debug("browser session opened",
		zap.Int64("viewport_w", width),
		zap.Int64("viewport_h", height),
	)
	return nil
}

// Navigate loads a URL, waits for the landmark element, optionally scrolls a
// lazy-loaded container to exhaustion, and returns the settled DOM.
func (m *Manager) Navigate(ctx context.Context, url string, opts scraper.NavOptions) (*goquery.Document, error) {
	m.mu.Lock()
	tab := m.tab
	m.mu.Unlock()
	if tab == nil {
		return nil, fmt.Errorf("session not initialized")
	}

	navCtx, cancel := context.WithTimeout(tab, m.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	actions := []chromedp.Action{
		chromedp.Navigate(url),
	}
	if opts.WaitSelector != "" {
		actions = append(actions, chromedp.WaitReady(opts.WaitSelector, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	if opts.ScrollSelector != "" {
		if err := m.scrollToEnd(navCtx, opts); err != nil {
			return nil, fmt.Errorf("scroll results: %w", err)
		}
	}

	var html string
	if err := chromedp.Run(navCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("capture dom: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	return doc, nil
}

// scrollToEnd scrolls the container until the end marker appears, the child
// count stops growing for the configured idle rounds, or the scroll cap hits.
func (m *Manager) scrollToEnd(ctx context.Context, opts scraper.NavOptions) error {
	idleRounds := opts.ScrollIdleRounds
	if idleRounds <= 0 {
		idleRounds = 3
	}
	maxScrolls := opts.MaxScrolls
	if maxScrolls <= 0 {
		maxScrolls = 60
	}

	scrollJS := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) { return -1; } el.scrollTop = el.scrollHeight; return el.childElementCount; })()`,
		opts.ScrollSelector,
	)
	markerJS := ""
	if opts.EndMarker != "" {
		markerJS = fmt.Sprintf(`document.querySelector(%q) !== null`, opts.EndMarker)
	}

	lastCount := -1
	idle := 0
	for i := 0; i < maxScrolls; i++ {
		var count int
		if err := chromedp.Run(ctx, chromedp.Evaluate(scrollJS, &count)); err != nil {
			return fmt.Errorf("scroll step: %w", err)
		}
		if count < 0 {
			return nil
		}
		scraper.Sleep(ctx, scrollSettle)
		if markerJS != "" {
			var done bool
			if err := chromedp.Run(ctx, chromedp.Evaluate(markerJS, &done)); err != nil {
				return fmt.Errorf("end marker check: %w", err)
			}
			if done {
				return nil
			}
		}
		if count == lastCount {
			idle++
			if idle >= idleRounds {
				return nil
			}
		} else {
			idle = 0
			lastCount = count
		}
	}
	return nil
}

// RecordProcessed advances the rotation budget.
func (m *Manager) RecordProcessed() {
	m.mu.Lock()
	m.records++
	m.mu.Unlock()
}

// MaybeRotate recycles the browser context when either budget is exhausted.
func (m *Manager) MaybeRotate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tab == nil {
		return m.openLocked(ctx)
	}
	if !rotationDue(m.records, m.cfg.RecordBudget, time.Since(m.openedAt), m.cfg.MaxAge) {
		return nil
	}
	m.rotations++
	m.logger.Info("rotating browser session",
		zap.Int("records", m.records),
		zap.Duration("age", time.Since(m.openedAt)),
		zap.Int("rotation", m.rotations),
	)
	return m.openLocked(ctx)
}

// Close releases the browser. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closeContextsLocked()
	m.mu.Unlock()
	m.logger.Debug("browser session closed")
	return nil
}

func (m *Manager) closeContextsLocked() {
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
		m.tab = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
		m.allocator = nil
	}
}

// rotationDue is the budget predicate, factored out for testing.
func rotationDue(records, recordBudget int, age, maxAge time.Duration) bool {
	if recordBudget > 0 && records >= recordBudget {
		return true
	}
	return maxAge > 0 && age >= maxAge
}

// plausibleViewport returns a desktop viewport drawn from common sizes with
// small jitter, so every session reports a believable but distinct geometry.
func plausibleViewport() (int64, int64) {
	bases := [][2]int64{
		{1280, 800},
		{1366, 768},
		{1440, 900},
		{1536, 864},
		{1680, 1050},
		{1920, 1080},
	}
	base := bases[int(randomBelow(int64(len(bases))))]
	return base[0] + randomBelow(16), base[1] + randomBelow(16)
}

func randomBelow(bound int64) int64 {
	if bound <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(bound))
	if err != nil {
		return 0
	}
	return n.Int64()
}

package enrich

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Fetcher retrieves an external business site page as a parsed document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*goquery.Document, error)
}

// FetcherConfig tunes the colly-backed fetcher.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	// PerDomainDelay throttles repeat hits on the same site. Contact pages
	// live on the homepage's domain, so this is what keeps the harvest polite.
	PerDomainDelay time.Duration
	MaxBodyBytes   int
}

func (c *FetcherConfig) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.PerDomainDelay <= 0 {
		c.PerDomainDelay = 2 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
}

// CollyFetcher implements Fetcher over a shared colly collector.
type CollyFetcher struct {
	base   *colly.Collector
	logger *zap.Logger
}

// NewCollyFetcher constructs a configured colly-backed Fetcher.
func NewCollyFetcher(cfg FetcherConfig, logger *zap.Logger) (*CollyFetcher, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.PerDomainDelay,
	}); err != nil {
		return nil, err
	}

	return &CollyFetcher{base: base, logger: logger}, nil
}

// Fetch retrieves and parses one page. Non-2xx responses surface as errors
// through colly's OnError path.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		send(fetchResult{doc: doc, err: err})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return res.doc, res.err
	default:
		return nil, errors.New("fetch produced no result")
	}
}

type fetchResult struct {
	doc *goquery.Document
	err error
}

package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HeuristicChallengeDetector flags anti-automation interstitials using simple
// DOM signals: a known widget selector, or known phrasing in the visible body
// text. False negatives are expected; no bypass is ever attempted.
type HeuristicChallengeDetector struct {
	selectors []string
	phrases   []string
}

// Default signals observed on the target property's interstitial pages.
var (
	defaultChallengeSelectors = []string{
		"form#captcha-form",
		"iframe[src*='recaptcha']",
		"div#recaptcha",
		"div.g-recaptcha",
	}
	defaultChallengePhrases = []string{
		"unusual traffic",
		"verify you are a human",
		"prove you're human",
		"our systems have detected",
	}
)

// NewChallengeDetector builds a detector; empty slices fall back to the
// built-in signal lists.
func NewChallengeDetector(selectors, phrases []string) *HeuristicChallengeDetector {
	if len(selectors) == 0 {
		selectors = defaultChallengeSelectors
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	if len(lowered) == 0 {
		lowered = defaultChallengePhrases
	}
	return &HeuristicChallengeDetector{
		selectors: selectors,
		phrases:   lowered,
	}
}

// IsChallenge reports whether the loaded page looks like an interstitial.
func (d *HeuristicChallengeDetector) IsChallenge(doc *goquery.Document) bool {
	if d == nil || doc == nil {
		return false
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	body := strings.ToLower(doc.Find("body").Text())
	if body == "" {
		return false
	}
	for _, phrase := range d.phrases {
		if strings.Contains(body, phrase) {
			return true
		}
	}
	return false
}

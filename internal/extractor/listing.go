package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result-listing selectors. The feed is a lazy-loaded scroll container whose
// entries link to place detail pages.
const (
	// ListingFeedSelector is the scrollable results container.
	ListingFeedSelector = "div[role='feed']"
	// ListingReadySelector is the landmark awaited after navigation.
	ListingReadySelector = "div[role='feed'], div[role='main']"
	// ListingEndSelector appears once the feed has no more results.
	ListingEndSelector = "span.end-of-list, p.fontBodyMedium > span > span"

	placeLinkFragment = "/maps/place/"
	endOfListPhrase   = "reached the end of the list"
)

// Listing parses a result-listing page.
type Listing struct{}

// NewListing returns a Listing extractor.
func NewListing() *Listing {
	return &Listing{}
}

// Links returns the candidate detail-page URLs in feed order, deduplicated,
// plus whether the explicit end-of-results marker is present.
func (l *Listing) Links(doc *goquery.Document) ([]string, bool) {
	if doc == nil {
		return nil, false
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(href, placeLinkFragment) {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links, l.atEnd(doc)
}

func (l *Listing) atEnd(doc *goquery.Document) bool {
	if doc.Find(ListingEndSelector).Length() > 0 {
		return true
	}
	feed := doc.Find(ListingFeedSelector)
	if feed.Length() == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(feed.Text()), endOfListPhrase)
}

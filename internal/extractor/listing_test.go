package extractor

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

// TestListingLinks pulls place links in feed order and drops duplicates.
func TestListingLinks(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<html><body><div role="feed">
		<a href="https://www.google.com/maps/place/Alpha/data=!1s0x1:0x1">Alpha</a>
		<a href="https://www.google.com/maps/place/Beta/data=!1s0x2:0x2">Beta</a>
		<a href="https://www.google.com/maps/place/Alpha/data=!1s0x1:0x1">Alpha again</a>
		<a href="https://www.google.com/maps/contrib/12345">not a place</a>
	</div></body></html>`)

	links, end := NewListing().Links(doc)
	require.Equal(t, []string{
		"https://www.google.com/maps/place/Alpha/data=!1s0x1:0x1",
		"https://www.google.com/maps/place/Beta/data=!1s0x2:0x2",
	}, links)
	require.False(t, end)
}

// TestListingEndMarker detects the end-of-results phrasing inside the feed.
func TestListingEndMarker(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<html><body><div role="feed">
		<a href="/maps/place/Only/data=!1s0x9:0x9">Only</a>
		<p>You've reached the end of the list.</p>
	</div></body></html>`)

	links, end := NewListing().Links(doc)
	require.Len(t, links, 1)
	require.True(t, end)
}

// TestListingEmptyFeed returns no links and no end marker.
func TestListingEmptyFeed(t *testing.T) {
	t.Parallel()

	links, end := NewListing().Links(parseDoc(t, `<html><body><div role="main"></div></body></html>`))
	require.Empty(t, links)
	require.False(t, end)
}

package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DetailReadySelector is the landmark awaited on a place detail page.
const DetailReadySelector = "h1, div[role='main']"

var (
	// placeIDPattern matches the source's stable place identifier embedded
	// in detail URLs (the data=!...!1s<id> segment or the raw hex pair).
	placeIDPattern    = regexp.MustCompile(`!1s([^!?&]+)`)
	hexPlaceIDPattern = regexp.MustCompile(`0x[0-9a-f]+:0x[0-9a-f]+`)
	coordinatePattern = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)
	reviewCountDigits = regexp.MustCompile(`[\d,.]+`)
)

// Detail parses a place detail page into a Place record. All fields except
// the place id are best-effort.
type Detail struct{}

// NewDetail returns a Detail extractor.
func NewDetail() *Detail {
	return &Detail{}
}

// Fields is the extraction result. The orchestrator maps it onto
// scraper.Place; keeping the extractor free of domain types makes it a pure
// parsing function over the loaded DOM.
type Fields struct {
	PlaceID     string
	Name        string
	Address     string
	Locality    string
	Rating      *float64
	Reviews     *int
	Phone       string
	Website     string
	Lat         *float64
	Lng         *float64
	OpenStatus  string
	Categories  []string
	Hours       string
	Description string
}

// Place extracts the record from a loaded detail page. pageURL is the URL the
// session actually landed on; the place id and coordinates live there.
func (d *Detail) Place(doc *goquery.Document, pageURL string) (Fields, error) {
	id := PlaceID(pageURL)
	if id == "" {
		return Fields{}, fmt.Errorf("no place id in url %q", pageURL)
	}
	f := Fields{PlaceID: id}

	f.Name = strings.TrimSpace(doc.Find("h1").First().Text())
	f.Address = itemButtonLabel(doc, "address", "Address: ")
	f.Phone = itemButtonLabel(doc, "phone", "Phone: ")
	if href, ok := doc.Find("a[data-item-id='authority']").Attr("href"); ok {
		f.Website = strings.TrimSpace(href)
	}
	f.Rating = parseRating(doc)
	f.Reviews = parseReviewCount(doc)
	f.Categories = parseCategories(doc)
	f.OpenStatus = parseOpenStatus(doc)
	f.Hours = parseHours(doc)
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		f.Description = strings.TrimSpace(desc)
	}
	f.Locality = localityFromAddress(f.Address)
	f.Lat, f.Lng = coordinates(pageURL)
	return f, nil
}

// PlaceID pulls the stable identifier out of a detail URL, or "".
func PlaceID(pageURL string) string {
	if m := placeIDPattern.FindStringSubmatch(pageURL); len(m) == 2 {
		return m[1]
	}
	return hexPlaceIDPattern.FindString(pageURL)
}

// itemButtonLabel reads the aria-label of an info row button, stripping the
// given prefix ("Address: 123 Main St" -> "123 Main St").
func itemButtonLabel(doc *goquery.Document, itemID, prefix string) string {
	var out string
	doc.Find(fmt.Sprintf("button[data-item-id^='%s']", itemID)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		label, ok := sel.Attr("aria-label")
		if !ok {
			return true
		}
		out = strings.TrimSpace(strings.TrimPrefix(label, prefix))
		return false
	})
	return out
}

func parseRating(doc *goquery.Document) *float64 {
	var rating *float64
	doc.Find("span[aria-label]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		label, _ := sel.Attr("aria-label")
		if !strings.Contains(label, "star") {
			return true
		}
		fields := strings.Fields(label)
		if len(fields) == 0 {
			return true
		}
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil && v >= 0 && v <= 5 {
			rating = &v
			return false
		}
		return true
	})
	return rating
}

func parseReviewCount(doc *goquery.Document) *int {
	var count *int
	doc.Find("span[aria-label], button[aria-label]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		label, _ := sel.Attr("aria-label")
		if !strings.Contains(strings.ToLower(label), "review") {
			return true
		}
		digits := reviewCountDigits.FindString(label)
		digits = strings.ReplaceAll(digits, ",", "")
		digits = strings.ReplaceAll(digits, ".", "")
		if digits == "" {
			return true
		}
		if v, err := strconv.Atoi(digits); err == nil {
			count = &v
			return false
		}
		return true
	})
	return count
}

func parseCategories(doc *goquery.Document) []string {
	var cats []string
	seen := make(map[string]struct{})
	doc.Find("button[jsaction*='category'], span.category").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		cats = append(cats, text)
	})
	return cats
}

func parseOpenStatus(doc *goquery.Document) string {
	var status string
	doc.Find("span").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		switch text {
		case "Open", "Open 24 hours", "Closed", "Temporarily closed", "Permanently closed":
			status = text
			return false
		}
		return true
	})
	return status
}

func parseHours(doc *goquery.Document) string {
	table := doc.Find("table[aria-label], div[aria-label*='Hours']").First()
	if table.Length() == 0 {
		return ""
	}
	if label, ok := table.Attr("aria-label"); ok && strings.Contains(label, "Hours") {
		return strings.TrimSpace(label)
	}
	return strings.Join(strings.Fields(table.Text()), " ")
}

// localityFromAddress takes the segment after the first comma: the
// city/locality portion of "123 Main St, Springfield, IL 62704".
func localityFromAddress(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func coordinates(pageURL string) (*float64, *float64) {
	m := coordinatePattern.FindStringSubmatch(pageURL)
	if len(m) != 3 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, nil
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, nil
	}
	return &lat, &lng
}

// ScrapeTimestamp normalizes extraction timestamps to UTC seconds; detail
// pages do not carry one, so the caller's clock is the source of truth.
func ScrapeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

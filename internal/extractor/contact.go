package extractor

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

	// Obvious non-addresses that match the email shape: asset filenames and
	// placeholder text baked into templates.
	emailJunkSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}
	emailJunkBodies   = []string{"example.", "sample", "yourdomain", "youremail", "sentry.io"}

	contactLinkWords = []string{"contact", "about", "impressum", "kontakt"}
)

// Contact parses externally discovered business sites for contact data.
type Contact struct{}

// NewContact returns a Contact extractor.
func NewContact() *Contact {
	return &Contact{}
}

// Emails returns the deduplicated, lowercased email-shaped tokens found in
// the page's visible text and mailto links, junk filtered, sorted for
// deterministic output.
func (c *Contact) Emails(doc *goquery.Document) []string {
	if doc == nil {
		return nil
	}
	seen := make(map[string]struct{})

	add := func(candidate string) {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" || isJunkEmail(candidate) {
			return
		}
		seen[candidate] = struct{}{}
	}

	doc.Find("a[href^='mailto:']").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if emailPattern.MatchString(addr) {
			add(addr)
		}
	})
	for _, match := range emailPattern.FindAllString(doc.Text(), -1) {
		add(match)
	}

	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// ContactLinks returns up to max same-site links labeled as contact/about
// pages, resolved against the page URL.
func (c *Contact) ContactLinks(doc *goquery.Document, pageURL string, max int) []string {
	if doc == nil || max <= 0 {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		text := strings.ToLower(sel.Text())
		if !looksLikeContactLink(strings.ToLower(href), text) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host != base.Host || resolved.String() == pageURL {
			return true
		}
		resolved.Fragment = ""
		key := resolved.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, key)
		return len(links) < max
	})
	return links
}

func looksLikeContactLink(href, text string) bool {
	if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
		return false
	}
	for _, w := range contactLinkWords {
		if strings.Contains(href, w) || strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func isJunkEmail(addr string) bool {
	for _, suffix := range emailJunkSuffixes {
		if strings.HasSuffix(addr, suffix) {
			return true
		}
	}
	for _, body := range emailJunkBodies {
		if strings.Contains(addr, body) {
			return true
		}
	}
	return false
}

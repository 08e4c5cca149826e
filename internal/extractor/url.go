// Package extractor confines all source-specific DOM parsing. One extractor
// exists per page type (result listing, place detail, contact page) so the
// orchestration logic stays selector-agnostic.
package extractor

import (
	"net/url"
	"strings"
)

const searchBase = "https://www.google.com/maps/search/"

// SearchURL builds the map-search listing URL for a term scoped to an
// optional location. Locations may be free text ("Springfield, IL") or a
// "lat,lng" pair produced by the grid generator.
func SearchURL(term, location string) string {
	term = strings.TrimSpace(term)
	location = strings.TrimSpace(location)
	if location == "" {
		return searchBase + url.PathEscape(term)
	}
	if isCoordinate(location) {
		return searchBase + url.PathEscape(term) + "/@" + location + ",14z"
	}
	return searchBase + url.PathEscape(term+" "+location)
}

// isCoordinate reports whether the location looks like "lat,lng".
func isCoordinate(s string) bool {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return false
		}
		for i, r := range p {
			switch {
			case r >= '0' && r <= '9':
			case r == '.' || (r == '-' && i == 0):
			default:
				return false
			}
		}
	}
	return true
}

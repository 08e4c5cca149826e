package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// baseColumns always lead the export, regardless of the job's selection.
var baseColumns = []string{"place_id", "name", "address", "website"}

// optionalColumns are selectable per job at submission time.
var optionalColumns = map[string]bool{
	"locality":      true,
	"rating":        true,
	"review_count":  true,
	"phone":         true,
	"email":         true,
	"social_links":  true,
	"lat":           true,
	"lng":           true,
	"open_status":   true,
	"categories":    true,
	"hours":         true,
	"description":   true,
	"enrich_status": true,
	"scraped_at":    true,
}

// normalizeFields validates and dedupes a submitted field selection. Fields
// already in the base column set are dropped rather than rejected.
func normalizeFields(fields []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		if isBaseColumn(f) {
			continue
		}
		if !optionalColumns[f] {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		out = append(out, f)
	}
	return out, nil
}

func isBaseColumn(f string) bool {
	for _, c := range baseColumns {
		if c == f {
			return true
		}
	}
	return false
}

// exportJob streams the job's places as CSV. Columns are the base set plus
// the job's field selection, in submission order.
func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	columns := append(append([]string(nil), baseColumns...), job.Fields...)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "places-"+jobID+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		s.logger.Warn("csv header write failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	row := make([]string, len(columns))
	err = s.places.StreamByJob(r.Context(), jobID, func(p scraper.Place) error {
		for i, col := range columns {
			row[i] = placeColumn(p, col)
		}
		return cw.Write(row)
	})
	if err != nil {
		// Headers are gone; all we can do is log and cut the stream short.
		s.logger.Error("export stream failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Warn("csv flush failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func placeColumn(p scraper.Place, column string) string {
	switch column {
	case "place_id":
		return p.PlaceID
	case "name":
		return p.Name
	case "address":
		return p.Address
	case "website":
		return p.Website
	case "locality":
		return p.Locality
	case "rating":
		return formatFloat(p.Rating)
	case "review_count":
		if p.Reviews == nil {
			return ""
		}
		return strconv.Itoa(*p.Reviews)
	case "phone":
		return p.Phone
	case "email":
		return p.Email
	case "social_links":
		return strings.Join(p.Social, ";")
	case "lat":
		return formatFloat(p.Lat)
	case "lng":
		return formatFloat(p.Lng)
	case "open_status":
		return p.OpenStatus
	case "categories":
		return strings.Join(p.Categories, ";")
	case "hours":
		return p.Hours
	case "description":
		return p.Description
	case "enrich_status":
		return string(p.Enrich)
	case "scraped_at":
		if p.ScrapedAt.IsZero() {
			return ""
		}
		return p.ScrapedAt.UTC().Format("2006-01-02T15:04:05Z")
	default:
		return ""
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

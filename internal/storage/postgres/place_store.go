package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// PlaceStore implements scraper.PlaceStore on Postgres. The primary key on
// place_id is the sole cross-job deduplication mechanism.
type PlaceStore struct {
	pool Pool
}

// NewPlaceStore constructs a PlaceStore from an existing pool.
func NewPlaceStore(pool Pool) (*PlaceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PlaceStore{pool: pool}, nil
}

const placeColumns = `place_id, job_id, name, address, locality, rating,
	review_count, phone, website, email, social, lat, lng, open_status,
	categories, hours, description, enrich_status, scraped_at`

// UpsertPlace inserts the place, reporting whether a new row was created. A
// natural-key collision leaves the existing row untouched and returns
// (false, nil): duplicates are an expected condition, not an error.
func (s *PlaceStore) UpsertPlace(ctx context.Context, place scraper.Place) (bool, error) {
	query := `
		INSERT INTO places (` + placeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (place_id) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query,
		place.PlaceID,
		place.JobID,
		place.Name,
		place.Address,
		place.Locality,
		place.Rating,
		place.Reviews,
		place.Phone,
		place.Website,
		place.Email,
		place.Social,
		place.Lat,
		place.Lng,
		place.OpenStatus,
		place.Categories,
		place.Hours,
		place.Description,
		string(place.Enrich),
		place.ScrapedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert place: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPlace loads one place or returns scraper.ErrNotFound.
func (s *PlaceStore) GetPlace(ctx context.Context, placeID string) (scraper.Place, error) {
	query := `SELECT ` + placeColumns + ` FROM places WHERE place_id = $1;`
	place, err := scanPlace(s.pool.QueryRow(ctx, query, placeID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return scraper.Place{}, scraper.ErrNotFound
		}
		return scraper.Place{}, fmt.Errorf("get place: %w", err)
	}
	return place, nil
}

// ListByJob returns places discovered by a job, newest first.
func (s *PlaceStore) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]scraper.Place, error) {
	query := `
		SELECT ` + placeColumns + `
		FROM places
		WHERE job_id = $1
		ORDER BY scraped_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var out []scraper.Place
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		out = append(out, place)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate places: %w", err)
	}
	return out, nil
}

// StreamByJob invokes fn for every place of a job in discovery order. Used by
// the CSV export so result sets never sit fully in memory.
func (s *PlaceStore) StreamByJob(ctx context.Context, jobID string, fn func(scraper.Place) error) error {
	query := `
		SELECT ` + placeColumns + `
		FROM places
		WHERE job_id = $1
		ORDER BY scraped_at ASC;
	`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("stream places: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return fmt.Errorf("scan place: %w", err)
		}
		if err := fn(place); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate places: %w", err)
	}
	return nil
}

// SetEnrichment patches the contact email and enrichment state. Only the
// enrichment pipeline amends place rows after insert.
func (s *PlaceStore) SetEnrichment(
	ctx context.Context,
	placeID string,
	status scraper.EnrichStatus,
	email string,
) error {
	query := `UPDATE places SET enrich_status = $2, email = $3 WHERE place_id = $1;`
	tag, err := s.pool.Exec(ctx, query, placeID, string(status), email)
	if err != nil {
		return fmt.Errorf("set enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}

func scanPlace(row pgx.Row) (scraper.Place, error) {
	var (
		place  scraper.Place
		enrich string
	)
	err := row.Scan(
		&place.PlaceID,
		&place.JobID,
		&place.Name,
		&place.Address,
		&place.Locality,
		&place.Rating,
		&place.Reviews,
		&place.Phone,
		&place.Website,
		&place.Email,
		&place.Social,
		&place.Lat,
		&place.Lng,
		&place.OpenStatus,
		&place.Categories,
		&place.Hours,
		&place.Description,
		&enrich,
		&place.ScrapedAt,
	)
	if err != nil {
		return scraper.Place{}, err
	}
	place.Enrich = scraper.EnrichStatus(enrich)
	return place, nil
}

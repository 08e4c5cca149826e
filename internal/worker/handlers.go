package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// JobRunner is the orchestrator surface the scrape handler drives.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, errText string) error
}

// ScrapeHandler executes scrape units against the orchestrator.
type ScrapeHandler struct {
	runner JobRunner
	logger *zap.Logger
}

// NewScrapeHandler constructs a ScrapeHandler.
func NewScrapeHandler(runner JobRunner, logger *zap.Logger) *ScrapeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeHandler{runner: runner, logger: logger}
}

// Handle runs the job loop; the orchestrator resumes from the persisted
// cursor, so the payload's cursor is informational only.
func (h *ScrapeHandler) Handle(ctx context.Context, item scraper.QueueItem) error {
	return h.runner.RunJob(ctx, item.JobID)
}

// Exhausted finalizes the job as failed.
func (h *ScrapeHandler) Exhausted(ctx context.Context, item scraper.QueueItem, err error) {
	if ferr := h.runner.FailJob(ctx, item.JobID, err.Error()); ferr != nil {
		h.logger.Error("finalize failed job",
			zap.String("job_id", item.JobID), zap.Error(ferr))
	}
}

// Enricher is the pipeline surface the enrich handler drives.
type Enricher interface {
	Enrich(ctx context.Context, unit scraper.EnrichUnit) error
}

// EnrichHandler executes enrichment units. The pipeline absorbs page-level
// failures by marking the place, so errors here mean storage breakage.
type EnrichHandler struct {
	enricher Enricher
	logger   *zap.Logger
}

// NewEnrichHandler constructs an EnrichHandler.
func NewEnrichHandler(enricher Enricher, logger *zap.Logger) *EnrichHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrichHandler{enricher: enricher, logger: logger}
}

// Handle decodes the unit and runs the enrichment pass.
func (h *EnrichHandler) Handle(ctx context.Context, item scraper.QueueItem) error {
	var unit scraper.EnrichUnit
	if err := json.Unmarshal(item.Payload, &unit); err != nil {
		return fmt.Errorf("decode enrich unit: %w", err)
	}
	return h.enricher.Enrich(ctx, unit)
}

// Exhausted logs and drops: enrichment is strictly best-effort.
func (h *EnrichHandler) Exhausted(_ context.Context, item scraper.QueueItem, err error) {
	h.logger.Warn("enrich unit dropped",
		zap.Int64("unit_id", item.ID),
		zap.String("job_id", item.JobID),
		zap.Error(err))
}

package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateLimitBucketKey is the quota bucket shared by all upstream page fetches.
const RateLimitBucketKey = "scrape-upstream"

// Source is the upstream fetch boundary consumed by the import pipeline.
// The production implementation lives in internal/scraper.
type Source interface {
	FetchPage(ctx context.Context, entity models.EntityType, page int) (*scraper.Page, error)
	FetchRecord(ctx context.Context, entity models.EntityType, externalID string) (scraper.Record, error)
}

// phaseResult summarizes one executed phase.
type phaseResult struct {
	processed    int64 // records fetched (valid + invalid)
	totalRecords int64 // upstream-reported total, 0 when never sized
	skippedPages []int
}

// phaseRunner drives one phase through its page loop:
// fetch -> validate -> persist -> metrics -> checkpoint, repeated until the
// source is exhausted. Pages are processed strictly in upstream order and the
// checkpoint for page N is written only after page N's records are committed.
type phaseRunner struct {
	db          *gorm.DB
	source      Source
	limiter     *WindowLimiter
	checkpoints *CheckpointStore
	metrics     *Metrics
	cfg         config.ImportConfig

	// onBatch is called after every committed batch with the phase's fetched
	// record count so far and the upstream total (0 while unknown).
	onBatch func(processed, total int64)
}

// run executes the phase starting after lastBatch (0 means from the first
// page). Cancellation is honored only between batches, so a cancelled run
// always leaves a checkpoint describing a fully committed batch.
func (r *phaseRunner) run(ctx context.Context, phase Phase, lastBatch int) (*phaseResult, error) {
	entity := phase.Entity()
	result := &phaseResult{}
	totalPages := 0

	page := lastBatch + 1
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if wait := r.waitForQuota(ctx); wait != nil {
			return result, wait
		}

		fetched, err := r.source.FetchPage(ctx, entity, page)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if errors.Is(err, scraper.ErrNotFound) {
				// Past the last page; the sweep is complete.
				return result, nil
			}
			if totalPages == 0 {
				// The phase was never sized, so there is no way to know how
				// far to continue skipping. Surface the classified error.
				return result, fmt.Errorf("fetching %s page %d: %w", entity, page, err)
			}
			logger.Warn("Page exhausted all retries, deferring for explicit retry",
				zap.String("entity", string(entity)),
				zap.Int("page", page),
				zap.Error(err))
			if serr := r.recordSkippedPage(entity, page, err); serr != nil {
				return result, fmt.Errorf("recording skipped page: %w", serr)
			}
			result.skippedPages = append(result.skippedPages, page)
			if page >= totalPages {
				return result, nil
			}
			page++
			continue
		}

		if fetched.TotalPages > 0 {
			totalPages = fetched.TotalPages
			result.totalRecords = fetched.TotalRecords
		}

		valid, lastID := r.validateBatch(entity, fetched.Records)
		result.processed += int64(len(fetched.Records))

		if err := phase.Persist(r.db, valid); err != nil {
			return result, fmt.Errorf("persisting %s page %d: %w", entity, page, err)
		}

		// Batch is durably committed; only now may the checkpoint advance.
		if err := r.checkpoints.Write(Checkpoint{
			Phase:           entity,
			BatchIndex:      page,
			LastProcessedID: lastID,
			ProgressPercent: pagePercent(page, totalPages),
		}); err != nil {
			return result, fmt.Errorf("writing checkpoint: %w", err)
		}

		if r.onBatch != nil {
			r.onBatch(result.processed, result.totalRecords)
		}

		if len(fetched.Records) == 0 {
			return result, nil
		}
		if totalPages > 0 && page >= totalPages {
			return result, nil
		}
		page++
	}
}

// validateBatch drops structurally invalid records, counting them in the
// metrics. A bad record never fails its batch.
func (r *phaseRunner) validateBatch(entity models.EntityType, records []scraper.Record) ([]scraper.Record, string) {
	valid := make([]scraper.Record, 0, len(records))
	lastID := ""
	for _, rec := range records {
		if rec.Key() != "" {
			lastID = rec.Key()
		}
		res := ValidateRecord(rec)
		if !res.Valid {
			r.metrics.RecordInvalid()
			logger.Debug("Dropping invalid record",
				zap.String("entity", string(entity)),
				zap.String("key", rec.Key()),
				zap.Strings("errors", res.Errors))
			continue
		}
		r.metrics.RecordValid()
		valid = append(valid, rec)
	}
	return valid, lastID
}

// waitForQuota blocks until the window limiter admits the next fetch or the
// context ends.
func (r *phaseRunner) waitForQuota(ctx context.Context) error {
	for {
		decision := r.limiter.CheckLimit(RateLimitBucketKey, r.cfg.RateLimitWindow, r.cfg.RateLimitRequests)
		if decision.Allowed {
			return nil
		}
		wait := decision.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		logger.Debug("Rate limit window exhausted, waiting",
			zap.Duration("retry_after", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *phaseRunner) recordSkippedPage(entity models.EntityType, page int, cause error) error {
	row := models.SkippedPage{
		EntityType: string(entity),
		PageNumber: page,
		LastError:  cause.Error(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "page_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_error"}),
	}).Create(&row).Error
}

func pagePercent(page, totalPages int) int {
	if totalPages <= 0 {
		return 0
	}
	pct := page * 100 / totalPages
	if pct > 100 {
		pct = 100
	}
	return pct
}

package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ratingTolerance is the allowed numeric drift for rating-type fields before
// a discrepancy is reported.
const ratingTolerance = 0.5

// DiscrepancyDetail is one field-level mismatch between the store and the
// live source.
type DiscrepancyDetail struct {
	EntityType string `json:"entity_type"`
	ExternalID string `json:"external_id"`
	Field      string `json:"field"`
	Stored     string `json:"stored"`
	Upstream   string `json:"upstream"`
	Severity   string `json:"severity"` // HIGH/MEDIUM/LOW
}

// EntityVerification is the per-entity-type reconciliation outcome. Sampled
// records whose upstream re-fetch failed are excluded from the accuracy
// denominator: verification measures known discrepancies, not upstream
// availability.
type EntityVerification struct {
	EntityType    string              `json:"entity_type"`
	TotalCount    int64               `json:"total_count"`
	SampleSize    int                 `json:"sample_size"`
	CheckedCount  int                 `json:"checked_count"`
	MatchedCount  int                 `json:"matched_count"`
	FetchFailures int                 `json:"fetch_failures"`
	Discrepancies []DiscrepancyDetail `json:"discrepancies"`
	Accuracy      float64             `json:"accuracy"`
}

// OverallVerificationReport aggregates all entity verifications. Never
// mutated after creation.
type OverallVerificationReport struct {
	TriggerType string               `json:"trigger_type"`
	Status      string               `json:"status"` // PASSED/WARNING/FAILED
	Accuracy    float64              `json:"accuracy"`
	GeneratedAt time.Time            `json:"generated_at"`
	Entities    []EntityVerification `json:"entities"`
}

// Verifier reconciles a random sample of persisted rows against the live
// source to detect silent drift. It runs independently of imports and may
// execute concurrently with one.
type Verifier struct {
	db     *gorm.DB
	source Source
}

func NewVerifier(db *gorm.DB, source Source) *Verifier {
	return &Verifier{db: db, source: source}
}

// RunDataVerification samples at least 1% (minimum one record) of each entity
// family, re-fetches every sampled record and diffs the tracked fields. The
// report is persisted as an audit artifact.
func (v *Verifier) RunDataVerification(ctx context.Context, triggerType string) (*OverallVerificationReport, error) {
	report := &OverallVerificationReport{
		TriggerType: triggerType,
		GeneratedAt: time.Now(),
	}

	var checkedSum, matchedSum int
	for _, entity := range models.PhaseOrder {
		ev, err := v.verifyEntity(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("verifying %s: %w", entity, err)
		}
		if ev == nil {
			continue // nothing persisted for this entity yet
		}
		report.Entities = append(report.Entities, *ev)
		checkedSum += ev.CheckedCount
		matchedSum += ev.MatchedCount
	}

	report.Accuracy = Rate(int64(matchedSum), int64(checkedSum))
	switch {
	case checkedSum == 0 || report.Accuracy >= 95:
		report.Status = "PASSED"
	case report.Accuracy >= 85:
		report.Status = "WARNING"
	default:
		report.Status = "FAILED"
	}

	detailsJSON, _ := json.Marshal(report)
	row := models.VerificationReport{
		TriggerType: triggerType,
		Status:      report.Status,
		Accuracy:    report.Accuracy,
		DetailsJSON: string(detailsJSON),
	}
	if err := v.db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("persisting verification report: %w", err)
	}

	logger.Info("Verification completed",
		zap.String("trigger", triggerType),
		zap.String("status", report.Status),
		zap.Float64("accuracy", report.Accuracy))

	return report, nil
}

func (v *Verifier) verifyEntity(ctx context.Context, entity models.EntityType) (*EntityVerification, error) {
	rows, total, err := v.sample(entity)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	ev := &EntityVerification{
		EntityType:    string(entity),
		TotalCount:    total,
		SampleSize:    len(rows),
		Discrepancies: []DiscrepancyDetail{},
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		upstream, ferr := v.source.FetchRecord(ctx, entity, row.key)
		if ferr != nil {
			// Unreachable sample: excluded from the denominator.
			ev.FetchFailures++
			logger.Debug("Verification re-fetch failed, excluding sample",
				zap.String("entity", string(entity)),
				zap.String("key", row.key),
				zap.Error(ferr))
			continue
		}
		ev.CheckedCount++
		diffs := row.diff(upstream)
		if len(diffs) == 0 {
			ev.MatchedCount++
		} else {
			ev.Discrepancies = append(ev.Discrepancies, diffs...)
		}
	}

	ev.Accuracy = Rate(int64(ev.MatchedCount), int64(ev.CheckedCount))
	return ev, nil
}

// sampledRow pairs a natural key with a diff closure over the stored row.
type sampledRow struct {
	key  string
	diff func(upstream scraper.Record) []DiscrepancyDetail
}

// sampleSize is ceil(1% of total), minimum 1.
func sampleSize(total int64) int {
	n := int(math.Ceil(float64(total) / 100))
	if n < 1 {
		n = 1
	}
	return n
}

func (v *Verifier) sample(entity models.EntityType) ([]sampledRow, int64, error) {
	switch entity {
	case models.EntityClubs:
		return samplePick(v.db, entity, func(m models.Club) sampledRow {
			return sampledRow{key: m.ExternalID, diff: func(up scraper.Record) []DiscrepancyDetail {
				r, ok := up.(scraper.RawClub)
				if !ok {
					return nil
				}
				var d []DiscrepancyDetail
				d = appendStringDiff(d, entity, m.ExternalID, "name", m.Name, r.Name, "HIGH")
				d = appendIntDiff(d, entity, m.ExternalID, "player_count", int64(m.PlayerCount), int64(r.PlayerCount), "MEDIUM")
				d = appendFloatDiff(d, entity, m.ExternalID, "rating", m.Rating, r.Rating, ratingTolerance, "LOW")
				return d
			}}
		})
	case models.EntityPlayers:
		return samplePick(v.db, entity, func(m models.Player) sampledRow {
			return sampledRow{key: m.ExternalID, diff: func(up scraper.Record) []DiscrepancyDetail {
				r, ok := up.(scraper.RawPlayer)
				if !ok {
					return nil
				}
				var d []DiscrepancyDetail
				d = appendStringDiff(d, entity, m.ExternalID, "nickname", m.Nickname, r.Nickname, "HIGH")
				d = appendIntDiff(d, entity, m.ExternalID, "total_games", int64(m.TotalGames), int64(r.TotalGames), "MEDIUM")
				d = appendIntDiff(d, entity, m.ExternalID, "total_wins", int64(m.TotalWins), int64(r.TotalWins), "MEDIUM")
				d = appendFloatDiff(d, entity, m.ExternalID, "elo_rating", m.EloRating, r.EloRating, ratingTolerance, "LOW")
				return d
			}}
		})
	case models.EntityTournaments:
		return samplePick(v.db, entity, func(m models.Tournament) sampledRow {
			return sampledRow{key: m.ExternalID, diff: func(up scraper.Record) []DiscrepancyDetail {
				r, ok := up.(scraper.RawTournament)
				if !ok {
					return nil
				}
				var d []DiscrepancyDetail
				d = appendStringDiff(d, entity, m.ExternalID, "name", m.Name, r.Name, "HIGH")
				d = appendIntDiff(d, entity, m.ExternalID, "player_count", int64(m.PlayerCount), int64(r.PlayerCount), "MEDIUM")
				return d
			}}
		})
	case models.EntityGames:
		return samplePick(v.db, entity, func(m models.Game) sampledRow {
			return sampledRow{key: m.ExternalID, diff: func(up scraper.Record) []DiscrepancyDetail {
				r, ok := up.(scraper.RawGame)
				if !ok {
					return nil
				}
				var d []DiscrepancyDetail
				d = appendStringDiff(d, entity, m.ExternalID, "winner_side", m.WinnerSide, r.WinnerSide, "HIGH")
				d = appendStringDiff(d, entity, m.ExternalID, "tournament_id", m.TournamentExternalID, r.TournamentID, "HIGH")
				return d
			}}
		})
	case models.EntityYearStats:
		return samplePick(v.db, entity, func(m models.PlayerYearStat) sampledRow {
			key := m.PlayerExternalID + ":" + strconv.Itoa(m.Year)
			return sampledRow{key: key, diff: func(up scraper.Record) []DiscrepancyDetail {
				r, ok := up.(scraper.RawYearStat)
				if !ok {
					return nil
				}
				var d []DiscrepancyDetail
				d = appendIntDiff(d, entity, key, "games_played", int64(m.GamesPlayed), int64(r.GamesPlayed), "MEDIUM")
				d = appendIntDiff(d, entity, key, "wins", int64(m.Wins), int64(r.Wins), "MEDIUM")
				return d
			}}
		})
	case models.EntityTournamentResults:
		return samplePick(v.db, entity, func(m models.TournamentResult) sampledRow {
			key := m.TournamentExternalID + ":" + m.PlayerExternalID
			return sampledRow{key: key, diff: func(up scraper.Record) []DiscrepancyDetail {
				r, ok := up.(scraper.RawResult)
				if !ok {
					return nil
				}
				var d []DiscrepancyDetail
				d = appendIntDiff(d, entity, key, "place", int64(m.Place), int64(r.Place), "HIGH")
				d = appendFloatDiff(d, entity, key, "points", m.Points, r.Points, ratingTolerance, "LOW")
				return d
			}}
		})
	}
	return nil, 0, fmt.Errorf("unknown entity type %q", entity)
}

// samplePick draws an unbiased random sample of rows for one model type.
func samplePick[T any](db *gorm.DB, entity models.EntityType, wrap func(T) sampledRow) ([]sampledRow, int64, error) {
	var model T
	var total int64
	if err := db.Model(&model).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	var picked []T
	if err := db.Order("RANDOM()").Limit(sampleSize(total)).Find(&picked).Error; err != nil {
		return nil, 0, err
	}

	rows := make([]sampledRow, 0, len(picked))
	for _, m := range picked {
		rows = append(rows, wrap(m))
	}
	return rows, total, nil
}

// Latest returns the most recent verification report, or nil.
func (v *Verifier) Latest() (*models.VerificationReport, error) {
	var report models.VerificationReport
	err := v.db.Order("created_at DESC").First(&report).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// History returns up to limit most recent verification reports.
func (v *Verifier) History(limit int) ([]models.VerificationReport, error) {
	if limit <= 0 {
		limit = 20
	}
	var reports []models.VerificationReport
	err := v.db.Order("created_at DESC").Limit(limit).Find(&reports).Error
	return reports, err
}

func appendStringDiff(d []DiscrepancyDetail, entity models.EntityType, key, field, stored, upstream, severity string) []DiscrepancyDetail {
	if stored == upstream {
		return d
	}
	return append(d, DiscrepancyDetail{
		EntityType: string(entity), ExternalID: key, Field: field,
		Stored: stored, Upstream: upstream, Severity: severity,
	})
}

func appendIntDiff(d []DiscrepancyDetail, entity models.EntityType, key, field string, stored, upstream int64, severity string) []DiscrepancyDetail {
	if stored == upstream {
		return d
	}
	return append(d, DiscrepancyDetail{
		EntityType: string(entity), ExternalID: key, Field: field,
		Stored: strconv.FormatInt(stored, 10), Upstream: strconv.FormatInt(upstream, 10), Severity: severity,
	})
}

func appendFloatDiff(d []DiscrepancyDetail, entity models.EntityType, key, field string, stored, upstream, tolerance float64, severity string) []DiscrepancyDetail {
	if math.Abs(stored-upstream) <= tolerance {
		return d
	}
	return append(d, DiscrepancyDetail{
		EntityType: string(entity), ExternalID: key, Field: field,
		Stored: strconv.FormatFloat(stored, 'f', 2, 64), Upstream: strconv.FormatFloat(upstream, 'f', 2, 64), Severity: severity,
	})
}

package importer

import (
	"encoding/json"
	"fmt"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IntegritySummary is a snapshot of one referential-integrity sweep. It is
// derived data, recomputed in full on every sweep.
type IntegritySummary struct {
	Status       string   `json:"status"` // PASS/FAIL
	TotalChecks  int      `json:"total_checks"`
	PassedChecks int      `json:"passed_checks"`
	FailedChecks int      `json:"failed_checks"`
	Issues       []string `json:"issues"`
}

// IntegrityChecker runs a fixed battery of orphan-detection queries after a
// phase or full run completes. Failures are warnings for the operator, never
// fatal to the run.
type IntegrityChecker struct {
	db *gorm.DB
}

func NewIntegrityChecker(db *gorm.DB) *IntegrityChecker {
	return &IntegrityChecker{db: db}
}

type integrityCheck struct {
	name  string
	count func(db *gorm.DB) (int64, error)
}

func orphanCount(db *gorm.DB, model interface{}, column string, refModel interface{}) (int64, error) {
	var n int64
	sub := db.Model(refModel).Select("external_id")
	err := db.Model(model).
		Where(column+" <> '' AND "+column+" NOT IN (?)", sub).
		Count(&n).Error
	return n, err
}

var integrityChecks = []integrityCheck{
	{"players referencing missing clubs", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.Player{}, "club_external_id", &models.Club{})
	}},
	{"tournaments referencing missing clubs", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.Tournament{}, "club_external_id", &models.Club{})
	}},
	{"games referencing missing tournaments", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.Game{}, "tournament_external_id", &models.Tournament{})
	}},
	{"game seats referencing missing players", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.GamePlayer{}, "player_external_id", &models.Player{})
	}},
	{"game seats referencing missing games", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.GamePlayer{}, "game_external_id", &models.Game{})
	}},
	{"year stats referencing missing players", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.PlayerYearStat{}, "player_external_id", &models.Player{})
	}},
	{"tournament results referencing missing tournaments", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.TournamentResult{}, "tournament_external_id", &models.Tournament{})
	}},
	{"tournament results referencing missing players", func(db *gorm.DB) (int64, error) {
		return orphanCount(db, &models.TournamentResult{}, "player_external_id", &models.Player{})
	}},
}

// RunChecks executes the battery and persists the resulting report.
func (c *IntegrityChecker) RunChecks() (*IntegritySummary, error) {
	summary := &IntegritySummary{
		Status:      "PASS",
		TotalChecks: len(integrityChecks),
		Issues:      []string{},
	}

	for _, check := range integrityChecks {
		n, err := check.count(c.db)
		if err != nil {
			return nil, fmt.Errorf("integrity check %q: %w", check.name, err)
		}
		if n == 0 {
			summary.PassedChecks++
			continue
		}
		summary.FailedChecks++
		summary.Issues = append(summary.Issues,
			fmt.Sprintf("%d %s", n, check.name))
	}

	if summary.FailedChecks > 0 {
		summary.Status = "FAIL"
		logger.Warn("Integrity sweep found orphaned references",
			zap.Int("failed_checks", summary.FailedChecks),
			zap.Strings("issues", summary.Issues))
	}

	issuesJSON, _ := json.Marshal(summary.Issues)
	report := models.IntegrityReport{
		Status:       summary.Status,
		TotalChecks:  summary.TotalChecks,
		PassedChecks: summary.PassedChecks,
		FailedChecks: summary.FailedChecks,
		IssuesJSON:   string(issuesJSON),
	}
	if err := c.db.Create(&report).Error; err != nil {
		return nil, fmt.Errorf("persisting integrity report: %w", err)
	}

	return summary, nil
}

// Latest returns the most recent persisted integrity report, or nil.
func (c *IntegrityChecker) Latest() (*models.IntegrityReport, error) {
	var report models.IntegrityReport
	err := c.db.Order("created_at DESC").First(&report).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

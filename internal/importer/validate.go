package importer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
)

// ValidationResult is the outcome of structurally validating one record.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

var winnerSides = map[string]bool{"civilians": true, "mafia": true, "draw": true}

var seatRoles = map[string]bool{"civilian": true, "mafia": true, "sheriff": true, "don": true}

// ValidateRecord runs entity-specific structural checks: required fields,
// numeric ranges, enumerations. Referential checks are deferred to the
// integrity sweep since referenced entities may not be persisted yet.
func ValidateRecord(rec scraper.Record) ValidationResult {
	var errs []string

	switch r := rec.(type) {
	case scraper.RawClub:
		if r.ID == "" {
			errs = append(errs, "club id is required")
		}
		if r.Name == "" {
			errs = append(errs, "club name is required")
		}
		if r.PlayerCount < 0 {
			errs = append(errs, "club player_count must not be negative")
		}
	case scraper.RawPlayer:
		if r.ID == "" {
			errs = append(errs, "player id is required")
		}
		if r.Nickname == "" {
			errs = append(errs, "player nickname is required")
		}
		if r.TotalGames < 0 || r.TotalWins < 0 {
			errs = append(errs, "player game counters must not be negative")
		}
		if r.TotalWins > r.TotalGames {
			errs = append(errs, "player wins exceed games played")
		}
	case scraper.RawTournament:
		if r.ID == "" {
			errs = append(errs, "tournament id is required")
		}
		if r.Name == "" {
			errs = append(errs, "tournament name is required")
		}
		if r.Stars < 0 || r.Stars > 6 {
			errs = append(errs, fmt.Sprintf("tournament stars %d out of range", r.Stars))
		}
	case scraper.RawGame:
		if r.ID == "" {
			errs = append(errs, "game id is required")
		}
		if r.TournamentID == "" {
			errs = append(errs, "game tournament_id is required")
		}
		if r.WinnerSide != "" && !winnerSides[r.WinnerSide] {
			errs = append(errs, fmt.Sprintf("unknown winner side %q", r.WinnerSide))
		}
		for _, seat := range r.Seats {
			if seat.PlayerID == "" {
				errs = append(errs, "game seat missing player_id")
				break
			}
			if seat.Role != "" && !seatRoles[seat.Role] {
				errs = append(errs, fmt.Sprintf("unknown seat role %q", seat.Role))
				break
			}
		}
	case scraper.RawYearStat:
		if r.PlayerID == "" {
			errs = append(errs, "year stat player_id is required")
		}
		if r.Year < 2000 || r.Year > time.Now().Year()+1 {
			errs = append(errs, fmt.Sprintf("year %d out of range", r.Year))
		}
		if r.GamesPlayed < 0 || r.Wins < 0 {
			errs = append(errs, "year stat counters must not be negative")
		}
		if r.Wins > r.GamesPlayed {
			errs = append(errs, "year stat wins exceed games played")
		}
	case scraper.RawResult:
		if r.TournamentID == "" {
			errs = append(errs, "result tournament_id is required")
		}
		if r.PlayerID == "" {
			errs = append(errs, "result player_id is required")
		}
		if r.Place < 1 {
			errs = append(errs, "result place must be at least 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported record type %T", rec))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Metrics tracks per-run validation counters. Counters only grow during a
// run and are reset when a new run starts. Reads come from the unsynchronized
// polling path, so all access is mutex-guarded.
type Metrics struct {
	mu             sync.Mutex
	totalFetched   int64
	validRecords   int64
	invalidRecords int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Reset zeroes all counters at the start of a run.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFetched = 0
	m.validRecords = 0
	m.invalidRecords = 0
}

func (m *Metrics) RecordValid() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFetched++
	m.validRecords++
}

func (m *Metrics) RecordInvalid() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFetched++
	m.invalidRecords++
}

// Snapshot returns the current counters plus the derived validation rate.
func (m *Metrics) Snapshot() models.ValidationSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.ValidationSnapshot{
		TotalRecordsProcessed: m.totalFetched,
		ValidRecords:          m.validRecords,
		InvalidRecords:        m.invalidRecords,
		ValidationRate:        Rate(m.validRecords, m.totalFetched),
	}
}

// Rate computes (numerator/denominator)*100 rounded to two decimal places.
// A zero denominator yields exactly 0, never NaN.
func Rate(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*100*100) / 100
}

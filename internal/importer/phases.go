package importer

import (
	"fmt"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Phase persists one entity family. Implementations are stateless; the
// shared runner drives fetching, validation and checkpointing around them.
type Phase interface {
	Entity() models.EntityType
	Persist(db *gorm.DB, records []scraper.Record) error
}

// phaseTable maps each entity type to its phase implementation.
var phaseTable = map[models.EntityType]Phase{
	models.EntityClubs:             clubPhase{},
	models.EntityPlayers:           playerPhase{},
	models.EntityTournaments:       tournamentPhase{},
	models.EntityGames:             gamePhase{},
	models.EntityYearStats:         yearStatPhase{},
	models.EntityTournamentResults: resultPhase{},
}

// PhaseFor returns the phase implementation for an entity type.
func PhaseFor(entity models.EntityType) (Phase, error) {
	p, ok := phaseTable[entity]
	if !ok {
		return nil, fmt.Errorf("no phase registered for entity type %q", entity)
	}
	return p, nil
}

func upsertOn(db *gorm.DB, columns []string, updates []string) *gorm.DB {
	cols := make([]clause.Column, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, clause.Column{Name: c})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   cols,
		DoUpdates: clause.AssignmentColumns(updates),
	})
}

type clubPhase struct{}

func (clubPhase) Entity() models.EntityType { return models.EntityClubs }

func (clubPhase) Persist(db *gorm.DB, records []scraper.Record) error {
	now := time.Now()
	rows := make([]models.Club, 0, len(records))
	for _, rec := range records {
		r := rec.(scraper.RawClub)
		rows = append(rows, models.Club{
			ExternalID:  r.ID,
			Name:        r.Name,
			City:        r.City,
			Country:     r.Country,
			LogoURL:     r.LogoURL,
			PlayerCount: r.PlayerCount,
			Rating:      r.Rating,
			ScrapedAt:   now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return upsertOn(db, []string{"external_id"},
		[]string{"name", "city", "country", "logo_url", "player_count", "rating", "scraped_at", "updated_at"},
	).Create(&rows).Error
}

type playerPhase struct{}

func (playerPhase) Entity() models.EntityType { return models.EntityPlayers }

func (playerPhase) Persist(db *gorm.DB, records []scraper.Record) error {
	now := time.Now()
	rows := make([]models.Player, 0, len(records))
	for _, rec := range records {
		r := rec.(scraper.RawPlayer)
		rows = append(rows, models.Player{
			ExternalID:     r.ID,
			Nickname:       r.Nickname,
			RealName:       r.RealName,
			ClubExternalID: r.ClubID,
			Country:        r.Country,
			AvatarURL:      r.AvatarURL,
			EloRating:      r.EloRating,
			TotalGames:     r.TotalGames,
			TotalWins:      r.TotalWins,
			ScrapedAt:      now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return upsertOn(db, []string{"external_id"},
		[]string{"nickname", "real_name", "club_external_id", "country", "avatar_url", "elo_rating", "total_games", "total_wins", "scraped_at", "updated_at"},
	).Create(&rows).Error
}

type tournamentPhase struct{}

func (tournamentPhase) Entity() models.EntityType { return models.EntityTournaments }

func (tournamentPhase) Persist(db *gorm.DB, records []scraper.Record) error {
	now := time.Now()
	rows := make([]models.Tournament, 0, len(records))
	for _, rec := range records {
		r := rec.(scraper.RawTournament)
		rows = append(rows, models.Tournament{
			ExternalID:     r.ID,
			Name:           r.Name,
			ClubExternalID: r.ClubID,
			City:           r.City,
			Country:        r.Country,
			Stars:          r.Stars,
			StartDate:      r.StartDate,
			EndDate:        r.EndDate,
			PlayerCount:    r.PlayerCount,
			ScrapedAt:      now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return upsertOn(db, []string{"external_id"},
		[]string{"name", "club_external_id", "city", "country", "stars", "start_date", "end_date", "player_count", "scraped_at", "updated_at"},
	).Create(&rows).Error
}

type gamePhase struct{}

func (gamePhase) Entity() models.EntityType { return models.EntityGames }

// Persist writes games and their seats in one transaction so a game is never
// committed without its seat rows.
func (gamePhase) Persist(db *gorm.DB, records []scraper.Record) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now()

	return db.Transaction(func(tx *gorm.DB) error {
		games := make([]models.Game, 0, len(records))
		var seats []models.GamePlayer
		for _, rec := range records {
			r := rec.(scraper.RawGame)
			games = append(games, models.Game{
				ExternalID:           r.ID,
				TournamentExternalID: r.TournamentID,
				GameNumber:           r.GameNumber,
				TableNumber:          r.TableNumber,
				WinnerSide:           r.WinnerSide,
				PlayedAt:             r.PlayedAt,
				ScrapedAt:            now,
			})
			for _, seat := range r.Seats {
				seats = append(seats, models.GamePlayer{
					GameExternalID:   r.ID,
					PlayerExternalID: seat.PlayerID,
					Role:             seat.Role,
					Points:           seat.Points,
				})
			}
		}

		if err := upsertOn(tx, []string{"external_id"},
			[]string{"tournament_external_id", "game_number", "table_number", "winner_side", "played_at", "scraped_at", "updated_at"},
		).Create(&games).Error; err != nil {
			return err
		}

		if len(seats) == 0 {
			return nil
		}
		return upsertOn(tx, []string{"game_external_id", "player_external_id"},
			[]string{"role", "points", "updated_at"},
		).Create(&seats).Error
	})
}

type yearStatPhase struct{}

func (yearStatPhase) Entity() models.EntityType { return models.EntityYearStats }

func (yearStatPhase) Persist(db *gorm.DB, records []scraper.Record) error {
	now := time.Now()
	rows := make([]models.PlayerYearStat, 0, len(records))
	for _, rec := range records {
		r := rec.(scraper.RawYearStat)
		rows = append(rows, models.PlayerYearStat{
			PlayerExternalID: r.PlayerID,
			Year:             r.Year,
			GamesPlayed:      r.GamesPlayed,
			Wins:             r.Wins,
			WinRate:          Rate(int64(r.Wins), int64(r.GamesPlayed)),
			EloDelta:         r.EloDelta,
			ScrapedAt:        now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return upsertOn(db, []string{"player_external_id", "year"},
		[]string{"games_played", "wins", "win_rate", "elo_delta", "scraped_at", "updated_at"},
	).Create(&rows).Error
}

type resultPhase struct{}

func (resultPhase) Entity() models.EntityType { return models.EntityTournamentResults }

func (resultPhase) Persist(db *gorm.DB, records []scraper.Record) error {
	now := time.Now()
	rows := make([]models.TournamentResult, 0, len(records))
	for _, rec := range records {
		r := rec.(scraper.RawResult)
		rows = append(rows, models.TournamentResult{
			TournamentExternalID: r.TournamentID,
			PlayerExternalID:     r.PlayerID,
			Place:                r.Place,
			Points:               r.Points,
			ScrapedAt:            now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return upsertOn(db, []string{"tournament_external_id", "player_external_id"},
		[]string{"place", "points", "scraped_at", "updated_at"},
	).Create(&rows).Error
}

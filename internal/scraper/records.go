package scraper

import (
	"strconv"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
)

// Record is one raw upstream record before validation. Key returns the
// upstream natural id used for idempotent upserts.
type Record interface {
	Key() string
}

// Page is one fetched page of records plus the pagination envelope.
type Page struct {
	Entity       models.EntityType
	PageNumber   int
	TotalPages   int
	TotalRecords int64
	Records      []Record
}

type RawClub struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	Country     string  `json:"country"`
	LogoURL     string  `json:"logo_url"`
	PlayerCount int     `json:"player_count"`
	Rating      float64 `json:"rating"`
}

func (r RawClub) Key() string { return r.ID }

type RawPlayer struct {
	ID         string  `json:"id"`
	Nickname   string  `json:"nickname"`
	RealName   string  `json:"real_name"`
	ClubID     string  `json:"club_id"`
	Country    string  `json:"country"`
	AvatarURL  string  `json:"avatar_url"`
	EloRating  float64 `json:"elo_rating"`
	TotalGames int     `json:"total_games"`
	TotalWins  int     `json:"total_wins"`
}

func (r RawPlayer) Key() string { return r.ID }

type RawTournament struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClubID      string `json:"club_id"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Stars       int    `json:"stars"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	PlayerCount int    `json:"player_count"`
}

func (r RawTournament) Key() string { return r.ID }

// RawSeat is one player's seat in a game.
type RawSeat struct {
	PlayerID string  `json:"player_id"`
	Role     string  `json:"role"`
	Points   float64 `json:"points"`
}

type RawGame struct {
	ID           string    `json:"id"`
	TournamentID string    `json:"tournament_id"`
	GameNumber   int       `json:"game_number"`
	TableNumber  int       `json:"table_number"`
	WinnerSide   string    `json:"winner_side"`
	PlayedAt     string    `json:"played_at"`
	Seats        []RawSeat `json:"seats"`
}

func (r RawGame) Key() string { return r.ID }

type RawYearStat struct {
	PlayerID    string  `json:"player_id"`
	Year        int     `json:"year"`
	GamesPlayed int     `json:"games_played"`
	Wins        int     `json:"wins"`
	EloDelta    float64 `json:"elo_delta"`
}

// Key joins player and year since year stats have a compound natural id.
func (r RawYearStat) Key() string {
	if r.PlayerID == "" {
		return ""
	}
	return r.PlayerID + ":" + strconv.Itoa(r.Year)
}

type RawResult struct {
	TournamentID string  `json:"tournament_id"`
	PlayerID     string  `json:"player_id"`
	Place        int     `json:"place"`
	Points       float64 `json:"points"`
}

func (r RawResult) Key() string {
	if r.TournamentID == "" || r.PlayerID == "" {
		return ""
	}
	return r.TournamentID + ":" + r.PlayerID
}

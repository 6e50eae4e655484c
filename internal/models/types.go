package models

import "time"

// EntityType identifies one of the imported entity families. Each maps to a
// single import phase.
type EntityType string

const (
	EntityClubs             EntityType = "clubs"
	EntityPlayers           EntityType = "players"
	EntityTournaments       EntityType = "tournaments"
	EntityGames             EntityType = "games"
	EntityYearStats         EntityType = "year-stats"
	EntityTournamentResults EntityType = "tournament-results"
)

// PhaseOrder is the fixed dependency order of import phases. Games reference
// players and clubs, so those must land first.
var PhaseOrder = []EntityType{
	EntityClubs,
	EntityPlayers,
	EntityTournaments,
	EntityGames,
	EntityYearStats,
	EntityTournamentResults,
}

// ValidEntityType reports whether s names a known entity type.
func ValidEntityType(s string) bool {
	for _, e := range PhaseOrder {
		if string(e) == s {
			return true
		}
	}
	return false
}

// ImportStatus is the lifecycle state of an import run.
type ImportStatus string

const (
	ImportPending   ImportStatus = "PENDING"
	ImportRunning   ImportStatus = "RUNNING"
	ImportCompleted ImportStatus = "COMPLETED"
	ImportFailed    ImportStatus = "FAILED"
	ImportCancelled ImportStatus = "CANCELLED"
)

// Club represents a mafia club/community
type Club struct {
	ID          int    `json:"id" gorm:"primaryKey"`
	ExternalID  string `json:"external_id" gorm:"uniqueIndex;not null"`
	Name        string `json:"name" gorm:"not null"`
	City        string `json:"city"`
	Country     string `json:"country"`
	LogoURL     string `json:"logo_url"`
	PlayerCount int    `json:"player_count"`
	Rating      float64 `json:"rating"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Players []Player `json:"players,omitempty" gorm:"foreignKey:ClubExternalID;references:ExternalID"`
}

// Player represents a competitive mafia player
type Player struct {
	ID             int     `json:"id" gorm:"primaryKey"`
	ExternalID     string  `json:"external_id" gorm:"uniqueIndex;not null"`
	Nickname       string  `json:"nickname" gorm:"not null"`
	RealName       string  `json:"real_name"`
	ClubExternalID string  `json:"club_external_id" gorm:"index"`
	Country        string  `json:"country"`
	AvatarURL      string  `json:"avatar_url"`
	EloRating      float64 `json:"elo_rating"`
	TotalGames     int     `json:"total_games"`
	TotalWins      int     `json:"total_wins"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Club *Club `json:"club,omitempty" gorm:"foreignKey:ClubExternalID;references:ExternalID"`
}

// Tournament represents a tournament hosted by a club
type Tournament struct {
	ID             int    `json:"id" gorm:"primaryKey"`
	ExternalID     string `json:"external_id" gorm:"uniqueIndex;not null"`
	Name           string `json:"name" gorm:"not null"`
	ClubExternalID string `json:"club_external_id" gorm:"index"`
	City           string `json:"city"`
	Country        string `json:"country"`
	Stars          int    `json:"stars"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	PlayerCount    int    `json:"player_count"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Club *Club `json:"club,omitempty" gorm:"foreignKey:ClubExternalID;references:ExternalID"`
}

// Game represents a single game played within a tournament
type Game struct {
	ID                   int    `json:"id" gorm:"primaryKey"`
	ExternalID           string `json:"external_id" gorm:"uniqueIndex;not null"`
	TournamentExternalID string `json:"tournament_external_id" gorm:"index"`
	GameNumber           int    `json:"game_number"`
	TableNumber          int    `json:"table_number"`
	WinnerSide           string `json:"winner_side"` // civilians/mafia/draw
	PlayedAt             string `json:"played_at"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Players []GamePlayer `json:"players,omitempty" gorm:"foreignKey:GameExternalID;references:ExternalID"`
}

// GamePlayer is one seat at the table: which player sat in a game and what
// role they drew.
type GamePlayer struct {
	ID               int     `json:"id" gorm:"primaryKey"`
	GameExternalID   string  `json:"game_external_id" gorm:"uniqueIndex:idx_game_player;not null"`
	PlayerExternalID string  `json:"player_external_id" gorm:"uniqueIndex:idx_game_player;not null"`
	Role             string  `json:"role"` // civilian/mafia/sheriff/don
	Points           float64 `json:"points"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// PlayerYearStat is a player's aggregate statistics for one calendar year
type PlayerYearStat struct {
	ID               int     `json:"id" gorm:"primaryKey"`
	PlayerExternalID string  `json:"player_external_id" gorm:"uniqueIndex:idx_player_year;not null"`
	Year             int     `json:"year" gorm:"uniqueIndex:idx_player_year;not null"`
	GamesPlayed      int     `json:"games_played"`
	Wins             int     `json:"wins"`
	WinRate          float64 `json:"win_rate"`
	EloDelta         float64 `json:"elo_delta"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TournamentResult is a player's final placement in a tournament
type TournamentResult struct {
	ID                   int     `json:"id" gorm:"primaryKey"`
	TournamentExternalID string  `json:"tournament_external_id" gorm:"uniqueIndex:idx_tournament_player;not null"`
	PlayerExternalID     string  `json:"player_external_id" gorm:"uniqueIndex:idx_tournament_player;not null"`
	Place                int     `json:"place"`
	Points               float64 `json:"points"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ImportRun is the append-only sync log: one row per import execution,
// mutated only by the orchestrator while the run is live.
type ImportRun struct {
	ID               int          `json:"id" gorm:"primaryKey"`
	ImportID         string       `json:"import_id" gorm:"uniqueIndex;not null"`
	Strategy         string       `json:"strategy" gorm:"not null"` // entity type or "full"
	Status           ImportStatus `json:"status" gorm:"not null;index"`
	ProgressPercent  int          `json:"progress_percent"`
	ProcessedRecords int64        `json:"processed_records"`
	TotalRecords     *int64       `json:"total_records,omitempty"` // nil until a full page sweep sizes the run
	StartTime        time.Time    `json:"start_time"`
	EndTime          *time.Time   `json:"end_time,omitempty"`
	LastError        string       `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// ImportCheckpoint is the singleton resume marker. There is at most one live
// checkpoint, identified by the fixed key.
type ImportCheckpoint struct {
	ID              int       `json:"id" gorm:"primaryKey"`
	Key             string    `json:"key" gorm:"uniqueIndex;not null"`
	Phase           string    `json:"phase" gorm:"not null"`
	BatchIndex      int       `json:"batch_index"`
	LastProcessedID string    `json:"last_processed_id"`
	ProgressPercent int       `json:"progress_percent"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ImportLock is the advisory-lock row ensuring one import at a time.
type ImportLock struct {
	ID         int       `json:"id" gorm:"primaryKey"`
	Key        string    `json:"key" gorm:"uniqueIndex;not null"`
	HolderID   string    `json:"holder_id" gorm:"not null"`
	AcquiredAt time.Time `json:"acquired_at" gorm:"not null"`
}

// SkippedPage records a page that exhausted all retries during a phase and is
// deferred for explicit retry.
type SkippedPage struct {
	ID         int       `json:"id" gorm:"primaryKey"`
	EntityType string    `json:"entity_type" gorm:"uniqueIndex:idx_entity_page;not null"`
	PageNumber int       `json:"page_number" gorm:"uniqueIndex:idx_entity_page;not null"`
	LastError  string    `json:"last_error" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// RateLimitBucket is one fixed-window request counter.
type RateLimitBucket struct {
	ID          int       `json:"id" gorm:"primaryKey"`
	Key         string    `json:"key" gorm:"uniqueIndex;not null"`
	WindowStart time.Time `json:"window_start"`
	Count       int       `json:"count"`
}

// IntegrityReport is an append-only snapshot of one referential-integrity sweep.
type IntegrityReport struct {
	ID           int       `json:"id" gorm:"primaryKey"`
	Status       string    `json:"status"` // PASS/FAIL
	TotalChecks  int       `json:"total_checks"`
	PassedChecks int       `json:"passed_checks"`
	FailedChecks int       `json:"failed_checks"`
	IssuesJSON   string    `json:"issues_json" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// VerificationReport is an append-only audit artifact of one sample-based
// verification run against the live source.
type VerificationReport struct {
	ID          int       `json:"id" gorm:"primaryKey"`
	TriggerType string    `json:"trigger_type"` // manual/scheduled
	Status      string    `json:"status"`       // PASSED/WARNING/FAILED
	Accuracy    float64   `json:"accuracy"`
	DetailsJSON string    `json:"details_json" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// API Response structures
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ValidationSnapshot is the read-side view of the per-run validation counters.
type ValidationSnapshot struct {
	TotalRecordsProcessed int64   `json:"totalRecordsProcessed"`
	ValidRecords          int64   `json:"validRecords"`
	InvalidRecords        int64   `json:"invalidRecords"`
	ValidationRate        float64 `json:"validationRate"`
}

// StatusResponse is the polling projection of the current import state.
type StatusResponse struct {
	IsRunning        bool               `json:"isRunning"`
	ImportID         string             `json:"importId,omitempty"`
	Strategy         string             `json:"strategy,omitempty"`
	Progress         int                `json:"progress"`
	ProcessedRecords int64              `json:"processedRecords"`
	TotalRecords     *int64             `json:"totalRecords,omitempty"`
	CurrentOperation string             `json:"currentOperation,omitempty"`
	LastError        string             `json:"lastError,omitempty"`
	Validation       ValidationSnapshot `json:"validation"`
}

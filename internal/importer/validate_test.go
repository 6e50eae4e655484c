package importer

import (
	"testing"

	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/stretchr/testify/assert"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name  string
		rec   scraper.Record
		valid bool
	}{
		{"valid club", clubRecord("c1", "Red October"), true},
		{"club missing id", scraper.RawClub{Name: "Red October"}, false},
		{"club missing name", scraper.RawClub{ID: "c1"}, false},
		{"club negative player count", scraper.RawClub{ID: "c1", Name: "Red October", PlayerCount: -1}, false},

		{"valid player", playerRecord("p1", "Doc", "c1"), true},
		{"player missing nickname", scraper.RawPlayer{ID: "p1"}, false},
		{"player wins exceed games", scraper.RawPlayer{ID: "p1", Nickname: "Doc", TotalGames: 10, TotalWins: 11}, false},

		{"valid tournament", scraper.RawTournament{ID: "t1", Name: "Spring Cup", Stars: 4}, true},
		{"tournament stars out of range", scraper.RawTournament{ID: "t1", Name: "Spring Cup", Stars: 7}, false},

		{"valid game", scraper.RawGame{ID: "g1", TournamentID: "t1", WinnerSide: "mafia",
			Seats: []scraper.RawSeat{{PlayerID: "p1", Role: "don"}}}, true},
		{"game unknown winner side", scraper.RawGame{ID: "g1", TournamentID: "t1", WinnerSide: "aliens"}, false},
		{"game missing tournament", scraper.RawGame{ID: "g1"}, false},
		{"game seat missing player", scraper.RawGame{ID: "g1", TournamentID: "t1",
			Seats: []scraper.RawSeat{{Role: "civilian"}}}, false},
		{"game seat unknown role", scraper.RawGame{ID: "g1", TournamentID: "t1",
			Seats: []scraper.RawSeat{{PlayerID: "p1", Role: "jester"}}}, false},

		{"valid year stat", scraper.RawYearStat{PlayerID: "p1", Year: 2024, GamesPlayed: 50, Wins: 30}, true},
		{"year stat ancient year", scraper.RawYearStat{PlayerID: "p1", Year: 1987, GamesPlayed: 5}, false},
		{"year stat wins exceed games", scraper.RawYearStat{PlayerID: "p1", Year: 2024, GamesPlayed: 5, Wins: 6}, false},

		{"valid result", scraper.RawResult{TournamentID: "t1", PlayerID: "p1", Place: 1, Points: 12.5}, true},
		{"result place zero", scraper.RawResult{TournamentID: "t1", PlayerID: "p1"}, false},
		{"result missing player", scraper.RawResult{TournamentID: "t1", Place: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateRecord(tt.rec)
			assert.Equal(t, tt.valid, res.Valid, "errors: %v", res.Errors)
			if !tt.valid {
				assert.NotEmpty(t, res.Errors)
			}
		})
	}
}

func TestRate(t *testing.T) {
	assert.Equal(t, float64(0), Rate(0, 0), "zero denominator yields 0, not NaN")
	assert.Equal(t, float64(0), Rate(5, 0))
	assert.Equal(t, float64(100), Rate(10, 10))
	assert.Equal(t, 33.33, Rate(1, 3))
	assert.Equal(t, 66.67, Rate(2, 3))
	assert.Equal(t, 98.5, Rate(197, 200))
}

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 97; i++ {
		m.RecordValid()
	}
	for i := 0; i < 3; i++ {
		m.RecordInvalid()
	}

	snap := m.Snapshot()
	assert.EqualValues(t, 100, snap.TotalRecordsProcessed)
	assert.EqualValues(t, 97, snap.ValidRecords)
	assert.EqualValues(t, 3, snap.InvalidRecords)
	assert.Equal(t, snap.TotalRecordsProcessed, snap.ValidRecords+snap.InvalidRecords)
	assert.Equal(t, float64(97), snap.ValidationRate)

	m.Reset()
	snap = m.Snapshot()
	assert.EqualValues(t, 0, snap.TotalRecordsProcessed)
	assert.Equal(t, float64(0), snap.ValidationRate)
}

package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	// Tests exercise code paths that log; keep output quiet but initialized.
	_ = logger.InitLogger("error", "test")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateSchema(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testImportConfig() config.ImportConfig {
	return config.ImportConfig{
		BatchSize:         50,
		RunTimeout:        10 * time.Second,
		LockTTL:           time.Hour,
		RateLimitWindow:   time.Second,
		RateLimitRequests: 100000,
	}
}

// fakeSource serves canned pages and records, tracking every fetch.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[string]*scraper.Page // keyed entity:page
	pageErrs  map[string]error
	records   map[string]scraper.Record // keyed entity:id
	recordErr map[string]error
	fetched   []string
	delay     time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:     make(map[string]*scraper.Page),
		pageErrs:  make(map[string]error),
		records:   make(map[string]scraper.Record),
		recordErr: make(map[string]error),
	}
}

func pageKey(entity models.EntityType, page int) string {
	return fmt.Sprintf("%s:%d", entity, page)
}

func (f *fakeSource) addPage(entity models.EntityType, page, totalPages int, totalRecords int64, records ...scraper.Record) {
	f.pages[pageKey(entity, page)] = &scraper.Page{
		Entity:       entity,
		PageNumber:   page,
		TotalPages:   totalPages,
		TotalRecords: totalRecords,
		Records:      records,
	}
}

func (f *fakeSource) FetchPage(ctx context.Context, entity models.EntityType, page int) (*scraper.Page, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, pageKey(entity, page))
	f.mu.Unlock()

	if err, ok := f.pageErrs[pageKey(entity, page)]; ok {
		return nil, err
	}
	if p, ok := f.pages[pageKey(entity, page)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: page %d", scraper.ErrNotFound, page)
}

func (f *fakeSource) FetchRecord(ctx context.Context, entity models.EntityType, externalID string) (scraper.Record, error) {
	key := fmt.Sprintf("%s:%s", entity, externalID)
	if err, ok := f.recordErr[key]; ok {
		return nil, err
	}
	if rec, ok := f.records[key]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: record %s", scraper.ErrNotFound, externalID)
}

func (f *fakeSource) fetchedPages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fetched))
	copy(out, f.fetched)
	return out
}

// waitForRunStatus polls the run row until it reaches a terminal status.
func waitForRunStatus(t *testing.T, db *gorm.DB, importID string, want models.ImportStatus) models.ImportRun {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var run models.ImportRun
		err := db.Where("import_id = ?", importID).First(&run).Error
		if err == nil && run.Status == want {
			return run
		}
		if err == nil && run.Status != models.ImportRunning && run.Status != models.ImportPending {
			t.Fatalf("run %s reached %s, want %s (last_error: %s)", importID, run.Status, want, run.LastError)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", importID, want)
	return models.ImportRun{}
}

func clubRecord(id, name string) scraper.RawClub {
	return scraper.RawClub{ID: id, Name: name, City: "Moscow", Country: "RU", PlayerCount: 10, Rating: 42.5}
}

func playerRecord(id, nickname, clubID string) scraper.RawPlayer {
	return scraper.RawPlayer{ID: id, Nickname: nickname, ClubID: clubID, Country: "RU", EloRating: 1500, TotalGames: 100, TotalWins: 60}
}

package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	_ = logger.InitLogger("error", "test")
}

func newTestScheduler(t *testing.T, importCron, verifyCron string) *Scheduler {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateSchema(db))
	t.Cleanup(func() {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Import: config.ImportConfig{
			RunTimeout:        time.Minute,
			LockTTL:           time.Hour,
			RateLimitWindow:   time.Second,
			RateLimitRequests: 1000,
		},
		Scheduler: config.SchedulerConfig{
			Enabled:          true,
			ImportCron:       importCron,
			VerificationCron: verifyCron,
		},
	}
	orch := importer.NewOrchestrator(db, nil, nil, cfg.Import)
	return NewScheduler(cfg, orch, importer.NewVerifier(db, nil))
}

func TestSchedulerStartAndStop(t *testing.T) {
	s := newTestScheduler(t, "0 3 * * *", "0 5 * * 0")

	require.NoError(t, s.Start())
	defer s.Stop()

	next := s.NextImportRun()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))
}

func TestSchedulerRejectsInvalidCron(t *testing.T) {
	s := newTestScheduler(t, "not a cron expression", "0 5 * * 0")
	assert.Error(t, s.Start())
}

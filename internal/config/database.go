package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDatabase opens the SQLite store and migrates the schema. The returned
// handle is passed explicitly to every component; there is no package-global
// connection.
func InitDatabase(dbPath string) (*gorm.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := MigrateSchema(db); err != nil {
		return nil, err
	}

	return db, nil
}

// MigrateSchema creates or updates all tables. Split out so tests can run it
// against their own databases.
func MigrateSchema(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Club{},
		&models.Player{},
		&models.Tournament{},
		&models.Game{},
		&models.GamePlayer{},
		&models.PlayerYearStat{},
		&models.TournamentResult{},
		&models.ImportRun{},
		&models.ImportCheckpoint{},
		&models.ImportLock{},
		&models.SkippedPage{},
		&models.RateLimitBucket{},
		&models.IntegrityReport{},
		&models.VerificationReport{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// CloseDatabase closes the underlying sql connection
func CloseDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the periodic full import and the weekly verification sweep.
// Single-flight protection comes from the orchestrator's advisory lock, so a
// scheduled import that collides with a manual one simply logs and skips.
type Scheduler struct {
	cron         *cron.Cron
	config       *config.Config
	orchestrator *importer.Orchestrator
	verifier     *importer.Verifier
	mu           sync.Mutex
	importEntry  cron.EntryID
	verifyEntry  cron.EntryID
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg *config.Config, orch *importer.Orchestrator, verifier *importer.Verifier) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		config:       cfg,
		orchestrator: orch,
		verifier:     verifier,
	}
}

// Start registers the cron entries and starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	importEntry, err := s.cron.AddFunc(s.config.Scheduler.ImportCron, s.runScheduledImport)
	if err != nil {
		return err
	}
	s.importEntry = importEntry

	verifyEntry, err := s.cron.AddFunc(s.config.Scheduler.VerificationCron, s.runScheduledVerification)
	if err != nil {
		return err
	}
	s.verifyEntry = verifyEntry

	s.cron.Start()

	logger.Info("Scheduler started",
		zap.String("import_cron", s.config.Scheduler.ImportCron),
		zap.String("verification_cron", s.config.Scheduler.VerificationCron))

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
		logger.Info("Scheduler stopped")
	}
}

// NextImportRun returns the next scheduled import time
func (s *Scheduler) NextImportRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.importEntry == 0 {
		return nil
	}

	entry := s.cron.Entry(s.importEntry)
	next := entry.Next
	return &next
}

func (s *Scheduler) runScheduledImport() {
	logger.Info("Starting scheduled import")

	importID, err := s.orchestrator.StartImport(importer.StrategyFull)
	if err != nil {
		if errors.Is(err, importer.ErrLockHeld) {
			logger.Warn("Scheduled import skipped, another import holds the lock")
			return
		}
		logger.Error("Scheduled import failed to start", zap.Error(err))
		return
	}

	logger.Info("Scheduled import started", zap.String("import_id", importID))
}

func (s *Scheduler) runScheduledVerification() {
	logger.Info("Starting scheduled verification")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	report, err := s.verifier.RunDataVerification(ctx, "scheduled")
	if err != nil {
		logger.Error("Scheduled verification failed", zap.Error(err))
		return
	}

	logger.Info("Scheduled verification completed",
		zap.String("status", report.Status),
		zap.Float64("accuracy", report.Accuracy))
}

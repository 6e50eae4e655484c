package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StrategyFull imports every entity family in dependency order.
const StrategyFull = "full"

// AlertPayload carries the failure details sent to the admin alert channel.
type AlertPayload struct {
	ImportID         string
	Strategy         string
	StartTime        time.Time
	RecordsProcessed int64
	Errors           []string
}

// Alerter delivers failure alerts. Delivery is best-effort: an alerting
// failure never masks the import error that triggered it.
type Alerter interface {
	SendSyncFailureAlert(payload AlertPayload) error
}

// activeRun tracks the in-process state of the currently executing import.
type activeRun struct {
	importID        string
	strategy        string
	cancel          context.CancelFunc
	cancelRequested bool
	operation       string
}

// Orchestrator sequences import phases, owns the cancellation signal,
// aggregates metrics and finalizes run status. It is constructed explicitly
// and injected wherever import control is needed; there is no process-global
// instance.
type Orchestrator struct {
	db          *gorm.DB
	source      Source
	lock        *AdvisoryLock
	checkpoints *CheckpointStore
	limiter     *WindowLimiter
	metrics     *Metrics
	integrity   *IntegrityChecker
	alerter     Alerter
	cfg         config.ImportConfig

	mu      sync.Mutex
	current *activeRun
	wg      sync.WaitGroup
}

func NewOrchestrator(db *gorm.DB, source Source, alerter Alerter, cfg config.ImportConfig) *Orchestrator {
	return &Orchestrator{
		db:          db,
		source:      source,
		lock:        NewAdvisoryLock(db, cfg.LockTTL),
		checkpoints: NewCheckpointStore(db),
		limiter:     NewWindowLimiter(db),
		metrics:     NewMetrics(),
		integrity:   NewIntegrityChecker(db),
		alerter:     alerter,
		cfg:         cfg,
	}
}

// Metrics exposes the per-run validation counters for the polling path.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Integrity exposes the integrity checker for API reads and manual sweeps.
func (o *Orchestrator) Integrity() *IntegrityChecker { return o.integrity }

// phasesFor resolves a strategy into its ordered phase list.
func phasesFor(strategy string) ([]models.EntityType, error) {
	if strategy == StrategyFull {
		return models.PhaseOrder, nil
	}
	if models.ValidEntityType(strategy) {
		return []models.EntityType{models.EntityType(strategy)}, nil
	}
	return nil, fmt.Errorf("unknown import strategy %q", strategy)
}

// StartImport acquires the advisory lock, creates the run record and launches
// the phase pipeline in the background. The caller gets the import id
// immediately; progress is observed through Status. Returns ErrLockHeld when
// another import holds the lock — the checkpoint is left untouched in that
// case.
func (o *Orchestrator) StartImport(strategy string) (string, error) {
	phases, err := phasesFor(strategy)
	if err != nil {
		return "", err
	}

	importID := uuid.NewString()

	acquired, err := o.lock.Acquire(importID)
	if err != nil {
		return "", fmt.Errorf("acquiring import lock: %w", err)
	}
	if !acquired {
		return "", ErrLockHeld
	}

	run := models.ImportRun{
		ImportID:  importID,
		Strategy:  strategy,
		Status:    models.ImportRunning,
		StartTime: time.Now(),
	}
	if err := o.db.Create(&run).Error; err != nil {
		// Releasing here keeps the lock row consistent with "no run exists".
		_ = o.lock.Release(importID)
		return "", fmt.Errorf("creating import run: %w", err)
	}

	o.metrics.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RunTimeout)

	o.mu.Lock()
	o.current = &activeRun{importID: importID, strategy: strategy, cancel: cancel}
	o.mu.Unlock()

	logger.Info("Import started",
		zap.String("import_id", importID),
		zap.String("strategy", strategy))

	o.wg.Add(1)
	go o.execute(ctx, cancel, importID, strategy, phases)

	return importID, nil
}

// Cancel requests cooperative cancellation of the given run. The pipeline
// exits at the next batch boundary, leaving the last committed batch
// checkpointed.
func (o *Orchestrator) Cancel(importID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.importID != importID {
		return fmt.Errorf("no active import with id %s", importID)
	}
	o.current.cancelRequested = true
	o.current.cancel()
	return nil
}

// Shutdown cancels any active run and waits for the pipeline goroutine to
// finish, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.current != nil {
		o.current.cancelRequested = true
		o.current.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, importID, strategy string, phases []models.EntityType) {
	defer o.wg.Done()
	defer cancel()
	// The lock is released on every exit path; a failed or cancelled run only
	// keeps its checkpoint, never the lock.
	defer func() {
		if err := o.lock.Release(importID); err != nil {
			logger.Error("Failed to release import lock", zap.Error(err))
		}
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	startIdx, startBatch, err := o.resumePoint(phases)
	if err != nil {
		o.failImport(importID, fmt.Errorf("reading checkpoint: %w", err))
		return
	}
	if startIdx > 0 || startBatch > 0 {
		logger.Info("Resuming import from checkpoint",
			zap.String("phase", string(phases[startIdx])),
			zap.Int("batch_index", startBatch))
	}

	var processedTotal int64
	totals := make(map[models.EntityType]int64)

	for i := startIdx; i < len(phases); i++ {
		entity := phases[i]
		o.setOperation("importing " + string(entity))

		phase, perr := PhaseFor(entity)
		if perr != nil {
			o.failImport(importID, perr)
			return
		}

		lastBatch := 0
		if i == startIdx {
			lastBatch = startBatch
		}

		base := processedTotal
		phaseIdx, phaseCount := i, len(phases)
		runner := &phaseRunner{
			db:          o.db,
			source:      o.source,
			limiter:     o.limiter,
			checkpoints: o.checkpoints,
			metrics:     o.metrics,
			cfg:         o.cfg,
			onBatch: func(processed, total int64) {
				if total > 0 {
					totals[entity] = total
				}
				o.updateProgress(importID, base+processed, sumTotals(totals, phases),
					estimateProgress(processed, total, phaseIdx, phaseCount))
			},
		}

		res, runErr := runner.run(ctx, phase, lastBatch)
		processedTotal += res.processed
		if res.totalRecords > 0 {
			totals[entity] = res.totalRecords
		}

		if runErr != nil {
			switch {
			case errors.Is(runErr, context.Canceled) && o.cancelRequested():
				o.finalizeCancelled(importID)
			case errors.Is(runErr, context.DeadlineExceeded):
				o.failImport(importID, fmt.Errorf("import timed out after %s: %w", o.cfg.RunTimeout, runErr))
			case errors.Is(runErr, scraper.ErrUnavailable):
				o.failImport(importID, fmt.Errorf("upstream source unavailable, wait and retry: %w", runErr))
			default:
				o.failImport(importID, runErr)
			}
			return
		}

		if len(res.skippedPages) > 0 {
			logger.Warn("Phase completed with skipped pages",
				zap.String("entity", string(entity)),
				zap.Ints("pages", res.skippedPages))
		}
	}

	o.setOperation("integrity sweep")
	if _, ierr := o.integrity.RunChecks(); ierr != nil {
		// Integrity findings are warnings; only log the sweep failure itself.
		logger.Error("Integrity sweep failed", zap.Error(ierr))
	}

	o.completeImport(importID, processedTotal, sumTotals(totals, phases))
}

// resumePoint maps the live checkpoint onto this run's phase list. A
// checkpoint for a phase outside the list (different strategy) is ignored.
func (o *Orchestrator) resumePoint(phases []models.EntityType) (startIdx, startBatch int, err error) {
	cp, err := o.checkpoints.Read()
	if err != nil || cp == nil {
		return 0, 0, err
	}
	for i, entity := range phases {
		if entity == cp.Phase {
			return i, cp.BatchIndex, nil
		}
	}
	return 0, 0, nil
}

func (o *Orchestrator) cancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil && o.current.cancelRequested
}

func (o *Orchestrator) setOperation(op string) {
	o.mu.Lock()
	if o.current != nil {
		o.current.operation = op
	}
	o.mu.Unlock()
}

// updateProgress writes the latest committed progress onto the run row. When
// the overall total is known the percent is processed/total; otherwise the
// caller's phase-based estimate stands in.
func (o *Orchestrator) updateProgress(importID string, processed int64, total *int64, estimatedPercent int) {
	percent := estimatedPercent
	if total != nil && *total > 0 {
		percent = int(float64(processed) / float64(*total) * 100)
	}
	if percent > 99 {
		percent = 99 // 100 is reserved for completion
	}

	updates := map[string]interface{}{
		"processed_records": processed,
		"progress_percent":  percent,
	}
	if total != nil {
		updates["total_records"] = *total
	}
	if err := o.db.Model(&models.ImportRun{}).
		Where("import_id = ?", importID).
		Updates(updates).Error; err != nil {
		logger.Error("Failed to update import progress", zap.Error(err))
	}
}

func (o *Orchestrator) completeImport(importID string, processed int64, total *int64) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":            models.ImportCompleted,
		"progress_percent":  100,
		"processed_records": processed,
		"end_time":          now,
	}
	if total != nil {
		updates["total_records"] = *total
	}
	if err := o.db.Model(&models.ImportRun{}).
		Where("import_id = ?", importID).
		Updates(updates).Error; err != nil {
		logger.Error("Failed to finalize import run", zap.Error(err))
	}
	if err := o.checkpoints.Clear(); err != nil {
		logger.Error("Failed to clear checkpoint", zap.Error(err))
	}
	logger.Info("Import completed",
		zap.String("import_id", importID),
		zap.Int64("processed_records", processed))
}

// failImport marks the run FAILED and keeps the checkpoint so a subsequent
// start can resume. Alerting is best-effort.
func (o *Orchestrator) failImport(importID string, cause error) {
	now := time.Now()
	if err := o.db.Model(&models.ImportRun{}).
		Where("import_id = ?", importID).
		Updates(map[string]interface{}{
			"status":     models.ImportFailed,
			"last_error": cause.Error(),
			"end_time":   now,
		}).Error; err != nil {
		logger.Error("Failed to mark import run failed", zap.Error(err))
	}

	logger.Error("Import failed",
		zap.String("import_id", importID),
		zap.Error(cause))

	if o.alerter == nil {
		return
	}
	var run models.ImportRun
	payload := AlertPayload{ImportID: importID, Errors: []string{cause.Error()}}
	if err := o.db.Where("import_id = ?", importID).First(&run).Error; err == nil {
		payload.Strategy = run.Strategy
		payload.StartTime = run.StartTime
		payload.RecordsProcessed = run.ProcessedRecords
	}
	if err := o.alerter.SendSyncFailureAlert(payload); err != nil {
		logger.Error("Failed to send failure alert", zap.Error(err))
	}
}

func (o *Orchestrator) finalizeCancelled(importID string) {
	now := time.Now()
	if err := o.db.Model(&models.ImportRun{}).
		Where("import_id = ?", importID).
		Updates(map[string]interface{}{
			"status":   models.ImportCancelled,
			"end_time": now,
		}).Error; err != nil {
		logger.Error("Failed to mark import run cancelled", zap.Error(err))
	}
	logger.Info("Import cancelled", zap.String("import_id", importID))
}

// Status builds the polling projection of the current import state. It is an
// unsynchronized read path: eventually consistent with the writer, never
// blocking it.
func (o *Orchestrator) Status() models.StatusResponse {
	o.mu.Lock()
	var importID, strategy, operation string
	running := o.current != nil
	if running {
		importID = o.current.importID
		strategy = o.current.strategy
		operation = o.current.operation
	}
	o.mu.Unlock()

	status := models.StatusResponse{
		IsRunning:        running,
		ImportID:         importID,
		Strategy:         strategy,
		CurrentOperation: operation,
		Validation:       o.metrics.Snapshot(),
	}

	var run models.ImportRun
	var err error
	if running {
		err = o.db.Where("import_id = ?", importID).First(&run).Error
	} else {
		err = o.db.Order("start_time DESC").First(&run).Error
	}
	if err == nil {
		status.Progress = run.ProgressPercent
		status.ProcessedRecords = run.ProcessedRecords
		status.TotalRecords = run.TotalRecords
		status.LastError = run.LastError
		if !running {
			status.ImportID = run.ImportID
			status.Strategy = run.Strategy
		}
	}
	return status
}

// RetrySkippedResult summarizes one retry-skipped-pages call.
type RetrySkippedResult struct {
	EntityType  string `json:"entity_type"`
	MergedPages []int  `json:"merged_pages"`
	FailedPages []int  `json:"failed_pages"`
	Records     int64  `json:"records"`
}

// RetrySkippedPages re-fetches only the listed pages for one entity type and
// merges the results into existing data. The checkpoint is never touched;
// successful pages are removed from the skipped-pages list.
func (o *Orchestrator) RetrySkippedPages(ctx context.Context, entityType string, pageNumbers []int) (*RetrySkippedResult, error) {
	if !models.ValidEntityType(entityType) {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	o.mu.Lock()
	busy := o.current != nil
	o.mu.Unlock()
	if busy {
		return nil, ErrLockHeld
	}

	entity := models.EntityType(entityType)
	phase, err := PhaseFor(entity)
	if err != nil {
		return nil, err
	}

	result := &RetrySkippedResult{EntityType: entityType, MergedPages: []int{}, FailedPages: []int{}}
	for _, page := range pageNumbers {
		fetched, ferr := o.source.FetchPage(ctx, entity, page)
		if ferr != nil {
			logger.Warn("Skipped page retry failed",
				zap.String("entity", entityType),
				zap.Int("page", page),
				zap.Error(ferr))
			result.FailedPages = append(result.FailedPages, page)
			continue
		}

		valid := make([]scraper.Record, 0, len(fetched.Records))
		for _, rec := range fetched.Records {
			if res := ValidateRecord(rec); res.Valid {
				o.metrics.RecordValid()
				valid = append(valid, rec)
			} else {
				o.metrics.RecordInvalid()
			}
		}
		if perr := phase.Persist(o.db, valid); perr != nil {
			return nil, fmt.Errorf("persisting retried page %d: %w", page, perr)
		}
		if derr := o.db.Where("entity_type = ? AND page_number = ?", entityType, page).
			Delete(&models.SkippedPage{}).Error; derr != nil {
			return nil, fmt.Errorf("clearing skipped page %d: %w", page, derr)
		}
		result.MergedPages = append(result.MergedPages, page)
		result.Records += int64(len(valid))
	}
	return result, nil
}

// SkippedPages lists the deferred pages, grouped by entity type.
func (o *Orchestrator) SkippedPages() (map[string][]int, error) {
	var rows []models.SkippedPage
	if err := o.db.Order("entity_type, page_number").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]int)
	for _, row := range rows {
		out[row.EntityType] = append(out[row.EntityType], row.PageNumber)
	}
	return out, nil
}

// estimateProgress approximates overall percent while the run's true total is
// unknown: completed phases weigh equally, and the active phase falls back to
// an estimated 100 records when the upstream never reported a total.
func estimateProgress(processed, total int64, phaseIdx, phaseCount int) int {
	if phaseCount == 0 {
		return 0
	}
	phasePct := int64(0)
	if total > 0 {
		phasePct = processed * 100 / total
	} else if processed > 0 {
		phasePct = processed * 100 / 100 // estimated total of 100 records
	}
	if phasePct > 99 {
		phasePct = 99
	}
	overall := (int64(phaseIdx)*100 + phasePct) / int64(phaseCount)
	if overall > 99 {
		overall = 99
	}
	return int(overall)
}

func sumTotals(totals map[models.EntityType]int64, phases []models.EntityType) *int64 {
	if len(totals) != len(phases) {
		return nil // unknown until every phase has been sized
	}
	var sum int64
	for _, t := range totals {
		sum += t
	}
	return &sum
}

package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlerter struct {
	mu       sync.Mutex
	payloads []AlertPayload
}

func (f *fakeAlerter) SendSyncFailureAlert(payload AlertPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeAlerter) sent() []AlertPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AlertPayload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

// fullSource seeds one page per entity family so a full run completes.
func fullSource() *fakeSource {
	source := newFakeSource()
	source.addPage(models.EntityClubs, 1, 1, 2, clubRecord("c1", "Alpha"), clubRecord("c2", "Bravo"))
	source.addPage(models.EntityPlayers, 1, 1, 2, playerRecord("p1", "Doc", "c1"), playerRecord("p2", "Maestro", "c2"))
	source.addPage(models.EntityTournaments, 1, 1, 1,
		scraper.RawTournament{ID: "t1", Name: "Spring Cup", ClubID: "c1", Stars: 4, PlayerCount: 2})
	source.addPage(models.EntityGames, 1, 1, 1,
		scraper.RawGame{ID: "g1", TournamentID: "t1", GameNumber: 1, WinnerSide: "civilians",
			Seats: []scraper.RawSeat{{PlayerID: "p1", Role: "sheriff"}, {PlayerID: "p2", Role: "mafia"}}})
	source.addPage(models.EntityYearStats, 1, 1, 1,
		scraper.RawYearStat{PlayerID: "p1", Year: 2024, GamesPlayed: 100, Wins: 60})
	source.addPage(models.EntityTournamentResults, 1, 1, 1,
		scraper.RawResult{TournamentID: "t1", PlayerID: "p1", Place: 1, Points: 12.5})
	return source
}

func TestStartImportRefusedWhileLockHeld(t *testing.T) {
	db := newTestDB(t)
	orch := NewOrchestrator(db, newFakeSource(), nil, testImportConfig())

	// A previous run left its checkpoint; another holder has the lock.
	require.NoError(t, orch.checkpoints.Write(Checkpoint{Phase: models.EntityPlayers, BatchIndex: 4}))
	acquired, err := orch.lock.Acquire("other-import")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = orch.StartImport(StrategyFull)
	require.ErrorIs(t, err, ErrLockHeld)

	// The refused start must not touch the checkpoint or create a run.
	cp, err := orch.checkpoints.Read()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, models.EntityPlayers, cp.Phase)
	assert.Equal(t, 4, cp.BatchIndex)

	var runs int64
	require.NoError(t, db.Model(&models.ImportRun{}).Count(&runs).Error)
	assert.Zero(t, runs)
}

func TestStartImportRejectsUnknownStrategy(t *testing.T) {
	orch := NewOrchestrator(newTestDB(t), newFakeSource(), nil, testImportConfig())

	_, err := orch.StartImport("everything-at-once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown import strategy")
}

func TestFullImportCompletes(t *testing.T) {
	db := newTestDB(t)
	source := fullSource()
	orch := NewOrchestrator(db, source, nil, testImportConfig())

	importID, err := orch.StartImport(StrategyFull)
	require.NoError(t, err)

	run := waitForRunStatus(t, db, importID, models.ImportCompleted)
	assert.Equal(t, 100, run.ProgressPercent)
	assert.EqualValues(t, 8, run.ProcessedRecords)
	require.NotNil(t, run.TotalRecords)
	assert.EqualValues(t, 8, *run.TotalRecords)
	require.NotNil(t, run.EndTime)

	// Every entity family landed.
	for _, probe := range []struct {
		model interface{}
		want  int64
	}{
		{&models.Club{}, 2},
		{&models.Player{}, 2},
		{&models.Tournament{}, 1},
		{&models.Game{}, 1},
		{&models.GamePlayer{}, 2},
		{&models.PlayerYearStat{}, 1},
		{&models.TournamentResult{}, 1},
	} {
		var n int64
		require.NoError(t, db.Model(probe.model).Count(&n).Error)
		assert.Equal(t, probe.want, n, "%T", probe.model)
	}

	// Completion clears the checkpoint and releases the lock.
	cp, err := orch.checkpoints.Read()
	require.NoError(t, err)
	assert.Nil(t, cp)
	holder, err := orch.lock.Holder()
	require.NoError(t, err)
	assert.Empty(t, holder)

	// The post-run integrity sweep ran and passed.
	report, err := orch.integrity.Latest()
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "PASS", report.Status)
}

func TestSinglePhaseStrategyOnlyFetchesItsEntity(t *testing.T) {
	db := newTestDB(t)
	source := fullSource()
	orch := NewOrchestrator(db, source, nil, testImportConfig())

	importID, err := orch.StartImport("clubs")
	require.NoError(t, err)
	waitForRunStatus(t, db, importID, models.ImportCompleted)

	assert.Equal(t, []string{"clubs:1"}, source.fetchedPages())
}

func TestCancelImportStopsAtBatchBoundary(t *testing.T) {
	db := newTestDB(t)
	source := newFakeSource()
	source.delay = 20 * time.Millisecond
	for p := 1; p <= 50; p++ {
		source.addPage(models.EntityClubs, p, 50, 50, clubRecord(fmt.Sprintf("c%d", p), fmt.Sprintf("Club %d", p)))
	}
	orch := NewOrchestrator(db, source, nil, testImportConfig())

	importID, err := orch.StartImport("clubs")
	require.NoError(t, err)

	// Let at least one batch commit before requesting cancellation.
	require.Eventually(t, func() bool {
		cp, rerr := orch.checkpoints.Read()
		return rerr == nil && cp != nil
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, orch.Cancel(importID))
	run := waitForRunStatus(t, db, importID, models.ImportCancelled)
	require.NotNil(t, run.EndTime)

	// The checkpoint of the last committed batch survives for resume.
	cp, err := orch.checkpoints.Read()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, models.EntityClubs, cp.Phase)
	assert.GreaterOrEqual(t, cp.BatchIndex, 1)

	// The lock is free again.
	require.Eventually(t, func() bool {
		acquired, aerr := orch.lock.Acquire("probe")
		return aerr == nil && acquired
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCancelUnknownImport(t *testing.T) {
	orch := NewOrchestrator(newTestDB(t), newFakeSource(), nil, testImportConfig())
	assert.Error(t, orch.Cancel("no-such-import"))
}

func TestImportTimeoutFailsWithAlert(t *testing.T) {
	db := newTestDB(t)
	source := newFakeSource()
	source.delay = 30 * time.Millisecond
	for p := 1; p <= 50; p++ {
		source.addPage(models.EntityClubs, p, 50, 50, clubRecord(fmt.Sprintf("c%d", p), fmt.Sprintf("Club %d", p)))
	}
	alerter := &fakeAlerter{}
	cfg := testImportConfig()
	cfg.RunTimeout = 50 * time.Millisecond
	orch := NewOrchestrator(db, source, alerter, cfg)

	importID, err := orch.StartImport("clubs")
	require.NoError(t, err)

	run := waitForRunStatus(t, db, importID, models.ImportFailed)
	assert.Contains(t, run.LastError, "timed out")

	// The checkpoint survives a timeout so the next start resumes.
	cp, err := orch.checkpoints.Read()
	require.NoError(t, err)
	assert.NotNil(t, cp)

	require.Eventually(t, func() bool {
		return len(alerter.sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	payloads := alerter.sent()
	assert.Equal(t, importID, payloads[0].ImportID)
	assert.NotEmpty(t, payloads[0].Errors)
}

func TestImportResumesFromCheckpoint(t *testing.T) {
	db := newTestDB(t)
	source := newFakeSource()
	source.addPage(models.EntityClubs, 2, 2, 4, clubRecord("c3", "Charlie"), clubRecord("c4", "Delta"))
	orch := NewOrchestrator(db, source, nil, testImportConfig())

	require.NoError(t, orch.checkpoints.Write(Checkpoint{Phase: models.EntityClubs, BatchIndex: 1}))

	importID, err := orch.StartImport("clubs")
	require.NoError(t, err)
	waitForRunStatus(t, db, importID, models.ImportCompleted)

	assert.Equal(t, []string{"clubs:2"}, source.fetchedPages(),
		"a resumed run must not re-fetch committed pages")

	cp, err := orch.checkpoints.Read()
	require.NoError(t, err)
	assert.Nil(t, cp, "completion clears the checkpoint")
}

func TestRetrySkippedPagesMergesAndClears(t *testing.T) {
	db := newTestDB(t)
	source := newFakeSource()
	source.addPage(models.EntityClubs, 2, 3, 6, clubRecord("c3", "Charlie"), clubRecord("c4", "Delta"))
	source.pageErrs[pageKey(models.EntityClubs, 3)] = fmt.Errorf("%w: status 503", scraper.ErrUnavailable)
	orch := NewOrchestrator(db, source, nil, testImportConfig())

	require.NoError(t, db.Create(&models.SkippedPage{EntityType: "clubs", PageNumber: 2, LastError: "status 503"}).Error)
	require.NoError(t, db.Create(&models.SkippedPage{EntityType: "clubs", PageNumber: 3, LastError: "status 503"}).Error)

	result, err := orch.RetrySkippedPages(context.Background(), "clubs", []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, result.MergedPages)
	assert.Equal(t, []int{3}, result.FailedPages)
	assert.EqualValues(t, 2, result.Records)

	// Merged page rows landed; only the still-failing page remains deferred.
	var clubs int64
	require.NoError(t, db.Model(&models.Club{}).Count(&clubs).Error)
	assert.EqualValues(t, 2, clubs)

	skipped, err := orch.SkippedPages()
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"clubs": {3}}, skipped)

	// The retry path never touches the checkpoint.
	cp, err := orch.checkpoints.Read()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRetrySkippedPagesRejectedWhileImportActive(t *testing.T) {
	orch := NewOrchestrator(newTestDB(t), newFakeSource(), nil, testImportConfig())

	orch.mu.Lock()
	orch.current = &activeRun{importID: "busy"}
	orch.mu.Unlock()

	_, err := orch.RetrySkippedPages(context.Background(), "clubs", []int{1})
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestRetrySkippedPagesRejectsUnknownEntity(t *testing.T) {
	orch := NewOrchestrator(newTestDB(t), newFakeSource(), nil, testImportConfig())

	_, err := orch.RetrySkippedPages(context.Background(), "referees", []int{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}

func TestStatusReflectsLatestRunWhenIdle(t *testing.T) {
	db := newTestDB(t)
	orch := NewOrchestrator(db, fullSource(), nil, testImportConfig())

	status := orch.Status()
	assert.False(t, status.IsRunning)
	assert.Empty(t, status.ImportID)

	importID, err := orch.StartImport(StrategyFull)
	require.NoError(t, err)
	waitForRunStatus(t, db, importID, models.ImportCompleted)

	status = orch.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, importID, status.ImportID)
	assert.Equal(t, StrategyFull, status.Strategy)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, status.Validation.TotalRecordsProcessed,
		status.Validation.ValidRecords+status.Validation.InvalidRecords)
}

func TestShutdownCancelsActiveRun(t *testing.T) {
	db := newTestDB(t)
	source := newFakeSource()
	source.delay = 20 * time.Millisecond
	for p := 1; p <= 50; p++ {
		source.addPage(models.EntityClubs, p, 50, 50, clubRecord(fmt.Sprintf("c%d", p), fmt.Sprintf("Club %d", p)))
	}
	orch := NewOrchestrator(db, source, nil, testImportConfig())

	importID, err := orch.StartImport("clubs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))

	var run models.ImportRun
	require.NoError(t, db.Where("import_id = ?", importID).First(&run).Error)
	assert.Equal(t, models.ImportCancelled, run.Status)
}

func TestEstimateProgress(t *testing.T) {
	assert.Equal(t, 0, estimateProgress(0, 0, 0, 6))
	assert.Equal(t, 8, estimateProgress(50, 100, 0, 6), "half of the first of six phases")
	assert.Equal(t, 50, estimateProgress(0, 0, 3, 6), "three completed phases of six")
	// Unsized active phase falls back to an estimated 100-record total.
	assert.Equal(t, 4, estimateProgress(25, 0, 0, 6))
	assert.Equal(t, 99, estimateProgress(1000, 100, 5, 6), "never reports 100 before completion")
}

func TestSumTotals(t *testing.T) {
	phases := []models.EntityType{models.EntityClubs, models.EntityPlayers}

	totals := map[models.EntityType]int64{models.EntityClubs: 10}
	assert.Nil(t, sumTotals(totals, phases), "unknown until every phase is sized")

	totals[models.EntityPlayers] = 40
	sum := sumTotals(totals, phases)
	require.NotNil(t, sum)
	assert.EqualValues(t, 50, *sum)
}

func TestPhasesFor(t *testing.T) {
	phases, err := phasesFor(StrategyFull)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseOrder, phases)

	phases, err = phasesFor("games")
	require.NoError(t, err)
	assert.Equal(t, []models.EntityType{models.EntityGames}, phases)

	_, err = phasesFor("bogus")
	assert.Error(t, err)
}

func TestLockContentionError(t *testing.T) {
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", ErrLockHeld), ErrLockHeld))
}

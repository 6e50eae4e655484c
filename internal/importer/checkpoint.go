package importer

import (
	"errors"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointKey identifies the singleton checkpoint row. There is exactly one
// live checkpoint at a time, regardless of how many runs have executed.
const CheckpointKey = "import"

// Checkpoint marks the last fully committed batch. It is written only after
// the batch it describes is durably persisted, so a crash-and-resume replays
// at most one batch.
type Checkpoint struct {
	Phase           models.EntityType
	BatchIndex      int
	LastProcessedID string
	ProgressPercent int
}

// CheckpointStore reads and writes the singleton checkpoint row.
type CheckpointStore struct {
	db *gorm.DB
}

func NewCheckpointStore(db *gorm.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Read returns the live checkpoint, or nil when none exists.
func (s *CheckpointStore) Read() (*Checkpoint, error) {
	var row models.ImportCheckpoint
	err := s.db.Where("key = ?", CheckpointKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		Phase:           models.EntityType(row.Phase),
		BatchIndex:      row.BatchIndex,
		LastProcessedID: row.LastProcessedID,
		ProgressPercent: row.ProgressPercent,
	}, nil
}

// Write overwrites the singleton checkpoint. Callers must only invoke this
// after the described batch has been committed.
func (s *CheckpointStore) Write(cp Checkpoint) error {
	row := models.ImportCheckpoint{
		Key:             CheckpointKey,
		Phase:           string(cp.Phase),
		BatchIndex:      cp.BatchIndex,
		LastProcessedID: cp.LastProcessedID,
		ProgressPercent: cp.ProgressPercent,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phase", "batch_index", "last_processed_id", "progress_percent",
		}),
	}).Create(&row).Error
}

// Clear removes the checkpoint. Called on successful full completion.
func (s *CheckpointStore) Clear() error {
	return s.db.Where("key = ?", CheckpointKey).Delete(&models.ImportCheckpoint{}).Error
}

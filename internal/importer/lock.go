package importer

import (
	"errors"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockKey identifies the single system-wide import lock row.
const LockKey = "import"

// ErrLockHeld is returned by StartImport when another import already holds
// the advisory lock. Contention is an expected result, not an infrastructure
// failure.
var ErrLockHeld = errors.New("import already in progress")

// AdvisoryLock is a cooperative mutual-exclusion token backed by a single
// database row. A stale lock (holder crashed without releasing) is
// reclaimable once its TTL has elapsed.
type AdvisoryLock struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewAdvisoryLock(db *gorm.DB, ttl time.Duration) *AdvisoryLock {
	return &AdvisoryLock{db: db, ttl: ttl, now: time.Now}
}

// Acquire attempts to take the lock for holderID. Returns true only when the
// lock was newly taken (or reclaimed from a stale holder). Contention yields
// (false, nil); only store failures return an error.
func (l *AdvisoryLock) Acquire(holderID string) (bool, error) {
	now := l.now()
	acquired := false

	err := l.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ImportLock{
			Key:        LockKey,
			HolderID:   holderID,
			AcquiredAt: now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			acquired = true
			return nil
		}

		// Row exists. Reclaim only if the current holder's TTL expired.
		res = tx.Model(&models.ImportLock{}).
			Where("key = ? AND acquired_at < ?", LockKey, now.Add(-l.ttl)).
			Updates(map[string]interface{}{"holder_id": holderID, "acquired_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			logger.Warn("Reclaimed stale import lock", zap.String("holder_id", holderID))
			acquired = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Release frees the lock if holderID still owns it. Releasing an unheld lock
// is a no-op.
func (l *AdvisoryLock) Release(holderID string) error {
	return l.db.Where("key = ? AND holder_id = ?", LockKey, holderID).
		Delete(&models.ImportLock{}).Error
}

// Holder returns the current lock holder id, or "" when unheld.
func (l *AdvisoryLock) Holder() (string, error) {
	var lock models.ImportLock
	err := l.db.Where("key = ?", LockKey).First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return lock.HolderID, nil
}

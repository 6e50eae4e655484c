package importer

import (
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// WindowLimiter is a fixed-window request counter keyed by a logical bucket
// name. When the store is unreachable it fails open: the import's ability to
// make progress outweighs strict quota enforcement.
type WindowLimiter struct {
	db  *gorm.DB
	now func() time.Time
}

func NewWindowLimiter(db *gorm.DB) *WindowLimiter {
	return &WindowLimiter{db: db, now: time.Now}
}

// CheckLimit records one request against the bucket and reports whether it is
// within the window's budget.
func (w *WindowLimiter) CheckLimit(key string, window time.Duration, maxRequests int) Decision {
	now := w.now()
	decision := Decision{Allowed: true, Remaining: maxRequests - 1, ResetTime: now.Add(window)}

	err := w.db.Transaction(func(tx *gorm.DB) error {
		var bucket models.RateLimitBucket
		err := tx.Where("key = ?", key).First(&bucket).Error
		if err == gorm.ErrRecordNotFound {
			bucket = models.RateLimitBucket{Key: key, WindowStart: now, Count: 1}
			return tx.Create(&bucket).Error
		}
		if err != nil {
			return err
		}

		windowEnd := bucket.WindowStart.Add(window)
		if !now.Before(windowEnd) {
			// Window elapsed, start a fresh one.
			bucket.WindowStart = now
			bucket.Count = 1
			decision.ResetTime = now.Add(window)
			return tx.Save(&bucket).Error
		}

		decision.ResetTime = windowEnd
		if bucket.Count >= maxRequests {
			decision.Allowed = false
			decision.Remaining = 0
			decision.RetryAfter = windowEnd.Sub(now)
			return nil
		}

		bucket.Count++
		decision.Remaining = maxRequests - bucket.Count
		return tx.Save(&bucket).Error
	})
	if err != nil {
		// Fail open: a broken quota store must not stall the import.
		logger.Warn("Rate limit store unavailable, allowing request",
			zap.String("key", key),
			zap.Error(err))
		return Decision{Allowed: true, Remaining: maxRequests, ResetTime: now.Add(window)}
	}

	return decision
}

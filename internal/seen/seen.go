// Package seen tracks which mailbox messages have already been processed,
// combining a monotonic timestamp watermark with an explicit seen-ID set so
// out-of-order delivery cannot cause duplicates or gaps.
package seen

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
)

// Tracker persists the watermark and seen-message set.
type Tracker struct {
	db *gorm.DB
}

// NewTracker loads or initializes the watermark row. A fresh database gets a
// watermark of now minus lookback so a first run picks up recent mail without
// replaying the whole inbox.
func NewTracker(db *gorm.DB, lookback time.Duration) (*Tracker, error) {
	var wm models.Watermark
	err := db.First(&wm).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		wm = models.Watermark{LastSeen: time.Now().Add(-lookback)}
		if err := db.Create(&wm).Error; err != nil {
			return nil, fmt.Errorf("seen: initialize watermark: %w", err)
		}
	default:
		return nil, fmt.Errorf("seen: load watermark: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Since returns the current watermark, the lower bound for mailbox fetches.
func (t *Tracker) Since() (time.Time, error) {
	var wm models.Watermark
	if err := t.db.First(&wm).Error; err != nil {
		return time.Time{}, fmt.Errorf("seen: load watermark: %w", err)
	}
	return wm.LastSeen, nil
}

// IsNew reports whether the message ID has not been marked seen.
func (t *Tracker) IsNew(id string) (bool, error) {
	var count int64
	if err := t.db.Model(&models.SeenMessage{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("seen: lookup %s: %w", id, err)
	}
	return count == 0, nil
}

// Record stores the message ID in the seen set without touching the
// watermark. The scheduler records IDs on their own when an earlier message
// in the batch is still unprocessed and the watermark must hold below it.
// Recording the same ID twice is a no-op.
func (t *Tracker) Record(id string) error {
	return record(t.db, id)
}

// Advance moves the watermark forward to at. An older timestamp is a no-op;
// the watermark never regresses.
func (t *Tracker) Advance(at time.Time) error {
	return advance(t.db, at)
}

// MarkSeen records the message ID and advances the watermark if receivedAt is
// ahead of it. Marking the same ID twice is a no-op.
func (t *Tracker) MarkSeen(id string, receivedAt time.Time) error {
	return t.db.Transaction(func(tx *gorm.DB) error {
		if err := record(tx, id); err != nil {
			return err
		}
		return advance(tx, receivedAt)
	})
}

func record(tx *gorm.DB, id string) error {
	rec := models.SeenMessage{ID: id, SeenAt: time.Now()}
	if err := tx.Where(models.SeenMessage{ID: id}).FirstOrCreate(&rec).Error; err != nil {
		return fmt.Errorf("seen: mark %s: %w", id, err)
	}
	return nil
}

func advance(tx *gorm.DB, at time.Time) error {
	var wm models.Watermark
	if err := tx.First(&wm).Error; err != nil {
		return fmt.Errorf("seen: load watermark: %w", err)
	}
	// Watermark only moves forward. Out-of-order arrivals keep the older
	// bound so nothing between them gets skipped.
	if at.After(wm.LastSeen) {
		wm.LastSeen = at
		if err := tx.Save(&wm).Error; err != nil {
			return fmt.Errorf("seen: advance watermark: %w", err)
		}
	}
	return nil
}

// Filter returns the subset of batch whose IDs have not been seen, preserving
// input order.
func (t *Tracker) Filter(batch []mailbox.RawMessage) ([]mailbox.RawMessage, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}
	var seen []string
	if err := t.db.Model(&models.SeenMessage{}).Where("id IN ?", ids).
		Pluck("id", &seen).Error; err != nil {
		return nil, fmt.Errorf("seen: filter batch: %w", err)
	}

	known := make(map[string]bool, len(seen))
	for _, id := range seen {
		known[id] = true
	}
	novel := make([]mailbox.RawMessage, 0, len(batch))
	for _, m := range batch {
		if !known[m.ID] {
			novel = append(novel, m)
		}
	}
	return novel, nil
}

// Prune drops seen-message rows older than the cutoff. The watermark makes
// old entries redundant; this keeps the set from growing without bound.
func (t *Tracker) Prune(cutoff time.Time) (int64, error) {
	res := t.db.Where("seen_at < ?", cutoff).Delete(&models.SeenMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("seen: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

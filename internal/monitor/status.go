package monitor

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/models"
)

// StatusInfo summarizes daemon health for the CLI, the status API, and the
// chat `status` command.
type StatusInfo struct {
	WatermarkAt  time.Time `json:"watermark_at"`
	WatermarkAge string    `json:"watermark_age"`
	Pending      int64     `json:"pending"`
	Resolved     int64     `json:"resolved"`
	Expired      int64     `json:"expired"`
	Scheduler    *Stats    `json:"scheduler,omitempty"`
}

// BuildStatus reads the watermark and notification counts. Scheduler
// counters are attached by callers that have a running Scheduler.
func BuildStatus(db *gorm.DB) (*StatusInfo, error) {
	info := &StatusInfo{}

	var wm models.Watermark
	err := db.First(&wm).Error
	switch {
	case err == nil:
		info.WatermarkAt = wm.LastSeen
		info.WatermarkAge = time.Since(wm.LastSeen).Round(time.Second).String()
	case errors.Is(err, gorm.ErrRecordNotFound):
		info.WatermarkAge = "never"
	default:
		return nil, fmt.Errorf("monitor: load watermark: %w", err)
	}

	counts := map[string]*int64{
		models.StatusPending:  &info.Pending,
		models.StatusResolved: &info.Resolved,
		models.StatusExpired:  &info.Expired,
	}
	for status, dst := range counts {
		err := db.Model(&models.Notification{}).Where("status = ?", status).Count(dst).Error
		if err != nil {
			return nil, fmt.Errorf("monitor: count %s: %w", status, err)
		}
	}
	return info, nil
}

// Summary renders the status as a short human-readable line for chat.
func (s *StatusInfo) Summary() string {
	line := fmt.Sprintf("watermark age %s | pending %d | resolved %d | expired %d",
		s.WatermarkAge, s.Pending, s.Resolved, s.Expired)
	if s.Scheduler != nil {
		line += fmt.Sprintf(" | cycles %d", s.Scheduler.Cycles)
		if s.Scheduler.FetchFailures > 0 {
			line += fmt.Sprintf(" | fetch failures %d", s.Scheduler.FetchFailures)
		}
	}
	return line
}

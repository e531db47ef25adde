package resolve

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/relay"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper expires pending notifications that outlived the retention window
// and removes their buttons from the channel.
type Sweeper struct {
	db        *gorm.DB
	adapter   relay.Adapter
	retention time.Duration
	schedule  cron.Schedule
	out       io.Writer
}

// SweeperOpts configures a Sweeper.
type SweeperOpts struct {
	DB        *gorm.DB
	Adapter   relay.Adapter
	Retention time.Duration // pending records older than this expire
	Cron      string        // 5-field sweep schedule
	Out       io.Writer     // progress output, defaults to os.Stdout
}

// NewSweeper validates opts and parses the cron schedule.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("resolve: sweeper DB is required")
	}
	if opts.Retention <= 0 {
		return nil, fmt.Errorf("resolve: sweeper retention must be positive")
	}
	sched, err := cronParser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("resolve: parse sweep cron %q: %w", opts.Cron, err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Sweeper{
		db:        opts.DB,
		adapter:   opts.Adapter,
		retention: opts.Retention,
		schedule:  sched,
		out:       out,
	}, nil
}

// Run fires Sweep on the cron schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if n, err := s.Sweep(ctx); err != nil {
			log.Printf("resolve: sweep: %v", err)
		} else if n > 0 {
			fmt.Fprintf(s.out, "expired %d stale notification(s)\n", n)
		}
	}
}

// Sweep marks pending records dispatched before the retention cutoff as
// expired and updates each one's channel message once. Returns the number of
// records expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.retention)

	var stale []models.Notification
	err := s.db.Where("status = ? AND dispatched_at < ?", models.StatusPending, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("find stale records: %w", err)
	}

	expired := 0
	for _, rec := range stale {
		res := s.db.Model(&models.Notification{}).
			Where("token = ? AND status = ?", rec.Token, models.StatusPending).
			Updates(map[string]interface{}{"status": models.StatusExpired})
		if res.Error != nil {
			return expired, fmt.Errorf("expire %s: %w", rec.Token, res.Error)
		}
		// RowsAffected 0 means an action resolved it between the query
		// and the update; its display was already handled.
		if res.RowsAffected == 0 {
			continue
		}
		expired++

		if s.adapter != nil && rec.ChannelRef != "" {
			ref := relay.MessageRef{ChannelID: rec.ChannelID, Ref: rec.ChannelRef}
			text := fmt.Sprintf("Expired: %s (no action within %s)", rec.MessageID, s.retention)
			if err := s.adapter.Update(ctx, ref, text, true); err != nil {
				log.Printf("resolve: update expired display %s: %v", rec.Token, err)
			}
		}
	}
	return expired, nil
}

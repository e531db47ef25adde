// Package monitor owns the polling loop and the daemon that ties the
// mailbox, classifier, dispatcher, resolver, and channel relay together.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/waybill/internal/classify"
	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/notify"
	"github.com/zulandar/waybill/internal/seen"
)

// Default polling parameters.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultMinInterval  = time.Second
	DefaultMaxPerCycle  = 10
)

// Stats is a snapshot of the scheduler's counters.
type Stats struct {
	Cycles           int64     `json:"cycles"`
	Dispatched       int64     `json:"dispatched"`
	FetchFailures    int64     `json:"consecutive_fetch_failures"`
	LastCycleAt      time.Time `json:"last_cycle_at"`
	LastCycleFetched int       `json:"last_cycle_fetched"`
}

// Scheduler drives the poll cycle: fetch new mail, drop already-seen
// messages, classify, dispatch, mark seen.
type Scheduler struct {
	db         *gorm.DB
	mail       mailbox.Store
	tracker    *seen.Tracker
	classifier classify.Classifier
	dispatcher *notify.Dispatcher
	interval   time.Duration
	minSleep   time.Duration
	maxPerCyc  int
	out        io.Writer

	mu    sync.Mutex
	stats Stats
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	DB           *gorm.DB
	Mail         mailbox.Store
	Tracker      *seen.Tracker
	Classifier   classify.Classifier
	Dispatcher   *notify.Dispatcher
	PollInterval time.Duration // defaults to DefaultPollInterval
	MinInterval  time.Duration // sleep floor, defaults to DefaultMinInterval
	MaxPerCycle  int           // fetch cap, defaults to DefaultMaxPerCycle
	Out          io.Writer     // defaults to os.Stdout
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("monitor: scheduler: db is required")
	}
	if opts.Mail == nil {
		return nil, fmt.Errorf("monitor: scheduler: mail store is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("monitor: scheduler: tracker is required")
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("monitor: scheduler: classifier is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("monitor: scheduler: dispatcher is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MaxPerCycle <= 0 {
		opts.MaxPerCycle = DefaultMaxPerCycle
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Scheduler{
		db:         opts.DB,
		mail:       opts.Mail,
		tracker:    opts.Tracker,
		classifier: opts.Classifier,
		dispatcher: opts.Dispatcher,
		interval:   opts.PollInterval,
		minSleep:   opts.MinInterval,
		maxPerCyc:  opts.MaxPerCycle,
		out:        out,
	}, nil
}

// Run executes poll cycles until ctx is cancelled. The next cycle is
// anchored at the start of the previous one: sleep is interval minus cycle
// elapsed time, floored at the minimum so a slow cycle never causes a
// zero-delay spin.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		start := time.Now()
		if err := s.Cycle(ctx); err != nil {
			log.Printf("monitor: cycle: %v", err)
		}

		sleep := s.interval - time.Since(start)
		if sleep < s.minSleep {
			sleep = s.minSleep
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Cycle runs one fetch-classify-dispatch pass. A fetch failure skips the
// whole cycle; a per-message failure skips just that message, leaving it
// unseen so the next cycle retries it.
func (s *Scheduler) Cycle(ctx context.Context) error {
	since, err := s.tracker.Since()
	if err != nil {
		return err
	}

	batch, err := s.mail.FetchNew(ctx, since, s.maxPerCyc)
	if err != nil {
		s.mu.Lock()
		s.stats.FetchFailures++
		s.mu.Unlock()
		return fmt.Errorf("fetch since %s: %w", since.Format(time.RFC3339), err)
	}

	novel, err := s.tracker.Filter(batch)
	if err != nil {
		return err
	}
	isNovel := make(map[string]bool, len(novel))
	for _, m := range novel {
		isNovel[m.ID] = true
	}

	// The batch is oldest first. The watermark advances only over the
	// contiguous prefix whose messages are processed or already seen; once
	// one fails it stops moving so the failure is refetched next cycle.
	var (
		dispatched int64
		blocked    bool
		advanceTo  time.Time
	)
	for _, raw := range batch {
		if isNovel[raw.ID] {
			n, err := s.process(ctx, raw)
			if err != nil {
				log.Printf("monitor: message %s: %v", raw.ID, err)
				blocked = true
				continue
			}
			dispatched += n
		}
		if !blocked {
			advanceTo = raw.ReceivedAt
		}
	}
	if !advanceTo.IsZero() {
		if err := s.tracker.Advance(advanceTo); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.Dispatched += dispatched
	s.stats.FetchFailures = 0
	s.stats.LastCycleAt = time.Now()
	s.stats.LastCycleFetched = len(novel)
	s.mu.Unlock()

	if len(novel) > 0 {
		fmt.Fprintf(s.out, "cycle: %d new message(s), %d notified\n", len(novel), dispatched)
	}
	return nil
}

// process classifies, persists, and dispatches one message, then records its
// ID as seen. Returns 1 if a notification went out.
func (s *Scheduler) process(ctx context.Context, raw mailbox.RawMessage) (int64, error) {
	res, err := s.classifier.Classify(ctx, raw)
	if err != nil {
		// Transient backend failure: leave unseen, retried next cycle.
		return 0, fmt.Errorf("classify: %w", err)
	}

	msg, err := s.persist(raw, res)
	if err != nil {
		return 0, err
	}

	rec, err := s.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("dispatch: %w", err)
	}

	// Seen only after the dispatch decision returned, including the
	// "not notifiable" nil decision. The cycle advances the watermark
	// separately so it never passes a message that failed here.
	if err := s.tracker.Record(raw.ID); err != nil {
		return 0, err
	}
	if rec != nil {
		return 1, nil
	}
	return 0, nil
}

// persist upserts the classified message.
func (s *Scheduler) persist(raw mailbox.RawMessage, res classify.Result) (*models.Message, error) {
	msg := &models.Message{
		ID:            raw.ID,
		Sender:        raw.Sender,
		Subject:       raw.Subject,
		Snippet:       raw.Snippet,
		Body:          raw.Body,
		Category:      res.Category,
		Actionable:    s.dispatcher.Notifiable(res.Category),
		MeetingIntent: res.MeetingIntent,
		ReceivedAt:    raw.ReceivedAt,
	}
	if res.Meeting != nil {
		data, err := json.Marshal(res.Meeting)
		if err != nil {
			return nil, fmt.Errorf("encode meeting params: %w", err)
		}
		msg.MeetingParams = string(data)
	}
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(msg).Error
	if err != nil {
		return nil, fmt.Errorf("persist message %s: %w", raw.ID, err)
	}
	return msg, nil
}

// Stats returns a copy of the current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

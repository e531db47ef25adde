package monitor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/calendar"
	"github.com/zulandar/waybill/internal/classify"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/notify"
	"github.com/zulandar/waybill/internal/relay"
	"github.com/zulandar/waybill/internal/resolve"
	"github.com/zulandar/waybill/internal/seen"
	"github.com/zulandar/waybill/internal/statusapi"
)

// Daemon is the main waybill process. It runs the poll scheduler, pumps
// channel events into the resolver, fires the retention sweep, and serves
// the status API.
type Daemon struct {
	db         *gorm.DB
	cfg        *config.Config
	adapter    relay.Adapter
	mail       mailbox.Store
	classifier classify.Classifier
	calendar   calendar.Scheduler
	out        io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB         *gorm.DB
	Config     *config.Config
	Adapter    relay.Adapter
	Mail       mailbox.Store
	Classifier classify.Classifier
	Calendar   calendar.Scheduler // optional; nil disables Schedule
	Out        io.Writer          // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("monitor: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("monitor: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("monitor: adapter is required")
	}
	if opts.Mail == nil {
		return nil, fmt.Errorf("monitor: mail store is required")
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("monitor: classifier is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Calendar == nil {
		fmt.Fprintf(out, "monitor: no calendar configured; Schedule action disabled\n")
	}
	return &Daemon{
		db:         opts.DB,
		cfg:        opts.Config,
		adapter:    opts.Adapter,
		mail:       opts.Mail,
		classifier: opts.Classifier,
		calendar:   opts.Calendar,
		out:        out,
	}, nil
}

// Run starts the daemon. It connects the adapter, builds all subsystems,
// and blocks until the context is cancelled. On shutdown it closes the
// adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Waybill connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("monitor: connect: %w", err)
	}

	tracker, err := seen.NewTracker(d.db, d.cfg.Monitor.Lookback.Std())
	if err != nil {
		d.adapter.Close()
		return err
	}

	dispatcher, err := notify.NewDispatcher(notify.Opts{
		DB:        d.db,
		Adapter:   d.adapter,
		NotifySet: d.cfg.Classify.NotifySet,
	})
	if err != nil {
		d.adapter.Close()
		return err
	}

	resolver, err := resolve.NewResolver(resolve.Opts{
		DB:         d.db,
		Mail:       d.mail,
		Calendar:   d.calendar,
		Classifier: d.classifier,
		DoneLabel:  d.cfg.Mailbox.DoneLabel,
	})
	if err != nil {
		d.adapter.Close()
		return err
	}

	scheduler, err := NewScheduler(SchedulerOpts{
		DB:           d.db,
		Mail:         d.mail,
		Tracker:      tracker,
		Classifier:   d.classifier,
		Dispatcher:   dispatcher,
		PollInterval: d.cfg.Monitor.PollInterval.Std(),
		MinInterval:  d.cfg.Monitor.MinInterval.Std(),
		MaxPerCycle:  d.cfg.Monitor.MaxPerCycle,
		Out:          d.out,
	})
	if err != nil {
		d.adapter.Close()
		return err
	}

	sweeper, err := resolve.NewSweeper(resolve.SweeperOpts{
		DB:        d.db,
		Adapter:   d.adapter,
		Retention: d.cfg.Retention.Window.Std(),
		Cron:      d.cfg.Retention.SweepCron,
		Out:       d.out,
	})
	if err != nil {
		d.adapter.Close()
		return err
	}

	events, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("monitor: listen: %w", err)
	}

	go scheduler.Run(ctx)
	go sweeper.Run(ctx)
	go d.pruneSeen(ctx, tracker)

	if d.cfg.StatusAPI.Enabled {
		srv := statusapi.New(statusapi.Opts{
			DB:   d.db,
			Port: d.cfg.StatusAPI.Port,
			Status: func() (interface{}, error) {
				info, err := BuildStatus(d.db)
				if err != nil {
					return nil, err
				}
				st := scheduler.Stats()
				info.Scheduler = &st
				return info, nil
			},
			Out: d.out,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Printf("monitor: status api: %v", err)
			}
		}()
	}

	fmt.Fprintf(d.out, "Waybill online\n")
	if err := d.adapter.Post(ctx, "Waybill online"); err != nil {
		log.Printf("monitor: post online message: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Waybill shutting down...\n")
			if err := d.adapter.Post(context.Background(), "Waybill shutting down"); err != nil {
				log.Printf("monitor: post shutdown message: %v", err)
			}
			if err := d.adapter.Close(); err != nil {
				log.Printf("monitor: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Waybill stopped\n")
			return nil

		case e, ok := <-events:
			if !ok {
				fmt.Fprintf(d.out, "Waybill event channel closed\n")
				return nil
			}
			go d.handleEvent(ctx, e, resolver, scheduler, dispatcher)
		}
	}
}

// handleEvent routes one inbound channel event: action callbacks go to the
// resolver, plain commands are answered directly.
func (d *Daemon) handleEvent(ctx context.Context, e relay.Event, resolver *resolve.Resolver, scheduler *Scheduler, dispatcher *notify.Dispatcher) {
	if e.IsCommand() {
		d.handleCommand(ctx, e, scheduler, dispatcher)
		return
	}
	if e.Token == "" || e.Action == "" {
		return
	}

	out, err := resolver.Resolve(ctx, e.Token, e.Action)
	if err != nil {
		d.reportActionError(ctx, e, err)
		return
	}

	ref := d.recordRef(out.Token)
	if out.Text != "" && ref.Ref != "" {
		if err := d.adapter.Update(ctx, ref, out.Text, out.ClearActions); err != nil {
			log.Printf("monitor: update %s: %v", out.Token, err)
		}
	} else if out.Text != "" {
		if err := d.adapter.Post(ctx, out.Text); err != nil {
			log.Printf("monitor: post outcome for %s: %v", out.Token, err)
		}
	}
	if out.FollowUp != nil {
		if _, err := d.adapter.Deliver(ctx, *out.FollowUp); err != nil {
			log.Printf("monitor: deliver follow-up for %s: %v", out.Token, err)
		}
	}
}

// handleCommand answers plain text commands from the channel.
func (d *Daemon) handleCommand(ctx context.Context, e relay.Event, scheduler *Scheduler, dispatcher *notify.Dispatcher) {
	switch strings.ToLower(strings.TrimSpace(e.Text)) {
	case "status":
		info, err := BuildStatus(d.db)
		if err != nil {
			log.Printf("monitor: status command: %v", err)
			return
		}
		stats := scheduler.Stats()
		info.Scheduler = &stats
		if err := d.adapter.Post(ctx, "Waybill status: "+info.Summary()); err != nil {
			log.Printf("monitor: post status: %v", err)
		}

	case "test":
		msg := &models.Message{
			ID:         "test-" + uuid.NewString(),
			Sender:     "Waybill <noreply@localhost>",
			Subject:    "Test notification",
			Snippet:    "This is a synthetic test notification.",
			Body:       "This is a synthetic test notification. Actions work as usual.",
			Category:   models.CategoryImportant,
			ReceivedAt: time.Now(),
		}
		if err := d.db.Create(msg).Error; err != nil {
			log.Printf("monitor: test command: %v", err)
			return
		}
		if _, err := dispatcher.Dispatch(ctx, msg); err != nil {
			log.Printf("monitor: test dispatch: %v", err)
		}
	}
}

// reportActionError posts a short failure note back to the channel.
func (d *Daemon) reportActionError(ctx context.Context, e relay.Event, err error) {
	log.Printf("monitor: action %s on %s: %v", e.Action, e.Token, err)
	text := fmt.Sprintf("Action %s failed: %v", e.Action, err)
	if err := d.adapter.Post(ctx, text); err != nil {
		log.Printf("monitor: post action error: %v", err)
	}
}

// recordRef looks up the channel reference stored on the notification.
func (d *Daemon) recordRef(token string) relay.MessageRef {
	var rec models.Notification
	if err := d.db.First(&rec, "token = ?", token).Error; err != nil {
		return relay.MessageRef{}
	}
	return relay.MessageRef{ChannelID: rec.ChannelID, Ref: rec.ChannelRef}
}

// pruneSeen trims old seen-message rows daily, keeping twice the retention
// window so the novelty filter stays correct near the boundary.
func (d *Daemon) pruneSeen(ctx context.Context, tracker *seen.Tracker) {
	keep := 2 * d.cfg.Retention.Window.Std()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := tracker.Prune(time.Now().Add(-keep)); err != nil {
				log.Printf("monitor: prune seen: %v", err)
			} else if n > 0 {
				fmt.Fprintf(d.out, "pruned %d seen row(s)\n", n)
			}
		}
	}
}

// Package notify decides which classified messages reach the chat channel
// and keeps a persistent record of every notification it sends.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/relay"
)

// Opts configures a Dispatcher.
type Opts struct {
	DB        *gorm.DB
	Adapter   relay.Adapter
	NotifySet []string // categories that trigger a notification
}

// Dispatcher relays notifiable messages to the channel, persisting a pending
// record before each delivery so a crash between persist and deliver errs on
// the side of a duplicate rather than a lost notification.
type Dispatcher struct {
	db        *gorm.DB
	adapter   relay.Adapter
	notifySet map[string]bool
}

// NewDispatcher validates opts and builds a Dispatcher.
func NewDispatcher(opts Opts) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("notify: DB is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("notify: Adapter is required")
	}
	set := make(map[string]bool, len(opts.NotifySet))
	for _, c := range opts.NotifySet {
		if !models.ValidCategory(c) {
			return nil, fmt.Errorf("notify: unknown category %q in notify set", c)
		}
		set[c] = true
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("notify: notify set is empty")
	}
	return &Dispatcher{db: opts.DB, adapter: opts.Adapter, notifySet: set}, nil
}

// Dispatch delivers a notification for msg if its category is in the notify
// set. It returns (nil, nil) when the message is not notifiable. If a pending
// record already exists for the message it is reused and only the channel
// delivery is repeated.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.Message) (*models.Notification, error) {
	if !d.Notifiable(msg.Category) {
		return nil, nil
	}

	rec, err := d.pendingFor(msg.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &models.Notification{
			Token:        uuid.NewString(),
			MessageID:    msg.ID,
			Status:       models.StatusPending,
			DispatchedAt: time.Now(),
		}
		if err := d.db.Create(rec).Error; err != nil {
			return nil, fmt.Errorf("notify: persist record for %s: %w", msg.ID, err)
		}
	}

	ref, err := d.adapter.Deliver(ctx, Render(rec.Token, msg))
	if err != nil {
		// Record stays pending; the next dispatch retries with the
		// same token.
		return rec, fmt.Errorf("notify: deliver %s: %w", rec.Token, err)
	}

	// Update only the channel fields. The resolver owns status and may
	// have already resolved this token; writing the whole row here would
	// roll that back.
	rec.ChannelID = ref.ChannelID
	rec.ChannelRef = ref.Ref
	err = d.db.Model(&models.Notification{}).Where("token = ?", rec.Token).
		Updates(map[string]interface{}{
			"channel_id":  ref.ChannelID,
			"channel_ref": ref.Ref,
		}).Error
	if err != nil {
		return rec, fmt.Errorf("notify: record channel ref for %s: %w", rec.Token, err)
	}
	return rec, nil
}

// Notifiable reports whether the category is in the notify set.
func (d *Dispatcher) Notifiable(category string) bool {
	return d.notifySet[category]
}

// pendingFor returns the existing pending record for a message, or nil.
func (d *Dispatcher) pendingFor(messageID string) (*models.Notification, error) {
	var rec models.Notification
	err := d.db.Where("message_id = ? AND status = ?", messageID, models.StatusPending).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notify: lookup pending for %s: %w", messageID, err)
	}
	return &rec, nil
}

// Render builds the channel payload for a message: summary fields plus the
// action set. Schedule is offered only when the message looks like a meeting.
func Render(token string, msg *models.Message) relay.Payload {
	actions := []string{relay.ActionReply}
	if msg.Category == models.CategoryMeetings || msg.MeetingIntent {
		actions = append(actions, relay.ActionSchedule)
	}
	actions = append(actions, relay.ActionViewFull, relay.ActionMarkDone, relay.ActionIgnore)

	return relay.Payload{
		Token:    token,
		Sender:   msg.Sender,
		Subject:  msg.Subject,
		Snippet:  msg.Snippet,
		Category: msg.Category,
		Actions:  actions,
	}
}

// Package resolve runs the notification state machine: it receives button
// presses from the channel, performs the requested side effect, and moves
// the record out of pending exactly once.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/calendar"
	"github.com/zulandar/waybill/internal/classify"
	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/relay"
)

var (
	// ErrUnknownToken is returned for tokens that were never persisted or
	// have been purged by retention.
	ErrUnknownToken = errors.New("resolve: unknown token")

	// ErrStaleAction is returned when the record already left pending.
	ErrStaleAction = errors.New("resolve: notification already resolved or expired")

	// ErrNoDraft is returned for Send with no stored draft reply.
	ErrNoDraft = errors.New("resolve: no draft to send")
)

// SideEffectError wraps a downstream adapter failure. The record stays
// pending so the user can retry the action.
type SideEffectError struct {
	Action string
	Err    error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("resolve: %s side effect: %v", e.Action, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }

// Outcome describes how the channel display should change after an action.
type Outcome struct {
	Token        string
	Status       string         // record status after the action
	Text         string         // user-facing response text
	ClearActions bool           // remove the buttons from the original notification
	FollowUp     *relay.Payload // optional interactive follow-up (draft preview)
}

const fullBodyLimit = 3000

// Opts configures a Resolver.
type Opts struct {
	DB         *gorm.DB
	Mail       mailbox.Store
	Calendar   calendar.Scheduler // nil disables Schedule
	Classifier classify.Classifier
	DoneLabel  string
}

// Resolver applies actions to pending notifications.
type Resolver struct {
	db         *gorm.DB
	mail       mailbox.Store
	calendar   calendar.Scheduler
	classifier classify.Classifier
	doneLabel  string
	locks      *tokenLocks
}

// NewResolver validates opts and builds a Resolver.
func NewResolver(opts Opts) (*Resolver, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("resolve: DB is required")
	}
	if opts.Mail == nil {
		return nil, fmt.Errorf("resolve: Mail is required")
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("resolve: Classifier is required")
	}
	if opts.DoneLabel == "" {
		opts.DoneLabel = "Waybill/Done"
	}
	return &Resolver{
		db:         opts.DB,
		mail:       opts.Mail,
		calendar:   opts.Calendar,
		classifier: opts.Classifier,
		doneLabel:  opts.DoneLabel,
		locks:      newTokenLocks(),
	}, nil
}

// Resolve applies action to the notification identified by token. Actions on
// the same token are serialized; a concurrent duplicate observes the
// post-transition state and gets ErrStaleAction.
func (r *Resolver) Resolve(ctx context.Context, token, action string) (Outcome, error) {
	release := r.locks.acquire(token)
	defer release()

	var rec models.Notification
	err := r.db.Preload("Message").First(&rec, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve: load %s: %w", token, err)
	}
	if rec.Status != models.StatusPending {
		return Outcome{}, fmt.Errorf("%w: %s is %s", ErrStaleAction, token, rec.Status)
	}

	switch action {
	case relay.ActionReply:
		return r.reply(ctx, &rec)
	case relay.ActionSend:
		return r.send(ctx, &rec)
	case relay.ActionDiscard:
		return r.discard(&rec)
	case relay.ActionSchedule:
		return r.schedule(ctx, &rec)
	case relay.ActionViewFull:
		return r.viewFull(&rec)
	case relay.ActionMarkDone:
		return r.markDone(ctx, &rec)
	case relay.ActionIgnore:
		return r.resolve(&rec, relay.ActionIgnore, "Ignored.")
	default:
		return Outcome{}, fmt.Errorf("resolve: unknown action %q", action)
	}
}

// reply drafts a response and stores it on the record for later approval.
func (r *Resolver) reply(ctx context.Context, rec *models.Notification) (Outcome, error) {
	draft, err := r.classifier.Draft(ctx, &rec.Message)
	if err != nil {
		return Outcome{}, &SideEffectError{Action: relay.ActionReply, Err: err}
	}
	updates := map[string]interface{}{
		"draft_reply": draft,
		"last_action": relay.ActionReply,
	}
	if err := r.update(rec, updates); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Token:  rec.Token,
		Status: models.StatusPending,
		FollowUp: &relay.Payload{
			Token:    rec.Token,
			Sender:   rec.Message.Sender,
			Subject:  "Draft reply: " + rec.Message.Subject,
			Snippet:  draft,
			Category: rec.Message.Category,
			Actions:  []string{relay.ActionSend, relay.ActionDiscard},
		},
	}, nil
}

// send delivers the stored draft through the mail store and resolves.
func (r *Resolver) send(ctx context.Context, rec *models.Notification) (Outcome, error) {
	if rec.DraftReply == "" {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoDraft, rec.Token)
	}
	if err := r.mail.SendReply(ctx, rec.MessageID, rec.DraftReply); err != nil {
		return Outcome{}, &SideEffectError{Action: relay.ActionSend, Err: err}
	}
	return r.resolve(rec, relay.ActionSend, "Reply sent to "+rec.Message.Sender+".")
}

// discard drops the stored draft; the notification stays actionable.
func (r *Resolver) discard(rec *models.Notification) (Outcome, error) {
	if err := r.update(rec, map[string]interface{}{"draft_reply": ""}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Token: rec.Token, Status: models.StatusPending, Text: "Draft discarded."}, nil
}

// schedule books a calendar event from the stored meeting parameters.
func (r *Resolver) schedule(ctx context.Context, rec *models.Notification) (Outcome, error) {
	if r.calendar == nil {
		return Outcome{}, &SideEffectError{
			Action: relay.ActionSchedule,
			Err:    errors.New("calendar not configured"),
		}
	}
	params := meetingParams(&rec.Message)
	eventID, err := r.calendar.CreateEvent(ctx, params)
	if err != nil {
		return Outcome{}, &SideEffectError{Action: relay.ActionSchedule, Err: err}
	}
	return r.resolve(rec, relay.ActionSchedule,
		fmt.Sprintf("Scheduled %q (event %s).", params.Title, eventID))
}

// viewFull returns the stored message body without changing state.
func (r *Resolver) viewFull(rec *models.Notification) (Outcome, error) {
	body := rec.Message.Body
	if body == "" {
		body = rec.Message.Snippet
	}
	if len(body) > fullBodyLimit {
		body = body[:fullBodyLimit] + "\n[truncated]"
	}
	return Outcome{Token: rec.Token, Status: models.StatusPending, Text: body}, nil
}

// markDone labels and archives the message, then resolves.
func (r *Resolver) markDone(ctx context.Context, rec *models.Notification) (Outcome, error) {
	if err := r.mail.ApplyLabel(ctx, rec.MessageID, r.doneLabel); err != nil {
		return Outcome{}, &SideEffectError{Action: relay.ActionMarkDone, Err: err}
	}
	if err := r.mail.Archive(ctx, rec.MessageID); err != nil {
		return Outcome{}, &SideEffectError{Action: relay.ActionMarkDone, Err: err}
	}
	return r.resolve(rec, relay.ActionMarkDone, "Marked done and archived.")
}

// resolve moves the record to resolved and records the final action.
func (r *Resolver) resolve(rec *models.Notification, action, text string) (Outcome, error) {
	now := time.Now()
	err := r.update(rec, map[string]interface{}{
		"status":      models.StatusResolved,
		"last_action": action,
		"resolved_at": now,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Token:        rec.Token,
		Status:       models.StatusResolved,
		Text:         text,
		ClearActions: true,
	}, nil
}

func (r *Resolver) update(rec *models.Notification, fields map[string]interface{}) error {
	err := r.db.Model(&models.Notification{}).Where("token = ?", rec.Token).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("resolve: update %s: %w", rec.Token, err)
	}
	return nil
}

// meetingParams decodes the extraction stored at classification time,
// falling back to subject/sender defaults.
func meetingParams(msg *models.Message) classify.MeetingParams {
	if msg.MeetingParams != "" {
		var p classify.MeetingParams
		if err := json.Unmarshal([]byte(msg.MeetingParams), &p); err == nil && p.Title != "" {
			return p
		}
	}
	return classify.FallbackMeetingParams(msg.Subject, msg.Sender)
}

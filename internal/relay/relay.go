// Package relay bridges mailbox notifications to chat platforms (Slack,
// Discord, etc.).
package relay

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management, interactive
// notification delivery, and inbound event receipt for a single platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Deliver posts an interactive notification and returns a reference
	// that can later be used to update it in place.
	Deliver(ctx context.Context, p Payload) (MessageRef, error)

	// Update rewrites a previously delivered notification. When
	// clearActions is true the action buttons are removed.
	Update(ctx context.Context, ref MessageRef, text string, clearActions bool) error

	// Post sends a plain text message to the notification channel.
	Post(ctx context.Context, text string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// Action names carried in button interactions. The value travels inside the
// platform's component identifiers, so names stay short and stable.
const (
	ActionReply    = "reply"
	ActionSend     = "send"
	ActionDiscard  = "discard"
	ActionSchedule = "schedule"
	ActionViewFull = "view_full"
	ActionMarkDone = "mark_done"
	ActionIgnore   = "ignore"
)

// Payload is a notification rendered for delivery: the summary the user
// reads plus the actions they can press.
type Payload struct {
	Token    string   // correlation token, round-trips through button presses
	Sender   string   // message sender, as displayed
	Subject  string   // message subject
	Snippet  string   // short body preview
	Category string   // classification label
	Actions  []string // ordered action names to render as buttons
}

// MessageRef identifies a delivered notification on the platform so it can
// be updated later.
type MessageRef struct {
	ChannelID string // platform channel the notification landed in
	Ref       string // platform message identifier (Slack ts, Discord message ID)
}

// Event is an inbound occurrence from the platform: either a button press
// (Token and Action set) or a plain text command (Text set).
type Event struct {
	Platform  string    // e.g. "slack", "discord"
	Token     string    // notification token, empty for commands
	Action    string    // pressed action name, empty for commands
	Text      string    // command text, empty for button presses
	UserID    string    // platform-specific user identifier
	Timestamp time.Time // when the event occurred
}

// IsCommand reports whether the event is a plain text command rather than a
// button press.
func (e Event) IsCommand() bool {
	return e.Action == "" && e.Text != ""
}

// Package classify assigns categories to mailbox messages and generates
// reply drafts. Backends: a local Ollama model and a deterministic keyword
// classifier (also the fallback when the model output is unusable).
package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
)

// ErrUnavailable marks a transient classifier failure. The polling loop
// skips the message; it is retried next cycle because its watermark position
// does not advance.
var ErrUnavailable = errors.New("classify: backend unavailable")

// MeetingParams is scheduling information extracted from a meeting request.
type MeetingParams struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	Attendee        string `json:"attendee"`
}

// Result is the classifier output for one message.
type Result struct {
	Category      string
	MeetingIntent bool
	Meeting       *MeetingParams
}

// Classifier is the model boundary consumed by the dispatcher and resolver.
type Classifier interface {
	// Classify assigns a category and detects scheduling intent.
	Classify(ctx context.Context, msg mailbox.RawMessage) (Result, error)

	// Draft generates a reply draft for a previously classified message.
	Draft(ctx context.Context, msg *models.Message) (string, error)
}

// meetingKeywords flag scheduling intent in subject or body.
var meetingKeywords = []string{
	"meeting", "call", "conference", "zoom", "teams", "webinar",
	"appointment", "schedule", "calendar", "invite", "invitation",
}

// MeetingIntent reports whether the text looks like a meeting request.
func MeetingIntent(subject, body string) bool {
	text := strings.ToLower(subject + " " + body)
	for _, kw := range meetingKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// senderAddress extracts the bare address from "Name <addr>" senders.
func senderAddress(sender string) string {
	if i := strings.Index(sender, "<"); i >= 0 {
		if j := strings.Index(sender[i:], ">"); j > 0 {
			return sender[i+1 : i+j]
		}
	}
	return strings.TrimSpace(sender)
}

// FallbackMeetingParams builds params from just the subject and sender, used
// when no extraction is stored for a message.
func FallbackMeetingParams(subject, sender string) MeetingParams {
	return MeetingParams{
		Title:           "Meeting: " + subject,
		DurationMinutes: 60,
		Attendee:        senderAddress(sender),
	}
}

// defaultMeetingParams builds params when the model extracts nothing usable.
func defaultMeetingParams(msg mailbox.RawMessage) *MeetingParams {
	p := FallbackMeetingParams(msg.Subject, msg.Sender)
	return &p
}

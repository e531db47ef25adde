// Package mailbox defines the mail-provider boundary: fetching unseen
// messages, sending replies, and labeling. Implementations live in the
// gmail and imap subpackages.
package mailbox

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transient provider failure. The polling loop skips
// the cycle and retries on the next interval.
var ErrUnavailable = errors.New("mailbox: provider unavailable")

// ErrUnsupported marks an operation the configured provider cannot perform.
var ErrUnsupported = errors.New("mailbox: operation not supported by provider")

// RawMessage is an unclassified message as fetched from the provider.
type RawMessage struct {
	ID         string // provider-assigned, unique
	ThreadID   string
	Sender     string
	Subject    string
	Snippet    string
	Body       string
	ReceivedAt time.Time
}

// Store is the narrow mail-provider contract consumed by the core. All
// methods may block on the network for seconds; callers pass a context and
// must not hold locks across calls.
type Store interface {
	// FetchNew returns inbox messages received after since, capped at limit,
	// oldest first. Ordering is best-effort; the seen tracker is the
	// authority on novelty.
	FetchNew(ctx context.Context, since time.Time, limit int) ([]RawMessage, error)

	// SendReply sends body as a reply to the message with the given ID.
	SendReply(ctx context.Context, id, body string) error

	// ApplyLabel attaches a label (or flag) to the message.
	ApplyLabel(ctx context.Context, id, label string) error

	// Archive removes the message from the inbox without deleting it.
	Archive(ctx context.Context, id string) error
}

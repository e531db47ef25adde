package models

import "time"

// Notification statuses. pending accepts actions; resolved and expired are
// terminal. expired is reached only by the retention sweep.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusExpired  = "expired"
)

// Notification tracks one dispatched, actionable chat notification. Created
// by the dispatcher, mutated only by the action resolver. This is the one
// table that must survive a restart: the human may act on a notification
// shown before the crash.
type Notification struct {
	Token        string  `gorm:"primaryKey;size:36"`
	MessageID    string  `gorm:"size:128;index"`
	Status       string  `gorm:"size:16;default:pending;index"`
	LastAction   *string `gorm:"size:16"`
	DraftReply   string  `gorm:"type:text"` // staged reply awaiting Send/Discard
	ChannelID    string  `gorm:"size:64"`
	ChannelRef   string  `gorm:"size:64"` // platform message id/ts for display updates
	DispatchedAt time.Time
	ResolvedAt   *time.Time
	UpdatedAt    time.Time

	Message Message `gorm:"foreignKey:MessageID"`
}

package models

import "time"

// Classifier categories. Every fetched message is assigned exactly one.
const (
	CategoryImportant   = "Important"
	CategoryMeetings    = "Meetings"
	CategoryPersonal    = "Personal"
	CategoryNewsletters = "Newsletters"
	CategoryPromotions  = "Promotions"
)

// Categories is the full category enumeration.
var Categories = []string{
	CategoryImportant,
	CategoryMeetings,
	CategoryPersonal,
	CategoryNewsletters,
	CategoryPromotions,
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Message is one classified mailbox message. Created when the classifier
// returns, immutable afterwards. Persisted so that ViewFull and Reply still
// have the message context after a process restart.
type Message struct {
	ID            string `gorm:"primaryKey;size:128"`
	Sender        string `gorm:"size:256"`
	Subject       string `gorm:"size:512"`
	Snippet       string `gorm:"size:512"`
	Body          string `gorm:"type:text"`
	Category      string `gorm:"size:16;index"`
	Actionable    bool   `gorm:"default:false"`
	MeetingIntent bool   `gorm:"default:false"`
	MeetingParams string `gorm:"type:text"` // JSON, empty when nothing extracted
	ReceivedAt    time.Time
	CreatedAt     time.Time
}

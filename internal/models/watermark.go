package models

import "time"

// Watermark is the singleton fetch-progress row. LastSeen only ever moves
// forward; the seen tracker owns all writes.
type Watermark struct {
	ID        uint `gorm:"primaryKey"`
	LastSeen  time.Time
	UpdatedAt time.Time
}

// SeenMessage records a processed provider message ID. Kept alongside the
// timestamp watermark because provider ordering is not trusted: a re-fetched
// message must never be re-notified even if its timestamp sorts oddly.
type SeenMessage struct {
	ID     string    `gorm:"primaryKey;size:128"`
	SeenAt time.Time `gorm:"index"`
}

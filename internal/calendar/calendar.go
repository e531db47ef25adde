// Package calendar defines the event-creation boundary used by the
// Schedule action.
package calendar

import (
	"context"

	"github.com/zulandar/waybill/internal/classify"
)

// Scheduler creates calendar events from extracted meeting parameters.
type Scheduler interface {
	// CreateEvent books the meeting and returns the provider event ID.
	CreateEvent(ctx context.Context, params classify.MeetingParams) (string, error)
}

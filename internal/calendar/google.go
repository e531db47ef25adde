package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/zulandar/waybill/internal/classify"
)

// Google implements Scheduler against the Google Calendar API, writing to
// the account's primary calendar.
type Google struct {
	svc *calendarapi.Service
	now func() time.Time
}

// NewGoogle builds a Google calendar Scheduler from the same client-secret
// and token files the Gmail store uses.
func NewGoogle(ctx context.Context, credentialsFile, tokenFile string) (*Google, error) {
	credData, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("calendar: read credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(credData, calendarapi.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse credentials: %w", err)
	}

	tokData, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("calendar: read token (run `wb auth` first): %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokData, &tok); err != nil {
		return nil, fmt.Errorf("calendar: parse token: %w", err)
	}

	svc, err := calendarapi.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &Google{svc: svc, now: time.Now}, nil
}

// CreateEvent books the meeting at the next top of the hour and returns the
// created event's ID.
func (g *Google) CreateEvent(ctx context.Context, params classify.MeetingParams) (string, error) {
	ev := buildEvent(params, g.now())
	created, err := g.svc.Events.Insert("primary", ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return created.Id, nil
}

// buildEvent maps meeting parameters onto a calendar event. Extracted params
// carry no start time, so the event lands at the next whole hour.
func buildEvent(params classify.MeetingParams, now time.Time) *calendarapi.Event {
	start := now.Truncate(time.Hour).Add(time.Hour)
	dur := time.Duration(params.DurationMinutes) * time.Minute
	if dur <= 0 {
		dur = time.Hour
	}

	ev := &calendarapi.Event{
		Summary: params.Title,
		Start:   &calendarapi.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &calendarapi.EventDateTime{DateTime: start.Add(dur).Format(time.RFC3339)},
	}
	if params.Attendee != "" {
		ev.Attendees = []*calendarapi.EventAttendee{{Email: params.Attendee}}
	}
	return ev
}

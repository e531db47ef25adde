package calendar

import (
	"testing"
	"time"

	"github.com/zulandar/waybill/internal/classify"
)

func TestBuildEventNextHour(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 23, 11, 0, time.UTC)
	ev := buildEvent(classify.MeetingParams{
		Title:           "Meeting: Q2 planning",
		DurationMinutes: 30,
		Attendee:        "alice@example.com",
	}, now)

	if ev.Summary != "Meeting: Q2 planning" {
		t.Errorf("Summary = %q", ev.Summary)
	}
	wantStart := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if ev.Start.DateTime != wantStart {
		t.Errorf("Start = %q, want %q", ev.Start.DateTime, wantStart)
	}
	wantEnd := time.Date(2026, 3, 14, 11, 30, 0, 0, time.UTC).Format(time.RFC3339)
	if ev.End.DateTime != wantEnd {
		t.Errorf("End = %q, want %q", ev.End.DateTime, wantEnd)
	}
	if len(ev.Attendees) != 1 || ev.Attendees[0].Email != "alice@example.com" {
		t.Errorf("Attendees = %+v", ev.Attendees)
	}
}

func TestBuildEventDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ev := buildEvent(classify.MeetingParams{Title: "Meeting: sync"}, now)

	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	if got := end.Sub(start); got != time.Hour {
		t.Errorf("zero duration should default to an hour, got %v", got)
	}
	if len(ev.Attendees) != 0 {
		t.Errorf("expected no attendees, got %+v", ev.Attendees)
	}
}

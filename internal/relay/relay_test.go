package relay

import (
	"errors"
	"testing"
)

func TestEventIsCommand(t *testing.T) {
	tests := []struct {
		name string
		e    Event
		want bool
	}{
		{"command", Event{Text: "status"}, true},
		{"button press", Event{Token: "tok", Action: ActionIgnore}, false},
		{"empty", Event{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.e.IsCommand(); got != tc.want {
				t.Errorf("IsCommand() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMockAdapterLifecycle(t *testing.T) {
	ctx := t.Context()
	m := NewMockAdapter()

	if _, err := m.Listen(ctx); err == nil {
		t.Error("Listen before Connect should fail")
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ref, err := m.Deliver(ctx, Payload{Token: "tok-1", Subject: "hello"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ref.Ref == "" {
		t.Error("Deliver returned empty ref")
	}
	if got := m.DeliveredCount(); got != 1 {
		t.Errorf("DeliveredCount = %d, want 1", got)
	}

	if err := m.Update(ctx, ref, "done", true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ups := m.Updates()
	if len(ups) != 1 || !ups[0].ClearActions || ups[0].Ref != ref {
		t.Errorf("Updates = %+v", ups)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Connect(ctx); err == nil {
		t.Error("Connect after Close should fail")
	}
}

func TestMockAdapterSimulateEvent(t *testing.T) {
	ctx := t.Context()
	m := NewMockAdapter()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ch, err := m.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	m.SimulateEvent(Event{Token: "tok-9", Action: ActionMarkDone, UserID: "U1"})
	e := <-ch
	if e.Token != "tok-9" || e.Action != ActionMarkDone {
		t.Errorf("event = %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("SimulateEvent should stamp the event")
	}
}

func TestMockAdapterDeliverFailure(t *testing.T) {
	ctx := t.Context()
	m := NewMockAdapter()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	boom := errors.New("boom")
	m.FailDeliveries(boom)
	if _, err := m.Deliver(ctx, Payload{Token: "t"}); !errors.Is(err, boom) {
		t.Errorf("Deliver err = %v, want boom", err)
	}
	if got := m.DeliveredCount(); got != 0 {
		t.Errorf("failed delivery recorded, count = %d", got)
	}
}

package resolve

import (
	"io"
	"testing"
	"time"

	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/relay"
)

func TestNewSweeperValidation(t *testing.T) {
	db := testDB(t)
	if _, err := NewSweeper(SweeperOpts{Retention: time.Hour, Cron: "0 * * * *"}); err == nil {
		t.Error("expected error for missing DB")
	}
	if _, err := NewSweeper(SweeperOpts{DB: db, Cron: "0 * * * *"}); err == nil {
		t.Error("expected error for zero retention")
	}
	if _, err := NewSweeper(SweeperOpts{DB: db, Retention: time.Hour, Cron: "not a cron"}); err == nil {
		t.Error("expected error for bad cron expression")
	}
	if _, err := NewSweeper(SweeperOpts{DB: db, Retention: time.Hour, Cron: "0 * * * *", Out: io.Discard}); err != nil {
		t.Errorf("valid opts rejected: %v", err)
	}
}

func TestSweepExpiresStalePending(t *testing.T) {
	f := newFixture(t)
	adapter := relay.NewMockAdapter()
	if err := adapter.Connect(t.Context()); err != nil {
		t.Fatalf("connect mock: %v", err)
	}
	sw, err := NewSweeper(SweeperOpts{
		DB:        f.db,
		Adapter:   adapter,
		Retention: 24 * time.Hour,
		Cron:      "0 * * * *",
		Out:       io.Discard,
	})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}

	stale := f.seed(t, "tok-old", models.StatusPending)
	f.db.Model(stale).Update("dispatched_at", time.Now().Add(-48*time.Hour))
	f.seed(t, "tok-fresh", models.StatusPending)
	resolved := f.seed(t, "tok-done", models.StatusResolved)
	f.db.Model(resolved).Update("dispatched_at", time.Now().Add(-48*time.Hour))

	n, err := sw.Sweep(t.Context())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d, want 1", n)
	}

	if rec := f.load(t, "tok-old"); rec.Status != models.StatusExpired {
		t.Errorf("stale record status = %s, want expired", rec.Status)
	}
	if rec := f.load(t, "tok-fresh"); rec.Status != models.StatusPending {
		t.Errorf("fresh record status = %s, want pending", rec.Status)
	}
	if rec := f.load(t, "tok-done"); rec.Status != models.StatusResolved {
		t.Errorf("resolved record status = %s, want resolved", rec.Status)
	}

	ups := adapter.Updates()
	if len(ups) != 1 {
		t.Fatalf("channel updates = %d, want 1", len(ups))
	}
	if !ups[0].ClearActions || ups[0].Ref.Ref != "ref-tok-old" {
		t.Errorf("update = %+v", ups[0])
	}

	// Expired records reject further actions.
	if _, err := f.resolver.Resolve(t.Context(), "tok-old", relay.ActionIgnore); err == nil {
		t.Error("action on expired record should fail")
	}

	// A second sweep has nothing left to do.
	n, err = sw.Sweep(t.Context())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep expired %d, want 0", n)
	}
	if len(adapter.Updates()) != 1 {
		t.Error("display updated more than once per record")
	}
}

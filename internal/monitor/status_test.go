package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/waybill/internal/models"
)

func TestBuildStatusEmptyDB(t *testing.T) {
	db := testDB(t)
	info, err := BuildStatus(db)
	if err != nil {
		t.Fatalf("BuildStatus: %v", err)
	}
	if info.WatermarkAge != "never" {
		t.Errorf("WatermarkAge = %q, want never", info.WatermarkAge)
	}
	if info.Pending != 0 || info.Resolved != 0 || info.Expired != 0 {
		t.Errorf("counts = %+v", info)
	}
}

func TestBuildStatusCounts(t *testing.T) {
	db := testDB(t)
	if err := db.Create(&models.Watermark{LastSeen: time.Now().Add(-90 * time.Second)}).Error; err != nil {
		t.Fatalf("seed watermark: %v", err)
	}
	statuses := []string{
		models.StatusPending, models.StatusPending,
		models.StatusResolved, models.StatusExpired,
	}
	for i, status := range statuses {
		rec := models.Notification{
			Token:        "tok-" + string(rune('a'+i)),
			MessageID:    "m",
			Status:       status,
			DispatchedAt: time.Now(),
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	info, err := BuildStatus(db)
	if err != nil {
		t.Fatalf("BuildStatus: %v", err)
	}
	if info.Pending != 2 || info.Resolved != 1 || info.Expired != 1 {
		t.Errorf("counts = %+v", info)
	}
	if info.WatermarkAge == "never" || info.WatermarkAt.IsZero() {
		t.Errorf("watermark fields = %+v", info)
	}
}

func TestStatusSummary(t *testing.T) {
	info := &StatusInfo{WatermarkAge: "30s", Pending: 2, Resolved: 5, Expired: 1}
	s := info.Summary()
	for _, want := range []string{"30s", "pending 2", "resolved 5", "expired 1"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary %q missing %q", s, want)
		}
	}
	if strings.Contains(s, "cycles") {
		t.Error("summary should omit scheduler counters when absent")
	}

	info.Scheduler = &Stats{Cycles: 9, FetchFailures: 3}
	s = info.Summary()
	if !strings.Contains(s, "cycles 9") || !strings.Contains(s, "fetch failures 3") {
		t.Errorf("summary with scheduler = %q", s)
	}
}

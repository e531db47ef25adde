package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/waybill/internal/models"
)

// statusDoc is the shape the daemon's injected status closure returns.
type statusDoc struct {
	Pending int64 `json:"pending"`
	Cycles  int64 `json:"cycles"`
}

func testServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Message{}, &models.Notification{}, &models.Watermark{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	statusFn := func() (interface{}, error) {
		var pending int64
		err := db.Model(&models.Notification{}).
			Where("status = ?", models.StatusPending).Count(&pending).Error
		if err != nil {
			return nil, err
		}
		return statusDoc{Pending: pending, Cycles: 7}, nil
	}
	return New(Opts{DB: db, Status: statusFn}), db
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	w := get(t, s, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, db := testServer(t)
	for i, status := range []string{models.StatusPending, models.StatusPending, models.StatusResolved} {
		rec := models.Notification{
			Token:        "tok-" + string(rune('a'+i)),
			MessageID:    "m",
			Status:       status,
			DispatchedAt: time.Now(),
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	w := get(t, s, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var doc statusDoc
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Pending != 2 || doc.Cycles != 7 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestStatusEndpointErrors(t *testing.T) {
	s := New(Opts{Status: func() (interface{}, error) {
		return nil, errors.New("watermark unreadable")
	}})
	if w := get(t, s, "/api/status"); w.Code != http.StatusInternalServerError {
		t.Errorf("failing source status = %d, want 500", w.Code)
	}

	s = New(Opts{})
	if w := get(t, s, "/api/status"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("missing source status = %d, want 503", w.Code)
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	s, db := testServer(t)
	msg := models.Message{ID: "m-1", Subject: "hi", Category: models.CategoryImportant, ReceivedAt: time.Now()}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := models.Notification{
			Token:        "tok-" + string(rune('a'+i)),
			MessageID:    msg.ID,
			Status:       models.StatusPending,
			DispatchedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	w := get(t, s, "/api/notifications?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}

	if w := get(t, s, "/api/notifications?limit=0"); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", w.Code)
	}
	if w := get(t, s, "/api/notifications?limit=bogus"); w.Code != http.StatusBadRequest {
		t.Errorf("limit=bogus status = %d, want 400", w.Code)
	}
}

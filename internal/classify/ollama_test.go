package classify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
)

// fakeOllama serves canned generate responses keyed by prompt substring.
func fakeOllama(t *testing.T, respond func(prompt string) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, status := respond(req.Prompt)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(generateResponse{Response: body})
	}))
}

func TestOllama_Classify(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		return "Newsletters", http.StatusOK
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	res, err := o.Classify(t.Context(), mailbox.RawMessage{Subject: "Tech digest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != models.CategoryNewsletters {
		t.Errorf("category = %q, want Newsletters", res.Category)
	}
}

func TestOllama_Classify_ProseAnswer(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		return "I would say this email is Personal in nature.", http.StatusOK
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	res, err := o.Classify(t.Context(), mailbox.RawMessage{Subject: "hey"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != models.CategoryPersonal {
		t.Errorf("category = %q, want Personal", res.Category)
	}
}

func TestOllama_Classify_FallsBackOnGarbage(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		return "beep boop", http.StatusOK
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	res, err := o.Classify(t.Context(), mailbox.RawMessage{Subject: "50% off sale"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != models.CategoryPromotions {
		t.Errorf("category = %q, want keyword fallback Promotions", res.Category)
	}
}

func TestOllama_Classify_ServerDown(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) { return "", http.StatusOK })
	srv.Close() // connection refused from here on

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	_, err := o.Classify(t.Context(), mailbox.RawMessage{Subject: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestOllama_Classify_ServerError(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		return "", http.StatusInternalServerError
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	_, err := o.Classify(t.Context(), mailbox.RawMessage{Subject: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestOllama_MeetingExtraction(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		if strings.Contains(prompt, "Extract meeting details") {
			return `Here you go: {"title": "Kickoff", "duration_minutes": 45, "attendee": "carol@example.com"}`, http.StatusOK
		}
		return "Meetings", http.StatusOK
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	res, err := o.Classify(t.Context(), mailbox.RawMessage{
		Sender:  "Carol <carol@example.com>",
		Subject: "Kickoff meeting",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Meeting == nil {
		t.Fatal("expected meeting params")
	}
	if res.Meeting.Title != "Kickoff" || res.Meeting.DurationMinutes != 45 {
		t.Errorf("meeting = %+v", res.Meeting)
	}
}

func TestOllama_MeetingExtraction_BadJSON(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		if strings.Contains(prompt, "Extract meeting details") {
			return "sorry, no JSON today", http.StatusOK
		}
		return "Meetings", http.StatusOK
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	res, err := o.Classify(t.Context(), mailbox.RawMessage{
		Sender:  "Carol <carol@example.com>",
		Subject: "Kickoff meeting",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Meeting == nil {
		t.Fatal("expected fallback meeting params")
	}
	if res.Meeting.DurationMinutes != 60 || res.Meeting.Attendee != "carol@example.com" {
		t.Errorf("fallback meeting = %+v", res.Meeting)
	}
}

func TestOllama_Draft(t *testing.T) {
	srv := fakeOllama(t, func(prompt string) (string, int) {
		return "  Thanks, see you then.\n", http.StatusOK
	})
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2", time.Second)
	draft, err := o.Draft(t.Context(), &models.Message{Subject: "Lunch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if draft != "Thanks, see you then." {
		t.Errorf("draft = %q, want trimmed response", draft)
	}
}

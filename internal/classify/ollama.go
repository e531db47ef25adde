package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
)

// Ollama classifies messages and drafts replies with a local Ollama model
// over its HTTP generate API. Unreadable category output falls back to the
// keyword rules rather than failing the message.
type Ollama struct {
	baseURL  string
	model    string
	client   *http.Client
	fallback Keyword
}

// NewOllama creates an Ollama classifier. baseURL is the server root
// (default http://localhost:11434).
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// generate runs one completion. Transport and server errors map to
// ErrUnavailable so the caller treats them as a per-message skip.
func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("classify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("classify: ollama request: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("classify: ollama status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), ErrUnavailable)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("classify: decode response: %w: %w", ErrUnavailable, err)
	}
	return gr.Response, nil
}

// Classify asks the model for exactly one category and scans its answer for
// a known category name.
func (o *Ollama) Classify(ctx context.Context, msg mailbox.RawMessage) (Result, error) {
	prompt := fmt.Sprintf(`Categorize this email into exactly one category: %s.

- Important: urgent business matters, security alerts, deadlines, work tasks
- Newsletters: weekly/monthly updates, tech news, subscriptions, digests
- Promotions: sales offers, discounts, marketing, advertisements
- Meetings: meeting requests, calendar invites, scheduling discussions
- Personal: personal communications, family, friends

From: %s
Subject: %s
Body: %s

Answer with only the category name.`,
		strings.Join(models.Categories, ", "), msg.Sender, msg.Subject, excerpt(msg.Body, 1000))

	answer, err := o.generate(ctx, prompt)
	if err != nil {
		return Result{}, err
	}

	category, ok := readCategory(answer)
	if !ok {
		// Model answered something unusable; rules are better than guessing.
		return o.fallback.Classify(ctx, msg)
	}

	res := Result{
		Category:      category,
		MeetingIntent: MeetingIntent(msg.Subject, msg.Body),
	}
	if res.MeetingIntent {
		res.Meeting = o.extractMeeting(ctx, msg)
	}
	return res, nil
}

// Draft generates a reply draft for the message.
func (o *Ollama) Draft(ctx context.Context, msg *models.Message) (string, error) {
	prompt := fmt.Sprintf(`Write a brief, professional reply to this email. Output only the reply body, no subject line.

From: %s
Subject: %s
Body: %s`,
		msg.Sender, msg.Subject, excerpt(msg.Body, 2000))

	draft, err := o.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(draft), nil
}

// extractMeeting asks the model for structured meeting parameters. Any
// failure falls back to defaults; scheduling intent was already decided.
func (o *Ollama) extractMeeting(ctx context.Context, msg mailbox.RawMessage) *MeetingParams {
	prompt := fmt.Sprintf(`Extract meeting details from this email as JSON with keys "title", "duration_minutes", "attendee". Output only JSON.

From: %s
Subject: %s
Body: %s`,
		msg.Sender, msg.Subject, excerpt(msg.Body, 1000))

	answer, err := o.generate(ctx, prompt)
	if err != nil {
		return defaultMeetingParams(msg)
	}

	var params MeetingParams
	if err := json.Unmarshal([]byte(jsonBlock(answer)), &params); err != nil {
		return defaultMeetingParams(msg)
	}
	if params.Title == "" {
		params.Title = "Meeting: " + msg.Subject
	}
	if params.DurationMinutes <= 0 {
		params.DurationMinutes = 60
	}
	if params.Attendee == "" {
		params.Attendee = senderAddress(msg.Sender)
	}
	return &params
}

// readCategory scans model output for a known category name.
func readCategory(answer string) (string, bool) {
	lower := strings.ToLower(answer)
	for _, c := range models.Categories {
		if strings.Contains(lower, strings.ToLower(c)) {
			return c, true
		}
	}
	return "", false
}

// jsonBlock strips prose around the first {...} block in model output.
func jsonBlock(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// excerpt truncates text for prompt inclusion.
func excerpt(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/zulandar/waybill/internal/relay"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	posted    []postedMessage
	postErr   error
	updated   []updatedMessage
	updateErr error
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

type updatedMessage struct {
	channelID string
	timestamp string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return "", "", "", m.updateErr
	}
	m.updated = append(m.updated, updatedMessage{channelID: channelID, timestamp: timestamp, options: options})
	return channelID, timestamp, "", nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func (m *mockSlackClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

func (m *mockSlackClient) updatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updated)
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events  chan socketmode.Event
	acked   []socketmode.Request
	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{
		events: make(chan socketmode.Event, 100),
		done:   make(chan struct{}),
	}
}

func (m *mockSocketClient) Run() error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	// Block until done is closed (don't consume from events).
	<-m.done
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()

	a, err := New(AdapterOpts{
		Client:    client,
		Socket:    socket,
		ChannelID: "C_NOTIFY",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client, socket
}

func waitEvent(t *testing.T, ch <-chan relay.Event) relay.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return relay.Event{}
	}
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{AppToken: "xapp-test", ChannelID: "C1"})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_RequiresAppToken(t *testing.T) {
	_, err := New(AdapterOpts{BotToken: "xoxb-test", ChannelID: "C1"})
	if err == nil {
		t.Fatal("expected error for missing app token")
	}
}

func TestNew_RequiresChannel(t *testing.T) {
	_, err := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient()})
	if err == nil {
		t.Fatal("expected error for missing channel")
	}
}

// --- Connect tests ---

func TestConnect_Success(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if a.BotUserID() != "U_BOT_123" {
		t.Errorf("bot user ID = %q, want U_BOT_123", a.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid token")
	socket := newMockSocketClient()

	a, _ := New(AdapterOpts{Client: client, Socket: socket, ChannelID: "C1"})
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !strings.Contains(err.Error(), "auth test") {
		t.Errorf("error = %q, want auth test error", err.Error())
	}
}

// --- Deliver / Update / Post tests ---

func TestDeliver_PostsToChannel(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	ref, err := a.Deliver(context.Background(), relay.Payload{
		Token:    "tok-1",
		Sender:   "Alice <alice@example.com>",
		Subject:  "Quarterly numbers",
		Snippet:  "The numbers are in",
		Category: "Important",
		Actions:  []string{relay.ActionReply, relay.ActionIgnore},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if ref.ChannelID != "C_NOTIFY" || ref.Ref != "1234567890.123456" {
		t.Errorf("ref = %+v", ref)
	}
	if client.postedCount() != 1 {
		t.Fatalf("posted = %d, want 1", client.postedCount())
	}
	if client.lastPosted().channelID != "C_NOTIFY" {
		t.Errorf("channel = %q", client.lastPosted().channelID)
	}
}

func TestDeliver_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient(), ChannelID: "C1"})
	if _, err := a.Deliver(context.Background(), relay.Payload{Token: "t"}); err == nil {
		t.Fatal("expected not-connected error")
	}
}

func TestUpdate_CallsUpdateMessage(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	ref := relay.MessageRef{ChannelID: "C_NOTIFY", Ref: "1234567890.123456"}
	if err := a.Update(context.Background(), ref, "Resolved.", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if client.updatedCount() != 1 {
		t.Fatalf("updated = %d, want 1", client.updatedCount())
	}
	got := client.updated[0]
	if got.channelID != "C_NOTIFY" || got.timestamp != "1234567890.123456" {
		t.Errorf("update target = %+v", got)
	}
}

func TestPost_PlainText(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	if err := a.Post(context.Background(), "Waybill online"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if client.postedCount() != 1 {
		t.Errorf("posted = %d, want 1", client.postedCount())
	}
}

// --- Event pump tests ---

func TestListen_BlockActionBecomesActionEvent(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	callback := slackapi.InteractionCallback{
		Type: slackapi.InteractionTypeBlockActions,
		User: slackapi.User{ID: "U_HUMAN"},
	}
	callback.ActionCallback.BlockActions = []*slackapi.BlockAction{
		{ActionID: relay.ActionMarkDone, Value: "tok-42"},
	}
	socket.events <- socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    callback,
		Request: &socketmode.Request{},
	}

	e := waitEvent(t, ch)
	if e.Token != "tok-42" || e.Action != relay.ActionMarkDone || e.UserID != "U_HUMAN" {
		t.Errorf("event = %+v", e)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}
}

func TestListen_MessageBecomesCommandEvent(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					Channel:   "C_NOTIFY",
					User:      "U_HUMAN",
					Text:      "status",
					TimeStamp: "1234567890.000100",
				},
			},
		},
		Request: &socketmode.Request{},
	}

	e := waitEvent(t, ch)
	if !e.IsCommand() || e.Text != "status" {
		t.Errorf("event = %+v", e)
	}
}

func TestListen_FiltersSelfAndForeignChannels(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	msgs := []*slackevents.MessageEvent{
		{Channel: "C_NOTIFY", User: "U_BOT_123", Text: "self"},
		{Channel: "C_NOTIFY", User: "U_H", BotID: "B1", Text: "bot"},
		{Channel: "C_NOTIFY", User: "U_H", SubType: "message_changed", Text: "edit"},
		{Channel: "C_OTHER", User: "U_H", Text: "wrong channel"},
		{Channel: "C_NOTIFY", User: "U_H", Text: "status", TimeStamp: "1.0"},
	}
	for _, m := range msgs {
		socket.events <- socketmode.Event{
			Type: socketmode.EventTypeEventsAPI,
			Data: slackevents.EventsAPIEvent{
				Type:       slackevents.CallbackEvent,
				InnerEvent: slackevents.EventsAPIInnerEvent{Data: m},
			},
			Request: &socketmode.Request{},
		}
	}

	e := waitEvent(t, ch)
	if e.Text != "status" {
		t.Errorf("first delivered event = %+v, filters leaked", e)
	}
}

// --- Close tests ---

func TestClose_EndsEventStream(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					Channel: "C_NOTIFY", User: "U_H", Text: "status", TimeStamp: "1.0",
				},
			},
		},
		Request: &socketmode.Request{},
	}
	waitEvent(t, ch)

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected event after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after Close")
	}
}

func TestClose_DropsInFlightSends(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A handler still running when Close lands must not panic or block.
	a.handleMessage(&slackevents.MessageEvent{
		Channel: "C_NOTIFY", User: "U_H", Text: "status", TimeStamp: "1.0",
	})
	select {
	case e := <-a.inbound:
		t.Errorf("event delivered after close: %+v", e)
	default:
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("connect after close should fail")
	}
}

// --- Rendering tests ---

func TestPayloadBlocks(t *testing.T) {
	blocks := payloadBlocks(relay.Payload{
		Token:    "tok-9",
		Sender:   "Bob",
		Subject:  "Hello <world>",
		Snippet:  "snippet",
		Category: "Personal",
		Actions:  []string{relay.ActionReply, relay.ActionIgnore},
	})
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want section + actions", len(blocks))
	}
	actions, ok := blocks[1].(*slackapi.ActionBlock)
	if !ok {
		t.Fatalf("second block is %T, want ActionBlock", blocks[1])
	}
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("buttons = %d, want 2", len(actions.Elements.ElementSet))
	}
	btn, ok := actions.Elements.ElementSet[0].(*slackapi.ButtonBlockElement)
	if !ok {
		t.Fatalf("element is %T, want ButtonBlockElement", actions.Elements.ElementSet[0])
	}
	if btn.ActionID != relay.ActionReply || btn.Value != "tok-9" {
		t.Errorf("button = %+v", btn)
	}
}

func TestEscapeText(t *testing.T) {
	if got := escapeText("a <b> & c"); got != "a &lt;b&gt; &amp; c" {
		t.Errorf("escapeText = %q", got)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1700000000.123456")
	if ts.Unix() != 1700000000 {
		t.Errorf("parsed = %v", ts)
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("garbage timestamp should parse to zero time")
	}
}

func TestButtonLabel(t *testing.T) {
	if got := buttonLabel(relay.ActionViewFull); got != "View Full" {
		t.Errorf("label = %q", got)
	}
	if got := buttonLabel("custom"); got != "custom" {
		t.Errorf("unknown action label = %q", got)
	}
}

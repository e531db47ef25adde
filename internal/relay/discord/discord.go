// Package discord implements the relay Adapter for Discord using the
// Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/waybill/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(m, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements relay.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess           session
	botToken       string
	channelID      string
	botUserID      string
	mu             sync.Mutex
	connected      bool
	closed         bool
	inbound        chan relay.Event
	done           chan struct{}
	removeHandlers []func()
	baseBackoff    time.Duration
	maxBackoff     time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // channel notifications are posted to
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		channelID:   opts.ChannelID,
		inbound:     make(chan relay.Event, 100),
		done:        make(chan struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Register Ready handler to capture bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo reconnects the gateway on its own; log for observability.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events from Discord. Registers message
// and interaction handlers on the Gateway session. Must be called after
// Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.Event, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	removeMsg := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	removeInteraction := a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(i)
	})
	a.mu.Lock()
	a.removeHandlers = append(a.removeHandlers, removeMsg, removeInteraction)
	a.mu.Unlock()

	return a.inbound, nil
}

// Deliver posts an interactive notification with button components and
// returns the message ID as the reference.
func (a *Adapter) Deliver(ctx context.Context, p relay.Payload) (relay.MessageRef, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return relay.MessageRef{}, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	data := &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{payloadEmbed(p)},
		Components: payloadComponents(p),
	}

	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		msg, sendErr = a.sess.ChannelMessageSendComplex(a.channelID, data)
		return sendErr
	})
	if err != nil {
		return relay.MessageRef{}, fmt.Errorf("discord: deliver %s: %w", p.Token, err)
	}
	return relay.MessageRef{ChannelID: a.channelID, Ref: msg.ID}, nil
}

// Update rewrites a delivered notification in place.
func (a *Adapter) Update(ctx context.Context, ref relay.MessageRef, text string, clearActions bool) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	channelID := ref.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}

	edit := &discordgo.MessageEdit{
		Channel: channelID,
		ID:      ref.Ref,
		Content: &text,
	}
	if clearActions {
		empty := []discordgo.MessageComponent{}
		edit.Components = &empty
		noEmbeds := []*discordgo.MessageEmbed{}
		edit.Embeds = &noEmbeds
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: update %s: %w", ref.Ref, err)
	}
	return nil
}

// Post sends a plain text message to the notification channel.
func (a *Adapter) Post(ctx context.Context, text string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSend(a.channelID, text)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: post message: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	// Handler removal does not wait for in-flight handlers, so the inbound
	// channel is never closed; emit drops events once done is closed and
	// the daemon leaves its read loop via its own context.
	close(a.done)
	for _, remove := range a.removeHandlers {
		remove()
	}
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// emit forwards the event unless the adapter has been closed. Gateway
// handlers run on discordgo goroutines that may still be in flight during
// Close, so they must never send unguarded.
func (a *Adapter) emit(e relay.Event) {
	select {
	case <-a.done:
	case a.inbound <- e:
	}
}

// handleMessage converts a Discord message to a command event.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}
	// Only the configured channel talks to the daemon.
	if m.ChannelID != a.channelID {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	a.emit(relay.Event{
		Platform:  "discord",
		Text:      m.Content,
		UserID:    m.Author.ID,
		Timestamp: ts,
	})
}

// handleInteraction converts a button press to an action event. The custom
// ID carries "action:token"; the press is acknowledged with a deferred
// update so Discord does not show a failure.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	action, token, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("discord: ack interaction: %v", err)
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}

	a.emit(relay.Event{
		Platform:  "discord",
		Token:     token,
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
	})
}

// payloadEmbed renders the notification summary as an embed.
func payloadEmbed(p relay.Payload) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       p.Subject,
		Description: p.Snippet,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "From", Value: p.Sender, Inline: true},
			{Name: "Category", Value: p.Category, Inline: true},
		},
	}
}

// payloadComponents renders the action set as one row of buttons. Discord
// allows at most five buttons per row, which matches the largest action set.
func payloadComponents(p relay.Payload) []discordgo.MessageComponent {
	var buttons []discordgo.MessageComponent
	for _, action := range p.Actions {
		buttons = append(buttons, discordgo.Button{
			Label:    buttonLabel(action),
			Style:    buttonStyle(action),
			CustomID: action + ":" + p.Token,
		})
	}
	if len(buttons) == 0 {
		return nil
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// parseCustomID splits "action:token" custom IDs.
func parseCustomID(id string) (action, token string, ok bool) {
	action, token, found := strings.Cut(id, ":")
	if !found || action == "" || token == "" {
		return "", "", false
	}
	return action, token, true
}

// buttonLabel maps action names to display labels.
func buttonLabel(action string) string {
	switch action {
	case relay.ActionReply:
		return "Reply"
	case relay.ActionSend:
		return "Send"
	case relay.ActionDiscard:
		return "Discard"
	case relay.ActionSchedule:
		return "Schedule"
	case relay.ActionViewFull:
		return "View Full"
	case relay.ActionMarkDone:
		return "Mark Done"
	case relay.ActionIgnore:
		return "Ignore"
	default:
		return action
	}
}

// buttonStyle picks colors: resolving actions primary, Ignore/Discard muted.
func buttonStyle(action string) discordgo.ButtonStyle {
	switch action {
	case relay.ActionIgnore, relay.ActionDiscard:
		return discordgo.SecondaryButton
	case relay.ActionSend, relay.ActionMarkDone:
		return discordgo.SuccessButton
	default:
		return discordgo.PrimaryButton
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		// Check if it's a rate limit error.
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

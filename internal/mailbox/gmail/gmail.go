// Package gmail implements the mailbox Store against the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/zulandar/waybill/internal/mailbox"
)

const user = "me"

// Store implements mailbox.Store for a Gmail account.
type Store struct {
	svc *gmailapi.Service
}

// New builds a Gmail Store from an OAuth client-secret file and a previously
// obtained token file. Running the browser consent flow is out of scope; the
// token file must already exist (see `wb auth`).
func New(ctx context.Context, credentialsFile, tokenFile string) (*Store, error) {
	credData, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gmail: read credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(credData,
		gmailapi.GmailModifyScope, gmailapi.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: parse credentials: %w", err)
	}

	tokData, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("gmail: read token (run `wb auth` first): %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokData, &tok); err != nil {
		return nil, fmt.Errorf("gmail: parse token: %w", err)
	}

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}
	return &Store{svc: svc}, nil
}

// listPageSize is the ID-only page size used while walking the listing.
const listPageSize = 100

// FetchNew lists inbox messages received after since and returns the OLDEST
// limit of them, oldest first. Gmail lists newest first, so the listing is
// paged to the end before truncating; keeping the oldest end lets the
// watermark move through a backlog in order, with the newer remainder
// fetched on later cycles.
func (s *Store) FetchNew(ctx context.Context, since time.Time, limit int) ([]mailbox.RawMessage, error) {
	q := fmt.Sprintf("in:inbox after:%d", since.Unix())

	var ids []string
	pageToken := ""
	for {
		call := s.svc.Users.Messages.List(user).Q(q).
			MaxResults(listPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("gmail: list messages: %w: %w", mailbox.ErrUnavailable, err)
		}
		for _, m := range list.Messages {
			ids = append(ids, m.Id)
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	// Newest first; keep the oldest limit and flip to oldest first.
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	msgs := make([]mailbox.RawMessage, 0, len(ids))
	for _, id := range ids {
		full, err := s.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("gmail: get message %s: %w: %w", id, mailbox.ErrUnavailable, err)
		}
		msgs = append(msgs, parseMessage(full))
	}
	return msgs, nil
}

// SendReply sends body as an in-thread reply to the message with the given ID.
func (s *Store) SendReply(ctx context.Context, id, body string) error {
	orig, err := s.svc.Users.Messages.Get(user, id).Format("metadata").
		MetadataHeaders("From", "Subject", "Message-Id").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: get original %s: %w: %w", id, mailbox.ErrUnavailable, err)
	}

	raw := buildReply(
		header(orig, "From"),
		header(orig, "Subject"),
		header(orig, "Message-Id"),
		body,
	)
	_, err = s.svc.Users.Messages.Send(user, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: orig.ThreadId,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: send reply to %s: %w: %w", id, mailbox.ErrUnavailable, err)
	}
	return nil
}

// ApplyLabel attaches the named label to the message, creating the label on
// first use.
func (s *Store) ApplyLabel(ctx context.Context, id, label string) error {
	labelID, err := s.ensureLabel(ctx, label)
	if err != nil {
		return err
	}
	_, err = s.svc.Users.Messages.Modify(user, id, &gmailapi.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: label %s: %w: %w", id, mailbox.ErrUnavailable, err)
	}
	return nil
}

// Archive removes the message from the inbox.
func (s *Store) Archive(ctx context.Context, id string) error {
	_, err := s.svc.Users.Messages.Modify(user, id, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: archive %s: %w: %w", id, mailbox.ErrUnavailable, err)
	}
	return nil
}

// ensureLabel resolves a label name to its ID, creating it if absent.
func (s *Store) ensureLabel(ctx context.Context, name string) (string, error) {
	list, err := s.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: list labels: %w: %w", mailbox.ErrUnavailable, err)
	}
	for _, l := range list.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}
	created, err := s.svc.Users.Labels.Create(user, &gmailapi.Label{Name: name}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: create label %q: %w: %w", name, mailbox.ErrUnavailable, err)
	}
	return created.Id, nil
}

// parseMessage converts a Gmail message to the provider-neutral form.
func parseMessage(m *gmailapi.Message) mailbox.RawMessage {
	return mailbox.RawMessage{
		ID:         m.Id,
		ThreadID:   m.ThreadId,
		Sender:     header(m, "From"),
		Subject:    header(m, "Subject"),
		Snippet:    m.Snippet,
		Body:       extractText(m.Payload),
		ReceivedAt: time.UnixMilli(m.InternalDate),
	}
}

// header returns the named header value, or empty string.
func header(m *gmailapi.Message, name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractText walks the MIME tree and returns the first text/plain part,
// falling back to text/html.
func extractText(p *gmailapi.MessagePart) string {
	if p == nil {
		return ""
	}
	if plain := findPart(p, "text/plain"); plain != "" {
		return plain
	}
	return findPart(p, "text/html")
}

func findPart(p *gmailapi.MessagePart, mimeType string) string {
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// decodeBody decodes Gmail's base64url body data, tolerating both padded and
// unpadded forms.
func decodeBody(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

// buildReply assembles an RFC 2822 reply message.
func buildReply(to, subject, messageID, body string) string {
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if messageID != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", messageID)
		fmt.Fprintf(&b, "References: %s\r\n", messageID)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

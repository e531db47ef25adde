// Package imap implements the mailbox Store against any IMAP server using
// go-imap v2. Sending replies requires an outbound channel IMAP does not
// provide, so SendReply reports ErrUnsupported.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/zulandar/waybill/internal/mailbox"
)

// Store implements mailbox.Store over IMAP. Each operation dials a fresh
// connection; the polling cadence is far too slow for connection reuse to
// matter, and it keeps reconnect logic out of the adapter.
type Store struct {
	host     string
	username string
	password string
}

// New creates an IMAP Store. host includes the port (e.g. "mail.example.com:993").
func New(host, username, password string) (*Store, error) {
	if host == "" || username == "" {
		return nil, fmt.Errorf("imap: host and username are required")
	}
	return &Store{host: host, username: username, password: password}, nil
}

// connect dials, authenticates, and selects INBOX.
func (s *Store) connect(_ context.Context) (*imapclient.Client, error) {
	client, err := imapclient.DialTLS(s.host, nil)
	if err != nil {
		return nil, fmt.Errorf("imap: dial %s: %w: %w", s.host, mailbox.ErrUnavailable, err)
	}
	if err := client.Login(s.username, s.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap: login as %s: %w", s.username, err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap: select INBOX: %w: %w", mailbox.ErrUnavailable, err)
	}
	return client, nil
}

// FetchNew searches INBOX for messages since the watermark and returns them
// oldest first. IMAP SINCE has day granularity, so results are re-filtered
// by the envelope date.
func (s *Store) FetchNew(ctx context.Context, since time.Time, limit int) ([]mailbox.RawMessage, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap: search: %w: %w", mailbox.ErrUnavailable, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	// UIDs ascend in arrival order. Keep the oldest limit so the caller's
	// watermark can move through a backlog in order; the newer remainder
	// is fetched on later cycles.
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var msgs []mailbox.RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		raw := fromBuffer(buf, bodySection)
		if raw.ReceivedAt.After(since) {
			msgs = append(msgs, raw)
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return msgs, fmt.Errorf("imap: fetch: %w: %w", mailbox.ErrUnavailable, err)
	}
	return msgs, nil
}

// SendReply is not supported over bare IMAP.
func (s *Store) SendReply(ctx context.Context, id, body string) error {
	return fmt.Errorf("imap: send reply: %w", mailbox.ErrUnsupported)
}

// ApplyLabel stores the label as an IMAP keyword flag on the message.
func (s *Store) ApplyLabel(ctx context.Context, id, label string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{keyword(label)},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("imap: store flags on %s: %w: %w", id, mailbox.ErrUnavailable, err)
	}
	return nil
}

// Archive moves the message to an archive mailbox, trying common names.
func (s *Store) Archive(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	set := imap.UIDSetNum(uid)
	for _, folder := range []string{"Archive", "[Gmail]/All Mail", "Archives"} {
		if _, err := client.Move(set, folder).Wait(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("imap: archive %s: no archive mailbox found: %w", id, mailbox.ErrUnavailable)
}

// parseUID converts the provider-neutral string ID back to an IMAP UID.
func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("imap: bad message id %q: %w", id, err)
	}
	return imap.UID(n), nil
}

// keyword converts a label name into a legal IMAP keyword atom.
func keyword(label string) imap.Flag {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, label)
	if clean == "" {
		clean = "Waybill"
	}
	return imap.Flag(clean)
}

// fromBuffer converts a fetched message buffer to the provider-neutral form.
func fromBuffer(buf *imapclient.FetchMessageBuffer, section *imap.FetchItemBodySection) mailbox.RawMessage {
	raw := mailbox.RawMessage{
		ID: strconv.FormatUint(uint64(buf.UID), 10),
	}
	if buf.Envelope != nil {
		raw.Subject = buf.Envelope.Subject
		raw.ReceivedAt = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				raw.Sender = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				raw.Sender = from.Addr()
			}
		}
	}
	if body := buf.FindBodySection(section); body != nil {
		raw.Body = extractText(body)
		raw.Snippet = snippet(raw.Body)
	}
	return raw
}

// extractText parses the MIME body and returns the text/plain part, falling
// back to text/html, falling back to the raw bytes.
func extractText(rawBody []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(rawBody))
	if err != nil {
		return string(rawBody)
	}
	defer mr.Close()

	var html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		if strings.HasPrefix(contentType, "text/plain") {
			return string(body)
		}
		if strings.HasPrefix(contentType, "text/html") && html == "" {
			html = string(body)
		}
	}
	return html
}

// snippet shortens a body to a one-line preview.
func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > 150 {
		s = s[:150]
	}
	return s
}

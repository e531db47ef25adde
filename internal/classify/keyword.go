package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/models"
)

// Keyword is a deterministic rule-based classifier. It is the configured
// backend for installs without a local model and the fallback when the model
// produces output no category can be read from.
type Keyword struct{}

var (
	newsletterKeywords = []string{"newsletter", "unsubscribe", "digest", "weekly update", "monthly update"}
	promotionKeywords  = []string{"sale", "discount", "% off", "offer", "deal", "promo", "limited time"}
	importantKeywords  = []string{"urgent", "action required", "deadline", "invoice", "security alert", "password", "expires"}
)

// Classify applies the keyword rules in a fixed order. Unmatched messages
// default to Important: misfiling a notification is cheaper than missing one.
func (Keyword) Classify(_ context.Context, msg mailbox.RawMessage) (Result, error) {
	text := strings.ToLower(msg.Subject + " " + msg.Snippet + " " + msg.Body)

	category := models.CategoryImportant
	switch {
	case containsAny(text, promotionKeywords):
		category = models.CategoryPromotions
	case containsAny(text, newsletterKeywords):
		category = models.CategoryNewsletters
	case MeetingIntent(msg.Subject, msg.Body):
		category = models.CategoryMeetings
	case containsAny(text, importantKeywords):
		category = models.CategoryImportant
	case looksPersonal(msg.Sender):
		category = models.CategoryPersonal
	}

	res := Result{
		Category:      category,
		MeetingIntent: MeetingIntent(msg.Subject, msg.Body),
	}
	if res.MeetingIntent {
		res.Meeting = defaultMeetingParams(msg)
	}
	return res, nil
}

// Draft returns a neutral acknowledgement template.
func (Keyword) Draft(_ context.Context, msg *models.Message) (string, error) {
	return fmt.Sprintf(
		"Hi,\n\nThanks for your message about %q. I've received it and will get back to you shortly.\n\nBest regards",
		msg.Subject,
	), nil
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// looksPersonal is a weak signal: a bare personal-looking address with no
// corporate noreply markers.
func looksPersonal(sender string) bool {
	s := strings.ToLower(sender)
	if strings.Contains(s, "noreply") || strings.Contains(s, "no-reply") || strings.Contains(s, "notifications@") {
		return false
	}
	for _, domain := range []string{"@gmail.", "@outlook.", "@yahoo.", "@icloud.", "@proton."} {
		if strings.Contains(s, domain) {
			return true
		}
	}
	return false
}

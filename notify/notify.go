// Package notify delivers user facing notifications: job completion and
// failures of user initiated actions.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/lib"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// DefaultTitle is the title of every notification.
const DefaultTitle = "Magic Tracker"

// Message is a notification.
type Message struct {
	Title string
	Body  string
	// ActionURL is opened when the user acts on the notification. Optional.
	ActionURL string
}

// String renders the message as plain text.
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Body)
	if m.ActionURL != "" {
		fmt.Fprintf(&sb, "\n\n%s", m.ActionURL)
	}
	return sb.String()
}

// Notifier is a notification surface. Notifications are fire-and-forget from
// the caller's point of view; errors are for logging only.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Log logrus.FieldLogger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, msg Message) error {
	log := n.Log
	if log == nil {
		log = logger.Get(ctx)
	}
	log.WithFields(logger.Fields{"title": msg.Title, "url": msg.ActionURL}).Info(msg.Body)
	return nil
}

// Completion builds the notification of a finished job.
func Completion(jobURL string) Message {
	return Message{
		Title:     DefaultTitle,
		Body:      "Your Magic project is ready!",
		ActionURL: jobURL,
	}
}

func validateRecipients(sender string, recipients []string) error {
	if sender == "" {
		return trace.BadParameter("missing sender")
	}
	if !lib.IsEmail(sender) {
		return trace.BadParameter("sender %q is not an email address", sender)
	}
	if len(recipients) == 0 {
		return trace.BadParameter("missing recipients")
	}
	for _, recipient := range recipients {
		if !lib.IsEmail(recipient) {
			return trace.BadParameter("recipient %q is not an email address", recipient)
		}
	}
	return nil
}

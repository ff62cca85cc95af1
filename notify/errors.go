package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// DefaultPricingURL is linked from the usage limit notification.
const DefaultPricingURL = "https://magic-tracker.dev/pricing"

// ErrorHandler turns failures of user actions into notifications keyed by
// the error code.
type ErrorHandler struct {
	Notifier   Notifier
	PricingURL string
	Log        logrus.FieldLogger
}

// Message builds the notification for err.
func (h *ErrorHandler) Message(err error) Message {
	msg := Message{Title: DefaultTitle}
	switch api.ErrorCode(err) {
	case api.CodeUsageLimitExceeded:
		msg.Body = "Usage limit exceeded. Please upgrade your plan."
		msg.ActionURL = h.PricingURL
		if msg.ActionURL == "" {
			msg.ActionURL = DefaultPricingURL
		}
	case api.CodeUnauthenticated:
		msg.Body = "Please sign in to your account to continue."
	case api.CodeNetworkError:
		msg.Body = "Network error. Please check your connection and try again."
	default:
		if apiErr, ok := api.AsAPIError(err); ok {
			msg.Body = apiErr.Message
		} else {
			msg.Body = strings.TrimSpace(err.Error())
		}
	}
	return msg
}

// Handle notifies the user about err. Delivery failures are logged.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}
	log := h.Log
	if log == nil {
		log = logger.Get(ctx)
	}
	msg := h.Message(err)
	if h.Notifier == nil {
		log.WithError(err).Warn(msg.Body)
		return
	}
	if nerr := h.Notifier.Notify(ctx, msg); nerr != nil {
		log.WithError(nerr).WithField("cause", err.Error()).Error("Failed to deliver the error notification")
	}
}

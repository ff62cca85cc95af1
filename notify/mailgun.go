package notify

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/mailgun/mailgun-go/v4"
)

// MailgunConfig configures a Mailgun notifier.
type MailgunConfig struct {
	Domain     string `toml:"domain"`
	PrivateKey string `toml:"private_key"`
	// APIBase overrides the Mailgun endpoint, e.g. for the EU region.
	APIBase string `toml:"api_base"`
}

// CheckAndSetDefaults validates the config.
func (c *MailgunConfig) CheckAndSetDefaults() error {
	if c.Domain == "" {
		return trace.BadParameter("missing required value mailgun.domain")
	}
	if c.PrivateKey == "" {
		return trace.BadParameter("missing required value mailgun.private_key")
	}
	return nil
}

// Mailgun sends notifications as emails through Mailgun.
type Mailgun struct {
	mg         *mailgun.MailgunImpl
	sender     string
	recipients []string
}

// NewMailgun creates a Mailgun notifier.
func NewMailgun(conf MailgunConfig, sender string, recipients []string) (*Mailgun, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := validateRecipients(sender, recipients); err != nil {
		return nil, trace.Wrap(err)
	}
	mg := mailgun.NewMailgun(conf.Domain, conf.PrivateKey)
	if conf.APIBase != "" {
		mg.SetAPIBase(conf.APIBase)
	}
	return &Mailgun{mg: mg, sender: sender, recipients: recipients}, nil
}

// Notify implements Notifier.
func (m *Mailgun) Notify(ctx context.Context, msg Message) error {
	message := m.mg.NewMessage(m.sender, msg.Title, msg.String(), m.recipients...)
	_, _, err := m.mg.Send(ctx, message)
	return trace.Wrap(err)
}

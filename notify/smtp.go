package notify

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/mail.v2"
)

const defaultSMTPPort = 587

// SMTPConfig configures an SMTP notifier.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	// StartTLSPolicy is one of "mandatory", "opportunistic" or "disabled".
	StartTLSPolicy string `toml:"starttls_policy"`
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SMTPConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		return trace.BadParameter("missing required value smtp.host")
	}
	if c.Port == 0 {
		c.Port = defaultSMTPPort
	}
	if c.StartTLSPolicy == "" {
		c.StartTLSPolicy = "mandatory"
	}
	if _, err := c.startTLSPolicy(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

func (c *SMTPConfig) startTLSPolicy() (mail.StartTLSPolicy, error) {
	switch c.StartTLSPolicy {
	case "mandatory":
		return mail.MandatoryStartTLS, nil
	case "opportunistic":
		return mail.OpportunisticStartTLS, nil
	case "disabled":
		return mail.NoStartTLS, nil
	default:
		return 0, trace.BadParameter("unsupported smtp.starttls_policy %q", c.StartTLSPolicy)
	}
}

// SMTP sends notifications as emails through an SMTP relay.
type SMTP struct {
	dialer     *mail.Dialer
	sender     string
	recipients []string
}

// NewSMTP creates an SMTP notifier.
func NewSMTP(conf SMTPConfig, sender string, recipients []string) (*SMTP, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := validateRecipients(sender, recipients); err != nil {
		return nil, trace.Wrap(err)
	}
	policy, err := conf.startTLSPolicy()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	dialer := mail.NewDialer(conf.Host, conf.Port, conf.Username, conf.Password)
	dialer.StartTLSPolicy = policy
	dialer.Timeout = 10 * time.Second
	return &SMTP{dialer: dialer, sender: sender, recipients: recipients}, nil
}

// Notify implements Notifier.
func (s *SMTP) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.dialer.DialAndSend(s.message(msg)))
}

func (s *SMTP) message(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.sender)
	m.SetHeader("To", s.recipients...)
	m.SetHeader("Subject", msg.Title)
	m.SetBody("text/plain", msg.String())
	return m
}

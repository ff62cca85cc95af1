package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/notify"
	"github.com/toolbar-labs/magic-tracker/tracker"
)

const (
	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://magic-tracker.dev/api/toolbar"
	// DefaultDiagAddr is where the diag server listens unless DIAG_ADDR says
	// otherwise.
	DefaultDiagAddr = "localhost:9000"

	notifyModeLog     = "log"
	notifyModeMailgun = "mailgun"
	notifyModeSMTP    = "smtp"
)

// Config is the magic-tracker configuration file.
type Config struct {
	API      APIConfig            `toml:"api"`
	Storage  StorageConfig        `toml:"storage"`
	Tracking TrackingConfig       `toml:"tracking"`
	Notify   NotifyConfig         `toml:"notify"`
	Mailgun  notify.MailgunConfig `toml:"mailgun"`
	SMTP     notify.SMTPConfig    `toml:"smtp"`
	Log      logger.Config        `toml:"log"`

	// DiagAddr is the diag server address. Empty disables it.
	DiagAddr string `toml:"-"`
}

type APIConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`

	timeout time.Duration
}

type StorageConfig struct {
	Dir string `toml:"dir"`
}

type TrackingConfig struct {
	PollInterval string `toml:"poll_interval"`

	pollInterval time.Duration
}

type NotifyConfig struct {
	// Mode is one of "log", "mailgun" or "smtp".
	Mode       string   `toml:"mode"`
	Sender     string   `toml:"sender"`
	Recipients []string `toml:"recipients"`
	PricingURL string   `toml:"pricing_url"`
}

const exampleConfig = `# example magic-tracker configuration TOML file
[api]
base_url = "https://magic-tracker.dev/api/toolbar" # API root
timeout = "10s"                                    # Timeout of a single API call

[storage]
dir = "/home/user/.magic-tracker" # Where credentials and cached jobs are kept

[tracking]
poll_interval = "5s" # How often a tracked job is polled

[notify]
mode = "log" # Where notifications go. Could be "log", "mailgun" or "smtp"
# sender = "magic-tracker@example.com"
# recipients = ["you@example.com"]
# pricing_url = "https://magic-tracker.dev/pricing"

# [mailgun]
# domain = "sandboxbd81caddef744a69be0e5b544ab0c3bd.mailgun.org" # Mailgun domain name
# private_key = "xoxb-11xx"                                      # Mailgun private key, or a path to a file with it

# [smtp]
# host = "smtp.example.com"
# port = 587
# username = "username@example.com"
# password = "/var/lib/magic-tracker/smtp_password" # Password, or a path to a file with it
# starttls_policy = "mandatory"                     # Could be "mandatory", "opportunistic" or "disabled"

[log]
output = "stderr" # Logger output. Could be "stdout", "stderr" or "/var/log/magic-tracker.log"
severity = "INFO" # Logger severity. Could be "INFO", "ERROR", "DEBUG" or "WARN".
`

// DefaultConfigPath is the config location when --config isn't given.
func DefaultConfigPath() string {
	return filepath.Join(defaultDir(), "config.toml")
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".magic-tracker"
	}
	return filepath.Join(home, ".magic-tracker")
}

// LoadConfig reads the config file. A missing file at the default location
// yields the default config.
func LoadConfig(path string) (*Config, error) {
	conf := &Config{}
	t, err := toml.LoadFile(path)
	switch {
	case os.IsNotExist(err) && path == DefaultConfigPath():
	case err != nil:
		return nil, trace.Wrap(err)
	default:
		if err := t.Unmarshal(conf); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if strings.HasPrefix(conf.Mailgun.PrivateKey, "/") {
		if conf.Mailgun.PrivateKey, err = readSecret(conf.Mailgun.PrivateKey); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if strings.HasPrefix(conf.SMTP.Password, "/") {
		if conf.SMTP.Password, err = readSecret(conf.SMTP.Password); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return conf, nil
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	var err error
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	c.API.BaseURL = strings.TrimSuffix(c.API.BaseURL, "/")
	if c.API.timeout, err = parseDuration(c.API.Timeout, api.DefaultTimeout); err != nil {
		return trace.BadParameter("invalid api.timeout: %v", err)
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = defaultDir()
	}
	if c.Tracking.pollInterval, err = parseDuration(c.Tracking.PollInterval, tracker.DefaultPollInterval); err != nil {
		return trace.BadParameter("invalid tracking.poll_interval: %v", err)
	}

	switch c.Notify.Mode {
	case "":
		c.Notify.Mode = notifyModeLog
	case notifyModeLog:
	case notifyModeMailgun:
		if err := c.Mailgun.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	case notifyModeSMTP:
		if err := c.SMTP.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	default:
		return trace.BadParameter("unsupported notify.mode %q", c.Notify.Mode)
	}
	if c.Notify.Mode != notifyModeLog {
		if c.Notify.Sender == "" {
			return trace.BadParameter("missing required value notify.sender")
		}
		if len(c.Notify.Recipients) == 0 {
			return trace.BadParameter("missing required value notify.recipients")
		}
	}
	if c.Notify.PricingURL == "" {
		c.Notify.PricingURL = notify.DefaultPricingURL
	}

	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.Log.Severity == "" {
		c.Log.Severity = "info"
	}
	return nil
}

func parseDuration(value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if d <= 0 {
		return 0, trace.BadParameter("duration must be positive")
	}
	return d, nil
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return strings.TrimSpace(string(data)), nil
}

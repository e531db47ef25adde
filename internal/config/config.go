// Package config provides YAML-based configuration loading for Waybill.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level Waybill configuration, loaded from waybill.yaml.
type Config struct {
	Owner     string          `yaml:"owner"`
	Storage   StorageConfig   `yaml:"storage"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Relay     RelayConfig     `yaml:"relay"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Retention RetentionConfig `yaml:"retention"`
	StatusAPI StatusAPIConfig `yaml:"status_api"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// MailboxConfig selects and configures the mail provider.
type MailboxConfig struct {
	Provider        string `yaml:"provider"` // "gmail" or "imap"
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	IMAPHost        string `yaml:"imap_host"`
	IMAPUser        string `yaml:"imap_user"`
	IMAPPassword    string `yaml:"imap_password"`
	DoneLabel       string `yaml:"done_label"`
}

// ClassifyConfig configures the classifier backend and the notify policy.
type ClassifyConfig struct {
	Backend   string   `yaml:"backend"` // "ollama" or "keyword"
	OllamaURL string   `yaml:"ollama_url"`
	Model     string   `yaml:"model"`
	Timeout   Duration `yaml:"timeout"`
	NotifySet []string `yaml:"notify_set"`
}

// CalendarConfig configures the Google Calendar integration.
type CalendarConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

// RelayConfig selects the chat platform and its credentials.
type RelayConfig struct {
	Platform string        `yaml:"platform"` // "slack" or "discord"
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds the Discord bot credential.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// MonitorConfig tunes the polling loop.
type MonitorConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	MinInterval  Duration `yaml:"min_interval"` // floor between cycle starts
	MaxPerCycle  int      `yaml:"max_per_cycle"`
	Lookback     Duration `yaml:"lookback"` // first-run watermark offset
}

// RetentionConfig tunes the notification retention sweep.
type RetentionConfig struct {
	Window    Duration `yaml:"window"`
	SweepCron string   `yaml:"sweep_cron"` // 5-field cron expression
}

// StatusAPIConfig configures the read-only HTTP status server.
type StatusAPIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values. Secrets fall back to
// environment variables so tokens can stay out of the config file.
func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "waybill.db"
	}
	if c.Storage.Host == "" {
		c.Storage.Host = "127.0.0.1"
	}
	if c.Storage.Port == 0 {
		c.Storage.Port = 3306
	}
	if c.Storage.Database == "" && c.Owner != "" {
		c.Storage.Database = "waybill_" + c.Owner
	}

	if c.Mailbox.Provider == "" {
		c.Mailbox.Provider = "gmail"
	}
	if c.Mailbox.CredentialsFile == "" {
		c.Mailbox.CredentialsFile = "credentials.json"
	}
	if c.Mailbox.TokenFile == "" {
		c.Mailbox.TokenFile = "token.json"
	}
	if c.Mailbox.IMAPPassword == "" {
		c.Mailbox.IMAPPassword = os.Getenv("WAYBILL_IMAP_PASSWORD")
	}
	if c.Mailbox.DoneLabel == "" {
		c.Mailbox.DoneLabel = "Waybill/Done"
	}

	if c.Classify.Backend == "" {
		c.Classify.Backend = "ollama"
	}
	if c.Classify.OllamaURL == "" {
		c.Classify.OllamaURL = "http://localhost:11434"
	}
	if c.Classify.Model == "" {
		c.Classify.Model = "llama3.2"
	}
	if c.Classify.Timeout <= 0 {
		c.Classify.Timeout = Duration(30 * time.Second)
	}
	if len(c.Classify.NotifySet) == 0 {
		c.Classify.NotifySet = []string{"Important", "Meetings", "Personal"}
	}

	if c.Calendar.CredentialsFile == "" {
		c.Calendar.CredentialsFile = "calendar_credentials.json"
	}
	if c.Calendar.TokenFile == "" {
		c.Calendar.TokenFile = "calendar_token.json"
	}

	if c.Relay.Slack.AppToken == "" {
		c.Relay.Slack.AppToken = os.Getenv("WAYBILL_SLACK_APP_TOKEN")
	}
	if c.Relay.Slack.BotToken == "" {
		c.Relay.Slack.BotToken = os.Getenv("WAYBILL_SLACK_BOT_TOKEN")
	}
	if c.Relay.Discord.BotToken == "" {
		c.Relay.Discord.BotToken = os.Getenv("WAYBILL_DISCORD_BOT_TOKEN")
	}

	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = Duration(30 * time.Second)
	}
	if c.Monitor.MinInterval <= 0 {
		c.Monitor.MinInterval = Duration(time.Second)
	}
	if c.Monitor.MaxPerCycle <= 0 {
		c.Monitor.MaxPerCycle = 10
	}
	if c.Monitor.Lookback <= 0 {
		c.Monitor.Lookback = Duration(5 * time.Minute)
	}

	if c.Retention.Window <= 0 {
		c.Retention.Window = Duration(24 * time.Hour)
	}
	if c.Retention.SweepCron == "" {
		c.Retention.SweepCron = "0 * * * *"
	}

	if c.StatusAPI.Port == 0 {
		c.StatusAPI.Port = 8719
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	switch c.Storage.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported (sqlite, mysql)", c.Storage.Driver))
	}
	switch c.Mailbox.Provider {
	case "gmail", "imap":
	default:
		errs = append(errs, fmt.Sprintf("mailbox.provider %q is not supported (gmail, imap)", c.Mailbox.Provider))
	}
	if c.Mailbox.Provider == "imap" {
		if c.Mailbox.IMAPHost == "" {
			errs = append(errs, "mailbox.imap_host is required for the imap provider")
		}
		if c.Mailbox.IMAPUser == "" {
			errs = append(errs, "mailbox.imap_user is required for the imap provider")
		}
	}
	switch c.Classify.Backend {
	case "ollama", "keyword":
	default:
		errs = append(errs, fmt.Sprintf("classify.backend %q is not supported (ollama, keyword)", c.Classify.Backend))
	}
	for _, cat := range c.Classify.NotifySet {
		if !knownCategory(cat) {
			errs = append(errs, fmt.Sprintf("classify.notify_set entry %q is not a known category", cat))
		}
	}
	switch c.Relay.Platform {
	case "slack", "discord":
	case "":
		errs = append(errs, "relay.platform is required (slack, discord)")
	default:
		errs = append(errs, fmt.Sprintf("relay.platform %q is not supported (slack, discord)", c.Relay.Platform))
	}
	if c.Relay.Channel == "" {
		errs = append(errs, "relay.channel is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// knownCategory mirrors the classifier's category enumeration. Kept local so
// config does not import the models package.
func knownCategory(c string) bool {
	switch c {
	case "Important", "Meetings", "Personal", "Newsletters", "Promotions":
		return true
	}
	return false
}

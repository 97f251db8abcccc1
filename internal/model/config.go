package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig holds the inbound mailbox settings.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`

	// InsecureSkipVerify accepts self-signed certificates.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// SMTPConfig holds the outbound submission settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	From     string `mapstructure:"from" yaml:"from"`

	// Secure forces implicit TLS on or off. Nil means decide by port.
	Secure *bool `mapstructure:"-" yaml:"secure,omitempty"`
}

// SESConfig holds the AWS SES outbound settings.
type SESConfig struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Sender          string `mapstructure:"sender" yaml:"sender"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// OutboundConfig selects the delivery transport.
type OutboundConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
}

// EmailConfig holds channel-wide settings.
type EmailConfig struct {
	PollIntervalSec int    `mapstructure:"poll_interval" yaml:"poll_interval"`
	Domain          string `mapstructure:"domain" yaml:"domain"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// HTTPConfig holds the status API settings.
type HTTPConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// AIConfig holds settings for the optional model classifier. An empty
// APIKey keeps the hint classifier.
type AIConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	SMTP     SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	SES      SESConfig      `mapstructure:"ses" yaml:"ses"`
	Outbound OutboundConfig `mapstructure:"outbound" yaml:"outbound"`
	Email    EmailConfig    `mapstructure:"email" yaml:"email"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

const (
	DefaultPollIntervalSec = 60
	DefaultIMAPPort        = 993
	DefaultSMTPPort        = 587
)

// envKeys maps every configuration key to its environment variable.
var envKeys = map[string]string{
	"imap.host":                 "IMAP_HOST",
	"imap.port":                 "IMAP_PORT",
	"imap.user":                 "IMAP_USER",
	"imap.password":             "IMAP_PASSWORD",
	"imap.insecure_skip_verify": "IMAP_INSECURE_SKIP_VERIFY",
	"smtp.host":                 "SMTP_HOST",
	"smtp.port":                 "SMTP_PORT",
	"smtp.user":                 "SMTP_USER",
	"smtp.password":             "SMTP_PASSWORD",
	"smtp.from":                 "SMTP_FROM",
	"smtp.secure":               "SMTP_SECURE",
	"ses.region":                "SES_REGION",
	"ses.sender":                "SES_SENDER",
	"ses.access_key_id":         "SES_ACCESS_KEY_ID",
	"ses.secret_access_key":     "SES_SECRET_ACCESS_KEY",
	"outbound.provider":         "OUTBOUND_PROVIDER",
	"email.poll_interval":       "EMAIL_POLL_INTERVAL",
	"email.domain":              "EMAIL_DOMAIN",
	"database.driver":           "DATABASE_DRIVER",
	"database.url":              "DATABASE_URL",
	"http.listen":               "HTTP_LISTEN",
	"ai.api_key":                "ANTHROPIC_API_KEY",
	"ai.model":                  "AI_MODEL",
	"ai.max_tokens":             "AI_MAX_TOKENS",
	"log.level":                 "LOG_LEVEL",
}

// ConfigDir returns ~/.config/secondbrain, or the working directory
// when the home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "secondbrain")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.port", DefaultIMAPPort)
	v.SetDefault("imap.insecure_skip_verify", true)
	v.SetDefault("smtp.port", DefaultSMTPPort)
	v.SetDefault("outbound.provider", "smtp")
	v.SetDefault("email.poll_interval", DefaultPollIntervalSec)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", filepath.Join(ConfigDir(), "secondbrain.db"))
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the optional YAML file at path and overlays the
// environment. A missing file is not an error: every setting is
// optional and absent credentials only disable the channel.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Viper cannot tell an unset bool from false, so the secure flag is
	// read separately.
	if v.IsSet("smtp.secure") && strings.TrimSpace(v.GetString("smtp.secure")) != "" {
		secure := v.GetBool("smtp.secure")
		cfg.SMTP.Secure = &secure
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Level == "warning" {
		cfg.Log.Level = "warn"
	}

	return cfg, nil
}

// SaveConfig writes cfg to a YAML file at path, creating parent
// directories if needed. Passwords are never written; they belong in
// the keyring.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap.host", cfg.IMAP.Host)
	v.Set("imap.port", cfg.IMAP.Port)
	v.Set("imap.user", cfg.IMAP.User)
	v.Set("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)
	v.Set("smtp.host", cfg.SMTP.Host)
	v.Set("smtp.port", cfg.SMTP.Port)
	v.Set("smtp.user", cfg.SMTP.User)
	v.Set("smtp.from", cfg.SMTP.From)
	if cfg.SMTP.Secure != nil {
		v.Set("smtp.secure", *cfg.SMTP.Secure)
	}
	v.Set("outbound.provider", cfg.Outbound.Provider)
	v.Set("email.poll_interval", cfg.Email.PollIntervalSec)
	v.Set("email.domain", cfg.Email.Domain)
	v.Set("ai.model", cfg.AI.Model)
	v.Set("ai.max_tokens", cfg.AI.MaxTokens)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// SecretLookup resolves a named credential, typically from the keyring.
type SecretLookup func(key string) (string, error)

const (
	SecretIMAPPassword = "imap-password"
	SecretSMTPPassword = "smtp-password"
	SecretAIKey        = "anthropic-api-key"
)

// FillSecrets loads missing passwords through lookup. Lookup failures
// leave the password empty, which disables the affected transport.
func (c *AppConfig) FillSecrets(lookup SecretLookup) {
	if lookup == nil {
		return
	}
	if c.IMAP.Password == "" && c.IMAP.Host != "" && c.IMAP.User != "" {
		if pw, err := lookup(SecretIMAPPassword); err == nil {
			c.IMAP.Password = pw
		}
	}
	if c.SMTP.Password == "" && c.SMTP.Host != "" && c.SMTP.User != "" {
		if pw, err := lookup(SecretSMTPPassword); err == nil {
			c.SMTP.Password = pw
		}
	}
	if c.AI.APIKey == "" {
		if key, err := lookup(SecretAIKey); err == nil {
			c.AI.APIKey = key
		}
	}
}

// IMAPConfigured reports whether inbound polling can run.
func (c *AppConfig) IMAPConfigured() bool {
	return c.IMAP.Host != "" && c.IMAP.User != "" && c.IMAP.Password != ""
}

// SMTPConfigured reports whether SMTP delivery can run.
func (c *AppConfig) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.User != "" && c.SMTP.Password != ""
}

// SESConfigured reports whether the SES transport has its required fields.
func (c *AppConfig) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// ImplicitTLS reports whether SMTP should use implicit TLS rather than
// a STARTTLS upgrade. The explicit flag wins; otherwise port 465 means
// implicit TLS.
func (c SMTPConfig) ImplicitTLS() bool {
	if c.Secure != nil {
		return *c.Secure
	}
	return c.Port == 465
}

// FromAddress returns the configured sender, falling back to the user.
func (c SMTPConfig) FromAddress() string {
	if c.From != "" {
		return c.From
	}
	return c.User
}

// PollInterval returns the poll interval, defaulting to 60s and never
// below one second.
func (c EmailConfig) PollInterval() time.Duration {
	sec := c.PollIntervalSec
	if sec == 0 {
		sec = DefaultPollIntervalSec
	}
	if sec < 1 {
		sec = 1
	}
	return time.Duration(sec) * time.Second
}

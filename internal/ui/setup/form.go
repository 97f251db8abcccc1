// Package setup collects mailbox credentials with a huh form and stores
// them in the config file and keyring.
package setup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/secondbrain/internal/model"
)

// Values holds the form fields. Ports are strings because huh inputs
// edit text.
type Values struct {
	IMAPHost     string
	IMAPPort     string
	IMAPUser     string
	IMAPPassword string
	IMAPInsecure bool

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	Domain string
}

// SecretWriter stores passwords.
type SecretWriter interface {
	Set(key, value string) error
}

// FromConfig pre-fills the form from cfg. Passwords are never shown.
func FromConfig(cfg *model.AppConfig) Values {
	return Values{
		IMAPHost:     cfg.IMAP.Host,
		IMAPPort:     portString(cfg.IMAP.Port, model.DefaultIMAPPort),
		IMAPUser:     cfg.IMAP.User,
		IMAPInsecure: cfg.IMAP.InsecureSkipVerify,
		SMTPHost:     cfg.SMTP.Host,
		SMTPPort:     portString(cfg.SMTP.Port, model.DefaultSMTPPort),
		SMTPUser:     cfg.SMTP.User,
		SMTPFrom:     cfg.SMTP.From,
		Domain:       cfg.Email.Domain,
	}
}

func portString(p, def int) string {
	if p <= 0 {
		p = def
	}
	return strconv.Itoa(p)
}

// NewForm builds the setup form bound to v.
func NewForm(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Inbound mailbox").
				Description("The IMAP account secondbrain polls for new mail."),
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&v.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("993 for TLS, 143 for STARTTLS").
				Placeholder("993").
				Value(&v.IMAPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Placeholder("brain@example.com").
				Value(&v.IMAPUser).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Leave empty to keep the stored password").
				EchoMode(huh.EchoModePassword).
				Value(&v.IMAPPassword),
			huh.NewConfirm().
				Title("Accept self-signed certificates").
				Affirmative("Yes").
				Negative("No").
				Value(&v.IMAPInsecure),
		),
		huh.NewGroup(
			huh.NewNote().
				Title("Outbound mail").
				Description("Used for confirmations and digests. Leave the host empty to disable."),
			huh.NewInput().
				Title("SMTP Host").
				Placeholder("smtp.example.com").
				Value(&v.SMTPHost),
			huh.NewInput().
				Title("SMTP Port").
				Description("587 for STARTTLS, 465 for TLS").
				Placeholder("587").
				Value(&v.SMTPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Value(&v.SMTPUser),
			huh.NewInput().
				Title("Password").
				Description("Leave empty to keep the stored password").
				EchoMode(huh.EchoModePassword).
				Value(&v.SMTPPassword),
			huh.NewInput().
				Title("From address").
				Description("Defaults to the SMTP username").
				Value(&v.SMTPFrom).
				Validate(validateOptionalAddress),
			huh.NewInput().
				Title("Mail domain").
				Description("Domain of the personal addresses handed to users").
				Placeholder("example.com").
				Value(&v.Domain),
		),
	)
}

// Apply copies v into cfg and stores any entered passwords through
// secrets. Empty password fields leave the stored secret alone.
func Apply(v Values, cfg *model.AppConfig, secrets SecretWriter) error {
	imapPort, err := parsePort(v.IMAPPort, model.DefaultIMAPPort)
	if err != nil {
		return fmt.Errorf("IMAP port: %w", err)
	}
	smtpPort, err := parsePort(v.SMTPPort, model.DefaultSMTPPort)
	if err != nil {
		return fmt.Errorf("SMTP port: %w", err)
	}

	cfg.IMAP.Host = strings.TrimSpace(v.IMAPHost)
	cfg.IMAP.Port = imapPort
	cfg.IMAP.User = strings.TrimSpace(v.IMAPUser)
	cfg.IMAP.InsecureSkipVerify = v.IMAPInsecure
	cfg.SMTP.Host = strings.TrimSpace(v.SMTPHost)
	cfg.SMTP.Port = smtpPort
	cfg.SMTP.User = strings.TrimSpace(v.SMTPUser)
	cfg.SMTP.From = strings.TrimSpace(v.SMTPFrom)
	cfg.Email.Domain = strings.TrimSpace(v.Domain)

	if v.IMAPPassword != "" {
		if err := secrets.Set(model.SecretIMAPPassword, v.IMAPPassword); err != nil {
			return err
		}
		cfg.IMAP.Password = v.IMAPPassword
	}
	if v.SMTPPassword != "" {
		if err := secrets.Set(model.SecretSMTPPassword, v.SMTPPassword); err != nil {
			return err
		}
		cfg.SMTP.Password = v.SMTPPassword
	}

	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	_, err := parsePort(s, 0)
	return err
}

func parsePort(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if def == 0 {
			return 0, fmt.Errorf("port is required")
		}
		return def, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port must be a number")
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return p, nil
}

func validateOptionalAddress(s string) error {
	s = strings.TrimSpace(s)
	if s != "" && !strings.Contains(s, "@") {
		return fmt.Errorf("not an email address")
	}
	return nil
}

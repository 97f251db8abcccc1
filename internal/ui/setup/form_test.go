package setup

import (
	"errors"
	"testing"

	"github.com/nhle/secondbrain/internal/model"
)

type memSecrets map[string]string

func (m memSecrets) Set(key, value string) error {
	m[key] = value
	return nil
}

type failingSecrets struct{}

func (failingSecrets) Set(string, string) error { return errors.New("keyring locked") }

func TestFromConfigDefaults(t *testing.T) {
	t.Parallel()

	v := FromConfig(&model.AppConfig{IMAP: model.IMAPConfig{Host: "imap.example.com", Password: "secret"}})

	if v.IMAPPort != "993" || v.SMTPPort != "587" {
		t.Errorf("ports = %s/%s, want defaults", v.IMAPPort, v.SMTPPort)
	}
	if v.IMAPPassword != "" {
		t.Error("password pre-filled into the form")
	}
	if NewForm(&v) == nil {
		t.Error("NewForm returned nil")
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	cfg := &model.AppConfig{SMTP: model.SMTPConfig{Password: "kept"}}
	secrets := memSecrets{}

	err := Apply(Values{
		IMAPHost:     " imap.example.com ",
		IMAPPort:     "143",
		IMAPUser:     "brain@example.com",
		IMAPPassword: "hunter2",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     "",
		SMTPUser:     "brain@example.com",
		Domain:       "example.com",
	}, cfg, secrets)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if cfg.IMAP.Host != "imap.example.com" || cfg.IMAP.Port != 143 {
		t.Errorf("IMAP = %+v", cfg.IMAP)
	}
	if cfg.SMTP.Port != model.DefaultSMTPPort {
		t.Errorf("SMTP.Port = %d, want default", cfg.SMTP.Port)
	}
	if secrets[model.SecretIMAPPassword] != "hunter2" {
		t.Errorf("IMAP password not stored: %v", secrets)
	}
	if _, ok := secrets[model.SecretSMTPPassword]; ok {
		t.Error("empty SMTP password overwrote the stored one")
	}
	if cfg.SMTP.Password != "kept" {
		t.Errorf("SMTP.Password = %q, want kept", cfg.SMTP.Password)
	}
}

func TestApplyErrors(t *testing.T) {
	t.Parallel()

	if err := Apply(Values{IMAPPort: "99999"}, &model.AppConfig{}, memSecrets{}); err == nil {
		t.Error("Apply accepted an out-of-range port")
	}
	if err := Apply(Values{IMAPPassword: "x"}, &model.AppConfig{}, failingSecrets{}); err == nil {
		t.Error("Apply ignored a keyring failure")
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fn      func(string) error
		in      string
		wantErr bool
	}{
		{name: "port ok", fn: validatePort, in: "993"},
		{name: "port empty", fn: validatePort, in: "", wantErr: true},
		{name: "port text", fn: validatePort, in: "imap", wantErr: true},
		{name: "required", fn: validateRequired("Host"), in: "  ", wantErr: true},
		{name: "address empty", fn: validateOptionalAddress, in: ""},
		{name: "address bad", fn: validateOptionalAddress, in: "brain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.fn(tt.in); (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

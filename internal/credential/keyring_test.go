package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/secondbrain/internal/model"
)

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewWithKeyring(keyring.NewArrayKeyring(nil))

	if _, err := v.Get(model.SecretIMAPPassword); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := v.Set(model.SecretIMAPPassword, "hunter2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get(model.SecretIMAPPassword)
	if err != nil || got != "hunter2" {
		t.Errorf("Get() = %q, %v; want hunter2", got, err)
	}

	if err := v.Delete(model.SecretIMAPPassword); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := v.Delete(model.SecretIMAPPassword); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
	if _, err := v.Get(model.SecretIMAPPassword); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func TestVaultFillsConfig(t *testing.T) {
	t.Parallel()

	v := NewWithKeyring(keyring.NewArrayKeyring([]keyring.Item{
		{Key: model.SecretSMTPPassword, Data: []byte("smtp-secret")},
	}))

	cfg := &model.AppConfig{
		SMTP: model.SMTPConfig{Host: "smtp.example.com", User: "me"},
	}
	cfg.FillSecrets(v.Lookup())

	if cfg.SMTP.Password != "smtp-secret" {
		t.Errorf("SMTP.Password = %q, want keyring value", cfg.SMTP.Password)
	}
	if !cfg.SMTPConfigured() {
		t.Error("SMTPConfigured() = false after filling secrets")
	}
}

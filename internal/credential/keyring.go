// Package credential keeps mailbox and API secrets in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/nhle/secondbrain/internal/model"
)

const serviceName = "secondbrain"

// ErrNotFound is returned when no secret is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Vault reads and writes secrets under the secondbrain service.
type Vault struct {
	open func() (keyring.Keyring, error)
}

// New returns a Vault over the platform keyring, falling back to an
// encrypted file under the config directory.
func New() *Vault {
	return &Vault{open: openKeyring}
}

// NewWithKeyring returns a Vault over an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Vault {
	return &Vault{open: func() (keyring.Keyring, error) { return ring, nil }}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(model.ConfigDir(), "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("secondbrain-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a secret by key.
func (v *Vault) Get(key string) (string, error) {
	ring, err := v.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a secret by key.
func (v *Vault) Set(key, value string) error {
	ring, err := v.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a secret. Deleting a missing key is not an error.
func (v *Vault) Delete(key string) error {
	ring, err := v.open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Lookup adapts the vault to model.SecretLookup.
func (v *Vault) Lookup() model.SecretLookup {
	return v.Get
}

// Package credential keeps kiosk secrets, such as the OAuth client secret,
// out of the config file.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	DefaultServiceName = "chorgi"

	// GoogleClientSecretKey holds the OAuth client secret.
	GoogleClientSecretKey = "google-client-secret"
)

// DefaultBackends tries the OS stores first and falls back to an encrypted
// file.
var DefaultBackends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.SecretServiceBackend,
	keyring.WinCredBackend,
	keyring.PassBackend,
	keyring.FileBackend,
}

type Config struct {
	ServiceName string
	// Dir is used by the file backend.
	Dir string
	// Password unlocks the file backend.
	Password string
	Backends []keyring.BackendType
}

type Vault struct {
	ring keyring.Keyring
}

func Open(cfg Config) (*Vault, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.Password == "" {
		cfg.Password = cfg.ServiceName + "-file-key"
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          cfg.Backends,
		FileDir:                  cfg.Dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Vault{ring: ring}, nil
}

func (v *Vault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (v *Vault) Set(key, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: DefaultServiceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (v *Vault) Delete(key string) error {
	if err := v.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// IsNotFound reports whether err means the key has no stored value.
func IsNotFound(err error) bool {
	return errors.Is(err, keyring.ErrKeyNotFound)
}

// Resolve returns value when set, otherwise the vault entry for key. A
// missing entry yields "" and no error.
func (v *Vault) Resolve(value, key string) (string, error) {
	if value != "" {
		return value, nil
	}
	secret, err := v.Get(key)
	if IsNotFound(err) {
		return "", nil
	}
	return secret, err
}

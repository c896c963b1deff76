// Package credential stores account passwords in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "msgctl"

// PasswordEnv holds the passphrase for the encrypted-file backend, used
// where no system keyring is available.
const PasswordEnv = "MSGCTL_KEYRING_PASSWORD"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("no stored password")

// Store reads and writes account passwords.
type Store struct {
	ring keyring.Keyring
}

// Open opens the system keyring, falling back to encrypted files in dir.
func Open(dir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewWithKeyring wraps an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func filePassword(prompt string) (string, error) {
	if p := os.Getenv(PasswordEnv); p != "" {
		return p, nil
	}
	return keyring.TerminalPrompt(prompt)
}

// Get returns the password stored for account.
func (s *Store) Get(account string) (string, error) {
	item, err := s.ring.Get(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNotFound, account)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", account, err)
	}
	return string(item.Data), nil
}

// Set stores the password for account, replacing any previous value.
func (s *Store) Set(account, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         account,
		Data:        []byte(password),
		Label:       "msgctl: " + account,
		Description: "IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", account, err)
	}
	return nil
}

// Delete removes the password for account. Removing a missing entry is
// not an error.
func (s *Store) Delete(account string) error {
	if err := s.ring.Remove(account); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", account, err)
	}
	return nil
}

package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "emlreplicator"

// Opener opens the keyring; replaced in tests.
type Opener func() (keyring.Keyring, error)

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.KWalletBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes passwords keyed by "login@host".
type Store struct {
	open Opener
}

// NewStore returns a Store backed by the system keyring.
func NewStore() *Store { return &Store{open: openKeyring} }

// NewStoreWith returns a Store using open to obtain the keyring.
func NewStoreWith(open Opener) *Store { return &Store{open: open} }

// Get retrieves the password stored under key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores password under key.
func (s *Store) Set(key, password string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(password), Label: serviceName + " " + key}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

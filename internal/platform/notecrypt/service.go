package notecrypt

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// Service wraps a Cipher and adds a disabled mode for development
// environments where no encryption key is configured. When disabled,
// Encrypt and Decrypt are no-ops that return the value as-is.
type Service struct {
	cipher  *Cipher
	enabled bool
}

// NewService builds the note encryption service from hex-encoded keys.
// An empty key disables encryption with a logged warning; an invalid key
// is an error so the application refuses to start misconfigured.
func NewService(key, legacyKey string, logger zerolog.Logger) (*Service, error) {
	if key == "" {
		logger.Warn().Msg("note encryption disabled: NOTE_ENCRYPTION_KEY is not set")
		return &Service{enabled: false}, nil
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("NOTE_ENCRYPTION_KEY is not valid hex: %w", err)
	}

	var legacyBytes []byte
	if legacyKey != "" {
		legacyBytes, err = hex.DecodeString(legacyKey)
		if err != nil {
			return nil, fmt.Errorf("NOTE_LEGACY_KEY is not valid hex: %w", err)
		}
	}

	c, err := New(keyBytes, legacyBytes, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("note encryption enabled")
	return &Service{cipher: c, enabled: true}, nil
}

// Encrypt encrypts a note body for persistence.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if !s.enabled || plaintext == "" {
		return plaintext, nil
	}
	return s.cipher.Encrypt(plaintext)
}

// Decrypt recovers a note body read from persistence.
func (s *Service) Decrypt(stored string) (string, error) {
	if !s.enabled || stored == "" {
		return stored, nil
	}
	return s.cipher.Decrypt(stored)
}

// IsEnabled returns true if encryption is active.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

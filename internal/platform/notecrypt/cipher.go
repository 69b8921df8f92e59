// Package notecrypt protects free-text clinical note bodies at rest.
//
// The current wire format is AES-256-GCM encoded as
// "hex(iv):hex(ciphertext):hex(tag)" with a 12-byte iv and 16-byte tag.
// Two older forms are still readable: the pre-GCM AES-256-CBC format
// "hex(iv):hex(ciphertext)", and raw plaintext written before encryption
// was introduced. Decrypt never rewrites stored values; legacy payloads
// are upgraded when the caller next saves the note.
package notecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const (
	gcmIVSize  = 12
	gcmTagSize = 16
	cbcIVSize  = aes.BlockSize
)

var (
	// ErrInvalidFormat reports a payload that matches none of the known
	// persisted note formats.
	ErrInvalidFormat = errors.New("notecrypt: invalid payload format")

	// ErrAuthenticationFailed reports a current-format payload whose
	// authentication tag did not verify. The ciphertext was tampered with
	// or corrupted; plaintext is never returned in this case.
	ErrAuthenticationFailed = errors.New("notecrypt: authentication failed")
)

// Cipher encrypts and decrypts note bodies. It always writes the current
// GCM format and can read both legacy formats.
type Cipher struct {
	aead      cipher.AEAD
	legacyKey []byte
	logger    zerolog.Logger
}

// New creates a Cipher from a 32-byte AES-256 key. legacyKey is the key
// used by the pre-GCM CBC format; pass nil to reuse key for legacy data.
func New(key, legacyKey []byte, logger zerolog.Logger) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("notecrypt: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("notecrypt: create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, gcmIVSize)
	if err != nil {
		return nil, fmt.Errorf("notecrypt: create GCM: %w", err)
	}

	if legacyKey == nil {
		legacyKey = key
	}
	if len(legacyKey) != 32 {
		return nil, fmt.Errorf("notecrypt: legacy key must be 32 bytes, got %d", len(legacyKey))
	}

	return &Cipher{aead: aead, legacyKey: legacyKey, logger: logger}, nil
}

// Encrypt produces a current-format payload for the given plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("notecrypt: generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt sniffs the stored format and returns the plaintext. Unknown
// formats fail with ErrInvalidFormat; a tag mismatch on the current
// format fails with ErrAuthenticationFailed.
func (c *Cipher) Decrypt(stored string) (string, error) {
	p := parsePayload(stored)
	switch p.kind {
	case plainPayload:
		return stored, nil
	case legacyPayload:
		plaintext, err := c.decryptLegacy(p.parts[0], p.parts[1])
		if err != nil {
			return "", err
		}
		c.logger.Warn().Msg("decrypted legacy-format note; value will be upgraded on next write")
		return plaintext, nil
	case gcmPayload:
		return c.decryptGCM(p.parts[0], p.parts[1], p.parts[2])
	default:
		return "", ErrInvalidFormat
	}
}

type payloadKind int

const (
	plainPayload payloadKind = iota
	legacyPayload
	gcmPayload
	unknownPayload
)

type payload struct {
	kind  payloadKind
	parts []string
}

// parsePayload classifies a stored value by its colon-delimited shape
// before any cryptographic work happens.
func parsePayload(stored string) payload {
	if !strings.Contains(stored, ":") {
		return payload{kind: plainPayload}
	}
	parts := strings.Split(stored, ":")
	switch len(parts) {
	case 2:
		return payload{kind: legacyPayload, parts: parts}
	case 3:
		return payload{kind: gcmPayload, parts: parts}
	default:
		return payload{kind: unknownPayload}
	}
}

func (c *Cipher) decryptGCM(ivHex, ctHex, tagHex string) (string, error) {
	if len(ivHex) != gcmIVSize*2 {
		return "", fmt.Errorf("%w: iv must be %d hex chars, got %d", ErrInvalidFormat, gcmIVSize*2, len(ivHex))
	}
	if len(tagHex) != gcmTagSize*2 {
		return "", fmt.Errorf("%w: tag must be %d hex chars, got %d", ErrInvalidFormat, gcmTagSize*2, len(tagHex))
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: iv is not hex", ErrInvalidFormat)
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not hex", ErrInvalidFormat)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return "", fmt.Errorf("%w: tag is not hex", ErrInvalidFormat)
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}

func (c *Cipher) decryptLegacy(ivHex, ctHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != cbcIVSize {
		return "", fmt.Errorf("%w: legacy iv", ErrInvalidFormat)
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: legacy ciphertext", ErrInvalidFormat)
	}

	block, err := aes.NewCipher(c.legacyKey)
	if err != nil {
		return "", fmt.Errorf("notecrypt: create legacy cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := stripPKCS7(plaintext)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty legacy plaintext", ErrInvalidFormat)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: bad legacy padding", ErrInvalidFormat)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad legacy padding", ErrInvalidFormat)
		}
	}
	return data[:len(data)-pad], nil
}

// EncryptLegacy writes the pre-GCM CBC format. It exists only so tests
// and data-migration tooling can produce legacy payloads.
func (c *Cipher) EncryptLegacy(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.legacyKey)
	if err != nil {
		return "", fmt.Errorf("notecrypt: create legacy cipher: %w", err)
	}

	iv := make([]byte, cbcIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("notecrypt: generate iv: %w", err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

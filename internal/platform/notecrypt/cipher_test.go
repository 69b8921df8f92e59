package notecrypt

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := New(key, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	for _, plaintext := range []string{
		"patient tolerated induction well",
		"",
		"unicode: 体温 36.8°C",
	} {
		stored, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}

		got, err := c.Decrypt(stored)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptProducesThreePartHexPayload(t *testing.T) {
	c := testCipher(t)

	stored, err := c.Encrypt("note body")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		t.Fatalf("expected 3 colon-separated parts, got %d in %q", len(parts), stored)
	}
	if len(parts[0]) != 24 {
		t.Errorf("iv: expected 24 hex chars, got %d", len(parts[0]))
	}
	if len(parts[2]) != 32 {
		t.Errorf("tag: expected 32 hex chars, got %d", len(parts[2]))
	}
	for i, p := range parts {
		if _, err := hex.DecodeString(p); err != nil {
			t.Errorf("part %d is not hex: %q", i, p)
		}
	}
}

func TestDecryptTamperedTagFailsAuthentication(t *testing.T) {
	c := testCipher(t)

	stored, err := c.Encrypt("original note")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	parts := strings.Split(stored, ":")
	tag := []byte(parts[2])
	if tag[0] == 'a' {
		tag[0] = 'b'
	} else {
		tag[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(tag)

	got, err := c.Decrypt(tampered)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got err=%v plaintext=%q", err, got)
	}
}

func TestDecryptTamperedCiphertextFailsAuthentication(t *testing.T) {
	c := testCipher(t)

	stored, err := c.Encrypt("original note")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	parts := strings.Split(stored, ":")
	ct := []byte(parts[1])
	if ct[0] == '0' {
		ct[0] = '1'
	} else {
		ct[0] = '0'
	}
	tampered := parts[0] + ":" + string(ct) + ":" + parts[2]

	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	c := testCipher(t)

	got, err := c.Decrypt("a plain note written before encryption existed")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "a plain note written before encryption existed" {
		t.Errorf("passthrough changed the value: %q", got)
	}
}

func TestDecryptLegacyFormat(t *testing.T) {
	c := testCipher(t)

	stored, err := c.EncryptLegacy("a note saved by the old app version")
	if err != nil {
		t.Fatalf("EncryptLegacy: %v", err)
	}
	if parts := strings.Split(stored, ":"); len(parts) != 2 {
		t.Fatalf("legacy payload should have 2 parts, got %d", len(parts))
	}

	got, err := c.Decrypt(stored)
	if err != nil {
		t.Fatalf("Decrypt legacy: %v", err)
	}
	if got != "a note saved by the old app version" {
		t.Errorf("legacy round trip: got %q", got)
	}
}

func TestDecryptLegacyWithSeparateKey(t *testing.T) {
	key := make([]byte, 32)
	legacyKey := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
		legacyKey[i] = byte(255 - i)
	}

	old, err := New(legacyKey, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New old cipher: %v", err)
	}
	stored, err := old.EncryptLegacy("note from before the key rotation")
	if err != nil {
		t.Fatalf("EncryptLegacy: %v", err)
	}

	current, err := New(key, legacyKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("New current cipher: %v", err)
	}
	got, err := current.Decrypt(stored)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "note from before the key rotation" {
		t.Errorf("got %q", got)
	}
}

func TestDecryptInvalidFormats(t *testing.T) {
	c := testCipher(t)

	cases := map[string]string{
		"four parts":     "aa:bb:cc:dd",
		"short iv":       "abcd:" + strings.Repeat("ab", 8) + ":" + strings.Repeat("ab", 16),
		"short tag":      strings.Repeat("ab", 12) + ":" + strings.Repeat("ab", 8) + ":abcd",
		"iv not hex":     strings.Repeat("zz", 12) + ":" + strings.Repeat("ab", 8) + ":" + strings.Repeat("ab", 16),
		"legacy bad len": "abcd:" + strings.Repeat("ab", 7),
	}

	for name, stored := range cases {
		if _, err := c.Decrypt(stored); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("%s: expected ErrInvalidFormat, got %v", name, err)
		}
	}
}

func TestNewRejectsBadKeySizes(t *testing.T) {
	if _, err := New(make([]byte, 16), nil, zerolog.Nop()); err == nil {
		t.Error("expected error for 16-byte key")
	}
	if _, err := New(make([]byte, 32), make([]byte, 8), zerolog.Nop()); err == nil {
		t.Error("expected error for 8-byte legacy key")
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c := testCipher(t)

	a, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical payloads")
	}
}

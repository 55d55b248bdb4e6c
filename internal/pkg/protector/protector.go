// Package protector implements a time-limited data protector: short strings
// are sealed with AES-GCM together with an absolute expiry, and unprotecting
// fails once the expiry has passed or the ciphertext was tampered with. It is
// the defense-in-depth layer for email verification codes, whose validity
// must not depend on cache retention alone.
package protector

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrExpired = errors.New("protected payload expired")
	ErrInvalid = errors.New("protected payload invalid")
)

// Protector seals and opens expiring payloads with a single symmetric key.
type Protector struct {
	aead cipher.AEAD
	now  func() time.Time
}

// New builds a Protector from a hex-encoded 32-byte key.
func New(hexKey string) (*Protector, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode protector key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("protector key must be 32 bytes")
	}
	return newWithKey(key, time.Now)
}

// NewRandom builds a Protector with an ephemeral key. Payloads do not survive
// a process restart; suitable for development and tests.
func NewRandom() (*Protector, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return newWithKey(key, time.Now)
}

func newWithKey(key []byte, now func() time.Time) (*Protector, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Protector{aead: aead, now: now}, nil
}

// WithClock returns a copy using the given clock. Test hook.
func (p *Protector) WithClock(now func() time.Time) *Protector {
	return &Protector{aead: p.aead, now: now}
}

// Protect seals plaintext with an expiry of now+ttl and returns a URL-safe
// base64 token.
func (p *Protector) Protect(plaintext string, ttl time.Duration) (string, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	expiresAt := p.now().UTC().Add(ttl).Unix()
	payload := make([]byte, 8+len(plaintext))
	binary.BigEndian.PutUint64(payload, uint64(expiresAt))
	copy(payload[8:], plaintext)

	sealed := p.aead.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unprotect opens a token produced by Protect. It returns ErrInvalid on any
// decode or authentication failure and ErrExpired once the embedded expiry
// has passed.
func (p *Protector) Unprotect(token string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalid
	}
	if len(sealed) < p.aead.NonceSize() {
		return "", ErrInvalid
	}

	nonce, ciphertext := sealed[:p.aead.NonceSize()], sealed[p.aead.NonceSize():]
	payload, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalid
	}
	if len(payload) < 8 {
		return "", ErrInvalid
	}

	expiresAt := int64(binary.BigEndian.Uint64(payload[:8]))
	if p.now().UTC().Unix() > expiresAt {
		return "", ErrExpired
	}
	return string(payload[8:]), nil
}

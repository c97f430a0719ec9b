// Package sessiontoken seals a session key pair into an opaque, self-expiring
// token the client carries between the challenge and the signed request, so
// the server keeps no session table.
package sessiontoken

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
)

const (
	SecretSize = 32
	ivSize     = 12
	tagSize    = 16

	// DefaultTTL bounds how long a challenge stays redeemable.
	DefaultTTL = 5 * time.Minute
)

// Codec encodes and decodes opaque session tokens under one fixed secret.
type Codec struct {
	aead cipher.AEAD
	ttl  time.Duration
	now  func() time.Time
}

type payload struct {
	SessionKeyPair *KeyPair        `json:"sessionKeyPair"`
	ExpiresAt      json.RawMessage `json:"expiresAt"`
}

// ParseSecret decodes a 64-character hex secret.
func ParseSecret(secretHex string) ([]byte, error) {
	secretHex = strings.TrimPrefix(strings.TrimSpace(secretHex), "0x")
	if secretHex == "" {
		return nil, fmt.Errorf("SESSION_TOKEN_SECRET is not set")
	}
	if len(secretHex) != SecretSize*2 {
		return nil, fmt.Errorf("SESSION_TOKEN_SECRET must be %d hex characters, got %d", SecretSize*2, len(secretHex))
	}
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("SESSION_TOKEN_SECRET is not valid hex: %w", err)
	}
	return key, nil
}

// NewCodec builds a codec from a 32-byte secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("session token secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead, ttl: DefaultTTL, now: time.Now}, nil
}

// NewCodecFromHex is NewCodec over ParseSecret.
func NewCodecFromHex(secretHex string) (*Codec, error) {
	secret, err := ParseSecret(secretHex)
	if err != nil {
		return nil, err
	}
	return NewCodec(secret)
}

// WithClock replaces the time source.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// TTL is the validity window of freshly encoded tokens.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Encode seals pair with an expiry of now+TTL.
func (c *Codec) Encode(pair KeyPair) (string, error) {
	return c.EncodeWithExpiry(pair, c.now().Add(c.ttl))
}

// EncodeWithExpiry seals pair with an explicit expiry.
func (c *Codec) EncodeWithExpiry(pair KeyPair, expiresAt time.Time) (string, error) {
	plaintext, err := json.Marshal(struct {
		SessionKeyPair KeyPair `json:"sessionKeyPair"`
		ExpiresAt      int64   `json:"expiresAt"`
	}{pair, expiresAt.UnixMilli()})
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, ivSize+tagSize+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decode opens a token and returns the session key pair it carries.
func (c *Codec) Decode(token string) (KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return KeyPair{}, apperr.ErrTamperedToken.Wrap("token is not base64")
	}
	if len(raw) < ivSize+tagSize+1 {
		return KeyPair{}, apperr.ErrTamperedToken.Wrap("token too short")
	}
	iv, tag, ct := raw[:ivSize], raw[ivSize:ivSize+tagSize], raw[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return KeyPair{}, apperr.ErrTamperedToken.Wrap("authentication failed")
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return KeyPair{}, apperr.ErrMalformedToken.Wrap("payload is not JSON")
	}
	if p.SessionKeyPair == nil || p.SessionKeyPair.PublicKey == "" || p.SessionKeyPair.SecretKey == "" {
		return KeyPair{}, apperr.ErrMalformedToken.Wrap("missing session key pair")
	}
	var expiresAt int64
	if err := json.Unmarshal(p.ExpiresAt, &expiresAt); err != nil {
		return KeyPair{}, apperr.ErrMalformedToken.Wrap("expiresAt is not a number")
	}
	if c.now().UnixMilli() > expiresAt {
		return KeyPair{}, apperr.ErrExpiredToken
	}
	return *p.SessionKeyPair, nil
}

package sessiontoken

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPair is an ephemeral ed25519 session key, hex encoded.
type KeyPair struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

// GenerateKeyPair creates a fresh session key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate session key: %w", err)
	}
	return KeyPair{
		PublicKey: hex.EncodeToString(pub),
		SecretKey: hex.EncodeToString(priv),
	}, nil
}

// PrivateKey decodes the secret key and checks it belongs to PublicKey.
func (k KeyPair) PrivateKey() (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(k.SecretKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid secret key length: %d", len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub, err := k.Public()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
		return nil, fmt.Errorf("secret key does not match public key")
	}
	return priv, nil
}

// Public decodes the public key.
func (k KeyPair) Public() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(k.PublicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Sign signs msg with the session secret key and returns the hex signature.
func (k KeyPair) Sign(msg []byte) (string, error) {
	priv, err := k.PrivateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(priv, msg)), nil
}

// VerifySessionSignature checks an ed25519 signature made by publicKeyHex.
func VerifySessionSignature(publicKeyHex string, msg []byte, sigHex string) bool {
	pub, err := KeyPair{PublicKey: publicKeyHex}.Public()
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

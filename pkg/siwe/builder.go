package siwe

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChallengeParams describes a session delegation to be signed.
type ChallengeParams struct {
	Domain           string
	Address          string
	SessionPublicKey string
	Nonce            string
	// ResourceID scopes the delegation to one decryptable resource. Empty
	// omits the capability.
	ResourceID string

	Statement  string
	ChainID    int64
	IssuedAt   time.Time
	Expiration time.Time
}

// BuildChallenge renders a delegation message for p. Zero values fall back
// to the defaults: chain 1, issued now, expiring five minutes later.
func BuildChallenge(p ChallengeParams) (string, error) {
	m, err := NewChallenge(p)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// NewChallenge is BuildChallenge without rendering.
func NewChallenge(p ChallengeParams) (*Message, error) {
	if strings.TrimSpace(p.Domain) == "" {
		return nil, fmt.Errorf("domain is required")
	}
	if !common.IsHexAddress(p.Address) {
		return nil, fmt.Errorf("invalid address %q", p.Address)
	}
	if p.SessionPublicKey == "" {
		return nil, fmt.Errorf("session public key is required")
	}
	if len(p.Nonce) < 8 {
		return nil, fmt.Errorf("nonce is required")
	}

	issued := p.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	expires := p.Expiration
	if expires.IsZero() {
		expires = issued.Add(DefaultExpiry)
	}
	chainID := p.ChainID
	if chainID == 0 {
		chainID = DefaultChainID
	}
	statement := p.Statement
	if statement == "" {
		statement = DefaultStatement
	}

	m := &Message{
		Domain:         p.Domain,
		Address:        common.HexToAddress(p.Address).Hex(),
		URI:            SessionURIPrefix + p.SessionPublicKey,
		Version:        "1",
		ChainID:        chainID,
		Nonce:          p.Nonce,
		IssuedAt:       &issued,
		ExpirationTime: &expires,
	}
	if p.ResourceID != "" {
		resource, clause, err := DecryptionRecap(p.ResourceID)
		if err != nil {
			return nil, err
		}
		statement = statement + " " + clause
		m.Resources = []string{resource}
	}
	m.Statement = statement
	return m, nil
}

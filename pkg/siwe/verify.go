package siwe

import (
	"strings"
	"time"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/evm"
)

// DerivedViaPersonalSign marks an AuthSig produced by personal_sign.
const DerivedViaPersonalSign = "web3.eth.personal.sign"

// AuthSig is a verified wallet signature over a delegation message.
type AuthSig struct {
	Sig           string `json:"sig"`
	DerivedVia    string `json:"derivedVia"`
	SignedMessage string `json:"signedMessage"`
	Address       string `json:"address"`
	Algo          string `json:"algo,omitempty"`
}

// Verifier checks signed delegations against the expected domain and signer.
type Verifier struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// NewVerifier returns a verifier with the default max age.
func NewVerifier() *Verifier {
	return &Verifier{MaxAge: DefaultMaxAge, Now: time.Now}
}

// Verified is the outcome of a successful Verify.
type Verified struct {
	Message *Message
	AuthSig AuthSig
}

// Verify runs the delegation checks in order and stops at the first
// failure: parse, domain, session uri, address, expiration, age, not-before,
// signature.
func (v *Verifier) Verify(raw, signature, expectedDomain, expectedAddress string) (*Verified, error) {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	maxAge := v.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	m, err := Parse(raw)
	if err != nil {
		return nil, apperr.ErrMalformedMessage.Wrap(err.Error())
	}
	if m.Domain != expectedDomain {
		return nil, apperr.ErrDomainMismatch.Wrapf("expected %s, got %s", expectedDomain, m.Domain)
	}
	if _, ok := m.SessionPublicKey(); !ok {
		return nil, apperr.ErrInvalidDelegationTarget.Wrapf("uri must start with %s", SessionURIPrefix)
	}
	if !strings.EqualFold(m.Address, expectedAddress) {
		return nil, apperr.ErrAddressMismatch.Wrapf("expected %s, got %s", expectedAddress, m.Address)
	}
	if m.ExpirationTime != nil && !now.Before(*m.ExpirationTime) {
		return nil, apperr.ErrSiweExpired.Wrapf("expired at %s", formatTime(*m.ExpirationTime))
	}
	if m.IssuedAt == nil {
		return nil, apperr.ErrSiweTooOld.Wrap("issuedAt is required")
	}
	if now.Sub(*m.IssuedAt) > maxAge {
		return nil, apperr.ErrSiweTooOld.Wrapf("issued at %s, max age %s", formatTime(*m.IssuedAt), maxAge)
	}
	if m.NotBefore != nil && now.Before(*m.NotBefore) {
		return nil, apperr.ErrSiweNotYetValid.Wrapf("not valid before %s", formatTime(*m.NotBefore))
	}

	signer, err := evm.RecoverPersonalSign(raw, signature)
	if err != nil {
		return nil, apperr.ErrInvalidSignature.Wrap(err.Error())
	}
	if !strings.EqualFold(signer.Hex(), m.Address) {
		return nil, apperr.ErrInvalidSignature.Wrap("signature does not match address")
	}

	return &Verified{
		Message: m,
		AuthSig: AuthSig{
			Sig:           signature,
			DerivedVia:    DerivedViaPersonalSign,
			SignedMessage: raw,
			Address:       strings.ToLower(expectedAddress),
		},
	}, nil
}

// VerifyAuthSig re-checks a capability AuthSig: the signature must recover
// to its address and the message must be a currently valid session
// delegation. Used by decryption backends that trust nothing upstream.
func VerifyAuthSig(sig AuthSig, now time.Time) (*Message, error) {
	m, err := Parse(sig.SignedMessage)
	if err != nil {
		return nil, apperr.ErrMalformedMessage.Wrap(err.Error())
	}
	if !strings.EqualFold(m.Address, sig.Address) {
		return nil, apperr.ErrAddressMismatch.Wrapf("auth sig address %s, message address %s", sig.Address, m.Address)
	}
	if _, ok := m.SessionPublicKey(); !ok {
		return nil, apperr.ErrInvalidDelegationTarget.Wrapf("uri must start with %s", SessionURIPrefix)
	}
	if m.ExpirationTime != nil && !now.Before(*m.ExpirationTime) {
		return nil, apperr.ErrSiweExpired.Wrapf("expired at %s", formatTime(*m.ExpirationTime))
	}
	if m.NotBefore != nil && now.Before(*m.NotBefore) {
		return nil, apperr.ErrSiweNotYetValid.Wrapf("not valid before %s", formatTime(*m.NotBefore))
	}
	signer, err := evm.RecoverPersonalSign(sig.SignedMessage, sig.Sig)
	if err != nil {
		return nil, apperr.ErrInvalidSignature.Wrap(err.Error())
	}
	if !strings.EqualFold(signer.Hex(), m.Address) {
		return nil, apperr.ErrInvalidSignature.Wrap("signature does not match address")
	}
	return m, nil
}

package permit

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/evm"
)

// Expected holds the server-computed values a permit must match.
type Expected struct {
	ChainID   int64
	Permit2   common.Address
	Token     common.Address
	Spender   common.Address
	User      common.Address
	MinAmount *big.Int
}

// Result is the outcome of validating a permit. Error and Details are meant
// for the client.
type Result struct {
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Err is nil for a valid result and a *Rejection otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Rejection{Reason: r.Error, Details: r.Details}
}

// Rejection is a failed permit check. It is a validation error, so it maps
// to 400 with its own reason as the error text.
type Rejection struct {
	Reason  string
	Details string
}

func (r *Rejection) Error() string { return r.Reason + ": " + r.Details }

func (r *Rejection) Unwrap() error { return apperr.ErrValidation }

func invalid(err, details string) Result {
	return Result{Valid: false, Error: err, Details: details}
}

// signed is the part of a permit envelope the shared checks look at.
type signed struct {
	domain  Domain
	token   string
	spender string
	amount  func() (*big.Int, error)
	digest  func() ([]byte, error)
}

// ValidateSingle checks a PermitSingle for the swap flow.
func ValidateSingle(msg SingleMessage, signature string, exp Expected) Result {
	return validate(signed{
		domain:  msg.Domain,
		token:   msg.Message.Details.Token,
		spender: msg.Message.Spender,
		amount:  func() (*big.Int, error) { return msg.Message.Details.Amount.BigBits(160) },
		digest:  msg.Digest,
	}, signature, exp)
}

// ValidateTransferFrom checks a PermitTransferFrom for the payment flow.
func ValidateTransferFrom(msg TransferFromMessage, signature string, exp Expected) Result {
	return validate(signed{
		domain:  msg.Domain,
		token:   msg.Message.Permitted.Token,
		spender: msg.Message.Spender,
		amount:  func() (*big.Int, error) { return msg.Message.Permitted.Amount.BigBits(256) },
		digest:  msg.Digest,
	}, signature, exp)
}

// validate short-circuits on the first failing check: domain, token,
// spender, amount, signer.
func validate(s signed, signature string, exp Expected) Result {
	if s.domain.Name != DomainName ||
		s.domain.ChainID != exp.ChainID ||
		!evm.SameAddress(s.domain.VerifyingContract, exp.Permit2.Hex()) {
		return invalid("Invalid permit domain", "Domain must match Permit2 configuration for this chain")
	}
	if !evm.SameAddress(s.token, exp.Token.Hex()) {
		return invalid("Invalid permit token address", fmt.Sprintf("Token address must be %s", exp.Token.Hex()))
	}
	if !evm.SameAddress(s.spender, exp.Spender.Hex()) {
		return invalid("Invalid permit spender address", fmt.Sprintf("Spender address must be %s", exp.Spender.Hex()))
	}

	amount, err := s.amount()
	if err != nil {
		return invalid("Invalid permit amount", err.Error())
	}
	min := exp.MinAmount
	if min == nil {
		min = new(big.Int)
	}
	if amount.Cmp(min) < 0 {
		return invalid("Insufficient permit amount", fmt.Sprintf("Permit amount %s is less than required %s", amount, min))
	}

	digest, err := s.digest()
	if err != nil {
		return invalid("Failed to verify signature", err.Error())
	}
	sig, err := evm.DecodeSignature(signature)
	if err != nil {
		return invalid("Failed to verify signature", err.Error())
	}
	recovered, err := evm.RecoverAddressFromDigest(digest, sig)
	if err != nil {
		return invalid("Failed to verify signature", err.Error())
	}
	if !strings.EqualFold(recovered.Hex(), exp.User.Hex()) {
		return invalid("Invalid signature", fmt.Sprintf("Signature does not recover to %s. Recovered: %s", exp.User.Hex(), recovered.Hex()))
	}
	return Result{Valid: true}
}

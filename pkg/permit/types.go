// Package permit builds and validates Permit2 EIP-712 messages for the
// allowance swap flow (PermitSingle) and the signature-transfer payment flow
// (PermitTransferFrom).
package permit

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/DeLi-Labs/deli-app/pkg/evm"
)

const (
	PrimaryTypeSingle       = "PermitSingle"
	PrimaryTypeTransferFrom = "PermitTransferFrom"
)

// Domain is the EIP-712 domain of a permit envelope.
type Domain struct {
	Name              string `json:"name"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TypedField is one member of an EIP-712 struct type.
type TypedField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Types maps struct names to their members.
type Types map[string][]TypedField

type PermitDetails struct {
	Token      string      `json:"token"`
	Amount     evm.Decimal `json:"amount"`
	Expiration evm.Decimal `json:"expiration"`
	Nonce      evm.Decimal `json:"nonce"`
}

type PermitSingle struct {
	Details     PermitDetails `json:"details"`
	Spender     string        `json:"spender"`
	SigDeadline evm.Decimal   `json:"sigDeadline"`
}

// SingleMessage is an AllowanceTransfer PermitSingle envelope.
type SingleMessage struct {
	Domain      Domain       `json:"domain"`
	Types       Types        `json:"types"`
	PrimaryType string       `json:"primaryType"`
	Message     PermitSingle `json:"message"`
}

type TokenPermissions struct {
	Token  string      `json:"token"`
	Amount evm.Decimal `json:"amount"`
}

type PermitTransferFrom struct {
	Permitted TokenPermissions `json:"permitted"`
	Spender   string           `json:"spender"`
	Nonce     evm.Decimal      `json:"nonce"`
	Deadline  evm.Decimal      `json:"deadline"`
}

// TransferFromMessage is a SignatureTransfer PermitTransferFrom envelope.
type TransferFromMessage struct {
	Domain      Domain             `json:"domain"`
	Types       Types              `json:"types"`
	PrimaryType string             `json:"primaryType"`
	Message     PermitTransferFrom `json:"message"`
}

// Envelope is the client-submitted permit: message plus signature.
type Envelope struct {
	Message   json.RawMessage `json:"message"`
	Signature string          `json:"signature"`
}

// SingleTypes returns the type table for PermitSingle.
func SingleTypes() Types {
	return Types{
		"PermitSingle": {
			{Name: "details", Type: "PermitDetails"},
			{Name: "spender", Type: "address"},
			{Name: "sigDeadline", Type: "uint256"},
		},
		"PermitDetails": {
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint160"},
			{Name: "expiration", Type: "uint48"},
			{Name: "nonce", Type: "uint48"},
		},
	}
}

// TransferFromTypes returns the type table for PermitTransferFrom.
func TransferFromTypes() Types {
	return Types{
		"PermitTransferFrom": {
			{Name: "permitted", Type: "TokenPermissions"},
			{Name: "spender", Type: "address"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
		"TokenPermissions": {
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
	}
}

// NewSingleMessage builds a PermitSingle for the user to sign.
func NewSingleMessage(chainID int64, permit2, token common.Address, amount *big.Int, expiration, nonce uint64, spender common.Address, sigDeadline uint64) SingleMessage {
	return SingleMessage{
		Domain: Domain{
			Name:              DomainName,
			ChainID:           chainID,
			VerifyingContract: permit2.Hex(),
		},
		Types:       SingleTypes(),
		PrimaryType: PrimaryTypeSingle,
		Message: PermitSingle{
			Details: PermitDetails{
				Token:      token.Hex(),
				Amount:     evm.DecimalFromBig(amount),
				Expiration: evm.DecimalFromUint64(expiration),
				Nonce:      evm.DecimalFromUint64(nonce),
			},
			Spender:     spender.Hex(),
			SigDeadline: evm.DecimalFromUint64(sigDeadline),
		},
	}
}

// NewTransferFromMessage builds a PermitTransferFrom for the user to sign.
func NewTransferFromMessage(chainID int64, permit2, token common.Address, amount *big.Int, spender common.Address, nonce *big.Int, deadline *big.Int) TransferFromMessage {
	return TransferFromMessage{
		Domain: Domain{
			Name:              DomainName,
			ChainID:           chainID,
			VerifyingContract: permit2.Hex(),
		},
		Types:       TransferFromTypes(),
		PrimaryType: PrimaryTypeTransferFrom,
		Message: PermitTransferFrom{
			Permitted: TokenPermissions{
				Token:  token.Hex(),
				Amount: evm.DecimalFromBig(amount),
			},
			Spender:  spender.Hex(),
			Nonce:    evm.DecimalFromBig(nonce),
			Deadline: evm.DecimalFromBig(deadline),
		},
	}
}

// SingleValues is a PermitSingle with parsed fields, ready for hashing or
// ABI encoding.
type SingleValues struct {
	Token       common.Address
	Amount      *big.Int
	Expiration  *big.Int
	Nonce       *big.Int
	Spender     common.Address
	SigDeadline *big.Int
}

// Values parses the message fields and checks their widths.
func (m SingleMessage) Values() (SingleValues, error) {
	var v SingleValues
	var err error
	if v.Token, err = evm.ParseAddress(m.Message.Details.Token); err != nil {
		return v, fmt.Errorf("details.token: %w", err)
	}
	if v.Spender, err = evm.ParseAddress(m.Message.Spender); err != nil {
		return v, fmt.Errorf("spender: %w", err)
	}
	if v.Amount, err = m.Message.Details.Amount.BigBits(160); err != nil {
		return v, fmt.Errorf("details.amount: %w", err)
	}
	if v.Expiration, err = m.Message.Details.Expiration.BigBits(48); err != nil {
		return v, fmt.Errorf("details.expiration: %w", err)
	}
	if v.Nonce, err = m.Message.Details.Nonce.BigBits(48); err != nil {
		return v, fmt.Errorf("details.nonce: %w", err)
	}
	if v.SigDeadline, err = m.Message.SigDeadline.BigBits(256); err != nil {
		return v, fmt.Errorf("sigDeadline: %w", err)
	}
	return v, nil
}

// Digest is the EIP-712 digest the user signs.
func (m SingleMessage) Digest() ([]byte, error) {
	v, err := m.Values()
	if err != nil {
		return nil, err
	}
	verifying, err := evm.ParseAddress(m.Domain.VerifyingContract)
	if err != nil {
		return nil, fmt.Errorf("domain.verifyingContract: %w", err)
	}
	structHash := crypto.Keccak256Hash(
		PermitSingleTypeHash,
		hashPermitDetails(v.Token, v.Amount, v.Expiration, v.Nonce),
		pad32(v.Spender.Bytes()),
		padBig(v.SigDeadline),
	)
	return ComputeDigest(HashDomainSeparator(big.NewInt(m.Domain.ChainID), verifying), structHash), nil
}

// TransferFromValues is a PermitTransferFrom with parsed fields.
type TransferFromValues struct {
	Token    common.Address
	Amount   *big.Int
	Spender  common.Address
	Nonce    *big.Int
	Deadline *big.Int
}

// Values parses the message fields.
func (m TransferFromMessage) Values() (TransferFromValues, error) {
	var v TransferFromValues
	var err error
	if v.Token, err = evm.ParseAddress(m.Message.Permitted.Token); err != nil {
		return v, fmt.Errorf("permitted.token: %w", err)
	}
	if v.Spender, err = evm.ParseAddress(m.Message.Spender); err != nil {
		return v, fmt.Errorf("spender: %w", err)
	}
	if v.Amount, err = m.Message.Permitted.Amount.BigBits(256); err != nil {
		return v, fmt.Errorf("permitted.amount: %w", err)
	}
	if v.Nonce, err = m.Message.Nonce.BigBits(256); err != nil {
		return v, fmt.Errorf("nonce: %w", err)
	}
	if v.Deadline, err = m.Message.Deadline.BigBits(256); err != nil {
		return v, fmt.Errorf("deadline: %w", err)
	}
	return v, nil
}

// Digest is the EIP-712 digest the user signs. The spender is part of the
// struct hash, matching Permit2's own hashing with msg.sender.
func (m TransferFromMessage) Digest() ([]byte, error) {
	v, err := m.Values()
	if err != nil {
		return nil, err
	}
	verifying, err := evm.ParseAddress(m.Domain.VerifyingContract)
	if err != nil {
		return nil, fmt.Errorf("domain.verifyingContract: %w", err)
	}
	structHash := crypto.Keccak256Hash(
		PermitTransferFromTypeHash,
		hashTokenPermissions(v.Token, v.Amount),
		pad32(v.Spender.Bytes()),
		padBig(v.Nonce),
		padBig(v.Deadline),
	)
	return ComputeDigest(HashDomainSeparator(big.NewInt(m.Domain.ChainID), verifying), structHash), nil
}

func padBig(v *big.Int) []byte {
	return pad32(v.Bytes())
}

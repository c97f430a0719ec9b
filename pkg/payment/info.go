// Package payment models the escrow PaymentInfo record and reproduces the
// escrow contract's hash of it.
package payment

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DeLi-Labs/deli-app/pkg/evm"
)

// Info is the wire form of an escrow PaymentInfo.
type Info struct {
	Operator            string      `json:"operator"`
	Payer               string      `json:"payer"`
	Receiver            string      `json:"receiver"`
	Token               string      `json:"token"`
	MaxAmount           evm.Decimal `json:"maxAmount"`
	PreApprovalExpiry   evm.Decimal `json:"preApprovalExpiry"`
	AuthorizationExpiry evm.Decimal `json:"authorizationExpiry"`
	RefundExpiry        evm.Decimal `json:"refundExpiry"`
	MinFeeBps           uint16      `json:"minFeeBps"`
	MaxFeeBps           uint16      `json:"maxFeeBps"`
	FeeReceiver         string      `json:"feeReceiver"`
	Salt                evm.Decimal `json:"salt"`
}

// Struct is the ABI form of PaymentInfo. Field names follow the Solidity
// struct so it can be passed as a tuple argument.
type Struct struct {
	Operator            common.Address
	Payer               common.Address
	Receiver            common.Address
	Token               common.Address
	MaxAmount           *big.Int // uint120
	PreApprovalExpiry   *big.Int // uint48
	AuthorizationExpiry *big.Int // uint48
	RefundExpiry        *big.Int // uint48
	MinFeeBps           uint16
	MaxFeeBps           uint16
	FeeReceiver         common.Address
	Salt                *big.Int
}

// Struct parses and range-checks every field. Client-supplied infos are
// untrusted; anything that would not ABI-encode identically on chain is
// rejected here.
func (i Info) Struct() (Struct, error) {
	var s Struct
	addrs := []struct {
		name string
		in   string
		out  *common.Address
	}{
		{"operator", i.Operator, &s.Operator},
		{"payer", i.Payer, &s.Payer},
		{"receiver", i.Receiver, &s.Receiver},
		{"token", i.Token, &s.Token},
		{"feeReceiver", i.FeeReceiver, &s.FeeReceiver},
	}
	for _, a := range addrs {
		v, err := evm.ParseAddress(a.in)
		if err != nil {
			return Struct{}, fmt.Errorf("%s: %w", a.name, err)
		}
		*a.out = v
	}
	ints := []struct {
		name string
		in   evm.Decimal
		bits int
		out  **big.Int
	}{
		{"maxAmount", i.MaxAmount, 120, &s.MaxAmount},
		{"preApprovalExpiry", i.PreApprovalExpiry, 48, &s.PreApprovalExpiry},
		{"authorizationExpiry", i.AuthorizationExpiry, 48, &s.AuthorizationExpiry},
		{"refundExpiry", i.RefundExpiry, 48, &s.RefundExpiry},
		{"salt", i.Salt, 256, &s.Salt},
	}
	for _, n := range ints {
		v, err := n.in.BigBits(n.bits)
		if err != nil {
			return Struct{}, fmt.Errorf("%s: %w", n.name, err)
		}
		*n.out = v
	}
	if i.MinFeeBps > i.MaxFeeBps {
		return Struct{}, fmt.Errorf("minFeeBps %d exceeds maxFeeBps %d", i.MinFeeBps, i.MaxFeeBps)
	}
	s.MinFeeBps = i.MinFeeBps
	s.MaxFeeBps = i.MaxFeeBps
	return s, nil
}

// Info converts back to the wire form.
func (s Struct) Info() Info {
	return Info{
		Operator:            s.Operator.Hex(),
		Payer:               s.Payer.Hex(),
		Receiver:            s.Receiver.Hex(),
		Token:               s.Token.Hex(),
		MaxAmount:           evm.DecimalFromBig(s.MaxAmount),
		PreApprovalExpiry:   evm.DecimalFromBig(s.PreApprovalExpiry),
		AuthorizationExpiry: evm.DecimalFromBig(s.AuthorizationExpiry),
		RefundExpiry:        evm.DecimalFromBig(s.RefundExpiry),
		MinFeeBps:           s.MinFeeBps,
		MaxFeeBps:           s.MaxFeeBps,
		FeeReceiver:         s.FeeReceiver.Hex(),
		Salt:                evm.DecimalFromBig(s.Salt),
	}
}

// BuildParams are the chain-derived inputs of a fresh PaymentInfo.
type BuildParams struct {
	Operator common.Address // CampaignManager
	Payer    common.Address
	Receiver common.Address // treasury manager
	Token    common.Address // license token
	Amount   *big.Int
	Salt     *big.Int
	Now      int64 // unix seconds
}

// AuthorizationWindow is how long a prepared payment can be authorized,
// captured and refunded.
const AuthorizationWindow = 24 * 60 * 60

// Build assembles a PaymentInfo with zero fees and one-day expiries.
func Build(p BuildParams) Struct {
	expiry := big.NewInt(p.Now + AuthorizationWindow)
	return Struct{
		Operator:            p.Operator,
		Payer:               p.Payer,
		Receiver:            p.Receiver,
		Token:               p.Token,
		MaxAmount:           new(big.Int).Set(p.Amount),
		PreApprovalExpiry:   new(big.Int).Set(expiry),
		AuthorizationExpiry: new(big.Int).Set(expiry),
		RefundExpiry:        new(big.Int).Set(expiry),
		MinFeeBps:           0,
		MaxFeeBps:           0,
		FeeReceiver:         common.Address{},
		Salt:                new(big.Int).Set(p.Salt),
	}
}

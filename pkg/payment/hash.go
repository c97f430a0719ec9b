package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// keccak256("PaymentInfo(address operator,address payer,address receiver,address token,uint120 maxAmount,uint48 preApprovalExpiry,uint48 authorizationExpiry,uint48 refundExpiry,uint16 minFeeBps,uint16 maxFeeBps,address feeReceiver,uint256 salt)")
var TypeHash = crypto.Keccak256Hash([]byte("PaymentInfo(address operator,address payer,address receiver,address token,uint120 maxAmount,uint48 preApprovalExpiry,uint48 authorizationExpiry,uint48 refundExpiry,uint16 minFeeBps,uint16 maxFeeBps,address feeReceiver,uint256 salt)"))

var (
	structArgs = mustArgs(
		"bytes32", "address", "address", "address", "address",
		"uint120", "uint48", "uint48", "uint48", "uint16", "uint16",
		"address", "uint256",
	)
	domainArgs = mustArgs("uint256", "address", "bytes32")
)

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// InnerHash is keccak256(abi.encode(TypeHash, fields...)).
func (s Struct) InnerHash() (common.Hash, error) {
	packed, err := structArgs.Pack(
		[32]byte(TypeHash),
		s.Operator,
		s.Payer,
		s.Receiver,
		s.Token,
		s.MaxAmount,
		s.PreApprovalExpiry,
		s.AuthorizationExpiry,
		s.RefundExpiry,
		s.MinFeeBps,
		s.MaxFeeBps,
		s.FeeReceiver,
		s.Salt,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// Hash is the escrow's key for this payment:
// keccak256(abi.encode(chainId, escrow, InnerHash)).
func (s Struct) Hash(chainID *big.Int, escrow common.Address) (common.Hash, error) {
	inner, err := s.InnerHash()
	if err != nil {
		return common.Hash{}, err
	}
	packed, err := domainArgs.Pack(chainID, escrow, [32]byte(inner))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// PayerAgnosticHash is Hash with the payer zeroed. The Permit2 collector
// uses it as the signature-transfer nonce, so the permit can be signed
// before the payer is bound.
func (s Struct) PayerAgnosticHash(chainID *big.Int, escrow common.Address) (common.Hash, error) {
	s.Payer = common.Address{}
	return s.Hash(chainID, escrow)
}

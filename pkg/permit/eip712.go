package permit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// DomainName is the EIP-712 domain name Permit2 signs under.
const DomainName = "Permit2"

var (
	// keccak256("EIP712Domain(string name,uint256 chainId,address verifyingContract)")
	DomainTypeHash = crypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))

	// keccak256("PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)")
	PermitDetailsTypeHash = crypto.Keccak256([]byte("PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)"))

	PermitSingleTypeHash = crypto.Keccak256([]byte(
		"PermitSingle(PermitDetails details,address spender,uint256 sigDeadline)" +
			"PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)"))

	// keccak256("TokenPermissions(address token,uint256 amount)")
	TokenPermissionsTypeHash = crypto.Keccak256([]byte("TokenPermissions(address token,uint256 amount)"))

	PermitTransferFromTypeHash = crypto.Keccak256([]byte(
		"PermitTransferFrom(TokenPermissions permitted,address spender,uint256 nonce,uint256 deadline)" +
			"TokenPermissions(address token,uint256 amount)"))
)

// HashDomainSeparator computes the Permit2 domain separator.
// Fields: name, chainId, verifyingContract
func HashDomainSeparator(chainID *big.Int, verifyingContract common.Address) common.Hash {
	return crypto.Keccak256Hash(
		DomainTypeHash,
		crypto.Keccak256([]byte(DomainName)),
		math.PaddedBigBytes(chainID, 32),
		pad32(verifyingContract.Bytes()),
	)
}

// ComputeDigest combines the domain separator and struct hash.
// digest = keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message))
func ComputeDigest(domainSep common.Hash, structHash common.Hash) []byte {
	return crypto.Keccak256(
		[]byte("\x19\x01"),
		domainSep.Bytes(),
		structHash.Bytes(),
	)
}

func hashPermitDetails(token common.Address, amount, expiration, nonce *big.Int) []byte {
	return crypto.Keccak256(
		PermitDetailsTypeHash,
		pad32(token.Bytes()),
		math.PaddedBigBytes(amount, 32),
		math.PaddedBigBytes(expiration, 32),
		math.PaddedBigBytes(nonce, 32),
	)
}

func hashTokenPermissions(token common.Address, amount *big.Int) []byte {
	return crypto.Keccak256(
		TokenPermissionsTypeHash,
		pad32(token.Bytes()),
		math.PaddedBigBytes(amount, 32),
	)
}

func pad32(b []byte) []byte {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverAddressFromDigest returns the signer of a 32-byte digest. The
// signature may carry v as 0/1 or 27/28.
func RecoverAddressFromDigest(digest []byte, signature []byte) (common.Address, error) {
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("invalid digest length: %d", len(digest))
	}
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	v := sig[crypto.RecoveryIDOffset]
	if v == 27 || v == 28 {
		v -= 27
	}
	if v != 0 && v != 1 {
		return common.Address{}, fmt.Errorf("invalid signature v: %d", sig[crypto.RecoveryIDOffset])
	}
	sig[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PersonalSignHash is the EIP-191 digest wallets sign for personal_sign.
func PersonalSignHash(message string) []byte {
	return accounts.TextHash([]byte(message))
}

// RecoverPersonalSign recovers the address that personal_signed message.
func RecoverPersonalSign(message string, sigHex string) (common.Address, error) {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddressFromDigest(PersonalSignHash(message), sig)
}

// DecodeSignature parses a 0x-prefixed 65-byte hex signature.
func DecodeSignature(sigHex string) ([]byte, error) {
	sigHex = strings.TrimSpace(sigHex)
	if !strings.HasPrefix(sigHex, "0x") && !strings.HasPrefix(sigHex, "0X") {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	return sig, nil
}

// SignPersonal produces a personal_sign signature with v in {27,28}, the way
// browser wallets return it.
func SignPersonal(message string, sign func(digest []byte) ([]byte, error)) (string, error) {
	sig, err := sign(PersonalSignHash(message))
	if err != nil {
		return "", err
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return hexutil.Encode(sig), nil
}

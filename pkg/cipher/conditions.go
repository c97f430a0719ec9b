package cipher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReturnValueTest compares a condition's result against a value.
type ReturnValueTest struct {
	Comparator string `json:"comparator"`
	Value      string `json:"value"`
}

// AccessControlCondition is an EVM basic access condition. Field order is
// part of the hash and must not change.
type AccessControlCondition struct {
	ContractAddress      string          `json:"contractAddress"`
	StandardContractType string          `json:"standardContractType"`
	Chain                string          `json:"chain"`
	Method               string          `json:"method"`
	Parameters           []string        `json:"parameters"`
	ReturnValueTest      ReturnValueTest `json:"returnValueTest"`
}

// DefaultConditions grants decryption to any account; the payment check
// upstream of decryption is what gates access.
func DefaultConditions() []AccessControlCondition {
	return []AccessControlCondition{{
		ContractAddress:      "",
		StandardContractType: "",
		Chain:                "ethereum",
		Method:               "eth_getBalance",
		Parameters:           []string{":userAddress", "latest"},
		ReturnValueTest:      ReturnValueTest{Comparator: ">=", Value: "0"},
	}}
}

// WithChain returns a copy of conds bound to chain.
func WithChain(conds []AccessControlCondition, chain string) []AccessControlCondition {
	out := make([]AccessControlCondition, len(conds))
	copy(out, conds)
	if chain == "" {
		return out
	}
	for i := range out {
		out[i].Chain = chain
	}
	return out
}

// CanonicalConditions is the compact JSON of conds with HTML characters
// left unescaped, matching JSON.stringify.
func CanonicalConditions(conds []AccessControlCondition) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(conds); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// HashConditions is the lowercase hex SHA-256 of the canonical JSON of conds.
func HashConditions(conds []AccessControlCondition) (string, error) {
	raw, err := CanonicalConditions(conds)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ResourceID identifies one (access policy, ciphertext) pair.
func ResourceID(conds []AccessControlCondition, dataToEncryptHash string) (string, error) {
	h, err := HashConditions(conds)
	if err != nil {
		return "", err
	}
	return h + "/" + dataToEncryptHash, nil
}

// BalanceReader reads native balances for eth_getBalance conditions.
type BalanceReader interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Evaluate checks conds for user. Without a balance reader only conditions
// that hold for every account pass.
func Evaluate(ctx context.Context, conds []AccessControlCondition, user common.Address, balances BalanceReader) (bool, error) {
	for _, c := range conds {
		if c.Method != "eth_getBalance" || c.ContractAddress != "" {
			return false, fmt.Errorf("unsupported condition method %q", c.Method)
		}
		want, ok := new(big.Int).SetString(c.ReturnValueTest.Value, 10)
		if !ok {
			return false, fmt.Errorf("invalid condition value %q", c.ReturnValueTest.Value)
		}
		if balances == nil {
			if c.ReturnValueTest.Comparator == ">=" && want.Sign() == 0 {
				continue
			}
			return false, fmt.Errorf("no balance reader for condition")
		}
		bal, err := balances.Balance(ctx, user)
		if err != nil {
			return false, err
		}
		pass, err := compare(bal, c.ReturnValueTest.Comparator, want)
		if err != nil {
			return false, err
		}
		if !pass {
			return false, nil
		}
	}
	return true, nil
}

func compare(got *big.Int, comparator string, want *big.Int) (bool, error) {
	c := got.Cmp(want)
	switch comparator {
	case ">=":
		return c >= 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	case "<":
		return c < 0, nil
	case "=":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	default:
		return false, fmt.Errorf("unsupported comparator %q", comparator)
	}
}

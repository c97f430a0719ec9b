package evm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/cast"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ParseAddress parses a 0x-prefixed hex address, rejecting anything else.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !IsAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Decimal is an unsigned integer carried as a decimal string on the wire.
// JSON numbers are accepted too, since clients built on number-typed
// libraries send small values that way.
type Decimal string

// DecimalFromBig formats v as a Decimal.
func DecimalFromBig(v *big.Int) Decimal {
	if v == nil {
		return "0"
	}
	return Decimal(v.String())
}

// DecimalFromUint64 formats v as a Decimal.
func DecimalFromUint64(v uint64) Decimal {
	return Decimal(new(big.Int).SetUint64(v).String())
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Decimal(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decimal: %w", err)
	}
	*d = Decimal(n.String())
	return nil
}

// Big parses d. Hex values with a 0x prefix are accepted.
func (d Decimal) Big() (*big.Int, error) {
	s := strings.TrimSpace(string(d))
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative integer %q", s)
	}
	return v, nil
}

// BigBits parses d and checks it fits in an unsigned integer of the given width.
func (d Decimal) BigBits(bits int) (*big.Int, error) {
	v, err := d.Big()
	if err != nil {
		return nil, err
	}
	if v.BitLen() > bits {
		return nil, fmt.Errorf("integer %s overflows uint%d", v, bits)
	}
	return v, nil
}

// ToBig converts a loosely typed JSON value (string, float64, json.Number)
// into a big integer.
func ToBig(v interface{}) (*big.Int, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("missing integer")
	case *big.Int:
		return new(big.Int).Set(t), nil
	case string:
		return Decimal(t).Big()
	case json.Number:
		return Decimal(t.String()).Big()
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("unexpected type for integer: %T", v)
		}
		return Decimal(s).Big()
	}
}

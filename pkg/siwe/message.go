// Package siwe builds and verifies EIP-4361 session delegations.
package siwe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// SessionURIPrefix binds a delegation to one session public key.
	SessionURIPrefix = "lit:session:"

	DefaultStatement = "Lit Protocol session delegation"
	DefaultChainID   = 1
	DefaultExpiry    = 5 * time.Minute
	DefaultMaxAge    = 300 * time.Second

	headerSuffix = " wants you to sign in with your Ethereum account:"
	timeLayout   = "2006-01-02T15:04:05.000Z07:00"
)

// Message is a parsed SIWE message.
type Message struct {
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       *time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time
	RequestID      string
	Resources      []string
}

// SessionPublicKey returns the key a lit:session: uri delegates to.
func (m *Message) SessionPublicKey() (string, bool) {
	if !strings.HasPrefix(m.URI, SessionURIPrefix) {
		return "", false
	}
	return strings.TrimPrefix(m.URI, SessionURIPrefix), true
}

// String renders the message in EIP-4361 form.
func (m *Message) String() string {
	lines := []string{m.Domain + headerSuffix, m.Address, ""}
	if m.Statement != "" {
		lines = append(lines, m.Statement, "")
	}
	lines = append(lines,
		"URI: "+m.URI,
		"Version: "+m.Version,
		"Chain ID: "+strconv.FormatInt(m.ChainID, 10),
		"Nonce: "+m.Nonce,
	)
	if m.IssuedAt != nil {
		lines = append(lines, "Issued At: "+formatTime(*m.IssuedAt))
	}
	if m.ExpirationTime != nil {
		lines = append(lines, "Expiration Time: "+formatTime(*m.ExpirationTime))
	}
	if m.NotBefore != nil {
		lines = append(lines, "Not Before: "+formatTime(*m.NotBefore))
	}
	if m.RequestID != "" {
		lines = append(lines, "Request ID: "+m.RequestID)
	}
	if len(m.Resources) > 0 {
		lines = append(lines, "Resources:")
		for _, r := range m.Resources {
			lines = append(lines, "- "+r)
		}
	}
	return strings.Join(lines, "\n")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Parse reads an EIP-4361 message. Field order is fixed; optional fields may
// be omitted.
func Parse(raw string) (*Message, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("message too short")
	}
	m := &Message{}

	if !strings.HasSuffix(lines[0], headerSuffix) {
		return nil, fmt.Errorf("missing preamble")
	}
	m.Domain = strings.TrimSuffix(lines[0], headerSuffix)
	if m.Domain == "" || strings.ContainsAny(m.Domain, " \t") {
		return nil, fmt.Errorf("invalid domain %q", m.Domain)
	}

	m.Address = lines[1]
	if !common.IsHexAddress(m.Address) || !strings.HasPrefix(m.Address, "0x") || len(m.Address) != 42 {
		return nil, fmt.Errorf("invalid address %q", m.Address)
	}
	if m.Address != common.HexToAddress(m.Address).Hex() {
		return nil, fmt.Errorf("address %q is not EIP-55 checksummed", m.Address)
	}

	i := 2
	if i >= len(lines) || lines[i] != "" {
		return nil, fmt.Errorf("expected blank line after address")
	}
	i++
	if i < len(lines) && !strings.HasPrefix(lines[i], "URI: ") {
		m.Statement = lines[i]
		i++
		if i >= len(lines) || lines[i] != "" {
			return nil, fmt.Errorf("expected blank line after statement")
		}
		i++
	}

	next := func(prefix string, required bool) (string, bool, error) {
		if i < len(lines) && strings.HasPrefix(lines[i], prefix) {
			v := strings.TrimPrefix(lines[i], prefix)
			i++
			return v, true, nil
		}
		if required {
			return "", false, fmt.Errorf("missing %q", strings.TrimSuffix(prefix, ": "))
		}
		return "", false, nil
	}

	var err error
	if m.URI, _, err = next("URI: ", true); err != nil {
		return nil, err
	}
	if m.URI == "" {
		return nil, fmt.Errorf("empty URI")
	}
	if m.Version, _, err = next("Version: ", true); err != nil {
		return nil, err
	}
	if m.Version != "1" {
		return nil, fmt.Errorf("unsupported version %q", m.Version)
	}
	chain, _, err := next("Chain ID: ", true)
	if err != nil {
		return nil, err
	}
	if m.ChainID, err = strconv.ParseInt(chain, 10, 64); err != nil || m.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %q", chain)
	}
	if m.Nonce, _, err = next("Nonce: ", true); err != nil {
		return nil, err
	}
	if len(m.Nonce) < 8 {
		return nil, fmt.Errorf("nonce too short")
	}

	for _, f := range []struct {
		prefix string
		dst    **time.Time
	}{
		{"Issued At: ", &m.IssuedAt},
		{"Expiration Time: ", &m.ExpirationTime},
		{"Not Before: ", &m.NotBefore},
	} {
		v, ok, _ := next(f.prefix, false)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s%q", f.prefix, v)
		}
		*f.dst = &ts
	}
	m.RequestID, _, _ = next("Request ID: ", false)

	if _, ok, _ := next("Resources:", false); ok {
		for i < len(lines) && strings.HasPrefix(lines[i], "- ") {
			m.Resources = append(m.Resources, strings.TrimPrefix(lines[i], "- "))
			i++
		}
	}
	for ; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return nil, fmt.Errorf("unexpected line %q", lines[i])
		}
	}
	return m, nil
}

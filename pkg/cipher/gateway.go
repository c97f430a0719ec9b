// Package cipher encrypts attachments under access-control conditions and
// decrypts them for holders of a signed session delegation.
package cipher

import (
	"context"

	"github.com/spf13/cast"

	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
	"github.com/DeLi-Labs/deli-app/pkg/siwe"
)

// Gateway types selectable in configuration.
const (
	TypeLocal = "local"
	TypeLit   = "lit"
)

// chainMetadataKey records the condition chain chosen at encrypt time.
const chainMetadataKey = "accChain"

// Auth is the delegation a decryptor acts on: the wallet-signed SIWE
// capability and the session key it names.
type Auth struct {
	AuthSig        siwe.AuthSig
	SessionKeyPair sessiontoken.KeyPair
}

type EncryptOptions struct {
	Chain    string
	Metadata map[string]interface{}
}

type DecryptOptions struct {
	Auth   Auth
	Chain  string
	Domain string
}

// Decrypted is plaintext plus the metadata stored beside the ciphertext.
type Decrypted struct {
	Data     []byte
	Metadata map[string]interface{}
}

// Gateway is implemented by every decryption backend.
type Gateway interface {
	Type() string
	Encrypt(ctx context.Context, data []byte, opts EncryptOptions) (*EncryptedData, error)
	Decrypt(ctx context.Context, ed *EncryptedData, opts DecryptOptions) (*Decrypted, error)
	// ResourceID names the decryption resource a delegation must grant for ed.
	ResourceID(ed *EncryptedData) (string, error)
}

// conditionsFor rebuilds the conditions ed was encrypted under. An explicit
// chain overrides the recorded one.
func conditionsFor(base []AccessControlCondition, ed *EncryptedData, chain string) []AccessControlCondition {
	if chain == "" && ed != nil && ed.Metadata != nil {
		chain = cast.ToString(ed.Metadata[chainMetadataKey])
	}
	return WithChain(base, chain)
}

func withChainMetadata(meta map[string]interface{}, chain string) map[string]interface{} {
	out := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if chain != "" {
		out[chainMetadataKey] = chain
	}
	return out
}

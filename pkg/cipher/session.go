package cipher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
	"github.com/DeLi-Labs/deli-app/pkg/siwe"
)

const (
	DerivedViaSessionSign = "litSessionSignViaNacl"
	SessionSigAlgo        = "ed25519"

	// SessionSigTTL bounds how long a node accepts one session signature.
	SessionSigTTL = 15 * time.Minute
)

// ResourceAbilityRequest asks a node for one ability on one resource.
type ResourceAbilityRequest struct {
	Resource string `json:"resource"`
	Ability  string `json:"ability"`
}

// sessionSigMessage is the JSON a session key signs for one node.
type sessionSigMessage struct {
	SessionKey              string                   `json:"sessionKey"`
	ResourceAbilityRequests []ResourceAbilityRequest `json:"resourceAbilityRequests"`
	Capabilities            []siwe.AuthSig           `json:"capabilities"`
	IssuedAt                string                   `json:"issuedAt"`
	Expiration              string                   `json:"expiration"`
	NodeAddress             string                   `json:"nodeAddress"`
}

// SignSessionSig signs a request to decrypt resourceID at nodeAddress with
// the session key, carrying the wallet capability that delegates to it.
func SignSessionSig(pair sessiontoken.KeyPair, capability siwe.AuthSig, resourceID, nodeAddress string, now time.Time) (siwe.AuthSig, error) {
	msg := sessionSigMessage{
		SessionKey: pair.PublicKey,
		ResourceAbilityRequests: []ResourceAbilityRequest{{
			Resource: siwe.ResourcePrefix + resourceID,
			Ability:  siwe.DecryptionAbility,
		}},
		Capabilities: []siwe.AuthSig{capability},
		IssuedAt:     now.UTC().Format(time.RFC3339Nano),
		Expiration:   now.Add(SessionSigTTL).UTC().Format(time.RFC3339Nano),
		NodeAddress:  nodeAddress,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return siwe.AuthSig{}, err
	}
	sig, err := pair.Sign(raw)
	if err != nil {
		return siwe.AuthSig{}, apperr.ErrSessionKey.Wrap(err.Error())
	}
	return siwe.AuthSig{
		Sig:           sig,
		DerivedVia:    DerivedViaSessionSign,
		SignedMessage: string(raw),
		Address:       pair.PublicKey,
		Algo:          SessionSigAlgo,
	}, nil
}

// VerifySessionSig performs the checks a decrypting node runs before
// releasing a key and returns the verified wallet capability.
func VerifySessionSig(sig siwe.AuthSig, resourceID, nodeAddress string, now time.Time) (*siwe.Message, error) {
	if sig.DerivedVia != DerivedViaSessionSign || sig.Algo != SessionSigAlgo {
		return nil, apperr.ErrDecryptionDenied.Wrapf("unsupported session signature %s/%s", sig.DerivedVia, sig.Algo)
	}
	if !sessiontoken.VerifySessionSignature(sig.Address, []byte(sig.SignedMessage), sig.Sig) {
		return nil, apperr.ErrDecryptionDenied.Wrap("session signature does not verify")
	}

	var msg sessionSigMessage
	if err := json.Unmarshal([]byte(sig.SignedMessage), &msg); err != nil {
		return nil, apperr.ErrDecryptionDenied.Wrapf("session message: %v", err)
	}
	if !strings.EqualFold(msg.SessionKey, sig.Address) {
		return nil, apperr.ErrDecryptionDenied.Wrap("session key does not match signer")
	}
	if msg.NodeAddress != nodeAddress {
		return nil, apperr.ErrDecryptionDenied.Wrapf("session signature is for node %s", msg.NodeAddress)
	}
	exp, err := time.Parse(time.RFC3339Nano, msg.Expiration)
	if err != nil {
		return nil, apperr.ErrDecryptionDenied.Wrapf("session expiration: %v", err)
	}
	if !now.Before(exp) {
		return nil, apperr.ErrDecryptionDenied.Wrap("session signature expired")
	}
	if !requestsDecryption(msg.ResourceAbilityRequests, resourceID) {
		return nil, apperr.ErrDecryptionDenied.Wrapf("session does not request decryption of %s", resourceID)
	}
	if len(msg.Capabilities) == 0 {
		return nil, apperr.ErrDecryptionDenied.Wrap("no capability")
	}

	capMsg, err := siwe.VerifyAuthSig(msg.Capabilities[0], now)
	if err != nil {
		return nil, apperr.ErrDecryptionDenied.Wrapf("capability: %v", err)
	}
	pub, _ := capMsg.SessionPublicKey()
	if !strings.EqualFold(pub, msg.SessionKey) {
		return nil, apperr.ErrDecryptionDenied.Wrap("capability delegates to a different session key")
	}
	if !capMsg.AuthorizesDecryption(resourceID) {
		return nil, apperr.ErrDecryptionDenied.Wrap(fmt.Sprintf("capability does not cover %s", resourceID))
	}
	return capMsg, nil
}

func requestsDecryption(reqs []ResourceAbilityRequest, resourceID string) bool {
	want := siwe.ResourcePrefix + resourceID
	for _, r := range reqs {
		if r.Resource == want && r.Ability == siwe.DecryptionAbility {
			return true
		}
	}
	return false
}

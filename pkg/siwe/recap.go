package siwe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	recapPrefix = "urn:recap:"

	// ResourcePrefix names an access-control-condition resource.
	ResourcePrefix = "lit-accesscontrolcondition://"

	// DecryptionAbility is the resource ability a session signature requests.
	DecryptionAbility = "access-control-condition-decryption"

	recapNamespace = "Threshold"
	recapAbility   = "Decryption"
)

type recap struct {
	Att map[string]map[string][]map[string]interface{} `json:"att"`
	Prf []string                                       `json:"prf"`
}

// DecryptionRecap returns the urn:recap: resource granting decryption of
// resourceID, and the statement clause that must accompany it.
func DecryptionRecap(resourceID string) (resource string, statement string, err error) {
	target := ResourcePrefix + resourceID
	r := recap{
		Att: map[string]map[string][]map[string]interface{}{
			target: {recapNamespace + "/" + recapAbility: {{}}},
		},
		Prf: []string{},
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "", "", err
	}
	resource = recapPrefix + base64.RawURLEncoding.EncodeToString(raw)
	statement = fmt.Sprintf("I further authorize the stated URI to perform the following actions on my behalf: (1) '%s': '%s' for '%s'.",
		recapNamespace, recapAbility, target)
	return resource, statement, nil
}

func decodeRecap(resource string) (*recap, error) {
	enc := strings.TrimPrefix(resource, recapPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(enc, "="))
	if err != nil {
		return nil, fmt.Errorf("decode recap: %w", err)
	}
	var r recap
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse recap: %w", err)
	}
	return &r, nil
}

// AuthorizesDecryption reports whether a ReCap resource in m grants
// decryption of resourceID.
func (m *Message) AuthorizesDecryption(resourceID string) bool {
	target := ResourcePrefix + resourceID
	for _, res := range m.Resources {
		if !strings.HasPrefix(res, recapPrefix) {
			continue
		}
		r, err := decodeRecap(res)
		if err != nil {
			continue
		}
		abilities, ok := r.Att[target]
		if !ok {
			abilities, ok = r.Att[ResourcePrefix+"*"]
		}
		if !ok {
			continue
		}
		if _, ok := abilities[recapNamespace+"/"+recapAbility]; ok {
			return true
		}
		if _, ok := abilities["*/*"]; ok {
			return true
		}
	}
	return false
}

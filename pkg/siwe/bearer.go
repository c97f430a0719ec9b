package siwe

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
)

const bearerPrefix = "Bearer "

// Bearer is the signed challenge a client echoes back in the
// Authorization header.
type Bearer struct {
	Message     string `json:"message"`
	Signature   string `json:"signature"`
	OpaqueToken string `json:"opaqueToken"`
}

// ParseBearer decodes `Bearer base64(JSON{message, signature, opaqueToken})`.
func ParseBearer(header string) (Bearer, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return Bearer{}, apperr.ErrMalformedAuth.Wrap("Authorization header must use the Bearer scheme")
	}
	enc := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(enc, "="))
		if err != nil {
			return Bearer{}, apperr.ErrMalformedAuth.Wrap("payload is not base64")
		}
	}
	var b Bearer
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bearer{}, apperr.ErrMalformedAuth.Wrap("payload is not JSON")
	}
	if b.Message == "" || b.Signature == "" {
		return Bearer{}, apperr.ErrMalformedAuth.Wrap("message and signature are required")
	}
	if b.OpaqueToken == "" {
		return Bearer{}, apperr.ErrMalformedAuth.Wrap("opaqueToken is required")
	}
	return b, nil
}

// Encode renders b as an Authorization header value.
func (b Bearer) Encode() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return bearerPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

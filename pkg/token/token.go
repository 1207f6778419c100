// Package token decodes the payload segment of compact signed tokens (JWTs)
// issued by the identity provider.
//
// Decoding performs no signature verification. A decoded Payload is display and
// role-derivation data only; it is trusted only when the raw token came straight
// from the provider's token endpoint.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedToken is returned when the token is not three dot-separated segments
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidEncoding is returned when the payload segment is not valid base64url
	ErrInvalidEncoding = errors.New("invalid token encoding")
	// ErrInvalidPayload is returned when the payload segment is not a JSON object
	ErrInvalidPayload = errors.New("invalid token payload")
)

var urlAlphabet = strings.NewReplacer("-", "+", "_", "/")

// Decode extracts the claims of a header.payload.signature token
func Decode(raw string) (Payload, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	segment := urlAlphabet.Replace(parts[1])
	if rem := len(segment) % 4; rem != 0 {
		segment += strings.Repeat("=", 4-rem)
	}

	data, err := base64.StdEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: empty claims", ErrInvalidPayload)
	}

	return payload, nil
}

// DecodeOrNil decodes a token and returns nil on any failure.
// Callers use it where a bad token must degrade to "no payload available".
func DecodeOrNil(raw string) Payload {
	if raw == "" {
		return nil
	}
	payload, err := Decode(raw)
	if err != nil {
		return nil
	}
	return payload
}

// DecodePreferred decodes the access token and falls back to the ID token when
// the access token carries no role claims. Keycloak puts realm_access and
// resource_access on the access token, so the ID token only fills the gaps:
// its claims are merged over the access token claims.
func DecodePreferred(accessToken, idToken string) Payload {
	payload := DecodeOrNil(accessToken)
	if payload.HasRoleClaims() || idToken == "" {
		return payload
	}

	idPayload := DecodeOrNil(idToken)
	if idPayload == nil {
		return payload
	}
	return payload.Merge(idPayload)
}

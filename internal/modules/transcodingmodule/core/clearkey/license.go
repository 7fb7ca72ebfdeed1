package clearkey

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// License is a W3C Clear Key license response, as EME players request it
type License struct {
	Keys []JSONWebKey `json:"keys"`
	Type string       `json:"type"`
}

// JSONWebKey is a symmetric key with base64url (unpadded) fields
type JSONWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	K   string `json:"k"`
}

// NewLicense converts a hex key pair into a temporary-session license
func NewLicense(key types.ClearKey) (*License, error) {
	kid, err := hex.DecodeString(key.KeyID)
	if err != nil {
		return nil, fmt.Errorf("invalid key id: %w", err)
	}
	k, err := hex.DecodeString(key.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	return &License{
		Keys: []JSONWebKey{{
			Kty: "oct",
			Kid: base64.RawURLEncoding.EncodeToString(kid),
			K:   base64.RawURLEncoding.EncodeToString(k),
		}},
		Type: "temporary",
	}, nil
}

// Package clearkey generates raw content keys for packager encryption and
// renders them for the player.
package clearkey

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// FileName is the side-car written next to encrypted manifests
const FileName = "clearkey.json"

const keySize = 16

// Generator draws keys from a cryptographically secure source
type Generator struct {
	rand io.Reader
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// Generate returns a fresh key ID and key, each 16 random bytes as
// lowercase hex
func (g *Generator) Generate() (types.ClearKey, error) {
	kid, err := g.randomHex()
	if err != nil {
		return types.ClearKey{}, fmt.Errorf("failed to generate key id: %w", err)
	}
	key, err := g.randomHex()
	if err != nil {
		return types.ClearKey{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return types.ClearKey{KeyID: kid, Key: key}, nil
}

func (g *Generator) randomHex() (string, error) {
	b := make([]byte, keySize)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WriteFile stores the key as {"key_id": ..., "key": ...} in dir/clearkey.json,
// readable only by the owner
func WriteFile(dir string, key types.ClearKey) (string, error) {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return path, nil
}

// ReadFile loads a key written by WriteFile
func ReadFile(path string) (types.ClearKey, error) {
	var key types.ClearKey
	data, err := os.ReadFile(path)
	if err != nil {
		return key, err
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return key, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := Validate(key); err != nil {
		return key, err
	}
	return key, nil
}

// Validate checks both fields are 32 lowercase hex characters
func Validate(key types.ClearKey) error {
	for name, v := range map[string]string{"key_id": key.KeyID, "key": key.Key} {
		if len(v) != keySize*2 {
			return fmt.Errorf("%s must be %d hex characters", name, keySize*2)
		}
		for _, c := range v {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				return fmt.Errorf("%s must be lowercase hex", name)
			}
		}
	}
	return nil
}

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Key format: rk_{env}_{prefix}_{secret}
// Example: rk_live_7a9f3c_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	KeyScheme    = "rk"
	KeyPrefixLen = 6  // hex chars, used for lookup
	KeySecretLen = 32 // hex chars
)

// Environment markers embedded in every key.
const (
	EnvLive = "live"
	EnvTest = "test"
)

// ErrInvalidKeyFormat indicates the key format is invalid.
var ErrInvalidKeyFormat = errors.New("invalid API key format")

// GeneratedKey is a freshly issued key. Plaintext is shown to the user once;
// only Hash and Prefix are stored.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// ParsedKey holds the parts of a well-formed plaintext key.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// String reassembles the plaintext key.
func (p *ParsedKey) String() string {
	return FormatAPIKey(p.Env, p.Prefix, p.Secret)
}

// ValidEnv reports whether env may appear in a key.
func ValidEnv(env string) bool {
	return env == EnvLive || env == EnvTest
}

// GenerateAPIKey issues a key for env. Unknown environments get EnvLive.
func GenerateAPIKey(env string) (*GeneratedKey, error) {
	if !ValidEnv(env) {
		env = EnvLive
	}

	prefix, err := randomHex(KeyPrefixLen)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := FormatAPIKey(env, prefix, secret)

	hash, err := HashKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    prefix,
	}, nil
}

// FormatAPIKey assembles a plaintext key from its parts.
func FormatAPIKey(env, prefix, secret string) string {
	return strings.Join([]string{KeyScheme, env, prefix, secret}, "_")
}

// ParseAPIKey splits a plaintext key into its parts. Prefix and secret
// must be lowercase hex of the exact lengths.
func ParseAPIKey(key string) (*ParsedKey, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 4 || parts[0] != KeyScheme || !ValidEnv(parts[1]) {
		return nil, ErrInvalidKeyFormat
	}
	if !isLowerHex(parts[2], KeyPrefixLen) || !isLowerHex(parts[3], KeySecretLen) {
		return nil, ErrInvalidKeyFormat
	}

	return &ParsedKey{
		Env:    parts[1],
		Prefix: parts[2],
		Secret: parts[3],
	}, nil
}

// randomHex returns n lowercase hex characters from crypto/rand. n is even.
func randomHex(n int) (string, error) {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

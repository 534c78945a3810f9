package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	APIKeyPrefix       = "sk_"
	RefreshTokenPrefix = "rt_"

	// secretBytes of entropy behind every generated key and refresh token.
	secretBytes = 32
)

// CredentialType is the result of classifying a bearer credential by its prefix.
type CredentialType int

const (
	CredentialJWT CredentialType = iota
	CredentialAPIKey
)

func (t CredentialType) String() string {
	if t == CredentialAPIKey {
		return "api_key"
	}
	return "jwt"
}

// Classify inspects only the prefix. Anything that is not an API key is treated as a JWT.
func Classify(credential string) CredentialType {
	if strings.HasPrefix(credential, APIKeyPrefix) {
		return CredentialAPIKey
	}
	return CredentialJWT
}

func GenerateAPIKey() (string, error) {
	return randomToken(APIKeyPrefix)
}

func GenerateRefreshToken() (string, error) {
	return randomToken(RefreshTokenPrefix)
}

// HashAPIKey is a fast deterministic digest used for indexed lookup.
// Keys carry 256 bits of generated entropy, so a slow hash is not needed.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func VerifyAPIKey(raw, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIKey(raw)), []byte(digest)) == 1
}

func randomToken(prefix string) (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

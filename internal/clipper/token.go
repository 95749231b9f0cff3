package clipper

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenSaltLength = 16
	tokenKeyLength  = 32
	tokenIterations = 4096
)

// HashToken derives a salted PBKDF2 digest of a worker bearer token so
// configuration can carry the digest instead of the plain secret. The output
// format is hex(salt):hex(digest).
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is required")
	}
	salt := make([]byte, tokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate token salt: %w", err)
	}
	digest := pbkdf2.Key([]byte(token), salt, tokenIterations, tokenKeyLength, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest), nil
}

// VerifyToken reports whether the presented token matches an encoded digest
// produced by HashToken. Comparison is constant time.
func VerifyToken(token, encoded string) bool {
	if token == "" || encoded == "" {
		return false
	}
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest := pbkdf2.Key([]byte(token), salt, tokenIterations, len(expected), sha256.New)
	return hmac.Equal(digest, expected)
}

package security

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // legacy hash methods remain verifiable
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// Default parameters for newly hashed client secrets. Existing records keep
// the parameters they were hashed with, so changing these never invalidates
// stored credentials.
const (
	DefaultHashMethod     = "sha512"
	DefaultHashIterations = 20000

	// SaltLength is the number of characters in a generated salt.
	SaltLength = 32
)

// SecretStore carries the hashing parameters applied to secrets that do not
// yet have parameters of their own.
type SecretStore struct {
	Method     string
	Iterations int
}

// NewSecretStore returns a SecretStore, substituting defaults for zero values.
func NewSecretStore(method string, iterations int) SecretStore {
	if method == "" {
		method = DefaultHashMethod
	}
	if iterations <= 0 {
		iterations = DefaultHashIterations
	}
	return SecretStore{Method: method, Iterations: iterations}
}

// HashSecret derives a hex-encoded PBKDF2 key from the secret using the given
// digest method, salt and iteration count. The derived key length equals the
// digest size, so sha512 yields 128 hex characters.
func HashSecret(method, secret, salt string, iterations int) (string, error) {
	fn, err := digest(method)
	if err != nil {
		return "", err
	}
	key := pbkdf2.Key([]byte(secret), []byte(salt), iterations, fn().Size(), fn)
	return hex.EncodeToString(key), nil
}

func digest(method string) (func() hash.Hash, error) {
	switch method {
	case "sha512":
		return sha512.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha1":
		return sha1.New, nil
	}
	return nil, fmt.Errorf("unsupported hash method %q", method)
}

// ConstantTimeEquals compares two strings without leaking the position of the
// first differing byte.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RandomToken returns n hex characters from a CSPRNG. It panics if the
// platform entropy source fails, which the runtime treats as unrecoverable.
func RandomToken(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("security: entropy source failed: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}

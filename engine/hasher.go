package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ory/fosite"

	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// Stored client credentials travel through the engine as an encoded blob so
// that per-record hashing parameters survive the fosite.Client interface,
// which only carries a single hashed-secret byte slice.
//
//	pbkdf2:<method>:<iterations>:<salt>:<hex>   hashed record
//	plain:<secret>                              legacy plaintext record
const (
	schemeHashed = "pbkdf2"
	schemePlain  = "plain"
)

var errSecretMismatch = errors.New("engine: client secret mismatch")

// EncodeSecret renders a client's stored credential, whatever its migration
// state, into the blob format SecretHasher.Compare understands.
func EncodeSecret(c *storage.Client) string {
	if strings.TrimSpace(c.HashedSecret) == "" {
		return schemePlain + ":" + c.Secret
	}
	return strings.Join([]string{
		schemeHashed, c.HashMethod, strconv.Itoa(c.HashIterations), c.Salt, c.HashedSecret,
	}, ":")
}

// SecretHasher implements the engine's hasher contract on top of the secret
// store, so client authentication inside the engine follows the same
// verification rules as the repositories: PBKDF2 with the record's own
// parameters, constant-time plaintext comparison for unmigrated records.
type SecretHasher struct {
	store security.SecretStore
}

var _ fosite.Hasher = (*SecretHasher)(nil)

// NewSecretHasher creates a SecretHasher with the given defaults for newly
// hashed secrets.
func NewSecretHasher(store security.SecretStore) *SecretHasher {
	return &SecretHasher{store: store}
}

// Compare checks the presented secret against an encoded credential blob.
func (h *SecretHasher) Compare(_ context.Context, hash, data []byte) error {
	encoded := string(hash)
	switch {
	case strings.HasPrefix(encoded, schemePlain+":"):
		if !security.ConstantTimeEquals(strings.TrimPrefix(encoded, schemePlain+":"), string(data)) {
			return errSecretMismatch
		}
		return nil

	case strings.HasPrefix(encoded, schemeHashed+":"):
		fields := strings.SplitN(encoded, ":", 5)
		if len(fields) != 5 {
			return fmt.Errorf("engine: malformed credential blob")
		}
		iterations, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("engine: malformed iteration count: %w", err)
		}
		derived, err := security.HashSecret(fields[1], string(data), fields[3], iterations)
		if err != nil {
			return err
		}
		if !security.ConstantTimeEquals(fields[4], derived) {
			return errSecretMismatch
		}
		return nil
	}
	return fmt.Errorf("engine: unrecognized credential encoding")
}

// Hash derives a fresh credential blob for the given secret using the secret
// store defaults and a new salt.
func (h *SecretHasher) Hash(_ context.Context, data []byte) ([]byte, error) {
	salt := security.RandomToken(security.SaltLength)
	hashed, err := security.HashSecret(h.store.Method, string(data), salt, h.store.Iterations)
	if err != nil {
		return nil, err
	}
	blob := strings.Join([]string{
		schemeHashed, h.store.Method, strconv.Itoa(h.store.Iterations), salt, hashed,
	}, ":")
	return []byte(blob), nil
}

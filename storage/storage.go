// Package storage defines the entity model and repository contracts of the
// authorization server: clients, scopes, and the three token families
// (authorization codes, access tokens, refresh tokens).
//
// Two implementations ship with the module: storage/memory for development
// and tests, and storage/sqlite for persistent deployments. Both enforce the
// same observable semantics, in particular soft-delete revocation: revoking a
// token flips its revoked flag and the row survives until an administrator
// removes it out of band.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all repository implementations.
var (
	// ErrNotFound is returned when no row matches the lookup key.
	ErrNotFound = errors.New("storage: not found")

	// ErrAlreadyExists is returned when a unique column collides.
	ErrAlreadyExists = errors.New("storage: already exists")
)

// TTLConfig carries the token lifetimes the repositories stamp onto new
// records. Access tokens store their issue time and add AccessTokenTTL when
// read; codes and refresh tokens store their final expiry outright.
type TTLConfig struct {
	AccessTokenTTL  time.Duration
	AuthCodeTTL     time.Duration
	RefreshTokenTTL time.Duration
}

// DefaultTTLConfig mirrors the configuration defaults.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		AccessTokenTTL:  time.Hour,
		AuthCodeTTL:     10 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}
}

// ClientRepository manages registered OAuth clients.
type ClientRepository interface {
	// Lookup returns the client with the given opaque identifier, or
	// ErrNotFound.
	Lookup(ctx context.Context, identifier string) (*Client, error)

	// Validate checks a presented secret (and requested grant type) against
	// the stored client. Only confidential clients can pass: an unknown
	// identifier or a public client yields false, not an error.
	// Grant-type restriction is enforced by the protocol engine from the
	// client attributes, so the parameter is accepted for interface
	// compatibility and otherwise unused.
	Validate(ctx context.Context, identifier, secret, grantType string) (bool, error)

	// Create persists a new client. The secret store's write hook runs
	// before the row is stored, so plaintext never reaches the backend.
	Create(ctx context.Context, client *Client) error

	// Update rewrites an existing client, running the same write hook. This
	// is the path that migrates legacy plaintext secrets to PBKDF2.
	Update(ctx context.Context, client *Client) error
}

// ScopeRepository manages the scope reference data.
type ScopeRepository interface {
	// Lookup returns the scope with the given identifier, or ErrNotFound.
	Lookup(ctx context.Context, identifier string) (*Scope, error)

	// Finalize gives the host a hook to veto or narrow scopes before a
	// grant is finalized. The default implementations return the list
	// unchanged.
	Finalize(ctx context.Context, scopes []Scope, grantType string, client *Client, userID string) ([]Scope, error)

	// Create persists a new scope.
	Create(ctx context.Context, scope *Scope) error
}

// AuthCodeRepository manages authorization code records.
type AuthCodeRepository interface {
	// New returns an unsaved record.
	New() *AuthCode

	// Lookup returns the code record whatever its revocation state, or
	// ErrNotFound.
	Lookup(ctx context.Context, code string) (*AuthCode, error)

	// PersistNew stores a record that has never been saved.
	// ErrAlreadyExists signals a code collision.
	PersistNew(ctx context.Context, authCode *AuthCode) error

	// Revoke soft-deletes the record. Revoking an unknown or already
	// revoked code is a no-op; gone is an acceptable terminal state.
	Revoke(ctx context.Context, code string) error

	// IsRevoked reports the revocation state. Unknown codes are reported as
	// revoked: the caller must fail closed.
	IsRevoked(ctx context.Context, code string) (bool, error)
}

// AccessTokenRepository manages access token records.
type AccessTokenRepository interface {
	// New returns an unsaved record.
	New() *AccessToken

	// Issue builds an unsaved token bound to a client, scope set, and
	// optional user.
	Issue(client *Client, scopes []Scope, userID string) *AccessToken

	// Lookup returns the token record whatever its revocation state, or
	// ErrNotFound.
	Lookup(ctx context.Context, code string) (*AccessToken, error)

	// PersistNew stores a record that has never been saved.
	PersistNew(ctx context.Context, token *AccessToken) error

	// Revoke soft-deletes the record.
	Revoke(ctx context.Context, code string) error

	// IsRevoked reports the revocation state, treating unknown codes as
	// revoked.
	IsRevoked(ctx context.Context, code string) (bool, error)
}

// RefreshTokenRepository manages refresh token records and their link to the
// access token each one was minted alongside.
type RefreshTokenRepository interface {
	// New returns an unsaved record.
	New() *RefreshToken

	// Lookup returns the token record whatever its revocation state, or
	// ErrNotFound.
	Lookup(ctx context.Context, code string) (*RefreshToken, error)

	// PersistNew stores a record that has never been saved.
	PersistNew(ctx context.Context, token *RefreshToken) error

	// Revoke soft-deletes the record.
	Revoke(ctx context.Context, code string) error

	// IsRevoked reports the revocation state, treating unknown codes as
	// revoked.
	IsRevoked(ctx context.Context, code string) (bool, error)

	// AccessToken resolves the access token this refresh token belongs to.
	AccessToken(ctx context.Context, token *RefreshToken) (*AccessToken, error)
}

// GrantRevoker revokes every token minted under one engine request. Both
// token repositories implement it; the engine uses it for grant-wide
// revocation during refresh token rotation.
type GrantRevoker interface {
	RevokeByRequestID(ctx context.Context, requestID string) error
}

package storage

import "time"

// TokenRecord is the state shared by all three token families: the opaque
// code (or JWT signature) under which the record is stored, the persisted
// expiry anchor, the soft-delete flag, and the engine request that minted it.
type TokenRecord struct {
	ID        int64
	Code      string
	Expiry    time.Time
	Revoked   bool
	RequestID string
}

// AccessToken is an issued access token. Expiry holds the issue time, not
// the final deadline; see ExpiresAt.
type AccessToken struct {
	TokenRecord
	ClientIdentifier string
	UserID           string
	Scopes           []Scope
}

// ExpiresAt returns the moment the token stops being valid: the stored
// anchor plus the configured access token TTL, computed at read time. A TTL
// change therefore retroactively shortens or extends tokens already issued.
func (t *AccessToken) ExpiresAt(cfg TTLConfig) time.Time {
	return t.Expiry.Add(cfg.AccessTokenTTL)
}

// AuthCode is an issued authorization code. Unlike access tokens the stored
// Expiry is the final deadline, fixed at issue time.
type AuthCode struct {
	TokenRecord
	ClientIdentifier    string
	UserID              string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []Scope
}

// ExpiresAt returns the stored deadline unchanged.
func (t *AuthCode) ExpiresAt() time.Time {
	return t.Expiry
}

// RefreshToken is an issued refresh token. Each one belongs to exactly one
// access token; revoking along that edge is how a refresh grant retires the
// credentials it replaces. The stored Expiry is the final deadline.
type RefreshToken struct {
	TokenRecord
	AccessTokenID int64
}

// ExpiresAt returns the stored deadline unchanged.
func (t *RefreshToken) ExpiresAt() time.Time {
	return t.Expiry
}

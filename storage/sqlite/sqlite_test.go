package sqlite

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "oauth_test.db")
	store, err := Open(context.Background(), dsn, security.NewSecretStore("sha512", 1000))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestClient() *storage.Client {
	return &storage.Client{
		Identifier:   "app-1",
		Name:         "Test App",
		Secret:       "s3cret",
		RedirectURI:  "https://example.com/cb",
		Confidential: true,
		GrantType:    "client_credentials",
	}
}

func TestOpen_RunsMigrations(t *testing.T) {
	store := newTestStore(t)

	// All five tables exist after Open.
	for _, table := range []string{"clients", "scopes", "auth_codes", "access_tokens", "refresh_tokens"} {
		var name string
		err := store.DB().QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestClientRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore(t).Clients()

	client := newTestClient()
	require.NoError(t, clients.Create(ctx, client))
	assert.NotZero(t, client.ID)
	assert.Empty(t, client.Secret, "plaintext must be hashed away on create")

	got, err := clients.Lookup(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)
	assert.Equal(t, client.HashedSecret, got.HashedSecret)
	assert.Equal(t, client.Salt, got.Salt)
	assert.True(t, got.Confidential)

	_, err = clients.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, clients.Create(ctx, newTestClient()), storage.ErrAlreadyExists)
}

func TestClientRepo_Validate(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore(t).Clients()
	require.NoError(t, clients.Create(ctx, newTestClient()))

	ok, err := clients.Validate(ctx, "app-1", "s3cret", "client_credentials")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = clients.Validate(ctx, "app-1", "wrong", "client_credentials")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = clients.Validate(ctx, "missing", "s3cret", "client_credentials")
	require.NoError(t, err)
	assert.False(t, ok)

	// Public clients never pass secret validation.
	public := newTestClient()
	public.Identifier = "public-app"
	public.Confidential = false
	require.NoError(t, clients.Create(ctx, public))

	ok, err = clients.Validate(ctx, "public-app", "s3cret", "authorization_code")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRepo_UpdateMigratesLegacySecret(t *testing.T) {
	ctx := context.Background()

	var audit bytes.Buffer
	dsn := "file:" + filepath.Join(t.TempDir(), "oauth_test.db")
	store, err := Open(ctx, dsn, security.NewSecretStore("sha512", 1000),
		WithAuditor(security.NewAuditor(slog.New(slog.NewTextHandler(&audit, nil)), true)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	clients := store.Clients()

	// Seed a legacy plaintext row directly, the way a pre-hashing schema
	// would have left it.
	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO clients (name, redirect_uri, identifier, secret, hashed_secret,
			hash_method, hash_iterations, salt, confidential, grant_type)
		VALUES ('Legacy', 'https://example.com/cb', 'legacy-app', 'legacy-plaintext',
			'', '', 0, '', 1, 'client_credentials')`)
	require.NoError(t, err)

	ok, err := clients.Validate(ctx, "legacy-app", "legacy-plaintext", "")
	require.NoError(t, err)
	assert.True(t, ok, "legacy plaintext rows must keep validating")

	row, err := clients.Lookup(ctx, "legacy-app")
	require.NoError(t, err)
	require.NoError(t, clients.Update(ctx, row))

	upgraded, err := clients.Lookup(ctx, "legacy-app")
	require.NoError(t, err)
	assert.Empty(t, upgraded.Secret)
	assert.NotEmpty(t, upgraded.HashedSecret)

	ok, err = clients.Validate(ctx, "legacy-app", "legacy-plaintext", "")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Contains(t, audit.String(), security.EventSecretUpgraded)
	assert.NotContains(t, audit.String(), "legacy-plaintext")
}

func TestClientRepo_UpdateUnknown(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore(t).Clients()

	assert.ErrorIs(t, clients.Update(ctx, newTestClient()), storage.ErrNotFound)
}

func TestScopeRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	scopes := newTestStore(t).Scopes()

	scope := &storage.Scope{Identifier: "profile", Description: "Read the profile"}
	require.NoError(t, scopes.Create(ctx, scope))
	assert.NotZero(t, scope.ID)

	assert.ErrorIs(t, scopes.Create(ctx, &storage.Scope{Identifier: "profile"}),
		storage.ErrAlreadyExists)

	got, err := scopes.Lookup(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, "Read the profile", got.Description)

	_, err = scopes.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAccessTokenRepo_RoundTripWithScopes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Scopes().Create(ctx,
		&storage.Scope{Identifier: "profile", Description: "Read the profile"}))

	tokens := store.AccessTokens()
	token := tokens.Issue(&storage.Client{Identifier: "app-1"},
		[]storage.Scope{{Identifier: "profile"}, {Identifier: "unregistered"}}, "user-1")
	token.Code = "sig-1"
	token.RequestID = "req-1"
	token.Expiry = time.Unix(1750000000, 0)
	require.NoError(t, tokens.PersistNew(ctx, token))

	got, err := tokens.Lookup(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", got.ClientIdentifier)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, token.Expiry.Unix(), got.Expiry.Unix())

	// Registered scopes come back with their description, unregistered
	// identifiers as bare scopes. Ordered by identifier.
	require.Len(t, got.Scopes, 2)
	assert.Equal(t, "profile", got.Scopes[0].Identifier)
	assert.Equal(t, "Read the profile", got.Scopes[0].Description)
	assert.Equal(t, "unregistered", got.Scopes[1].Identifier)
	assert.Empty(t, got.Scopes[1].Description)

	assert.ErrorIs(t, tokens.PersistNew(ctx, token), storage.ErrAlreadyExists)
}

func TestAccessTokenRepo_RevokeIsSoftDelete(t *testing.T) {
	ctx := context.Background()
	tokens := newTestStore(t).AccessTokens()

	token := tokens.Issue(&storage.Client{Identifier: "app-1"}, nil, "user-1")
	token.Code = "sig-1"
	token.Expiry = time.Now()
	require.NoError(t, tokens.PersistNew(ctx, token))

	require.NoError(t, tokens.Revoke(ctx, "sig-1"))

	revoked, err := tokens.IsRevoked(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	got, err := tokens.Lookup(ctx, "sig-1")
	require.NoError(t, err, "the row survives revocation")
	assert.True(t, got.Revoked)

	// Revoking again or revoking a code that was never issued is a no-op.
	assert.NoError(t, tokens.Revoke(ctx, "sig-1"))
	assert.NoError(t, tokens.Revoke(ctx, "never-issued"))
}

func TestTokenRepos_UnknownIsRevoked(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for name, check := range map[string]func() (bool, error){
		"auth code":     func() (bool, error) { return store.AuthCodes().IsRevoked(ctx, "x") },
		"access token":  func() (bool, error) { return store.AccessTokens().IsRevoked(ctx, "x") },
		"refresh token": func() (bool, error) { return store.RefreshTokens().IsRevoked(ctx, "x") },
	} {
		revoked, err := check()
		require.NoError(t, err, name)
		assert.True(t, revoked, "%s: unknown codes must read as revoked", name)
	}
}

func TestAuthCodeRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	codes := newTestStore(t).AuthCodes()

	code := codes.New()
	code.Code = "code-1"
	code.RequestID = "req-1"
	code.ClientIdentifier = "app-1"
	code.UserID = "user-1"
	code.RedirectURI = "https://example.com/cb"
	code.CodeChallenge = "challenge"
	code.CodeChallengeMethod = "S256"
	code.Expiry = time.Unix(1750000600, 0)
	code.Scopes = []storage.Scope{{Identifier: "profile"}}
	require.NoError(t, codes.PersistNew(ctx, code))

	got, err := codes.Lookup(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cb", got.RedirectURI)
	assert.Equal(t, "challenge", got.CodeChallenge)
	assert.Equal(t, "S256", got.CodeChallengeMethod)
	assert.Equal(t, code.Expiry.Unix(), got.Expiry.Unix())
	require.Len(t, got.Scopes, 1)
	assert.Equal(t, "profile", got.Scopes[0].Identifier)

	require.NoError(t, codes.Revoke(ctx, "code-1"))
	revoked, err := codes.IsRevoked(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRefreshTokenRepo_AccessTokenLink(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	access := store.AccessTokens()
	refresh := store.RefreshTokens()

	at := access.Issue(&storage.Client{Identifier: "app-1"},
		[]storage.Scope{{Identifier: "profile"}}, "user-1")
	at.Code = "at-sig"
	at.RequestID = "req-1"
	at.Expiry = time.Now()
	require.NoError(t, access.PersistNew(ctx, at))

	rt := refresh.New()
	rt.Code = "rt-sig"
	rt.RequestID = "req-1"
	rt.AccessTokenID = at.ID
	rt.Expiry = time.Now().Add(time.Hour)
	require.NoError(t, refresh.PersistNew(ctx, rt))

	linked, err := refresh.AccessToken(ctx, rt)
	require.NoError(t, err)
	assert.Equal(t, at.ID, linked.ID)
	assert.Equal(t, "user-1", linked.UserID)
	require.Len(t, linked.Scopes, 1)

	orphan := refresh.New()
	orphan.Code = "orphan"
	orphan.AccessTokenID = 9999
	require.NoError(t, refresh.PersistNew(ctx, orphan))
	_, err = refresh.AccessToken(ctx, orphan)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRevokeByRequestID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tokens := store.AccessTokens()

	for _, sig := range []string{"sig-1", "sig-2"} {
		token := tokens.Issue(&storage.Client{Identifier: "app-1"}, nil, "user-1")
		token.Code = sig
		token.RequestID = "req-1"
		token.Expiry = time.Now()
		require.NoError(t, tokens.PersistNew(ctx, token))
	}
	other := tokens.Issue(&storage.Client{Identifier: "app-1"}, nil, "user-2")
	other.Code = "sig-3"
	other.RequestID = "req-2"
	other.Expiry = time.Now()
	require.NoError(t, tokens.PersistNew(ctx, other))

	revoker, ok := tokens.(storage.GrantRevoker)
	require.True(t, ok)
	require.NoError(t, revoker.RevokeByRequestID(ctx, "req-1"))

	for _, sig := range []string{"sig-1", "sig-2"} {
		revoked, err := tokens.IsRevoked(ctx, sig)
		require.NoError(t, err)
		assert.True(t, revoked, sig)
	}
	revoked, err := tokens.IsRevoked(ctx, "sig-3")
	require.NoError(t, err)
	assert.False(t, revoked)
}

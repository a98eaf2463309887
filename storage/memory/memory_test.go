package memory

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

func newTestStore() *Store {
	return New(security.NewSecretStore("sha512", 1000))
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

func TestClientRepo_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	clients := store.Clients()

	client := newTestClient()
	require.NoError(t, clients.Create(ctx, client))
	assert.NotZero(t, client.ID)
	assert.Empty(t, client.Secret, "plaintext must be hashed away on create")

	got, err := clients.Lookup(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)
	assert.Equal(t, "Test App", got.Name)
	assert.NotEmpty(t, got.HashedSecret)

	_, err = clients.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClientRepo_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore().Clients()

	require.NoError(t, clients.Create(ctx, newTestClient()))
	err := clients.Create(ctx, newTestClient())
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestClientRepo_CreateInvalid(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore().Clients()

	err := clients.Create(ctx, &storage.Client{Identifier: "app-1"})
	assert.Error(t, err)
}

func TestClientRepo_Validate(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore().Clients()
	require.NoError(t, clients.Create(ctx, newTestClient()))

	ok, err := clients.Validate(ctx, "app-1", "s3cret", "client_credentials")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = clients.Validate(ctx, "app-1", "wrong", "client_credentials")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown clients are a negative answer, not an error.
	ok, err = clients.Validate(ctx, "missing", "s3cret", "client_credentials")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRepo_ValidatePublicClient(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore().Clients()

	public := newTestClient()
	public.Identifier = "public-app"
	public.Confidential = false
	require.NoError(t, clients.Create(ctx, public))

	// Public clients never pass secret validation, even with the secret
	// they were stored with.
	ok, err := clients.Validate(ctx, "public-app", "", "authorization_code")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = clients.Validate(ctx, "public-app", "s3cret", "authorization_code")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRepo_UpdateMigratesLegacySecret(t *testing.T) {
	ctx := context.Background()
	var audit bytes.Buffer
	store := New(security.NewSecretStore("sha512", 1000),
		WithAuditor(security.NewAuditor(slog.New(slog.NewTextHandler(&audit, nil)), true)))
	clients := store.Clients()

	// Seed a legacy row carrying plaintext, bypassing the write hook the
	// way a pre-hashing deployment would have.
	store.mu.Lock()
	store.clients["legacy-app"] = &storage.Client{
		ID:           1,
		Identifier:   "legacy-app",
		Secret:       "legacy-plaintext",
		RedirectURI:  "https://example.com/cb",
		Confidential: true,
	}
	store.mu.Unlock()

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
	assert.NotEmpty(t, upgraded.Salt)

	ok, err = clients.Validate(ctx, "legacy-app", "legacy-plaintext", "")
	require.NoError(t, err)
	assert.True(t, ok, "the secret itself is unchanged by the upgrade")

	assert.Contains(t, audit.String(), security.EventSecretUpgraded)
	assert.NotContains(t, audit.String(), "legacy-plaintext")
}

func TestClientRepo_UpdateUnknown(t *testing.T) {
	ctx := context.Background()
	clients := newTestStore().Clients()

	err := clients.Update(ctx, newTestClient())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScopeRepo(t *testing.T) {
	ctx := context.Background()
	scopes := newTestStore().Scopes()

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

	finalized, err := scopes.Finalize(ctx, []storage.Scope{*got}, "authorization_code", nil, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []storage.Scope{*got}, finalized)
}

func TestAuthCodeRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	codes := newTestStore().AuthCodes()

	code := codes.New()
	code.Code = "code-1"
	code.ClientIdentifier = "app-1"
	code.UserID = "user-1"
	code.Expiry = time.Now().Add(10 * time.Minute)
	require.NoError(t, codes.PersistNew(ctx, code))

	revoked, err := codes.IsRevoked(ctx, "code-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, codes.Revoke(ctx, "code-1"))

	revoked, err = codes.IsRevoked(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The row survives revocation.
	got, err := codes.Lookup(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, "user-1", got.UserID)
}

func TestAuthCodeRepo_UnknownIsRevoked(t *testing.T) {
	ctx := context.Background()
	codes := newTestStore().AuthCodes()

	revoked, err := codes.IsRevoked(ctx, "never-issued")
	require.NoError(t, err)
	assert.True(t, revoked, "unknown codes must read as revoked")

	// Already gone is a terminal state, not an error.
	assert.NoError(t, codes.Revoke(ctx, "never-issued"))
}

func TestAuthCodeRepo_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	codes := newTestStore().AuthCodes()

	first := codes.New()
	first.Code = "code-1"
	require.NoError(t, codes.PersistNew(ctx, first))

	second := codes.New()
	second.Code = "code-1"
	assert.ErrorIs(t, codes.PersistNew(ctx, second), storage.ErrAlreadyExists)
}

func TestAccessTokenRepo_IssueAndRevoke(t *testing.T) {
	ctx := context.Background()
	tokens := newTestStore().AccessTokens()

	client := &storage.Client{Identifier: "app-1"}
	scopes := []storage.Scope{{Identifier: "profile"}}

	token := tokens.Issue(client, scopes, "user-1")
	token.Code = "sig-1"
	token.RequestID = "req-1"
	token.Expiry = time.Now()
	require.NoError(t, tokens.PersistNew(ctx, token))

	got, err := tokens.Lookup(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", got.ClientIdentifier)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, scopes, got.Scopes)

	require.NoError(t, tokens.Revoke(ctx, "sig-1"))

	revoked, err := tokens.IsRevoked(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestAccessTokenRepo_RevokeByRequestID(t *testing.T) {
	ctx := context.Background()
	tokens := newTestStore().AccessTokens()
	client := &storage.Client{Identifier: "app-1"}

	for _, sig := range []string{"sig-1", "sig-2"} {
		token := tokens.Issue(client, nil, "user-1")
		token.Code = sig
		token.RequestID = "req-1"
		require.NoError(t, tokens.PersistNew(ctx, token))
	}
	other := tokens.Issue(client, nil, "user-2")
	other.Code = "sig-3"
	other.RequestID = "req-2"
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
	assert.False(t, revoked, "other grants are untouched")
}

func TestRefreshTokenRepo_AccessTokenLink(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	access := store.AccessTokens()
	refresh := store.RefreshTokens()

	at := access.Issue(&storage.Client{Identifier: "app-1"}, nil, "user-1")
	at.Code = "at-sig"
	require.NoError(t, access.PersistNew(ctx, at))

	rt := refresh.New()
	rt.Code = "rt-sig"
	rt.AccessTokenID = at.ID
	rt.Expiry = time.Now().Add(time.Hour)
	require.NoError(t, refresh.PersistNew(ctx, rt))

	linked, err := refresh.AccessToken(ctx, rt)
	require.NoError(t, err)
	assert.Equal(t, at.ID, linked.ID)
	assert.Equal(t, "user-1", linked.UserID)

	orphan := refresh.New()
	orphan.Code = "orphan"
	orphan.AccessTokenID = 9999
	require.NoError(t, refresh.PersistNew(ctx, orphan))
	_, err = refresh.AccessToken(ctx, orphan)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshTokenRepo_UnknownIsRevoked(t *testing.T) {
	ctx := context.Background()
	refresh := newTestStore().RefreshTokens()

	revoked, err := refresh.IsRevoked(ctx, "never-issued")
	require.NoError(t, err)
	assert.True(t, revoked)
}

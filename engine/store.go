// Package engine adapts the storage repositories to ory/fosite, the OAuth2
// protocol engine. The engine drives the grant-type state machines and token
// signing; every row it reads or writes goes through the repository
// contracts, so both storage backends serve it unchanged.
//
// Engine-side deletions map to repository Revoke: a spent authorization code
// or a rotated refresh token is soft-deleted, never removed. Rows disappear
// only through administrative cleanup outside this module.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ory/fosite"
	foauth2 "github.com/ory/fosite/handler/oauth2"
	"github.com/ory/fosite/handler/pkce"

	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// Store implements the engine's storage contracts on top of the repository
// interfaces.
type Store struct {
	clients       storage.ClientRepository
	scopes        storage.ScopeRepository
	authCodes     storage.AuthCodeRepository
	accessTokens  storage.AccessTokenRepository
	refreshTokens storage.RefreshTokenRepository
	ttl           storage.TTLConfig
	logger        *slog.Logger

	// Replay protection for client assertion JWTs. Assertions are
	// short-lived, so an in-memory blocklist pruned on write suffices.
	jtiMu        sync.Mutex
	jtiBlocklist map[string]time.Time
}

var (
	_ fosite.ClientManager           = (*Store)(nil)
	_ foauth2.CoreStorage            = (*Store)(nil)
	_ foauth2.TokenRevocationStorage = (*Store)(nil)
	_ pkce.PKCERequestStorage        = (*Store)(nil)
)

// StoreConfig wires the repositories the Store adapts.
type StoreConfig struct {
	Clients       storage.ClientRepository
	Scopes        storage.ScopeRepository
	AuthCodes     storage.AuthCodeRepository
	AccessTokens  storage.AccessTokenRepository
	RefreshTokens storage.RefreshTokenRepository
	TTL           storage.TTLConfig
	Logger        *slog.Logger
}

// NewStore creates the adapter.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clients:       cfg.Clients,
		scopes:        cfg.Scopes,
		authCodes:     cfg.AuthCodes,
		accessTokens:  cfg.AccessTokens,
		refreshTokens: cfg.RefreshTokens,
		ttl:           cfg.TTL,
		logger:        logger,
		jtiBlocklist:  make(map[string]time.Time),
	}
}

// GetClient resolves a client by its opaque identifier.
func (s *Store) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	c, err := s.clients.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fosite.ErrNotFound
		}
		return nil, err
	}
	return NewClient(c), nil
}

// ClientAssertionJWTValid returns an error if the JTI was already seen and
// has not yet expired.
func (s *Store) ClientAssertionJWTValid(_ context.Context, jti string) error {
	s.jtiMu.Lock()
	defer s.jtiMu.Unlock()

	if exp, ok := s.jtiBlocklist[jti]; ok && exp.After(time.Now()) {
		return fosite.ErrJTIKnown
	}
	return nil
}

// SetClientAssertionJWT records a JTI until its expiry, pruning stale
// entries on the way.
func (s *Store) SetClientAssertionJWT(_ context.Context, jti string, exp time.Time) error {
	s.jtiMu.Lock()
	defer s.jtiMu.Unlock()

	now := time.Now()
	for known, expiry := range s.jtiBlocklist {
		if !expiry.After(now) {
			delete(s.jtiBlocklist, known)
		}
	}
	if expiry, ok := s.jtiBlocklist[jti]; ok && expiry.After(now) {
		return fosite.ErrJTIKnown
	}
	s.jtiBlocklist[jti] = exp
	return nil
}

// CreateAuthorizeCodeSession persists a freshly issued authorization code.
func (s *Store) CreateAuthorizeCodeSession(ctx context.Context, code string, req fosite.Requester) error {
	form := req.GetRequestForm()

	entity := s.authCodes.New()
	entity.Code = code
	entity.RequestID = req.GetID()
	entity.ClientIdentifier = req.GetClient().GetID()
	entity.UserID = subjectOf(req)
	entity.RedirectURI = form.Get("redirect_uri")
	entity.CodeChallenge = form.Get("code_challenge")
	entity.CodeChallengeMethod = form.Get("code_challenge_method")
	entity.Expiry = sessionExpiry(req, fosite.AuthorizeCode, time.Now().Add(s.ttl.AuthCodeTTL))
	entity.Scopes = s.scopeEntities(ctx, req.GetGrantedScopes())

	return s.authCodes.PersistNew(ctx, entity)
}

// GetAuthorizeCodeSession rehydrates the authorization request behind a
// code. A spent code returns the request together with
// ErrInvalidatedAuthorizeCode, which is how the engine detects code replay
// and revokes the tokens the code produced.
func (s *Store) GetAuthorizeCodeSession(ctx context.Context, code string, _ fosite.Session) (fosite.Requester, error) {
	entity, err := s.authCodes.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fosite.ErrNotFound
		}
		return nil, err
	}

	form := url.Values{}
	if entity.RedirectURI != "" {
		form.Set("redirect_uri", entity.RedirectURI)
	}
	if entity.CodeChallenge != "" {
		form.Set("code_challenge", entity.CodeChallenge)
		form.Set("code_challenge_method", entity.CodeChallengeMethod)
	}

	req, err := s.buildRequester(ctx, requesterSpec{
		clientID:  entity.ClientIdentifier,
		requestID: entity.RequestID,
		subject:   entity.UserID,
		scopes:    entity.Scopes,
		form:      form,
		expiries:  map[fosite.TokenType]time.Time{fosite.AuthorizeCode: entity.Expiry},
	})
	if err != nil {
		return nil, err
	}
	if entity.Revoked {
		s.logger.Warn("authorization code replay detected",
			"client_id", entity.ClientIdentifier,
			"request_id", entity.RequestID,
		)
		return req, fosite.ErrInvalidatedAuthorizeCode
	}
	return req, nil
}

// InvalidateAuthorizeCodeSession marks a code as spent.
func (s *Store) InvalidateAuthorizeCodeSession(ctx context.Context, code string) error {
	return s.authCodes.Revoke(ctx, code)
}

// CreateAccessTokenSession persists an issued access token under its
// signature. The stored expiry is the issue instant; the effective deadline
// is derived at read time from the configured TTL.
func (s *Store) CreateAccessTokenSession(ctx context.Context, signature string, req fosite.Requester) error {
	entity := s.accessTokens.Issue(
		s.clientEntity(req),
		s.scopeEntities(ctx, req.GetGrantedScopes()),
		subjectOf(req),
	)
	entity.Code = signature
	entity.RequestID = req.GetID()
	entity.Expiry = time.Now().UTC()

	return s.accessTokens.PersistNew(ctx, entity)
}

// GetAccessTokenSession rehydrates the request behind an access token
// signature. Revoked tokens are reported inactive.
func (s *Store) GetAccessTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	entity, err := s.accessTokens.Lookup(ctx, signature)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fosite.ErrNotFound
		}
		return nil, err
	}
	if entity.Revoked {
		return nil, fosite.ErrInactiveToken
	}

	return s.buildRequester(ctx, requesterSpec{
		clientID:  entity.ClientIdentifier,
		requestID: entity.RequestID,
		subject:   entity.UserID,
		scopes:    entity.Scopes,
		form:      url.Values{},
		expiries:  map[fosite.TokenType]time.Time{fosite.AccessToken: entity.ExpiresAt(s.ttl)},
	})
}

// DeleteAccessTokenSession revokes the token; the row survives.
func (s *Store) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	return s.accessTokens.Revoke(ctx, signature)
}

// CreateRefreshTokenSession persists an issued refresh token, linking it to
// the access token minted in the same response.
func (s *Store) CreateRefreshTokenSession(ctx context.Context, signature string, accessSignature string, req fosite.Requester) error {
	entity := s.refreshTokens.New()
	entity.Code = signature
	entity.RequestID = req.GetID()
	entity.Expiry = sessionExpiry(req, fosite.RefreshToken, time.Now().Add(s.ttl.RefreshTokenTTL))

	if accessSignature != "" {
		at, err := s.accessTokens.Lookup(ctx, accessSignature)
		if err != nil {
			return fmt.Errorf("resolving sibling access token: %w", err)
		}
		entity.AccessTokenID = at.ID
	}

	return s.refreshTokens.PersistNew(ctx, entity)
}

// GetRefreshTokenSession rehydrates the request behind a refresh token. The
// client, subject, and scope set live on the linked access token; a refresh
// token whose lineage is gone is unusable. Revoked tokens come back with the
// request and ErrInactiveToken so the engine can treat reuse as a breach.
func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	entity, err := s.refreshTokens.Lookup(ctx, signature)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fosite.ErrNotFound
		}
		return nil, err
	}

	at, err := s.refreshTokens.AccessToken(ctx, entity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fosite.ErrNotFound
		}
		return nil, err
	}

	req, err := s.buildRequester(ctx, requesterSpec{
		clientID:  at.ClientIdentifier,
		requestID: entity.RequestID,
		subject:   at.UserID,
		scopes:    at.Scopes,
		form:      url.Values{},
		expiries:  map[fosite.TokenType]time.Time{fosite.RefreshToken: entity.Expiry},
	})
	if err != nil {
		return nil, err
	}
	if entity.Revoked {
		return req, fosite.ErrInactiveToken
	}
	return req, nil
}

// DeleteRefreshTokenSession revokes the token; the row survives.
func (s *Store) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	return s.refreshTokens.Revoke(ctx, signature)
}

// RotateRefreshToken retires a refresh token that was just exchanged,
// together with the access tokens of its grant.
func (s *Store) RotateRefreshToken(ctx context.Context, requestID string, signature string) error {
	if err := s.RevokeAccessToken(ctx, requestID); err != nil {
		return err
	}
	return s.refreshTokens.Revoke(ctx, signature)
}

// RevokeAccessToken revokes every access token of the given grant.
func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	gr, ok := s.accessTokens.(storage.GrantRevoker)
	if !ok {
		return fmt.Errorf("engine: access token repository does not support grant revocation")
	}
	return gr.RevokeByRequestID(ctx, requestID)
}

// RevokeRefreshToken revokes every refresh token of the given grant.
func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	gr, ok := s.refreshTokens.(storage.GrantRevoker)
	if !ok {
		return fmt.Errorf("engine: refresh token repository does not support grant revocation")
	}
	return gr.RevokeByRequestID(ctx, requestID)
}

// RevokeRefreshTokenMaybeGracePeriod revokes immediately; grace periods are
// not supported.
func (s *Store) RevokeRefreshTokenMaybeGracePeriod(ctx context.Context, requestID string, _ string) error {
	return s.RevokeRefreshToken(ctx, requestID)
}

// CreatePKCERequestSession is satisfied by the authorization code row, which
// already carries the challenge: the code handler runs before the PKCE
// handler and stores the full request. Only the row's existence is checked.
func (s *Store) CreatePKCERequestSession(ctx context.Context, signature string, _ fosite.Requester) error {
	if _, err := s.authCodes.Lookup(ctx, signature); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fosite.ErrNotFound
		}
		return err
	}
	return nil
}

// GetPKCERequestSession rebuilds the PKCE verification request from the
// authorization code row sharing the signature.
func (s *Store) GetPKCERequestSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	entity, err := s.authCodes.Lookup(ctx, signature)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fosite.ErrNotFound
		}
		return nil, err
	}
	if entity.CodeChallenge == "" {
		return nil, fosite.ErrNotFound
	}

	form := url.Values{}
	form.Set("code_challenge", entity.CodeChallenge)
	form.Set("code_challenge_method", entity.CodeChallengeMethod)

	return s.buildRequester(ctx, requesterSpec{
		clientID:  entity.ClientIdentifier,
		requestID: entity.RequestID,
		subject:   entity.UserID,
		scopes:    entity.Scopes,
		form:      form,
		expiries:  map[fosite.TokenType]time.Time{fosite.AuthorizeCode: entity.Expiry},
	})
}

// DeletePKCERequestSession is a no-op: invalidating the code retires the
// challenge with it.
func (s *Store) DeletePKCERequestSession(_ context.Context, _ string) error {
	return nil
}

// requesterSpec carries the pieces needed to rehydrate a fosite request from
// a stored token row.
type requesterSpec struct {
	clientID  string
	requestID string
	subject   string
	scopes    []storage.Scope
	form      url.Values
	expiries  map[fosite.TokenType]time.Time
}

func (s *Store) buildRequester(ctx context.Context, spec requesterSpec) (fosite.Requester, error) {
	client, err := s.GetClient(ctx, spec.clientID)
	if err != nil {
		return nil, err
	}

	sess := NewSession(spec.subject)
	for tt, exp := range spec.expiries {
		sess.SetExpiresAt(tt, exp)
	}

	identifiers := storage.ScopeIdentifiers(spec.scopes)

	req := fosite.NewRequest()
	req.ID = spec.requestID
	req.Client = client
	req.Session = sess
	req.RequestedScope = fosite.Arguments(identifiers)
	req.GrantedScope = fosite.Arguments(identifiers)
	req.Form = spec.form
	return req, nil
}

// clientEntity unwraps the storage record behind a requester's client.
func (s *Store) clientEntity(req fosite.Requester) *storage.Client {
	if ec, ok := req.GetClient().(*Client); ok {
		return ec.Entity()
	}
	return &storage.Client{Identifier: req.GetClient().GetID()}
}

// scopeEntities resolves granted scope identifiers against the scope
// repository. Identifiers without a registered scope row still travel
// through as bare scopes.
func (s *Store) scopeEntities(ctx context.Context, identifiers fosite.Arguments) []storage.Scope {
	scopes := make([]storage.Scope, 0, len(identifiers))
	for _, id := range identifiers {
		if sc, err := s.scopes.Lookup(ctx, id); err == nil {
			scopes = append(scopes, *sc)
			continue
		}
		scopes = append(scopes, storage.Scope{Identifier: id})
	}
	return scopes
}

func subjectOf(req fosite.Requester) string {
	if sess := req.GetSession(); sess != nil {
		return sess.GetSubject()
	}
	return ""
}

func sessionExpiry(req fosite.Requester, tt fosite.TokenType, fallback time.Time) time.Time {
	if sess := req.GetSession(); sess != nil {
		if exp := sess.GetExpiresAt(tt); !exp.IsZero() {
			return exp
		}
	}
	return fallback.UTC()
}

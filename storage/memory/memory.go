// Package memory provides an in-memory implementation of the storage
// repositories, suitable for development and tests. All state lives in
// RWMutex-guarded maps and is lost on restart.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/torque-foxes/ss-oauth2-server/instrumentation"
	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// Store holds every entity family behind one lock. Repository views share
// the store, so a refresh token lookup can resolve its access token without
// a second lock acquisition racing a write.
type Store struct {
	mu            sync.RWMutex
	clients       map[string]*storage.Client       // by identifier
	scopes        map[string]*storage.Scope        // by identifier
	accessTokens  map[string]*storage.AccessToken  // by code
	authCodes     map[string]*storage.AuthCode     // by code
	refreshTokens map[string]*storage.RefreshToken // by code
	nextID        int64

	secrets security.SecretStore
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
	auditor *security.Auditor
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithInstrumentation enables telemetry for store operations.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Store) { s.inst = inst }
}

// WithAuditor enables audit events for security-relevant store operations.
func WithAuditor(auditor *security.Auditor) Option {
	return func(s *Store) { s.auditor = auditor }
}

// New creates an empty in-memory store. The secret store is applied to
// client writes, so plaintext secrets never survive a Create or Update.
func New(secrets security.SecretStore, opts ...Option) *Store {
	s := &Store{
		clients:       make(map[string]*storage.Client),
		scopes:        make(map[string]*storage.Scope),
		accessTokens:  make(map[string]*storage.AccessToken),
		authCodes:     make(map[string]*storage.AuthCode),
		refreshTokens: make(map[string]*storage.RefreshToken),
		secrets:       secrets,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clients returns the client repository view.
func (s *Store) Clients() storage.ClientRepository { return &clientRepo{s} }

// Scopes returns the scope repository view.
func (s *Store) Scopes() storage.ScopeRepository { return &scopeRepo{s} }

// AuthCodes returns the authorization code repository view.
func (s *Store) AuthCodes() storage.AuthCodeRepository { return &authCodeRepo{s} }

// AccessTokens returns the access token repository view.
func (s *Store) AccessTokens() storage.AccessTokenRepository { return &accessTokenRepo{s} }

// RefreshTokens returns the refresh token repository view.
func (s *Store) RefreshTokens() storage.RefreshTokenRepository { return &refreshTokenRepo{s} }

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// clientRepo implements storage.ClientRepository.
type clientRepo struct{ s *Store }

var _ storage.ClientRepository = (*clientRepo)(nil)

func (r *clientRepo) Lookup(ctx context.Context, identifier string) (*storage.Client, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "memory.clients.lookup")
	defer span.End()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.clients[identifier]
	if !ok {
		r.s.inst.RecordStorageOp(ctx, "clients.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	r.s.inst.RecordStorageOp(ctx, "clients.lookup", nil)
	clone := *c
	return &clone, nil
}

func (r *clientRepo) Validate(ctx context.Context, identifier, secret, grantType string) (bool, error) {
	c, err := r.Lookup(ctx, identifier)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if c.IsPublic() {
		return false, nil
	}
	return c.IsSecretValid(secret), nil
}

func (r *clientRepo) Create(ctx context.Context, client *storage.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	if err := client.PrepareForWrite(r.s.secrets); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.clients[client.Identifier]; exists {
		r.s.inst.RecordStorageOp(ctx, "clients.create", storage.ErrAlreadyExists)
		return storage.ErrAlreadyExists
	}
	client.ID = r.s.allocID()
	clone := *client
	r.s.clients[client.Identifier] = &clone
	r.s.inst.RecordStorageOp(ctx, "clients.create", nil)
	r.s.logger.Debug("client stored", "client_id", client.Identifier, "confidential", client.Confidential)
	return nil
}

func (r *clientRepo) Update(ctx context.Context, client *storage.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	upgrading := strings.TrimSpace(client.Secret) != ""
	if err := client.PrepareForWrite(r.s.secrets); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.clients[client.Identifier]; !exists {
		r.s.inst.RecordStorageOp(ctx, "clients.update", storage.ErrNotFound)
		return storage.ErrNotFound
	}
	clone := *client
	r.s.clients[client.Identifier] = &clone
	r.s.inst.RecordStorageOp(ctx, "clients.update", nil)
	if upgrading {
		r.s.auditor.LogSecretUpgraded(client.Identifier, client.HashMethod, client.HashIterations)
	}
	return nil
}

// scopeRepo implements storage.ScopeRepository.
type scopeRepo struct{ s *Store }

var _ storage.ScopeRepository = (*scopeRepo)(nil)

func (r *scopeRepo) Lookup(ctx context.Context, identifier string) (*storage.Scope, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sc, ok := r.s.scopes[identifier]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *sc
	return &clone, nil
}

func (r *scopeRepo) Finalize(ctx context.Context, scopes []storage.Scope, grantType string, client *storage.Client, userID string) ([]storage.Scope, error) {
	return scopes, nil
}

func (r *scopeRepo) Create(ctx context.Context, scope *storage.Scope) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.scopes[scope.Identifier]; exists {
		return storage.ErrAlreadyExists
	}
	scope.ID = r.s.allocID()
	clone := *scope
	r.s.scopes[scope.Identifier] = &clone
	return nil
}

// authCodeRepo implements storage.AuthCodeRepository.
type authCodeRepo struct{ s *Store }

var _ storage.AuthCodeRepository = (*authCodeRepo)(nil)

func (r *authCodeRepo) New() *storage.AuthCode { return &storage.AuthCode{} }

func (r *authCodeRepo) Lookup(ctx context.Context, code string) (*storage.AuthCode, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "memory.auth_codes.lookup")
	defer span.End()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.authCodes[code]
	if !ok {
		r.s.inst.RecordStorageOp(ctx, "auth_codes.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	r.s.inst.RecordStorageOp(ctx, "auth_codes.lookup", nil)
	clone := *t
	return &clone, nil
}

func (r *authCodeRepo) PersistNew(ctx context.Context, authCode *storage.AuthCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.authCodes[authCode.Code]; exists {
		return storage.ErrAlreadyExists
	}
	authCode.ID = r.s.allocID()
	clone := *authCode
	r.s.authCodes[authCode.Code] = &clone
	r.s.inst.RecordTokenIssued(ctx, "auth_code")
	return nil
}

func (r *authCodeRepo) Revoke(ctx context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.authCodes[code]
	if !ok {
		return nil
	}
	t.Revoked = true
	r.s.inst.RecordTokenRevoked(ctx, "auth_code")
	return nil
}

func (r *authCodeRepo) IsRevoked(ctx context.Context, code string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.authCodes[code]
	if !ok {
		// Unknown codes are treated as revoked so callers fail closed.
		return true, nil
	}
	return t.Revoked, nil
}

// accessTokenRepo implements storage.AccessTokenRepository.
type accessTokenRepo struct{ s *Store }

var (
	_ storage.AccessTokenRepository = (*accessTokenRepo)(nil)
	_ storage.GrantRevoker          = (*accessTokenRepo)(nil)
)

func (r *accessTokenRepo) New() *storage.AccessToken { return &storage.AccessToken{} }

func (r *accessTokenRepo) Issue(client *storage.Client, scopes []storage.Scope, userID string) *storage.AccessToken {
	return &storage.AccessToken{
		ClientIdentifier: client.Identifier,
		UserID:           userID,
		Scopes:           scopes,
	}
}

func (r *accessTokenRepo) Lookup(ctx context.Context, code string) (*storage.AccessToken, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "memory.access_tokens.lookup")
	defer span.End()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.accessTokens[code]
	if !ok {
		r.s.inst.RecordStorageOp(ctx, "access_tokens.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	r.s.inst.RecordStorageOp(ctx, "access_tokens.lookup", nil)
	clone := *t
	return &clone, nil
}

func (r *accessTokenRepo) PersistNew(ctx context.Context, token *storage.AccessToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.accessTokens[token.Code]; exists {
		return storage.ErrAlreadyExists
	}
	token.ID = r.s.allocID()
	clone := *token
	r.s.accessTokens[token.Code] = &clone
	r.s.inst.RecordTokenIssued(ctx, "access_token")
	return nil
}

func (r *accessTokenRepo) Revoke(ctx context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.accessTokens[code]
	if !ok {
		return nil
	}
	t.Revoked = true
	r.s.inst.RecordTokenRevoked(ctx, "access_token")
	return nil
}

func (r *accessTokenRepo) IsRevoked(ctx context.Context, code string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.accessTokens[code]
	if !ok {
		return true, nil
	}
	return t.Revoked, nil
}

func (r *accessTokenRepo) RevokeByRequestID(ctx context.Context, requestID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.accessTokens {
		if t.RequestID == requestID && !t.Revoked {
			t.Revoked = true
			r.s.inst.RecordTokenRevoked(ctx, "access_token")
		}
	}
	return nil
}

// refreshTokenRepo implements storage.RefreshTokenRepository.
type refreshTokenRepo struct{ s *Store }

var (
	_ storage.RefreshTokenRepository = (*refreshTokenRepo)(nil)
	_ storage.GrantRevoker           = (*refreshTokenRepo)(nil)
)

func (r *refreshTokenRepo) New() *storage.RefreshToken { return &storage.RefreshToken{} }

func (r *refreshTokenRepo) Lookup(ctx context.Context, code string) (*storage.RefreshToken, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "memory.refresh_tokens.lookup")
	defer span.End()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.refreshTokens[code]
	if !ok {
		r.s.inst.RecordStorageOp(ctx, "refresh_tokens.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	r.s.inst.RecordStorageOp(ctx, "refresh_tokens.lookup", nil)
	clone := *t
	return &clone, nil
}

func (r *refreshTokenRepo) PersistNew(ctx context.Context, token *storage.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.refreshTokens[token.Code]; exists {
		return storage.ErrAlreadyExists
	}
	token.ID = r.s.allocID()
	clone := *token
	r.s.refreshTokens[token.Code] = &clone
	r.s.inst.RecordTokenIssued(ctx, "refresh_token")
	return nil
}

func (r *refreshTokenRepo) Revoke(ctx context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.refreshTokens[code]
	if !ok {
		return nil
	}
	t.Revoked = true
	r.s.inst.RecordTokenRevoked(ctx, "refresh_token")
	return nil
}

func (r *refreshTokenRepo) IsRevoked(ctx context.Context, code string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.refreshTokens[code]
	if !ok {
		return true, nil
	}
	return t.Revoked, nil
}

func (r *refreshTokenRepo) AccessToken(ctx context.Context, token *storage.RefreshToken) (*storage.AccessToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, t := range r.s.accessTokens {
		if t.ID == token.AccessTokenID {
			clone := *t
			return &clone, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *refreshTokenRepo) RevokeByRequestID(ctx context.Context, requestID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.refreshTokens {
		if t.RequestID == requestID && !t.Revoked {
			t.Revoked = true
			r.s.inst.RecordTokenRevoked(ctx, "refresh_token")
		}
	}
	return nil
}

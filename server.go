package oauth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ory/fosite"

	"github.com/torque-foxes/ss-oauth2-server/engine"
	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// UserAuthenticator resolves the end user behind an authorization request.
// An empty subject with a nil error means nobody is logged in, and the
// server redirects the browser to the configured login URL.
type UserAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Repositories bundles the persistence layer the server operates on. Both
// the memory and the sqlite stores satisfy it through their accessors.
type Repositories struct {
	Clients       storage.ClientRepository
	Scopes        storage.ScopeRepository
	AuthCodes     storage.AuthCodeRepository
	AccessTokens  storage.AccessTokenRepository
	RefreshTokens storage.RefreshTokenRepository
}

// Server is the OAuth 2.0 authorization and resource server. It owns the
// protocol engine and exposes the authorize, token and validation endpoints
// through Handler.
type Server struct {
	cfg           *Config
	provider      fosite.OAuth2Provider
	repos         Repositories
	authenticator UserAuthenticator
	auditor       *security.Auditor
	limiter       *security.RateLimiter
	logger        *slog.Logger
}

// NewServer loads the signing keys, wires the persistence layer into the
// protocol engine and returns a ready server.
func NewServer(cfg *Config, repos Repositories, authenticator UserAuthenticator) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if authenticator == nil {
		return nil, fmt.Errorf("oauth: an authenticator is required")
	}

	privKey, err := engine.LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	pubKey, err := engine.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	if pubKey.N.Cmp(privKey.N) != 0 {
		return nil, fmt.Errorf("oauth: public key does not match the private key")
	}

	logger := cfg.logger()
	store := engine.NewStore(engine.StoreConfig{
		Clients:       repos.Clients,
		Scopes:        repos.Scopes,
		AuthCodes:     repos.AuthCodes,
		AccessTokens:  repos.AccessTokens,
		RefreshTokens: repos.RefreshTokens,
		TTL:           cfg.TTL(),
		Logger:        logger,
	})
	provider, err := engine.NewProvider(store, engine.ProviderConfig{
		Issuer:          cfg.Issuer,
		PrivateKey:      privKey,
		GlobalSecret:    []byte(cfg.EncryptionKey),
		AccessTokenTTL:  cfg.AccessTokenTTL,
		AuthCodeTTL:     cfg.AuthCodeTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Hasher:          engine.NewSecretHasher(cfg.SecretStore()),
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:           cfg,
		provider:      provider,
		repos:         repos,
		authenticator: authenticator,
		auditor:       security.NewAuditor(logger, cfg.AuditEnabled),
		limiter:       security.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst, logger),
		logger:        logger,
	}, nil
}

// Handler returns the HTTP handler serving the OAuth endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.Authorize)
	mux.HandleFunc("/access_token", s.Token)
	mux.HandleFunc("/validate", s.Validate)
	return s.recoverPanics(mux)
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic while serving request",
					"path", r.URL.Path,
					"panic", rec,
				)
				ErrServerError(fmt.Sprintf("%v", rec)).Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

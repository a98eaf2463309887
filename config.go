package oauth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// Config holds the server configuration, loaded from the environment.
//
// The three key settings are required: a missing signing key, verification
// key, or encryption key is a startup error, never a request-time failure.
type Config struct {
	// PrivateKeyPath points at the PEM-encoded RSA key that signs access
	// tokens.
	PrivateKeyPath string `env:"OAUTH_PRIVATE_KEY_PATH,required"`

	// PublicKeyPath points at the matching PEM-encoded public key, used to
	// validate presented access tokens.
	PublicKeyPath string `env:"OAUTH_PUBLIC_KEY_PATH,required"`

	// EncryptionKey keys the HMAC scheme protecting authorization codes
	// and refresh tokens. At least 32 characters.
	EncryptionKey string `env:"OAUTH_ENCRYPTION_KEY,required"`

	// Issuer is the external base URL of this server.
	Issuer string `env:"OAUTH_ISSUER" envDefault:"http://localhost:8080"`

	// LoginURL receives unauthenticated users of the authorize endpoint.
	// The original request URI is preserved in the BackURL parameter.
	LoginURL string `env:"OAUTH_LOGIN_URL" envDefault:"/Security/login"`

	// Token lifetimes. The access token TTL is applied at read time on top
	// of the stored issue instant, so changing it affects tokens already
	// issued; the other two are fixed into each record at issue time.
	AccessTokenTTL  time.Duration `env:"OAUTH_ACCESS_TOKEN_TTL" envDefault:"1h"`
	AuthCodeTTL     time.Duration `env:"OAUTH_AUTH_CODE_TTL" envDefault:"10m"`
	RefreshTokenTTL time.Duration `env:"OAUTH_REFRESH_TOKEN_TTL" envDefault:"720h"`

	// Client secret hashing defaults. Stored records keep the parameters
	// they were written with.
	HashMethod     string `env:"OAUTH_HASH_METHOD" envDefault:"sha512"`
	HashIterations int    `env:"OAUTH_HASH_ITERATIONS" envDefault:"20000"`

	// AuthHeaderFallback names a header consulted for the bearer token
	// when Authorization is absent, for proxies that rewrite it.
	AuthHeaderFallback string `env:"OAUTH_AUTH_HEADER_FALLBACK"`

	// RateLimit is the per-IP requests-per-second budget of the token
	// endpoint. Zero disables limiting.
	RateLimit      int `env:"OAUTH_RATE_LIMIT"`
	RateLimitBurst int `env:"OAUTH_RATE_LIMIT_BURST"`

	// AuditEnabled controls security audit logging.
	AuditEnabled bool `env:"OAUTH_AUDIT_ENABLED" envDefault:"true"`

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger `env:"-"`
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("oauth: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("oauth: private key path is required")
	}
	if c.PublicKeyPath == "" {
		return fmt.Errorf("oauth: public key path is required")
	}
	if len(c.EncryptionKey) < 32 {
		return fmt.Errorf("oauth: encryption key must be at least 32 characters")
	}
	if c.AccessTokenTTL <= 0 || c.AuthCodeTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("oauth: token lifetimes must be positive")
	}
	return nil
}

// TTL projects the configured lifetimes into the storage layer's shape.
func (c *Config) TTL() storage.TTLConfig {
	return storage.TTLConfig{
		AccessTokenTTL:  c.AccessTokenTTL,
		AuthCodeTTL:     c.AuthCodeTTL,
		RefreshTokenTTL: c.RefreshTokenTTL,
	}
}

// SecretStore returns the secret hashing defaults for client credentials.
func (c *Config) SecretStore() security.SecretStore {
	return security.NewSecretStore(c.HashMethod, c.HashIterations)
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

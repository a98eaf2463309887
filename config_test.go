package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		PrivateKeyPath:  "/keys/private.pem",
		PublicKeyPath:   "/keys/public.pem",
		EncryptionKey:   "0123456789abcdef0123456789abcdef",
		Issuer:          "http://localhost:8080",
		LoginURL:        "/Security/login",
		AccessTokenTTL:  time.Hour,
		AuthCodeTTL:     10 * time.Minute,
		RefreshTokenTTL: 720 * time.Hour,
		HashMethod:      "sha512",
		HashIterations:  20000,
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing private key", func(c *Config) { c.PrivateKeyPath = "" }},
		{"missing public key", func(c *Config) { c.PublicKeyPath = "" }},
		{"short encryption key", func(c *Config) { c.EncryptionKey = "too-short" }},
		{"zero access token TTL", func(c *Config) { c.AccessTokenTTL = 0 }},
		{"negative auth code TTL", func(c *Config) { c.AuthCodeTTL = -time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OAUTH_PRIVATE_KEY_PATH", "/keys/private.pem")
	t.Setenv("OAUTH_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("OAUTH_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("OAUTH_ACCESS_TOKEN_TTL", "30m")
	t.Setenv("OAUTH_RATE_LIMIT", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/keys/private.pem", cfg.PrivateKeyPath)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 25, cfg.RateLimit)

	// Defaults fill in everything not set explicitly.
	assert.Equal(t, "http://localhost:8080", cfg.Issuer)
	assert.Equal(t, "/Security/login", cfg.LoginURL)
	assert.Equal(t, "sha512", cfg.HashMethod)
	assert.Equal(t, 20000, cfg.HashIterations)
	assert.True(t, cfg.AuditEnabled)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Setenv("OAUTH_PRIVATE_KEY_PATH", "")
	t.Setenv("OAUTH_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("OAUTH_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")

	_, err := LoadConfig()
	assert.Error(t, err, "a missing signing key is a startup error")
}

func TestConfig_TTL(t *testing.T) {
	cfg := validConfig()
	ttl := cfg.TTL()
	assert.Equal(t, time.Hour, ttl.AccessTokenTTL)
	assert.Equal(t, 10*time.Minute, ttl.AuthCodeTTL)
	assert.Equal(t, 720*time.Hour, ttl.RefreshTokenTTL)
}

func TestConfig_SecretStore(t *testing.T) {
	cfg := validConfig()
	store := cfg.SecretStore()
	assert.Equal(t, "sha512", store.Method)
	assert.Equal(t, 20000, store.Iterations)

	// Zero values fall back to the security defaults.
	cfg.HashMethod = ""
	cfg.HashIterations = 0
	store = cfg.SecretStore()
	assert.Equal(t, "sha512", store.Method)
	assert.Equal(t, 20000, store.Iterations)
}

package engine

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
)

// ProviderConfig carries everything needed to compose the protocol engine.
type ProviderConfig struct {
	// Issuer is the value of the iss claim in issued access tokens and the
	// base of the token endpoint URL.
	Issuer string

	// PrivateKey signs RS256 JWT access tokens.
	PrivateKey *rsa.PrivateKey

	// GlobalSecret keys the HMAC strategy for authorization codes and
	// refresh tokens. Must be at least 32 bytes.
	GlobalSecret []byte

	// Token lifetimes.
	AccessTokenTTL  time.Duration
	AuthCodeTTL     time.Duration
	RefreshTokenTTL time.Duration

	// Hasher verifies client secrets during client authentication.
	Hasher fosite.Hasher
}

// NewProvider composes a fosite provider over the given store: the
// authorization code, client credentials, and refresh token grants, PKCE
// (enforced for public clients), and token introspection. Access tokens are
// RS256 JWTs; codes and refresh tokens are opaque HMAC tokens.
func NewProvider(store *Store, cfg ProviderConfig) (fosite.OAuth2Provider, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("engine: provider requires a signing key")
	}
	if len(cfg.GlobalSecret) < 32 {
		return nil, fmt.Errorf("engine: global secret must be at least 32 bytes")
	}

	fositeConfig := &fosite.Config{
		AccessTokenIssuer:     cfg.Issuer,
		AccessTokenLifespan:   cfg.AccessTokenTTL,
		RefreshTokenLifespan:  cfg.RefreshTokenTTL,
		AuthorizeCodeLifespan: cfg.AuthCodeTTL,
		GlobalSecret:          cfg.GlobalSecret,
		TokenURL:              cfg.Issuer + "/access_token",
		ClientSecretsHasher:   cfg.Hasher,

		// Refresh tokens accompany every authorization code exchange, not
		// only grants that requested an offline scope.
		RefreshTokenScopes: []string{},

		EnforcePKCEForPublicClients: true,
	}

	signingKey := &jose.JSONWebKey{
		Key:       cfg.PrivateKey,
		KeyID:     "oauth2-server",
		Algorithm: "RS256",
		Use:       "sig",
	}

	jwtStrategy := compose.NewOAuth2JWTStrategy(
		func(_ context.Context) (interface{}, error) { return signingKey, nil },
		compose.NewOAuth2HMACStrategy(fositeConfig),
		fositeConfig,
	)

	return compose.Compose(
		fositeConfig,
		store,
		&compose.CommonStrategy{CoreStrategy: jwtStrategy},
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2ClientCredentialsGrantFactory,
		compose.OAuth2RefreshTokenGrantFactory,
		compose.OAuth2PKCEFactory,
		compose.OAuth2TokenIntrospectionFactory,
	), nil
}

// Package oauth implements an embeddable OAuth 2.0 authorization and
// resource server.
//
// The package issues RS256 JWT access tokens through the authorization
// code (with PKCE), client credentials and refresh token grants, backed
// by pluggable persistence. Two backends ship with it: an in-memory store
// under storage/memory and a SQLite store under storage/sqlite.
//
// Client secrets are stored as PBKDF2 hashes. Records carrying a legacy
// plaintext secret keep validating and are upgraded to a hash on their
// next write. Tokens and codes are never hard-deleted; revocation flips
// a flag and every active-state check treats unknown records as revoked.
//
// A minimal deployment looks like:
//
//	cfg, err := oauth.LoadConfig()
//	store, err := sqlite.Open(ctx, "oauth.db", cfg.SecretStore())
//	srv, err := oauth.NewServer(cfg, oauth.Repositories{
//		Clients:       store.Clients(),
//		Scopes:        store.Scopes(),
//		AuthCodes:     store.AuthCodes(),
//		AccessTokens:  store.AccessTokens(),
//		RefreshTokens: store.RefreshTokens(),
//	}, authenticator)
//	http.ListenAndServe(":8080", srv.Handler())
//
// The authenticator is supplied by the host application and answers the
// single question of who the browser user is; everything else is handled
// here.
package oauth

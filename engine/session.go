package engine

import (
	"time"

	"github.com/ory/fosite"
	foauth2 "github.com/ory/fosite/handler/oauth2"
	"github.com/ory/fosite/token/jwt"
)

// NewSession returns a JWT session for the given subject. The subject lands
// in the access token's sub claim; an empty subject produces the anonymous
// session used for prototype hydration and client_credentials grants.
func NewSession(subject string) *foauth2.JWTSession {
	return &foauth2.JWTSession{
		JWTClaims: &jwt.JWTClaims{
			Subject:  subject,
			IssuedAt: time.Now().UTC(),
		},
		JWTHeader: &jwt.Headers{
			Extra: map[string]interface{}{},
		},
		ExpiresAt: map[fosite.TokenType]time.Time{},
		Subject:   subject,
	}
}

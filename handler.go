package oauth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ory/fosite"

	"github.com/torque-foxes/ss-oauth2-server/engine"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// Authorize serves the authorization endpoint. Unauthenticated users are
// redirected to the login URL with the original request URI in BackURL.
func (s *Server) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ar, err := s.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		s.logger.Warn("rejecting authorization request", "error", err)
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	subject, err := s.authenticator.Authenticate(r)
	if err != nil {
		s.auditor.LogAuthFailure(ar.GetClient().GetID(), remoteIP(r), err.Error())
		s.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrAccessDenied.WithHint(err.Error()))
		return
	}
	if subject == "" {
		back := url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, s.cfg.LoginURL+"?BackURL="+back, http.StatusFound)
		return
	}

	scopes := make([]storage.Scope, 0, len(ar.GetRequestedScopes()))
	for _, identifier := range ar.GetRequestedScopes() {
		scope, err := s.repos.Scopes.Lookup(ctx, identifier)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.provider.WriteAuthorizeError(ctx, w, ar,
					fosite.ErrInvalidScope.WithHintf("The scope %q is not registered.", identifier))
				return
			}
			s.provider.WriteAuthorizeError(ctx, w, ar, err)
			return
		}
		scopes = append(scopes, *scope)
	}

	client := s.clientEntity(ar.GetClient())
	granted, err := s.repos.Scopes.Finalize(ctx, scopes, "authorization_code", client, subject)
	if err != nil {
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}
	for _, scope := range granted {
		ar.GrantScope(scope.Identifier)
	}

	response, err := s.provider.NewAuthorizeResponse(ctx, ar, engine.NewSession(subject))
	if err != nil {
		s.logger.Warn("failed to build authorization response", "error", err)
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	s.auditor.LogAuthorizationGranted(subject, ar.GetClient().GetID(), remoteIP(r),
		storage.ScopeIdentifiers(granted))
	s.logger.Info("authorization granted",
		"client_id", ar.GetClient().GetID(),
		"client_name", client.Name,
		"scopes", ar.GetGrantedScopes(),
	)
	s.provider.WriteAuthorizeResponse(ctx, w, ar, response)
}

// Token serves the token endpoint for the authorization code, client
// credentials and refresh token grants.
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := remoteIP(r)

	if !s.limiter.Allow(ip) {
		s.auditor.LogRateLimitExceeded(ip, "/access_token")
		ErrRateLimitExceeded("Too many token requests from this address.").Write(w)
		return
	}

	accessRequest, err := s.provider.NewAccessRequest(ctx, r, engine.NewSession(""))
	if err != nil {
		clientID := r.PostFormValue("client_id")
		if accessRequest != nil && accessRequest.GetClient() != nil {
			clientID = accessRequest.GetClient().GetID()
		}
		s.auditor.LogAuthFailure(clientID, ip, err.Error())
		s.logger.Warn("rejecting token request", "error", err)
		s.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	// The client credentials grant carries no prior authorization step, so
	// the requested scopes are granted here, subject to Finalize.
	if accessRequest.GetGrantTypes().ExactOne("client_credentials") {
		if err := s.grantClientCredentialScopes(ctx, accessRequest); err != nil {
			s.provider.WriteAccessError(ctx, w, accessRequest, err)
			return
		}
	}

	response, err := s.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		s.auditor.LogAuthFailure(accessRequest.GetClient().GetID(), ip, err.Error())
		s.logger.Warn("failed to issue token", "error", err)
		s.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	grantType := strings.Join(accessRequest.GetGrantTypes(), " ")
	s.auditor.LogTokenIssued(Subject(accessRequest), accessRequest.GetClient().GetID(), ip, grantType)
	s.logger.Info("token issued",
		"client_id", accessRequest.GetClient().GetID(),
		"grant_type", grantType,
	)
	s.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}

// Validate authenticates the bearer token on the request and answers with
// an empty 200 when it is active, or the protocol error otherwise. It is
// the resource-server half of the package, intended for use behind a
// reverse proxy's auth subrequest.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	ar, err := s.AuthenticateRequest(r)
	if err != nil {
		s.auditor.LogAuthFailure("", remoteIP(r), err.Error())
		errorFromEngine(err).Write(w)
		return
	}
	s.auditor.LogTokenValidated(Subject(ar), ar.GetClient().GetID(), remoteIP(r))
	w.WriteHeader(http.StatusOK)
}

// AuthenticateRequest introspects the bearer token carried by the request
// and returns the token's requester when it is active.
func (s *Server) AuthenticateRequest(r *http.Request) (fosite.AccessRequester, error) {
	token := s.BearerToken(r)
	if token == "" {
		return nil, fosite.ErrRequestUnauthorized.WithHint("The request is missing a bearer token.")
	}
	_, ar, err := s.provider.IntrospectToken(r.Context(), token, fosite.AccessToken, engine.NewSession(""))
	if err != nil {
		return nil, err
	}
	return ar, nil
}

// BearerToken extracts the bearer token from the Authorization header, or
// from the configured fallback header when Authorization is absent.
func (s *Server) BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" && s.cfg.AuthHeaderFallback != "" {
		header = r.Header.Get(s.cfg.AuthHeaderFallback)
	}
	if header == "" {
		return ""
	}
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return header
}

// Subject returns the authenticated user behind a requester, empty for
// machine-to-machine grants.
func Subject(ar fosite.Requester) string {
	if session := ar.GetSession(); session != nil {
		return session.GetSubject()
	}
	return ""
}

func (s *Server) grantClientCredentialScopes(ctx context.Context, ar fosite.AccessRequester) error {
	scopes := make([]storage.Scope, 0, len(ar.GetRequestedScopes()))
	for _, identifier := range ar.GetRequestedScopes() {
		scope, err := s.repos.Scopes.Lookup(ctx, identifier)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fosite.ErrInvalidScope.WithHintf("The scope %q is not registered.", identifier)
			}
			return err
		}
		scopes = append(scopes, *scope)
	}
	granted, err := s.repos.Scopes.Finalize(ctx, scopes, "client_credentials", s.clientEntity(ar.GetClient()), "")
	if err != nil {
		return err
	}
	for _, scope := range granted {
		ar.GrantScope(scope.Identifier)
	}
	return nil
}

func (s *Server) clientEntity(c fosite.Client) *storage.Client {
	if wrapped, ok := c.(*engine.Client); ok {
		return wrapped.Entity()
	}
	return &storage.Client{Identifier: c.GetID()}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package security provides the cryptographic and operational building blocks
// of the authorization server: client secret hashing, audit logging with PII
// protection, and per-client rate limiting.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventAuthorizationGranted = "authorization_granted"
	EventTokenIssued          = "token_issued"
	EventTokenValidated       = "token_validated"
	EventAuthFailure          = "auth_failure"
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventSecretUpgraded       = "secret_upgraded"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationGranted logs a user approving a client's scope request.
func (a *Auditor) LogAuthorizationGranted(userID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationGranted,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenIssued logs a successful token grant.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, grantType string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
		},
	})
}

// LogTokenValidated logs a successful bearer token validation.
func (a *Auditor) LogTokenValidated(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenValidated,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication or token validation failure.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// LogSecretUpgraded logs a legacy plaintext secret being rehashed at write.
func (a *Auditor) LogSecretUpgraded(clientID, method string, iterations int) {
	a.LogEvent(Event{
		Type:     EventSecretUpgraded,
		ClientID: clientID,
		Details: map[string]any{
			"hash_method":     method,
			"hash_iterations": iterations,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

package storage

import (
	"errors"
	"strings"

	"github.com/torque-foxes/ss-oauth2-server/security"
)

// Lengths of generated client credentials.
const (
	ClientIdentifierLength = 32
	ClientSecretLength     = 64
)

// Client is a registered OAuth client application.
//
// Secret handling is deliberately asymmetric: Secret holds legacy plaintext
// (or an operator-entered replacement) and is hashed away on the next write;
// HashedSecret, HashMethod, HashIterations, and Salt describe the stored
// PBKDF2 credential. For a brand-new client HashedSecret briefly carries the
// generated plaintext so it can be shown exactly once before the first
// persist hashes it in place.
type Client struct {
	ID             int64
	Name           string
	RedirectURI    string
	Identifier     string
	Secret         string
	HashedSecret   string
	HashMethod     string
	HashIterations int
	Salt           string
	Confidential   bool
	GrantType      string
}

// NewClient returns an unsaved client seeded with a random identifier and
// one-time secret, confidential by default and limited to the
// client_credentials grant.
func NewClient() *Client {
	return &Client{
		Identifier:   security.RandomToken(ClientIdentifierLength),
		HashedSecret: security.RandomToken(ClientSecretLength),
		Confidential: true,
		GrantType:    "client_credentials",
	}
}

// Validate reports every structural problem with the client record.
// Repositories refuse to persist a client for which this returns non-nil.
func (c *Client) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Identifier) == "" {
		errs = append(errs, errors.New("client identifier must not be empty"))
	}
	if strings.TrimSpace(c.Secret) == "" && strings.TrimSpace(c.HashedSecret) == "" {
		errs = append(errs, errors.New("client must have a secret"))
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		errs = append(errs, errors.New("redirect URI must be given"))
	}
	return errors.Join(errs...)
}

// GrantTypes returns the grants the client may use. The column stores a
// single grant or a comma-separated list.
func (c *Client) GrantTypes() []string {
	parts := strings.Split(c.GrantType, ",")
	grants := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			grants = append(grants, p)
		}
	}
	return grants
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return !c.Confidential
}

// OneTimeSecret returns the generated plaintext secret of a client that has
// never been persisted. After the first write only the hash survives and the
// second return value is false.
func (c *Client) OneTimeSecret() (string, bool) {
	if c.ID == 0 && c.Salt == "" && c.HashedSecret != "" {
		return c.HashedSecret, true
	}
	return "", false
}

// PrepareForWrite is the persist hook the repositories run before storing a
// client row. It hashes the one-time generated secret on the first write and
// migrates any plaintext in Secret on every write, clearing it afterwards.
// The salt is generated once and then pinned for the record's lifetime.
func (c *Client) PrepareForWrite(store security.SecretStore) error {
	if c.ID == 0 && c.Salt == "" && c.HashedSecret != "" && strings.TrimSpace(c.Secret) == "" {
		if err := c.storeSafely(store, c.HashedSecret); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Secret) != "" {
		if err := c.storeSafely(store, c.Secret); err != nil {
			return err
		}
		c.Secret = ""
	}
	return nil
}

func (c *Client) storeSafely(store security.SecretStore, secret string) error {
	if c.HashMethod == "" {
		c.HashMethod = store.Method
	}
	if c.HashIterations <= 0 {
		c.HashIterations = store.Iterations
	}
	if c.Salt == "" {
		c.Salt = security.RandomToken(security.SaltLength)
	}
	hashed, err := security.HashSecret(c.HashMethod, secret, c.Salt, c.HashIterations)
	if err != nil {
		return err
	}
	c.HashedSecret = hashed
	return nil
}

// IsSecretValid checks a presented secret against the stored credential in
// constant time. Records that predate hashing still hold plaintext in Secret
// and are compared directly; they are upgraded on their next write.
func (c *Client) IsSecretValid(candidate string) bool {
	if strings.TrimSpace(c.HashedSecret) == "" {
		return security.ConstantTimeEquals(c.Secret, candidate)
	}
	hashed, err := security.HashSecret(c.HashMethod, candidate, c.Salt, c.HashIterations)
	if err != nil {
		return false
	}
	return security.ConstantTimeEquals(c.HashedSecret, hashed)
}

package engine

import (
	"github.com/ory/fosite"

	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// Client adapts a storage.Client to the protocol engine's client interface.
type Client struct {
	entity *storage.Client
}

var _ fosite.Client = (*Client)(nil)

// NewClient wraps a stored client record.
func NewClient(entity *storage.Client) *Client {
	return &Client{entity: entity}
}

// Entity returns the underlying storage record.
func (c *Client) Entity() *storage.Client {
	return c.entity
}

// GetID returns the opaque client identifier, not the surrogate key.
func (c *Client) GetID() string {
	return c.entity.Identifier
}

// GetHashedSecret returns the stored credential in the encoded form the
// engine's secret hasher understands; see EncodeSecret.
func (c *Client) GetHashedSecret() []byte {
	return []byte(EncodeSecret(c.entity))
}

// GetRedirectURIs returns the registered redirect URI.
func (c *Client) GetRedirectURIs() []string {
	return []string{c.entity.RedirectURI}
}

// GetGrantTypes returns the grants the client is registered for.
func (c *Client) GetGrantTypes() fosite.Arguments {
	grants := c.entity.GrantTypes()
	if len(grants) == 0 {
		return fosite.Arguments{"authorization_code"}
	}
	return fosite.Arguments(grants)
}

// GetResponseTypes returns the authorization response types the client may
// use. Only the code flow is supported.
func (c *Client) GetResponseTypes() fosite.Arguments {
	return fosite.Arguments{"code"}
}

// GetScopes returns the client's allowed scopes. Clients carry no per-client
// scope restriction; which scopes a grant actually receives is decided at
// authorization time, so the wildcard admits any registered scope request.
func (c *Client) GetScopes() fosite.Arguments {
	return fosite.Arguments{"*"}
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return c.entity.IsPublic()
}

// GetAudience returns the allowed token audiences. None are restricted.
func (c *Client) GetAudience() fosite.Arguments {
	return nil
}

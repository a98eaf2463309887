package storage

import "encoding/json"

// Scope is a named permission a client may request.
type Scope struct {
	ID          int64  `json:"-"`
	Identifier  string `json:"-"`
	Description string `json:"-"`
}

// MarshalJSON renders the scope as its bare identifier, which is how scopes
// appear inside token payloads and introspection responses.
func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Identifier)
}

// ScopeIdentifiers projects a scope list onto its identifier strings.
func ScopeIdentifiers(scopes []Scope) []string {
	ids := make([]string, len(scopes))
	for i, s := range scopes {
		ids[i] = s.Identifier
	}
	return ids
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// scopeRepo implements storage.ScopeRepository.
type scopeRepo struct{ s *Store }

var _ storage.ScopeRepository = (*scopeRepo)(nil)

func (r *scopeRepo) Lookup(ctx context.Context, identifier string) (*storage.Scope, error) {
	var sc storage.Scope
	err := r.s.db.QueryRowContext(ctx,
		`SELECT id, identifier, description FROM scopes WHERE identifier = ?`,
		identifier,
	).Scan(&sc.ID, &sc.Identifier, &sc.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up scope: %w", err)
	}
	return &sc, nil
}

func (r *scopeRepo) Finalize(ctx context.Context, scopes []storage.Scope, grantType string, client *storage.Client, userID string) ([]storage.Scope, error) {
	return scopes, nil
}

func (r *scopeRepo) Create(ctx context.Context, scope *storage.Scope) error {
	res, err := r.s.db.ExecContext(ctx,
		`INSERT INTO scopes (identifier, description) VALUES (?, ?)`,
		scope.Identifier, scope.Description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting scope: %w", err)
	}
	if scope.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting scope id: %w", err)
	}
	return nil
}

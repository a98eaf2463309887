package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// clientRepo implements storage.ClientRepository.
type clientRepo struct{ s *Store }

var _ storage.ClientRepository = (*clientRepo)(nil)

const clientColumns = `id, name, redirect_uri, identifier, secret, hashed_secret,
			hash_method, hash_iterations, salt, confidential, grant_type`

func (r *clientRepo) Lookup(ctx context.Context, identifier string) (*storage.Client, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "sqlite.clients.lookup")
	defer span.End()

	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE identifier = ?`, identifier)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		r.s.inst.RecordStorageOp(ctx, "clients.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	if err != nil {
		r.s.inst.RecordStorageOp(ctx, "clients.lookup", err)
		return nil, fmt.Errorf("looking up client: %w", err)
	}
	r.s.inst.RecordStorageOp(ctx, "clients.lookup", nil)
	return c, nil
}

func (r *clientRepo) Validate(ctx context.Context, identifier, secret, grantType string) (bool, error) {
	c, err := r.Lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.IsPublic() {
		return false, nil
	}
	return c.IsSecretValid(secret), nil
}

func (r *clientRepo) Create(ctx context.Context, client *storage.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	if err := client.PrepareForWrite(r.s.secrets); err != nil {
		return err
	}

	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO clients (
			name, redirect_uri, identifier, secret, hashed_secret,
			hash_method, hash_iterations, salt, confidential, grant_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.Name, client.RedirectURI, client.Identifier, client.Secret,
		client.HashedSecret, client.HashMethod, client.HashIterations,
		client.Salt, client.Confidential, client.GrantType,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.s.inst.RecordStorageOp(ctx, "clients.create", storage.ErrAlreadyExists)
			return storage.ErrAlreadyExists
		}
		r.s.inst.RecordStorageOp(ctx, "clients.create", err)
		return fmt.Errorf("inserting client: %w", err)
	}
	if client.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting client id: %w", err)
	}
	r.s.inst.RecordStorageOp(ctx, "clients.create", nil)
	r.s.logger.Debug("client stored", "client_id", client.Identifier, "confidential", client.Confidential)
	return nil
}

func (r *clientRepo) Update(ctx context.Context, client *storage.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	upgrading := strings.TrimSpace(client.Secret) != ""
	if err := client.PrepareForWrite(r.s.secrets); err != nil {
		return err
	}

	res, err := r.s.db.ExecContext(ctx, `
		UPDATE clients SET
			name = ?, redirect_uri = ?, secret = ?, hashed_secret = ?,
			hash_method = ?, hash_iterations = ?, salt = ?,
			confidential = ?, grant_type = ?
		WHERE identifier = ?`,
		client.Name, client.RedirectURI, client.Secret, client.HashedSecret,
		client.HashMethod, client.HashIterations, client.Salt,
		client.Confidential, client.GrantType, client.Identifier,
	)
	if err != nil {
		r.s.inst.RecordStorageOp(ctx, "clients.update", err)
		return fmt.Errorf("updating client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		r.s.inst.RecordStorageOp(ctx, "clients.update", storage.ErrNotFound)
		return storage.ErrNotFound
	}
	r.s.inst.RecordStorageOp(ctx, "clients.update", nil)
	if upgrading {
		r.s.auditor.LogSecretUpgraded(client.Identifier, client.HashMethod, client.HashIterations)
	}
	return nil
}

func scanClient(row *sql.Row) (*storage.Client, error) {
	var c storage.Client
	err := row.Scan(
		&c.ID, &c.Name, &c.RedirectURI, &c.Identifier, &c.Secret,
		&c.HashedSecret, &c.HashMethod, &c.HashIterations, &c.Salt,
		&c.Confidential, &c.GrantType,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

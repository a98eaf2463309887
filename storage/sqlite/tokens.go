package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/torque-foxes/ss-oauth2-server/storage"
)

// loadScopes reassembles a token's scope list from its join table. Scope
// rows are joined in when the identifier is registered, so descriptions
// survive the round trip, but an unregistered identifier still comes back as
// a bare scope.
func (s *Store) loadScopes(ctx context.Context, table, fkCol string, id int64) ([]storage.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts.scope_identifier, COALESCE(sc.id, 0), COALESCE(sc.description, '')
		FROM `+table+` ts
		LEFT JOIN scopes sc ON sc.identifier = ts.scope_identifier
		WHERE ts.`+fkCol+` = ?
		ORDER BY ts.scope_identifier`, id)
	if err != nil {
		return nil, fmt.Errorf("loading token scopes: %w", err)
	}
	defer rows.Close()

	var scopes []storage.Scope
	for rows.Next() {
		var sc storage.Scope
		if err := rows.Scan(&sc.Identifier, &sc.ID, &sc.Description); err != nil {
			return nil, fmt.Errorf("scanning token scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

func insertScopes(ctx context.Context, tx *sql.Tx, table, fkCol string, id int64, scopes []storage.Scope) error {
	for _, sc := range scopes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (`+fkCol+`, scope_identifier) VALUES (?, ?)`,
			id, sc.Identifier,
		); err != nil {
			return fmt.Errorf("inserting token scope: %w", err)
		}
	}
	return nil
}

// accessTokenRepo implements storage.AccessTokenRepository.
type accessTokenRepo struct{ s *Store }

var (
	_ storage.AccessTokenRepository = (*accessTokenRepo)(nil)
	_ storage.GrantRevoker          = (*accessTokenRepo)(nil)
)

func (r *accessTokenRepo) New() *storage.AccessToken { return &storage.AccessToken{} }

func (r *accessTokenRepo) Issue(client *storage.Client, scopes []storage.Scope, userID string) *storage.AccessToken {
	return &storage.AccessToken{
		ClientIdentifier: client.Identifier,
		UserID:           userID,
		Scopes:           scopes,
	}
}

func (r *accessTokenRepo) Lookup(ctx context.Context, code string) (*storage.AccessToken, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "sqlite.access_tokens.lookup")
	defer span.End()

	var (
		t      storage.AccessToken
		expiry int64
	)
	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, code, expiry, revoked, request_id, client_identifier, user_id
		FROM access_tokens WHERE code = ?`, code,
	).Scan(&t.ID, &t.Code, &expiry, &t.Revoked, &t.RequestID, &t.ClientIdentifier, &t.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		r.s.inst.RecordStorageOp(ctx, "access_tokens.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	if err != nil {
		r.s.inst.RecordStorageOp(ctx, "access_tokens.lookup", err)
		return nil, fmt.Errorf("looking up access token: %w", err)
	}
	t.Expiry = fromUnix(expiry)

	if t.Scopes, err = r.s.loadScopes(ctx, "access_token_scopes", "token_id", t.ID); err != nil {
		return nil, err
	}
	r.s.inst.RecordStorageOp(ctx, "access_tokens.lookup", nil)
	return &t, nil
}

func (r *accessTokenRepo) PersistNew(ctx context.Context, token *storage.AccessToken) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO access_tokens (code, expiry, revoked, request_id, client_identifier, user_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.Code, toUnix(token.Expiry), token.Revoked, token.RequestID,
		token.ClientIdentifier, token.UserID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting access token: %w", err)
	}
	if token.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting access token id: %w", err)
	}
	if err := insertScopes(ctx, tx, "access_token_scopes", "token_id", token.ID, token.Scopes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing access token: %w", err)
	}
	r.s.inst.RecordTokenIssued(ctx, "access_token")
	return nil
}

func (r *accessTokenRepo) Revoke(ctx context.Context, code string) error {
	return r.s.revokeByCode(ctx, "access_tokens", "access_token", code)
}

func (r *accessTokenRepo) IsRevoked(ctx context.Context, code string) (bool, error) {
	return r.s.isRevoked(ctx, "access_tokens", code)
}

func (r *accessTokenRepo) RevokeByRequestID(ctx context.Context, requestID string) error {
	return r.s.revokeByRequestID(ctx, "access_tokens", "access_token", requestID)
}

// authCodeRepo implements storage.AuthCodeRepository.
type authCodeRepo struct{ s *Store }

var _ storage.AuthCodeRepository = (*authCodeRepo)(nil)

func (r *authCodeRepo) New() *storage.AuthCode { return &storage.AuthCode{} }

func (r *authCodeRepo) Lookup(ctx context.Context, code string) (*storage.AuthCode, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "sqlite.auth_codes.lookup")
	defer span.End()

	var (
		t      storage.AuthCode
		expiry int64
	)
	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, code, expiry, revoked, request_id, client_identifier, user_id,
			redirect_uri, code_challenge, code_challenge_method
		FROM auth_codes WHERE code = ?`, code,
	).Scan(&t.ID, &t.Code, &expiry, &t.Revoked, &t.RequestID, &t.ClientIdentifier,
		&t.UserID, &t.RedirectURI, &t.CodeChallenge, &t.CodeChallengeMethod)
	if errors.Is(err, sql.ErrNoRows) {
		r.s.inst.RecordStorageOp(ctx, "auth_codes.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	if err != nil {
		r.s.inst.RecordStorageOp(ctx, "auth_codes.lookup", err)
		return nil, fmt.Errorf("looking up auth code: %w", err)
	}
	t.Expiry = fromUnix(expiry)

	if t.Scopes, err = r.s.loadScopes(ctx, "auth_code_scopes", "code_id", t.ID); err != nil {
		return nil, err
	}
	r.s.inst.RecordStorageOp(ctx, "auth_codes.lookup", nil)
	return &t, nil
}

func (r *authCodeRepo) PersistNew(ctx context.Context, authCode *storage.AuthCode) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO auth_codes (code, expiry, revoked, request_id, client_identifier,
			user_id, redirect_uri, code_challenge, code_challenge_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		authCode.Code, toUnix(authCode.Expiry), authCode.Revoked, authCode.RequestID,
		authCode.ClientIdentifier, authCode.UserID, authCode.RedirectURI,
		authCode.CodeChallenge, authCode.CodeChallengeMethod,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting auth code: %w", err)
	}
	if authCode.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting auth code id: %w", err)
	}
	if err := insertScopes(ctx, tx, "auth_code_scopes", "code_id", authCode.ID, authCode.Scopes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing auth code: %w", err)
	}
	r.s.inst.RecordTokenIssued(ctx, "auth_code")
	return nil
}

func (r *authCodeRepo) Revoke(ctx context.Context, code string) error {
	return r.s.revokeByCode(ctx, "auth_codes", "auth_code", code)
}

func (r *authCodeRepo) IsRevoked(ctx context.Context, code string) (bool, error) {
	return r.s.isRevoked(ctx, "auth_codes", code)
}

// refreshTokenRepo implements storage.RefreshTokenRepository.
type refreshTokenRepo struct{ s *Store }

var (
	_ storage.RefreshTokenRepository = (*refreshTokenRepo)(nil)
	_ storage.GrantRevoker           = (*refreshTokenRepo)(nil)
)

func (r *refreshTokenRepo) New() *storage.RefreshToken { return &storage.RefreshToken{} }

func (r *refreshTokenRepo) Lookup(ctx context.Context, code string) (*storage.RefreshToken, error) {
	ctx, span := r.s.inst.StartSpan(ctx, "sqlite.refresh_tokens.lookup")
	defer span.End()

	var (
		t      storage.RefreshToken
		expiry int64
	)
	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, code, expiry, revoked, request_id, access_token_id
		FROM refresh_tokens WHERE code = ?`, code,
	).Scan(&t.ID, &t.Code, &expiry, &t.Revoked, &t.RequestID, &t.AccessTokenID)
	if errors.Is(err, sql.ErrNoRows) {
		r.s.inst.RecordStorageOp(ctx, "refresh_tokens.lookup", storage.ErrNotFound)
		return nil, storage.ErrNotFound
	}
	if err != nil {
		r.s.inst.RecordStorageOp(ctx, "refresh_tokens.lookup", err)
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	t.Expiry = fromUnix(expiry)
	r.s.inst.RecordStorageOp(ctx, "refresh_tokens.lookup", nil)
	return &t, nil
}

func (r *refreshTokenRepo) PersistNew(ctx context.Context, token *storage.RefreshToken) error {
	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (code, expiry, revoked, request_id, access_token_id)
		VALUES (?, ?, ?, ?, ?)`,
		token.Code, toUnix(token.Expiry), token.Revoked, token.RequestID, token.AccessTokenID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	if token.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting refresh token id: %w", err)
	}
	r.s.inst.RecordTokenIssued(ctx, "refresh_token")
	return nil
}

func (r *refreshTokenRepo) Revoke(ctx context.Context, code string) error {
	return r.s.revokeByCode(ctx, "refresh_tokens", "refresh_token", code)
}

func (r *refreshTokenRepo) IsRevoked(ctx context.Context, code string) (bool, error) {
	return r.s.isRevoked(ctx, "refresh_tokens", code)
}

func (r *refreshTokenRepo) RevokeByRequestID(ctx context.Context, requestID string) error {
	return r.s.revokeByRequestID(ctx, "refresh_tokens", "refresh_token", requestID)
}

func (r *refreshTokenRepo) AccessToken(ctx context.Context, token *storage.RefreshToken) (*storage.AccessToken, error) {
	var (
		t      storage.AccessToken
		expiry int64
	)
	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, code, expiry, revoked, request_id, client_identifier, user_id
		FROM access_tokens WHERE id = ?`, token.AccessTokenID,
	).Scan(&t.ID, &t.Code, &expiry, &t.Revoked, &t.RequestID, &t.ClientIdentifier, &t.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving linked access token: %w", err)
	}
	t.Expiry = fromUnix(expiry)

	if t.Scopes, err = r.s.loadScopes(ctx, "access_token_scopes", "token_id", t.ID); err != nil {
		return nil, err
	}
	return &t, nil
}

// revokeByCode soft-deletes a token row. Revoking an unknown or already
// revoked code is a no-op.
func (s *Store) revokeByCode(ctx context.Context, table, family, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET revoked = 1 WHERE code = ? AND revoked = 0`, code)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.inst.RecordTokenRevoked(ctx, family)
	}
	return nil
}

// isRevoked reports the revocation state, treating unknown codes as revoked.
func (s *Store) isRevoked(ctx context.Context, table, code string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT revoked FROM `+table+` WHERE code = ?`, code).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return revoked, nil
}

func (s *Store) revokeByRequestID(ctx context.Context, table, family, requestID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET revoked = 1 WHERE request_id = ? AND revoked = 0`, requestID)
	if err != nil {
		return fmt.Errorf("revoking grant tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.inst.RecordTokenRevoked(ctx, family)
	}
	return nil
}

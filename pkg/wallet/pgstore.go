package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists sealed identities in the wallet_identities table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed wallet store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Put inserts a new active record, revoking any previous active one in
// the same transaction so the partial unique index never trips.
func (s *PGStore) Put(ctx context.Context, rec *StoredIdentity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE wallet_identities SET is_revoked = TRUE, updated_at = $2 WHERE user_id = $1 AND NOT is_revoked`,
		rec.UserID, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to revoke previous identity: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_identities
		   (user_id, msp_id, certificate, key_ciphertext, key_iv, key_auth_tag,
		    algorithm, organization, enrollment_id, is_revoked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)`,
		rec.UserID, rec.MSPID, string(rec.Certificate), rec.KeyCiphertext, rec.KeyIV, rec.KeyAuthTag,
		rec.Algorithm, rec.Organization, rec.EnrollmentID, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	return tx.Commit(ctx)
}

// Get returns the active record for a user.
func (s *PGStore) Get(ctx context.Context, userID string) (*StoredIdentity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, msp_id, certificate, key_ciphertext, key_iv, key_auth_tag,
		        algorithm, organization, enrollment_id, is_revoked, created_at, updated_at
		   FROM wallet_identities
		  WHERE user_id = $1 AND NOT is_revoked`,
		userID,
	)

	var rec StoredIdentity
	var cert string
	err := row.Scan(&rec.UserID, &rec.MSPID, &cert, &rec.KeyCiphertext, &rec.KeyIV, &rec.KeyAuthTag,
		&rec.Algorithm, &rec.Organization, &rec.EnrollmentID, &rec.IsRevoked, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	rec.Certificate = []byte(cert)
	return &rec, nil
}

// Revoke soft-deletes the active record.
func (s *PGStore) Revoke(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallet_identities SET is_revoked = TRUE, updated_at = now() WHERE user_id = $1 AND NOT is_revoked`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove hard-deletes every record for the user.
func (s *PGStore) Remove(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_identities WHERE user_id = $1`, userID,
	); err != nil {
		return fmt.Errorf("failed to remove identity: %w", err)
	}
	return nil
}

// ListByOrganization returns the active records of an organization.
func (s *PGStore) ListByOrganization(ctx context.Context, org string) ([]*StoredIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, msp_id, certificate, key_ciphertext, key_iv, key_auth_tag,
		        algorithm, organization, enrollment_id, is_revoked, created_at, updated_at
		   FROM wallet_identities
		  WHERE organization = $1 AND NOT is_revoked
		  ORDER BY user_id`,
		org,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var recs []*StoredIdentity
	for rows.Next() {
		var rec StoredIdentity
		var cert string
		if err := rows.Scan(&rec.UserID, &rec.MSPID, &cert, &rec.KeyCiphertext, &rec.KeyIV, &rec.KeyAuthTag,
			&rec.Algorithm, &rec.Organization, &rec.EnrollmentID, &rec.IsRevoked, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		rec.Certificate = []byte(cert)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

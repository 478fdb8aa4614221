// Package wallet stores per-user ledger identities: the certificate in
// the clear, the private key sealed with AES-256-GCM under a key derived
// from a configured secret. Decrypted identities are cached in memory
// for the gateway's signer and never persisted in plaintext.
package wallet

import (
	"context"
	"time"
)

// SealAlgorithm is the only sealing algorithm written by this package.
// Stored per record so a future rotation can tell old rows apart.
const SealAlgorithm = "aes-256-gcm"

// Identity is a decrypted ledger identity, ready for the signer.
type Identity struct {
	UserID       string
	MSPID        string
	Certificate  []byte // PEM
	PrivateKey   []byte // PEM, decrypted
	Organization string
	EnrollmentID string
}

// StoredIdentity is the persisted, sealed form of an identity.
type StoredIdentity struct {
	UserID        string
	MSPID         string
	Certificate   []byte // PEM, stored in the clear
	KeyCiphertext []byte
	KeyIV         []byte
	KeyAuthTag    []byte
	Algorithm     string
	Organization  string
	EnrollmentID  string
	IsRevoked     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the persistence layer beneath the wallet. The production
// implementation is backed by PostgreSQL; tests use an in-memory fake.
// Get returns only the active (non-revoked) record.
type Store interface {
	Put(ctx context.Context, rec *StoredIdentity) error
	Get(ctx context.Context, userID string) (*StoredIdentity, error)
	Revoke(ctx context.Context, userID string) error
	Remove(ctx context.Context, userID string) error
	ListByOrganization(ctx context.Context, org string) ([]*StoredIdentity, error)
}

package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Wallet seals identities into the store and serves decrypted ones from
// an in-memory cache.
//
// Get is read-heavy and safe for parallel callers: the cache is guarded
// by a RWMutex, and a decrypt happens outside any lock (two concurrent
// misses decrypt twice; the second write is a no-op). Put, Revoke and
// Remove are rare and take the write lock only for the affected entry's
// map operation.
type Wallet struct {
	store  Store
	sealer *sealer

	mu    sync.RWMutex
	cache map[string]*Identity

	closed bool
}

// New creates a wallet over the given store, deriving the sealing key
// from the configured secret.
func New(store Store, encryptionSecret string) (*Wallet, error) {
	s, err := newSealer(encryptionSecret)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		store:  store,
		sealer: s,
		cache:  make(map[string]*Identity),
	}, nil
}

// Put seals and persists a new identity for the user, replacing any
// previous one. The plaintext key is cached so the immediately
// following ledger call needs no decrypt.
func (w *Wallet) Put(ctx context.Context, userID, mspID string, certificate, privateKey []byte, organization, enrollmentID string) error {
	ciphertext, iv, tag, err := w.sealer.seal(privateKey)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec := &StoredIdentity{
		UserID:        userID,
		MSPID:         mspID,
		Certificate:   append([]byte(nil), certificate...),
		KeyCiphertext: ciphertext,
		KeyIV:         iv,
		KeyAuthTag:    tag,
		Algorithm:     SealAlgorithm,
		Organization:  organization,
		EnrollmentID:  enrollmentID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := w.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("wallet: failed to persist identity for %s: %w", userID, err)
	}

	id := &Identity{
		UserID:       userID,
		MSPID:        mspID,
		Certificate:  append([]byte(nil), certificate...),
		PrivateKey:   append([]byte(nil), privateKey...),
		Organization: organization,
		EnrollmentID: enrollmentID,
	}

	w.mu.Lock()
	w.cache[userID] = id
	w.mu.Unlock()
	return nil
}

// Get returns the decrypted identity for a user, or ErrNotFound when no
// active identity exists.
func (w *Wallet) Get(ctx context.Context, userID string) (*Identity, error) {
	w.mu.RLock()
	id, ok := w.cache[userID]
	w.mu.RUnlock()
	if ok {
		return id, nil
	}

	rec, err := w.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	privateKey, err := w.sealer.open(rec.KeyCiphertext, rec.KeyIV, rec.KeyAuthTag)
	if err != nil {
		return nil, err
	}

	id = &Identity{
		UserID:       rec.UserID,
		MSPID:        rec.MSPID,
		Certificate:  rec.Certificate,
		PrivateKey:   privateKey,
		Organization: rec.Organization,
		EnrollmentID: rec.EnrollmentID,
	}

	w.mu.Lock()
	w.cache[userID] = id
	w.mu.Unlock()
	return id, nil
}

// Exists reports whether an active identity exists for the user.
func (w *Wallet) Exists(ctx context.Context, userID string) (bool, error) {
	w.mu.RLock()
	_, ok := w.cache[userID]
	w.mu.RUnlock()
	if ok {
		return true, nil
	}

	_, err := w.store.Get(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Revoke soft-deletes the user's identity. The cache entry is evicted
// before returning so a revoked key can never sign again.
func (w *Wallet) Revoke(ctx context.Context, userID string) error {
	w.mu.Lock()
	delete(w.cache, userID)
	w.mu.Unlock()

	if err := w.store.Revoke(ctx, userID); err != nil {
		return fmt.Errorf("wallet: failed to revoke identity for %s: %w", userID, err)
	}
	return nil
}

// Remove hard-deletes every record for the user.
func (w *Wallet) Remove(ctx context.Context, userID string) error {
	w.mu.Lock()
	delete(w.cache, userID)
	w.mu.Unlock()

	if err := w.store.Remove(ctx, userID); err != nil {
		return fmt.Errorf("wallet: failed to remove identity for %s: %w", userID, err)
	}
	return nil
}

// ListByOrganization returns the sealed records of an organization.
func (w *Wallet) ListByOrganization(ctx context.Context, org string) ([]*StoredIdentity, error) {
	return w.store.ListByOrganization(ctx, org)
}

// Forget drops a user's decrypted identity from the cache without
// touching the store. Called when the user's ledger handle is evicted.
func (w *Wallet) Forget(userID string) {
	w.mu.Lock()
	delete(w.cache, userID)
	w.mu.Unlock()
}

// Close clears the cache and zeroes the derived sealing key.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true

	for userID, id := range w.cache {
		for i := range id.PrivateKey {
			id.PrivateKey[i] = 0
		}
		delete(w.cache, userID)
	}
	w.sealer.zero()
	slog.Info("Wallet closed, key material zeroed")
}

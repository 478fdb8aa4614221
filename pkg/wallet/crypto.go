package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	keyLen = 32
	ivLen  = 12
	tagLen = 16

	// scrypt cost parameters. Derivation happens once at startup, so
	// the slow setting costs nothing per request.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// kdfSalt is fixed: the sealing key must be re-derivable from the
// configured secret alone after a restart (there is no place to store a
// per-deployment salt that is safer than the secret itself).
var kdfSalt = []byte("parceltrace-wallet-v1")

// sealer holds the derived AES-256-GCM key in process memory only.
type sealer struct {
	key []byte
}

// newSealer derives the sealing key from the configured secret.
func newSealer(secret string) (*sealer, error) {
	key, err := scrypt.Key([]byte(secret), kdfSalt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("wallet: key derivation failed: %w", err)
	}
	return &sealer{key: key}, nil
}

// seal encrypts plaintext, returning ciphertext, IV and auth tag
// separately to match the stored record layout.
func (s *sealer) seal(plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wallet: cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wallet: gcm init failed: %w", err)
	}

	iv = make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("wallet: iv generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagLen]
	tag = sealed[len(sealed)-tagLen:]
	return ciphertext, iv, tag, nil
}

// open decrypts a stored ciphertext. A tag mismatch (wrong key or
// tampered record) returns ErrDecrypt.
func (s *sealer) open(ciphertext, iv, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: gcm init failed: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// zero wipes the derived key.
func (s *sealer) zero() {
	for i := range s.key {
		s.key[i] = 0
	}
}

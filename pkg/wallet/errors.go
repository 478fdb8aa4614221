package wallet

import "errors"

var (
	// ErrNotFound is returned when no active identity exists for a user.
	ErrNotFound = errors.New("wallet: identity not found")

	// ErrDecrypt is returned when a stored key fails authentication —
	// typically the service was restarted with a different encryption
	// secret.
	ErrDecrypt = errors.New("wallet: failed to decrypt private key")
)

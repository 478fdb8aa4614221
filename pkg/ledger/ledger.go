// Package ledger models the distributed ledger as a narrow client
// interface — submit, evaluate, event subscription — with a
// Fabric Gateway implementation behind it. Each end user gets a handle
// signed with their own wallet identity; handles are cached and evicted
// together with the cached key material.
package ledger

import "context"

// Contract is a chaincode binding under one user's identity.
type Contract interface {
	// Submit sends a transaction through ordering and waits for commit.
	Submit(ctx context.Context, fn string, args ...string) ([]byte, error)
	// Evaluate runs a read-only query on a single peer.
	Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error)
}

// Connector opens per-user contract handles.
type Connector interface {
	// Contract returns the caller's chaincode handle, creating and
	// caching it on first use.
	Contract(ctx context.Context, userID string) (Contract, error)
	// Release drops a user's handle and its decrypted key material.
	Release(userID string)
	// Close releases every handle and the shared transport clients.
	Close()
}

// Event is one decoded chaincode event. (TxID, BlockNumber) identifies
// an event across reconnect replays.
type Event struct {
	Name        string
	Payload     []byte
	TxID        string
	BlockNumber uint64
}

// EventSource subscribes to the delivery chaincode's event stream.
type EventSource interface {
	// ChaincodeEvents opens the event stream under the service
	// identity. The channel closes when ctx is cancelled or the
	// underlying connection drops; callers own reconnection.
	ChaincodeEvents(ctx context.Context) (<-chan *Event, error)
}

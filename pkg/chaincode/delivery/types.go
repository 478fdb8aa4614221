// Package delivery implements the on-ledger delivery state machine:
// a smart contract that is the single authoritative source of custody
// truth for tracked packages. Every mutation is validated against the
// caller's certificate attributes and the current world state, then
// persisted and accompanied by a typed chaincode event.
package delivery

import (
	"encoding/json"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// DeliveryContract provides the custody-tracking transaction functions.
type DeliveryContract struct {
	contractapi.Contract
}

// UserRole is the role embedded in a caller's enrollment certificate.
type UserRole string

const (
	RoleCustomer       UserRole = "CUSTOMER"
	RoleSeller         UserRole = "SELLER"
	RoleDeliveryPerson UserRole = "DELIVERY_PERSON"
	RoleAdmin          UserRole = "ADMIN"
)

// DeliveryStatus is the closed status set of the state machine.
type DeliveryStatus string

const (
	StatusPendingPickup               DeliveryStatus = "PENDING_PICKUP"
	StatusPendingPickupHandoff        DeliveryStatus = "PENDING_PICKUP_HANDOFF"
	StatusDisputedPickup              DeliveryStatus = "DISPUTED_PICKUP"
	StatusInTransit                   DeliveryStatus = "IN_TRANSIT"
	StatusPendingTransitHandoff       DeliveryStatus = "PENDING_TRANSIT_HANDOFF"
	StatusDisputedTransitHandoff      DeliveryStatus = "DISPUTED_TRANSIT_HANDOFF"
	StatusPendingDeliveryConfirmation DeliveryStatus = "PENDING_DELIVERY_CONFIRMATION"
	StatusConfirmedDelivery           DeliveryStatus = "CONFIRMED_DELIVERY"
	StatusDisputedDelivery            DeliveryStatus = "DISPUTED_DELIVERY"
	StatusCancelled                   DeliveryStatus = "CANCELLED"
)

// validStatuses is the closed set accepted by QueryDeliveriesByStatus.
var validStatuses = map[DeliveryStatus]bool{
	StatusPendingPickup:               true,
	StatusPendingPickupHandoff:        true,
	StatusDisputedPickup:              true,
	StatusInTransit:                   true,
	StatusPendingTransitHandoff:       true,
	StatusDisputedTransitHandoff:      true,
	StatusPendingDeliveryConfirmation: true,
	StatusConfirmedDelivery:           true,
	StatusDisputedDelivery:            true,
	StatusCancelled:                   true,
}

// IsTerminal reports whether the status permits no further mutation.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmedDelivery, StatusCancelled,
		StatusDisputedPickup, StatusDisputedTransitHandoff, StatusDisputedDelivery:
		return true
	}
	return false
}

// PackageDimensions are the physical dimensions of a package in cm.
type PackageDimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Location is a coarse location (no PII).
type Location struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// PendingHandoff tracks an in-flight two-phase custody transfer.
// At most one exists per delivery; only the initiator may cancel it and
// only the target may confirm or dispute it.
type PendingHandoff struct {
	FromUserID  string   `json:"fromUserId"`
	FromRole    UserRole `json:"fromRole"`
	ToUserID    string   `json:"toUserId"`
	ToRole      UserRole `json:"toRole"`
	InitiatedAt string   `json:"initiatedAt"`
}

// Delivery is the sole persisted entity on the ledger, keyed by DeliveryID.
// SellerID, CustomerID and OrderID are write-once.
type Delivery struct {
	DeliveryID           string            `json:"deliveryId"`
	OrderID              string            `json:"orderId"`
	SellerID             string            `json:"sellerId"`
	CustomerID           string            `json:"customerId"`
	PackageWeight        float64           `json:"packageWeight"`
	PackageDimensions    PackageDimensions `json:"packageDimensions"`
	DeliveryStatus       DeliveryStatus    `json:"deliveryStatus"`
	LastLocation         Location          `json:"lastLocation"`
	CurrentCustodianID   string            `json:"currentCustodianId"`
	CurrentCustodianRole UserRole          `json:"currentCustodianRole"`
	PendingHandoff       *PendingHandoff   `json:"pendingHandoff,omitempty" metadata:",optional"`
	UpdatedAt            string            `json:"updatedAt"`
}

// HistoryRecord is one committed version of a delivery, as recorded by
// the platform's history iterator.
type HistoryRecord struct {
	TxID      string    `json:"txId"`
	Timestamp string    `json:"timestamp"`
	IsDelete  bool      `json:"isDelete"`
	Delivery  *Delivery `json:"delivery,omitempty" metadata:",optional"`
}

// Chaincode event names.
const (
	EventDeliveryCreated       = "DeliveryCreated"
	EventDeliveryStatusChanged = "DeliveryStatusChanged"
	EventHandoffInitiated      = "HandoffInitiated"
	EventHandoffConfirmed      = "HandoffConfirmed"
	EventHandoffDisputed       = "HandoffDisputed"

	// EventBatch wraps multiple typed events in a single chaincode event.
	// The platform keeps only the last SetEvent per transaction, so a
	// mutation that must announce both a handoff and a status change
	// emits one envelope instead of two events.
	EventBatch = "DeliveryEventBatch"
)

// BatchedEvent is one entry of an EventBatch envelope.
type BatchedEvent struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// StatusEvent is the payload of DeliveryCreated and DeliveryStatusChanged.
type StatusEvent struct {
	DeliveryID string         `json:"deliveryId"`
	OrderID    string         `json:"orderId"`
	OldStatus  DeliveryStatus `json:"oldStatus,omitempty"`
	NewStatus  DeliveryStatus `json:"newStatus"`
	Timestamp  string         `json:"timestamp"`
}

// HandoffEvent is the payload of HandoffInitiated and HandoffConfirmed.
type HandoffEvent struct {
	DeliveryID string   `json:"deliveryId"`
	FromUserID string   `json:"fromUserId"`
	ToUserID   string   `json:"toUserId"`
	ToRole     UserRole `json:"toRole"`
	Timestamp  string   `json:"timestamp"`
}

// DisputeEvent is the payload of HandoffDisputed.
type DisputeEvent struct {
	DeliveryID string `json:"deliveryId"`
	DisputedBy string `json:"disputedBy"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

// CallerIdentity holds the identity extracted from the endorsing client's
// X.509 certificate attributes.
type CallerIdentity struct {
	ID   string
	Role UserRole
	MSP  string
}

package delivery

import (
	"encoding/json"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// InitLedger is invoked once at chaincode instantiation. The ledger
// starts empty; the function exists for the deployment convention only.
func (c *DeliveryContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	return nil
}

// txTimestamp returns the transaction's RFC3339 UTC timestamp. The tx
// timestamp comes from the ordering client, so it is identical on every
// endorser — wall-clock reads would diverge and break endorsement.
func txTimestamp(ctx contractapi.TransactionContextInterface) (string, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return "", Errorf(KindInvalidArgument, "failed to get transaction timestamp: %v", err)
	}
	return ts.AsTime().UTC().Format(time.RFC3339), nil
}

// monotonicUpdatedAt keeps UpdatedAt non-decreasing: if the transaction
// clock reads earlier than the stored value, the stored value wins.
func monotonicUpdatedAt(current, proposed string) string {
	if current == "" {
		return proposed
	}
	cur, errCur := time.Parse(time.RFC3339, current)
	prop, errProp := time.Parse(time.RFC3339, proposed)
	if errCur != nil || errProp != nil {
		return proposed
	}
	if prop.Before(cur) {
		return current
	}
	return proposed
}

// putDelivery serializes and writes a delivery to the world state.
func putDelivery(ctx contractapi.TransactionContextInterface, delivery *Delivery) error {
	deliveryJSON, err := json.Marshal(delivery)
	if err != nil {
		return Errorf(KindInvalidArgument, "failed to marshal delivery: %v", err)
	}
	if err := ctx.GetStub().PutState(delivery.DeliveryID, deliveryJSON); err != nil {
		return Errorf(KindInvalidState, "failed to write delivery to world state: %v", err)
	}
	return nil
}

// eventBatch accumulates the typed events of one mutation. emit sets a
// single chaincode event: the natural name when there is one entry, the
// EventBatch envelope when there are several (SetEvent is last-wins).
type eventBatch struct {
	events []BatchedEvent
}

func (b *eventBatch) add(name string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Errorf(KindInvalidArgument, "failed to marshal event payload: %v", err)
	}
	b.events = append(b.events, BatchedEvent{Name: name, Payload: payloadBytes})
	return nil
}

func (b *eventBatch) emit(ctx contractapi.TransactionContextInterface) error {
	switch len(b.events) {
	case 0:
		return nil
	case 1:
		if err := ctx.GetStub().SetEvent(b.events[0].Name, b.events[0].Payload); err != nil {
			return Errorf(KindInvalidState, "failed to set chaincode event: %v", err)
		}
		return nil
	default:
		envelope, err := json.Marshal(b.events)
		if err != nil {
			return Errorf(KindInvalidArgument, "failed to marshal event batch: %v", err)
		}
		if err := ctx.GetStub().SetEvent(EventBatch, envelope); err != nil {
			return Errorf(KindInvalidState, "failed to set chaincode event: %v", err)
		}
		return nil
	}
}

// emitEvent sets a single chaincode event on the transaction.
func emitEvent(ctx contractapi.TransactionContextInterface, eventName string, payload interface{}) error {
	var batch eventBatch
	if err := batch.add(eventName, payload); err != nil {
		return err
	}
	return batch.emit(ctx)
}

// readDeliveryInternal loads a delivery without authorization checks.
func (c *DeliveryContract) readDeliveryInternal(ctx contractapi.TransactionContextInterface, deliveryID string) (*Delivery, error) {
	deliveryJSON, err := ctx.GetStub().GetState(deliveryID)
	if err != nil {
		return nil, Errorf(KindInvalidState, "failed to read delivery from world state: %v", err)
	}
	if deliveryJSON == nil {
		return nil, Errorf(KindNotFound, "delivery %s does not exist", deliveryID)
	}

	var delivery Delivery
	if err := json.Unmarshal(deliveryJSON, &delivery); err != nil {
		return nil, Errorf(KindInvalidState, "failed to unmarshal delivery: %v", err)
	}
	return &delivery, nil
}

// DeliveryExists checks whether a delivery key is present in the world state.
func (c *DeliveryContract) DeliveryExists(ctx contractapi.TransactionContextInterface, deliveryID string) (bool, error) {
	deliveryJSON, err := ctx.GetStub().GetState(deliveryID)
	if err != nil {
		return false, Errorf(KindInvalidState, "failed to read from world state: %v", err)
	}
	return deliveryJSON != nil, nil
}

// CreateDelivery creates a new delivery in PENDING_PICKUP with the seller
// as custodian. Only SELLER may create; the seller id comes from the
// certificate, never from an argument.
func (c *DeliveryContract) CreateDelivery(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
	orderID string,
	customerID string,
	packageWeight float64,
	dimensionLength float64,
	dimensionWidth float64,
	dimensionHeight float64,
	locationCity string,
	locationState string,
	locationCountry string,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleSeller); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}
	if orderID == "" {
		return Errorf(KindInvalidArgument, "order id must not be empty")
	}
	if customerID == "" {
		return Errorf(KindInvalidArgument, "customer id must not be empty")
	}

	dims := PackageDimensions{Length: dimensionLength, Width: dimensionWidth, Height: dimensionHeight}
	if err := validatePackage(packageWeight, dims); err != nil {
		return err
	}
	loc := Location{City: locationCity, State: locationState, Country: locationCountry}
	if err := validateLocation(loc); err != nil {
		return err
	}

	exists, err := c.DeliveryExists(ctx, deliveryID)
	if err != nil {
		return err
	}
	if exists {
		return Errorf(KindConflict, "delivery %s already exists", deliveryID)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	delivery := &Delivery{
		DeliveryID:           deliveryID,
		OrderID:              orderID,
		SellerID:             caller.ID,
		CustomerID:           customerID,
		PackageWeight:        packageWeight,
		PackageDimensions:    dims,
		DeliveryStatus:       StatusPendingPickup,
		LastLocation:         loc,
		CurrentCustodianID:   caller.ID,
		CurrentCustodianRole: RoleSeller,
		UpdatedAt:            now,
	}

	if err := putDelivery(ctx, delivery); err != nil {
		return err
	}

	return emitEvent(ctx, EventDeliveryCreated, StatusEvent{
		DeliveryID: deliveryID,
		OrderID:    orderID,
		NewStatus:  StatusPendingPickup,
		Timestamp:  now,
	})
}

// ReadDelivery returns the delivery if the caller is a party to it or ADMIN.
func (c *DeliveryContract) ReadDelivery(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
) (*Delivery, error) {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return nil, err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return nil, err
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	if err := validateInvolvement(delivery, caller); err != nil {
		return nil, err
	}
	return delivery, nil
}

// UpdateLocation records the package's last known location. Only the
// current custodian, as a DELIVERY_PERSON, while IN_TRANSIT. Location is
// not a status change, so no event is emitted.
func (c *DeliveryContract) UpdateLocation(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
	city string,
	state string,
	country string,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleDeliveryPerson); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}

	loc := Location{City: city, State: state, Country: country}
	if err := validateLocation(loc); err != nil {
		return err
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return err
	}

	if delivery.CurrentCustodianID != caller.ID {
		return Errorf(KindNotAuthorized, "only the current custodian can update location")
	}
	if delivery.DeliveryStatus != StatusInTransit {
		return Errorf(KindInvalidState, "location can only be updated while in transit, current status: %s", delivery.DeliveryStatus)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	delivery.LastLocation = loc
	delivery.UpdatedAt = monotonicUpdatedAt(delivery.UpdatedAt, now)

	return putDelivery(ctx, delivery)
}

// InitiateHandoff opens a two-phase custody transfer from the current
// custodian to a DELIVERY_PERSON or CUSTOMER. A seller-initiated pickup
// moves the status to PENDING_PICKUP_HANDOFF so that a pending handoff
// always has a matching pending status.
func (c *DeliveryContract) InitiateHandoff(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
	toUserID string,
	toRole string,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleSeller, RoleDeliveryPerson); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}

	targetRole := UserRole(toRole)
	if targetRole != RoleDeliveryPerson && targetRole != RoleCustomer {
		return Errorf(KindInvalidArgument, "handoff target role must be DELIVERY_PERSON or CUSTOMER, got %q", toRole)
	}
	if toUserID == "" {
		return Errorf(KindInvalidArgument, "handoff target user id must not be empty")
	}
	if toUserID == caller.ID {
		return Errorf(KindInvalidArgument, "cannot hand off to yourself")
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return err
	}

	// Sellers hand off to delivery persons only, never straight to customers.
	if caller.Role == RoleSeller && targetRole == RoleCustomer {
		return Errorf(KindNotAuthorized, "sellers can only hand off to delivery persons")
	}

	if delivery.CurrentCustodianID != caller.ID {
		return Errorf(KindNotAuthorized, "only the current custodian can initiate a handoff")
	}
	if delivery.PendingHandoff != nil {
		return Errorf(KindInvalidState, "there is already a pending handoff for this delivery")
	}
	if delivery.DeliveryStatus != StatusPendingPickup && delivery.DeliveryStatus != StatusInTransit {
		return Errorf(KindInvalidState, "cannot initiate handoff in current status: %s", delivery.DeliveryStatus)
	}
	if targetRole == RoleCustomer && toUserID != delivery.CustomerID {
		return Errorf(KindInvalidArgument, "final handoff must target the delivery's customer")
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	delivery.PendingHandoff = &PendingHandoff{
		FromUserID:  caller.ID,
		FromRole:    caller.Role,
		ToUserID:    toUserID,
		ToRole:      targetRole,
		InitiatedAt: now,
	}

	oldStatus := delivery.DeliveryStatus
	switch targetRole {
	case RoleDeliveryPerson:
		if delivery.DeliveryStatus == StatusPendingPickup {
			delivery.DeliveryStatus = StatusPendingPickupHandoff
		} else {
			delivery.DeliveryStatus = StatusPendingTransitHandoff
		}
	case RoleCustomer:
		delivery.DeliveryStatus = StatusPendingDeliveryConfirmation
	}

	delivery.UpdatedAt = monotonicUpdatedAt(delivery.UpdatedAt, now)

	if err := putDelivery(ctx, delivery); err != nil {
		return err
	}

	var batch eventBatch
	if err := batch.add(EventHandoffInitiated, HandoffEvent{
		DeliveryID: deliveryID,
		FromUserID: caller.ID,
		ToUserID:   toUserID,
		ToRole:     targetRole,
		Timestamp:  now,
	}); err != nil {
		return err
	}
	if oldStatus != delivery.DeliveryStatus {
		if err := batch.add(EventDeliveryStatusChanged, StatusEvent{
			DeliveryID: deliveryID,
			OrderID:    delivery.OrderID,
			OldStatus:  oldStatus,
			NewStatus:  delivery.DeliveryStatus,
			Timestamp:  now,
		}); err != nil {
			return err
		}
	}
	return batch.emit(ctx)
}

// ConfirmHandoff completes a pending custody transfer. Only the handoff
// target may confirm; location and package metrics are overwritten with
// the values the recipient measured at handover.
func (c *DeliveryContract) ConfirmHandoff(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
	city string,
	state string,
	country string,
	packageWeight float64,
	dimensionLength float64,
	dimensionWidth float64,
	dimensionHeight float64,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleDeliveryPerson, RoleCustomer); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}

	loc := Location{City: city, State: state, Country: country}
	if err := validateLocation(loc); err != nil {
		return err
	}
	dims := PackageDimensions{Length: dimensionLength, Width: dimensionWidth, Height: dimensionHeight}
	if err := validatePackage(packageWeight, dims); err != nil {
		return err
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return err
	}

	if delivery.PendingHandoff == nil {
		return Errorf(KindInvalidState, "no pending handoff for this delivery")
	}
	if delivery.PendingHandoff.ToUserID != caller.ID {
		return Errorf(KindNotAuthorized, "only the intended recipient can confirm the handoff")
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	handoff := delivery.PendingHandoff
	oldStatus := delivery.DeliveryStatus

	delivery.CurrentCustodianID = handoff.ToUserID
	delivery.CurrentCustodianRole = handoff.ToRole
	delivery.PendingHandoff = nil
	delivery.LastLocation = loc
	delivery.PackageWeight = packageWeight
	delivery.PackageDimensions = dims

	switch handoff.ToRole {
	case RoleDeliveryPerson:
		delivery.DeliveryStatus = StatusInTransit
	case RoleCustomer:
		delivery.DeliveryStatus = StatusConfirmedDelivery
	}

	delivery.UpdatedAt = monotonicUpdatedAt(delivery.UpdatedAt, now)

	if err := putDelivery(ctx, delivery); err != nil {
		return err
	}

	var batch eventBatch
	if err := batch.add(EventHandoffConfirmed, HandoffEvent{
		DeliveryID: deliveryID,
		FromUserID: handoff.FromUserID,
		ToUserID:   handoff.ToUserID,
		ToRole:     handoff.ToRole,
		Timestamp:  now,
	}); err != nil {
		return err
	}
	if err := batch.add(EventDeliveryStatusChanged, StatusEvent{
		DeliveryID: deliveryID,
		OrderID:    delivery.OrderID,
		OldStatus:  oldStatus,
		NewStatus:  delivery.DeliveryStatus,
		Timestamp:  now,
	}); err != nil {
		return err
	}
	return batch.emit(ctx)
}

// DisputeHandoff rejects a pending custody transfer. Only the handoff
// target may dispute. Dispute states are terminal; resolution is not
// supported on-ledger.
func (c *DeliveryContract) DisputeHandoff(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
	reason string,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleDeliveryPerson, RoleCustomer); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}
	if reason == "" {
		return Errorf(KindInvalidArgument, "dispute reason must not be empty")
	}
	if len(reason) > MaxReasonLen {
		return Errorf(KindInvalidArgument, "dispute reason exceeds %d characters", MaxReasonLen)
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return err
	}

	if delivery.PendingHandoff == nil {
		return Errorf(KindInvalidState, "no pending handoff for this delivery")
	}
	if delivery.PendingHandoff.ToUserID != caller.ID {
		return Errorf(KindNotAuthorized, "only the intended recipient can dispute the handoff")
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	oldStatus := delivery.DeliveryStatus
	delivery.PendingHandoff = nil

	switch oldStatus {
	case StatusPendingPickupHandoff:
		delivery.DeliveryStatus = StatusDisputedPickup
	case StatusPendingTransitHandoff:
		delivery.DeliveryStatus = StatusDisputedTransitHandoff
	case StatusPendingDeliveryConfirmation:
		delivery.DeliveryStatus = StatusDisputedDelivery
	default:
		return Errorf(KindInvalidState, "cannot dispute handoff in status %s", oldStatus)
	}

	delivery.UpdatedAt = monotonicUpdatedAt(delivery.UpdatedAt, now)

	if err := putDelivery(ctx, delivery); err != nil {
		return err
	}

	var batch eventBatch
	if err := batch.add(EventHandoffDisputed, DisputeEvent{
		DeliveryID: deliveryID,
		DisputedBy: caller.ID,
		Reason:     reason,
		Timestamp:  now,
	}); err != nil {
		return err
	}
	if err := batch.add(EventDeliveryStatusChanged, StatusEvent{
		DeliveryID: deliveryID,
		OrderID:    delivery.OrderID,
		OldStatus:  oldStatus,
		NewStatus:  delivery.DeliveryStatus,
		Timestamp:  now,
	}); err != nil {
		return err
	}
	return batch.emit(ctx)
}

// CancelHandoff withdraws a pending custody transfer. Only the initiator
// may cancel; the status reverts to its pre-handoff value.
func (c *DeliveryContract) CancelHandoff(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleSeller, RoleDeliveryPerson); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return err
	}

	if delivery.PendingHandoff == nil {
		return Errorf(KindInvalidState, "no pending handoff for this delivery")
	}
	if delivery.PendingHandoff.FromUserID != caller.ID {
		return Errorf(KindNotAuthorized, "only the handoff initiator can cancel it")
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	oldStatus := delivery.DeliveryStatus
	delivery.PendingHandoff = nil

	switch oldStatus {
	case StatusPendingPickupHandoff:
		delivery.DeliveryStatus = StatusPendingPickup
	case StatusPendingTransitHandoff, StatusPendingDeliveryConfirmation:
		delivery.DeliveryStatus = StatusInTransit
	default:
		return Errorf(KindInvalidState, "cannot cancel handoff in status %s", oldStatus)
	}

	delivery.UpdatedAt = monotonicUpdatedAt(delivery.UpdatedAt, now)

	if err := putDelivery(ctx, delivery); err != nil {
		return err
	}

	if oldStatus != delivery.DeliveryStatus {
		return emitEvent(ctx, EventDeliveryStatusChanged, StatusEvent{
			DeliveryID: deliveryID,
			OrderID:    delivery.OrderID,
			OldStatus:  oldStatus,
			NewStatus:  delivery.DeliveryStatus,
			Timestamp:  now,
		})
	}
	return nil
}

// CancelDelivery cancels a delivery before pickup. Only the delivery's
// customer may cancel, and only while PENDING_PICKUP.
func (c *DeliveryContract) CancelDelivery(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
) error {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return err
	}
	if err := validateRole(caller, RoleCustomer); err != nil {
		return err
	}

	deliveryID, err = canonicalDeliveryID(deliveryID)
	if err != nil {
		return err
	}

	delivery, err := c.readDeliveryInternal(ctx, deliveryID)
	if err != nil {
		return err
	}

	if delivery.CustomerID != caller.ID {
		return Errorf(KindNotAuthorized, "only the customer can cancel this delivery")
	}
	if delivery.DeliveryStatus != StatusPendingPickup {
		return Errorf(KindInvalidState, "delivery can only be cancelled before pickup, current status: %s", delivery.DeliveryStatus)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return err
	}

	oldStatus := delivery.DeliveryStatus
	delivery.DeliveryStatus = StatusCancelled
	delivery.UpdatedAt = monotonicUpdatedAt(delivery.UpdatedAt, now)

	if err := putDelivery(ctx, delivery); err != nil {
		return err
	}

	return emitEvent(ctx, EventDeliveryStatusChanged, StatusEvent{
		DeliveryID: deliveryID,
		OrderID:    delivery.OrderID,
		OldStatus:  oldStatus,
		NewStatus:  StatusCancelled,
		Timestamp:  now,
	})
}

// GetCallerInfo returns the caller's extracted identity. Diagnostic
// function used by the gateway to verify attribute propagation.
func (c *DeliveryContract) GetCallerInfo(ctx contractapi.TransactionContextInterface) (*CallerIdentity, error) {
	return getCallerIdentity(ctx)
}

package delivery

import (
	"encoding/json"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// QueryDeliveriesByCustodian returns the deliveries visible to the given
// custodian. Non-admin callers may only query themselves; what "visible"
// means depends on the caller's role: sellers see their outgoing
// deliveries, customers their incoming ones, delivery persons the
// packages they hold or are about to receive. The world state holds only
// deliveries, so a full range scan with in-memory filtering is the
// reference behavior; a query-capable state DB may translate this to a
// native selector as long as the result set is identical.
func (c *DeliveryContract) QueryDeliveriesByCustodian(
	ctx contractapi.TransactionContextInterface,
	custodianID string,
) ([]*Delivery, error) {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return nil, err
	}

	isAdmin := caller.Role == RoleAdmin
	if !isAdmin && custodianID != caller.ID {
		return nil, Errorf(KindNotAuthorized, "can only query your own deliveries")
	}

	resultsIterator, err := ctx.GetStub().GetStateByRange("", "")
	if err != nil {
		return nil, Errorf(KindInvalidState, "failed to get state by range: %v", err)
	}
	defer resultsIterator.Close()

	var deliveries []*Delivery
	for resultsIterator.HasNext() {
		queryResponse, err := resultsIterator.Next()
		if err != nil {
			return nil, Errorf(KindInvalidState, "failed to iterate results: %v", err)
		}

		var delivery Delivery
		if err := json.Unmarshal(queryResponse.Value, &delivery); err != nil {
			continue
		}

		switch {
		case isAdmin:
			if custodianID == "" || delivery.CurrentCustodianID == custodianID {
				deliveries = append(deliveries, &delivery)
			}
		case caller.Role == RoleCustomer:
			if delivery.CustomerID == caller.ID {
				deliveries = append(deliveries, &delivery)
			}
		case caller.Role == RoleSeller:
			if delivery.SellerID == caller.ID {
				deliveries = append(deliveries, &delivery)
			}
		case caller.Role == RoleDeliveryPerson:
			isCustodian := delivery.CurrentCustodianID == caller.ID
			isPendingRecipient := delivery.PendingHandoff != nil && delivery.PendingHandoff.ToUserID == caller.ID
			if isCustodian || isPendingRecipient {
				deliveries = append(deliveries, &delivery)
			}
		}
	}

	return deliveries, nil
}

// QueryDeliveriesByStatus returns deliveries in the given status,
// filtered to those the caller is involved with (ADMIN sees all).
func (c *DeliveryContract) QueryDeliveriesByStatus(
	ctx contractapi.TransactionContextInterface,
	status string,
) ([]*Delivery, error) {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return nil, err
	}

	if !validStatuses[DeliveryStatus(status)] {
		return nil, Errorf(KindInvalidArgument, "unknown delivery status %q", status)
	}

	resultsIterator, err := ctx.GetStub().GetStateByRange("", "")
	if err != nil {
		return nil, Errorf(KindInvalidState, "failed to get state by range: %v", err)
	}
	defer resultsIterator.Close()

	isAdmin := caller.Role == RoleAdmin

	var deliveries []*Delivery
	for resultsIterator.HasNext() {
		queryResponse, err := resultsIterator.Next()
		if err != nil {
			return nil, Errorf(KindInvalidState, "failed to iterate results: %v", err)
		}

		var delivery Delivery
		if err := json.Unmarshal(queryResponse.Value, &delivery); err != nil {
			continue
		}
		if string(delivery.DeliveryStatus) != status {
			continue
		}

		if isAdmin || validateInvolvement(&delivery, caller) == nil {
			deliveries = append(deliveries, &delivery)
		}
	}

	return deliveries, nil
}

// GetDeliveryHistory returns every committed version of a delivery in
// commit order. Restricted to the delivery's seller, its customer, and
// ADMIN — custody history exposes the full chain of hands.
func (c *DeliveryContract) GetDeliveryHistory(
	ctx contractapi.TransactionContextInterface,
	deliveryID string,
) ([]*HistoryRecord, error) {
	caller, err := getCallerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateRole(caller, RoleSeller, RoleCustomer, RoleAdmin); err != nil {
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
	if caller.Role != RoleAdmin {
		if delivery.SellerID != caller.ID && delivery.CustomerID != caller.ID {
			return nil, Errorf(KindNotAuthorized, "only the seller or customer of this delivery can view its history")
		}
	}

	resultsIterator, err := ctx.GetStub().GetHistoryForKey(deliveryID)
	if err != nil {
		return nil, Errorf(KindInvalidState, "failed to get history for delivery: %v", err)
	}
	defer resultsIterator.Close()

	var history []*HistoryRecord
	for resultsIterator.HasNext() {
		response, err := resultsIterator.Next()
		if err != nil {
			return nil, Errorf(KindInvalidState, "failed to iterate history: %v", err)
		}

		record := &HistoryRecord{
			TxID:     response.TxId,
			IsDelete: response.IsDelete,
		}
		if response.Timestamp != nil {
			record.Timestamp = response.Timestamp.AsTime().UTC().Format(time.RFC3339)
		}
		if len(response.Value) > 0 {
			var historyDelivery Delivery
			if err := json.Unmarshal(response.Value, &historyDelivery); err != nil {
				return nil, Errorf(KindInvalidState, "failed to unmarshal historical delivery: %v", err)
			}
			record.Delivery = &historyDelivery
		}
		history = append(history, record)
	}

	return history, nil
}

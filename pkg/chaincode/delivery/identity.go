package delivery

import (
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// getCallerIdentity extracts the caller's userId and role from the
// enrollment certificate attributes. The request never carries identity
// as plain arguments; the attributes are bound to the certificate by the
// issuing CA at enrollment time.
func getCallerIdentity(ctx contractapi.TransactionContextInterface) (*CallerIdentity, error) {
	clientIdentity := ctx.GetClientIdentity()

	mspID, err := clientIdentity.GetMSPID()
	if err != nil {
		return nil, Errorf(KindNotAuthorized, "failed to get MSP ID: %v", err)
	}

	userID, found, err := clientIdentity.GetAttributeValue("userId")
	if err != nil || !found || userID == "" {
		return nil, Errorf(KindNotAuthorized, "certificate is missing the userId attribute")
	}

	roleAttr, found, err := clientIdentity.GetAttributeValue("role")
	if err != nil || !found {
		return nil, Errorf(KindNotAuthorized, "certificate is missing the role attribute")
	}

	var role UserRole
	switch strings.ToUpper(roleAttr) {
	case string(RoleCustomer):
		role = RoleCustomer
	case string(RoleSeller):
		role = RoleSeller
	case string(RoleDeliveryPerson):
		role = RoleDeliveryPerson
	case string(RoleAdmin):
		role = RoleAdmin
	default:
		return nil, Errorf(KindNotAuthorized, "invalid role attribute: %s", roleAttr)
	}

	return &CallerIdentity{
		ID:   userID,
		Role: role,
		MSP:  mspID,
	}, nil
}

// validateRole checks the caller's role against the roles allowed for an
// operation.
func validateRole(caller *CallerIdentity, allowedRoles ...UserRole) error {
	for _, allowed := range allowedRoles {
		if caller.Role == allowed {
			return nil
		}
	}
	return Errorf(KindNotAuthorized, "role %s is not authorized for this operation", caller.Role)
}

// validateInvolvement checks that the caller is a party to the delivery:
// seller, customer, current custodian, either side of a pending handoff,
// or ADMIN.
func validateInvolvement(delivery *Delivery, caller *CallerIdentity) error {
	if caller.Role == RoleAdmin {
		return nil
	}

	if delivery.SellerID == caller.ID ||
		delivery.CustomerID == caller.ID ||
		delivery.CurrentCustodianID == caller.ID {
		return nil
	}

	if delivery.PendingHandoff != nil {
		if delivery.PendingHandoff.FromUserID == caller.ID ||
			delivery.PendingHandoff.ToUserID == caller.ID {
			return nil
		}
	}

	return Errorf(KindNotAuthorized, "not authorized to access this delivery")
}

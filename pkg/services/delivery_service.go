package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/parceltrace/parceltrace/pkg/chaincode/delivery"
	"github.com/parceltrace/parceltrace/pkg/ledger"
	"github.com/parceltrace/parceltrace/pkg/models"
)

// DeliveryService translates gateway calls into delivery contract
// operations, each signed with the calling user's own ledger identity.
// The contract stays the authority on custody, roles and involvement;
// this layer only shapes arguments and results.
type DeliveryService struct {
	connector     ledger.Connector
	serviceUserID string
	now           func() time.Time
}

// NewDeliveryService creates a DeliveryService. serviceUserID names the
// wallet identity used for party resolution on the event path.
func NewDeliveryService(connector ledger.Connector, serviceUserID string) *DeliveryService {
	return &DeliveryService{
		connector:     connector,
		serviceUserID: serviceUserID,
		now:           time.Now,
	}
}

// NewDeliveryID generates a fresh canonical delivery id:
// DEL-YYYYMMDD-XXXXXXXX with eight random hex characters.
func (s *DeliveryService) NewDeliveryID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate delivery id: %w", err)
	}
	suffix := binary.BigEndian.Uint32(buf[:])
	return fmt.Sprintf("DEL-%s-%08X", s.now().UTC().Format("20060102"), suffix), nil
}

// CreateParams are the package parameters of a new delivery.
type CreateParams struct {
	OrderID    string
	CustomerID string
	Weight     float64
	Length     float64
	Width      float64
	Height     float64
	City       string
	State      string
	Country    string
}

// Create submits CreateDelivery as the seller and returns the new id.
func (s *DeliveryService) Create(ctx context.Context, sellerID string, p CreateParams) (string, error) {
	deliveryID, err := s.NewDeliveryID()
	if err != nil {
		return "", err
	}

	contract, err := s.connector.Contract(ctx, sellerID)
	if err != nil {
		return "", err
	}

	_, err = contract.Submit(ctx, "CreateDelivery",
		deliveryID, p.OrderID, p.CustomerID,
		formatFloat(p.Weight), formatFloat(p.Length), formatFloat(p.Width), formatFloat(p.Height),
		p.City, p.State, p.Country,
	)
	if err != nil {
		return "", err
	}
	return deliveryID, nil
}

// Get evaluates ReadDelivery as the caller.
func (s *DeliveryService) Get(ctx context.Context, callerID, deliveryID string) (*delivery.Delivery, error) {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return nil, err
	}

	raw, err := contract.Evaluate(ctx, "ReadDelivery", deliveryID)
	if err != nil {
		return nil, err
	}

	var d delivery.Delivery
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("malformed delivery from ledger: %w", err)
	}
	return &d, nil
}

// GetHistory evaluates GetDeliveryHistory as the caller.
func (s *DeliveryService) GetHistory(ctx context.Context, callerID, deliveryID string) ([]*delivery.HistoryRecord, error) {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return nil, err
	}

	raw, err := contract.Evaluate(ctx, "GetDeliveryHistory", deliveryID)
	if err != nil {
		return nil, err
	}

	var history []*delivery.HistoryRecord
	if err := unmarshalList(raw, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// ListByCustodian evaluates QueryDeliveriesByCustodian as the caller.
func (s *DeliveryService) ListByCustodian(ctx context.Context, callerID, custodianID string) ([]*delivery.Delivery, error) {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return nil, err
	}

	raw, err := contract.Evaluate(ctx, "QueryDeliveriesByCustodian", custodianID)
	if err != nil {
		return nil, err
	}

	var deliveries []*delivery.Delivery
	if err := unmarshalList(raw, &deliveries); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// ListByStatus evaluates QueryDeliveriesByStatus as the caller.
func (s *DeliveryService) ListByStatus(ctx context.Context, callerID, status string) ([]*delivery.Delivery, error) {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return nil, err
	}

	raw, err := contract.Evaluate(ctx, "QueryDeliveriesByStatus", status)
	if err != nil {
		return nil, err
	}

	var deliveries []*delivery.Delivery
	if err := unmarshalList(raw, &deliveries); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// UpdateLocation submits UpdateLocation as the caller.
func (s *DeliveryService) UpdateLocation(ctx context.Context, callerID, deliveryID, city, state, country string) error {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return err
	}
	_, err = contract.Submit(ctx, "UpdateLocation", deliveryID, city, state, country)
	return err
}

// Cancel submits CancelDelivery as the caller.
func (s *DeliveryService) Cancel(ctx context.Context, callerID, deliveryID string) error {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return err
	}
	_, err = contract.Submit(ctx, "CancelDelivery", deliveryID)
	return err
}

// InitiateHandoff submits InitiateHandoff as the caller.
func (s *DeliveryService) InitiateHandoff(ctx context.Context, callerID, deliveryID, toUserID, toRole string) error {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return err
	}
	_, err = contract.Submit(ctx, "InitiateHandoff", deliveryID, toUserID, toRole)
	return err
}

// ConfirmParams are the handover measurements. Package fields are
// optional: a nil field falls back to the delivery's current value.
type ConfirmParams struct {
	City    string
	State   string
	Country string
	Weight  *float64
	Length  *float64
	Width   *float64
	Height  *float64
}

// ConfirmHandoff submits ConfirmHandoff as the caller, reading the
// current record first when package fields were omitted.
func (s *DeliveryService) ConfirmHandoff(ctx context.Context, callerID, deliveryID string, p ConfirmParams) error {
	weight, length, width, height := p.Weight, p.Length, p.Width, p.Height
	if weight == nil || length == nil || width == nil || height == nil {
		current, err := s.Get(ctx, callerID, deliveryID)
		if err != nil {
			return err
		}
		if weight == nil {
			weight = &current.PackageWeight
		}
		if length == nil {
			length = &current.PackageDimensions.Length
		}
		if width == nil {
			width = &current.PackageDimensions.Width
		}
		if height == nil {
			height = &current.PackageDimensions.Height
		}
	}

	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return err
	}
	_, err = contract.Submit(ctx, "ConfirmHandoff",
		deliveryID, p.City, p.State, p.Country,
		formatFloat(*weight), formatFloat(*length), formatFloat(*width), formatFloat(*height),
	)
	return err
}

// DisputeHandoff submits DisputeHandoff as the caller.
func (s *DeliveryService) DisputeHandoff(ctx context.Context, callerID, deliveryID, reason string) error {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return err
	}
	_, err = contract.Submit(ctx, "DisputeHandoff", deliveryID, reason)
	return err
}

// CancelHandoff submits CancelHandoff as the caller.
func (s *DeliveryService) CancelHandoff(ctx context.Context, callerID, deliveryID string) error {
	contract, err := s.connector.Contract(ctx, callerID)
	if err != nil {
		return err
	}
	_, err = contract.Submit(ctx, "CancelHandoff", deliveryID)
	return err
}

// CanSubscribeDelivery authorizes an event subscription by evaluating
// ReadDelivery under the subscriber's own identity.
func (s *DeliveryService) CanSubscribeDelivery(ctx context.Context, userID, deliveryID string) error {
	_, err := s.Get(ctx, userID, deliveryID)
	return err
}

// InvolvedParties resolves the users involved in a delivery under the
// service identity: seller, customer, custodian and both sides of a
// pending handoff.
func (s *DeliveryService) InvolvedParties(ctx context.Context, deliveryID string) ([]string, error) {
	d, err := s.Get(ctx, s.serviceUserID, deliveryID)
	if err != nil {
		return nil, err
	}

	set := map[string]bool{
		d.SellerID:           true,
		d.CustomerID:         true,
		d.CurrentCustodianID: true,
	}
	if d.PendingHandoff != nil {
		set[d.PendingHandoff.FromUserID] = true
		set[d.PendingHandoff.ToUserID] = true
	}

	parties := make([]string, 0, len(set))
	for userID := range set {
		if userID != "" {
			parties = append(parties, userID)
		}
	}
	return parties, nil
}

// AuthorizeAddressAccess checks that the caller may see the customer's
// full address for a delivery: admins always, delivery persons only
// while they are the custodian or the target of the pending handoff.
func (s *DeliveryService) AuthorizeAddressAccess(ctx context.Context, callerID string, callerRole models.Role, deliveryID string) (*delivery.Delivery, error) {
	d, err := s.Get(ctx, callerID, deliveryID)
	if err != nil {
		return nil, err
	}
	if callerRole == models.RoleAdmin {
		return d, nil
	}

	isCustodian := d.CurrentCustodianID == callerID
	isPendingRecipient := d.PendingHandoff != nil && d.PendingHandoff.ToUserID == callerID
	if !isCustodian && !isPendingRecipient {
		return nil, fmt.Errorf("%w: address is visible to the active courier only", ErrNotAuthorized)
	}
	return d, nil
}

// --- helpers ---

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// unmarshalList decodes a contract list result; the contract returns
// JSON null for an empty result set.
func unmarshalList(raw []byte, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed list from ledger: %w", err)
	}
	return nil
}

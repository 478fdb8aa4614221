package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceltrace/parceltrace/pkg/models"
)

// OrderService manages the off-ledger order lifecycle. Confirming an
// order is the bridge onto the ledger: it creates the delivery and
// links the order to it.
type OrderService struct {
	pool  *pgxpool.Pool
	items *ShopItemService
}

// NewOrderService creates an OrderService.
func NewOrderService(pool *pgxpool.Pool, items *ShopItemService) *OrderService {
	return &OrderService{pool: pool, items: items}
}

// OrderItemParams is one requested line item.
type OrderItemParams struct {
	ItemID   string
	Quantity int
}

// Create places a new order in PENDING_CONFIRMATION. Line item prices
// are copied from the catalog at order time.
func (s *OrderService) Create(ctx context.Context, customerID, sellerID string, items []OrderItemParams) (*models.Order, error) {
	if sellerID == "" {
		return nil, NewValidationError("sellerId", "must not be empty")
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "must not be empty")
	}

	lines := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, NewValidationError("items", "quantity must be positive")
		}
		catalogItem, err := s.items.Get(ctx, it.ItemID)
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("items", fmt.Sprintf("unknown item %s", it.ItemID))
		}
		if err != nil {
			return nil, err
		}
		if catalogItem.SellerID != sellerID {
			return nil, NewValidationError("items", fmt.Sprintf("item %s belongs to another seller", it.ItemID))
		}
		lines = append(lines, models.OrderItem{
			ItemID:   it.ItemID,
			Quantity: it.Quantity,
			Price:    catalogItem.Price,
		})
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		SellerID:   sellerID,
		Items:      lines,
		Status:     models.OrderPendingConfirmation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order items: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (id, customer_id, seller_id, items, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.CustomerID, order.SellerID, itemsJSON, string(order.Status), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	return order, nil
}

// Get loads an order; only its customer, its seller or an admin may
// read it.
func (s *OrderService) Get(ctx context.Context, callerID string, callerRole models.Role, orderID string) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerRole != models.RoleAdmin && order.CustomerID != callerID && order.SellerID != callerID {
		return nil, fmt.Errorf("%w: not a party to this order", ErrNotAuthorized)
	}
	return order, nil
}

// ListMine returns the caller's orders: incoming for sellers, outgoing
// for customers.
func (s *OrderService) ListMine(ctx context.Context, callerID string, callerRole models.Role) ([]*models.Order, error) {
	column := "customer_id"
	if callerRole == models.RoleSeller {
		column = "seller_id"
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, seller_id, items, status, delivery_id, created_at, updated_at
		   FROM orders WHERE `+column+` = $1 ORDER BY created_at DESC`,
		callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// Confirm marks a pending order confirmed and records the delivery id
// the caller created for it. The delivery must already be committed:
// the ledger is the source of custody truth, the order row only links
// to it.
func (s *OrderService) Confirm(ctx context.Context, sellerID, orderID, deliveryID string) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != sellerID {
		return nil, fmt.Errorf("%w: only the order's seller can confirm it", ErrNotAuthorized)
	}
	if order.Status != models.OrderPendingConfirmation {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	order.Status = models.OrderConfirmed
	order.DeliveryID = deliveryID
	order.UpdatedAt = time.Now().UTC()

	if err := s.update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel cancels a not-yet-confirmed order.
func (s *OrderService) Cancel(ctx context.Context, customerID, orderID string) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, fmt.Errorf("%w: only the order's customer can cancel it", ErrNotAuthorized)
	}
	if order.Status != models.OrderPendingConfirmation {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	order.Status = models.OrderCancelled
	order.UpdatedAt = time.Now().UTC()

	if err := s.update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// --- persistence ---

func (s *OrderService) load(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, seller_id, items, status, delivery_id, created_at, updated_at
		   FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

func (s *OrderService) update(ctx context.Context, order *models.Order) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, delivery_id = $3, updated_at = $4 WHERE id = $1`,
		order.ID, string(order.Status), nullable(order.DeliveryID), order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var itemsJSON []byte
	var status string
	var deliveryID *string
	err := row.Scan(&order.ID, &order.CustomerID, &order.SellerID, &itemsJSON,
		&status, &deliveryID, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	order.Status = models.OrderStatus(status)
	if deliveryID != nil {
		order.DeliveryID = *deliveryID
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	return &order, nil
}

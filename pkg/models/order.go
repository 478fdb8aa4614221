package models

import "time"

// OrderStatus is the off-ledger order lifecycle. The on-ledger delivery
// has its own state machine; the order only records whether the seller
// accepted it.
type OrderStatus string

const (
	OrderPendingConfirmation OrderStatus = "PENDING_CONFIRMATION"
	OrderConfirmed           OrderStatus = "CONFIRMED"
	OrderCancelled           OrderStatus = "CANCELLED"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ItemID   string  `json:"itemId"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the off-ledger purchase record. It owns the order↔delivery
// link: DeliveryID is set when the seller confirms, while the on-ledger
// delivery carries only the opaque order id.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	SellerID   string      `json:"sellerId"`
	Items      []OrderItem `json:"items"`
	Status     OrderStatus `json:"status"`
	DeliveryID string      `json:"deliveryId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Total returns the order total.
func (o *Order) Total() float64 {
	var sum float64
	for _, it := range o.Items {
		sum += it.Price * float64(it.Quantity)
	}
	return sum
}

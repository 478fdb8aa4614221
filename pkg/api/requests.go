package api

import "github.com/parceltrace/parceltrace/pkg/models"

// RegisterRequest is the body of POST /api/v1/auth/register.
type RegisterRequest struct {
	Username    string              `json:"username"`
	Email       string              `json:"email"`
	Password    string              `json:"password"`
	Role        models.Role         `json:"role"`
	FullName    string              `json:"fullName"`
	Address     *models.Address     `json:"address,omitempty"`
	CompanyID   string              `json:"companyId,omitempty"`
	CompanyName string              `json:"companyName,omitempty"`
	VehicleInfo *models.VehicleInfo `json:"vehicleInfo,omitempty"`
}

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ShopItemRequest is the body of shop item create/update.
type ShopItemRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

// CreateOrderRequest is the body of POST /api/v1/orders.
type CreateOrderRequest struct {
	SellerID string             `json:"sellerId"`
	Items    []OrderItemRequest `json:"items"`
}

// OrderItemRequest is one requested line item.
type OrderItemRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// ConfirmOrderRequest is the body of POST /api/v1/orders/:id/confirm.
// The package parameters seed the on-ledger delivery.
type ConfirmOrderRequest struct {
	PackageWeight float64 `json:"packageWeight"`
	PackageLength float64 `json:"packageLength"`
	PackageWidth  float64 `json:"packageWidth"`
	PackageHeight float64 `json:"packageHeight"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
}

// LocationRequest is the body of PUT /api/v1/deliveries/:id/location.
type LocationRequest struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// InitiateHandoffRequest is the body of handoff initiation.
type InitiateHandoffRequest struct {
	ToUserID string `json:"toUserId"`
	ToRole   string `json:"toRole"`
}

// ConfirmHandoffRequest is the body of handoff confirmation. Package
// fields are optional and fall back to the delivery's current values.
type ConfirmHandoffRequest struct {
	City          string   `json:"city"`
	State         string   `json:"state"`
	Country       string   `json:"country"`
	PackageWeight *float64 `json:"packageWeight,omitempty"`
	PackageLength *float64 `json:"packageLength,omitempty"`
	PackageWidth  *float64 `json:"packageWidth,omitempty"`
	PackageHeight *float64 `json:"packageHeight,omitempty"`
}

// DisputeHandoffRequest is the body of handoff dispute.
type DisputeHandoffRequest struct {
	Reason string `json:"reason"`
}

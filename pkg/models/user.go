package models

import "time"

// Address is a full postal address. Stored off-ledger only; the ledger
// record carries coarse city/state/country locations.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

// VehicleInfo describes a delivery person's vehicle.
type VehicleInfo struct {
	Type        string `json:"type"`
	PlateNumber string `json:"plateNumber"`
}

// User is the off-ledger user record. The password hash never leaves
// the service; the ledger identity lives in the wallet.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         Role         `json:"role"`
	FullName     string       `json:"fullName"`
	Address      *Address     `json:"address,omitempty"`
	CompanyID    string       `json:"companyId,omitempty"`
	CompanyName  string       `json:"companyName,omitempty"`
	VehicleInfo  *VehicleInfo `json:"vehicleInfo,omitempty"`
	// IsEnrolled is false while CA enrollment is incomplete. A user row
	// without a wallet identity is unusable and cleaned up on rollback.
	IsEnrolled bool      `json:"isEnrolled"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

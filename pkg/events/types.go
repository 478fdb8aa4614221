// Package events delivers chaincode events to WebSocket clients. A
// singleton consumer subscribes to the delivery chaincode under the
// service identity, decodes each event and fans it out to subscribed
// connections — filtered so a client only sees events for deliveries it
// is a party to.
package events

import (
	"github.com/parceltrace/parceltrace/pkg/chaincode/delivery"
)

// Client → server actions.
const (
	ActionSubscribeDelivery = "subscribe:delivery"
	ActionSubscribeUser     = "subscribe:user"
	ActionUnsubscribe       = "unsubscribe"
	ActionPing              = "ping"
)

// Server → client frame types that are not delivery events.
const (
	TypeConnectionEstablished = "connection:established"
	TypeSubscriptionConfirmed = "subscription:confirmed"
	TypeSystemError           = "system:error"
	TypePong                  = "pong"
)

// Error codes carried on system:error frames.
const (
	CodeSubscriptionLimit = "SUBSCRIPTION_LIMIT"
	CodeNotAuthorized     = "NOT_AUTHORIZED"
	CodeInvalidMessage    = "INVALID_MESSAGE"
)

// ClientMessage is the JSON structure for client → server messages.
type ClientMessage struct {
	Action     string `json:"action"`
	DeliveryID string `json:"deliveryId,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// DeliveryChannel returns the channel name for one delivery's events.
func DeliveryChannel(deliveryID string) string { return "delivery:" + deliveryID }

// UserChannel returns the channel name for one user's events.
func UserChannel(userID string) string { return "user:" + userID }

// wsType maps chaincode event names to the WebSocket message types of
// the public contract.
var wsType = map[string]string{
	delivery.EventDeliveryCreated:       "delivery:created",
	delivery.EventDeliveryStatusChanged: "delivery:statusChanged",
	delivery.EventHandoffInitiated:      "handoff:initiated",
	delivery.EventHandoffConfirmed:      "handoff:confirmed",
	delivery.EventHandoffDisputed:       "handoff:disputed",
}

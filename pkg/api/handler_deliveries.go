package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parceltrace/parceltrace/pkg/services"
)

// myDeliveriesHandler handles GET /api/v1/deliveries/my.
func (s *Server) myDeliveriesHandler(c *echo.Context) error {
	p := principal(c)
	deliveries, err := s.deps.Deliveries.ListByCustodian(c.Request().Context(), p.UserID, p.UserID)
	if err != nil {
		return mapError(c, err)
	}
	return respondList(c, http.StatusOK, deliveries, len(deliveries))
}

// deliveriesByStatusHandler handles GET /api/v1/deliveries/status/:status.
func (s *Server) deliveriesByStatusHandler(c *echo.Context) error {
	deliveries, err := s.deps.Deliveries.ListByStatus(c.Request().Context(), principal(c).UserID, c.Param("status"))
	if err != nil {
		return mapError(c, err)
	}
	return respondList(c, http.StatusOK, deliveries, len(deliveries))
}

// getDeliveryHandler handles GET /api/v1/deliveries/:id. Involvement is
// enforced by the contract.
func (s *Server) getDeliveryHandler(c *echo.Context) error {
	d, err := s.deps.Deliveries.Get(c.Request().Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, d)
}

// deliveryHistoryHandler handles GET /api/v1/deliveries/:id/history.
func (s *Server) deliveryHistoryHandler(c *echo.Context) error {
	history, err := s.deps.Deliveries.GetHistory(c.Request().Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}
	return respondList(c, http.StatusOK, history, len(history))
}

// deliveryAddressHandler handles GET /api/v1/deliveries/:id/address:
// the off-ledger lookup of the customer's full address, visible to the
// active courier and admins only.
func (s *Server) deliveryAddressHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	p := principal(c)

	d, err := s.deps.Deliveries.AuthorizeAddressAccess(ctx, p.UserID, p.Role, c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}

	customer, err := s.deps.Users.GetByID(ctx, d.CustomerID)
	if err != nil {
		return mapError(c, err)
	}
	if customer.Address == nil {
		return mapError(c, services.ErrNotFound)
	}
	return respond(c, http.StatusOK, map[string]interface{}{
		"deliveryId": d.DeliveryID,
		"customer":   customer.FullName,
		"address":    customer.Address,
	})
}

// updateLocationHandler handles PUT /api/v1/deliveries/:id/location.
func (s *Server) updateLocationHandler(c *echo.Context) error {
	var req LocationRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	err := s.deps.Deliveries.UpdateLocation(c.Request().Context(), principal(c).UserID, c.Param("id"),
		req.City, req.State, req.Country)
	if err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "location updated")
}

// cancelDeliveryHandler handles PUT /api/v1/deliveries/:id/cancel.
func (s *Server) cancelDeliveryHandler(c *echo.Context) error {
	if err := s.deps.Deliveries.Cancel(c.Request().Context(), principal(c).UserID, c.Param("id")); err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "delivery cancelled")
}

// initiateHandoffHandler handles POST /api/v1/deliveries/:id/handoff/initiate.
func (s *Server) initiateHandoffHandler(c *echo.Context) error {
	var req InitiateHandoffRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}
	if req.ToUserID == "" {
		return mapError(c, services.NewValidationError("toUserId", "must not be empty"))
	}

	err := s.deps.Deliveries.InitiateHandoff(c.Request().Context(), principal(c).UserID, c.Param("id"),
		req.ToUserID, req.ToRole)
	if err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "handoff initiated")
}

// confirmHandoffHandler handles POST /api/v1/deliveries/:id/handoff/confirm.
func (s *Server) confirmHandoffHandler(c *echo.Context) error {
	var req ConfirmHandoffRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	err := s.deps.Deliveries.ConfirmHandoff(c.Request().Context(), principal(c).UserID, c.Param("id"),
		services.ConfirmParams{
			City:    req.City,
			State:   req.State,
			Country: req.Country,
			Weight:  req.PackageWeight,
			Length:  req.PackageLength,
			Width:   req.PackageWidth,
			Height:  req.PackageHeight,
		})
	if err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "handoff confirmed")
}

// disputeHandoffHandler handles POST /api/v1/deliveries/:id/handoff/dispute.
func (s *Server) disputeHandoffHandler(c *echo.Context) error {
	var req DisputeHandoffRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}
	if req.Reason == "" {
		return mapError(c, services.NewValidationError("reason", "must not be empty"))
	}

	err := s.deps.Deliveries.DisputeHandoff(c.Request().Context(), principal(c).UserID, c.Param("id"), req.Reason)
	if err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "handoff disputed")
}

// cancelHandoffHandler handles POST /api/v1/deliveries/:id/handoff/cancel.
func (s *Server) cancelHandoffHandler(c *echo.Context) error {
	if err := s.deps.Deliveries.CancelHandoff(c.Request().Context(), principal(c).UserID, c.Param("id")); err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "handoff cancelled")
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parceltrace/parceltrace/pkg/models"
	"github.com/parceltrace/parceltrace/pkg/services"
)

// createOrderHandler handles POST /api/v1/orders.
func (s *Server) createOrderHandler(c *echo.Context) error {
	var req CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	items := make([]services.OrderItemParams, len(req.Items))
	for i, it := range req.Items {
		items[i] = services.OrderItemParams{ItemID: it.ItemID, Quantity: it.Quantity}
	}

	order, err := s.deps.Orders.Create(c.Request().Context(), principal(c).UserID, req.SellerID, items)
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusCreated, order)
}

// listMyOrdersHandler handles GET /api/v1/orders/my.
func (s *Server) listMyOrdersHandler(c *echo.Context) error {
	p := principal(c)
	orders, err := s.deps.Orders.ListMine(c.Request().Context(), p.UserID, p.Role)
	if err != nil {
		return mapError(c, err)
	}
	return respondList(c, http.StatusOK, orders, len(orders))
}

// getOrderHandler handles GET /api/v1/orders/:id.
func (s *Server) getOrderHandler(c *echo.Context) error {
	p := principal(c)
	order, err := s.deps.Orders.Get(c.Request().Context(), p.UserID, p.Role, c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, order)
}

// confirmOrderHandler handles POST /api/v1/orders/:id/confirm: the
// seller accepts the order, which creates the on-ledger delivery and
// links the order to it. The off-ledger order owns the reference; the
// delivery carries only the opaque order id.
func (s *Server) confirmOrderHandler(c *echo.Context) error {
	var req ConfirmOrderRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	ctx := c.Request().Context()
	p := principal(c)

	order, err := s.deps.Orders.Get(ctx, p.UserID, p.Role, c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}
	if order.SellerID != p.UserID {
		return mapError(c, services.ErrNotAuthorized)
	}
	if order.Status != models.OrderPendingConfirmation {
		return mapError(c, services.ErrInvalidState)
	}

	deliveryID, err := s.deps.Deliveries.Create(ctx, p.UserID, services.CreateParams{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Weight:     req.PackageWeight,
		Length:     req.PackageLength,
		Width:      req.PackageWidth,
		Height:     req.PackageHeight,
		City:       req.City,
		State:      req.State,
		Country:    req.Country,
	})
	if err != nil {
		return mapError(c, err)
	}

	order, err = s.deps.Orders.Confirm(ctx, p.UserID, order.ID, deliveryID)
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, order)
}

// cancelOrderHandler handles PUT /api/v1/orders/:id/cancel.
func (s *Server) cancelOrderHandler(c *echo.Context) error {
	order, err := s.deps.Orders.Cancel(c.Request().Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, order)
}

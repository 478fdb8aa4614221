package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parceltrace/parceltrace/pkg/services"
)

func shopItemParams(req ShopItemRequest) services.ShopItemParams {
	return services.ShopItemParams{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
	}
}

// createShopItemHandler handles POST /api/v1/shop-items.
func (s *Server) createShopItemHandler(c *echo.Context) error {
	var req ShopItemRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	item, err := s.deps.ShopItems.Create(c.Request().Context(), principal(c).UserID, shopItemParams(req))
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusCreated, item)
}

// listShopItemsHandler handles GET /api/v1/shop-items[?sellerId=].
func (s *Server) listShopItemsHandler(c *echo.Context) error {
	items, err := s.deps.ShopItems.List(c.Request().Context(), c.QueryParam("sellerId"))
	if err != nil {
		return mapError(c, err)
	}
	return respondList(c, http.StatusOK, items, len(items))
}

// getShopItemHandler handles GET /api/v1/shop-items/:id.
func (s *Server) getShopItemHandler(c *echo.Context) error {
	item, err := s.deps.ShopItems.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, item)
}

// updateShopItemHandler handles PUT /api/v1/shop-items/:id.
func (s *Server) updateShopItemHandler(c *echo.Context) error {
	var req ShopItemRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	item, err := s.deps.ShopItems.Update(c.Request().Context(), principal(c).UserID, c.Param("id"), shopItemParams(req))
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, item)
}

// deleteShopItemHandler handles DELETE /api/v1/shop-items/:id.
func (s *Server) deleteShopItemHandler(c *echo.Context) error {
	if err := s.deps.ShopItems.Delete(c.Request().Context(), principal(c).UserID, c.Param("id")); err != nil {
		return mapError(c, err)
	}
	return respondMessage(c, http.StatusOK, "shop item deleted")
}

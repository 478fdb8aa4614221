// Package api provides the gateway's HTTP and WebSocket surface.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/parceltrace/parceltrace/pkg/chaincode/delivery"
	"github.com/parceltrace/parceltrace/pkg/config"
	"github.com/parceltrace/parceltrace/pkg/database"
	"github.com/parceltrace/parceltrace/pkg/events"
	"github.com/parceltrace/parceltrace/pkg/models"
	"github.com/parceltrace/parceltrace/pkg/services"
	"github.com/parceltrace/parceltrace/pkg/version"
)

// Users is the user-service surface the handlers consume.
type Users interface {
	Register(ctx context.Context, p services.RegisterParams) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// ShopItems is the shop-item-service surface the handlers consume.
type ShopItems interface {
	Create(ctx context.Context, sellerID string, p services.ShopItemParams) (*models.ShopItem, error)
	Update(ctx context.Context, sellerID, itemID string, p services.ShopItemParams) (*models.ShopItem, error)
	Delete(ctx context.Context, sellerID, itemID string) error
	Get(ctx context.Context, itemID string) (*models.ShopItem, error)
	List(ctx context.Context, sellerID string) ([]*models.ShopItem, error)
}

// Orders is the order-service surface the handlers consume.
type Orders interface {
	Create(ctx context.Context, customerID, sellerID string, items []services.OrderItemParams) (*models.Order, error)
	Get(ctx context.Context, callerID string, callerRole models.Role, orderID string) (*models.Order, error)
	ListMine(ctx context.Context, callerID string, callerRole models.Role) ([]*models.Order, error)
	Confirm(ctx context.Context, sellerID, orderID, deliveryID string) (*models.Order, error)
	Cancel(ctx context.Context, customerID, orderID string) (*models.Order, error)
}

// Deliveries is the delivery-service surface the handlers consume.
type Deliveries interface {
	Create(ctx context.Context, sellerID string, p services.CreateParams) (string, error)
	Get(ctx context.Context, callerID, deliveryID string) (*delivery.Delivery, error)
	GetHistory(ctx context.Context, callerID, deliveryID string) ([]*delivery.HistoryRecord, error)
	ListByCustodian(ctx context.Context, callerID, custodianID string) ([]*delivery.Delivery, error)
	ListByStatus(ctx context.Context, callerID, status string) ([]*delivery.Delivery, error)
	UpdateLocation(ctx context.Context, callerID, deliveryID, city, state, country string) error
	Cancel(ctx context.Context, callerID, deliveryID string) error
	InitiateHandoff(ctx context.Context, callerID, deliveryID, toUserID, toRole string) error
	ConfirmHandoff(ctx context.Context, callerID, deliveryID string, p services.ConfirmParams) error
	DisputeHandoff(ctx context.Context, callerID, deliveryID, reason string) error
	CancelHandoff(ctx context.Context, callerID, deliveryID string) error
	AuthorizeAddressAccess(ctx context.Context, callerID string, callerRole models.Role, deliveryID string) (*delivery.Delivery, error)
}

// ConsumerHealth reports event consumer liveness for the health check.
type ConsumerHealth interface {
	Healthy() bool
}

// Deps bundles the server's collaborators.
type Deps struct {
	Users      Users
	ShopItems  ShopItems
	Orders     Orders
	Deliveries Deliveries

	Auth Authenticator
	// JWT is set in jwt mode: the login handler needs token issuing.
	JWT *JWTAuthenticator

	ConnManager *events.ConnectionManager
	Consumer    ConsumerHealth
	DBClient    *database.Client
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	deps       Deps
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		echo: echo.New(),
		cfg:  cfg,
		deps: deps,
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers the public contract.
func (s *Server) setupRoutes() {
	// Request bodies are small JSON documents; reject anything larger
	// before deserialization.
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(correlation())

	s.echo.GET("/health", s.healthHandler)

	// WebSocket endpoint; authentication happens in the handshake.
	s.echo.GET("/delivery-events", s.wsHandler)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/auth/register", s.registerHandler)
	v1.POST("/auth/login", s.loginHandler)

	authed := v1.Group("", requireAuth(s.deps.Auth))

	// Shop items.
	authed.POST("/shop-items", s.createShopItemHandler, requireRole(models.RoleSeller))
	authed.GET("/shop-items", s.listShopItemsHandler)
	authed.GET("/shop-items/:id", s.getShopItemHandler)
	authed.PUT("/shop-items/:id", s.updateShopItemHandler, requireRole(models.RoleSeller))
	authed.DELETE("/shop-items/:id", s.deleteShopItemHandler, requireRole(models.RoleSeller))

	// Orders.
	authed.POST("/orders", s.createOrderHandler, requireRole(models.RoleCustomer))
	authed.GET("/orders/my", s.listMyOrdersHandler)
	authed.GET("/orders/:id", s.getOrderHandler)
	authed.POST("/orders/:id/confirm", s.confirmOrderHandler, requireRole(models.RoleSeller))
	authed.PUT("/orders/:id/cancel", s.cancelOrderHandler, requireRole(models.RoleCustomer))

	// Deliveries. Static paths before :id params.
	authed.GET("/deliveries/my", s.myDeliveriesHandler)
	authed.GET("/deliveries/status/:status", s.deliveriesByStatusHandler)
	authed.GET("/deliveries/:id", s.getDeliveryHandler)
	authed.GET("/deliveries/:id/history", s.deliveryHistoryHandler,
		requireRole(models.RoleSeller, models.RoleCustomer, models.RoleAdmin))
	authed.GET("/deliveries/:id/address", s.deliveryAddressHandler,
		requireRole(models.RoleDeliveryPerson, models.RoleAdmin))
	authed.PUT("/deliveries/:id/location", s.updateLocationHandler, requireRole(models.RoleDeliveryPerson))
	authed.PUT("/deliveries/:id/cancel", s.cancelDeliveryHandler, requireRole(models.RoleCustomer))
	authed.POST("/deliveries/:id/handoff/initiate", s.initiateHandoffHandler,
		requireRole(models.RoleSeller, models.RoleDeliveryPerson))
	authed.POST("/deliveries/:id/handoff/confirm", s.confirmHandoffHandler,
		requireRole(models.RoleDeliveryPerson, models.RoleCustomer))
	authed.POST("/deliveries/:id/handoff/dispute", s.disputeHandoffHandler,
		requireRole(models.RoleDeliveryPerson, models.RoleCustomer))
	authed.POST("/deliveries/:id/handoff/cancel", s.cancelHandoffHandler,
		requireRole(models.RoleSeller, models.RoleDeliveryPerson))
}

// Start serves on the given address, with TLS when configured
// (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	if s.cfg.HTTP.TLSCert != "" {
		return s.httpServer.ListenAndServeTLS(s.cfg.HTTP.TLSCert, s.cfg.HTTP.TLSKey)
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener (tests).
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.echo }

// healthHandler reports database, consumer and fan-out health. A dead
// event consumer degrades the service: clients would silently miss
// custody events.
func (s *Server) healthHandler(c *echo.Context) error {
	status := http.StatusOK
	checks := map[string]string{}

	if s.deps.DBClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(reqCtx, s.deps.DBClient.DB())
		checks["database"] = dbHealth
		if err != nil {
			status = http.StatusServiceUnavailable
		}
	}

	if s.deps.Consumer != nil {
		if s.deps.Consumer.Healthy() {
			checks["eventConsumer"] = "running"
		} else {
			checks["eventConsumer"] = "dead"
			status = http.StatusServiceUnavailable
		}
	}

	if s.deps.ConnManager != nil {
		checks["websocketConnections"] = fmt.Sprintf("%d", s.deps.ConnManager.ActiveConnections())
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	return c.JSON(status, map[string]interface{}{
		"status":  overall,
		"version": version.Full(),
		"checks":  checks,
	})
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parceltrace/parceltrace/pkg/chaincode/delivery"
	"github.com/parceltrace/parceltrace/pkg/config"
	"github.com/parceltrace/parceltrace/pkg/ledger"
	"github.com/parceltrace/parceltrace/pkg/models"
	"github.com/parceltrace/parceltrace/pkg/services"
)

// --- fakes ---

type fakeUsers struct {
	registered []services.RegisterParams
	user       *models.User
	err        error
}

func (f *fakeUsers) Register(_ context.Context, p services.RegisterParams) (*models.User, error) {
	f.registered = append(f.registered, p)
	if f.err != nil {
		return nil, f.err
	}
	return &models.User{ID: "new-user", Username: p.Username, Role: p.Role, IsEnrolled: true}, nil
}

func (f *fakeUsers) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	if f.user != nil && username == f.user.Username && password == "correct" {
		return f.user, nil
	}
	return nil, services.ErrBadCredentials
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, services.ErrNotFound
}

type fakeShopItems struct {
	items map[string]*models.ShopItem
}

func (f *fakeShopItems) Create(_ context.Context, sellerID string, p services.ShopItemParams) (*models.ShopItem, error) {
	return &models.ShopItem{ID: "item-1", SellerID: sellerID, Name: p.Name, Price: p.Price, Quantity: p.Quantity}, nil
}
func (f *fakeShopItems) Update(_ context.Context, sellerID, itemID string, p services.ShopItemParams) (*models.ShopItem, error) {
	return &models.ShopItem{ID: itemID, SellerID: sellerID, Name: p.Name}, nil
}
func (f *fakeShopItems) Delete(context.Context, string, string) error { return nil }
func (f *fakeShopItems) Get(_ context.Context, itemID string) (*models.ShopItem, error) {
	if item, ok := f.items[itemID]; ok {
		return item, nil
	}
	return nil, services.ErrNotFound
}
func (f *fakeShopItems) List(context.Context, string) ([]*models.ShopItem, error) {
	var out []*models.ShopItem
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

type fakeOrders struct {
	order     *models.Order
	confirmed []string // delivery ids passed to Confirm
}

func (f *fakeOrders) Create(_ context.Context, customerID, sellerID string, items []services.OrderItemParams) (*models.Order, error) {
	return &models.Order{ID: "order-1", CustomerID: customerID, SellerID: sellerID, Status: models.OrderPendingConfirmation}, nil
}
func (f *fakeOrders) Get(_ context.Context, _ string, _ models.Role, orderID string) (*models.Order, error) {
	if f.order != nil && f.order.ID == orderID {
		cp := *f.order
		return &cp, nil
	}
	return nil, services.ErrNotFound
}
func (f *fakeOrders) ListMine(context.Context, string, models.Role) ([]*models.Order, error) {
	if f.order == nil {
		return nil, nil
	}
	return []*models.Order{f.order}, nil
}
func (f *fakeOrders) Confirm(_ context.Context, _, orderID, deliveryID string) (*models.Order, error) {
	f.confirmed = append(f.confirmed, deliveryID)
	cp := *f.order
	cp.Status = models.OrderConfirmed
	cp.DeliveryID = deliveryID
	return &cp, nil
}
func (f *fakeOrders) Cancel(_ context.Context, _, orderID string) (*models.Order, error) {
	cp := *f.order
	cp.Status = models.OrderCancelled
	return &cp, nil
}

type deliveryCall struct {
	fn   string
	args []string
}

type fakeDeliveries struct {
	calls    []deliveryCall
	delivery *delivery.Delivery
	err      error
}

func (f *fakeDeliveries) record(fn string, args ...string) { f.calls = append(f.calls, deliveryCall{fn, args}) }

func (f *fakeDeliveries) Create(_ context.Context, sellerID string, p services.CreateParams) (string, error) {
	f.record("Create", sellerID, p.OrderID, p.CustomerID)
	return "DEL-20260101-AAAAAAAA", f.err
}
func (f *fakeDeliveries) Get(_ context.Context, callerID, deliveryID string) (*delivery.Delivery, error) {
	f.record("Get", callerID, deliveryID)
	if f.err != nil {
		return nil, f.err
	}
	return f.delivery, nil
}
func (f *fakeDeliveries) GetHistory(_ context.Context, callerID, deliveryID string) ([]*delivery.HistoryRecord, error) {
	f.record("GetHistory", callerID, deliveryID)
	return []*delivery.HistoryRecord{{TxID: "tx-1", Delivery: f.delivery}}, f.err
}
func (f *fakeDeliveries) ListByCustodian(_ context.Context, callerID, custodianID string) ([]*delivery.Delivery, error) {
	f.record("ListByCustodian", callerID, custodianID)
	return []*delivery.Delivery{f.delivery}, f.err
}
func (f *fakeDeliveries) ListByStatus(_ context.Context, callerID, status string) ([]*delivery.Delivery, error) {
	f.record("ListByStatus", callerID, status)
	return []*delivery.Delivery{f.delivery}, f.err
}
func (f *fakeDeliveries) UpdateLocation(_ context.Context, callerID, deliveryID, city, state, country string) error {
	f.record("UpdateLocation", callerID, deliveryID, city, state, country)
	return f.err
}
func (f *fakeDeliveries) Cancel(_ context.Context, callerID, deliveryID string) error {
	f.record("Cancel", callerID, deliveryID)
	return f.err
}
func (f *fakeDeliveries) InitiateHandoff(_ context.Context, callerID, deliveryID, toUserID, toRole string) error {
	f.record("InitiateHandoff", callerID, deliveryID, toUserID, toRole)
	return f.err
}
func (f *fakeDeliveries) ConfirmHandoff(_ context.Context, callerID, deliveryID string, p services.ConfirmParams) error {
	f.record("ConfirmHandoff", callerID, deliveryID, p.City)
	return f.err
}
func (f *fakeDeliveries) DisputeHandoff(_ context.Context, callerID, deliveryID, reason string) error {
	f.record("DisputeHandoff", callerID, deliveryID, reason)
	return f.err
}
func (f *fakeDeliveries) CancelHandoff(_ context.Context, callerID, deliveryID string) error {
	f.record("CancelHandoff", callerID, deliveryID)
	return f.err
}
func (f *fakeDeliveries) AuthorizeAddressAccess(_ context.Context, callerID string, _ models.Role, deliveryID string) (*delivery.Delivery, error) {
	f.record("AuthorizeAddressAccess", callerID, deliveryID)
	if f.err != nil {
		return nil, f.err
	}
	return f.delivery, nil
}

// --- harness ---

type testEnv struct {
	server     *Server
	jwt        *JWTAuthenticator
	users      *fakeUsers
	orders     *fakeOrders
	deliveries *fakeDeliveries
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	jwtAuth := NewJWTAuthenticator("test-secret", time.Hour)
	users := &fakeUsers{}
	orders := &fakeOrders{}
	deliveries := &fakeDeliveries{delivery: &delivery.Delivery{
		DeliveryID: "DEL-20260101-AAAAAAAA",
		OrderID:    "order-1",
		SellerID:   "seller-1",
		CustomerID: "customer-1",
	}}

	cfg := &config.Config{}
	server := NewServer(cfg, Deps{
		Users:      users,
		ShopItems:  &fakeShopItems{items: map[string]*models.ShopItem{}},
		Orders:     orders,
		Deliveries: deliveries,
		Auth:       jwtAuth,
		JWT:        jwtAuth,
	})

	return &testEnv{server: server, jwt: jwtAuth, users: users, orders: orders, deliveries: deliveries}
}

func (e *testEnv) token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	token, err := e.jwt.Issue(&models.User{ID: userID, Role: role})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env Envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

// --- tests ---

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "password1",
		Role: models.RoleCustomer, FullName: "Alice",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.CorrelationID)
	require.Len(t, env.users.registered, 1)
	assert.Equal(t, models.RoleCustomer, env.users.registered[0].Role)
}

func TestRegisterEnrollmentFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.users.err = services.ErrEnrollment

	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "password1",
		Role: models.RoleCustomer, FullName: "Alice",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "DEPENDENCY_FAILURE", resp.Code)
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t)
	env.users.user = &models.User{ID: "u1", Username: "alice", Role: models.RoleCustomer, IsEnrolled: true}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "alice", Password: "correct"})
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]interface{})
	token := data["token"].(string)
	p, err := env.jwt.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", resp.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deliveries/my", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", resp.Code)
	assert.False(t, resp.Success)
}

// TestRoleMatrix checks the coarse role filter on mutating routes.
func TestRoleMatrix(t *testing.T) {
	tests := []struct {
		method  string
		path    string
		body    interface{}
		allowed []models.Role
	}{
		{http.MethodPost, "/api/v1/shop-items", ShopItemRequest{Name: "x"}, []models.Role{models.RoleSeller}},
		{http.MethodPost, "/api/v1/orders", CreateOrderRequest{SellerID: "s"}, []models.Role{models.RoleCustomer}},
		{http.MethodPut, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/location", LocationRequest{City: "x", State: "y", Country: "z"}, []models.Role{models.RoleDeliveryPerson}},
		{http.MethodPut, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/cancel", nil, []models.Role{models.RoleCustomer}},
		{http.MethodPost, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/handoff/initiate", InitiateHandoffRequest{ToUserID: "d", ToRole: "DELIVERY_PERSON"}, []models.Role{models.RoleSeller, models.RoleDeliveryPerson}},
		{http.MethodPost, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/handoff/confirm", ConfirmHandoffRequest{City: "x", State: "y", Country: "z"}, []models.Role{models.RoleDeliveryPerson, models.RoleCustomer}},
		{http.MethodPost, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/handoff/dispute", DisputeHandoffRequest{Reason: "r"}, []models.Role{models.RoleDeliveryPerson, models.RoleCustomer}},
		{http.MethodPost, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/handoff/cancel", nil, []models.Role{models.RoleSeller, models.RoleDeliveryPerson}},
		{http.MethodGet, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/history", nil, []models.Role{models.RoleSeller, models.RoleCustomer, models.RoleAdmin}},
		{http.MethodGet, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/address", nil, []models.Role{models.RoleDeliveryPerson, models.RoleAdmin}},
	}

	roles := []models.Role{models.RoleCustomer, models.RoleSeller, models.RoleDeliveryPerson, models.RoleAdmin}

	for _, tt := range tests {
		for _, role := range roles {
			allowed := false
			for _, a := range tt.allowed {
				if a == role {
					allowed = true
				}
			}

			t.Run(tt.method+" "+tt.path+" as "+string(role), func(t *testing.T) {
				env := newTestEnv(t)
				env.orders.order = &models.Order{ID: "order-1", Status: models.OrderPendingConfirmation}

				rec, resp := env.do(t, tt.method, tt.path, env.token(t, "u-"+string(role), role), tt.body)
				if allowed {
					assert.NotEqual(t, http.StatusForbidden, rec.Code,
						"role %s should pass the coarse filter", role)
				} else {
					assert.Equal(t, http.StatusForbidden, rec.Code)
					assert.Equal(t, "NOT_AUTHORIZED", resp.Code)
				}
			})
		}
	}
}

func TestMyDeliveriesQueriesSelf(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deliveries/my", env.token(t, "driver-1", models.RoleDeliveryPerson), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 1, *resp.Count)

	require.Len(t, env.deliveries.calls, 1)
	assert.Equal(t, deliveryCall{"ListByCustodian", []string{"driver-1", "driver-1"}}, env.deliveries.calls[0])
}

func TestContractErrorSurfacesVerbatim(t *testing.T) {
	env := newTestEnv(t)
	env.deliveries.err = &ledger.Error{
		Kind:    ledger.KindInvalidState,
		Message: "there is already a pending handoff for this delivery",
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/handoff/initiate",
		env.token(t, "seller-1", models.RoleSeller),
		InitiateHandoffRequest{ToUserID: "driver-1", ToRole: "DELIVERY_PERSON"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", resp.Code)
	assert.Equal(t, "there is already a pending handoff for this delivery", resp.Message)
}

func TestConfirmOrderCreatesDeliveryThenLinks(t *testing.T) {
	env := newTestEnv(t)
	env.orders.order = &models.Order{
		ID: "order-1", SellerID: "seller-1", CustomerID: "customer-1",
		Status: models.OrderPendingConfirmation,
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/orders/order-1/confirm",
		env.token(t, "seller-1", models.RoleSeller),
		ConfirmOrderRequest{PackageWeight: 2.5, PackageLength: 30, PackageWidth: 20, PackageHeight: 15,
			City: "New York", State: "NY", Country: "US"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	require.Len(t, env.deliveries.calls, 1)
	assert.Equal(t, deliveryCall{"Create", []string{"seller-1", "order-1", "customer-1"}}, env.deliveries.calls[0])
	assert.Equal(t, []string{"DEL-20260101-AAAAAAAA"}, env.orders.confirmed)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "CONFIRMED", data["status"])
	assert.Equal(t, "DEL-20260101-AAAAAAAA", data["deliveryId"])
}

func TestConfirmOrderWrongSeller(t *testing.T) {
	env := newTestEnv(t)
	env.orders.order = &models.Order{
		ID: "order-1", SellerID: "seller-1", CustomerID: "customer-1",
		Status: models.OrderPendingConfirmation,
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/orders/order-1/confirm",
		env.token(t, "seller-2", models.RoleSeller),
		ConfirmOrderRequest{City: "x", State: "y", Country: "z"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_AUTHORIZED", resp.Code)
	assert.Empty(t, env.deliveries.calls, "no delivery may be created for a foreign order")
}

func TestConfirmOrderAlreadyConfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.orders.order = &models.Order{
		ID: "order-1", SellerID: "seller-1", CustomerID: "customer-1",
		Status: models.OrderConfirmed,
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/orders/order-1/confirm",
		env.token(t, "seller-1", models.RoleSeller),
		ConfirmOrderRequest{City: "x", State: "y", Country: "z"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", resp.Code)
	assert.Empty(t, env.deliveries.calls)
}

func TestAddressEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.users.user = &models.User{
		ID: "customer-1", FullName: "Carol Customer",
		Address: &models.Address{Street: "1 Main St", City: "Queens", State: "NY", Country: "US", PostalCode: "11101"},
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/address",
		env.token(t, "driver-1", models.RoleDeliveryPerson), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "Carol Customer", data["customer"])
	address := data["address"].(map[string]interface{})
	assert.Equal(t, "1 Main St", address["street"])
}

func TestDisputeRequiresReason(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/deliveries/DEL-20260101-AAAAAAAA/handoff/dispute",
		env.token(t, "driver-1", models.RoleDeliveryPerson), DisputeHandoffRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", resp.Code)
	assert.Empty(t, env.deliveries.calls)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

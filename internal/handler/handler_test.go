package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chocomarket/backend/internal/domain/auth"
	"github.com/chocomarket/backend/internal/domain/cart"
	"github.com/chocomarket/backend/internal/domain/order"
	"github.com/chocomarket/backend/internal/domain/product"
	"github.com/chocomarket/backend/internal/domain/user"
)

// Money is emitted as bare JSON numbers, matching the server bootstrap.
func TestMain(m *testing.M) {
	decimal.MarshalJSONWithoutQuotes = true
	os.Exit(m.Run())
}

// --- In-memory repositories ---

type memUserRepo struct {
	byID    map[uuid.UUID]*user.User
	byEmail map[string]*user.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		byID:    make(map[uuid.UUID]*user.User),
		byEmail: make(map[string]*user.User),
	}
}

func (m *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (m *memUserRepo) Create(_ context.Context, u *user.User) error {
	if _, ok := m.byEmail[u.Email]; ok {
		return user.ErrEmailTaken
	}
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u
	return nil
}

type memTokenRepo struct {
	byToken map[string]*auth.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{byToken: make(map[string]*auth.RefreshToken)}
}

func (m *memTokenRepo) GetByToken(_ context.Context, token string) (*auth.RefreshToken, error) {
	rt, ok := m.byToken[token]
	if !ok {
		return nil, auth.ErrInvalidRefreshToken
	}
	return rt, nil
}

func (m *memTokenRepo) Create(_ context.Context, t *auth.RefreshToken) error {
	m.byToken[t.Token] = t
	return nil
}

func (m *memTokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	for _, rt := range m.byToken {
		if rt.ID == id {
			rt.Revoked = true
			rt.RevokedAt = &at
		}
	}
	return nil
}

func (m *memTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	for _, rt := range m.byToken {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

type memProductRepo struct {
	byID map[uuid.UUID]*product.Product
}

func (m *memProductRepo) GetByID(_ context.Context, id uuid.UUID) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *memProductRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type memCartRepo struct {
	byID map[uuid.UUID]*cart.Item
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{byID: make(map[uuid.UUID]*cart.Item)}
}

func (m *memCartRepo) GetItems(_ context.Context, userID uuid.UUID) ([]cart.Item, error) {
	var out []cart.Item
	for _, it := range m.byID {
		if it.UserID == userID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *memCartRepo) GetItem(_ context.Context, userID, productID uuid.UUID) (*cart.Item, error) {
	for _, it := range m.byID {
		if it.UserID == userID && it.ProductID == productID {
			return it, nil
		}
	}
	return nil, cart.ErrItemNotFound
}

func (m *memCartRepo) GetItemByID(_ context.Context, itemID, userID uuid.UUID) (*cart.Item, error) {
	it, ok := m.byID[itemID]
	if !ok || it.UserID != userID {
		return nil, cart.ErrItemNotFound
	}
	return it, nil
}

func (m *memCartRepo) Add(_ context.Context, item *cart.Item) error {
	m.byID[item.ID] = item
	return nil
}

func (m *memCartRepo) Update(_ context.Context, item *cart.Item) error {
	m.byID[item.ID] = item
	return nil
}

func (m *memCartRepo) Remove(_ context.Context, itemID, _ uuid.UUID) error {
	delete(m.byID, itemID)
	return nil
}

func (m *memCartRepo) Clear(_ context.Context, userID uuid.UUID) error {
	for id, it := range m.byID {
		if it.UserID == userID {
			delete(m.byID, id)
		}
	}
	return nil
}

type memOrderRepo struct {
	byID  map[uuid.UUID]*order.Order
	carts *memCartRepo
}

func (m *memOrderRepo) Checkout(_ context.Context, o *order.Order) error {
	m.byID[o.ID] = o
	return m.carts.Clear(context.Background(), o.UserID)
}

func (m *memOrderRepo) Cancel(_ context.Context, o *order.Order) error {
	m.byID[o.ID] = o
	return nil
}

func (m *memOrderRepo) Update(_ context.Context, o *order.Order) error {
	m.byID[o.ID] = o
	return nil
}

func (m *memOrderRepo) NumberExists(_ context.Context, number string) (bool, error) {
	for _, o := range m.byID {
		if o.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *memOrderRepo) GetForUser(_ context.Context, orderID, userID uuid.UUID) (*order.Order, error) {
	o, ok := m.byID[orderID]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *memOrderRepo) ListForUser(_ context.Context, userID uuid.UUID, _ order.ListFilter) ([]order.Order, int, error) {
	var out []order.Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (m *memOrderRepo) List(_ context.Context, _ order.ListFilter) ([]order.Order, int, error) {
	var out []order.Order
	for _, o := range m.byID {
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *memOrderRepo) Recent(_ context.Context, limit int) ([]order.Order, error) {
	orders, _, _ := m.List(context.Background(), order.ListFilter{})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *memOrderRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, o := range m.byID {
		counts[string(o.Status)]++
	}
	return counts, nil
}

// --- Test environment ---

type env struct {
	router   http.Handler
	users    *memUserRepo
	products *memProductRepo
	orders   *memOrderRepo

	customerID    uuid.UUID
	customerToken string
	adminToken    string
}

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newEnv(t *testing.T, products ...*product.Product) *env {
	t.Helper()

	manager, err := auth.NewTokenManager(testSigningKey)
	require.NoError(t, err)

	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	carts := newMemCartRepo()
	productRepo := &memProductRepo{byID: make(map[uuid.UUID]*product.Product)}
	for _, p := range products {
		productRepo.byID[p.ID] = p
	}
	orders := &memOrderRepo{byID: make(map[uuid.UUID]*order.Order), carts: carts}

	authSvc := auth.NewService(users, tokens, manager)
	cartSvc := cart.NewService(carts, productRepo)
	orderSvc := order.NewService(users, carts, productRepo, orders, nil)

	h := NewHandler(authSvc, cartSvc, orderSvc)
	r := chi.NewRouter()
	r.Route("/api", h.Routes)

	e := &env{router: r, users: users, products: productRepo, orders: orders}

	hash, err := bcrypt.GenerateFromPassword([]byte("shopper-password"), bcrypt.MinCost)
	require.NoError(t, err)
	customer := &user.User{
		ID:           uuid.New(),
		FirstName:    "Test",
		LastName:     "Shopper",
		Email:        "shopper@example.com",
		PasswordHash: string(hash),
		Role:         user.RoleCustomer,
	}
	require.NoError(t, users.Create(context.Background(), customer))
	e.customerID = customer.ID
	e.customerToken = mustToken(t, manager, customer)

	admin := &user.User{
		ID:    uuid.New(),
		Email: "admin@example.com",
		Role:  user.RoleAdmin,
	}
	require.NoError(t, users.Create(context.Background(), admin))
	e.adminToken = mustToken(t, manager, admin)

	return e
}

func mustToken(t *testing.T, m *auth.TokenManager, u *user.User) string {
	t.Helper()
	token, err := m.Access(u)
	require.NoError(t, err)
	return token
}

func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func testProduct(name string, price int64, stock int) *product.Product {
	return &product.Product{
		ID:    uuid.New(),
		Name:  name,
		Slug:  name,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	}
}

// --- Tests ---

func TestAuthenticate_MissingToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/cart", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestAuthenticate_BadToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/cart", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/admin/orders", nil, e.customerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/admin/orders", nil, e.adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_Handler(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"firstName": "Ana",
		"lastName":  "Rentería",
		"email":     "ana@example.com",
		"password":  "a-long-password",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["accessToken"])
	assert.NotEmpty(t, data["refreshToken"])
}

func TestRegister_TakenEmail(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"firstName": "Other",
		"lastName":  "Shopper",
		"email":     "shopper@example.com",
		"password":  "a-long-password",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_Handler(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "shopper@example.com",
		"password": "shopper-password",
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "shopper@example.com",
		"password": "wrong",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddCartItem_Handler(t *testing.T) {
	p := testProduct("basket", 85000, 12)
	e := newEnv(t, p)

	rec := e.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": p.ID,
		"quantity":  2,
	}, e.customerToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "item added to cart", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(2), data["quantity"])
	assert.Equal(t, float64(85000), data["unitPrice"])
	assert.Equal(t, float64(170000), data["totalPrice"])
}

func TestAddCartItem_InvalidBody(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": "not-a-uuid",
		"quantity":  1,
	}, e.customerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddCartItem_UnknownProduct(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": uuid.New(),
		"quantity":  1,
	}, e.customerToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrder_Handler(t *testing.T) {
	p := testProduct("drum", 150000, 6)
	e := newEnv(t, p)

	rec := e.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": p.ID,
		"quantity":  1,
	}, e.customerToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/orders", map[string]any{
		"shippingAddress": map[string]any{
			"fullName":      "Test Shopper",
			"streetAddress": "Calle 10 #5-32",
			"city":          "Quibdó",
		},
		"paymentMethod": "transfer",
	}, e.customerToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Pending", data["status"])
	assert.Equal(t, float64(150000), data["subtotal"])
	assert.Equal(t, float64(28500), data["tax"])
	assert.Equal(t, float64(0), data["shipping"])
	assert.Equal(t, float64(178500), data["total"])

	history := data["statusHistory"].([]any)
	require.Len(t, history, 1)
	entry := history[0].(map[string]any)
	assert.Equal(t, "Pending", entry["status"])
	assert.Equal(t, "Order created", entry["note"])

	address := data["shippingAddress"].(map[string]any)
	assert.Equal(t, "Calle 10 #5-32", address["address"])

	tracking := data["tracking"].(map[string]any)
	assert.NotEmpty(t, tracking["estimatedDelivery"])
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/orders", map[string]any{
		"shippingAddress": map[string]any{
			"fullName":      "Test Shopper",
			"streetAddress": "Calle 10 #5-32",
			"city":          "Quibdó",
		},
		"paymentMethod": "transfer",
	}, e.customerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, "cart is empty", body["message"])
}

func TestCreateOrder_MissingFields(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/orders", map[string]any{
		"shippingAddress": map[string]any{"city": "Quibdó"},
	}, e.customerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	p := testProduct("mask", 220000, 3)
	e := newEnv(t, p)

	rec := e.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": p.ID,
		"quantity":  3,
	}, e.customerToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Stock drops after the item is in the cart.
	p.Stock = 1

	rec = e.do(t, http.MethodPost, "/api/orders", map[string]any{
		"shippingAddress": map[string]any{
			"fullName":      "Test Shopper",
			"streetAddress": "Calle 10 #5-32",
			"city":          "Quibdó",
		},
		"paymentMethod": "transfer",
	}, e.customerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Contains(t, body["message"], "mask")
}

func TestGetOrder_InvalidID(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/orders/not-a-uuid", nil, e.customerToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrder_Unknown(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/orders/"+uuid.NewString(), nil, e.customerToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder_Handler(t *testing.T) {
	e := newEnv(t)
	o := &order.Order{ID: uuid.New(), UserID: e.customerID, Status: order.StatusShipped}
	e.orders.byID[o.ID] = o

	rec := e.do(t, http.MethodPut, "/api/orders/"+o.ID.String()+"/cancel", map[string]string{
		"reason": "too late",
	}, e.customerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, "cannot cancel in current state", body["message"])
}

func TestAdminUpdateStatus_Handler(t *testing.T) {
	e := newEnv(t)
	o := &order.Order{ID: uuid.New(), UserID: e.customerID, Status: order.StatusPending}
	e.orders.byID[o.ID] = o

	rec := e.do(t, http.MethodPut, "/api/admin/orders/"+o.ID.String()+"/status", map[string]string{
		"status":         "shipped",
		"trackingNumber": "TRK-1",
	}, e.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Shipped", data["status"])
	tracking := data["tracking"].(map[string]any)
	assert.Equal(t, "TRK-1", tracking["trackingNumber"])
}

func TestAdminUpdateStatus_Invalid(t *testing.T) {
	e := newEnv(t)
	o := &order.Order{ID: uuid.New(), UserID: e.customerID, Status: order.StatusPending}
	e.orders.byID[o.ID] = o

	rec := e.do(t, http.MethodPut, "/api/admin/orders/"+o.ID.String()+"/status", map[string]string{
		"status": "Teleported",
	}, e.adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/admin/orders/"+o.ID.String()+"/status", map[string]string{}, e.adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvelope_OmitsEmptyMessage(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/cart", nil, e.customerToken)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	_, hasMessage := body["message"]
	assert.False(t, hasMessage)
}

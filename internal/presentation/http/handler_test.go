package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appcart "github.com/shopkit/checkout/internal/application/cart"
	appcheckout "github.com/shopkit/checkout/internal/application/checkout"
	apporder "github.com/shopkit/checkout/internal/application/order"
	apppayment "github.com/shopkit/checkout/internal/application/payment"
	dompayment "github.com/shopkit/checkout/internal/domain/payment"
	"github.com/shopkit/checkout/internal/infrastructure/id"
	"github.com/shopkit/checkout/internal/infrastructure/memory"
	"github.com/shopkit/checkout/internal/pkg/keymutex"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminToken = "hunter2"
	testSecret     = "test-secret"
)

type stubGateway struct{}

func (stubGateway) CreateIntent(_ context.Context, orderID string, _ decimal.Decimal, _ string) (string, error) {
	return "intent-" + orderID, nil
}

type env struct {
	server *httptest.Server
	signer dompayment.Signer
}

func newEnv(t *testing.T) *env {
	t.Helper()

	carts := memory.NewCartRepository()
	orders := memory.NewOrderRepository()
	ledger := memory.NewStockLedger()
	attempts := memory.NewAttemptRepository()
	catalog := memory.NewCatalog(ledger)
	idGen := id.NewUUIDGenerator()
	signer := dompayment.NewSigner(testSecret)

	orderSvc := apporder.NewService(orders, ledger, nil, keymutex.New(), nil)
	cartSvc := appcart.NewService(carts, catalog, nil)
	checkoutUC := appcheckout.NewUseCase(
		carts, catalog, ledger, orders, attempts, stubGateway{},
		orderSvc, idGen, nil, "USD", 15*time.Minute, nil,
	)
	verifyUC := apppayment.NewVerifyUseCase(orders, attempts, orderSvc, signer, idGen, nil)

	handler := NewHandler(cartSvc, checkoutUC, verifyUC, orderSvc, attempts, ledger, catalog, testAdminToken, nil)

	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return &env{server: srv, signer: signer}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func asOwner(owner string) map[string]string {
	return map[string]string{"X-Owner-ID": owner}
}

func asAdmin() map[string]string {
	return map[string]string{"X-Admin-Token": testAdminToken}
}

func (e *env) seedProduct(t *testing.T, productID string, price string, total int) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/admin/stock/"+productID,
		map[string]any{"total": total, "price": price}, asAdmin())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCartRequiresOwnerHeader(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "OWNER_REQUIRED", body["code"])
}

func TestAdminRoutesRejectBadToken(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/admin/stock/p-1",
		map[string]any{"total": 5}, map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", body["code"])
}

func TestCheckoutFlowEndToEnd(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p-1", "19.99", 10)

	resp, _ := e.do(t, http.MethodPost, "/cart/items",
		map[string]any{"product_id": "p-1", "quantity": 2}, asOwner("owner-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/checkout", nil, asOwner("owner-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID, _ := body["order_id"].(string)
	intentID, _ := body["gateway_intent_id"].(string)
	require.NotEmpty(t, orderID)
	require.NotEmpty(t, intentID)
	assert.Equal(t, "awaiting_payment", body["status"])
	assert.Equal(t, "39.98", body["total_amount"])

	// The gateway calls back with a signed completion.
	resp, body = e.do(t, http.MethodPost, "/checkout/verify", map[string]any{
		"order_id":    orderID,
		"intent_id":   intentID,
		"payment_ref": "pay-1",
		"signature":   e.signer.Sign(intentID, "pay-1"),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "authorized", body["result"])
	assert.Equal(t, "paid", body["order_status"])

	resp, body = e.do(t, http.MethodGet, "/orders/"+orderID, nil, asOwner("owner-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", body["status"])
	assert.Equal(t, "pay-1", body["gateway_payment_ref"])
	assert.Equal(t, "authorized", body["payment_outcome"])
}

func TestCheckoutEmptyCart(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/checkout", nil, asOwner("owner-1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EMPTY_CART", body["code"])
}

func TestCheckoutInsufficientStock(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p-1", "10.00", 1)

	resp, _ := e.do(t, http.MethodPost, "/cart/items",
		map[string]any{"product_id": "p-1", "quantity": 5}, asOwner("owner-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/checkout", nil, asOwner("owner-1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["code"])
	assert.Equal(t, float64(5), body["requested"])
	assert.Equal(t, float64(1), body["available"])
}

func TestVerifyForgedSignature(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p-1", "10.00", 10)
	orderID, intentID := e.checkout(t, "owner-1", "p-1", 1)

	resp, body := e.do(t, http.MethodPost, "/checkout/verify", map[string]any{
		"order_id":    orderID,
		"intent_id":   intentID,
		"payment_ref": "pay-evil",
		"signature":   "deadbeef",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "signature_invalid", body["result"])
	assert.Equal(t, "awaiting_payment", body["order_status"])
}

func TestOrderHiddenFromOtherOwners(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p-1", "10.00", 10)
	orderID, _ := e.checkout(t, "owner-1", "p-1", 1)

	resp, body := e.do(t, http.MethodGet, "/orders/"+orderID, nil, asOwner("owner-2"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ORDER_NOT_FOUND", body["code"])
}

func TestAdminTransitionLifecycle(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p-1", "10.00", 10)
	orderID, intentID := e.checkout(t, "owner-1", "p-1", 1)
	e.pay(t, orderID, intentID)

	for _, step := range []struct {
		trigger string
		status  string
	}{
		{"approve", "approved"},
		{"start_processing", "processing"},
		{"ship", "shipped"},
		{"deliver", "delivered"},
	} {
		resp, body := e.do(t, http.MethodPost, "/orders/"+orderID+"/transition",
			map[string]any{"trigger": step.trigger}, asAdmin())
		require.Equal(t, http.StatusOK, resp.StatusCode, step.trigger)
		assert.Equal(t, step.status, body["status"])
	}

	// Delivered is terminal.
	resp, body := e.do(t, http.MethodPost, "/orders/"+orderID+"/transition",
		map[string]any{"trigger": "refund"}, asAdmin())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ILLEGAL_TRANSITION", body["code"])
}

func TestAdminTransitionRejectsReservedTriggers(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p-1", "10.00", 10)
	orderID, _ := e.checkout(t, "owner-1", "p-1", 1)

	for _, trigger := range []string{"payment_authorized", "expire"} {
		resp, _ := e.do(t, http.MethodPost, "/orders/"+orderID+"/transition",
			map[string]any{"trigger": trigger}, asAdmin())
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, trigger)
	}
}

func (e *env) checkout(t *testing.T, owner, productID string, qty int) (orderID, intentID string) {
	t.Helper()

	resp, _ := e.do(t, http.MethodPost, "/cart/items",
		map[string]any{"product_id": productID, "quantity": qty}, asOwner(owner))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/checkout", nil, asOwner(owner))
	require.Equal(t, http.StatusCreated, resp.StatusCode, fmt.Sprintf("%v", body))
	orderID, _ = body["order_id"].(string)
	intentID, _ = body["gateway_intent_id"].(string)
	return orderID, intentID
}

func (e *env) pay(t *testing.T, orderID, intentID string) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/checkout/verify", map[string]any{
		"order_id":    orderID,
		"intent_id":   intentID,
		"payment_ref": "pay-" + orderID,
		"signature":   e.signer.Sign(intentID, "pay-"+orderID),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

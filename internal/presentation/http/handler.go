package httppresentation

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	appcart "github.com/shopkit/checkout/internal/application/cart"
	appcheckout "github.com/shopkit/checkout/internal/application/checkout"
	apporder "github.com/shopkit/checkout/internal/application/order"
	apppayment "github.com/shopkit/checkout/internal/application/payment"
	domcart "github.com/shopkit/checkout/internal/domain/cart"
	"github.com/shopkit/checkout/internal/domain/catalog"
	domorder "github.com/shopkit/checkout/internal/domain/order"
	dompayment "github.com/shopkit/checkout/internal/domain/payment"
	"github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopkit/checkout/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerOwnerID        = "X-Owner-ID"
	headerAdminToken     = "X-Admin-Token"
)

// CatalogAdmin seeds products. Only the built-in catalog supports it; with an
// external catalog the admin stock route manages the ledger alone.
type CatalogAdmin interface {
	SetProduct(productID string, price decimal.Decimal)
}

type Handler struct {
	carts    *appcart.Service
	checkout *appcheckout.UseCase
	verify   *apppayment.VerifyUseCase
	orders   *apporder.Service
	attempts dompayment.AttemptRepository
	ledger   stock.Ledger
	catalog  CatalogAdmin

	adminToken string

	log observability.Logger
	tel observability.Observability
}

func NewHandler(
	carts *appcart.Service,
	checkout *appcheckout.UseCase,
	verify *apppayment.VerifyUseCase,
	orders *apporder.Service,
	attempts dompayment.AttemptRepository,
	ledger stock.Ledger,
	catalogAdmin CatalogAdmin,
	adminToken string,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		carts:      carts,
		checkout:   checkout,
		verify:     verify,
		orders:     orders,
		attempts:   attempts,
		ledger:     ledger,
		catalog:    catalogAdmin,
		adminToken: adminToken,
		log:        tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:        tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(ObservabilityMiddleware(h.tel))

	r.Get("/health", h.handleHealth)

	r.Route("/cart", func(r chi.Router) {
		r.Use(h.requireOwner)
		r.Get("/", h.handleGetCart)
		r.Delete("/", h.handleClearCart)
		r.Post("/items", h.handleAddItem)
		r.Put("/items/{productID}", h.handleSetItem)
		r.Delete("/items/{productID}", h.handleRemoveItem)
	})

	r.With(h.requireOwner).Post("/checkout", h.handleCheckout)
	r.Post("/checkout/verify", h.handleVerify)

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.With(h.requireOwner).Get("/", h.handleGetOrder)
		r.With(h.requireOwner).Post("/intent", h.handleEnsureIntent)
		r.With(h.requireAdmin).Post("/transition", h.handleTransition)
	})

	r.With(h.requireAdmin).Post("/admin/stock/{productID}", h.handleSetStock)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// --- cart ---

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	OwnerID   string     `json:"owner_id"`
	Lines     []cartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type cartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	c, err := h.carts.AddItem(r.Context(), ownerFrom(r), req.ProductID, req.Quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleSetItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	c, err := h.carts.SetItem(r.Context(), ownerFrom(r), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), ownerFrom(r), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), ownerFrom(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- checkout ---

type checkoutResponse struct {
	OrderID         string    `json:"order_id"`
	Status          string    `json:"status"`
	TotalAmount     string    `json:"total_amount"`
	Currency        string    `json:"currency"`
	GatewayIntentID string    `json:"gateway_intent_id,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	res, err := h.checkout.Execute(r.Context(), ownerFrom(r))
	if err != nil {
		// A gateway outage after materialization still created the order; the
		// client needs its id to retry intent creation.
		if res != nil && errors.Is(err, dompayment.ErrGatewayUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"code":     codeGatewayUnavailable,
				"error":    "payment gateway unavailable, retry intent creation",
				"order_id": res.OrderID,
			})
			return
		}
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckoutResponse(res))
}

func (h *Handler) handleEnsureIntent(w http.ResponseWriter, r *http.Request) {
	res, err := h.checkout.EnsureIntent(r.Context(), ownerFrom(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckoutResponse(res))
}

// --- payment verification ---

type verifyRequest struct {
	OrderID    string `json:"order_id"`
	IntentID   string `json:"intent_id"`
	PaymentRef string `json:"payment_ref"`
	Signature  string `json:"signature"`
}

type verifyResponse struct {
	Result      string `json:"result"`
	OrderStatus string `json:"order_status"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	res, err := h.verify.Execute(r.Context(), apppayment.VerifyInput{
		OrderID:    req.OrderID,
		IntentID:   req.IntentID,
		PaymentRef: req.PaymentRef,
		Signature:  req.Signature,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if res.Result == dompayment.ResultSignatureInvalid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, verifyResponse{
		Result:      string(res.Result),
		OrderStatus: string(res.OrderStatus),
	})
}

// --- orders ---

type orderResponse struct {
	OrderID           string      `json:"order_id"`
	OwnerID           string      `json:"owner_id"`
	Status            string      `json:"status"`
	Lines             []orderLine `json:"lines"`
	TotalAmount       string      `json:"total_amount"`
	Currency          string      `json:"currency"`
	GatewayIntentID   string      `json:"gateway_intent_id,omitempty"`
	GatewayPaymentRef string      `json:"gateway_payment_ref,omitempty"`
	PaymentOutcome    string      `json:"payment_outcome,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
}

type orderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if o.OwnerID != ownerFrom(r) {
		writeError(w, http.StatusNotFound, codeOrderNotFound, domorder.ErrNotFound.Error())
		return
	}

	resp := toOrderResponse(o)
	if attempt, err := h.attempts.LatestByOrder(r.Context(), o.ID); err == nil {
		resp.PaymentOutcome = string(attempt.Outcome)
	}
	writeJSON(w, http.StatusOK, resp)
}

type transitionRequest struct {
	Trigger string `json:"trigger"`
}

// adminTriggers lists what the back office may drive by hand. Payment
// authorization and expiry stay with the verifier and the reaper.
var adminTriggers = map[domorder.Trigger]struct{}{
	domorder.TriggerApprove:         {},
	domorder.TriggerStartProcessing: {},
	domorder.TriggerShip:            {},
	domorder.TriggerDeliver:         {},
	domorder.TriggerCancel:          {},
	domorder.TriggerRefund:          {},
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	trg, err := domorder.ParseTrigger(req.Trigger)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if _, ok := adminTriggers[trg]; !ok {
		writeError(w, http.StatusForbidden, codeValidation, "trigger not allowed")
		return
	}

	o, err := h.orders.Transition(r.Context(), chi.URLParam(r, "orderID"), trg)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// --- admin stock ---

type setStockRequest struct {
	Total int    `json:"total"`
	Price string `json:"price,omitempty"`
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	productID := chi.URLParam(r, "productID")

	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil || price.IsNegative() {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid price")
			return
		}
		if h.catalog != nil {
			h.catalog.SetProduct(productID, price)
		}
	}

	if err := h.ledger.SetTotal(r.Context(), productID, req.Total); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- middleware ---

func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ownerFrom(r) == "" {
			writeError(w, http.StatusUnauthorized, codeOwnerRequired, "X-Owner-ID header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(headerAdminToken)
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeError(w, http.StatusForbidden, codeForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ownerFrom(r *http.Request) string {
	return r.Header.Get(headerOwnerID)
}

// --- encoding and error mapping ---

const (
	codeValidation         = "VALIDATION_FAILED"
	codeOwnerRequired      = "OWNER_REQUIRED"
	codeForbidden          = "FORBIDDEN"
	codeEmptyCart          = "EMPTY_CART"
	codeProductUnavailable = "PRODUCT_UNAVAILABLE"
	codeInsufficientStock  = "INSUFFICIENT_STOCK"
	codeIllegalTransition  = "ILLEGAL_TRANSITION"
	codeVerificationFailed = "VERIFICATION_FAILED"
	codeOrderNotFound      = "ORDER_NOT_FOUND"
	codeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	codeInternal           = "INTERNAL"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Error: msg})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *stock.InsufficientStockError

	switch {
	case errors.Is(err, domcart.ErrEmpty):
		writeError(w, http.StatusConflict, codeEmptyCart, err.Error())
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, stock.ErrProductUnavailable):
		writeError(w, http.StatusConflict, codeProductUnavailable, err.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":       codeInsufficientStock,
			"error":      insufficient.Error(),
			"product_id": insufficient.ProductID,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
	case errors.Is(err, stock.ErrInsufficientStock):
		writeError(w, http.StatusConflict, codeInsufficientStock, err.Error())
	case errors.Is(err, domorder.ErrIllegalTransition):
		writeError(w, http.StatusConflict, codeIllegalTransition, err.Error())
	case errors.Is(err, dompayment.ErrIntentMismatch):
		writeError(w, http.StatusUnprocessableEntity, codeVerificationFailed, err.Error())
	case errors.Is(err, domorder.ErrNotFound):
		writeError(w, http.StatusNotFound, codeOrderNotFound, err.Error())
	case errors.Is(err, dompayment.ErrGatewayUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeGatewayUnavailable, err.Error())
	case errors.Is(err, domcart.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, stock.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	default:
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func isValidation(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "validation:")
}

func toCartResponse(c *domcart.Cart) cartResponse {
	lines := make([]cartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, cartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return cartResponse{OwnerID: c.OwnerID, Lines: lines, UpdatedAt: c.UpdatedAt}
}

func toCheckoutResponse(res *appcheckout.Result) checkoutResponse {
	return checkoutResponse{
		OrderID:         res.OrderID,
		Status:          string(res.Status),
		TotalAmount:     res.TotalAmount,
		Currency:        res.Currency,
		GatewayIntentID: res.IntentID,
		ExpiresAt:       res.ExpiresAt,
	}
}

func toOrderResponse(o *domorder.Order) orderResponse {
	lines := make([]orderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal().StringFixed(2),
		})
	}
	return orderResponse{
		OrderID:           o.ID,
		OwnerID:           o.OwnerID,
		Status:            string(o.Status),
		Lines:             lines,
		TotalAmount:       o.TotalAmount.StringFixed(2),
		Currency:          o.Currency,
		GatewayIntentID:   o.GatewayIntentID,
		GatewayPaymentRef: o.GatewayPaymentRef,
		CreatedAt:         o.CreatedAt,
		ExpiresAt:         o.ExpiresAt,
	}
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domain "github.com/shopkit/checkout/internal/domain/payment"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/observability/logctx"
	"github.com/shopspring/decimal"
)

const (
	peerGateway          = "payment_gateway"
	endpointCreateIntent = "create_intent"
)

// Client talks to the external payment gateway over HTTP. Only intent
// creation crosses the wire; payment verification is a local signature check
// against the shared secret.
type Client struct {
	baseURL string
	http    *http.Client
	log     observability.Logger

	extCounter observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHist    observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewClient(baseURL string, timeout time.Duration, tel observability.Observability) *Client {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: timeout},
		log:        tel.Logger().With(observability.F("component", "gateway_client")),
		extCounter: tel.Metrics().Counter(observability.MExternalRequests),
		extHist:    tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

type createIntentRequest struct {
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createIntentResponse struct {
	IntentID string `json:"intent_id"`
}

// CreateIntent registers a payable amount with the gateway and returns the
// gateway-side intent id. A client disconnect mid-call may leave an intent
// created remotely, so callers must treat this as safe-to-retry, never
// blindly re-executed (the application layer reuses a stored intent).
func (c *Client) CreateIntent(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (_ string, err error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.extCounter.Add(1,
			observability.L("peer", peerGateway),
			observability.L("endpoint", endpointCreateIntent),
			observability.L("outcome", outcome),
		)
		c.extHist.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerGateway),
			observability.L("endpoint", endpointCreateIntent),
		)
	}()

	body, err := json.Marshal(createIntentRequest{
		OrderID:  orderID,
		Amount:   amount.StringFixed(2),
		Currency: currency,
	})
	if err != nil {
		outcome = "error"
		return "", fmt.Errorf("gateway: marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/intents", bytes.NewReader(body))
	if err != nil {
		outcome = "error"
		return "", fmt.Errorf("gateway: build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "error"
		logctx.FromOr(ctx, c.log).Warn("gateway_unreachable",
			observability.F("order_id", orderID),
			observability.F("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		outcome = "error"
		return "", fmt.Errorf("%w: unexpected status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var out createIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		outcome = "error"
		return "", fmt.Errorf("%w: decode response: %w", domain.ErrGatewayUnavailable, err)
	}
	if out.IntentID == "" {
		outcome = "error"
		return "", fmt.Errorf("%w: empty intent id", domain.ErrGatewayUnavailable)
	}

	return out.IntentID, nil
}

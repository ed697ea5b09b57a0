package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAttemptNotFound    = errors.New("payment: attempt not found")
	ErrIntentMismatch     = errors.New("payment: intent does not match order")
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
)

// Gateway is the outbound port to the external payment provider. Only intent
// creation crosses the network; verification is a local signature check.
type Gateway interface {
	CreateIntent(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error)
}

// VerificationResult classifies the outcome of a payment verification.
type VerificationResult string

const (
	ResultAuthorized       VerificationResult = "authorized"
	ResultAlreadyFinalized VerificationResult = "already_finalized"
	ResultSignatureInvalid VerificationResult = "signature_invalid"
)

type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeAuthorized Outcome = "authorized"
	OutcomeFailed     Outcome = "failed"
)

// Attempt records one payment try against an order. Several attempts may
// exist per order; at most one ever reaches OutcomeAuthorized.
type Attempt struct {
	ID                string
	OrderID           string
	GatewayIntentID   string
	GatewayPaymentRef string
	SignatureValid    bool
	Outcome           Outcome
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

type AttemptRepository interface {
	Insert(ctx context.Context, attempt *Attempt) error
	Update(ctx context.Context, attempt *Attempt) error
	// LatestByOrder returns the most recently updated attempt for the order.
	LatestByOrder(ctx context.Context, orderID string) (*Attempt, error)
	// AuthorizedByOrder returns the authorized attempt for the order, if any.
	AuthorizedByOrder(ctx context.Context, orderID string) (*Attempt, error)
}

// Package processor talks to the external payment processor. The backend
// only ever opens sessions and asks how they settled; card data goes from
// the client straight to the processor.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// SettlementStatus is the processor's view of a session.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSucceeded SettlementStatus = "succeeded"
	SettlementFailed    SettlementStatus = "failed"
	// SettlementExpired means the session lapsed without a submission.
	SettlementExpired SettlementStatus = "expired"
)

// Terminal reports whether the processor will not change its answer.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementSucceeded || s == SettlementFailed || s == SettlementExpired
}

var (
	// ErrUnknownReference is returned when the processor has no such session.
	ErrUnknownReference = errors.New("unknown processor reference")
	// ErrSessionExpired is returned when a client submits to a lapsed session.
	ErrSessionExpired = errors.New("payment session expired")
)

// SessionRequest opens a payment session.
type SessionRequest struct {
	OrderID        string `json:"orderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"-"`
}

// Session is an open payment session. Token is handed to the client,
// Reference identifies the session when reconciling.
type Session struct {
	Reference string    `json:"reference"`
	Token     string    `json:"token"`
	OrderID   string    `json:"orderId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Settlement is the authoritative outcome of a session.
type Settlement struct {
	Reference     string           `json:"reference"`
	Status        SettlementStatus `json:"status"`
	Amount        int64            `json:"amount"`
	Currency      string           `json:"currency"`
	FailureReason string           `json:"failureReason,omitempty"`
	SettledAt     *time.Time       `json:"settledAt,omitempty"`
}

// PaymentDetails is what the client submits directly to the processor.
type PaymentDetails struct {
	Method     string `json:"method"`
	Instrument string `json:"instrument"` // card number, UPI handle, wallet id
	HolderName string `json:"holderName,omitempty"`
}

// Gateway is the server-side processor API.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	QuerySettlement(ctx context.Context, reference string) (Settlement, error)
}

// SessionKey is the idempotency key for the n-th attempt of an order. Two
// issuers racing on the same attempt number get the same session back.
func SessionKey(orderID string, attempt int) string {
	return fmt.Sprintf("order:%s:attempt:%d", orderID, attempt)
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransientProcessor, err)
}

package domain

import (
	"fmt"
	"time"
)

// PaymentMethod is how the customer chose to pay at checkout.
type PaymentMethod string

const (
	MethodCard       PaymentMethod = "card"
	MethodUPI        PaymentMethod = "upi"
	MethodNetBanking PaymentMethod = "net_banking"
	MethodWallet     PaymentMethod = "wallet"
	// MethodCashOnDelivery skips payment reconciliation entirely.
	MethodCashOnDelivery PaymentMethod = "cod"
)

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodUPI, MethodNetBanking, MethodWallet, MethodCashOnDelivery:
		return true
	default:
		return false
	}
}

// RequiresProcessor reports whether m is settled through the external processor.
func (m PaymentMethod) RequiresProcessor() bool {
	return m.Valid() && m != MethodCashOnDelivery
}

// PaymentStatus is the order-level view of payment.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentSucceeded     PaymentStatus = "succeeded"
	PaymentFailed        PaymentStatus = "failed"
	PaymentOnDelivery    PaymentStatus = "pay_on_delivery"
	PaymentNotApplicable PaymentStatus = ""
)

// AttemptOutcome is the lifecycle of a single PaymentAttempt.
type AttemptOutcome string

const (
	OutcomePending   AttemptOutcome = "pending"
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
)

// Terminal reports whether the outcome can no longer change.
func (o AttemptOutcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Address is a snapshot copy taken at order creation.
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

// Validate checks the fields required for shipping.
func (a Address) Validate(field string) error {
	required := []struct {
		name  string
		value string
	}{
		{"firstName", a.FirstName},
		{"lastName", a.LastName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"zipCode", a.ZipCode},
		{"country", a.Country},
	}
	for _, r := range required {
		if r.value == "" {
			return NewValidationError(field+"."+r.name, "is required")
		}
	}
	return nil
}

// OrderItem is one purchased line. Prices are snapshotted at creation.
type OrderItem struct {
	ProductID           string `json:"productId"`
	Name                string `json:"name"`
	Quantity            int    `json:"quantity"`
	UnitPriceAtPurchase int64  `json:"unitPriceAtPurchase"`
	Size                string `json:"size,omitempty"`
	Color               string `json:"color,omitempty"`
}

// LineTotal returns quantity * unit price.
func (i OrderItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPriceAtPurchase
}

// Pricing is derived once at creation, in minor currency units.
type Pricing struct {
	Currency string `json:"currency"`
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Tax      int64  `json:"tax"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
}

// Payment is the order-level payment summary.
type Payment struct {
	Method             PaymentMethod `json:"method"`
	Status             PaymentStatus `json:"paymentStatus"`
	ProcessorReference string        `json:"processorReference,omitempty"`
	LastReconciledAt   *time.Time    `json:"lastReconciledAt,omitempty"`
}

// PaymentAttempt is one try at charging the customer for this order.
type PaymentAttempt struct {
	ID                 string         `json:"id"`
	OrderID            string         `json:"orderId"`
	Sequence           int            `json:"sequence"`
	ProcessorReference string         `json:"processorReference"`
	SessionToken       string         `json:"sessionToken"`
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
	Outcome            AttemptOutcome `json:"outcome"`
	FailureReason      string         `json:"failureReason,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	ResolvedAt         *time.Time     `json:"resolvedAt,omitempty"`
}

// TimelineEntry records exactly one status transition.
type TimelineEntry struct {
	From      OrderStatus `json:"from,omitempty"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
	Actor     Actor       `json:"actor"`
}

// Tracking is attached when an order ships.
type Tracking struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

// RefundStatus tracks the refund trigger; money movement happens elsewhere.
type RefundStatus string

const RefundRequested RefundStatus = "requested"

// RefundRequest is raised when a paid order is cancelled or returned.
type RefundRequest struct {
	Status      RefundStatus `json:"status"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	AttemptID   string       `json:"attemptId"`
	Reason      string       `json:"reason"`
	RequestedAt time.Time    `json:"requestedAt"`
	RequestedBy Actor        `json:"requestedBy"`
}

// Order is the authoritative order record.
type Order struct {
	ID              string           `json:"id"`
	OrderNumber     string           `json:"orderNumber"`
	CustomerID      string           `json:"customerId"`
	Items           []OrderItem      `json:"items"`
	Pricing         Pricing          `json:"pricing"`
	ShippingAddress Address          `json:"shippingAddress"`
	BillingAddress  Address          `json:"billingAddress"`
	Status          OrderStatus      `json:"status"`
	Payment         Payment          `json:"payment"`
	Attempts        []PaymentAttempt `json:"attempts"`
	Timeline        []TimelineEntry  `json:"timeline"`
	Tracking        *Tracking        `json:"tracking,omitempty"`
	Refund          *RefundRequest   `json:"refund,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// ActiveAttempt returns the attempt still awaiting an outcome, if any.
func (o *Order) ActiveAttempt() (*PaymentAttempt, bool) {
	for i := range o.Attempts {
		if o.Attempts[i].Outcome == OutcomePending {
			return &o.Attempts[i], true
		}
	}
	return nil, false
}

// SucceededAttempt returns the attempt that settled successfully, if any.
func (o *Order) SucceededAttempt() (*PaymentAttempt, bool) {
	for i := range o.Attempts {
		if o.Attempts[i].Outcome == OutcomeSucceeded {
			return &o.Attempts[i], true
		}
	}
	return nil, false
}

// AttemptByReference finds the attempt issued with the processor reference.
func (o *Order) AttemptByReference(ref string) (*PaymentAttempt, bool) {
	for i := range o.Attempts {
		if o.Attempts[i].ProcessorReference == ref {
			return &o.Attempts[i], true
		}
	}
	return nil, false
}

// ProcessorReferences lists every reference ever issued for this order.
func (o *Order) ProcessorReferences() []string {
	refs := make([]string, 0, len(o.Attempts))
	for _, a := range o.Attempts {
		refs = append(refs, a.ProcessorReference)
	}
	return refs
}

// Transition moves the order to `to` and appends the matching timeline entry.
// It is the only place Status is assigned after creation.
func (o *Order) Transition(to OrderStatus, actor Actor, note string, at time.Time) error {
	from := o.Status
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	o.Status = to
	o.Timeline = append(o.Timeline, TimelineEntry{
		From:      from,
		Status:    to,
		Timestamp: at,
		Note:      note,
		Actor:     actor,
	})
	o.UpdatedAt = at
	return nil
}

// CheckTimeline verifies that status and timeline agree and that the timeline
// is a legal walk of the lifecycle graph.
func (o *Order) CheckTimeline() error {
	if len(o.Timeline) == 0 {
		return fmt.Errorf("order %s has an empty timeline", o.ID)
	}
	statuses := make([]OrderStatus, 0, len(o.Timeline))
	for i, entry := range o.Timeline {
		if i > 0 && entry.From != o.Timeline[i-1].Status {
			return fmt.Errorf("order %s timeline entry %d starts from %s, previous is %s", o.ID, i, entry.From, o.Timeline[i-1].Status)
		}
		statuses = append(statuses, entry.Status)
	}
	if !ValidWalk(statuses) {
		return fmt.Errorf("order %s timeline is not a legal walk", o.ID)
	}
	if last := o.Timeline[len(o.Timeline)-1].Status; last != o.Status {
		return fmt.Errorf("order %s status %s diverges from timeline %s", o.ID, o.Status, last)
	}
	return nil
}

// Clone returns a deep copy so callers never share slices with a store.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.Timeline = append([]TimelineEntry(nil), o.Timeline...)
	out.Attempts = make([]PaymentAttempt, len(o.Attempts))
	for i, a := range o.Attempts {
		out.Attempts[i] = a
		out.Attempts[i].ResolvedAt = copyTime(a.ResolvedAt)
	}
	out.Payment.LastReconciledAt = copyTime(o.Payment.LastReconciledAt)
	if o.Tracking != nil {
		t := *o.Tracking
		out.Tracking = &t
	}
	if o.Refund != nil {
		r := *o.Refund
		out.Refund = &r
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

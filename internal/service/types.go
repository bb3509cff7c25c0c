package service

import (
	"github.com/vanshika/checkout/backend/internal/domain"
)

// AddressInput mirrors domain.Address but keeps the separation between inbound payloads and storage models.
type AddressInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

// ToDomainAddress converts the inbound address into its normalized snapshot.
func (a AddressInput) ToDomainAddress() domain.Address {
	return domain.Address{
		FirstName: sanitizeString(a.FirstName),
		LastName:  sanitizeString(a.LastName),
		Email:     normalizeEmail(a.Email),
		Phone:     normalizePhone(a.Phone),
		Line1:     sanitizeString(a.Line1),
		Line2:     sanitizeString(a.Line2),
		City:      sanitizeString(a.City),
		State:     sanitizeString(a.State),
		ZipCode:   normalizeZip(a.ZipCode),
		Country:   normalizeCountry(a.Country),
	}
}

// CheckoutInput is the payload accepted by CreateOrder. Items are never part
// of it; they come from the customer's cart.
type CheckoutInput struct {
	ShippingAddress AddressInput  `json:"shippingAddress"`
	BillingAddress  *AddressInput `json:"billingAddress,omitempty"`
	PaymentMethod   string        `json:"paymentMethod"`
	Discount        int64         `json:"discount"`
	Notes           string        `json:"notes"`
}

// ListOrdersParams describes filters accepted by ListOrders.
type ListOrdersParams struct {
	Page          int
	PageSize      int
	CustomerID    string
	Status        string
	PaymentStatus string
	Search        string
	SortField     string
	SortOrder     string
}

// OrdersPage bundles paginated orders with metadata.
type OrdersPage struct {
	Items        []domain.OrderSummary        `json:"items"`
	Pagination   PaginationMeta               `json:"pagination"`
	StatusCounts map[domain.OrderStatus]int64 `json:"statusCounts,omitempty"`
}

// StatusChangeRequest asks for one transition of the order lifecycle.
type StatusChangeRequest struct {
	ExpectedVersion int64            `json:"expectedVersion"`
	Status          string           `json:"status"`
	Note            string           `json:"note"`
	Tracking        *domain.Tracking `json:"tracking,omitempty"`
}

// PaymentIntent is what the client needs to pay at the processor.
type PaymentIntent struct {
	OrderID            string `json:"orderId"`
	AttemptID          string `json:"attemptId"`
	SessionToken       string `json:"sessionToken"`
	ProcessorReference string `json:"processorReference"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	OrderVersion       int64  `json:"orderVersion"`
	// Reused is true when an already active attempt was returned.
	Reused bool `json:"reused"`
}

// PaymentHistory lists every attempt made on one order, oldest first.
// Session tokens are left out; only the intent hands those to the payer.
type PaymentHistory struct {
	OrderID  string                  `json:"orderId"`
	Payment  domain.Payment          `json:"payment"`
	Attempts []domain.PaymentAttempt `json:"attempts"`
}

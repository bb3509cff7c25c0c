package domain

import "time"

// OrderSummary represents lightweight order information for list endpoints.
type OrderSummary struct {
	ID            string        `json:"id"`
	OrderNumber   string        `json:"orderNumber"`
	CustomerID    string        `json:"customerId"`
	Status        OrderStatus   `json:"status"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Total         int64         `json:"total"`
	Currency      string        `json:"currency"`
	ItemCount     int           `json:"itemCount"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Summary projects an order onto its list representation.
func (o Order) Summary() OrderSummary {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return OrderSummary{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		PaymentMethod: o.Payment.Method,
		PaymentStatus: o.Payment.Status,
		Total:         o.Pricing.Total,
		Currency:      o.Pricing.Currency,
		ItemCount:     count,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// OrderListResult captures paginated order list results.
type OrderListResult struct {
	Items        []OrderSummary
	Total        int64
	StatusCounts map[OrderStatus]int64
}

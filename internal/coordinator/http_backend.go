package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/service"
)

// HTTPBackend calls the order API with a bearer token. Besides the Backend
// methods it exposes the calls operator tooling needs.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates a client for the API rooted at baseURL.
func NewHTTPBackend(baseURL, token string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// APIError is a non-2xx answer from the API. It matches the domain sentinel
// named by its code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	if sentinel := domain.FromCode(e.Code); sentinel != nil {
		return target == sentinel
	}
	return false
}

func (b *HTTPBackend) CreatePaymentIntent(ctx context.Context, orderID string, expectedVersion int64) (Intent, error) {
	var out Intent
	body := map[string]int64{"expectedVersion": expectedVersion}
	err := b.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/payment-intent", body, &out)
	return out, err
}

func (b *HTTPBackend) ConfirmPayment(ctx context.Context, orderID, processorReference string, expectedVersion int64) (domain.Order, error) {
	var out domain.Order
	body := struct {
		ProcessorReference string `json:"processorReference"`
		ExpectedVersion    int64  `json:"expectedVersion"`
	}{processorReference, expectedVersion}
	err := b.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/payment-confirmation", body, &out)
	return out, err
}

func (b *HTTPBackend) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := b.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &out)
	return out, err
}

// CreateOrder checks out the caller's cart.
func (b *HTTPBackend) CreateOrder(ctx context.Context, input service.CheckoutInput) (domain.Order, error) {
	var out domain.Order
	err := b.do(ctx, http.MethodPost, "/orders", input, &out)
	return out, err
}

// ListOrders lists orders; admins get the admin listing with status counts.
func (b *HTTPBackend) ListOrders(ctx context.Context, admin bool, params service.ListOrdersParams) (service.OrdersPage, error) {
	q := url.Values{}
	set := func(key, val string) {
		if val != "" {
			q.Set(key, val)
		}
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(params.PageSize))
	}
	set("customerId", params.CustomerID)
	set("status", params.Status)
	set("paymentStatus", params.PaymentStatus)
	set("search", params.Search)
	set("sort", params.SortField)
	set("order", params.SortOrder)

	path := "/orders"
	if admin {
		path = "/admin/orders"
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out service.OrdersPage
	err := b.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ChangeStatus requests a status transition.
func (b *HTTPBackend) ChangeStatus(ctx context.Context, orderID string, req service.StatusChangeRequest) (domain.Order, error) {
	var out domain.Order
	err := b.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/status", req, &out)
	return out, err
}

// Sweep runs one reconciliation sweep on the server.
func (b *HTTPBackend) Sweep(ctx context.Context) (service.SweepReport, error) {
	var out service.SweepReport
	err := b.do(ctx, http.MethodPost, "/admin/reconciliation/sweep", nil, &out)
	return out, err
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(raw, &eb)
		apiErr := &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		if apiErr.Code == "" && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
			apiErr.Code = domain.CodeTransient
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(fmt.Errorf("%s %s: decode response", method, path), err)
	}
	return nil
}

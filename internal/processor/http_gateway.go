package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// HTTPGateway is a REST client for a processor exposing the session API
// served by NewHandler. It implements Gateway for the backend and Submit for
// the client side.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway builds a client. timeout bounds every request.
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	var out Session
	if err := g.do(ctx, http.MethodPost, "/v1/sessions", req, headers, &out); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return out, nil
}

func (g *HTTPGateway) QuerySettlement(ctx context.Context, reference string) (Settlement, error) {
	var out Settlement
	if err := g.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(reference), nil, nil, &out); err != nil {
		return Settlement{}, fmt.Errorf("query settlement %s: %w", reference, err)
	}
	return out, nil
}

// Submit sends payment details for the session behind token.
func (g *HTTPGateway) Submit(ctx context.Context, token string, details PaymentDetails) (Settlement, error) {
	body := submitRequest{Token: token, Details: details}
	var out Settlement
	if err := g.do(ctx, http.MethodPost, "/v1/payments", body, nil, &out); err != nil {
		return Settlement{}, fmt.Errorf("submit payment: %w", err)
	}
	return out, nil
}

type submitRequest struct {
	Token   string         `json:"token"`
	Details PaymentDetails `json:"details"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientProcessor, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrTransientProcessor, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrTransientProcessor, resp.StatusCode)
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	switch {
	case resp.StatusCode == http.StatusNotFound && eb.Code == codeUnknownReference:
		return ErrUnknownReference
	case resp.StatusCode == http.StatusNotFound:
		// A 404 without the processor's code is a routing problem, not an
		// answer about the session.
		return fmt.Errorf("%w: status %d from %s", domain.ErrTransientProcessor, resp.StatusCode, path)
	case eb.Code == codeSessionExpired:
		return ErrSessionExpired
	default:
		msg := eb.Error
		if msg == "" {
			msg = resp.Status
		}
		return errors.New("processor rejected request: " + msg)
	}
}

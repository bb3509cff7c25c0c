package processor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" on every webhook.
const SignatureHeader = "X-Processor-Signature"

// DefaultSignatureTolerance bounds how old a signed timestamp may be.
const DefaultSignatureTolerance = 5 * time.Minute

// EventType names a processor callback.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentExpired   EventType = "payment.expired"
)

var (
	// ErrInvalidSignature rejects unsigned, forged or replayed callbacks.
	ErrInvalidSignature = fmt.Errorf("%w: invalid webhook signature", domain.ErrValidation)
	// ErrInvalidPayload rejects callbacks that do not match the event schema.
	ErrInvalidPayload = fmt.Errorf("%w: invalid webhook payload", domain.ErrValidation)
)

// WebhookEvent is the body of a processor callback.
type WebhookEvent struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Created int64       `json:"created"`
	Data    WebhookData `json:"data"`
}

// WebhookData describes the session the event is about.
type WebhookData struct {
	Reference     string `json:"reference"`
	OrderID       string `json:"orderId,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Settlement converts the event into a settlement. ok is false for event
// types that do not settle a session.
func (e WebhookEvent) Settlement() (Settlement, bool) {
	var status SettlementStatus
	switch e.Type {
	case EventPaymentSucceeded:
		status = SettlementSucceeded
	case EventPaymentFailed:
		status = SettlementFailed
	case EventPaymentExpired:
		status = SettlementExpired
	default:
		return Settlement{}, false
	}
	at := time.Unix(e.Created, 0).UTC()
	return Settlement{
		Reference:     e.Data.Reference,
		Status:        status,
		Amount:        e.Data.Amount,
		Currency:      e.Data.Currency,
		FailureReason: e.Data.FailureReason,
		SettledAt:     &at,
	}, true
}

// EventFor builds the callback announcing a terminal settlement.
func EventFor(session Session, settlement Settlement) WebhookEvent {
	var typ EventType
	switch settlement.Status {
	case SettlementSucceeded:
		typ = EventPaymentSucceeded
	case SettlementExpired:
		typ = EventPaymentExpired
	default:
		typ = EventPaymentFailed
	}
	created := time.Now().UTC()
	if settlement.SettledAt != nil {
		created = *settlement.SettledAt
	}
	return WebhookEvent{
		ID:      "evt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:    typ,
		Created: created.Unix(),
		Data: WebhookData{
			Reference:     settlement.Reference,
			OrderID:       session.OrderID,
			Amount:        settlement.Amount,
			Currency:      settlement.Currency,
			FailureReason: settlement.FailureReason,
		},
	}
}

// Sign returns the signature header value for payload at ts.
func Sign(secret string, payload []byte, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, computeSignature(secret, unix, payload))
}

// VerifySignature checks header against payload. Timestamps older or newer
// than tolerance are rejected.
func VerifySignature(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	var (
		ts   int64
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: missing timestamp or signature", ErrInvalidSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}
	expected := computeSignature(secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func computeSignature(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

const webhookSchema = `{
  "type": "object",
  "required": ["id", "type", "created", "data"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "created": {"type": "integer", "minimum": 1},
    "data": {
      "type": "object",
      "required": ["reference", "amount", "currency"],
      "properties": {
        "reference": {"type": "string", "minLength": 1},
        "orderId": {"type": "string"},
        "amount": {"type": "integer", "minimum": 0},
        "currency": {"type": "string", "minLength": 3, "maxLength": 3},
        "failureReason": {"type": "string"}
      }
    }
  }
}`

var webhookSchemaLoader = gojsonschema.NewStringLoader(webhookSchema)

// ParseWebhook validates payload against the event schema and decodes it.
func ParseWebhook(payload []byte) (WebhookEvent, error) {
	result, err := gojsonschema.Validate(webhookSchemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrInvalidPayload, sb.String())
	}
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return event, nil
}

// WebhookSender delivers signed callbacks. The simulator uses it to call
// back into the API the way a real processor would.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

func NewWebhookSender(url, secret string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: url, secret: secret, client: client, now: time.Now}
}

// Send posts event and treats any non-2xx answer as an error.
func (s *WebhookSender) Send(ctx context.Context, event WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(s.secret, body, s.now()))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook %s: %w", event.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("webhook rejected with status " + resp.Status)
	}
	return nil
}

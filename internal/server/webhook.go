package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/processor"
	"github.com/vanshika/checkout/backend/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler accepts signed settlement callbacks from the processor.
type WebhookHandler struct {
	logger    *slog.Logger
	orders    *service.OrderService
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookHandler(logger *slog.Logger, orders *service.OrderService, secret string) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger,
		orders:    orders,
		secret:    secret,
		tolerance: processor.DefaultSignatureTolerance,
		now:       time.Now,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body", domain.CodeValidation)
		return
	}
	if err := processor.VerifySignature(h.secret, payload, r.Header.Get(processor.SignatureHeader), h.now(), h.tolerance); err != nil {
		h.logger.Warn("rejected processor webhook", "error", err)
		writeError(w, http.StatusUnauthorized, err.Error(), domain.CodeValidation)
		return
	}
	event, err := processor.ParseWebhook(payload)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.ApplyWebhook(r.Context(), event)
	switch {
	case errors.Is(err, service.ErrEventIgnored), errors.Is(err, domain.ErrNotFound):
		// Acknowledge so the processor stops redelivering.
		h.logger.Info("processor webhook ignored",
			"event_id", event.ID,
			"type", string(event.Type),
			"processor_reference", event.Data.Reference)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case err != nil:
		writeServiceError(w, r, h.logger, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{
			"status":      "applied",
			"orderId":     order.ID,
			"orderStatus": order.Status,
			"version":     order.Version,
		})
	}
}

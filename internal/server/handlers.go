package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vanshika/checkout/backend/internal/auth"
	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/service"
)

// APIHandlers exposes HTTP handlers for the order API.
type APIHandlers struct {
	logger  *slog.Logger
	orders  *service.OrderService
	sweeper *service.Sweeper
}

// NewAPIHandlers constructs an APIHandlers instance. sweeper may be nil, in
// which case the sweep endpoint answers 404.
func NewAPIHandlers(logger *slog.Logger, orders *service.OrderService, sweeper *service.Sweeper) *APIHandlers {
	return &APIHandlers{
		logger:  logger,
		orders:  orders,
		sweeper: sweeper,
	}
}

const codeUnauthenticated = "unauthenticated"

type cancelRequest struct {
	ExpectedVersion int64  `json:"expectedVersion"`
	Reason          string `json:"reason"`
}

type intentRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

type confirmationRequest struct {
	ProcessorReference string `json:"processorReference"`
	ExpectedVersion    int64  `json:"expectedVersion"`
}

func (h *APIHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), domain.CodeValidation)
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), actorFrom(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *APIHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), actorFrom(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *APIHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	history, err := h.orders.PaymentHistory(r.Context(), actorFrom(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (h *APIHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := service.ListOrdersParams{
		Page:          parseInt(q.Get("page"), 1),
		PageSize:      parseInt(q.Get("pageSize"), 20),
		CustomerID:    q.Get("customerId"),
		Status:        q.Get("status"),
		PaymentStatus: q.Get("paymentStatus"),
		Search:        q.Get("search"),
		SortField:     q.Get("sort"),
		SortOrder:     q.Get("order"),
	}
	actor := actorFrom(r)
	page, err := h.orders.ListOrders(r.Context(), actor, params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.EqualFold(q.Get("format"), "csv") && actor.IsAdmin() {
		h.writeOrdersCSV(w, page.Items)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *APIHandlers) writeOrdersCSV(w http.ResponseWriter, items []domain.OrderSummary) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=orders.csv")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"id", "orderNumber", "customerId", "status", "paymentMethod", "paymentStatus", "total", "currency", "itemCount", "version", "createdAt"})
	for _, item := range items {
		_ = writer.Write([]string{
			item.ID,
			item.OrderNumber,
			item.CustomerID,
			string(item.Status),
			string(item.PaymentMethod),
			string(item.PaymentStatus),
			strconv.FormatInt(item.Total, 10),
			item.Currency,
			strconv.Itoa(item.ItemCount),
			strconv.FormatInt(item.Version, 10),
			formatTime(item.CreatedAt),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Error("failed to write orders csv", "error", err)
	}
}

func (h *APIHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req service.StatusChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), domain.CodeValidation)
		return
	}
	order, err := h.orders.RequestStatusChange(r.Context(), actorFrom(r), chi.URLParam(r, "orderID"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *APIHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), domain.CodeValidation)
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), actorFrom(r), chi.URLParam(r, "orderID"), req.ExpectedVersion, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *APIHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), domain.CodeValidation)
		return
	}
	intent, err := h.orders.CreatePaymentIntent(r.Context(), actorFrom(r), chi.URLParam(r, "orderID"), req.ExpectedVersion)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if intent.Reused {
		status = http.StatusOK
	}
	respondJSON(w, status, intent)
}

func (h *APIHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error(), domain.CodeValidation)
		return
	}
	order, err := h.orders.ConfirmPayment(r.Context(), actorFrom(r), chi.URLParam(r, "orderID"), req.ProcessorReference, req.ExpectedVersion)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *APIHandlers) runSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusNotFound, "reconciliation sweep is not enabled", domain.CodeNotFound)
		return
	}
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("manual reconciliation sweep",
		"actor", actorFrom(r).ID,
		"scanned", report.Scanned,
		"confirmed", report.Confirmed,
		"failed", report.Failed,
		"abandoned", report.Abandoned)
	respondJSON(w, http.StatusOK, report)
}

func (h *APIHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}

// writeServiceError maps a service error onto its status code and wire code.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	code := domain.Code(err)
	msg := err.Error()
	switch {
	case status == http.StatusUnauthorized:
		code = codeUnauthenticated
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
		logger.Warn("processor unavailable", "path", r.URL.Path, "error", err)
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}

	var stale *domain.StaleStateError
	if errors.As(err, &stale) {
		respondJSON(w, status, map[string]any{
			"error":          msg,
			"code":           code,
			"currentVersion": stale.Actual,
		})
		return
	}
	writeError(w, status, msg, code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransientProcessor):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

var errBodyRequired = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errBodyRequired
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, errBodyRequired) {
		return nil
	}
	return err
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	respondJSON(w, status, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method), "")
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "route not found", domain.CodeNotFound)
}

package processor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// NewHandler serves the simulator over the same REST API HTTPGateway speaks.
// Session endpoints require apiKey when it is set; /v1/payments is called by
// clients holding only a session token.
func NewHandler(sim *Simulator, apiKey string) http.Handler {
	h := &simHandler{sim: sim, apiKey: apiKey}
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(h.requireKey)
		r.Post("/v1/sessions", h.createSession)
		r.Get("/v1/sessions/{reference}", h.getSettlement)
	})
	r.Post("/v1/payments", h.submit)
	return r
}

type simHandler struct {
	sim    *Simulator
	apiKey string
}

func (h *simHandler) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+h.apiKey {
			writeSimError(w, http.StatusUnauthorized, "invalid api key", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *simHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSimError(w, http.StatusBadRequest, "invalid JSON payload", "")
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	session, err := h.sim.CreateSession(r.Context(), req)
	if err != nil {
		writeSimFailure(w, err)
		return
	}
	writeSimJSON(w, http.StatusOK, session)
}

func (h *simHandler) getSettlement(w http.ResponseWriter, r *http.Request) {
	settlement, err := h.sim.QuerySettlement(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeSimFailure(w, err)
		return
	}
	writeSimJSON(w, http.StatusOK, settlement)
}

func (h *simHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSimError(w, http.StatusBadRequest, "invalid JSON payload", "")
		return
	}
	settlement, err := h.sim.Submit(r.Context(), req.Token, req.Details)
	if err != nil {
		writeSimFailure(w, err)
		return
	}
	writeSimJSON(w, http.StatusOK, settlement)
}

// Error codes shared by the simulator handler and HTTPGateway.
const (
	codeUnknownReference = "unknown_reference"
	codeSessionExpired   = "session_expired"
)

func writeSimFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownReference):
		writeSimError(w, http.StatusNotFound, err.Error(), codeUnknownReference)
	case errors.Is(err, ErrSessionExpired):
		writeSimError(w, http.StatusGone, err.Error(), codeSessionExpired)
	case errors.Is(err, domain.ErrTransientProcessor):
		writeSimError(w, http.StatusServiceUnavailable, err.Error(), "unavailable")
	default:
		writeSimError(w, http.StatusBadRequest, err.Error(), "")
	}
}

func writeSimError(w http.ResponseWriter, status int, msg, code string) {
	writeSimJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeSimJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

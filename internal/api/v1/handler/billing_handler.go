package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"app/internal/service"

	"github.com/rs/zerolog"
)

type BillingHandler struct {
	paddleService service.PaddleService
	logger        zerolog.Logger
}

func NewBillingHandler(paddleService service.PaddleService, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{paddleService: paddleService, logger: logger}
}

// RegisterRoutes mounts the provider webhook. Authentication is
// signature-based, not principal-based, so no auth middleware applies.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/billing/webhook", http.HandlerFunc(h.handleWebhook))
}

func (h *BillingHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	outcome, err := h.paddleService.ProcessWebhook(
		r.Context(), rawBody, r.Header.Get("Paddle-Signature"), r.RemoteAddr, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIPDenied):
			http.Error(w, "forbidden", http.StatusForbidden)
		case errors.Is(err, service.ErrAllowlistConfig):
			http.Error(w, "webhook misconfigured", http.StatusInternalServerError)
		case errors.Is(err, service.ErrBadWebhook):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error().Err(err).Msg("Billing webhook processing failed")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outcome)
}

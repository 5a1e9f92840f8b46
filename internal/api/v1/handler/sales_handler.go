package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type SalesHandler struct {
	salesService service.SalesService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewSalesHandler(salesService service.SalesService, v *validator.Validate, logger zerolog.Logger) *SalesHandler {
	return &SalesHandler{salesService: salesService, validate: v, logger: logger}
}

// RegisterRoutes mounts the sales routes. Contact requests require a
// confirmed email.
func (h *SalesHandler) RegisterRoutes(mux *http.ServeMux, confirmedMw func(http.Handler) http.Handler) {
	mux.Handle("/sales/contact-request", confirmedMw(http.HandlerFunc(h.submitContactRequest)))
}

func (h *SalesHandler) submitContactRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req dto.SalesContactRequestDTO
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeSalesError(w, http.StatusBadRequest, "invalid_payload", "Invalid request payload.")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeSalesError(w, http.StatusBadRequest, "invalid_payload", "Invalid request payload.")
		return
	}
	if err := req.Normalize(); err != nil {
		writeSalesError(w, http.StatusBadRequest, "invalid_payload", "Invalid request payload.")
		return
	}

	in := service.SalesContactInput{
		Source:          req.Source,
		Plan:            req.Plan,
		Quantity:        req.Quantity,
		ContactRequired: *req.ContactRequired,
		Page:            req.Page,
		RequestIP:       clientIP(r),
		UserAgent:       r.UserAgent(),
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	}

	result, err := h.salesService.Submit(r.Context(), principal, in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRateLimited):
			writeSalesError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later.")
		default:
			writeSalesError(w, http.StatusServiceUnavailable, "service_unavailable", "Could not record your request, please try again.")
		}
		return
	}

	message := "Sales request submitted."
	if result.Deduplicated {
		message = "Sales request already submitted."
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dto.SalesContactResponseDTO{
		OK:        true,
		RequestID: result.RequestID,
		Message:   message,
	})
}

func writeSalesError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponseDTO{OK: false, Error: code, Message: message})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

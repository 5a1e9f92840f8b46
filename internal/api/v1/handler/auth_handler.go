package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/identity"
	"app/internal/middleware"

	"github.com/rs/zerolog"
)

type AuthHandler struct {
	identity identity.Client
	logger   zerolog.Logger
}

func NewAuthHandler(idc identity.Client, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{identity: idc, logger: logger}
}

// RegisterRoutes mounts /auth/confirmed on the root mux; the endpoint reports
// confirmation state rather than enforcing it, so unconfirmed tokens pass.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, unconfirmedMw func(http.Handler) http.Handler) {
	mux.Handle("/auth/confirmed", unconfirmedMw(http.HandlerFunc(h.confirmedState)))
}

func (h *AuthHandler) confirmedState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	confirmed := principal.ClaimString("email_confirmed_at") != "" || principal.ClaimString("confirmed_at") != ""
	if !confirmed {
		u, err := h.identity.GetUser(r.Context(), principal.UserID)
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Identity lookup failed for confirmation state")
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
		confirmed = u.Confirmed()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dto.ConfirmedResponseDTO{
		OK:        true,
		UserID:    principal.UserID,
		Confirmed: confirmed,
	})
}

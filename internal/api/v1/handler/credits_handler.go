package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/repository"
	"app/internal/service"

	"github.com/rs/zerolog"
)

type CreditsHandler struct {
	bonusService service.BonusService
	grantRepo    repository.GrantRepository
	logger       zerolog.Logger
}

func NewCreditsHandler(bonusService service.BonusService, grantRepo repository.GrantRepository, logger zerolog.Logger) *CreditsHandler {
	return &CreditsHandler{bonusService: bonusService, grantRepo: grantRepo, logger: logger}
}

// RegisterRoutes mounts the credits routes. Bonus claims allow unconfirmed
// accounts; the confirmation rules live in the bonus service.
func (h *CreditsHandler) RegisterRoutes(mux *http.ServeMux, unconfirmedMw, confirmedMw func(http.Handler) http.Handler) {
	mux.Handle("/credits/signup-bonus", unconfirmedMw(http.HandlerFunc(h.claimSignupBonus)))
	mux.Handle("/credits/trial-bonus", unconfirmedMw(http.HandlerFunc(h.claimTrialBonus)))
	mux.Handle("/credits/grants", confirmedMw(http.HandlerFunc(h.listGrants)))
}

func (h *CreditsHandler) claimSignupBonus(w http.ResponseWriter, r *http.Request) {
	h.claimBonus(w, r, h.bonusService.ClaimSignupBonus)
}

func (h *CreditsHandler) claimTrialBonus(w http.ResponseWriter, r *http.Request) {
	h.claimBonus(w, r, h.bonusService.ClaimTrialBonus)
}

func (h *CreditsHandler) claimBonus(w http.ResponseWriter, r *http.Request, claim func(context.Context, *model.Principal) (*service.BonusResult, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := claim(r.Context(), principal)
	if err != nil {
		h.logger.Info().Err(err).Str("user_id", principal.UserID).Str("path", r.URL.Path).Msg("Bonus claim rejected")
		h.writeBonusError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *CreditsHandler) listGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var source *string
	if s := r.URL.Query().Get("source"); s != "" {
		source = &s
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	grants, err := h.grantRepo.ListGrants(r.Context(), principal.UserID, source, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Failed to list credit grants")
		writeSalesError(w, http.StatusServiceUnavailable, "service_unavailable", "Could not list credit grants.")
		return
	}

	out := dto.CreditGrantListDTO{OK: true, Grants: make([]dto.CreditGrantDTO, 0, len(grants))}
	for _, g := range grants {
		out.Grants = append(out.Grants, dto.CreditGrantDTO{
			Source:         g.Source,
			SourceID:       g.SourceID,
			CreditsGranted: g.CreditsGranted,
			TransactionID:  g.TransactionID,
			Amount:         g.Amount,
			Currency:       g.Currency,
			InvoiceNumber:  g.InvoiceNumber,
			PurchasedAt:    g.PurchasedAt,
			CreatedAt:      g.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *CreditsHandler) writeBonusError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrBonusNotConfigured):
		writeSalesError(w, http.StatusServiceUnavailable, "not_configured", "Bonus is not available.")
	case errors.Is(err, service.ErrBonusWindowElapsed):
		writeSalesError(w, http.StatusConflict, "window_elapsed", "The signup bonus eligibility window has elapsed.")
	case errors.Is(err, service.ErrEmailNotConfirmed):
		writeSalesError(w, http.StatusForbidden, "email_not_confirmed", "Please confirm your email address first.")
	default:
		writeSalesError(w, http.StatusServiceUnavailable, "service_unavailable", "Could not apply the bonus, please try again.")
	}
}

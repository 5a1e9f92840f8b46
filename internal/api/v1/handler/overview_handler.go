package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"app/internal/middleware"
	"app/internal/repository"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// overviewUpstreamTimeout bounds the upstream stats fetch so a slow
// verification service cannot block dashboard loads.
const overviewUpstreamTimeout = 3 * time.Second

type OverviewHandler struct {
	verifyClient service.VerifyClient
	billingRepo  repository.BillingRepository
	logger       zerolog.Logger
}

func NewOverviewHandler(verifyClient service.VerifyClient, billingRepo repository.BillingRepository, logger zerolog.Logger) *OverviewHandler {
	return &OverviewHandler{verifyClient: verifyClient, billingRepo: billingRepo, logger: logger}
}

func (h *OverviewHandler) RegisterRoutes(mux *http.ServeMux, confirmedMw func(http.Handler) http.Handler) {
	mux.Handle("/overview", confirmedMw(http.HandlerFunc(h.getOverview)))
}

type overviewResponse struct {
	OK            bool            `json:"ok"`
	CreditBalance int64           `json:"credit_balance"`
	Stats         json.RawMessage `json:"stats,omitempty"`
	StatsSource   string          `json:"stats_source"`
}

// getOverview merges the credit balance with upstream usage stats. When the
// upstream fetch misses its deadline the response degrades to the locally
// available summary instead of failing the dashboard load.
func (h *OverviewHandler) getOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.billingRepo.GetBalance(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Failed to fetch credit balance")
		writeSalesError(w, http.StatusServiceUnavailable, "service_unavailable", "Could not load overview.")
		return
	}

	resp := overviewResponse{OK: true, CreditBalance: balance, StatsSource: "local"}

	ctx, cancel := context.WithTimeout(r.Context(), overviewUpstreamTimeout)
	defer cancel()
	body, status, err := h.verifyClient.ProxyGet(ctx, principal.RawToken, "/stats/overview")
	if err == nil && status == http.StatusOK && json.Valid(body) {
		resp.Stats = body
		resp.StatsSource = "upstream"
	} else if err != nil {
		h.logger.Warn().Err(err).Str("user_id", principal.UserID).Msg("Upstream overview stats unavailable, serving local summary")
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

package middleware

import (
	"context"
	"net/http"

	"app/internal/auth"
	"app/internal/identity"
	"app/internal/model"

	"github.com/rs/zerolog"
)

// Injected key type to avoid context collisions
type contextKey string

const PrincipalContextKey = contextKey("principal")

// PrincipalFromContext returns the request principal, or nil for routes using
// the Optional variant without a token.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(PrincipalContextKey).(*model.Principal)
	return p
}

// Authenticator builds the authenticated request pipeline: token extraction
// and verification, role derivation (including the developer-header override),
// and email-confirmation enforcement.
type Authenticator struct {
	verifier     *auth.Verifier
	identity     identity.Client
	devHeaderKey string
	devTokens    map[string]struct{}
	logger       zerolog.Logger
}

func NewAuthenticator(verifier *auth.Verifier, idc identity.Client, devHeaderKey string, devTokens []string, logger zerolog.Logger) *Authenticator {
	tokens := make(map[string]struct{}, len(devTokens))
	for _, t := range devTokens {
		if t != "" {
			tokens[t] = struct{}{}
		}
	}
	return &Authenticator{
		verifier:     verifier,
		identity:     idc,
		devHeaderKey: devHeaderKey,
		devTokens:    tokens,
		logger:       logger.With().Str("middleware", "auth").Logger(),
	}
}

// RequireConfirmed verifies the token and enforces email confirmation.
func (a *Authenticator) RequireConfirmed(next http.Handler) http.Handler {
	return a.wrap(next, true, false)
}

// AllowUnconfirmed verifies the token but skips the confirmation gate.
func (a *Authenticator) AllowUnconfirmed(next http.Handler) http.Handler {
	return a.wrap(next, false, false)
}

// Optional tolerates a missing token; a present token must still verify.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return a.wrap(next, false, true)
}

func (a *Authenticator) wrap(next http.Handler, requireConfirmed, optional bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.verifier.ExtractToken(r)
		if token == "" && optional {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Token verification failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if a.devHeaderKey != "" {
			if v := r.Header.Get(a.devHeaderKey); v != "" {
				if _, ok := a.devTokens[v]; ok {
					principal.Role = model.RoleAdmin
				}
			}
		}

		if requireConfirmed {
			confirmed, err := a.emailConfirmed(r.Context(), principal)
			if err != nil {
				a.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Identity lookup failed during confirmation check")
				http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !confirmed {
				a.logger.Info().Str("user_id", principal.UserID).Msg("Rejected unconfirmed account")
				http.Error(w, "Please confirm your email address", http.StatusForbidden)
				return
			}
		}

		ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// emailConfirmed checks claim evidence first and falls back to a single
// identity lookup. Lookup errors surface rather than being treated as
// confirmation.
func (a *Authenticator) emailConfirmed(ctx context.Context, p *model.Principal) (bool, error) {
	if p.ClaimString("email_confirmed_at") != "" || p.ClaimString("confirmed_at") != "" {
		return true, nil
	}
	u, err := a.identity.GetUser(ctx, p.UserID)
	if err != nil {
		return false, err
	}
	return u.Confirmed(), nil
}

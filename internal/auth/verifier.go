package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"app/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// requiredAudience is the audience the identity provider stamps on end-user
// access tokens.
const requiredAudience = "authenticated"

var ErrUnauthorized = errors.New("unauthorized")

// Verifier validates bearer tokens issued by the identity provider. Symmetric
// HS256 verification against the shared secret is tried first; on failure the
// token's kid is resolved against the provider's rotating JWKS and the token
// is re-verified as RS256.
type Verifier struct {
	secret     []byte
	jwks       *JWKSCache
	cookieName string
	logger     zerolog.Logger
}

func NewVerifier(secret, cookieName string, jwks *JWKSCache, logger zerolog.Logger) *Verifier {
	return &Verifier{
		secret:     []byte(secret),
		jwks:       jwks,
		cookieName: cookieName,
		logger:     logger.With().Str("service", "TokenVerifier").Logger(),
	}
}

// ExtractToken pulls the bearer token from the Authorization header, falling
// back to the configured auth cookie.
func (v *Verifier) ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// Verify checks the token and materializes a Principal. Any verification
// failure, including a JWKS fetch failure, maps to ErrUnauthorized because the
// token could not be proven valid.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*model.Principal, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	_, hsErr := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v (expected HMAC)", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(requiredAudience))

	if hsErr != nil {
		claims = jwt.MapClaims{}
		if err := v.verifyRS256(ctx, tokenString, claims); err != nil {
			v.logger.Debug().AnErr("hs256_error", hsErr).AnErr("rs256_error", err).Msg("Token failed both verification paths")
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}

	userID := claimString(claims, "sub")
	if userID == "" {
		userID = claimString(claims, "user_id")
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token missing subject", ErrUnauthorized)
	}

	return &model.Principal{
		UserID:   userID,
		Claims:   claims,
		RawToken: tokenString,
		Role:     v.deriveRole(userID, claims),
	}, nil
}

func (v *Verifier) verifyRS256(ctx context.Context, tokenString string, claims jwt.MapClaims) error {
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("parsing token header: %w", err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return fmt.Errorf("token header missing kid")
	}

	key, err := v.jwks.RSAKey(ctx, kid)
	if err != nil {
		return err
	}

	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v (expected RSA)", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithAudience(requiredAudience))
	return err
}

// deriveRole prefers app_metadata.role over the top-level role claim. Only the
// literal "admin" promotes; other explicit values are logged and demoted.
func (v *Verifier) deriveRole(userID string, claims jwt.MapClaims) string {
	claimed := ""
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if s, ok := meta["role"].(string); ok && s != "" {
			claimed = s
		}
	}
	if claimed == "" {
		claimed = claimString(claims, "role")
	}
	switch claimed {
	case "", model.RoleUser:
		return model.RoleUser
	case model.RoleAdmin:
		return model.RoleAdmin
	default:
		v.logger.Warn().Str("user_id", userID).Str("claimed_role", claimed).Msg("Unrecognized role claim, treating as user")
		return model.RoleUser
	}
}

func claimString(claims jwt.MapClaims, name string) string {
	if s, ok := claims[name].(string); ok {
		return s
	}
	return ""
}

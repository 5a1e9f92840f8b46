package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"app/internal/model"
)

const testSecret = "super-secret-signing-key"

func hs256Token(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = "authenticated"
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func rs256Token(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = "authenticated"
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// jwksServer serves a single-key JWKS document for the given RSA key.
func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	doc := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/jwks.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVerifier(t *testing.T, jwksBaseURL string) *Verifier {
	t.Helper()
	var jwks *JWKSCache
	if jwksBaseURL != "" {
		jwks = NewJWKSCache(jwksBaseURL)
	} else {
		jwks = NewJWKSCache("http://127.0.0.1:0")
	}
	return NewVerifier(testSecret, "sb-access-token", jwks, zerolog.Nop())
}

func TestVerifyHS256(t *testing.T) {
	v := newTestVerifier(t, "")

	t.Run("valid token", func(t *testing.T) {
		token := hs256Token(t, testSecret, jwt.MapClaims{"sub": "user-1", "email": "u@example.com"})
		p, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", p.UserID)
		assert.Equal(t, model.RoleUser, p.Role)
		assert.Equal(t, token, p.RawToken)
		assert.Equal(t, "u@example.com", p.ClaimString("email"))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token := hs256Token(t, "some-other-secret", jwt.MapClaims{"sub": "user-1"})
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := hs256Token(t, testSecret, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong audience rejected", func(t *testing.T) {
		token := hs256Token(t, testSecret, jwt.MapClaims{"sub": "user-1", "aud": "service_role"})
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing subject rejected", func(t *testing.T) {
		token := hs256Token(t, testSecret, jwt.MapClaims{"email": "u@example.com"})
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("user_id claim substitutes for sub", func(t *testing.T) {
		token := hs256Token(t, testSecret, jwt.MapClaims{"user_id": "user-2"})
		p, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user-2", p.UserID)
	})

	t.Run("empty token rejected", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "not.a.jwt")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestVerifyRS256Fallback(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "kid-1")
	v := newTestVerifier(t, srv.URL)

	t.Run("provider-signed token verifies via JWKS", func(t *testing.T) {
		token := rs256Token(t, key, "kid-1", jwt.MapClaims{"sub": "user-1"})
		p, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", p.UserID)
	})

	t.Run("unknown kid rejected", func(t *testing.T) {
		token := rs256Token(t, key, "kid-rotated-away", jwt.MapClaims{"sub": "user-1"})
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("token signed by a different key rejected", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		token := rs256Token(t, other, "kid-1", jwt.MapClaims{"sub": "user-1"})
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("jwks endpoint down maps to unauthorized", func(t *testing.T) {
		down := newTestVerifier(t, "")
		token := rs256Token(t, key, "kid-1", jwt.MapClaims{"sub": "user-1"})
		_, err := down.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestDeriveRole(t *testing.T) {
	v := newTestVerifier(t, "")

	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"no role claim", jwt.MapClaims{"sub": "u"}, model.RoleUser},
		{"top-level admin", jwt.MapClaims{"sub": "u", "role": "admin"}, model.RoleAdmin},
		{"app_metadata admin", jwt.MapClaims{"sub": "u", "app_metadata": map[string]interface{}{"role": "admin"}}, model.RoleAdmin},
		{"app_metadata wins over top-level", jwt.MapClaims{"sub": "u", "role": "admin", "app_metadata": map[string]interface{}{"role": "user"}}, model.RoleUser},
		{"unrecognized role demoted", jwt.MapClaims{"sub": "u", "role": "superuser"}, model.RoleUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := v.Verify(context.Background(), hs256Token(t, testSecret, tc.claims))
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Role)
		})
	}
}

func TestExtractToken(t *testing.T) {
	v := newTestVerifier(t, "")

	t.Run("authorization header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		assert.Equal(t, "abc123", v.ExtractToken(r))
	})

	t.Run("case-insensitive scheme", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "bearer abc123")
		assert.Equal(t, "abc123", v.ExtractToken(r))
	})

	t.Run("cookie fallback", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "cookie-token"})
		assert.Equal(t, "cookie-token", v.ExtractToken(r))
	})

	t.Run("header wins over cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer header-token")
		r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "cookie-token"})
		assert.Equal(t, "header-token", v.ExtractToken(r))
	})

	t.Run("non-bearer scheme ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, v.ExtractToken(r))
	})

	t.Run("nothing present", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Empty(t, v.ExtractToken(r))
	})
}

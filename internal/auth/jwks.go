package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	jwksCacheTTL     = 5 * time.Minute
	jwksFetchTimeout = 5 * time.Second
)

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache fetches the identity provider's JWKS and caches it for a fixed
// TTL. Readers get a materialized key, never a reference into the cache.
type JWKSCache struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	keys      []jwksKey
	expiresAt time.Time
}

func NewJWKSCache(identityBaseURL string) *JWKSCache {
	return &JWKSCache{
		url:    identityBaseURL + "/.well-known/jwks.json",
		client: &http.Client{Timeout: jwksFetchTimeout},
	}
}

// RSAKey returns the RSA public key with the given kid, refreshing the cached
// document when it has expired. A cold cache may fetch more than once under
// concurrency; writers only replace the key set after a successful fetch.
func (c *JWKSCache) RSAKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	keys := c.keys
	fresh := time.Now().Before(c.expiresAt)
	c.mu.Unlock()

	if !fresh {
		fetched, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = fetched
		c.expiresAt = time.Now().Add(jwksCacheTTL)
		c.mu.Unlock()
		keys = fetched
	}

	for _, k := range keys {
		if k.Kid == kid && k.Kty == "RSA" {
			return rsaPublicKey(k)
		}
	}
	return nil, fmt.Errorf("no RSA key with kid %q in JWKS", kid)
}

func (c *JWKSCache) fetch(ctx context.Context) ([]jwksKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}
	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}
	if len(doc.Keys) == 0 {
		return nil, fmt.Errorf("JWKS document contains no keys")
	}
	return doc.Keys, nil
}

func rsaPublicKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus for kid %q: %w", k.Kid, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent for kid %q: %w", k.Kid, err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, fmt.Errorf("invalid exponent for kid %q", k.Kid)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

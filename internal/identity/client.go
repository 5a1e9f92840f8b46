package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/model"

	"github.com/rs/zerolog"
)

// Client talks to the identity provider's admin API using the service-role
// key. It is the only component allowed to read account state directly.
type Client interface {
	GetUser(ctx context.Context, userID string) (*model.IdentityUser, error)
}

type client struct {
	baseURL        string
	serviceRoleKey string
	httpClient     *http.Client
	logger         zerolog.Logger
}

func NewClient(baseURL, serviceRoleKey string, logger zerolog.Logger) Client {
	return &client{
		baseURL:        baseURL,
		serviceRoleKey: serviceRoleKey,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		logger:         logger.With().Str("service", "IdentityClient").Logger(),
	}
}

func (c *client) GetUser(ctx context.Context, userID string) (*model.IdentityUser, error) {
	url := fmt.Sprintf("%s/auth/v1/admin/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating identity request: %w", err)
	}
	req.Header.Set("apikey", c.serviceRoleKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling identity service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error().Int("status_code", resp.StatusCode).Str("body", string(body)).Str("user_id", userID).Msg("Identity service returned error")
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var u model.IdentityUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decoding identity user: %w", err)
	}
	return &u, nil
}

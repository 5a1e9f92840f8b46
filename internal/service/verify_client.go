package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"app/internal/model"

	"github.com/rs/zerolog"
)

// VerifyClient is the thin wrapper around the external email-verification
// REST API. User-scoped calls forward the caller's bearer token; the upload
// notifier uses the admin key instead, since task-detail reads there run
// outside any end-user request.
type VerifyClient interface {
	GetTaskDetailAsAdmin(ctx context.Context, taskID string) (*model.TaskDetail, error)
	UploadFile(ctx context.Context, userToken, filename string, file io.Reader, size int64, contentType string) ([]byte, int, error)
	ProxyGet(ctx context.Context, userToken, path string) ([]byte, int, error)
	ProxyPost(ctx context.Context, userToken, path string, body []byte) ([]byte, int, error)
}

type verifyClient struct {
	baseURL     string
	adminAPIKey string
	client      *http.Client
	logger      zerolog.Logger
}

func NewVerifyClient(baseURL, adminAPIKey string, timeout time.Duration, logger zerolog.Logger) VerifyClient {
	return &verifyClient{
		baseURL:     baseURL,
		adminAPIKey: adminAPIKey,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With().Str("service", "VerifyClient").Logger(),
	}
}

func (c *verifyClient) GetTaskDetailAsAdmin(ctx context.Context, taskID string) (*model.TaskDetail, error) {
	url := fmt.Sprintf("%s/tasks/%s", c.baseURL, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating task detail request: %w", err)
	}
	req.Header.Set("X-API-Key", c.adminAPIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling verification service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error().Int("status_code", resp.StatusCode).Str("task_id", taskID).Str("body", string(body)).Msg("Verification service returned error for task detail")
		return nil, fmt.Errorf("verification service returned status %d", resp.StatusCode)
	}

	var detail model.TaskDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decoding task detail: %w", err)
	}
	return &detail, nil
}

func (c *verifyClient) UploadFile(ctx context.Context, userToken, filename string, file io.Reader, size int64, contentType string) ([]byte, int, error) {
	url := fmt.Sprintf("%s/tasks/upload?filename=%s", c.baseURL, neturl.QueryEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, file)
	if err != nil {
		return nil, 0, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("uploading to verification service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading upload response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *verifyClient) ProxyPost(ctx context.Context, userToken, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating proxy request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling verification service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading proxy response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *verifyClient) ProxyGet(ctx context.Context, userToken, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating proxy request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling verification service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading proxy response: %w", err)
	}
	return body, resp.StatusCode, nil
}

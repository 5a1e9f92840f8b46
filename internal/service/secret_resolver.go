package service

import (
	"context"
	"fmt"

	"app/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// ResolveSecrets replaces secret-bearing settings with values fetched from
// Secret Manager when the corresponding *_SECRET_NAME settings are present.
// Deployments that inject literal secrets through the environment skip this
// entirely.
func ResolveSecrets(ctx context.Context, cfg *config.Config, opts ...option.ClientOption) error {
	if cfg.SMTPPasswordSecret == "" && cfg.PaddleWebhookSecretSM == "" {
		return nil
	}
	if cfg.GCPProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is required when secret names are configured")
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if cfg.SMTPPasswordSecret != "" {
		v, err := accessSecret(ctx, client, cfg.GCPProjectID, cfg.SMTPPasswordSecret)
		if err != nil {
			return err
		}
		cfg.SMTPPassword = v
	}
	if cfg.PaddleWebhookSecretSM != "" {
		v, err := accessSecret(ctx, client, cfg.GCPProjectID, cfg.PaddleWebhookSecretSM)
		if err != nil {
			return err
		}
		cfg.PaddleWebhookSecret = v
	}
	return nil
}

func accessSecret(ctx context.Context, client *secretmanager.Client, projectID, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}

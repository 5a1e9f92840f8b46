package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`

	// External email-verification service.
	VerifyAPIBaseURL    string `envconfig:"VERIFY_API_BASE_URL" required:"true"`
	VerifyAdminAPIKey   string `envconfig:"VERIFY_ADMIN_API_KEY" required:"true"`
	VerifyTimeoutSec    int    `envconfig:"VERIFY_TIMEOUT_SEC" default:"30"`
	UploadMaxSizeMB     int64  `envconfig:"UPLOAD_MAX_SIZE_MB" default:"25"`
	ManualVerifyMaxRows int    `envconfig:"MANUAL_VERIFY_MAX_ROWS" default:"100"`

	// Identity provider (Supabase-compatible auth service).
	IdentityBaseURL   string   `envconfig:"IDENTITY_BASE_URL" required:"true"`
	JWTSecret         string   `envconfig:"IDENTITY_JWT_SECRET" required:"true"`
	ServiceRoleKey    string   `envconfig:"IDENTITY_SERVICE_ROLE_KEY" required:"true"`
	AuthCookieName    string   `envconfig:"AUTH_COOKIE_NAME" default:"sb-access-token"`
	DevAdminHeaderKey string   `envconfig:"DEV_ADMIN_HEADER_KEY" default:"X-Dev-Admin"`
	DevAdminTokens    []string `envconfig:"DEV_ADMIN_TOKENS"`

	// Sales contact rate limiting (sliding window, per process).
	SalesContactUserLimit int `envconfig:"SALES_CONTACT_USER_LIMIT" default:"5"`
	SalesContactIPLimit   int `envconfig:"SALES_CONTACT_IP_LIMIT" default:"20"`
	SalesContactWindowSec int `envconfig:"SALES_CONTACT_WINDOW_SEC" default:"3600"`

	// Signup / trial bonuses. The signup bonus endpoint is disabled unless the
	// credits and age-window settings are both present.
	SignupBonusCredits          int  `envconfig:"SIGNUP_BONUS_CREDITS"`
	SignupBonusMaxAccountAgeSec int  `envconfig:"SIGNUP_BONUS_MAX_ACCOUNT_AGE_SECONDS"`
	SignupBonusRequireConfirmed bool `envconfig:"SIGNUP_BONUS_REQUIRE_EMAIL_CONFIRMED" default:"true"`
	FreeTrialCredits            int  `envconfig:"FREE_TRIAL_CREDITS"`

	// Paddle webhook verification.
	PaddleEnvironment     string   `envconfig:"PADDLE_ENVIRONMENT" default:"sandbox"`
	PaddleWebhookSecret   string   `envconfig:"PADDLE_WEBHOOK_SECRET" required:"true"`
	PaddleIPAllowlist     []string `envconfig:"PADDLE_IP_ALLOWLIST" required:"true"`
	PaddleMaxVarianceSec  int      `envconfig:"PADDLE_MAX_VARIANCE_SEC" default:"5"`
	PaddleTrustProxy      bool     `envconfig:"PADDLE_TRUST_PROXY"`
	PaddleForwardedHeader string   `envconfig:"PADDLE_FORWARDED_HEADER" default:"X-Forwarded-For"`
	PaddleForwardedFormat string   `envconfig:"PADDLE_FORWARDED_FORMAT" default:"x_forwarded_for"`
	PaddleProxyHops       int      `envconfig:"PADDLE_PROXY_HOPS" default:"1"`

	// Upload-completion notifier.
	TaskWebhookSecret    string `envconfig:"TASK_WEBHOOK_SECRET"`
	SMTPHost             string `envconfig:"SMTP_HOST" required:"true"`
	SMTPPort             int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername         string `envconfig:"SMTP_USERNAME" required:"true"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	SMTPSender           string `envconfig:"SMTP_SENDER" required:"true"`
	SMTPStartTLSRequired bool   `envconfig:"SMTP_STARTTLS_REQUIRED" default:"true"`
	UploadDoneSubject    string `envconfig:"UPLOAD_DONE_SUBJECT" required:"true"`
	UploadDoneBody       string `envconfig:"UPLOAD_DONE_BODY" required:"true"`

	// Optional Secret Manager indirection. When set, the named secret versions
	// are resolved at startup and replace the literal values above.
	GCPProjectID          string `envconfig:"GCP_PROJECT_ID"`
	SMTPPasswordSecret    string `envconfig:"SMTP_PASSWORD_SECRET_NAME"`
	PaddleWebhookSecretSM string `envconfig:"PADDLE_WEBHOOK_SECRET_NAME"`

	// Object storage for raw upload archival.
	S3URL       string `envconfig:"S3_URL" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"S3_REGION" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.PaddleEnvironment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("PADDLE_ENVIRONMENT must be sandbox or production, got %q", c.PaddleEnvironment)
	}
	switch c.PaddleForwardedFormat {
	case "x_forwarded_for", "forwarded":
	default:
		return fmt.Errorf("PADDLE_FORWARDED_FORMAT must be x_forwarded_for or forwarded, got %q", c.PaddleForwardedFormat)
	}
	if c.PaddleTrustProxy && c.PaddleProxyHops < 1 {
		return fmt.Errorf("PADDLE_PROXY_HOPS must be >= 1 when PADDLE_TRUST_PROXY is set")
	}
	if c.PaddleMaxVarianceSec < 0 {
		return fmt.Errorf("PADDLE_MAX_VARIANCE_SEC must be >= 0")
	}
	if c.SalesContactUserLimit < 1 || c.SalesContactIPLimit < 1 || c.SalesContactWindowSec < 1 {
		return fmt.Errorf("sales contact rate limit settings must all be >= 1")
	}
	c.IdentityBaseURL = strings.TrimSuffix(c.IdentityBaseURL, "/")
	c.VerifyAPIBaseURL = strings.TrimSuffix(c.VerifyAPIBaseURL, "/")
	return nil
}

// SignupBonusEnabled reports whether the signup bonus endpoint is configured.
func (c *Config) SignupBonusEnabled() bool {
	return c.SignupBonusCredits > 0 && c.SignupBonusMaxAccountAgeSec > 0
}

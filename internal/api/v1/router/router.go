package router

import (
	"context"
	"net/http"
	"time"

	"app/internal/api/v1/handler"
	"app/internal/auth"
	"app/internal/config"
	"app/internal/identity"
	"app/internal/mailer"
	"app/internal/middleware"
	"app/internal/ratelimit"
	"app/internal/repository"
	"app/internal/service"
	"app/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	ctx := context.Background()

	// 1. Open DB connection pool
	pool, err := pgxpool.New(ctx, cfg.DBConnectionString)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DB pool")
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Initialize S3 client for upload archival
	s3Config, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load S3 config")
		return nil, nil, err
	}
	s3Client := s3.NewFromConfig(s3Config, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	})

	// 3. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 4. Initialize collaborator clients
	identityClient := identity.NewClient(cfg.IdentityBaseURL, cfg.ServiceRoleKey, logger)
	verifyClient := service.NewVerifyClient(cfg.VerifyAPIBaseURL, cfg.VerifyAdminAPIKey,
		time.Duration(cfg.VerifyTimeoutSec)*time.Second, logger)
	jwksCache := auth.NewJWKSCache(cfg.IdentityBaseURL)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.AuthCookieName, jwksCache, logger)
	smtpMailer := mailer.New(mailer.Config{
		Host:             cfg.SMTPHost,
		Port:             cfg.SMTPPort,
		Username:         cfg.SMTPUsername,
		Password:         cfg.SMTPPassword,
		Sender:           cfg.SMTPSender,
		StartTLSRequired: cfg.SMTPStartTLSRequired,
	}, logger)
	archiver := storage.NewS3Archiver(s3Client, cfg.S3Bucket, logger)

	// 5. Initialize repositories & services & handlers
	userRepo := repository.NewUserRepo(pool)
	salesRepo := repository.NewSalesRepo(pool)
	billingRepo := repository.NewBillingRepo(pool)
	grantRepo := repository.NewGrantRepo(pool)

	limiter := ratelimit.New()
	salesSvc := service.NewSalesService(salesRepo, userRepo, identityClient, limiter, service.SalesRateConfig{
		UserLimit: cfg.SalesContactUserLimit,
		IPLimit:   cfg.SalesContactIPLimit,
		Window:    time.Duration(cfg.SalesContactWindowSec) * time.Second,
	}, logger)
	paddleSvc := service.NewPaddleService(service.PaddleConfig{
		Environment:     cfg.PaddleEnvironment,
		WebhookSecret:   cfg.PaddleWebhookSecret,
		IPAllowlist:     cfg.PaddleIPAllowlist,
		MaxVariance:     time.Duration(cfg.PaddleMaxVarianceSec) * time.Second,
		TrustProxy:      cfg.PaddleTrustProxy,
		ForwardedHeader: cfg.PaddleForwardedHeader,
		ForwardedFormat: cfg.PaddleForwardedFormat,
		ProxyHops:       cfg.PaddleProxyHops,
	}, billingRepo, grantRepo, logger)
	bonusSvc := service.NewBonusService(service.BonusConfig{
		SignupCredits:          int64(cfg.SignupBonusCredits),
		SignupMaxAccountAge:    time.Duration(cfg.SignupBonusMaxAccountAgeSec) * time.Second,
		SignupRequireConfirmed: cfg.SignupBonusRequireConfirmed,
		SignupEnabled:          cfg.SignupBonusEnabled(),
		TrialCredits:           int64(cfg.FreeTrialCredits),
	}, grantRepo, billingRepo, identityClient, logger)
	notifySvc := service.NewNotifyService(verifyClient, billingRepo, userRepo, identityClient, smtpMailer, service.NotifyTemplates{
		Subject: cfg.UploadDoneSubject,
		Body:    cfg.UploadDoneBody,
	}, logger)

	authHandler := handler.NewAuthHandler(identityClient, logger)
	salesHandler := handler.NewSalesHandler(salesSvc, validate, logger)
	creditsHandler := handler.NewCreditsHandler(bonusSvc, grantRepo, logger)
	billingHandler := handler.NewBillingHandler(paddleSvc, logger)
	overviewHandler := handler.NewOverviewHandler(verifyClient, billingRepo, logger)
	tasksHandler := handler.NewTasksHandler(verifyClient, notifySvc, archiver, cfg.TaskWebhookSecret, cfg.UploadMaxSizeMB, cfg.ManualVerifyMaxRows, logger)

	// 6. Initialize middleware
	authn := middleware.NewAuthenticator(verifier, identityClient, cfg.DevAdminHeaderKey, cfg.DevAdminTokens, logger)

	// 7. Create ServeMux router
	mux := http.NewServeMux()

	apiMux := http.NewServeMux()
	salesHandler.RegisterRoutes(apiMux, authn.RequireConfirmed)
	creditsHandler.RegisterRoutes(apiMux, authn.AllowUnconfirmed, authn.RequireConfirmed)
	billingHandler.RegisterRoutes(apiMux)
	tasksHandler.RegisterRoutes(apiMux, authn.RequireConfirmed)
	overviewHandler.RegisterRoutes(apiMux, authn.RequireConfirmed)
	mux.Handle("/api/", http.StripPrefix("/api", apiMux))

	authHandler.RegisterRoutes(mux, authn.AllowUnconfirmed)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// 8. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux)), pool, nil
}

// removeDisableGzip is a workaround for S3 signature errors with some
// S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}

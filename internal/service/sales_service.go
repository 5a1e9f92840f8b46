package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"app/internal/identity"
	"app/internal/model"
	"app/internal/ratelimit"
	"app/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrPersistence = errors.New("persistence failure")
)

const (
	idempotencyKeyMaxLen = 128
	userAgentMaxLen      = 512
)

// SalesRateConfig carries the two-bucket sliding-window limits.
type SalesRateConfig struct {
	UserLimit int
	IPLimit   int
	Window    time.Duration
}

type SalesContactInput struct {
	Source          string
	Plan            string
	Quantity        int64
	ContactRequired bool
	Page            string
	RequestIP       string
	UserAgent       string
	IdempotencyKey  string
}

type SalesContactResult struct {
	RequestID    string
	Deduplicated bool
}

type SalesService interface {
	Submit(ctx context.Context, principal *model.Principal, in SalesContactInput) (*SalesContactResult, error)
}

type salesService struct {
	salesRepo repository.SalesRepository
	userRepo  repository.UserRepository
	identity  identity.Client
	limiter   *ratelimit.Limiter
	rate      SalesRateConfig
	logger    zerolog.Logger
}

func NewSalesService(salesRepo repository.SalesRepository, userRepo repository.UserRepository, idc identity.Client, limiter *ratelimit.Limiter, rate SalesRateConfig, logger zerolog.Logger) SalesService {
	return &salesService{
		salesRepo: salesRepo,
		userRepo:  userRepo,
		identity:  idc,
		limiter:   limiter,
		rate:      rate,
		logger:    logger.With().Str("service", "SalesService").Logger(),
	}
}

func (s *salesService) Submit(ctx context.Context, principal *model.Principal, in SalesContactInput) (*SalesContactResult, error) {
	userBucket := "sales_contact:user:" + principal.UserID
	if !s.limiter.Allow(userBucket, s.rate.UserLimit, s.rate.Window) {
		s.logger.Info().Str("user_id", principal.UserID).Str("bucket", userBucket).Msg("Sales contact denied by user rate limit")
		return nil, ErrRateLimited
	}

	ip := in.RequestIP
	if ip == "" {
		ip = "unknown"
	}
	ipBucket := "sales_contact:ip:" + ip
	if !s.limiter.Allow(ipBucket, s.rate.IPLimit, s.rate.Window) {
		s.logger.Info().Str("user_id", principal.UserID).Str("bucket", ipBucket).Msg("Sales contact denied by IP rate limit")
		return nil, ErrRateLimited
	}

	email := s.resolveAccountEmail(ctx, principal)
	key := normalizeIdempotencyKey(in.IdempotencyKey)

	req := &model.SalesContactRequest{
		RequestID:       contactRequestID(principal.UserID, key),
		UserID:          principal.UserID,
		AccountEmail:    email,
		Source:          in.Source,
		Plan:            in.Plan,
		Quantity:        in.Quantity,
		ContactRequired: in.ContactRequired,
		Page:            in.Page,
		IdempotencyKey:  key,
	}
	if in.RequestIP != "" {
		req.RequestIP = &in.RequestIP
	}
	if ua := truncate(in.UserAgent, userAgentMaxLen); ua != "" {
		req.UserAgent = &ua
	}

	requestID, deduplicated, err := s.salesRepo.InsertContactRequest(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Failed to persist sales contact request")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info().
		Str("user_id", principal.UserID).
		Str("request_id", requestID).
		Bool("deduplicated", deduplicated).
		Str("plan", in.Plan).
		Int64("quantity", in.Quantity).
		Msg("Sales contact request recorded")
	return &SalesContactResult{RequestID: requestID, Deduplicated: deduplicated}, nil
}

// resolveAccountEmail prefers the profile row, then the token's email claim,
// then a fresh identity lookup. Lookup failures downgrade to "no email"; the
// request still persists.
func (s *salesService) resolveAccountEmail(ctx context.Context, principal *model.Principal) *string {
	if profile, err := s.userRepo.GetProfile(ctx, principal.UserID); err == nil {
		if profile != nil && profile.Email != "" {
			return &profile.Email
		}
	} else {
		s.logger.Warn().Err(err).Str("user_id", principal.UserID).Msg("Profile lookup failed while resolving account email")
	}

	if claim := principal.ClaimString("email"); claim != "" {
		return &claim
	}

	u, err := s.identity.GetUser(ctx, principal.UserID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", principal.UserID).Msg("Identity lookup failed while resolving account email")
		return nil
	}
	if u != nil && u.Email != "" {
		return &u.Email
	}
	return nil
}

func normalizeIdempotencyKey(raw string) *string {
	key := truncate(strings.TrimSpace(raw), idempotencyKeyMaxLen)
	if key == "" {
		return nil
	}
	return &key
}

// contactRequestID is deterministic when an idempotency key is present, so
// two racing inserts compute the same id before reaching the store.
func contactRequestID(userID string, idempotencyKey *string) string {
	if idempotencyKey != nil {
		sum := sha256.Sum256([]byte(userID + ":" + *idempotencyKey))
		return "salesreq_" + hex.EncodeToString(sum[:])[:24]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "salesreq_" + random[:24]
}

// truncate caps s at max bytes without splitting a rune; a multi-byte rune
// straddling the boundary is dropped whole so the result stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

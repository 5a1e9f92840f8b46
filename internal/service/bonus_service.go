package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/identity"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

var (
	ErrBonusNotConfigured = errors.New("bonus not configured")
	ErrBonusWindowElapsed = errors.New("eligibility window elapsed")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrIdentityLookup     = errors.New("identity lookup failed")
)

// Bonus claim statuses.
const (
	BonusStatusApplied   = "applied"
	BonusStatusDuplicate = "duplicate"
)

type BonusConfig struct {
	SignupCredits          int64
	SignupMaxAccountAge    time.Duration
	SignupRequireConfirmed bool
	SignupEnabled          bool
	TrialCredits           int64
}

type BonusResult struct {
	Status         string `json:"status"`
	CreditsGranted int64  `json:"credits_granted"`
}

type BonusService interface {
	ClaimSignupBonus(ctx context.Context, principal *model.Principal) (*BonusResult, error)
	ClaimTrialBonus(ctx context.Context, principal *model.Principal) (*BonusResult, error)
}

type bonusService struct {
	cfg         BonusConfig
	grantRepo   repository.GrantRepository
	billingRepo repository.BillingRepository
	identity    identity.Client
	now         func() time.Time
	logger      zerolog.Logger
}

func NewBonusService(cfg BonusConfig, grantRepo repository.GrantRepository, billingRepo repository.BillingRepository, idc identity.Client, logger zerolog.Logger) BonusService {
	return &bonusService{
		cfg:         cfg,
		grantRepo:   grantRepo,
		billingRepo: billingRepo,
		identity:    idc,
		now:         time.Now,
		logger:      logger.With().Str("service", "BonusService").Logger(),
	}
}

func (s *bonusService) ClaimSignupBonus(ctx context.Context, principal *model.Principal) (*BonusResult, error) {
	if !s.cfg.SignupEnabled || s.cfg.SignupCredits <= 0 || s.cfg.SignupMaxAccountAge <= 0 {
		return nil, ErrBonusNotConfigured
	}

	user, err := s.identity.GetUser(ctx, principal.UserID)
	if err != nil || user == nil {
		s.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Identity lookup failed for signup bonus")
		return nil, ErrIdentityLookup
	}
	createdAt, err := time.Parse(time.RFC3339, user.CreatedAt)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", principal.UserID).Str("created_at", user.CreatedAt).Msg("Identity user has unparsable created_at")
		return nil, ErrIdentityLookup
	}

	age := s.now().Sub(createdAt)
	if age < 0 {
		age = 0
	}
	if age > s.cfg.SignupMaxAccountAge {
		s.logger.Info().Str("user_id", principal.UserID).Dur("account_age", age).Msg("Signup bonus window elapsed")
		return nil, ErrBonusWindowElapsed
	}

	if s.cfg.SignupRequireConfirmed && !s.confirmed(principal, user) {
		return nil, ErrEmailNotConfirmed
	}

	return s.applyGrant(ctx, principal.UserID, model.GrantSourceSignup, s.cfg.SignupCredits)
}

func (s *bonusService) ClaimTrialBonus(ctx context.Context, principal *model.Principal) (*BonusResult, error) {
	if s.cfg.TrialCredits <= 0 {
		return nil, ErrBonusNotConfigured
	}

	if !s.claimConfirmed(principal) {
		user, err := s.identity.GetUser(ctx, principal.UserID)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Identity lookup failed for trial bonus")
			return nil, ErrIdentityLookup
		}
		if !user.Confirmed() {
			return nil, ErrEmailNotConfirmed
		}
	}

	return s.applyGrant(ctx, principal.UserID, model.GrantSourceTrial, s.cfg.TrialCredits)
}

// applyGrant enforces the single-grant guarantee through the credit grant
// store's (user_id, source, source_id) key with source_id = user_id.
func (s *bonusService) applyGrant(ctx context.Context, userID, source string, credits int64) (*BonusResult, error) {
	existing, err := s.grantRepo.GetGrant(ctx, userID, source, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if existing != nil {
		return &BonusResult{Status: BonusStatusDuplicate, CreditsGranted: existing.CreditsGranted}, nil
	}

	inserted, err := s.grantRepo.UpsertCreditGrant(ctx, &model.CreditGrant{
		UserID:         userID,
		Source:         source,
		SourceID:       userID,
		CreditsGranted: credits,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !inserted {
		// Lost a race with a concurrent claim; the winner's grant stands.
		if existing, err := s.grantRepo.GetGrant(ctx, userID, source, userID); err == nil && existing != nil {
			return &BonusResult{Status: BonusStatusDuplicate, CreditsGranted: existing.CreditsGranted}, nil
		}
		return &BonusResult{Status: BonusStatusDuplicate, CreditsGranted: credits}, nil
	}

	if err := s.billingRepo.AddCredits(ctx, userID, credits); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("source", source).Int64("credits", credits).Msg("Failed to add bonus credits to balance")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info().Str("user_id", userID).Str("source", source).Int64("credits", credits).Msg("Bonus credits applied")
	return &BonusResult{Status: BonusStatusApplied, CreditsGranted: credits}, nil
}

func (s *bonusService) confirmed(principal *model.Principal, user *model.IdentityUser) bool {
	return s.claimConfirmed(principal) || user.Confirmed()
}

func (s *bonusService) claimConfirmed(principal *model.Principal) bool {
	return principal.ClaimString("email_confirmed_at") != "" || principal.ClaimString("confirmed_at") != ""
}

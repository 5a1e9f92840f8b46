package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"app/internal/identity"
	"app/internal/mailer"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// ErrUpstream maps to 503: the verification service could not serve the task
// detail needed to build the notification.
var ErrUpstream = errors.New("verification service unavailable")

// Reasons reported at 200 when a webhook is acknowledged without an email.
const (
	ReasonEventTypeNotSupported  = "event_type_not_supported"
	ReasonMissingTaskID          = "missing_task_id"
	ReasonInvalidPayload         = "invalid_completion_payload"
	ReasonTaskNotFileBacked      = "task_not_file_backed"
	ReasonOutcomeUnknown         = "outcome_unknown"
	ReasonMissingUserID          = "missing_user_id"
	ReasonMissingFileName        = "missing_file_name"
	ReasonMissingRecipient       = "missing_recipient_email"
	ReasonDuplicateOrNotRecorded = "duplicate_or_not_recorded"
	ReasonSMTPConfiguration      = "smtp_configuration_error"
)

// UploadWebhookInput is the decoded upload-completion webhook.
type UploadWebhookInput struct {
	EventType string
	TaskID    string
	Data      *model.UploadCompletionData
}

type NotifyResult struct {
	Processed bool   `json:"processed"`
	Reason    string `json:"reason,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

type NotifyTemplates struct {
	Subject string
	Body    string
}

type NotifyService interface {
	HandleUploadCompletion(ctx context.Context, in UploadWebhookInput) (*NotifyResult, error)
}

type notifyService struct {
	verify      VerifyClient
	billingRepo repository.BillingRepository
	userRepo    repository.UserRepository
	identity    identity.Client
	mail        mailer.Mailer
	templates   NotifyTemplates
	logger      zerolog.Logger
}

func NewNotifyService(verify VerifyClient, billingRepo repository.BillingRepository, userRepo repository.UserRepository, idc identity.Client, mail mailer.Mailer, templates NotifyTemplates, logger zerolog.Logger) NotifyService {
	return &notifyService{
		verify:      verify,
		billingRepo: billingRepo,
		userRepo:    userRepo,
		identity:    idc,
		mail:        mail,
		templates:   templates,
		logger:      logger.With().Str("service", "NotifyService").Logger(),
	}
}

func (s *notifyService) HandleUploadCompletion(ctx context.Context, in UploadWebhookInput) (*NotifyResult, error) {
	if in.EventType != "email_verification_completed" {
		return &NotifyResult{Reason: ReasonEventTypeNotSupported}, nil
	}
	if strings.TrimSpace(in.TaskID) == "" {
		return &NotifyResult{Reason: ReasonMissingTaskID}, nil
	}
	if in.Data == nil || in.Data.Stats == nil || in.Data.Jobs == nil {
		return &NotifyResult{Reason: ReasonInvalidPayload}, nil
	}

	task, err := s.verify.GetTaskDetailAsAdmin(ctx, in.TaskID)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", in.TaskID).Msg("Task detail fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !task.FileBacked() {
		return &NotifyResult{Reason: ReasonTaskNotFileBacked}, nil
	}

	outcome, ok := deriveOutcome(task, in.Data.Stats)
	if !ok {
		return &NotifyResult{Reason: ReasonOutcomeUnknown}, nil
	}

	userID := firstNonEmpty(task.UserID, in.Data.UserID)
	if userID == "" {
		return &NotifyResult{Reason: ReasonMissingUserID}, nil
	}

	fileName := ""
	if task.File != nil {
		fileName = task.File.Filename
	}
	fileName = firstNonEmpty(fileName, task.FileName)
	if fileName == "" {
		return &NotifyResult{Reason: ReasonMissingFileName}, nil
	}

	emailCount := resolveEmailCount(task, in.Data)

	recipient := s.resolveRecipient(ctx, userID)
	if recipient == "" {
		return &NotifyResult{Reason: ReasonMissingRecipient}, nil
	}

	// Claim the dedupe slot before the external action. The zero-credit
	// billing event row is the per-(task, outcome) send marker.
	eventID := fmt.Sprintf("bulk_upload_notification:%s:%s", in.TaskID, outcome)
	recorded, err := s.billingRepo.RecordBillingEvent(ctx, &model.BillingEvent{
		EventID:   eventID,
		UserID:    userID,
		EventType: "bulk_upload_notification",
	})
	if err != nil || !recorded {
		if err != nil {
			s.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to record notification dedupe slot")
		}
		return &NotifyResult{Reason: ReasonDuplicateOrNotRecorded}, nil
	}

	subject, body, err := renderTemplates(s.templates, fileName, emailCount)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", in.TaskID).Msg("Notification templates misconfigured")
		s.deleteSlot(ctx, eventID)
		return &NotifyResult{Reason: ReasonSMTPConfiguration}, nil
	}

	if err := s.mail.Send(recipient, subject, body); err != nil {
		// Transient delivery failures free the slot so an identical retry can
		// re-send.
		s.logger.Error().Err(err).Str("task_id", in.TaskID).Str("event_id", eventID).Msg("Notification email delivery failed")
		s.deleteSlot(ctx, eventID)
		return nil, err
	}

	s.logger.Info().
		Str("task_id", in.TaskID).
		Str("user_id", userID).
		Str("outcome", outcome).
		Int64("email_count", emailCount).
		Msg("Upload completion notification sent")
	return &NotifyResult{Processed: true, Outcome: outcome}, nil
}

func (s *notifyService) deleteSlot(ctx context.Context, eventID string) {
	if err := s.billingRepo.DeleteBillingEvent(ctx, eventID); err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to free notification dedupe slot")
	}
}

// deriveOutcome prefers the task detail's file status; when inconclusive it
// falls back to the webhook's aggregate stats.
func deriveOutcome(task *model.TaskDetail, stats *model.UploadStats) (string, bool) {
	if task.File != nil {
		switch strings.ToLower(task.File.Status) {
		case "completed":
			return "completed", true
		case "failed":
			return "failed", true
		}
	}
	if stats.Failed != nil && *stats.Failed > 0 {
		return "failed", true
	}
	if stats.Completed != nil && *stats.Completed >= 0 {
		return "completed", true
	}
	return "", false
}

func resolveEmailCount(task *model.TaskDetail, data *model.UploadCompletionData) int64 {
	if task.File != nil && task.File.EmailCount > 0 {
		return task.File.EmailCount
	}
	if data.Stats.Total != nil {
		return *data.Stats.Total
	}
	return int64(len(data.Jobs))
}

func (s *notifyService) resolveRecipient(ctx context.Context, userID string) string {
	profile, err := s.userRepo.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Profile lookup failed while resolving recipient")
	} else if profile != nil && profile.Email != "" {
		return profile.Email
	}

	u, err := s.identity.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Identity lookup failed while resolving recipient")
		return ""
	}
	if u != nil {
		return u.Email
	}
	return ""
}

// renderTemplates substitutes {file_name} and {email_count}. An upstream
// producer may store escaped newlines; those are rewritten to real newlines
// before substitution.
func renderTemplates(t NotifyTemplates, fileName string, emailCount int64) (string, string, error) {
	if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Body) == "" {
		return "", "", fmt.Errorf("notification templates are not configured")
	}
	subject := renderTemplate(t.Subject, fileName, emailCount)
	body := renderTemplate(t.Body, fileName, emailCount)
	return subject, body, nil
}

func renderTemplate(tmpl, fileName string, emailCount int64) string {
	out := strings.ReplaceAll(tmpl, `\n`, "\n")
	out = strings.ReplaceAll(out, "{file_name}", fileName)
	out = strings.ReplaceAll(out, "{email_count}", strconv.FormatInt(emailCount, 10))
	return out
}

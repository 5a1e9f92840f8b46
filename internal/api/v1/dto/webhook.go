package dto

import "app/internal/model"

// UploadWebhookDTO is the upload-completion webhook body from the
// verification service.
type UploadWebhookDTO struct {
	EventType string                      `json:"event_type"`
	TaskID    string                      `json:"task_id"`
	Data      *model.UploadCompletionData `json:"data"`
}

// ManualVerifyDTO is the pasted-addresses batch forwarded to the verification
// service. The row cap is enforced by the handler from configuration.
type ManualVerifyDTO struct {
	Emails []string `json:"emails"`
}

package model

import "time"

// SalesContactRequest is a persisted pre-sales contact request. Requests with
// an idempotency key are unique per (user_id, idempotency_key).
type SalesContactRequest struct {
	RequestID       string
	UserID          string
	AccountEmail    *string
	Source          string
	Plan            string
	Quantity        int64
	ContactRequired bool
	Page            string
	RequestIP       *string
	UserAgent       *string
	IdempotencyKey  *string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}

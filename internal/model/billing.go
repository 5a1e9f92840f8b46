package model

import "time"

// BillingEvent is a processed provider event. EventID is the sole idempotency
// key; a row must exist before any credits attributable to the event move.
type BillingEvent struct {
	EventID        string
	UserID         string
	EventType      string
	TransactionID  *string
	PriceIDs       []string
	CreditsGranted int64
	Raw            []byte
	CreatedAt      time.Time
}

// CreditGrant is an append-only credit movement, unique per
// (user_id, source, source_id).
type CreditGrant struct {
	ID             int64
	UserID         string
	Source         string
	SourceID       string
	CreditsGranted int64
	TransactionID  *string
	PriceIDs       []string
	Amount         *string
	Currency       *string
	CheckoutEmail  *string
	InvoiceID      *string
	InvoiceNumber  *string
	PurchasedAt    *time.Time
	EventID        *string
	EventType      *string
	Raw            []byte
	CreatedAt      time.Time
}

// Credit grant sources.
const (
	GrantSourceSignup = "signup"
	GrantSourceTrial  = "trial"
	GrantSourcePaddle = "paddle"
)

// BillingPlan maps a Paddle price to a credit amount per unit.
type BillingPlan struct {
	PaddlePriceID   string
	PaddleProductID string
	PlanKey         string
	PlanName        string
	Credits         int64
	Amount          string
	Currency        string
	Status          string
	CustomData      map[string]interface{}
}

package dto

import "time"

// CreditGrantDTO is one row of the grant listing.
type CreditGrantDTO struct {
	Source         string     `json:"source"`
	SourceID       string     `json:"source_id"`
	CreditsGranted int64      `json:"credits_granted"`
	TransactionID  *string    `json:"transaction_id,omitempty"`
	Amount         *string    `json:"amount,omitempty"`
	Currency       *string    `json:"currency,omitempty"`
	InvoiceNumber  *string    `json:"invoice_number,omitempty"`
	PurchasedAt    *time.Time `json:"purchased_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type CreditGrantListDTO struct {
	OK     bool             `json:"ok"`
	Grants []CreditGrantDTO `json:"grants"`
}

// ConfirmedResponseDTO reports the principal's email confirmation state.
type ConfirmedResponseDTO struct {
	OK        bool   `json:"ok"`
	UserID    string `json:"user_id"`
	Confirmed bool   `json:"confirmed"`
}

package dto

import (
	"fmt"
	"strings"
)

// SalesContactRequestDTO is the strict sales-contact payload. Unknown fields
// are rejected at decode time.
type SalesContactRequestDTO struct {
	Source          string `json:"source" validate:"required,max=64"`
	Plan            string `json:"plan" validate:"required,oneof=payg monthly annual"`
	Quantity        int64  `json:"quantity" validate:"required,gt=0"`
	ContactRequired *bool  `json:"contactRequired" validate:"required"`
	Page            string `json:"page" validate:"required,max=256"`
}

// Normalize trims the free-text fields and applies the checks the struct tags
// cannot express.
func (d *SalesContactRequestDTO) Normalize() error {
	d.Source = strings.TrimSpace(d.Source)
	d.Page = strings.TrimSpace(d.Page)
	if d.Source == "" {
		return fmt.Errorf("source must not be blank")
	}
	if d.Page == "" {
		return fmt.Errorf("page must not be blank")
	}
	if !strings.HasPrefix(d.Page, "/") {
		return fmt.Errorf("page must begin with /")
	}
	return nil
}

// SalesContactResponseDTO is the success envelope.
type SalesContactResponseDTO struct {
	OK        bool   `json:"ok"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// ErrorResponseDTO is the error envelope shared by the sales-contact and
// credits endpoints.
type ErrorResponseDTO struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

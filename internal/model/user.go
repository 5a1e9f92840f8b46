package model

import "time"

// UserProfile is the dashboard-local profile row in user_profiles.
type UserProfile struct {
	UserID    string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityUser is the identity provider's view of an account. Read-only here;
// timestamps arrive as RFC 3339 strings from the admin API.
type IdentityUser struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
	ConfirmedAt      string `json:"confirmed_at"`
	CreatedAt        string `json:"created_at"`
}

// Confirmed reports whether the identity provider has a confirmation timestamp
// for the account.
func (u *IdentityUser) Confirmed() bool {
	return u != nil && (u.EmailConfirmedAt != "" || u.ConfirmedAt != "")
}

package model

// Role values derived from token claims.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal is the authenticated caller, materialized once per request from a
// verified bearer token. Immutable after creation.
type Principal struct {
	UserID   string
	Claims   map[string]interface{}
	RawToken string
	Role     string
}

// IsAdmin reports whether the caller was promoted to admin, either by claim or
// by a recognized developer header.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// ClaimString returns the named top-level claim when it is a non-empty string.
func (p *Principal) ClaimString(name string) string {
	if p == nil || p.Claims == nil {
		return ""
	}
	if v, ok := p.Claims[name].(string); ok {
		return v
	}
	return ""
}

package bugdrill

import "time"

// User is the bugdrill account record owned by the identity service. The
// client treats it as an immutable value: a fresh fetch replaces the previous
// record, fields are never merged.
type User struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	DisplayName            string     `json:"display_name"`
	Role                   string     `json:"role"`
	IsTrial                bool       `json:"is_trial"`
	TrialSnippetsRemaining int        `json:"trial_snippets_remaining"`
	CreatedAt              time.Time  `json:"created_at"`
	LastLoginAt            *time.Time `json:"last_login_at,omitempty"`
}

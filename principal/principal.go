// Package principal reconciles upstream GitHub identities against local
// account records.
package principal

import "time"

// Principal is a local account bound to exactly one upstream GitHub
// identity. GithubID is the reconciliation key and never changes after
// creation; Username and Email are overwritten on every successful login
// because the upstream profile is authoritative.
type Principal struct {
	ID        string    `json:"id"`
	GithubID  string    `json:"github_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the upstream profile as delivered by the provider adapter.
type Identity struct {
	ID       string
	Username string
	Emails   []Email
}

// Email is one address attached to the upstream profile.
type Email struct {
	Value    string
	Primary  bool
	Verified bool
}

// PreferredEmail picks the address to record: the primary address when one
// is marked, otherwise the first verified address. Empty means no usable
// email exists on the profile.
func (id Identity) PreferredEmail() string {
	for _, e := range id.Emails {
		if e.Primary && e.Value != "" {
			return e.Value
		}
	}
	for _, e := range id.Emails {
		if e.Verified && e.Value != "" {
			return e.Value
		}
	}
	return ""
}

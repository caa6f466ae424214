// Package audit keeps Pipeline's security log. The auth plugin publishes an
// event for every sign-in step (failed passwords, throttling, codes issued
// and rejected, logins, logouts, password resets) and this plugin persists
// them to the audit_log table for site admins to review.
//
// This is an observer plugin -- it never influences the outcome of the
// operation it records.
package audit

import "time"

// Entry is a single recorded security event. UserID is empty for events
// about unknown accounts (e.g. a failed login for an unregistered email).
type Entry struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Email     string         `json:"email"`
	Action    string         `json:"action"`
	IP        string         `json:"ip"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	// UserName is joined from users at query time.
	UserName string `json:"user_name,omitempty"`
}

// Filter narrows the activity list. Empty fields match everything.
type Filter struct {
	Action string
	Email  string
}

// Stats summarizes recent sign-in activity for the admin page header.
type Stats struct {
	// Logins is the number of completed sign-ins in the window.
	Logins int `json:"logins"`

	// FailedLogins counts wrong passwords and wrong codes in the window.
	FailedLogins int `json:"failed_logins"`

	// Throttled counts refused sign-ins in the window.
	Throttled int `json:"throttled"`

	// LastEventAt is the newest entry's timestamp, nil when the log is empty.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

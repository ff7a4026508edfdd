// Package domain contains core domain types for the Okkonator engine.
package domain

import (
	"time"
)

// Visitor represents an anonymous device that owns elicitation sessions.
type Visitor struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionKey identifies one elicitation session: a visitor plus a browser tab.
type SessionKey struct {
	UserID    string
	SessionID string
}

// String returns the composite key used for logging and registries.
func (k SessionKey) String() string {
	return k.UserID + ":" + k.SessionID
}

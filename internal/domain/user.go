// Package domain contains core domain types for the data assistant.
package domain

import (
	"time"
)

// User is an anonymous browser identity.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SeenWithin reports whether the user was active within d of now.
func (u *User) SeenWithin(d time.Duration, now time.Time) bool {
	return now.Sub(u.LastSeenAt) < d
}

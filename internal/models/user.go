package models

import "time"

type User struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	Counter       string    `json:"counter,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleCitizen = "citizen"
	RoleTeller  = "teller"
	RoleAdmin   = "admin"
)

// Session is the server-side record behind an issued token. It lives in the
// session store with a TTL so logout revokes the token everywhere at once.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Counter   string    `json:"counter,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

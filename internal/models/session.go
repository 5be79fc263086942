package models

import "time"

// Session is an authenticated session with the quote gateway.
type Session struct {
	AuthToken    string    `json:"auth_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	FeedToken    string    `json:"feed_token,omitempty"`
	ClientCode   string    `json:"client_code"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidAt reports whether the session can be used at t.
func (s *Session) ValidAt(t time.Time) bool {
	return s != nil && s.AuthToken != "" && t.Before(s.ExpiresAt)
}

// Credentials is the long-lived secret material used to open a session.
type Credentials struct {
	APIKey     string
	APISecret  string
	ClientCode string
	Password   string
	TOTPSecret string
	// RequestToken is the one-shot OAuth token for providers without TOTP login.
	RequestToken string
}

// LoginRequest is what a gateway needs to open a session.
type LoginRequest struct {
	Credentials
	TOTP string
}

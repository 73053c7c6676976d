package core

import "time"

// SignUpInput contains the data needed to register a new user
type SignUpInput struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Image    *string `json:"image,omitempty"`
}

// SignInInput contains the credentials for authentication
type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FederatedSignInInput carries an ID token issued by an identity provider
type FederatedSignInInput struct {
	Provider string `json:"provider"`
	IDToken  string `json:"idToken"`
}

// AuthResult contains the authenticated user and their session
type AuthResult struct {
	User      *User    `json:"user"`
	Session   *Session `json:"session"`
	Token     string   `json:"token"` // The raw token (not the hash)
	IsNewUser bool     `json:"isNewUser"`
}

type CreateSessionResult struct {
	Session *Session `json:"session"`
	Token   string   `json:"token"`
}

type SessionConfig struct {
	MaxAge time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge: 24 * time.Hour,
	}
}

// Password policy enforced by the accounts backend.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

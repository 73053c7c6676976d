package core

import "time"

// Provider ids stored on Account.ProviderID.
const (
	ProviderCredential = "credential"
	ProviderGoogle     = "google"
)

// User represents a user account in the system
//
// This is the "identity" - who someone is
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	Name          string    `json:"name"`
	Image         *string   `json:"image,omitempty"`
	Disabled      bool      `json:"disabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Identity returns the client-facing view of the user.
func (u *User) Identity() *Identity {
	return &Identity{
		SubjectID:      u.ID,
		DisplayName:    u.Name,
		Email:          u.Email,
		PhotoReference: u.Image,
	}
}

// Account represents an authentication method
//
// This is the "credential" - how someone proves who they are
type Account struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	ProviderID   string     `json:"providerId"` // "credential", "google"
	AccountID    string     `json:"accountId"`
	Password     *string    `json:"-"` // Never expose in JSON
	AccessToken  *string    `json:"-"` // Never expose in JSON
	RefreshToken *string    `json:"-"` // Never expose in JSON
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Session represents an active login session
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"` // Never expose in JSON (security!)
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionData combines user and session info
// The model returned to clients
type SessionData struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
}

// PasswordReset is a pending single-use password reset.
type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Identity is the authentication-layer view of an account as seen by the
// bootstrap core. SubjectID never changes for the lifetime of the account.
type Identity struct {
	SubjectID      string  `json:"subjectId"`
	DisplayName    string  `json:"displayName,omitempty"`
	Email          string  `json:"email,omitempty"`
	PhotoReference *string `json:"photoReference,omitempty"`
}

// Clone returns a copy that shares no pointers with i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.PhotoReference = cloneString(i.PhotoReference)
	return &cp
}

// FederatedCredential is what a consent flow hands back: which provider
// issued the token and the token itself.
type FederatedCredential struct {
	Provider string `json:"provider"`
	IDToken  string `json:"idToken"`
}

// FederatedClaims are the verified claims of a federated ID token.
type FederatedClaims struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       *string
}

// Prefill is the descriptive data a federated login hands back for the UI.
type Prefill struct {
	DisplayName    string  `json:"displayName"`
	Email          string  `json:"email"`
	PhotoReference *string `json:"photoReference,omitempty"`
}

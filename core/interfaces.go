package core

import (
	"context"
	"time"
)

// Ports define interfaces for external dependencies

// ============================================
// STORAGE PORTS (Database operations)
// ============================================

// SessionStorage defines session-related database operations
type SessionStorage interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByHash(ctx context.Context, tokenHash string) (*Session, error)
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	GetUserSessions(ctx context.Context, userID string) ([]*Session, error)
	DeleteSessionByID(ctx context.Context, id string) error
	DeleteSessionByHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
	DeleteExpiredSessions(ctx context.Context) (int, error)
}

// SessionRevocations is implemented by session stores that report deleted
// sessions, including ones deleted by other processes sharing the store.
type SessionRevocations interface {
	// OnSessionsRevoked calls fn with the token hashes of deleted sessions
	// until the returned function is called.
	OnSessionsRevoked(fn func(tokenHashes []string)) (stop func())
}

// UserStorage defines user-related database operations
type UserStorage interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
}

// AccountStorage defines account-related database operations
type AccountStorage interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByProvider(ctx context.Context, providerID, accountID string) (*Account, error)
	GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) ([]*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
}

// ResetStorage defines password-reset token operations
type ResetStorage interface {
	CreatePasswordReset(ctx context.Context, r *PasswordReset) error
	// ConsumePasswordReset deletes and returns the reset in one step so a
	// token can be used once.
	ConsumePasswordReset(ctx context.Context, tokenHash string) (*PasswordReset, error)
}

type AuthStorage interface {
	UserStorage
	AccountStorage
	SessionStorage
	ResetStorage
}

// ============================================
// CACHE PORT
// ============================================

// Cache is a keyed cache of V. Misses return ErrCacheNotFound.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// CacheConfig configures cache behavior
type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Size      int           `json:"size"`
	TTL       time.Duration `json:"ttl"`
}

// ============================================
// FEDERATED LOGIN PORTS
// ============================================

// TokenVerifier validates an ID token issued by one identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*FederatedClaims, error)
}

// ResetNotifier delivers a password reset token to its owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// ============================================
// BOOTSTRAP PORTS (consumed by the identity core)
// ============================================

// CredentialProvider manages password and federated login and reports
// sign-in state changes. It holds at most one signed-in identity.
type CredentialProvider interface {
	CreateAccount(ctx context.Context, email, password string) (*Identity, error)
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
	AuthenticateFederated(ctx context.Context, consent ConsentFlow) (*Identity, error)
	SignOut(ctx context.Context) error
	SendReset(ctx context.Context, email string) error
	UpdateDisplayName(ctx context.Context, subjectID, name string) error

	// OnStateChange registers fn to be called with the signed-in identity,
	// or nil after sign-out. It returns a function that removes fn.
	OnStateChange(fn func(*Identity)) func()
}

// ConsentFlow runs the external consent step of a federated login.
type ConsentFlow interface {
	Consent(ctx context.Context) (*FederatedCredential, error)
}

// ConsentFunc adapts a function to ConsentFlow.
type ConsentFunc func(ctx context.Context) (*FederatedCredential, error)

func (f ConsentFunc) Consent(ctx context.Context) (*FederatedCredential, error) {
	return f(ctx)
}

// ProfileStore is keyed profile storage. Get returns ErrProfileNotFound when
// no profile exists for the subject.
type ProfileStore interface {
	GetProfile(ctx context.Context, subjectID string) (*Profile, error)
	SetProfile(ctx context.Context, profile *Profile) error
}

// ProfileWatcher is implemented by profile stores that push changes. fn
// receives the current profile, then every later version, and nil while
// no profile exists.
type ProfileWatcher interface {
	WatchProfile(ctx context.Context, subjectID string, fn func(*Profile)) (func(), error)
}

// ============================================
// AUTH HANDLERS (for HTTP adapters)
// ============================================

// AuthHandler provides authentication operations for HTTP adapters
type AuthHandler interface {
	SignUp(ctx context.Context, input SignUpInput, ipAddress, userAgent string) (*AuthResult, error)
	SignIn(ctx context.Context, input SignInInput, ipAddress, userAgent string) (*AuthResult, error)
	SignInFederated(ctx context.Context, input FederatedSignInInput, ipAddress, userAgent string) (*AuthResult, error)
	SignOut(ctx context.Context, token string) error
	GetSession(ctx context.Context, token string) (*SessionData, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	UpdateName(ctx context.Context, userID, name string) (*User, error)
	DisableUser(ctx context.Context, userID string) error
}

// ProfileHandler provides profile operations for HTTP adapters
type ProfileHandler interface {
	Get(ctx context.Context, subjectID string) (*Profile, error)
	Put(ctx context.Context, subjectID string, p *Profile) (*Profile, error)
	Update(ctx context.Context, subjectID string, u ProfileUpdate) (*Profile, error)
	SetFlags(ctx context.Context, subjectID string, f ProfileFlags) (*Profile, error)
}

// ============================================
// HTTP PORT
// ============================================

type HTTPAdapter interface {
	RegisterRoutes(api *API) error
}

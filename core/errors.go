package core

import (
	"errors"
	"fmt"
)

// Authentication Related Errors
var (
	// User errors
	ErrUserExists         = errors.New("user already exists")       // 409 Conflict
	ErrUserNotFound       = errors.New("user not found")            // 404 Not Found
	ErrInvalidCredentials = errors.New("invalid email or password") // 401 Unauthorized
	ErrAccountDisabled    = errors.New("account is disabled")       // 403 Forbidden
)

// Session errors
var (
	ErrMissingAuthHeader = errors.New("missing authorization header") // 401
	ErrInvalidToken      = errors.New("invalid session token")        // 401
	ErrSessionNotFound   = errors.New("session not found")            // 401
	ErrSessionExpired    = errors.New("session expired")              // 401
	ErrCacheNotFound     = errors.New("entry not found in cache")
	ErrNotSignedIn       = errors.New("not signed in")
)

// Validation errors (client input)
var (
	ErrInvalidAuthHeader = errors.New("invalid authorization format, expected 'Bearer <token>'") // 401
	ErrEmailRequired     = errors.New("email is required")                                       // 400
	ErrPasswordRequired  = errors.New("password is required")                                    // 400
	ErrPasswordTooShort  = errors.New("password is too short")                                   // 400
	ErrWeakPassword      = ErrPasswordTooShort                                                   // 400
	ErrPasswordTooLong   = errors.New("password is too long")                                    // 400
	ErrInvalidEmail      = errors.New("invalid email format")                                    // 400
	ErrInvalidRole       = errors.New("invalid role")                                            // 400
	ErrSubjectRequired   = errors.New("subject id is required")                                  // 400
	ErrResetTokenInvalid = errors.New("password reset token is invalid or expired")              // 400
)

// Federated login errors
var (
	ErrUnsupportedProvider = errors.New("unsupported identity provider") // 400
	ErrInvalidIDToken      = errors.New("invalid identity token")        // 401
	ErrConsentCancelled    = errors.New("sign-in was cancelled")         // 400
)

// Profile errors
var (
	ErrProfileNotFound  = errors.New("profile not found")                             // 404
	ErrNotGatedRole     = errors.New("role does not carry approval or premium state") // 400
	ErrForbidden        = errors.New("forbidden")                                     // 403
	ErrDocumentNotFound = errors.New("document not found")                            // 404
)

// Config errors (server-side configuration)
var (
	ErrDBAdapterRequired        = errors.New("database adapter is required")       // 500
	ErrDocumentAdapterRequired  = errors.New("document store adapter is required") // 500
	ErrHTTPAdapterRequired      = errors.New("adapter is required")                // 500
	ErrCredentialProviderNeeded = errors.New("credential provider is required")    // 500
	ErrProfileStoreNeeded       = errors.New("profile store is required")          // 500
)

var (
	ErrNotImplemented = errors.New("not implemented") // 501
)

// errorCodes are the stable wire codes of errors a credential provider or
// profile store may report. They let a remote client rebuild sentinels.
var errorCodes = map[error]string{
	ErrUserExists:          "user_exists",
	ErrUserNotFound:        "user_not_found",
	ErrInvalidCredentials:  "invalid_credentials",
	ErrAccountDisabled:     "account_disabled",
	ErrMissingAuthHeader:   "missing_auth_header",
	ErrInvalidToken:        "invalid_token",
	ErrSessionNotFound:     "session_not_found",
	ErrSessionExpired:      "session_expired",
	ErrInvalidAuthHeader:   "invalid_auth_header",
	ErrEmailRequired:       "email_required",
	ErrPasswordRequired:    "password_required",
	ErrPasswordTooShort:    "weak_password",
	ErrPasswordTooLong:     "password_too_long",
	ErrInvalidEmail:        "invalid_email",
	ErrInvalidRole:         "invalid_role",
	ErrSubjectRequired:     "subject_required",
	ErrResetTokenInvalid:   "reset_token_invalid",
	ErrUnsupportedProvider: "unsupported_provider",
	ErrInvalidIDToken:      "invalid_id_token",
	ErrConsentCancelled:    "consent_cancelled",
	ErrProfileNotFound:     "profile_not_found",
	ErrNotGatedRole:        "not_gated_role",
	ErrForbidden:           "forbidden",
	ErrDocumentNotFound:    "document_not_found",
}

// ErrorCode returns the wire code of err, or "internal" if err does not wrap
// a known sentinel.
func ErrorCode(err error) string {
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// ProviderError is an error reported by a remote credential provider or
// profile store. Message is the provider's text, unchanged.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// Is matches the sentinel that carries the same wire code.
func (e *ProviderError) Is(target error) bool {
	code, ok := errorCodes[target]
	return ok && code == e.Code
}

// CredentialError is any failure that originates in the credential
// provider. Its message is the provider's message, unchanged.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ProfileReadError is a failure fetching a profile after authentication.
type ProfileReadError struct {
	SubjectID string
	Err       error
}

func (e *ProfileReadError) Error() string {
	return fmt.Sprintf("failed to read profile %s: %v", e.SubjectID, e.Err)
}

func (e *ProfileReadError) Unwrap() error {
	return e.Err
}

// ProfileWriteError is a failure creating a default profile. The identity
// it belongs to may already exist.
type ProfileWriteError struct {
	SubjectID string
	Err       error
}

func (e *ProfileWriteError) Error() string {
	return fmt.Sprintf("failed to write profile %s: %v", e.SubjectID, e.Err)
}

func (e *ProfileWriteError) Unwrap() error {
	return e.Err
}

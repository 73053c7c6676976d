package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/crypto"
	"go.uber.org/zap"
)

const DefaultResetTokenTTL = time.Hour

// AccountsConfig wires the accounts backend.
type AccountsConfig struct {
	Storage   core.AuthStorage
	Passwords crypto.PasswordHandler
	Sessions  *SessionManager
	Verifiers map[string]core.TokenVerifier
	Notifier  core.ResetNotifier
	ResetTTL  time.Duration
	Logger    *zap.Logger
}

// Accounts is the credential backend: users, their password or federated
// accounts, sessions and password resets.
type Accounts struct {
	db        core.AuthStorage
	passwords crypto.PasswordHandler
	sessions  *SessionManager
	verifiers map[string]core.TokenVerifier
	notifier  core.ResetNotifier
	resetTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Ensure Accounts implements AuthHandler
var _ core.AuthHandler = (*Accounts)(nil)

func NewAccounts(cfg AccountsConfig) *Accounts {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Passwords == nil {
		cfg.Passwords = crypto.NewArgon2()
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTokenTTL
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(cfg.Logger)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionManager(core.DefaultSessionConfig(), cfg.Storage, nil, cfg.Logger)
	}
	return &Accounts{
		db:        cfg.Storage,
		passwords: cfg.Passwords,
		sessions:  cfg.Sessions,
		verifiers: cfg.Verifiers,
		notifier:  cfg.Notifier,
		resetTTL:  cfg.ResetTTL,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Sessions exposes the session manager backing the accounts.
func (s *Accounts) Sessions() *SessionManager {
	return s.sessions
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", core.ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", core.ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

func validatePassword(password string) error {
	switch n := len([]rune(password)); {
	case password == "":
		return core.ErrPasswordRequired
	case n < core.MinPasswordLength:
		return core.ErrPasswordTooShort
	case n > core.MaxPasswordLength:
		return core.ErrPasswordTooLong
	}
	return nil
}

// SignUp registers a new user with email and password
func (s *Accounts) SignUp(ctx context.Context, input core.SignUpInput, ipAddress, userAgent string) (*core.AuthResult, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	existing, err := s.db.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, core.ErrUserExists
	}

	hashed, err := s.passwords.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &core.User{
		Email: email,
		Name:  strings.TrimSpace(input.Name),
		Image: input.Image,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, core.ErrUserExists) {
			return nil, core.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// For the credential provider the account id is the user id
	account := &core.Account{
		UserID:     user.ID,
		ProviderID: core.ProviderCredential,
		AccountID:  user.ID,
		Password:   &hashed,
	}
	if err := s.db.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	created, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return &core.AuthResult{User: user, Session: created.Session, Token: created.Token, IsNewUser: true}, nil
}

// SignIn authenticates a user with email and password
func (s *Accounts) SignIn(ctx context.Context, input core.SignInInput, ipAddress, userAgent string) (*core.AuthResult, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if input.Password == "" {
		return nil, core.ErrPasswordRequired
	}

	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	accounts, err := s.db.GetAccountByUserAndProvider(ctx, user.ID, core.ProviderCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if len(accounts) == 0 || accounts[0].Password == nil {
		return nil, core.ErrInvalidCredentials
	}

	valid, err := s.passwords.Verify(input.Password, *accounts[0].Password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, core.ErrInvalidCredentials
	}

	if user.Disabled {
		return nil, core.ErrAccountDisabled
	}

	created, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	return &core.AuthResult{User: user, Session: created.Session, Token: created.Token}, nil
}

// SignInFederated verifies an identity provider's ID token and signs the
// matching user in, linking by email or creating the user when needed.
func (s *Accounts) SignInFederated(ctx context.Context, input core.FederatedSignInInput, ipAddress, userAgent string) (*core.AuthResult, error) {
	verifier, ok := s.verifiers[input.Provider]
	if !ok {
		return nil, core.ErrUnsupportedProvider
	}
	if input.IDToken == "" {
		return nil, core.ErrInvalidIDToken
	}

	claims, err := verifier.Verify(ctx, input.IDToken)
	if err != nil {
		s.logger.Info("federated token rejected", zap.String("provider", input.Provider), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidIDToken, err)
	}

	user, isNew, err := s.resolveFederatedUser(ctx, input.Provider, claims)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, core.ErrAccountDisabled
	}

	created, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	return &core.AuthResult{User: user, Session: created.Session, Token: created.Token, IsNewUser: isNew}, nil
}

func (s *Accounts) resolveFederatedUser(ctx context.Context, provider string, claims *core.FederatedClaims) (*core.User, bool, error) {
	account, err := s.db.GetAccountByProvider(ctx, provider, claims.Subject)
	switch {
	case err == nil:
		user, err := s.db.GetUserByID(ctx, account.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get user: %w", err)
		}
		return user, false, nil
	case !errors.Is(err, core.ErrUserNotFound):
		return nil, false, fmt.Errorf("failed to get account: %w", err)
	}

	var user *core.User
	isNew := false
	if claims.Email != "" {
		user, err = s.db.GetUserByEmail(ctx, claims.Email)
		if err != nil && !errors.Is(err, core.ErrUserNotFound) {
			return nil, false, fmt.Errorf("failed to find user: %w", err)
		}
		// only link to an existing user when the provider vouches for the address
		if user != nil && !claims.EmailVerified {
			return nil, false, core.ErrUserExists
		}
	}

	if user == nil {
		user = &core.User{
			Email:         strings.ToLower(claims.Email),
			EmailVerified: claims.EmailVerified,
			Name:          claims.Name,
			Image:         claims.Picture,
		}
		if err := s.db.CreateUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("failed to create user: %w", err)
		}
		isNew = true
	}

	if err := s.db.CreateAccount(ctx, &core.Account{
		UserID:     user.ID,
		ProviderID: provider,
		AccountID:  claims.Subject,
	}); err != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("federated account linked",
		zap.String("user_id", user.ID),
		zap.String("provider", provider),
		zap.Bool("new_user", isNew))
	return user, isNew, nil
}

// SignOut invalidates the current session
func (s *Accounts) SignOut(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return core.ErrInvalidToken
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetSession retrieves session data by token
func (s *Accounts) GetSession(ctx context.Context, token string) (*core.SessionData, error) {
	session, err := s.sessions.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.db.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Disabled {
		if _, err := s.sessions.DestroyAllUserSessions(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke sessions of disabled user", zap.String("user_id", user.ID), zap.Error(err))
		}
		return nil, core.ErrAccountDisabled
	}

	return &core.SessionData{User: user, Session: session}, nil
}

// RequestPasswordReset issues a reset token for email. Unknown addresses
// succeed silently.
func (s *Accounts) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			s.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	pair, err := crypto.GenerateHashedToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now().UTC()
	reset := &core.PasswordReset{
		TokenHash: pair.Hash,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.db.CreatePasswordReset(ctx, reset); err != nil {
		return fmt.Errorf("failed to store password reset: %w", err)
	}

	if err := s.notifier.NotifyPasswordReset(ctx, user, pair.Token, reset.ExpiresAt); err != nil {
		return fmt.Errorf("failed to send password reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password with a reset token and signs the user
// out everywhere.
func (s *Accounts) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return core.ErrResetTokenInvalid
	}

	reset, err := s.db.ConsumePasswordReset(ctx, crypto.HashToken(token))
	if err != nil {
		if errors.Is(err, core.ErrResetTokenInvalid) {
			return core.ErrResetTokenInvalid
		}
		return fmt.Errorf("failed to load password reset: %w", err)
	}
	if s.now().After(reset.ExpiresAt) {
		return core.ErrResetTokenInvalid
	}

	hashed, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	accounts, err := s.db.GetAccountByUserAndProvider(ctx, reset.UserID, core.ProviderCredential)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if len(accounts) == 0 {
		err = s.db.CreateAccount(ctx, &core.Account{
			UserID:     reset.UserID,
			ProviderID: core.ProviderCredential,
			AccountID:  reset.UserID,
			Password:   &hashed,
		})
	} else {
		accounts[0].Password = &hashed
		err = s.db.UpdateAccount(ctx, accounts[0])
	}
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := s.sessions.DestroyAllUserSessions(ctx, reset.UserID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

// UpdateName sets the user's display name.
func (s *Accounts) UpdateName(ctx context.Context, userID, name string) (*core.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Name = strings.TrimSpace(name)
	if err := s.db.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DisableUser blocks future sign-ins and revokes every live session.
func (s *Accounts) DisableUser(ctx context.Context, userID string) error {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Disabled {
		user.Disabled = true
		if err := s.db.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
	}

	n, err := s.sessions.DestroyAllUserSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	s.logger.Info("user disabled", zap.String("user_id", userID), zap.Int("sessions_revoked", n))
	return nil
}

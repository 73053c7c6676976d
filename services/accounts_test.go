package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lborres/kasal/adapters/memory"
	"github.com/lborres/kasal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountsFixture struct {
	accounts *Accounts
	storage  *memory.Storage
	notifier *recordingNotifier
	verifier *fakeVerifier
}

func newAccountsFixture() *accountsFixture {
	storage := memory.NewStorage()
	notifier := &recordingNotifier{}
	verifier := &fakeVerifier{claims: make(map[string]*core.FederatedClaims)}
	accounts := NewAccounts(AccountsConfig{
		Storage:   storage,
		Passwords: fastPasswords(),
		Sessions:  NewSessionManager(core.DefaultSessionConfig(), storage, nil, nil),
		Verifiers: map[string]core.TokenVerifier{core.ProviderGoogle: verifier},
		Notifier:  notifier,
	})
	return &accountsFixture{accounts: accounts, storage: storage, notifier: notifier, verifier: verifier}
}

func (f *accountsFixture) signUp(t *testing.T, email, password string) *core.AuthResult {
	t.Helper()
	res, err := f.accounts.SignUp(context.Background(), core.SignUpInput{Email: email, Password: password, Name: "Jane"}, "127.0.0.1", "test")
	require.NoError(t, err)
	return res
}

// Requirement: SignUp enforces email format and password policy and rejects duplicates.
func TestAccounts_SignUp(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		existing bool
		wantErr  error
	}{
		{name: "creates user", email: "jane@example.com", password: "password123"},
		{name: "normalises email", email: "  Jane@Example.com ", password: "password123"},
		{name: "missing email", email: "", password: "password123", wantErr: core.ErrEmailRequired},
		{name: "malformed email", email: "jane@", password: "password123", wantErr: core.ErrInvalidEmail},
		{name: "display name form", email: "Jane <jane@example.com>", password: "password123", wantErr: core.ErrInvalidEmail},
		{name: "no domain dot", email: "jane@localhost", password: "password123", wantErr: core.ErrInvalidEmail},
		{name: "missing password", email: "jane@example.com", password: "", wantErr: core.ErrPasswordRequired},
		{name: "weak password", email: "jane@example.com", password: "short", wantErr: core.ErrWeakPassword},
		{name: "long password", email: "jane@example.com", password: strings.Repeat("x", 129), wantErr: core.ErrPasswordTooLong},
		{name: "email in use", email: "jane@example.com", password: "password123", existing: true, wantErr: core.ErrUserExists},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			f := newAccountsFixture()
			if test.existing {
				f.signUp(t, "jane@example.com", "password123")
			}

			// Act
			res, err := f.accounts.SignUp(context.Background(), core.SignUpInput{Email: test.email, Password: test.password, Name: " Jane "}, "", "")

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "jane@example.com", res.User.Email)
			assert.Equal(t, "Jane", res.User.Name)
			assert.True(t, res.IsNewUser)
			assert.NotEmpty(t, res.Token)

			accounts, err := f.storage.GetAccountByUserAndProvider(context.Background(), res.User.ID, core.ProviderCredential)
			require.NoError(t, err)
			require.Len(t, accounts, 1)
			assert.True(t, strings.HasPrefix(*accounts[0].Password, "$argon2id$"))
		})
	}
}

// Requirement: SignIn accepts the right password only and refuses disabled accounts.
func TestAccounts_SignIn(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		disable  bool
		wantErr  error
	}{
		{name: "valid credentials", email: "jane@example.com", password: "password123"},
		{name: "case-insensitive email", email: "JANE@example.com", password: "password123"},
		{name: "wrong password", email: "jane@example.com", password: "password124", wantErr: core.ErrInvalidCredentials},
		{name: "unknown email", email: "joe@example.com", password: "password123", wantErr: core.ErrInvalidCredentials},
		{name: "empty password", email: "jane@example.com", password: "", wantErr: core.ErrPasswordRequired},
		{name: "disabled account", email: "jane@example.com", password: "password123", disable: true, wantErr: core.ErrAccountDisabled},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			f := newAccountsFixture()
			created := f.signUp(t, "jane@example.com", "password123")
			if test.disable {
				require.NoError(t, f.accounts.DisableUser(ctx, created.User.ID))
			}

			// Act
			res, err := f.accounts.SignIn(ctx, core.SignInInput{Email: test.email, Password: test.password}, "", "")

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, created.User.ID, res.User.ID)
			assert.False(t, res.IsNewUser)
		})
	}
}

// Requirement: federated sign-in creates, links or reuses users by verified claims.
func TestAccounts_SignInFederated(t *testing.T) {
	picture := "https://example.com/p.png"

	tests := []struct {
		name        string
		provider    string
		token       string
		claims      *core.FederatedClaims
		preexisting bool
		wantNew     bool
		wantErr     error
	}{
		{
			name:     "new user",
			provider: core.ProviderGoogle, token: "t1",
			claims:  &core.FederatedClaims{Subject: "g-1", Email: "ana@example.com", EmailVerified: true, Name: "Ana", Picture: &picture},
			wantNew: true,
		},
		{
			name:     "links verified email to existing user",
			provider: core.ProviderGoogle, token: "t1",
			claims:      &core.FederatedClaims{Subject: "g-1", Email: "ana@example.com", EmailVerified: true, Name: "Ana"},
			preexisting: true,
		},
		{
			name:     "unverified email collides",
			provider: core.ProviderGoogle, token: "t1",
			claims:      &core.FederatedClaims{Subject: "g-1", Email: "ana@example.com", Name: "Ana"},
			preexisting: true,
			wantErr:     core.ErrUserExists,
		},
		{name: "unknown provider", provider: "facebook", token: "t1", wantErr: core.ErrUnsupportedProvider},
		{name: "empty token", provider: core.ProviderGoogle, token: "", wantErr: core.ErrInvalidIDToken},
		{name: "bad token", provider: core.ProviderGoogle, token: "forged", wantErr: core.ErrInvalidIDToken},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			f := newAccountsFixture()
			if test.claims != nil {
				f.verifier.claims[test.token] = test.claims
			}
			var existing *core.AuthResult
			if test.preexisting {
				existing = f.signUp(t, "ana@example.com", "password123")
			}

			// Act
			res, err := f.accounts.SignInFederated(ctx, core.FederatedSignInInput{Provider: test.provider, IDToken: test.token}, "", "")

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantNew, res.IsNewUser)
			if existing != nil {
				assert.Equal(t, existing.User.ID, res.User.ID)
			}

			// a second login reuses the linked account
			again, err := f.accounts.SignInFederated(ctx, core.FederatedSignInInput{Provider: test.provider, IDToken: test.token}, "", "")
			require.NoError(t, err)
			assert.Equal(t, res.User.ID, again.User.ID)
			assert.False(t, again.IsNewUser)
		})
	}
}

// Requirement: GetSession resolves the user and SignOut invalidates the token.
func TestAccounts_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newAccountsFixture()
	res := f.signUp(t, "jane@example.com", "password123")

	data, err := f.accounts.GetSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, data.User.ID)

	require.NoError(t, f.accounts.SignOut(ctx, res.Token))

	_, err = f.accounts.GetSession(ctx, res.Token)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	assert.ErrorIs(t, f.accounts.SignOut(ctx, res.Token), core.ErrInvalidToken)
}

// Requirement: disabling a user revokes every session.
func TestAccounts_DisableUser(t *testing.T) {
	ctx := context.Background()
	f := newAccountsFixture()
	res := f.signUp(t, "jane@example.com", "password123")
	second, err := f.accounts.SignIn(ctx, core.SignInInput{Email: "jane@example.com", Password: "password123"}, "", "")
	require.NoError(t, err)

	require.NoError(t, f.accounts.DisableUser(ctx, res.User.ID))

	for _, token := range []string{res.Token, second.Token} {
		_, err := f.accounts.GetSession(ctx, token)
		assert.ErrorIs(t, err, core.ErrInvalidToken)
	}
	assert.ErrorIs(t, f.accounts.DisableUser(ctx, "missing"), core.ErrUserNotFound)
}

// Requirement: password reset does not reveal unknown emails and tokens are single use.
func TestAccounts_PasswordReset(t *testing.T) {
	ctx := context.Background()
	f := newAccountsFixture()
	res := f.signUp(t, "jane@example.com", "password123")

	require.NoError(t, f.accounts.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, f.notifier.token("nobody@example.com"))
	assert.ErrorIs(t, f.accounts.RequestPasswordReset(ctx, "not-an-email"), core.ErrInvalidEmail)

	require.NoError(t, f.accounts.RequestPasswordReset(ctx, "jane@example.com"))
	token := f.notifier.token("jane@example.com")
	require.NotEmpty(t, token)

	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, token, "short"), core.ErrWeakPassword)
	require.NoError(t, f.accounts.ResetPassword(ctx, token, "new-password-1"))
	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, token, "new-password-2"), core.ErrResetTokenInvalid)

	_, err := f.accounts.GetSession(ctx, res.Token)
	assert.ErrorIs(t, err, core.ErrInvalidToken, "reset signs the user out everywhere")

	_, err = f.accounts.SignIn(ctx, core.SignInInput{Email: "jane@example.com", Password: "password123"}, "", "")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	_, err = f.accounts.SignIn(ctx, core.SignInInput{Email: "jane@example.com", Password: "new-password-1"}, "", "")
	assert.NoError(t, err)
}

// Requirement: an expired reset token is refused.
func TestAccounts_PasswordResetExpired(t *testing.T) {
	ctx := context.Background()
	f := newAccountsFixture()
	f.signUp(t, "jane@example.com", "password123")
	require.NoError(t, f.accounts.RequestPasswordReset(ctx, "jane@example.com"))
	f.accounts.now = func() time.Time { return time.Now().Add(2 * DefaultResetTokenTTL) }

	err := f.accounts.ResetPassword(ctx, f.notifier.token("jane@example.com"), "new-password-1")

	assert.ErrorIs(t, err, core.ErrResetTokenInvalid)
}

// Requirement: UpdateName trims and stores the display name.
func TestAccounts_UpdateName(t *testing.T) {
	ctx := context.Background()
	f := newAccountsFixture()
	res := f.signUp(t, "jane@example.com", "password123")

	user, err := f.accounts.UpdateName(ctx, res.User.ID, "  Jane Doe ")

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", user.Name)
	_, err = f.accounts.UpdateName(ctx, "missing", "x")
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requirement: users are unique by case-insensitive email and get a generated id.
func TestStorage_Users(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()

	u := &core.User{Email: "Ana@Example.com", Name: "Ana"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	err := s.CreateUser(ctx, &core.User{Email: "ana@example.com"})
	assert.ErrorIs(t, err, core.ErrUserExists)

	got, err := s.GetUserByEmail(ctx, "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got.Name = "Changed"
	again, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.Name, "returned users must be copies")

	again.Name = "Ana Cruz"
	require.NoError(t, s.UpdateUser(ctx, again))
	updated, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Cruz", updated.Name)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

// Requirement: an account is unique per provider and provider account id.
func TestStorage_Accounts(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	a := &core.Account{UserID: "u1", ProviderID: core.ProviderGoogle, AccountID: "sub-1"}
	require.NoError(t, s.CreateAccount(ctx, a))

	err := s.CreateAccount(ctx, &core.Account{UserID: "u2", ProviderID: core.ProviderGoogle, AccountID: "sub-1"})
	assert.ErrorIs(t, err, core.ErrUserExists)

	got, err := s.GetAccountByProvider(ctx, core.ProviderGoogle, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	list, err := s.GetAccountByUserAndProvider(ctx, "u1", core.ProviderCredential)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// Requirement: sessions can be removed by hash, id, user and expiry.
func TestStorage_Sessions(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	now := time.Now()
	for _, sess := range []*core.Session{
		{ID: "s1", UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)},
		{ID: "s2", UserID: "u1", TokenHash: "h2", ExpiresAt: now.Add(-time.Hour)},
		{ID: "s3", UserID: "u2", TokenHash: "h3", ExpiresAt: now.Add(time.Hour)},
	} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	n, err := s.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.TokenHash)

	n, err = s.DeleteUserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.DeleteSessionByHash(ctx, "h1"), core.ErrSessionNotFound)
	require.NoError(t, s.DeleteSessionByID(ctx, "s3"))
	_, err = s.GetSessionByHash(ctx, "h3")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

// Requirement: every session delete reports the removed token hashes.
func TestStorage_OnSessionsRevoked(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		delete func(ctx context.Context, s *Storage) error
		want   []string
	}{
		{name: "by hash", delete: func(ctx context.Context, s *Storage) error { return s.DeleteSessionByHash(ctx, "h1") }, want: []string{"h1"}},
		{name: "by id", delete: func(ctx context.Context, s *Storage) error { return s.DeleteSessionByID(ctx, "s3") }, want: []string{"h3"}},
		{name: "by user", delete: func(ctx context.Context, s *Storage) error {
			_, err := s.DeleteUserSessions(ctx, "u1")
			return err
		}, want: []string{"h1", "h2"}},
		{name: "expired", delete: func(ctx context.Context, s *Storage) error {
			_, err := s.DeleteExpiredSessions(ctx)
			return err
		}, want: []string{"h2"}},
		{name: "missing", delete: func(ctx context.Context, s *Storage) error {
			_ = s.DeleteSessionByHash(ctx, "nope")
			return nil
		}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			s := NewStorage()
			for _, sess := range []*core.Session{
				{ID: "s1", UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)},
				{ID: "s2", UserID: "u1", TokenHash: "h2", ExpiresAt: now.Add(-time.Hour)},
				{ID: "s3", UserID: "u2", TokenHash: "h3", ExpiresAt: now.Add(time.Hour)},
			} {
				require.NoError(t, s.CreateSession(ctx, sess))
			}
			var got []string
			stop := s.OnSessionsRevoked(func(hashes []string) { got = append(got, hashes...) })
			defer stop()

			// Act
			require.NoError(t, test.delete(ctx, s))

			// Assert
			assert.ElementsMatch(t, test.want, got)
		})
	}
}

// Requirement: a reset token can be consumed once.
func TestStorage_PasswordReset(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.CreatePasswordReset(ctx, &core.PasswordReset{TokenHash: "r1", UserID: "u1"}))

	r, err := s.ConsumePasswordReset(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", r.UserID)

	_, err = s.ConsumePasswordReset(ctx, "r1")
	assert.ErrorIs(t, err, core.ErrResetTokenInvalid)
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lborres/kasal/adapters/memory"
	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/cache"
	"github.com/lborres/kasal/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestSessionManager(storage core.SessionStorage, c core.Cache[*core.Session]) *SessionManager {
	return NewSessionManager(core.SessionConfig{MaxAge: 24 * time.Hour}, storage, c, nil)
}

// Requirement: Create stores only the token hash and returns the raw token.
func TestSessionManager_Create(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		withCache bool
		wantErr   bool
	}{
		{name: "creates session", withCache: false},
		{name: "creates and caches session", withCache: true},
		{name: "storage failure", createErr: errors.New("db down"), wantErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			storage := &failingSessionStorage{Storage: memory.NewStorage(), createErr: test.createErr}
			var c *cache.Memory[*core.Session]
			var port core.Cache[*core.Session]
			if test.withCache {
				c = cache.NewMemory[*core.Session](core.CacheConfig{})
				port = c
			}
			manager := newTestSessionManager(storage, port)

			// Act
			result, err := manager.Create(ctx, "user123", "192.168.1.1", "Mozilla/5.0")

			// Assert
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, result.Token)
			assert.Equal(t, crypto.HashToken(result.Token), result.Session.TokenHash)
			assert.NotEqual(t, result.Token, result.Session.TokenHash)
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), result.Session.ExpiresAt, time.Minute)

			stored, err := storage.GetSessionByHash(ctx, result.Session.TokenHash)
			require.NoError(t, err)
			assert.Equal(t, "user123", stored.UserID)
			if test.withCache {
				assert.Equal(t, 1, c.Len())
			}
		})
	}
}

// Requirement: Verify accepts live tokens and rejects unknown, empty and expired ones.
func TestSessionManager_Verify(t *testing.T) {
	tests := []struct {
		name      string
		token     func(created string) string
		expire    bool
		withCache bool
		wantErr   error
	}{
		{name: "valid token", token: func(c string) string { return c }},
		{name: "valid token cached", token: func(c string) string { return c }, withCache: true},
		{name: "empty token", token: func(string) string { return "" }, wantErr: core.ErrInvalidToken},
		{name: "unknown token", token: func(string) string { return "nope" }, wantErr: core.ErrSessionNotFound},
		{name: "expired token", token: func(c string) string { return c }, expire: true, wantErr: core.ErrSessionExpired},
		{name: "expired token cached", token: func(c string) string { return c }, expire: true, withCache: true, wantErr: core.ErrSessionExpired},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			var port core.Cache[*core.Session]
			if test.withCache {
				port = cache.NewMemory[*core.Session](core.CacheConfig{})
			}
			manager := newTestSessionManager(memory.NewStorage(), port)
			created, err := manager.Create(ctx, "user123", "", "")
			require.NoError(t, err)
			if test.expire {
				manager.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
			}

			// Act
			session, err := manager.Verify(ctx, test.token(created.Token))

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, created.Session.ID, session.ID)
		})
	}
}

// Requirement: Destroy removes the session from storage and cache.
func TestSessionManager_Destroy(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory[*core.Session](core.CacheConfig{})
	manager := newTestSessionManager(memory.NewStorage(), c)
	created, err := manager.Create(ctx, "user123", "", "")
	require.NoError(t, err)

	require.NoError(t, manager.Destroy(ctx, created.Token))

	_, err = manager.Verify(ctx, created.Token)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Equal(t, 0, c.Len())
	assert.ErrorIs(t, manager.Destroy(ctx, ""), core.ErrInvalidToken)
	assert.ErrorIs(t, manager.Destroy(ctx, created.Token), core.ErrSessionNotFound)
}

// Requirement: DestroyBySessionID removes one session by id.
func TestSessionManager_DestroyBySessionID(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory[*core.Session](core.CacheConfig{})
	manager := newTestSessionManager(memory.NewStorage(), c)
	created, err := manager.Create(ctx, "user123", "", "")
	require.NoError(t, err)

	require.NoError(t, manager.DestroyBySessionID(ctx, created.Session.ID))

	assert.Equal(t, 0, c.Len())
	_, err = manager.Verify(ctx, created.Token)
	assert.Error(t, err)
	assert.ErrorIs(t, manager.DestroyBySessionID(ctx, ""), core.ErrSessionNotFound)
}

// Requirement: DestroyAllUserSessions removes only that user's sessions and cache entries.
func TestSessionManager_DestroyAllUserSessions(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory[*core.Session](core.CacheConfig{})
	manager := newTestSessionManager(memory.NewStorage(), c)
	for range 3 {
		_, err := manager.Create(ctx, "user1", "", "")
		require.NoError(t, err)
	}
	other, err := manager.Create(ctx, "user2", "", "")
	require.NoError(t, err)

	n, err := manager.DestroyAllUserSessions(ctx, "user1")

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, c.Len())
	_, err = manager.Verify(ctx, other.Token)
	assert.NoError(t, err)

	_, err = manager.DestroyAllUserSessions(ctx, "")
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

// Requirement: Sweep deletes expired sessions.
func TestSessionManager_Sweep(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewStorage()
	manager := NewSessionManager(core.SessionConfig{MaxAge: time.Millisecond}, storage, nil, nil)
	_, err := manager.Create(ctx, "user1", "", "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	n, err := manager.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Requirement: a session revoked through one manager stops verifying on
// every manager sharing the storage, even one that cached it.
func TestSessionManager_RevocationReachesOtherManagers(t *testing.T) {
	tests := []struct {
		name   string
		revoke func(ctx context.Context, m *SessionManager, created *core.CreateSessionResult) error
	}{
		{name: "destroy", revoke: func(ctx context.Context, m *SessionManager, created *core.CreateSessionResult) error {
			return m.Destroy(ctx, created.Token)
		}},
		{name: "destroy by id", revoke: func(ctx context.Context, m *SessionManager, created *core.CreateSessionResult) error {
			return m.DestroyBySessionID(ctx, created.Session.ID)
		}},
		{name: "destroy all", revoke: func(ctx context.Context, m *SessionManager, created *core.CreateSessionResult) error {
			_, err := m.DestroyAllUserSessions(ctx, created.Session.UserID)
			return err
		}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			storage := memory.NewStorage()
			first := newTestSessionManager(storage, cache.NewMemory[*core.Session](core.CacheConfig{}))
			defer first.Close()
			secondCache := cache.NewMemory[*core.Session](core.CacheConfig{})
			second := newTestSessionManager(storage, secondCache)
			defer second.Close()
			created, err := first.Create(ctx, "user1", "", "")
			require.NoError(t, err)
			_, err = second.Verify(ctx, created.Token)
			require.NoError(t, err)
			require.Equal(t, 1, secondCache.Len())

			// Act
			require.NoError(t, test.revoke(ctx, first, created))

			// Assert
			assert.Equal(t, 0, secondCache.Len())
			_, err = second.Verify(ctx, created.Token)
			assert.ErrorIs(t, err, core.ErrSessionNotFound)
		})
	}
}

// Requirement: a Verify that read storage before a concurrent Destroy
// does not put the destroyed session back in the cache.
func TestSessionManager_VerifyRacingDestroyDoesNotRecache(t *testing.T) {
	// Arrange
	ctx := context.Background()
	c := cache.NewMemory[*core.Session](core.CacheConfig{})
	storage := &pausedReadStorage{SessionStorage: memory.NewStorage(), read: make(chan struct{}), resume: make(chan struct{})}
	manager := newTestSessionManager(storage, c)
	created, err := manager.Create(ctx, "user1", "", "")
	require.NoError(t, err)
	require.NoError(t, c.Clear(ctx))

	verified := make(chan error, 1)
	go func() {
		_, err := manager.Verify(ctx, created.Token)
		verified <- err
	}()
	<-storage.read

	// Act
	require.NoError(t, manager.Destroy(ctx, created.Token))
	close(storage.resume)
	require.NoError(t, <-verified)

	// Assert
	assert.Equal(t, 0, c.Len())
	storage.read, storage.resume = make(chan struct{}), make(chan struct{})
	close(storage.resume)
	_, err = manager.Verify(ctx, created.Token)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

// Requirement: cache failures never fail a request and are logged with the
// session they concern.
func TestSessionManager_CacheFailuresAreLogged(t *testing.T) {
	// Arrange
	ctx := context.Background()
	logs, recorded := observer.New(zap.WarnLevel)
	manager := NewSessionManager(core.SessionConfig{MaxAge: time.Hour}, memory.NewStorage(), brokenCache{}, zap.New(logs))
	defer manager.Close()

	// Act
	created, err := manager.Create(ctx, "user1", "", "")
	require.NoError(t, err)
	_, err = manager.Verify(ctx, created.Token)
	require.NoError(t, err)
	require.NoError(t, manager.Destroy(ctx, created.Token))

	// Assert
	sets := recorded.FilterMessage("session cache set failed").All()
	require.Len(t, sets, 2)
	assert.Equal(t, created.Session.ID, sets[0].ContextMap()["session_id"])
	assert.Equal(t, "user1", sets[1].ContextMap()["user_id"])
	assert.NotEmpty(t, recorded.FilterMessage("session cache delete failed").All())
}

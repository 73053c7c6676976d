package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/crypto"
	"go.uber.org/zap"
)

// SessionManager issues and checks opaque bearer tokens. Only the token
// hash is stored.
//
// With a cache, revoked sessions are evicted when storage reports them
// through core.SessionRevocations. Without that, only a cache shared by
// every instance is safe.
type SessionManager struct {
	config  core.SessionConfig
	storage core.SessionStorage
	cache   core.Cache[*core.Session] // optional, nil disables caching
	nanoid  *crypto.NanoIDGenerator
	logger  *zap.Logger
	now     func() time.Time

	// fillMu orders cache fills against evictions. Fills hold it shared
	// and skip when revision moved since their storage read.
	fillMu    sync.RWMutex
	revision  uint64
	stopWatch func()
}

func NewSessionManager(config core.SessionConfig, storage core.SessionStorage, cache core.Cache[*core.Session], logger *zap.Logger) *SessionManager {
	if config.MaxAge <= 0 {
		config = core.DefaultSessionConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &SessionManager{
		config:    config,
		storage:   storage,
		cache:     cache,
		nanoid:    crypto.MustNanoID(),
		logger:    logger,
		now:       time.Now,
		stopWatch: func() {},
	}
	if revocations, ok := storage.(core.SessionRevocations); ok && cache != nil {
		sm.stopWatch = revocations.OnSessionsRevoked(func(hashes []string) {
			sm.evict(context.Background(), hashes...)
		})
	}
	return sm
}

// Close stops following storage revocations.
func (sm *SessionManager) Close() {
	sm.stopWatch()
}

// evict drops hashes from the cache and invalidates fills that read
// storage before the eviction.
func (sm *SessionManager) evict(ctx context.Context, hashes ...string) {
	if sm.cache == nil || len(hashes) == 0 {
		return
	}
	sm.fillMu.Lock()
	sm.revision++
	sm.fillMu.Unlock()

	for _, h := range hashes {
		if err := sm.cache.Delete(ctx, h); err != nil {
			sm.logger.Warn("session cache delete failed", zap.String("token_hash_prefix", hashPrefix(h)), zap.Error(err))
		}
	}
}

func (sm *SessionManager) currentRevision() uint64 {
	sm.fillMu.RLock()
	defer sm.fillMu.RUnlock()
	return sm.revision
}

// fill caches session unless an eviction happened after revision was read.
func (sm *SessionManager) fill(ctx context.Context, revision uint64, session *core.Session) {
	sm.fillMu.RLock()
	defer sm.fillMu.RUnlock()
	if sm.revision != revision {
		return
	}
	if err := sm.cache.Set(ctx, session.TokenHash, session); err != nil {
		sm.logger.Warn("session cache set failed",
			zap.String("session_id", session.ID),
			zap.String("user_id", session.UserID),
			zap.Error(err))
	}
}

func hashPrefix(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func (sm *SessionManager) Create(ctx context.Context, userID, ip, userAgent string) (*core.CreateSessionResult, error) {
	pair, err := crypto.GenerateHashedToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	sessionID, err := sm.nanoid.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := sm.now().UTC()
	session := &core.Session{
		ID:        sessionID,
		UserID:    userID,
		TokenHash: pair.Hash,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(sm.config.MaxAge),
	}

	if err := sm.storage.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// We don't fail the request if caching fails
	if sm.cache != nil {
		if err := sm.cache.Set(ctx, pair.Hash, session); err != nil {
			sm.logger.Warn("session cache set failed",
				zap.String("session_id", session.ID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	return &core.CreateSessionResult{Session: session, Token: pair.Token}, nil
}

func (sm *SessionManager) Verify(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, core.ErrInvalidToken
	}

	tokenHash := crypto.HashToken(token)

	var revision uint64
	if sm.cache != nil {
		if session, err := sm.cache.Get(ctx, tokenHash); err == nil {
			if sm.now().After(session.ExpiresAt) {
				sm.evict(ctx, tokenHash)
				return nil, core.ErrSessionExpired
			}
			return session, nil
		}
		revision = sm.currentRevision()
	}

	session, err := sm.storage.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.ErrSessionNotFound
	}

	if sm.now().After(session.ExpiresAt) {
		if err := sm.storage.DeleteSessionByID(ctx, session.ID); err != nil {
			sm.logger.Warn("failed to delete expired session", zap.String("session_id", session.ID), zap.Error(err))
		}
		return nil, core.ErrSessionExpired
	}

	if sm.cache != nil {
		sm.fill(ctx, revision, session)
	}

	return session, nil
}

func (sm *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return core.ErrInvalidToken
	}

	tokenHash := crypto.HashToken(token)

	if err := sm.storage.DeleteSessionByHash(ctx, tokenHash); err != nil {
		return err
	}
	sm.evict(ctx, tokenHash)

	return nil
}

func (sm *SessionManager) DestroyBySessionID(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return core.ErrSessionNotFound
	}

	var tokenHash string
	if sm.cache != nil {
		session, err := sm.storage.GetSessionByID(ctx, sessionID)
		if err == nil && session != nil {
			tokenHash = session.TokenHash
		}
	}

	if err := sm.storage.DeleteSessionByID(ctx, sessionID); err != nil {
		return err
	}
	if tokenHash != "" {
		sm.evict(ctx, tokenHash)
	}
	return nil
}

// DestroyAllUserSessions removes every session of userID and returns how
// many were removed.
func (sm *SessionManager) DestroyAllUserSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.ErrUserNotFound
	}

	// collect hashes first so only this user's cache entries are dropped
	var hashes []string
	if sm.cache != nil {
		sessions, err := sm.storage.GetUserSessions(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to list user sessions: %w", err)
		}
		for _, s := range sessions {
			hashes = append(hashes, s.TokenHash)
		}
	}

	count, err := sm.storage.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	sm.evict(ctx, hashes...)

	return count, nil
}

// Sweep deletes expired sessions.
func (sm *SessionManager) Sweep(ctx context.Context) (int, error) {
	n, err := sm.storage.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if n > 0 {
		sm.logger.Info("expired sessions removed", zap.Int("count", n))
	}
	return n, nil
}

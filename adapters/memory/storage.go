// Package memory provides in-process implementations of kasal's storage
// ports, used by tests and by STORAGE=memory deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/internal/notify"
)

// Storage implements core.AuthStorage with maps guarded by one lock.
type Storage struct {
	mu       sync.RWMutex
	users    map[string]*core.User
	emails   map[string]string // lower-cased email -> user id
	accounts map[string]*core.Account
	sessions map[string]*core.Session // token hash -> session
	resets   map[string]*core.PasswordReset
	revoked  notify.Set[[]string]
	now      func() time.Time
}

var (
	_ core.AuthStorage        = (*Storage)(nil)
	_ core.SessionRevocations = (*Storage)(nil)
)

func NewStorage() *Storage {
	return &Storage{
		users:    make(map[string]*core.User),
		emails:   make(map[string]string),
		accounts: make(map[string]*core.Account),
		sessions: make(map[string]*core.Session),
		resets:   make(map[string]*core.PasswordReset),
		now:      time.Now,
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Storage) CreateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(u.Email)
	if _, taken := s.emails[key]; taken {
		return core.ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	cp := *u
	s.users[u.ID] = &cp
	s.emails[key] = u.ID
	return nil
}

func (s *Storage) GetUserByID(_ context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Storage) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[emailKey(email)]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Storage) UpdateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return core.ErrUserNotFound
	}
	if newKey, oldKey := emailKey(u.Email), emailKey(cur.Email); newKey != oldKey {
		if _, taken := s.emails[newKey]; taken {
			return core.ErrUserExists
		}
		delete(s.emails, oldKey)
		s.emails[newKey] = u.ID
	}
	u.CreatedAt = cur.CreatedAt
	u.UpdatedAt = s.now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Storage) CreateAccount(_ context.Context, a *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.ProviderID == a.ProviderID && existing.AccountID == a.AccountID {
			return core.ErrUserExists
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Storage) GetAccountByProvider(_ context.Context, providerID, accountID string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.ProviderID == providerID && a.AccountID == accountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (s *Storage) GetAccountByUserAndProvider(_ context.Context, userID, providerID string) ([]*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Account
	for _, a := range s.accounts {
		if a.UserID == userID && a.ProviderID == providerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Storage) UpdateAccount(_ context.Context, a *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return core.ErrUserNotFound
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = s.now().UTC()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Storage) CreateSession(_ context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.TokenHash] = &cp
	return nil
}

func (s *Storage) GetSessionByHash(_ context.Context, tokenHash string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *Storage) GetSessionByID(_ context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.ID == id {
			cp := *session
			return &cp, nil
		}
	}
	return nil, core.ErrSessionNotFound
}

func (s *Storage) GetUserSessions(_ context.Context, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out, nil
}

// OnSessionsRevoked reports deleted sessions to fn before the deleting
// call returns.
func (s *Storage) OnSessionsRevoked(fn func(tokenHashes []string)) func() {
	return s.revoked.Add(fn)
}

// deleteSessions removes the sessions match selects and reports them.
func (s *Storage) deleteSessions(match func(*core.Session) bool) int {
	s.mu.Lock()
	var hashes []string
	for hash, session := range s.sessions {
		if match(session) {
			delete(s.sessions, hash)
			hashes = append(hashes, hash)
		}
	}
	s.mu.Unlock()

	if len(hashes) > 0 {
		s.revoked.Notify(hashes)
	}
	return len(hashes)
}

func (s *Storage) DeleteSessionByID(_ context.Context, id string) error {
	if s.deleteSessions(func(session *core.Session) bool { return session.ID == id }) == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *Storage) DeleteSessionByHash(_ context.Context, tokenHash string) error {
	if s.deleteSessions(func(session *core.Session) bool { return session.TokenHash == tokenHash }) == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *Storage) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	return s.deleteSessions(func(session *core.Session) bool { return session.UserID == userID }), nil
}

func (s *Storage) DeleteExpiredSessions(_ context.Context) (int, error) {
	now := s.now()
	return s.deleteSessions(func(session *core.Session) bool { return now.After(session.ExpiresAt) }), nil
}

func (s *Storage) CreatePasswordReset(_ context.Context, r *core.PasswordReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	cp := *r
	s.resets[r.TokenHash] = &cp
	return nil
}

func (s *Storage) ConsumePasswordReset(_ context.Context, tokenHash string) (*core.PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resets[tokenHash]
	if !ok {
		return nil, core.ErrResetTokenInvalid
	}
	delete(s.resets, tokenHash)
	return r, nil
}

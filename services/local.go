package services

import (
	"context"
	"errors"
	"sync"

	"github.com/lborres/kasal/core"
	"go.uber.org/zap"
)

const (
	localIPAddress = "127.0.0.1"
	localUserAgent = "kasal-local"
)

// LocalProvider is an in-process credential provider and profile store
// over Accounts and Profiles. It holds at most one session, like a client
// SDK would.
type LocalProvider struct {
	accounts *Accounts
	profiles *Profiles
	logger   *zap.Logger

	mu    sync.Mutex
	token string
	user  *core.User

	lmu       sync.Mutex
	listeners map[uint64]func(*core.Identity)
	next      uint64
}

var (
	_ core.CredentialProvider = (*LocalProvider)(nil)
	_ core.ProfileStore       = (*LocalProvider)(nil)
	_ core.ProfileWatcher     = (*LocalProvider)(nil)
)

func NewLocalProvider(accounts *Accounts, profiles *Profiles, logger *zap.Logger) *LocalProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalProvider{
		accounts:  accounts,
		profiles:  profiles,
		logger:    logger,
		listeners: make(map[uint64]func(*core.Identity)),
	}
}

// Token returns the bearer token of the current session, if any.
func (p *LocalProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *LocalProvider) current() *core.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	return p.user.Identity()
}

func (p *LocalProvider) signIn(res *core.AuthResult) *core.Identity {
	p.mu.Lock()
	p.token = res.Token
	p.user = res.User
	p.mu.Unlock()

	identity := res.User.Identity()
	p.emit(identity)
	return identity.Clone()
}

func (p *LocalProvider) clear() {
	p.mu.Lock()
	p.token = ""
	p.user = nil
	p.mu.Unlock()
	p.emit(nil)
}

func (p *LocalProvider) emit(identity *core.Identity) {
	p.lmu.Lock()
	fns := make([]func(*core.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.lmu.Unlock()

	for _, fn := range fns {
		fn(identity.Clone())
	}
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string) (*core.Identity, error) {
	res, err := p.accounts.SignUp(ctx, core.SignUpInput{Email: email, Password: password}, localIPAddress, localUserAgent)
	if err != nil {
		return nil, err
	}
	return p.signIn(res), nil
}

func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (*core.Identity, error) {
	res, err := p.accounts.SignIn(ctx, core.SignInInput{Email: email, Password: password}, localIPAddress, localUserAgent)
	if err != nil {
		return nil, err
	}
	return p.signIn(res), nil
}

func (p *LocalProvider) AuthenticateFederated(ctx context.Context, consent core.ConsentFlow) (*core.Identity, error) {
	cred, err := consent.Consent(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, core.ErrConsentCancelled
	}
	res, err := p.accounts.SignInFederated(ctx, core.FederatedSignInInput{
		Provider: cred.Provider,
		IDToken:  cred.IDToken,
	}, localIPAddress, localUserAgent)
	if err != nil {
		return nil, err
	}
	return p.signIn(res), nil
}

// SignOut ends the current session. The local session is cleared even when
// revoking it fails.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	token := p.Token()
	var err error
	if token != "" {
		err = p.accounts.SignOut(ctx, token)
		if errors.Is(err, core.ErrInvalidToken) {
			err = nil
		}
	}
	p.clear()
	return err
}

func (p *LocalProvider) SendReset(ctx context.Context, email string) error {
	return p.accounts.RequestPasswordReset(ctx, email)
}

func (p *LocalProvider) UpdateDisplayName(ctx context.Context, subjectID, name string) error {
	current := p.current()
	if current == nil {
		return core.ErrNotSignedIn
	}
	if current.SubjectID != subjectID {
		return core.ErrForbidden
	}
	user, err := p.accounts.UpdateName(ctx, subjectID, name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.user != nil && p.user.ID == user.ID {
		p.user = user
	}
	p.mu.Unlock()
	return nil
}

// OnStateChange registers fn and calls it at once with the current state.
func (p *LocalProvider) OnStateChange(fn func(*core.Identity)) func() {
	p.lmu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.lmu.Unlock()

	fn(p.current())

	return func() {
		p.lmu.Lock()
		delete(p.listeners, id)
		p.lmu.Unlock()
	}
}

// Restore resumes a session from a token issued earlier.
func (p *LocalProvider) Restore(ctx context.Context, token string) (*core.Identity, error) {
	data, err := p.accounts.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.signIn(&core.AuthResult{User: data.User, Session: data.Session, Token: token}), nil
}

// CheckSession verifies the current session is still valid and signs out
// locally when it was revoked, expired or its account disabled.
func (p *LocalProvider) CheckSession(ctx context.Context) error {
	token := p.Token()
	if token == "" {
		return core.ErrNotSignedIn
	}
	_, err := p.accounts.GetSession(ctx, token)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrSessionExpired),
		errors.Is(err, core.ErrAccountDisabled):
		p.logger.Info("session invalidated remotely", zap.Error(err))
		p.clear()
	}
	return err
}

func (p *LocalProvider) GetProfile(ctx context.Context, subjectID string) (*core.Profile, error) {
	return p.profiles.GetProfile(ctx, subjectID)
}

func (p *LocalProvider) SetProfile(ctx context.Context, profile *core.Profile) error {
	return p.profiles.SetProfile(ctx, profile)
}

func (p *LocalProvider) WatchProfile(ctx context.Context, subjectID string, fn func(*core.Profile)) (func(), error) {
	return p.profiles.WatchProfile(ctx, subjectID, fn)
}

// Package remote implements core.CredentialProvider and core.ProfileStore
// against a kasal HTTP API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3/client"
	"github.com/lborres/kasal/core"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	// BaseURL is the API root, e.g. "https://id.example.com/api".
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Provider talks to the HTTP API and holds at most one bearer token.
type Provider struct {
	http   *client.Client
	logger *zap.Logger

	mu       sync.Mutex
	token    string
	identity *core.Identity

	lmu       sync.Mutex
	listeners map[uint64]func(*core.Identity)
	next      uint64
}

var (
	_ core.CredentialProvider = (*Provider)(nil)
	_ core.ProfileStore       = (*Provider)(nil)
)

func New(cfg Config) *Provider {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cc := client.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	return &Provider{
		http:      cc,
		logger:    cfg.Logger,
		listeners: make(map[uint64]func(*core.Identity)),
	}
}

// Token returns the bearer token of the current session, if any.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *Provider) current() *core.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity.Clone()
}

func (p *Provider) signIn(token string, user *core.User) *core.Identity {
	identity := user.Identity()
	p.mu.Lock()
	p.token = token
	p.identity = identity
	p.mu.Unlock()

	p.emit(identity)
	return identity.Clone()
}

func (p *Provider) clear() {
	p.mu.Lock()
	had := p.identity != nil
	p.token = ""
	p.identity = nil
	p.mu.Unlock()
	if had {
		p.emit(nil)
	}
}

func (p *Provider) emit(identity *core.Identity) {
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

// OnStateChange registers fn and calls it at once with the current state.
func (p *Provider) OnStateChange(fn func(*core.Identity)) func() {
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

type request struct {
	method string
	path   string
	body   any
	// authed requests carry the bearer token; a rejected token ends the
	// local session.
	authed bool
}

// do sends r and decodes a 2xx body into out when out is non-nil.
func (p *Provider) do(ctx context.Context, r request, out any) error {
	cfg := client.Config{Ctx: ctx, Header: map[string]string{"Accept": "application/json"}}
	if r.body != nil {
		cfg.Body = r.body
	}
	token := p.Token()
	if r.authed {
		if token == "" {
			return core.ErrNotSignedIn
		}
		cfg.Header["Authorization"] = "Bearer " + token
	}

	resp, err := p.http.Custom(r.path, r.method, cfg)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", r.method, r.path, err)
	}
	defer resp.Close()

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", r.method, r.path, err)
		}
		return nil
	}

	perr := decodeError(status, resp.Body())
	if r.authed && p.Token() == token && sessionRejected(status, perr) {
		p.logger.Info("session rejected by server, signing out",
			zap.String("path", r.path),
			zap.String("code", perr.Code))
		p.clear()
	}
	return perr
}

func decodeError(status int, body []byte) *core.ProviderError {
	var er core.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return &core.ProviderError{
			Code:    "http_" + fmt.Sprint(status),
			Message: fmt.Sprintf("unexpected status %d", status),
		}
	}
	return &core.ProviderError{Code: er.Code, Message: er.Error}
}

func sessionRejected(status int, err *core.ProviderError) bool {
	return status == http.StatusUnauthorized || errors.Is(err, core.ErrAccountDisabled)
}

func (p *Provider) authenticate(ctx context.Context, path string, body any) (*core.Identity, error) {
	var res core.AuthResult
	if err := p.do(ctx, request{method: http.MethodPost, path: path, body: body}, &res); err != nil {
		return nil, err
	}
	if res.User == nil || res.Token == "" {
		return nil, fmt.Errorf("failed to authenticate: incomplete response from %s", path)
	}
	return p.signIn(res.Token, res.User), nil
}

func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*core.Identity, error) {
	return p.authenticate(ctx, "/auth/sign-up", core.SignUpInput{Email: email, Password: password})
}

func (p *Provider) Authenticate(ctx context.Context, email, password string) (*core.Identity, error) {
	return p.authenticate(ctx, "/auth/sign-in", core.SignInInput{Email: email, Password: password})
}

func (p *Provider) AuthenticateFederated(ctx context.Context, consent core.ConsentFlow) (*core.Identity, error) {
	cred, err := consent.Consent(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, core.ErrConsentCancelled
	}
	return p.authenticate(ctx, "/auth/federated", core.FederatedSignInInput{
		Provider: cred.Provider,
		IDToken:  cred.IDToken,
	})
}

// SignOut revokes the session on the server. The local session is cleared
// even when that fails.
func (p *Provider) SignOut(ctx context.Context) error {
	if p.Token() == "" {
		p.clear()
		return nil
	}
	err := p.do(ctx, request{method: http.MethodPost, path: "/auth/sign-out", authed: true}, nil)
	p.clear()
	if errors.Is(err, core.ErrInvalidToken) || errors.Is(err, core.ErrSessionExpired) {
		return nil
	}
	return err
}

func (p *Provider) SendReset(ctx context.Context, email string) error {
	return p.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/password-reset",
		body:   map[string]string{"email": email},
	}, nil)
}

// ConfirmReset sets a new password with a token delivered by SendReset.
func (p *Provider) ConfirmReset(ctx context.Context, token, password string) error {
	return p.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/password-reset/confirm",
		body:   map[string]string{"token": token, "password": password},
	}, nil)
}

func (p *Provider) UpdateDisplayName(ctx context.Context, subjectID, name string) error {
	current := p.current()
	if current == nil {
		return core.ErrNotSignedIn
	}
	if current.SubjectID != subjectID {
		return core.ErrForbidden
	}

	var user core.User
	err := p.do(ctx, request{
		method: http.MethodPatch,
		path:   "/auth/display-name",
		body:   map[string]string{"name": name},
		authed: true,
	}, &user)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.identity != nil && p.identity.SubjectID == user.ID {
		p.identity = user.Identity()
	}
	p.mu.Unlock()
	return nil
}

// Restore resumes a session from a token issued earlier and reports
// SIGNED_IN to listeners.
func (p *Provider) Restore(ctx context.Context, token string) (*core.Identity, error) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()

	data, err := p.session(ctx)
	if err != nil {
		p.mu.Lock()
		if p.identity == nil && p.token == token {
			p.token = ""
		}
		p.mu.Unlock()
		return nil, err
	}
	return p.signIn(token, data.User), nil
}

// CheckSession asks the server whether the current session is still
// valid. A rejected session signs out locally.
func (p *Provider) CheckSession(ctx context.Context) error {
	_, err := p.session(ctx)
	return err
}

func (p *Provider) session(ctx context.Context) (*core.SessionData, error) {
	var data core.SessionData
	if err := p.do(ctx, request{method: http.MethodGet, path: "/auth/session", authed: true}, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, fmt.Errorf("failed to read session: response has no user")
	}
	return &data, nil
}

func profilePath(subjectID string) string {
	return "/profiles/" + url.PathEscape(subjectID)
}

func (p *Provider) GetProfile(ctx context.Context, subjectID string) (*core.Profile, error) {
	var profile core.Profile
	err := p.do(ctx, request{method: http.MethodGet, path: profilePath(subjectID), authed: true}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (p *Provider) SetProfile(ctx context.Context, profile *core.Profile) error {
	if profile == nil {
		return fmt.Errorf("failed to set profile: %w", core.ErrSubjectRequired)
	}
	return p.do(ctx, request{
		method: http.MethodPut,
		path:   profilePath(profile.SubjectID),
		body:   profile,
		authed: true,
	}, nil)
}

// UpdateProfile changes the caller's descriptive profile fields.
func (p *Provider) UpdateProfile(ctx context.Context, subjectID string, u core.ProfileUpdate) (*core.Profile, error) {
	var profile core.Profile
	err := p.do(ctx, request{method: http.MethodPatch, path: profilePath(subjectID), body: u, authed: true}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SetProfileFlags changes approval, premium or active flags. The caller
// must be an active admin.
func (p *Provider) SetProfileFlags(ctx context.Context, subjectID string, f core.ProfileFlags) (*core.Profile, error) {
	var profile core.Profile
	err := p.do(ctx, request{
		method: http.MethodPatch,
		path:   "/admin" + profilePath(subjectID) + "/flags",
		body:   f,
		authed: true,
	}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

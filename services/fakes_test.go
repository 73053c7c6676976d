package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lborres/kasal/adapters/memory"
	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/crypto"
)

// fastPasswords keeps argon2 cheap in tests.
func fastPasswords() crypto.PasswordHandler {
	return &crypto.Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

// failingSessionStorage wraps the memory store and injects errors.
type failingSessionStorage struct {
	*memory.Storage
	createErr error
	deleteErr error
}

func (f *failingSessionStorage) CreateSession(ctx context.Context, s *core.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Storage.CreateSession(ctx, s)
}

func (f *failingSessionStorage) DeleteSessionByHash(ctx context.Context, hash string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Storage.DeleteSessionByHash(ctx, hash)
}

// fakeVerifier maps ID tokens to claims.
type fakeVerifier struct {
	claims map[string]*core.FederatedClaims
}

func (f *fakeVerifier) Verify(_ context.Context, idToken string) (*core.FederatedClaims, error) {
	c, ok := f.claims[idToken]
	if !ok {
		return nil, errors.New("token signature invalid")
	}
	cp := *c
	return &cp, nil
}

// recordingNotifier captures reset tokens.
type recordingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string // email -> token
}

func (r *recordingNotifier) NotifyPasswordReset(_ context.Context, user *core.User, token string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = make(map[string]string)
	}
	r.tokens[user.Email] = token
	return nil
}

func (r *recordingNotifier) token(email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[email]
}

// fakeCredentials is a scriptable core.CredentialProvider.
type fakeCredentials struct {
	mu        sync.Mutex
	accounts  map[string]*core.Identity // email -> identity
	passwords map[string]string
	federated *core.Identity
	current   *core.Identity
	listeners map[int]func(*core.Identity)
	nextID    int
	seq       int

	createErr   error
	updateErr   error
	signOutErr  error
	resetErr    error
	federateErr error
	calls       []string
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{
		accounts:  make(map[string]*core.Identity),
		passwords: make(map[string]string),
		listeners: make(map[int]func(*core.Identity)),
	}
}

func (f *fakeCredentials) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeCredentials) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCredentials) setCurrent(identity *core.Identity) {
	f.current = identity
	fns := make([]func(*core.Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(identity.Clone())
	}
	f.mu.Lock()
}

// Emit simulates a provider state change such as a remote revocation.
func (f *fakeCredentials) Emit(identity *core.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCurrent(identity)
}

func (f *fakeCredentials) CreateAccount(_ context.Context, email, password string) (*core.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateAccount")
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, taken := f.accounts[email]; taken {
		return nil, core.ErrUserExists
	}
	f.seq++
	identity := &core.Identity{SubjectID: "uid-" + email, Email: email}
	f.accounts[email] = identity
	f.passwords[email] = password
	f.setCurrent(identity)
	return identity.Clone(), nil
}

func (f *fakeCredentials) Authenticate(_ context.Context, email, password string) (*core.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Authenticate")
	identity, ok := f.accounts[email]
	if !ok || f.passwords[email] != password {
		return nil, core.ErrInvalidCredentials
	}
	f.setCurrent(identity)
	return identity.Clone(), nil
}

func (f *fakeCredentials) AuthenticateFederated(ctx context.Context, consent core.ConsentFlow) (*core.Identity, error) {
	if _, err := consent.Consent(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AuthenticateFederated")
	if f.federateErr != nil {
		return nil, f.federateErr
	}
	f.setCurrent(f.federated)
	return f.federated.Clone(), nil
}

func (f *fakeCredentials) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SignOut")
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.setCurrent(nil)
	return nil
}

func (f *fakeCredentials) SendReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SendReset")
	return f.resetErr
}

func (f *fakeCredentials) UpdateDisplayName(_ context.Context, subjectID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateDisplayName")
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, identity := range f.accounts {
		if identity.SubjectID == subjectID {
			identity.DisplayName = name
		}
	}
	return nil
}

func (f *fakeCredentials) OnStateChange(fn func(*core.Identity)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	current := f.current.Clone()
	f.mu.Unlock()

	fn(current)
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// fakeProfiles is a map-backed core.ProfileStore. Reads for a subject can
// be held until released to order concurrent fetches.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*core.Profile
	getErr   error
	setErr   error
	gates    map[string]chan struct{}
	late     map[string]*lateRead
	sets     int
}

type lateRead struct {
	reached chan struct{}
	release chan struct{}
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		profiles: make(map[string]*core.Profile),
		gates:    make(map[string]chan struct{}),
		late:     make(map[string]*lateRead),
	}
}

// holdAfterRead makes the next read of subjectID take its result at once
// but deliver it only after release is called. reached is closed when the
// read has taken its result.
func (f *fakeProfiles) holdAfterRead(subjectID string) (reached <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &lateRead{reached: make(chan struct{}), release: make(chan struct{})}
	f.late[subjectID] = l
	var once sync.Once
	return l.reached, func() { once.Do(func() { close(l.release) }) }
}

// hold makes reads of subjectID block until the returned func is called.
func (f *fakeProfiles) hold(subjectID string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[subjectID] = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeProfiles) GetProfile(ctx context.Context, subjectID string) (*core.Profile, error) {
	f.mu.Lock()
	gate := f.gates[subjectID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	p, err := f.read(subjectID)
	late := f.late[subjectID]
	delete(f.late, subjectID)
	f.mu.Unlock()

	if late != nil {
		close(late.reached)
		select {
		case <-late.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p, err
}

func (f *fakeProfiles) read(subjectID string) (*core.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.profiles[subjectID]
	if !ok {
		return nil, core.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (f *fakeProfiles) SetProfile(_ context.Context, p *core.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.profiles[p.SubjectID] = p.Clone()
	return nil
}

func (f *fakeProfiles) put(p *core.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.SubjectID] = p.Clone()
}

func (f *fakeProfiles) count() (profiles, sets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles), f.sets
}

func consentOK() core.ConsentFlow {
	return core.ConsentFunc(func(context.Context) (*core.FederatedCredential, error) {
		return &core.FederatedCredential{Provider: core.ProviderGoogle, IDToken: "tok"}, nil
	})
}

// pausedReadStorage holds GetSessionByHash after its read until resume is
// closed. Embedding the interface hides any revocation reporting.
type pausedReadStorage struct {
	core.SessionStorage
	read   chan struct{}
	resume chan struct{}
}

func (p *pausedReadStorage) GetSessionByHash(ctx context.Context, hash string) (*core.Session, error) {
	session, err := p.SessionStorage.GetSessionByHash(ctx, hash)
	close(p.read)
	<-p.resume
	return session, err
}

// brokenCache misses every read and fails every write.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) (*core.Session, error) {
	return nil, core.ErrCacheNotFound
}
func (brokenCache) Set(context.Context, string, *core.Session) error { return errCacheDown }
func (brokenCache) Delete(context.Context, string) error             { return errCacheDown }
func (brokenCache) Clear(context.Context) error                      { return errCacheDown }

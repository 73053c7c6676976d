package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lborres/kasal/core"
	"go.uber.org/zap"
)

type State int

const (
	StateSignedOut State = iota
	StateSignedIn
)

func (s State) String() string {
	if s == StateSignedIn {
		return "SIGNED_IN"
	}
	return "SIGNED_OUT"
}

// Snapshot is one published view of the session. Snapshots are never
// mutated after publication; Identity and Profile must be treated as
// read-only.
type Snapshot struct {
	State    State
	Identity *core.Identity
	// Profile is nil while Loading, and stays nil when the subject has no
	// profile or the fetch failed.
	Profile *core.Profile
	Loading bool
	Err     error
	Authz   core.Authorization

	gen uint64
}

type event any

type identityEvent struct {
	identity *core.Identity
}

type profileEvent struct {
	gen     uint64
	seq     uint64
	subject string
	profile *core.Profile
	err     error
	watched bool
}

type errorEvent struct {
	err error
}

const eventBuffer = 64

// Observer owns the signed-in identity and its profile. One goroutine
// applies provider events in order and publishes a new Snapshot after each
// change. Profile fetches run asynchronously; a result is applied only if
// no sign-in or sign-out happened since the fetch started.
type Observer struct {
	credentials core.CredentialProvider
	profiles    core.ProfileStore
	logger      *zap.Logger

	events chan event
	done   chan struct{}
	exited chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	unhook    func()

	mu   sync.RWMutex
	snap Snapshot

	subsMu sync.Mutex
	subs   map[uint64]chan Snapshot
	nextID uint64

	// seq orders profile reads by start time
	seq atomic.Uint64

	// loop-owned
	gen       uint64
	applied   uint64
	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func()
	authzKey  authzKey
	authz     core.Authorization
}

type authzKey struct {
	identity *core.Identity
	profile  *core.Profile
	loading  bool
}

func NewObserver(credentials core.CredentialProvider, profiles core.ProfileStore, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		credentials: credentials,
		profiles:    profiles,
		logger:      logger,
		events:      make(chan event, eventBuffer),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		subs:        make(map[uint64]chan Snapshot),
		snap:        Snapshot{State: StateSignedOut, Authz: core.Authorize(nil, nil, false)},
	}
}

// Start subscribes to provider state changes and runs the event loop until
// Stop is called or ctx is done.
func (o *Observer) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		o.ctx, o.cancel = context.WithCancel(ctx)
		go o.loop()
		o.unhook = o.credentials.OnStateChange(func(identity *core.Identity) {
			o.send(identityEvent{identity: identity.Clone()})
		})
		go func() {
			select {
			case <-o.ctx.Done():
				o.Stop()
			case <-o.done:
			}
		}()
	})
}

// Stop detaches from the provider, ends the loop and closes every
// subscription channel.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		if o.unhook != nil {
			o.unhook()
		}
		close(o.done)
		if o.cancel != nil {
			<-o.exited
			o.cancel()
		}

		o.subsMu.Lock()
		for id, ch := range o.subs {
			close(ch)
			delete(o.subs, id)
		}
		o.subsMu.Unlock()
	})
}

func (o *Observer) send(e event) {
	select {
	case o.events <- e:
	case <-o.done:
	}
}

// Snapshot returns the latest published snapshot.
func (o *Observer) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

// Subscribe returns a channel that always holds the most recent snapshot
// not yet received. Intermediate snapshots are dropped when the reader is
// slow. The channel is closed by the returned function or by Stop.
func (o *Observer) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	o.subsMu.Lock()
	select {
	case <-o.done:
		o.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	ch <- o.Snapshot()
	o.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subsMu.Lock()
			defer o.subsMu.Unlock()
			if _, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(ch)
			}
		})
	}
}

// WaitFor blocks until a snapshot satisfies cond and returns it.
func (o *Observer) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	ch, cancel := o.Subscribe()
	defer cancel()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return o.Snapshot(), core.ErrNotSignedIn
			}
			if cond(s) {
				return s, nil
			}
		case <-ctx.Done():
			return o.Snapshot(), ctx.Err()
		}
	}
}

// RefreshProfile fetches the profile of the signed-in subject again.
func (o *Observer) RefreshProfile(ctx context.Context) error {
	snap := o.Snapshot()
	if snap.State != StateSignedIn {
		return core.ErrNotSignedIn
	}
	subject := snap.Identity.SubjectID
	seq := o.seq.Add(1)
	p, err := o.profiles.GetProfile(ctx, subject)
	o.send(profileEvent{gen: snap.gen, seq: seq, subject: subject, profile: p, err: err})
	if err != nil && !errors.Is(err, core.ErrProfileNotFound) {
		return &core.ProfileReadError{SubjectID: subject, Err: err}
	}
	return nil
}

// ReportError records err on the published snapshot.
func (o *Observer) ReportError(err error) {
	o.send(errorEvent{err: err})
}

// ClearError removes the recorded error.
func (o *Observer) ClearError() {
	o.send(errorEvent{})
}

// SignedOut ends the local session without waiting for the provider.
func (o *Observer) SignedOut() {
	o.send(identityEvent{})
}

func (o *Observer) loop() {
	defer close(o.exited)
	defer o.endWatch()

	for {
		select {
		case <-o.done:
			return
		case e := <-o.events:
			o.apply(e)
		}
	}
}

func (o *Observer) apply(e event) {
	next := o.Snapshot()

	switch e := e.(type) {
	case identityEvent:
		if e.identity == nil {
			if next.State == StateSignedOut && next.Err == nil {
				return
			}
			o.gen++
			o.endWatch()
			next = Snapshot{State: StateSignedOut}
			o.logger.Debug("signed out")
			break
		}

		o.gen++
		o.endWatch()
		next = Snapshot{State: StateSignedIn, Identity: e.identity, Loading: true}
		o.fetch(o.gen, e.identity.SubjectID)
		o.logger.Debug("signed in", zap.String("subject_id", e.identity.SubjectID))

	case profileEvent:
		if e.gen != o.gen || next.State != StateSignedIn || next.Identity.SubjectID != e.subject {
			o.logger.Debug("discarding stale profile result", zap.String("subject_id", e.subject))
			return
		}
		if e.seq < o.applied {
			// a read that started later has already been applied
			return
		}
		o.applied = e.seq
		next.Loading = false
		switch {
		case e.err == nil:
			next.Profile = e.profile
			if e.watched && next.Err != nil {
				var readErr *core.ProfileReadError
				if errors.As(next.Err, &readErr) {
					next.Err = nil
				}
			}
		case errors.Is(e.err, core.ErrProfileNotFound):
			next.Profile = nil
			o.logger.Info("signed in without a profile", zap.String("subject_id", e.subject))
		default:
			readErr := &core.ProfileReadError{SubjectID: e.subject, Err: e.err}
			next.Profile = nil
			next.Err = readErr
			o.logger.Warn("profile fetch failed", zap.String("subject_id", e.subject), zap.Error(readErr))
		}

	case errorEvent:
		next.Err = e.err
	}

	o.publish(next)
}

// fetch loads the profile and, when the store supports it, watches it for
// changes. Results carry gen so superseded ones are dropped.
func (o *Observer) fetch(gen uint64, subject string) {
	ctx, cancel := context.WithCancel(o.ctx)

	seq := o.seq.Add(1)
	go func() {
		p, err := o.profiles.GetProfile(ctx, subject)
		if ctx.Err() != nil {
			return
		}
		o.send(profileEvent{gen: gen, seq: seq, subject: subject, profile: p, err: err})
	}()

	stop := cancel
	if watcher, ok := o.profiles.(core.ProfileWatcher); ok {
		unwatch, err := watcher.WatchProfile(ctx, subject, func(p *core.Profile) {
			if p == nil {
				// absence is reported by the fetch
				return
			}
			o.send(profileEvent{gen: gen, seq: o.seq.Add(1), subject: subject, profile: p, watched: true})
		})
		if err != nil {
			o.logger.Warn("profile watch failed", zap.String("subject_id", subject), zap.Error(err))
		} else {
			stop = func() {
				unwatch()
				cancel()
			}
		}
	}
	o.stopWatch = stop
}

func (o *Observer) endWatch() {
	if o.stopWatch != nil {
		o.stopWatch()
		o.stopWatch = nil
	}
}

func (o *Observer) publish(next Snapshot) {
	next.gen = o.gen
	key := authzKey{identity: next.Identity, profile: next.Profile, loading: next.Loading}
	if key != o.authzKey {
		o.authzKey = key
		o.authz = core.Authorize(next.Identity, next.Profile, next.Loading)
	}
	next.Authz = o.authz

	o.mu.Lock()
	o.snap = next
	o.mu.Unlock()

	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
}

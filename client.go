package kasal

import (
	"context"
	"sync/atomic"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/crypto"
	"github.com/lborres/kasal/services"
	"go.uber.org/zap"
)

// ClientConfig wires the client side. Credentials and Profiles are
// required; remote.Provider and services.LocalProvider serve as both.
type ClientConfig struct {
	Credentials CredentialProvider
	Profiles    ProfileStore
	IDs         *crypto.CustomIDGenerator
	Logger      *zap.Logger
}

// Client runs registration and login and keeps the session observer in
// step with them. Failures of the last operation are recorded on the
// published snapshot and cleared by the next successful one.
type Client struct {
	boot     *services.Bootstrap
	observer *services.Observer
	logger   *zap.Logger
	started  atomic.Bool
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.Credentials == nil {
		return nil, core.ErrCredentialProviderNeeded
	}
	if config.Profiles == nil {
		return nil, core.ErrProfileStoreNeeded
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	observer := services.NewObserver(config.Credentials, config.Profiles, logger)
	boot, err := services.NewBootstrap(services.BootstrapConfig{
		Credentials: config.Credentials,
		Profiles:    config.Profiles,
		IDs:         config.IDs,
		Observer:    observer,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{boot: boot, observer: observer, logger: logger}, nil
}

// Start begins observing the credential provider until Stop or ctx ends.
func (c *Client) Start(ctx context.Context) {
	c.started.Store(true)
	c.observer.Start(ctx)
}

func (c *Client) Stop() {
	c.observer.Stop()
}

func (c *Client) Snapshot() Snapshot {
	return c.observer.Snapshot()
}

func (c *Client) Subscribe() (<-chan Snapshot, func()) {
	return c.observer.Subscribe()
}

func (c *Client) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	return c.observer.WaitFor(ctx, cond)
}

func (c *Client) record(err error) error {
	if err != nil {
		c.observer.ReportError(err)
		return err
	}
	c.observer.ClearError()
	return nil
}

// refresh reloads the profile written after the observer's first fetch,
// once the observer has seen subjectID sign in.
func (c *Client) refresh(ctx context.Context, subjectID string) {
	if !c.started.Load() {
		return
	}
	_, err := c.observer.WaitFor(ctx, func(s Snapshot) bool {
		return s.State == services.StateSignedIn && s.Identity.SubjectID == subjectID
	})
	if err != nil {
		c.logger.Warn("session not observed after sign-in", zap.String("subject_id", subjectID), zap.Error(err))
		return
	}
	if err := c.observer.RefreshProfile(ctx); err != nil {
		c.logger.Warn("profile refresh failed", zap.Error(err))
	}
}

func (c *Client) RegisterWithPassword(ctx context.Context, in RegisterInput) (*Identity, error) {
	identity, err := c.boot.RegisterWithPassword(ctx, in)
	if err := c.record(err); err != nil {
		return nil, err
	}
	c.refresh(ctx, identity.SubjectID)
	return identity, nil
}

func (c *Client) LoginWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := c.boot.LoginWithPassword(ctx, email, password)
	if err := c.record(err); err != nil {
		return nil, err
	}
	return identity, nil
}

func (c *Client) LoginWithFederatedProvider(ctx context.Context, consent core.ConsentFlow, opts FederatedOptions) (*FederatedResult, error) {
	result, err := c.boot.LoginWithFederatedProvider(ctx, consent, opts)
	if err := c.record(err); err != nil {
		return nil, err
	}
	if result.Created {
		c.refresh(ctx, result.Identity.SubjectID)
	}
	return result, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.boot.Logout(ctx)
}

func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.record(c.boot.SendPasswordReset(ctx, email))
}

func (c *Client) RefreshProfile(ctx context.Context) error {
	return c.observer.RefreshProfile(ctx)
}

// ClearError drops the recorded failure of the last operation.
func (c *Client) ClearError() {
	c.observer.ClearError()
}

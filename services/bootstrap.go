package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/crypto"
	"go.uber.org/zap"
)

// DefaultDisplayName is used for federated profiles whose provider shares
// no name.
const DefaultDisplayName = "User"

type BootstrapConfig struct {
	Credentials core.CredentialProvider
	Profiles    core.ProfileStore
	IDs         *crypto.CustomIDGenerator
	// Observer, when set, is cleared on Logout whatever the provider says.
	Observer *Observer
	Logger   *zap.Logger
}

// Bootstrap provisions identities and their first profile.
type Bootstrap struct {
	credentials core.CredentialProvider
	profiles    core.ProfileStore
	ids         *crypto.CustomIDGenerator
	observer    *Observer
	logger      *zap.Logger
	now         func() time.Time
}

func NewBootstrap(cfg BootstrapConfig) (*Bootstrap, error) {
	if cfg.Credentials == nil {
		return nil, core.ErrCredentialProviderNeeded
	}
	if cfg.Profiles == nil {
		return nil, core.ErrProfileStoreNeeded
	}
	if cfg.IDs == nil {
		cfg.IDs = crypto.NewCustomID()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Bootstrap{
		credentials: cfg.Credentials,
		profiles:    cfg.Profiles,
		ids:         cfg.IDs,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		now:         time.Now,
	}, nil
}

type RegisterInput struct {
	Email           string
	Password        string
	DisplayName     string
	Role            core.Role
	ServiceCategory string
}

// RegisterWithPassword creates an identity and its default profile.
//
// Provider failures come back as *core.CredentialError. A failed profile
// write comes back as *core.ProfileWriteError; the identity it belongs to
// has already been created and is left without a profile.
func (b *Bootstrap) RegisterWithPassword(ctx context.Context, in RegisterInput) (*core.Identity, error) {
	if !in.Role.Valid() {
		return nil, core.ErrInvalidRole
	}

	identity, err := b.credentials.CreateAccount(ctx, in.Email, in.Password)
	if err != nil {
		return nil, &core.CredentialError{Op: "create account", Err: err}
	}
	identity = identity.Clone()

	name := strings.TrimSpace(in.DisplayName)
	if err := b.credentials.UpdateDisplayName(ctx, identity.SubjectID, name); err != nil {
		return nil, &core.CredentialError{Op: "update display name", Err: err}
	}
	identity.DisplayName = name

	if _, err := b.createProfile(ctx, identity, in.Role, in.ServiceCategory); err != nil {
		return nil, err
	}

	b.logger.Info("identity registered",
		zap.String("subject_id", identity.SubjectID),
		zap.String("role", in.Role.String()))
	return identity, nil
}

func (b *Bootstrap) createProfile(ctx context.Context, identity *core.Identity, role core.Role, category string) (*core.Profile, error) {
	profile, err := core.NewDefaultProfile(core.DefaultProfileInput{
		SubjectID:       identity.SubjectID,
		GeneratedID:     b.ids.Generate(role.String()),
		Role:            role,
		DisplayName:     identity.DisplayName,
		Email:           identity.Email,
		PhotoReference:  identity.PhotoReference,
		ServiceCategory: category,
	}, b.now)
	if err != nil {
		return nil, &core.ProfileWriteError{SubjectID: identity.SubjectID, Err: err}
	}

	if err := b.profiles.SetProfile(ctx, profile); err != nil {
		b.logger.Error("profile write failed, identity has no profile",
			zap.String("subject_id", identity.SubjectID),
			zap.Error(err))
		return nil, &core.ProfileWriteError{SubjectID: identity.SubjectID, Err: err}
	}
	return profile, nil
}

// LoginWithPassword authenticates. It never writes a profile; the observer
// loads the existing one.
func (b *Bootstrap) LoginWithPassword(ctx context.Context, email, password string) (*core.Identity, error) {
	identity, err := b.credentials.Authenticate(ctx, email, password)
	if err != nil {
		return nil, &core.CredentialError{Op: "authenticate", Err: err}
	}
	return identity, nil
}

// FederatedOptions carries the role picked for a first-time federated
// login. An empty Role means none was picked.
type FederatedOptions struct {
	Role            core.Role
	ServiceCategory string
}

type FederatedResult struct {
	Identity *core.Identity
	// Profile is the stored or newly created profile; nil when the subject
	// has none and no role was given.
	Profile *core.Profile
	// Created reports whether this call created the profile.
	Created bool
	Prefill core.Prefill
}

// LoginWithFederatedProvider runs a federated login. An existing profile is
// never rewritten, whatever role is passed. A missing profile is created
// only when opts.Role is set; otherwise the caller is expected to ask for a
// role and call again.
func (b *Bootstrap) LoginWithFederatedProvider(ctx context.Context, consent core.ConsentFlow, opts FederatedOptions) (*FederatedResult, error) {
	if opts.Role != "" && !opts.Role.Valid() {
		return nil, core.ErrInvalidRole
	}

	identity, err := b.credentials.AuthenticateFederated(ctx, consent)
	if err != nil {
		return nil, &core.CredentialError{Op: "authenticate federated", Err: err}
	}
	identity = identity.Clone()

	result := &FederatedResult{
		Identity: identity,
		Prefill: core.Prefill{
			DisplayName:    identity.DisplayName,
			Email:          identity.Email,
			PhotoReference: identity.PhotoReference,
		},
	}

	existing, err := b.profiles.GetProfile(ctx, identity.SubjectID)
	switch {
	case err == nil:
		result.Profile = existing
		return result, nil
	case !errors.Is(err, core.ErrProfileNotFound):
		return nil, &core.ProfileReadError{SubjectID: identity.SubjectID, Err: err}
	}

	if opts.Role == "" {
		b.logger.Info("federated identity has no profile, role required",
			zap.String("subject_id", identity.SubjectID))
		return result, nil
	}

	seed := identity.Clone()
	if strings.TrimSpace(seed.DisplayName) == "" {
		seed.DisplayName = DefaultDisplayName
	}
	profile, err := b.createProfile(ctx, seed, opts.Role, opts.ServiceCategory)
	if err != nil {
		return nil, err
	}
	result.Profile = profile
	result.Created = true
	return result, nil
}

// Logout ends the session. Local state is cleared even when the provider
// call fails; that failure is still returned.
func (b *Bootstrap) Logout(ctx context.Context) error {
	err := b.credentials.SignOut(ctx)
	if b.observer != nil {
		b.observer.SignedOut()
	}
	if err != nil {
		b.logger.Warn("remote sign-out failed, local session ended", zap.Error(err))
		return &core.CredentialError{Op: "sign out", Err: err}
	}
	return nil
}

// SendPasswordReset asks the provider to send a reset to email.
func (b *Bootstrap) SendPasswordReset(ctx context.Context, email string) error {
	if err := b.credentials.SendReset(ctx, email); err != nil {
		return &core.CredentialError{Op: "send reset", Err: err}
	}
	return nil
}

// Package kasal provides identity and role-scoped profiles for a wedding
// services marketplace: a server facade mounting the accounts and profile
// API, and a client facade running the registration and session flows.
package kasal

import (
	"context"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/cache"
	"github.com/lborres/kasal/pkg/crypto"
	"github.com/lborres/kasal/services"
	"go.uber.org/zap"
)

// interfaces
type (
	AuthStorage    = core.AuthStorage
	DocumentStore  = core.DocumentStore
	HTTPAdapter    = core.HTTPAdapter
	TokenVerifier  = core.TokenVerifier
	ResetNotifier  = core.ResetNotifier
	ProfileStore   = core.ProfileStore
	ProfileWatcher = core.ProfileWatcher

	CredentialProvider = core.CredentialProvider
	PasswordHandler    = crypto.PasswordHandler
)

// structs
type (
	SessionConfig = core.SessionConfig
	CacheConfig   = core.CacheConfig
	Identity      = core.Identity
	Profile       = core.Profile
	Role          = core.Role
	Authorization = core.Authorization
	Snapshot      = services.Snapshot
	RegisterInput = services.RegisterInput

	FederatedOptions = services.FederatedOptions
	FederatedResult  = services.FederatedResult
)

const (
	RoleCouple      = core.RoleCouple
	RoleProvider    = core.RoleProvider
	RoleCoordinator = core.RoleCoordinator
	RoleAdmin       = core.RoleAdmin
)

const (
	defaultBasePath     = "/api"
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheMaxSize = 500
)

var (
	DefaultSessionConfig = core.DefaultSessionConfig
	NewArgon2            = crypto.NewArgon2
)

// Config wires the server side. Storage and Documents are required.
type Config struct {
	Storage   AuthStorage
	Documents DocumentStore
	// HTTP, when set, gets every registered endpoint mounted.
	HTTP HTTPAdapter

	// SessionCache must be shared by every instance unless Storage
	// implements core.SessionRevocations; by default sessions are cached
	// in process only for such storage.
	SessionCache core.Cache[*core.Session]
	ProfileCache core.Cache[*core.Profile]
	DisableCache bool
	Cache        CacheConfig

	SessionConfig  *SessionConfig
	PasswordHasher PasswordHandler
	Verifiers      map[string]TokenVerifier
	Notifier       ResetNotifier
	ResetTokenTTL  time.Duration

	BasePath string
	// Plugins are extra endpoints registered next to the built-in ones.
	Plugins [][]core.Endpoint
	Logger  *zap.Logger
}

// Kasal is a configured server instance.
type Kasal struct {
	Accounts *services.Accounts
	Profiles *services.Profiles
	Registry *services.EndpointRegistry
	BasePath string

	logger *zap.Logger
}

func New(config Config) (*Kasal, error) {
	if config.Storage == nil {
		return nil, core.ErrDBAdapterRequired
	}
	if config.Documents == nil {
		return nil, core.ErrDocumentAdapterRequired
	}

	// Set Defaults

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheConfig := config.Cache
	if cacheConfig.TTL <= 0 {
		cacheConfig.TTL = defaultCacheTTL
	}
	if cacheConfig.MaxSize <= 0 {
		cacheConfig.MaxSize = defaultCacheMaxSize
	}

	sessionCache := config.SessionCache
	profileCache := config.ProfileCache
	if config.DisableCache {
		sessionCache, profileCache = nil, nil
	} else {
		// a process-local session cache would keep serving sessions revoked
		// elsewhere unless storage reports revocations
		if _, ok := config.Storage.(core.SessionRevocations); ok && sessionCache == nil {
			sessionCache = cache.NewMemory[*core.Session](cacheConfig)
		}
		if profileCache == nil {
			profileCache = cache.NewMemory[*core.Profile](cacheConfig)
		}
	}

	sessionConfig := config.SessionConfig
	if sessionConfig == nil {
		def := DefaultSessionConfig()
		sessionConfig = &def
	}

	passwordHasher := config.PasswordHasher
	if passwordHasher == nil {
		passwordHasher = crypto.NewArgon2()
	}

	basePath := config.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}

	registry := services.NewEndpointRegistry()
	for _, plugin := range config.Plugins {
		if err := registry.RegisterPlugin(plugin); err != nil {
			return nil, err
		}
	}

	sessions := services.NewSessionManager(*sessionConfig, config.Storage, sessionCache, logger)
	accounts := services.NewAccounts(services.AccountsConfig{
		Storage:   config.Storage,
		Passwords: passwordHasher,
		Sessions:  sessions,
		Verifiers: config.Verifiers,
		Notifier:  config.Notifier,
		ResetTTL:  config.ResetTokenTTL,
		Logger:    logger,
	})
	profiles := services.NewProfiles(services.ProfilesConfig{
		Documents: config.Documents,
		Cache:     profileCache,
		Logger:    logger,
	})

	k := &Kasal{
		Accounts: accounts,
		Profiles: profiles,
		Registry: registry,
		BasePath: basePath,
		logger:   logger,
	}

	if config.HTTP != nil {
		err := config.HTTP.RegisterRoutes(&core.API{
			Auth:       accounts,
			Profiles:   profiles,
			Endpoints:  registry.Endpoints(),
			BasePath:   basePath,
			SessionTTL: sessionConfig.MaxAge,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
	}

	return k, nil
}

// Start runs background work tied to ctx: profile cache invalidation and,
// when sweepEvery is positive, periodic removal of expired sessions.
func (k *Kasal) Start(ctx context.Context, sweepEvery time.Duration) error {
	if err := k.Profiles.Start(ctx); err != nil {
		return err
	}
	if sweepEvery > 0 {
		go k.sweep(ctx, sweepEvery)
	}
	return nil
}

func (k *Kasal) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := k.Accounts.Sessions().Sweep(ctx)
			if err != nil {
				k.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				k.logger.Info("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}

// Close releases what New acquired. Background work started by Start ends
// with its context.
func (k *Kasal) Close() {
	k.Accounts.Sessions().Close()
}

// Local returns an in-process credential provider and profile store over
// this instance, for tooling and tests.
func (k *Kasal) Local() *services.LocalProvider {
	return services.NewLocalProvider(k.Accounts, k.Profiles, k.logger)
}

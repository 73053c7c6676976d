package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/pkg/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProfilesCollection is the document collection holding profiles, keyed by
// subject id.
const ProfilesCollection = "users"

type ProfilesConfig struct {
	Documents core.DocumentStore
	Cache     core.Cache[*core.Profile] // optional
	IDs       *crypto.CustomIDGenerator
	Logger    *zap.Logger
}

// Profiles stores role-scoped profiles as documents.
type Profiles struct {
	docs   core.DocumentStore
	cache  core.Cache[*core.Profile]
	ids    *crypto.CustomIDGenerator
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time

	// fillMu orders cache fills against invalidations; see fill.
	fillMu   sync.RWMutex
	revision uint64
}

var (
	_ core.ProfileHandler = (*Profiles)(nil)
	_ core.ProfileStore   = (*Profiles)(nil)
	_ core.ProfileWatcher = (*Profiles)(nil)
)

func NewProfiles(cfg ProfilesConfig) *Profiles {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IDs == nil {
		cfg.IDs = crypto.NewCustomID()
	}
	return &Profiles{
		docs:   cfg.Documents,
		cache:  cfg.Cache,
		ids:    cfg.IDs,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Start drops cached profiles as their documents change, including writes
// made outside kasal, until ctx is done. Stores that cannot report single
// changes cost a full cache clear per change.
func (s *Profiles) Start(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if watcher, ok := s.docs.(core.ChangeWatcher); ok {
		stop := watcher.WatchChanges(ProfilesCollection, func(c core.Change) {
			s.forget(context.Background(), c.ID)
		})
		go func() {
			<-ctx.Done()
			stop()
		}()
		return nil
	}

	_, err := s.docs.SubscribeCollection(ctx, ProfilesCollection, core.Query{Limit: 1}, func([]*core.Document) {
		s.fillMu.Lock()
		s.revision++
		s.fillMu.Unlock()
		if err := s.cache.Clear(context.Background()); err != nil {
			s.logger.Warn("profile cache clear failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch profiles: %w", err)
	}
	return nil
}

// forget drops subjectID from the cache and voids fills that read the
// store before it.
func (s *Profiles) forget(ctx context.Context, subjectID string) {
	s.group.Forget(subjectID)
	if s.cache == nil {
		return
	}
	s.fillMu.Lock()
	s.revision++
	s.fillMu.Unlock()
	if err := s.cache.Delete(ctx, subjectID); err != nil {
		s.logger.Warn("profile cache delete failed", zap.String("subject_id", subjectID), zap.Error(err))
	}
}

func (s *Profiles) currentRevision() uint64 {
	s.fillMu.RLock()
	defer s.fillMu.RUnlock()
	return s.revision
}

// fill caches p unless the cache was invalidated after revision was read.
func (s *Profiles) fill(ctx context.Context, revision uint64, p *core.Profile) {
	s.fillMu.RLock()
	defer s.fillMu.RUnlock()
	if s.revision != revision {
		return
	}
	if err := s.cache.Set(ctx, p.SubjectID, p); err != nil {
		s.logger.Warn("profile cache set failed", zap.String("subject_id", p.SubjectID), zap.Error(err))
	}
}

func decodeProfile(doc *core.Document) (*core.Profile, error) {
	var p core.Profile
	if err := doc.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", doc.ID, err)
	}
	p.SubjectID = doc.ID
	return &p, nil
}

// Get returns the profile of subjectID or core.ErrProfileNotFound.
// Concurrent misses for one subject share a single store read.
func (s *Profiles) Get(ctx context.Context, subjectID string) (*core.Profile, error) {
	if subjectID == "" {
		return nil, core.ErrSubjectRequired
	}
	if s.cache != nil {
		if p, err := s.cache.Get(ctx, subjectID); err == nil {
			return p.Clone(), nil
		}
	}

	v, err, _ := s.group.Do(subjectID, func() (any, error) {
		var revision uint64
		if s.cache != nil {
			revision = s.currentRevision()
		}
		doc, err := s.docs.Get(ctx, ProfilesCollection, subjectID)
		if err != nil {
			if errors.Is(err, core.ErrDocumentNotFound) {
				return nil, core.ErrProfileNotFound
			}
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		p, err := decodeProfile(doc)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.fill(ctx, revision, p)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Profile).Clone(), nil
}

func (s *Profiles) GetProfile(ctx context.Context, subjectID string) (*core.Profile, error) {
	return s.Get(ctx, subjectID)
}

func (s *Profiles) SetProfile(ctx context.Context, p *core.Profile) error {
	_, err := s.Put(ctx, p.SubjectID, p)
	return err
}

// Put writes the profile of subjectID. A new profile starts active and, for
// gated roles, unapproved and not premium. For an existing profile only the
// descriptive fields are replaced; role, generated id, creation time,
// approval state and activity are kept.
func (s *Profiles) Put(ctx context.Context, subjectID string, p *core.Profile) (*core.Profile, error) {
	if subjectID == "" {
		return nil, core.ErrSubjectRequired
	}
	if p == nil {
		return nil, core.ErrInvalidRole
	}
	if p.SubjectID != "" && p.SubjectID != subjectID {
		return nil, core.ErrForbidden
	}

	existing, err := s.Get(ctx, subjectID)
	if err != nil && !errors.Is(err, core.ErrProfileNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	var next *core.Profile
	if existing == nil {
		if !p.Role.Valid() {
			return nil, core.ErrInvalidRole
		}
		var category string
		if g, ok := p.Gate(); ok && g.ServiceCategory != nil {
			category = *g.ServiceCategory
		}
		next, err = core.NewDefaultProfile(core.DefaultProfileInput{
			SubjectID:       subjectID,
			GeneratedID:     p.GeneratedID,
			Role:            p.Role,
			DisplayName:     p.DisplayName,
			Email:           p.Email,
			PhotoReference:  p.PhotoReference,
			ServiceCategory: category,
		}, func() time.Time { return now })
		if err != nil {
			return nil, err
		}
		if next.GeneratedID == "" {
			next.GeneratedID = s.ids.Generate(next.Role.String())
		}
	} else {
		next = existing.Clone()
		next.DisplayName = strings.TrimSpace(p.DisplayName)
		next.Email = strings.TrimSpace(p.Email)
		next.PhotoReference = p.PhotoReference
		if g, ok := next.Gate(); ok && g.ServiceCategory == nil {
			if in, ok := p.Gate(); ok && in.ServiceCategory != nil {
				g.ServiceCategory = in.ServiceCategory
				next = next.WithGate(g)
			}
		}
		next.UpdatedAt = now
	}

	if err := s.docs.CreateWithID(ctx, ProfilesCollection, subjectID, next); err != nil {
		return nil, fmt.Errorf("failed to write profile: %w", err)
	}
	s.forget(ctx, subjectID)

	if existing == nil {
		s.logger.Info("profile created",
			zap.String("subject_id", subjectID),
			zap.String("role", next.Role.String()),
			zap.String("generated_id", next.GeneratedID))
	}
	return next, nil
}

// Update applies owner-editable changes.
func (s *Profiles) Update(ctx context.Context, subjectID string, u core.ProfileUpdate) (*core.Profile, error) {
	patch := map[string]any{"updatedAt": s.now().UTC()}
	if u.DisplayName != nil {
		patch["displayName"] = strings.TrimSpace(*u.DisplayName)
	}
	if u.PhotoReference != nil {
		patch["photoReference"] = *u.PhotoReference
	}
	return s.patch(ctx, subjectID, patch)
}

// SetFlags applies administrative changes. Approval and premium exist only
// on gated roles.
func (s *Profiles) SetFlags(ctx context.Context, subjectID string, f core.ProfileFlags) (*core.Profile, error) {
	current, err := s.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if (f.IsApproved != nil || f.IsPremium != nil) && !current.Role.Gated() {
		return nil, core.ErrNotGatedRole
	}

	patch := map[string]any{"updatedAt": s.now().UTC()}
	if f.IsApproved != nil {
		patch["isApproved"] = *f.IsApproved
	}
	if f.IsPremium != nil {
		patch["isPremium"] = *f.IsPremium
	}
	if f.IsActive != nil {
		patch["isActive"] = *f.IsActive
	}

	updated, err := s.patch(ctx, subjectID, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("profile flags updated",
		zap.String("subject_id", subjectID),
		zap.Any("approved", f.IsApproved),
		zap.Any("premium", f.IsPremium),
		zap.Any("active", f.IsActive))
	return updated, nil
}

func (s *Profiles) patch(ctx context.Context, subjectID string, patch map[string]any) (*core.Profile, error) {
	if subjectID == "" {
		return nil, core.ErrSubjectRequired
	}
	if err := s.docs.Update(ctx, ProfilesCollection, subjectID, patch); err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			return nil, core.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	s.forget(ctx, subjectID)
	return s.Get(ctx, subjectID)
}

// WatchProfile streams the profile of subjectID as it changes.
func (s *Profiles) WatchProfile(ctx context.Context, subjectID string, fn func(*core.Profile)) (func(), error) {
	return s.docs.Subscribe(ctx, ProfilesCollection, subjectID, func(doc *core.Document) {
		if doc == nil {
			fn(nil)
			return
		}
		p, err := decodeProfile(doc)
		if err != nil {
			s.logger.Warn("undecodable profile", zap.String("subject_id", subjectID), zap.Error(err))
			fn(nil)
			return
		}
		fn(p)
	})
}

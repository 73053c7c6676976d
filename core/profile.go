package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Profile is the application-level record of an identity, keyed 1:1 by
// the identity's subject id.
type Profile struct {
	SubjectID      string
	GeneratedID    string
	Role           Role
	DisplayName    string
	Email          string
	PhotoReference *string
	IsActive       bool

	// Details holds the fields that only exist for Role.
	Details RoleDetails

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleDetails is implemented by exactly one variant per role.
type RoleDetails interface {
	role() Role
}

// Gate is the approval state carried by provider and coordinator profiles.
type Gate struct {
	IsApproved      bool
	IsPremium       bool
	ServiceCategory *string
}

type CoupleDetails struct{}

type ProviderDetails struct {
	Gate
}

type CoordinatorDetails struct {
	Gate
}

type AdminDetails struct{}

func (CoupleDetails) role() Role      { return RoleCouple }
func (ProviderDetails) role() Role    { return RoleProvider }
func (CoordinatorDetails) role() Role { return RoleCoordinator }
func (AdminDetails) role() Role       { return RoleAdmin }

// Gate returns the approval state of a provider or coordinator profile.
// ok is false for every other role.
func (p *Profile) Gate() (gate Gate, ok bool) {
	if p == nil {
		return Gate{}, false
	}
	switch d := p.Details.(type) {
	case ProviderDetails:
		return d.Gate, true
	case CoordinatorDetails:
		return d.Gate, true
	}
	return Gate{}, false
}

// WithGate returns a copy of p whose gate is replaced by g.
// Profiles of ungated roles are returned unchanged.
func (p *Profile) WithGate(g Gate) *Profile {
	cp := *p
	switch p.Details.(type) {
	case ProviderDetails:
		cp.Details = ProviderDetails{Gate: g}
	case CoordinatorDetails:
		cp.Details = CoordinatorDetails{Gate: g}
	}
	return &cp
}

// Clone returns a deep copy so callers can hand out immutable snapshots.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.PhotoReference = cloneString(p.PhotoReference)
	if g, ok := p.Gate(); ok {
		g.ServiceCategory = cloneString(g.ServiceCategory)
		return cp.WithGate(g)
	}
	return &cp
}

func detailsFor(role Role, gate Gate) RoleDetails {
	switch role {
	case RoleCouple:
		return CoupleDetails{}
	case RoleProvider:
		return ProviderDetails{Gate: gate}
	case RoleCoordinator:
		return CoordinatorDetails{Gate: gate}
	case RoleAdmin:
		return AdminDetails{}
	}
	return nil
}

// DefaultProfileInput carries what is known about an identity when its
// profile is first created.
type DefaultProfileInput struct {
	SubjectID       string
	GeneratedID     string
	Role            Role
	DisplayName     string
	Email           string
	PhotoReference  *string
	ServiceCategory string
}

// NewDefaultProfile builds the creation-time profile for a role: active,
// and for gated roles not approved and not premium. ServiceCategory is
// kept only for gated roles.
func NewDefaultProfile(input DefaultProfileInput, now func() time.Time) (*Profile, error) {
	if strings.TrimSpace(input.SubjectID) == "" {
		return nil, ErrSubjectRequired
	}
	if !input.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if now == nil {
		now = time.Now
	}

	var gate Gate
	if category := strings.TrimSpace(input.ServiceCategory); category != "" && input.Role.Gated() {
		gate.ServiceCategory = &category
	}

	ts := now().UTC()
	return &Profile{
		SubjectID:      input.SubjectID,
		GeneratedID:    input.GeneratedID,
		Role:           input.Role,
		DisplayName:    strings.TrimSpace(input.DisplayName),
		Email:          strings.TrimSpace(input.Email),
		PhotoReference: input.PhotoReference,
		IsActive:       true,
		Details:        detailsFor(input.Role, gate),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// profileDocument is the stored shape of a profile. Gated fields are
// flattened and omitted for roles that do not carry them.
type profileDocument struct {
	UID             string    `json:"uid"`
	GeneratedID     string    `json:"generatedId"`
	Role            Role      `json:"role"`
	DisplayName     string    `json:"displayName"`
	Email           string    `json:"email"`
	PhotoReference  *string   `json:"photoReference,omitempty"`
	IsActive        bool      `json:"isActive"`
	IsApproved      *bool     `json:"isApproved,omitempty"`
	IsPremium       *bool     `json:"isPremium,omitempty"`
	ServiceCategory *string   `json:"serviceCategory,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (p Profile) MarshalJSON() ([]byte, error) {
	doc := profileDocument{
		UID:            p.SubjectID,
		GeneratedID:    p.GeneratedID,
		Role:           p.Role,
		DisplayName:    p.DisplayName,
		Email:          p.Email,
		PhotoReference: p.PhotoReference,
		IsActive:       p.IsActive,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if g, ok := p.Gate(); ok {
		doc.IsApproved = &g.IsApproved
		doc.IsPremium = &g.IsPremium
		doc.ServiceCategory = g.ServiceCategory
	}
	return json.Marshal(doc)
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var doc profileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if !doc.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, doc.Role)
	}

	var gate Gate
	if doc.IsApproved != nil {
		gate.IsApproved = *doc.IsApproved
	}
	if doc.IsPremium != nil {
		gate.IsPremium = *doc.IsPremium
	}
	gate.ServiceCategory = doc.ServiceCategory

	*p = Profile{
		SubjectID:      doc.UID,
		GeneratedID:    doc.GeneratedID,
		Role:           doc.Role,
		DisplayName:    doc.DisplayName,
		Email:          doc.Email,
		PhotoReference: doc.PhotoReference,
		IsActive:       doc.IsActive,
		Details:        detailsFor(doc.Role, gate),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	return nil
}

// ProfileUpdate holds the owner-editable fields of a profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName    *string `json:"displayName,omitempty"`
	PhotoReference *string `json:"photoReference,omitempty"`
}

// ProfileFlags holds the administrative fields of a profile.
// Nil fields are left untouched.
type ProfileFlags struct {
	IsApproved *bool `json:"isApproved,omitempty"`
	IsPremium  *bool `json:"isPremium,omitempty"`
	IsActive   *bool `json:"isActive,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

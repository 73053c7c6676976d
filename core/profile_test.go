package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

// Requirement: default profiles are active, unapproved and not premium;
// only gated roles keep a service category.
func TestNewDefaultProfile(t *testing.T) {
	tests := []struct {
		name         string
		input        DefaultProfileInput
		wantErr      error
		wantGated    bool
		wantCategory string
	}{
		{name: "couple ignores category", input: DefaultProfileInput{SubjectID: "uid-1", Role: RoleCouple, ServiceCategory: "florists"}},
		{name: "provider keeps category", input: DefaultProfileInput{SubjectID: "uid-1", Role: RoleProvider, ServiceCategory: " florists "}, wantGated: true, wantCategory: "florists"},
		{name: "coordinator without category", input: DefaultProfileInput{SubjectID: "uid-1", Role: RoleCoordinator}, wantGated: true},
		{name: "admin", input: DefaultProfileInput{SubjectID: "uid-1", Role: RoleAdmin}},
		{name: "missing subject", input: DefaultProfileInput{Role: RoleCouple}, wantErr: ErrSubjectRequired},
		{name: "invalid role", input: DefaultProfileInput{SubjectID: "uid-1", Role: "vendor"}, wantErr: ErrInvalidRole},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			p, err := NewDefaultProfile(test.input, fixedNow)

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.IsActive)
			assert.Equal(t, fixedNow(), p.CreatedAt)
			assert.Equal(t, p.CreatedAt, p.UpdatedAt)

			gate, gated := p.Gate()
			assert.Equal(t, test.wantGated, gated)
			assert.False(t, gate.IsApproved)
			assert.False(t, gate.IsPremium)
			if test.wantCategory == "" {
				assert.Nil(t, gate.ServiceCategory)
			} else {
				require.NotNil(t, gate.ServiceCategory)
				assert.Equal(t, test.wantCategory, *gate.ServiceCategory)
			}
		})
	}
}

// Requirement: the stored document flattens gated fields and omits them
// for other roles.
func TestProfile_DocumentShape(t *testing.T) {
	category := "florists"
	vendor := &Profile{
		SubjectID:   "uid-1",
		GeneratedID: "VND-LOYW3V28ABCD",
		Role:        RoleProvider,
		DisplayName: "Blooms PH",
		IsActive:    true,
		Details:     ProviderDetails{Gate: Gate{IsApproved: true, ServiceCategory: &category}},
	}
	couple := &Profile{SubjectID: "uid-2", Role: RoleCouple, Details: CoupleDetails{}}

	raw, err := json.Marshal(vendor)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "uid-1", fields["uid"])
	assert.Equal(t, "provider", fields["role"])
	assert.Equal(t, true, fields["isApproved"])
	assert.Equal(t, false, fields["isPremium"])
	assert.Equal(t, "florists", fields["serviceCategory"])

	var decoded Profile
	require.NoError(t, json.Unmarshal(raw, &decoded))
	gate, ok := decoded.Gate()
	require.True(t, ok)
	assert.True(t, gate.IsApproved)
	assert.Equal(t, vendor.GeneratedID, decoded.GeneratedID)

	raw, err = json.Marshal(couple)
	require.NoError(t, err)
	fields = nil
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "isApproved")
	assert.NotContains(t, fields, "isPremium")
	assert.NotContains(t, fields, "serviceCategory")
}

// Requirement: documents with an unknown role are rejected.
func TestProfile_UnmarshalInvalidRole(t *testing.T) {
	var p Profile
	err := json.Unmarshal([]byte(`{"uid":"uid-1","role":"superuser"}`), &p)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

// Requirement: clones share no pointers with the original.
func TestProfile_Clone(t *testing.T) {
	category := "florists"
	photo := "p.png"
	p := &Profile{Role: RoleProvider, PhotoReference: &photo, Details: ProviderDetails{Gate: Gate{ServiceCategory: &category}}}

	cp := p.Clone()
	*cp.PhotoReference = "changed"
	gate, _ := cp.Gate()
	*gate.ServiceCategory = "changed"

	assert.Equal(t, "p.png", *p.PhotoReference)
	orig, _ := p.Gate()
	assert.Equal(t, "florists", *orig.ServiceCategory)
	assert.Nil(t, (*Profile)(nil).Clone())
}

// Requirement: roles parse only from the four assignable values.
func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		assert.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("Couple")
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.True(t, RoleProvider.Gated())
	assert.False(t, RoleAdmin.Gated())
}

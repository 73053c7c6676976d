package services

import (
	"testing"

	"github.com/lborres/kasal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requirement: BaseEndpoints describes every route of the HTTP API with its access level.
func TestBaseEndpoints(t *testing.T) {
	tests := []struct {
		method     string
		path       string
		wantOpID   string
		wantAccess string
	}{
		{method: "POST", path: "/auth/sign-up", wantOpID: "signUpWithEmailAndPassword", wantAccess: core.AccessPublic},
		{method: "POST", path: "/auth/sign-in", wantOpID: "signInWithEmailAndPassword", wantAccess: core.AccessPublic},
		{method: "POST", path: "/auth/federated", wantOpID: "signInWithFederatedProvider", wantAccess: core.AccessPublic},
		{method: "POST", path: "/auth/sign-out", wantOpID: "signOut", wantAccess: core.AccessSession},
		{method: "GET", path: "/auth/session", wantOpID: "getSession", wantAccess: core.AccessSession},
		{method: "POST", path: "/auth/password-reset", wantOpID: "requestPasswordReset", wantAccess: core.AccessPublic},
		{method: "POST", path: "/auth/password-reset/confirm", wantOpID: "confirmPasswordReset", wantAccess: core.AccessPublic},
		{method: "PATCH", path: "/auth/display-name", wantOpID: "updateDisplayName", wantAccess: core.AccessSession},
		{method: "GET", path: "/profiles/:id", wantOpID: "getProfile", wantAccess: core.AccessSession},
		{method: "PUT", path: "/profiles/:id", wantOpID: "putProfile", wantAccess: core.AccessOwner},
		{method: "PATCH", path: "/profiles/:id", wantOpID: "updateProfile", wantAccess: core.AccessOwner},
		{method: "PATCH", path: "/admin/profiles/:id/flags", wantOpID: "setProfileFlags", wantAccess: core.AccessAdmin},
		{method: "POST", path: "/admin/users/:id/disable", wantOpID: "disableUser", wantAccess: core.AccessAdmin},
	}

	// Arrange
	endpoints := BaseEndpoints()
	byKey := make(map[string]core.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byKey[ep.Method+":"+ep.Path] = ep
	}

	// Assert
	require.Len(t, endpoints, len(tests))
	for _, test := range tests {
		test := test
		t.Run(test.wantOpID, func(t *testing.T) {
			ep, ok := byKey[test.method+":"+test.path]
			require.True(t, ok, "missing %s %s", test.method, test.path)
			assert.Equal(t, test.wantOpID, ep.Metadata.OperationID)
			assert.Equal(t, test.wantAccess, ep.Metadata.Access)
			assert.NotEmpty(t, ep.Metadata.Description)
		})
	}
}

// Requirement: plugins register atomically and conflicts are rejected.
func TestEndpointRegistry_RegisterPlugin(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []core.Endpoint
		wantErr   bool
		wantCount int
	}{
		{
			name:      "new endpoints are added",
			endpoints: []core.Endpoint{{Path: "/vendors", Method: "GET"}, {Path: "/vendors", Method: "POST"}},
			wantCount: len(BaseEndpoints()) + 2,
		},
		{
			name:      "conflict with base endpoint",
			endpoints: []core.Endpoint{{Path: "/vendors", Method: "GET"}, {Path: "/auth/sign-in", Method: "POST"}},
			wantErr:   true,
			wantCount: len(BaseEndpoints()),
		},
		{
			name:      "duplicate within batch",
			endpoints: []core.Endpoint{{Path: "/vendors", Method: "GET"}, {Path: "/vendors", Method: "GET"}},
			wantErr:   true,
			wantCount: len(BaseEndpoints()),
		},
		{
			name:      "same path different method",
			endpoints: []core.Endpoint{{Path: "/auth/sign-in", Method: "GET"}},
			wantCount: len(BaseEndpoints()) + 1,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			reg := NewEndpointRegistry()

			// Act
			err := reg.RegisterPlugin(test.endpoints)

			// Assert
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, reg.Endpoints(), test.wantCount)
		})
	}
}

// Requirement: Endpoints returns a stable order and Lookup finds by operation id.
func TestEndpointRegistry_EndpointsAndLookup(t *testing.T) {
	reg := NewEndpointRegistry()

	eps := reg.Endpoints()
	for i := 1; i < len(eps); i++ {
		prev, cur := eps[i-1], eps[i]
		assert.True(t, prev.Path < cur.Path || (prev.Path == cur.Path && prev.Method < cur.Method))
	}

	ep, ok := reg.Lookup("setProfileFlags")
	require.True(t, ok)
	assert.Equal(t, "/admin/profiles/:id/flags", ep.Path)

	_, ok = reg.Lookup("refreshToken")
	assert.False(t, ok)
}

package services

import (
	"fmt"
	"sort"

	"github.com/lborres/kasal/core"
)

// BaseEndpoints returns framework-agnostic endpoint specifications for
// kasal's identity and profile API. Paths are relative to the base path;
// adapters bind a handler per OperationID.
func BaseEndpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:   "/auth/sign-up",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "signUpWithEmailAndPassword",
				Description: "Sign up a user using email and password",
				Access:      core.AccessPublic,
			},
		},
		{
			Path:   "/auth/sign-in",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "signInWithEmailAndPassword",
				Description: "Sign in a user using email and password",
				Access:      core.AccessPublic,
			},
		},
		{
			Path:   "/auth/federated",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "signInWithFederatedProvider",
				Description: "Sign in with an ID token issued by a federated identity provider",
				Access:      core.AccessPublic,
			},
		},
		{
			Path:   "/auth/sign-out",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "signOut",
				Description: "Sign out the current user and invalidate the session",
				Access:      core.AccessSession,
			},
		},
		{
			Path:   "/auth/session",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: "getSession",
				Description: "Get the current user's session data",
				Access:      core.AccessSession,
			},
		},
		{
			Path:   "/auth/password-reset",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "requestPasswordReset",
				Description: "Send a password reset token to an email address",
				Access:      core.AccessPublic,
			},
		},
		{
			Path:   "/auth/password-reset/confirm",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "confirmPasswordReset",
				Description: "Set a new password using a reset token",
				Access:      core.AccessPublic,
			},
		},
		{
			Path:   "/auth/display-name",
			Method: "PATCH",
			Metadata: core.EndpointMetadata{
				OperationID: "updateDisplayName",
				Description: "Change the current user's display name",
				Access:      core.AccessSession,
			},
		},
		{
			Path:   "/profiles/:id",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: "getProfile",
				Description: "Get a profile by subject id",
				Access:      core.AccessSession,
			},
		},
		{
			Path:   "/profiles/:id",
			Method: "PUT",
			Metadata: core.EndpointMetadata{
				OperationID: "putProfile",
				Description: "Create the caller's profile or replace its descriptive fields",
				Access:      core.AccessOwner,
			},
		},
		{
			Path:   "/profiles/:id",
			Method: "PATCH",
			Metadata: core.EndpointMetadata{
				OperationID: "updateProfile",
				Description: "Update the caller's display name or photo",
				Access:      core.AccessOwner,
			},
		},
		{
			Path:   "/admin/profiles/:id/flags",
			Method: "PATCH",
			Metadata: core.EndpointMetadata{
				OperationID: "setProfileFlags",
				Description: "Set approval, premium and active flags of a profile",
				Access:      core.AccessAdmin,
			},
		},
		{
			Path:   "/admin/users/:id/disable",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: "disableUser",
				Description: "Disable a user and revoke all of their sessions",
				Access:      core.AccessAdmin,
			},
		},
	}
}

// EndpointRegistry manages a collection of framework-agnostic endpoints
// and handles conflict detection for duplicate METHOD:PATH combinations.
type EndpointRegistry struct {
	// endpoints stores all registered endpoints keyed by "METHOD:PATH"
	endpoints map[string]*core.Endpoint
}

// NewEndpointRegistry creates a new registry with all base endpoints
// pre-registered.
func NewEndpointRegistry() *EndpointRegistry {
	reg := &EndpointRegistry{
		endpoints: make(map[string]*core.Endpoint),
	}

	for _, ep := range BaseEndpoints() {
		ep := ep
		reg.endpoints[endpointKey(&ep)] = &ep
	}

	return reg
}

func endpointKey(ep *core.Endpoint) string {
	return fmt.Sprintf("%s:%s", ep.Method, ep.Path)
}

// RegisterPlugin registers additional endpoints. It fails without
// registering anything if any endpoint conflicts with a registered one or
// with another in the same batch.
func (r *EndpointRegistry) RegisterPlugin(endpoints []core.Endpoint) error {
	seen := make(map[string]bool, len(endpoints))
	for i := range endpoints {
		ep := &endpoints[i]
		key := endpointKey(ep)

		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("plugin endpoint conflict: %s %s already registered", ep.Method, ep.Path)
		}
		if seen[key] {
			return fmt.Errorf("plugin contains duplicate endpoint: %s %s", ep.Method, ep.Path)
		}
		seen[key] = true
	}

	for i := range endpoints {
		ep := endpoints[i]
		r.endpoints[endpointKey(&ep)] = &ep
	}

	return nil
}

// Endpoints returns every registered endpoint ordered by path then method.
func (r *EndpointRegistry) Endpoints() []*core.Endpoint {
	result := make([]*core.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		result = append(result, ep)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Path != result[j].Path {
			return result[i].Path < result[j].Path
		}
		return result[i].Method < result[j].Method
	})
	return result
}

// Lookup returns the endpoint with the given operation id.
func (r *EndpointRegistry) Lookup(operationID string) (*core.Endpoint, bool) {
	for _, ep := range r.endpoints {
		if ep.Metadata.OperationID == operationID {
			return ep, true
		}
	}
	return nil, false
}

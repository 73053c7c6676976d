// Package fiber mounts kasal's HTTP API on a Fiber app.
package fiber

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/lborres/kasal/core"
	"go.uber.org/zap"
)

type Adapter struct {
	app    *fiber.App
	api    *core.API
	logger *zap.Logger
}

var _ core.HTTPAdapter = (*Adapter)(nil)

func New(app *fiber.App) *Adapter {
	return &Adapter{app: app, logger: zap.NewNop()}
}

// RegisterRoutes binds a handler to every endpoint of api by operation id
// and guards it according to the endpoint's access level.
func (a *Adapter) RegisterRoutes(api *core.API) error {
	if api == nil || api.Auth == nil {
		return errors.New("auth handler is required")
	}
	a.api = api
	if api.Logger != nil {
		a.logger = api.Logger
	}

	handlers := map[string]fiber.Handler{
		"signUpWithEmailAndPassword":  a.signUp,
		"signInWithEmailAndPassword":  a.signIn,
		"signInWithFederatedProvider": a.signInFederated,
		"signOut":                     a.signOut,
		"getSession":                  a.session,
		"requestPasswordReset":        a.requestPasswordReset,
		"confirmPasswordReset":        a.confirmPasswordReset,
		"updateDisplayName":           a.updateDisplayName,
		"getProfile":                  a.getProfile,
		"putProfile":                  a.putProfile,
		"updateProfile":               a.updateProfile,
		"setProfileFlags":             a.setProfileFlags,
		"disableUser":                 a.disableUser,
	}

	group := a.app.Group(api.BasePath)
	for _, ep := range api.Endpoints {
		h, ok := handlers[ep.Metadata.OperationID]
		if !ok {
			a.logger.Warn("no handler for endpoint, skipping",
				zap.String("operation_id", ep.Metadata.OperationID),
				zap.String("path", ep.Path))
			continue
		}
		if api.Profiles == nil && needsProfiles(ep.Metadata) {
			return fmt.Errorf("operation %s: %w", ep.Metadata.OperationID, core.ErrProfileStoreNeeded)
		}
		group.Add([]string{ep.Method}, ep.Path, a.guard(ep.Metadata.Access, h))
	}

	return nil
}

func needsProfiles(m core.EndpointMetadata) bool {
	switch m.OperationID {
	case "getProfile", "putProfile", "updateProfile", "setProfileFlags":
		return true
	}
	return m.Access == core.AccessAdmin
}

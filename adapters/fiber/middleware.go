package fiber

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/lborres/kasal/core"
)

const (
	localsUser    = "user"
	localsSession = "session"

	// SessionCookie carries the session token for browser clients.
	SessionCookie = "auth_token"
)

// guard wraps h with the checks its access level needs.
func (a *Adapter) guard(access string, h fiber.Handler) fiber.Handler {
	switch access {
	case core.AccessSession:
		return func(c fiber.Ctx) error {
			if err := a.authenticate(c); err != nil {
				return a.fail(c, err)
			}
			return h(c)
		}
	case core.AccessOwner:
		return func(c fiber.Ctx) error {
			if err := a.authenticate(c); err != nil {
				return a.fail(c, err)
			}
			if currentUser(c).ID != c.Params("id") {
				return a.fail(c, core.ErrForbidden)
			}
			return h(c)
		}
	case core.AccessAdmin:
		return func(c fiber.Ctx) error {
			if err := a.authenticate(c); err != nil {
				return a.fail(c, err)
			}
			if err := a.requireAdmin(c); err != nil {
				return a.fail(c, err)
			}
			return h(c)
		}
	}
	return h
}

// authenticate validates the request's token and stores user and session
// in the context for downstream handlers.
func (a *Adapter) authenticate(c fiber.Ctx) error {
	token, err := extractToken(c)
	if err != nil {
		return err
	}

	sessionData, err := a.api.Auth.GetSession(c.Context(), token)
	if err != nil {
		return err
	}

	c.Locals(localsUser, sessionData.User)
	c.Locals(localsSession, sessionData.Session)
	return nil
}

// requireAdmin admits active admin profiles only.
func (a *Adapter) requireAdmin(c fiber.Ctx) error {
	profile, err := a.api.Profiles.Get(c.Context(), currentUser(c).ID)
	if err != nil {
		if errors.Is(err, core.ErrProfileNotFound) {
			return core.ErrForbidden
		}
		return err
	}
	if profile.Role != core.RoleAdmin || !profile.IsActive {
		return core.ErrForbidden
	}
	return nil
}

// extractToken reads the bearer token, falling back to the session cookie.
func extractToken(c fiber.Ctx) (string, error) {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return "", core.ErrInvalidAuthHeader
		}
		return token, nil
	}
	if token := c.Cookies(SessionCookie); token != "" {
		return token, nil
	}
	return "", core.ErrMissingAuthHeader
}

func currentUser(c fiber.Ctx) *core.User {
	user, _ := c.Locals(localsUser).(*core.User)
	if user == nil {
		return &core.User{}
	}
	return user
}

func currentSession(c fiber.Ctx) *core.Session {
	session, _ := c.Locals(localsSession).(*core.Session)
	return session
}

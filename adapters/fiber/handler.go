package fiber

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/lborres/kasal/core"
	"go.uber.org/zap"
)

type messageResponse struct {
	Message string `json:"message"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirm struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type displayNameRequest struct {
	Name string `json:"name"`
}

var errInvalidBody = errors.New("invalid request body")

func (a *Adapter) bind(c fiber.Ctx, v any) error {
	if err := c.Bind().Body(v); err != nil {
		return a.fail(c, errInvalidBody)
	}
	return nil
}

func (a *Adapter) setSessionCookie(c fiber.Ctx, result *core.AuthResult) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    result.Token,
		Path:     "/",
		Expires:  result.Session.ExpiresAt,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *Adapter) signUp(c fiber.Ctx) error {
	var input core.SignUpInput
	if err := a.bind(c, &input); err != nil {
		return err
	}

	ip, userAgent := clientInfo(c)
	result, err := a.api.Auth.SignUp(c.Context(), input, ip, userAgent)
	if err != nil {
		return a.fail(c, err)
	}

	a.setSessionCookie(c, result)
	return c.Status(http.StatusCreated).JSON(result)
}

func (a *Adapter) signIn(c fiber.Ctx) error {
	var input core.SignInInput
	if err := a.bind(c, &input); err != nil {
		return err
	}

	ip, userAgent := clientInfo(c)
	result, err := a.api.Auth.SignIn(c.Context(), input, ip, userAgent)
	if err != nil {
		return a.fail(c, err)
	}

	a.setSessionCookie(c, result)
	return c.Status(http.StatusOK).JSON(result)
}

func (a *Adapter) signInFederated(c fiber.Ctx) error {
	var input core.FederatedSignInInput
	if err := a.bind(c, &input); err != nil {
		return err
	}

	ip, userAgent := clientInfo(c)
	result, err := a.api.Auth.SignInFederated(c.Context(), input, ip, userAgent)
	if err != nil {
		return a.fail(c, err)
	}

	a.setSessionCookie(c, result)
	status := http.StatusOK
	if result.IsNewUser {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(result)
}

func (a *Adapter) signOut(c fiber.Ctx) error {
	token, err := extractToken(c)
	if err != nil {
		return a.fail(c, err)
	}
	if err := a.api.Auth.SignOut(c.Context(), token); err != nil {
		return a.fail(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "signed out successfully"})
}

func (a *Adapter) session(c fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(core.SessionData{
		User:    currentUser(c),
		Session: currentSession(c),
	})
}

func (a *Adapter) requestPasswordReset(c fiber.Ctx) error {
	var input passwordResetRequest
	if err := a.bind(c, &input); err != nil {
		return err
	}
	if err := a.api.Auth.RequestPasswordReset(c.Context(), input.Email); err != nil {
		return a.fail(c, err)
	}
	// unknown addresses get the same answer
	return c.Status(http.StatusAccepted).JSON(messageResponse{Message: "if the address is registered, a reset has been sent"})
}

func (a *Adapter) confirmPasswordReset(c fiber.Ctx) error {
	var input passwordResetConfirm
	if err := a.bind(c, &input); err != nil {
		return err
	}
	if err := a.api.Auth.ResetPassword(c.Context(), input.Token, input.Password); err != nil {
		return a.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "password updated"})
}

func (a *Adapter) updateDisplayName(c fiber.Ctx) error {
	var input displayNameRequest
	if err := a.bind(c, &input); err != nil {
		return err
	}
	user, err := a.api.Auth.UpdateName(c.Context(), currentUser(c).ID, input.Name)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(user)
}

func (a *Adapter) getProfile(c fiber.Ctx) error {
	profile, err := a.api.Profiles.Get(c.Context(), pathID(c))
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

func (a *Adapter) putProfile(c fiber.Ctx) error {
	// decoded directly so role validation errors keep their identity
	var profile core.Profile
	if err := json.Unmarshal(c.Body(), &profile); err != nil {
		if errors.Is(err, core.ErrInvalidRole) {
			return a.fail(c, err)
		}
		return a.fail(c, errInvalidBody)
	}

	saved, err := a.api.Profiles.Put(c.Context(), pathID(c), &profile)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(saved)
}

func (a *Adapter) updateProfile(c fiber.Ctx) error {
	var update core.ProfileUpdate
	if err := a.bind(c, &update); err != nil {
		return err
	}
	profile, err := a.api.Profiles.Update(c.Context(), pathID(c), update)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

func (a *Adapter) setProfileFlags(c fiber.Ctx) error {
	var flags core.ProfileFlags
	if err := a.bind(c, &flags); err != nil {
		return err
	}
	id := pathID(c)
	profile, err := a.api.Profiles.SetFlags(c.Context(), id, flags)
	if err != nil {
		return a.fail(c, err)
	}
	a.logger.Info("profile flags changed by admin",
		zap.String("admin_id", currentUser(c).ID),
		zap.String("subject_id", id))
	return c.Status(http.StatusOK).JSON(profile)
}

func (a *Adapter) disableUser(c fiber.Ctx) error {
	id := pathID(c)
	if err := a.api.Auth.DisableUser(c.Context(), id); err != nil {
		return a.fail(c, err)
	}
	a.logger.Info("user disabled by admin",
		zap.String("admin_id", currentUser(c).ID),
		zap.String("user_id", id))
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "user disabled"})
}

// pathID copies the :id route parameter. fiber hands out views into a
// request buffer that is reused once the handler returns.
func pathID(c fiber.Ctx) string {
	return strings.Clone(c.Params("id"))
}

// clientInfo copies the caller address and user agent kept on new sessions.
func clientInfo(c fiber.Ctx) (ip, userAgent string) {
	return strings.Clone(c.IP()), strings.Clone(c.Get(fiber.HeaderUserAgent))
}

// fail writes err as an ErrorResponse. Unexpected errors are logged and
// reported without their details.
func (a *Adapter) fail(c fiber.Ctx, err error) error {
	status := mapErrorToStatus(err)
	body := core.ErrorResponse{Error: err.Error(), Code: core.ErrorCode(err)}
	switch {
	case errors.Is(err, errInvalidBody):
		body.Code = "invalid_body"
	case status == http.StatusInternalServerError:
		a.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		body.Error = "internal server error"
	}
	return c.Status(status).JSON(body)
}

// mapErrorToStatus maps kasal error types to HTTP status codes
func mapErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionExpired),
		errors.Is(err, core.ErrMissingAuthHeader),
		errors.Is(err, core.ErrInvalidAuthHeader),
		errors.Is(err, core.ErrInvalidIDToken):
		return http.StatusUnauthorized

	case errors.Is(err, core.ErrAccountDisabled),
		errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrProfileNotFound),
		errors.Is(err, core.ErrDocumentNotFound):
		return http.StatusNotFound

	case errors.Is(err, core.ErrUserExists):
		return http.StatusConflict

	case errors.Is(err, errInvalidBody),
		errors.Is(err, core.ErrEmailRequired),
		errors.Is(err, core.ErrPasswordRequired),
		errors.Is(err, core.ErrPasswordTooShort),
		errors.Is(err, core.ErrPasswordTooLong),
		errors.Is(err, core.ErrInvalidEmail),
		errors.Is(err, core.ErrInvalidRole),
		errors.Is(err, core.ErrSubjectRequired),
		errors.Is(err, core.ErrResetTokenInvalid),
		errors.Is(err, core.ErrUnsupportedProvider),
		errors.Is(err, core.ErrConsentCancelled),
		errors.Is(err, core.ErrNotGatedRole):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrNotImplemented):
		return http.StatusNotImplemented

	default:
		return http.StatusInternalServerError
	}
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/authguard-server/internal/core"
	"github.com/example/authguard-server/internal/pipeline"
	"github.com/example/authguard-server/internal/ratelimit"
	"github.com/example/authguard-server/internal/router"
)

// handlerSet holds the dependencies every endpoint handler needs.
type handlerSet struct {
	core       core.Port
	bruteForce *ratelimit.BruteForce
}

// registerRoutes binds every endpoint in spec §6 onto r.
func registerRoutes(r *router.Router, hs *handlerSet) {
	r.Handle(fiber.MethodGet, "/healthz", pipeline.Handler(hs.health))

	r.Handle(fiber.MethodPost, "/auth/signup", pipeline.Handler(hs.signup))
	r.Handle(fiber.MethodPut, "/auth/signup/:username", pipeline.Handler(hs.confirmSignup))
	r.Handle(fiber.MethodDelete, "/auth/signup/:username", pipeline.Handler(hs.deleteAccount))

	r.Handle(fiber.MethodPost, "/auth/signin/:username", pipeline.Handler(hs.signin))
	r.Handle(fiber.MethodGet, "/auth/signin/:username", pipeline.Handler(hs.getUser))
	r.Handle(fiber.MethodDelete, "/auth/signin/:username", pipeline.Handler(hs.signOut))

	r.Handle(fiber.MethodPut, "/auth/refresh/:token", pipeline.Handler(hs.refresh))

	r.Handle(fiber.MethodPost, "/auth/forgot/:username", pipeline.Handler(hs.forgotPassword))
	r.Handle(fiber.MethodPut, "/auth/forgot/:username", pipeline.Handler(hs.resetPassword))

	r.Handle(fiber.MethodGet, "/auth/info", pipeline.Handler(hs.listUsers))
	r.Handle(fiber.MethodGet, "/auth/info/:username", pipeline.Handler(hs.getUser))
	r.Handle(fiber.MethodGet, "/auth/access/info", pipeline.Handler(hs.accessInfo))

	r.Handle(fiber.MethodGet, "/private/*", pipeline.Handler(hs.privateGet))
	r.Handle(fiber.MethodPost, "/private/*", pipeline.Handler(hs.privatePost))
	r.Handle(fiber.MethodDelete, "/private/*", pipeline.Handler(hs.privateDelete))
}

func (hs *handlerSet) health(ctx *pipeline.Context) pipeline.Outcome {
	return pipeline.RespondJSON(fiber.StatusOK, fiber.Map{"status": "healthy"})
}

func (hs *handlerSet) signup(ctx *pipeline.Context) pipeline.Outcome {
	req := core.SignupRequest{
		Username: bodyString(ctx.Body, "username"),
		Email:    bodyString(ctx.Body, "email"),
		Password: bodyString(ctx.Body, "password"),
	}
	resp, err := hs.core.Signup(ctx.Fiber.UserContext(), req)
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) confirmSignup(ctx *pipeline.Context) pipeline.Outcome {
	req := core.ConfirmSignupRequest{
		Username: ctx.Params["username"],
		Code:     bodyString(ctx.Body, "code"),
	}
	if hs.bruteForce.TryAttempt(ctx.Client, ctx.Path) == ratelimit.Exceeded {
		return pipeline.RespondJSON(fiber.StatusTooManyRequests, fiber.Map{"error": "Too many requests"})
	}
	resp, err := hs.core.ConfirmSignup(ctx.Fiber.UserContext(), req)
	if err != nil {
		return errorOutcome(err)
	}
	hs.bruteForce.Release(ctx.Client, ctx.Path)
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) deleteAccount(ctx *pipeline.Context) pipeline.Outcome {
	resp, err := hs.core.DeleteAccount(ctx.Fiber.UserContext(), ctx.Params["username"])
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) signin(ctx *pipeline.Context) pipeline.Outcome {
	if hs.bruteForce.TryAttempt(ctx.Client, ctx.Path) == ratelimit.Exceeded {
		return pipeline.RespondJSON(fiber.StatusTooManyRequests, fiber.Map{"error": "Too many requests"})
	}
	req := core.SigninRequest{
		Username: ctx.Params["username"],
		Password: bodyString(ctx.Body, "password"),
	}
	resp, err := hs.core.Signin(ctx.Fiber.UserContext(), req)
	if err != nil {
		return errorOutcome(err)
	}
	hs.bruteForce.Release(ctx.Client, ctx.Path)
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) signOut(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	resp, err := hs.core.SignOut(ctx.Fiber.UserContext(), ctx.User)
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) refresh(ctx *pipeline.Context) pipeline.Outcome {
	req := core.RefreshRequest{
		Token:   ctx.Params["token"],
		Replace: bodyBool(ctx.Body, "replace"),
	}
	resp, err := hs.core.Refresh(ctx.Fiber.UserContext(), req)
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) forgotPassword(ctx *pipeline.Context) pipeline.Outcome {
	if hs.bruteForce.TryAttempt(ctx.Client, ctx.Path) == ratelimit.Exceeded {
		return pipeline.RespondJSON(fiber.StatusTooManyRequests, fiber.Map{"error": "Too many requests"})
	}
	resp, err := hs.core.ForgotPassword(ctx.Fiber.UserContext(), ctx.Params["username"])
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) resetPassword(ctx *pipeline.Context) pipeline.Outcome {
	if hs.bruteForce.TryAttempt(ctx.Client, ctx.Path) == ratelimit.Exceeded {
		return pipeline.RespondJSON(fiber.StatusTooManyRequests, fiber.Map{"error": "Too many requests"})
	}
	req := core.ResetPasswordRequest{
		Username: ctx.Params["username"],
		Code:     bodyString(ctx.Body, "code"),
		Password: bodyString(ctx.Body, "password"),
	}
	resp, err := hs.core.ResetPassword(ctx.Fiber.UserContext(), req)
	if err != nil {
		return errorOutcome(err)
	}
	hs.bruteForce.Release(ctx.Client, ctx.Path)
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) getUser(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	username := ctx.Params["username"]
	if username == "" {
		username = ctx.User.Name
	}
	view, err := hs.core.GetUser(ctx.Fiber.UserContext(), username, ctx.User)
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, view)
}

func (hs *handlerSet) listUsers(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	resp, err := hs.core.ListUsers(ctx.Fiber.UserContext(), ctx.User)
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) accessInfo(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	resp, err := hs.core.AccessInfo(ctx.Fiber.UserContext(), ctx.User)
	if err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp)
}

func (hs *handlerSet) privateGet(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	suffix := ctx.Params["*"]

	if ctx.Method == fiber.MethodHead {
		found, err := hs.core.PrivateExists(ctx.Fiber.UserContext(), ctx.User, suffix)
		if err != nil {
			return errorOutcome(err)
		}
		if !found {
			return pipeline.Outcome{Kind: pipeline.Respond, Status: fiber.StatusNotFound}
		}
		return pipeline.Outcome{Kind: pipeline.Respond, Status: fiber.StatusOK}
	}

	resp, err := hs.core.PrivateGet(ctx.Fiber.UserContext(), ctx.User, suffix)
	if err != nil {
		return errorOutcome(err)
	}
	if !resp.Found {
		return pipeline.RespondJSON(fiber.StatusNotFound, fiber.Map{"error": "Not found"})
	}
	return pipeline.RespondJSON(fiber.StatusOK, resp.Document)
}

func (hs *handlerSet) privatePost(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	suffix := ctx.Params["*"]
	if err := hs.core.PrivatePost(ctx.Fiber.UserContext(), ctx.User, suffix, ctx.Body); err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusCreated, fiber.Map{"success": true})
}

func (hs *handlerSet) privateDelete(ctx *pipeline.Context) pipeline.Outcome {
	if ctx.User == nil {
		return pipeline.RespondJSON(fiber.StatusUnauthorized, fiber.Map{"error": "Authentication required"})
	}
	suffix := ctx.Params["*"]
	if err := hs.core.PrivateDelete(ctx.Fiber.UserContext(), ctx.User, suffix); err != nil {
		return errorOutcome(err)
	}
	return pipeline.RespondJSON(fiber.StatusOK, fiber.Map{"success": true})
}

// errorOutcome maps a core.ServiceError's kind onto the HTTP status
// table of spec §7, wrapping the message in the {error} shape every
// handler uses.
func errorOutcome(err error) pipeline.Outcome {
	kind, message := core.ParseServiceError(err)
	status := statusForKind(kind)
	return pipeline.RespondJSON(status, fiber.Map{"error": message})
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.ErrValidation:
		return fiber.StatusBadRequest
	case core.ErrAuthMissing, core.ErrAuthInvalid, core.ErrCredentialMismatch:
		return fiber.StatusUnauthorized
	case core.ErrNotVerified, core.ErrForbidden:
		return fiber.StatusForbidden
	case core.ErrNotFound:
		return fiber.StatusNotFound
	case core.ErrConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func bodyString(body any, key string) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func bodyBool(body any, key string) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m[key]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}

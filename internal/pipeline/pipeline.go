// Package pipeline implements the fixed middleware chain described in
// spec §4.8: request-shape enhancement, body parsing, rate limiting,
// bearer authentication, route dispatch, and 404/500 finalisers. It is
// mounted under a single Fiber catch-all route; the actual path
// matching is delegated to internal/router.
package pipeline

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/ratelimit"
	"github.com/example/authguard-server/internal/router"
)

// OutcomeKind distinguishes the three ways a Handler can resolve a
// request, modelling the source framework's dynamically-typed
// "(req,res,next)" middleware contract as an explicit sum type.
type OutcomeKind int

const (
	// Continue lets the pipeline proceed; unused by terminal handlers.
	Continue OutcomeKind = iota
	// Respond commits a status and JSON (or raw) body.
	Respond
	// Fail signals an unexpected error; the pipeline emits 500.
	Fail
)

// Outcome is what a Handler returns.
type Outcome struct {
	Kind      OutcomeKind
	Status    int
	Body      any
	PlainText string
	Err       error
}

// RespondJSON builds a Respond outcome with a JSON body.
func RespondJSON(status int, body any) Outcome {
	return Outcome{Kind: Respond, Status: status, Body: body}
}

// RespondText builds a Respond outcome carrying a text/plain body.
func RespondText(status int, text string) Outcome {
	return Outcome{Kind: Respond, Status: status, PlainText: text}
}

// FailWith builds a Fail outcome from err.
func FailWith(err error) Outcome {
	return Outcome{Kind: Fail, Err: err}
}

// Context is the per-request state threaded through a Handler, built
// fresh by the enhancement and body-parser stages.
type Context struct {
	Fiber  *fiber.Ctx
	Method string
	Path   string
	Params map[string]string
	Body   any
	Client string
	User   *domain.User
}

// Handler is the terminal route action; it is the concrete type stored
// in internal/router's generic Handler slot.
type Handler func(*Context) Outcome

// Authenticator resolves a bearer token to a user. internal/handlers
// supplies one that calls core.Port.Authenticate.
type Authenticator func(token string) (*domain.User, error)

// Pipeline wires the router, authenticator and limiters into the fixed
// middleware order.
type Pipeline struct {
	ServerID      string
	Router        *router.Router
	RateLimiter   *ratelimit.Limiter
	Authenticate  Authenticator
}

// New returns a Pipeline bound to the given router, limiter and
// authenticator.
func New(serverID string, r *router.Router, limiter *ratelimit.Limiter, auth Authenticator) *Pipeline {
	return &Pipeline{ServerID: serverID, Router: r, RateLimiter: limiter, Authenticate: auth}
}

// Handle is the single Fiber catch-all handler.
func (p *Pipeline) Handle(c *fiber.Ctx) (err error) {
	c.Set("X-Server-ID", p.ServerID)

	if c.Method() == fiber.MethodDelete {
		c.Status(fiber.StatusNoContent)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = c.Status(fiber.StatusInternalServerError).
				Type("txt").
				SendString(fmt.Sprintf("Internal Server Error: %v", rec))
		}
	}()

	body, err := p.parseBody(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed request body"})
	}

	client := clientKey(c)
	if p.RateLimiter.TryAttempt(client) == ratelimit.Exceeded {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
	}

	var user *domain.User
	if token := bearerToken(c); token != "" {
		user, _ = p.Authenticate(token)
	}

	handlerAny, params, ok := p.Router.Match(c.Method(), c.Path())
	if !ok {
		return c.Status(fiber.StatusNotFound).SendString("Not Found")
	}
	handler, ok := handlerAny.(Handler)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error: misconfigured route")
	}

	ctx := &Context{
		Fiber:  c,
		Method: c.Method(),
		Path:   c.Path(),
		Params: params,
		Body:   body,
		Client: client,
		User:   user,
	}

	outcome := handler(ctx)
	switch outcome.Kind {
	case Respond:
		if outcome.PlainText != "" {
			return c.Status(outcome.Status).Type("txt").SendString(outcome.PlainText)
		}
		if outcome.Body == nil {
			return c.SendStatus(outcome.Status)
		}
		return c.Status(outcome.Status).JSON(outcome.Body)
	case Fail:
		return c.Status(fiber.StatusInternalServerError).
			Type("txt").
			SendString(fmt.Sprintf("Internal Server Error: %v", outcome.Err))
	default:
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error: handler did not respond")
	}
}

// parseBody decodes the request body for the methods that carry one,
// per spec §4.8: JSON when the content type says so (falling back to
// the raw string on malformed JSON), form-urlencoded into a map, raw
// string otherwise, and an empty map for bodies-less methods.
func (p *Pipeline) parseBody(c *fiber.Ctx) (any, error) {
	switch c.Method() {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
	default:
		return map[string]any{}, nil
	}

	raw := c.Body()
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(c.Get(fiber.HeaderContentType), ";", 2)[0]))
	switch contentType {
	case fiber.MIMEApplicationJSON:
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return string(raw), nil
		}
		return decoded, nil
	case fiber.MIMEApplicationForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return string(raw), nil
		}
		decoded := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				decoded[k] = v[0]
			} else {
				decoded[k] = v
			}
		}
		return decoded, nil
	default:
		return string(raw), nil
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// clientKey resolves the rate-limiter key: the first X-Forwarded-For
// hop if present, otherwise the peer address.
func clientKey(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	return c.IP()
}

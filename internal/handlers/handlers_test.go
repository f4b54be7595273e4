package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/authguard-server/internal/core"
	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/pipeline"
	"github.com/example/authguard-server/internal/ratelimit"
	"github.com/example/authguard-server/internal/router"
)

// fakeUser is the fakePort's internal account record.
type fakeUser struct {
	email    string
	password string
	verified bool
	code     string
}

// fakePort is a minimal, self-contained stand-in for core.Port, mirroring
// the recipe collection's mock-service-container test pattern: enough
// behaviour to drive the HTTP layer's routing, status mapping, and
// bearer-auth wiring without pulling in the real Service.
type fakePort struct {
	mu      sync.Mutex
	users   map[string]*fakeUser
	tokens  map[string]string // access token -> username
	private map[string]any
}

func newFakePort() *fakePort {
	return &fakePort{
		users:   make(map[string]*fakeUser),
		tokens:  make(map[string]string),
		private: make(map[string]any),
	}
}

var _ core.Port = (*fakePort)(nil)

func (f *fakePort) Authenticate(_ context.Context, token string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	return &domain.User{Name: name}, nil
}

func (f *fakePort) Signup(_ context.Context, req core.SignupRequest) (core.SignupResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[req.Username]; exists {
		return core.SignupResponse{}, &core.ServiceError{Kind: core.ErrConflict, Message: "User already exists"}
	}
	f.users[req.Username] = &fakeUser{email: req.Email, password: req.Password, code: "123456"}
	return core.SignupResponse{Message: "Verification code sent"}, nil
}

func (f *fakePort) ConfirmSignup(_ context.Context, req core.ConfirmSignupRequest) (core.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[req.Username]
	if !ok {
		return core.TokenResponse{}, &core.ServiceError{Kind: core.ErrNotFound, Message: "User not found"}
	}
	if u.code != req.Code {
		return core.TokenResponse{}, &core.ServiceError{Kind: core.ErrCredentialMismatch, Message: "Invalid verification code"}
	}
	u.verified = true
	token := "access-" + req.Username
	f.tokens[token] = req.Username
	return core.TokenResponse{AccessToken: token, RefreshToken: "refresh-" + req.Username}, nil
}

func (f *fakePort) DeleteAccount(_ context.Context, username string) (core.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, username)
	return core.MessageResponse{Message: "Account deleted"}, nil
}

func (f *fakePort) Signin(_ context.Context, req core.SigninRequest) (core.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	const mismatch = "Invalid password or username"
	u, ok := f.users[req.Username]
	if !ok {
		return core.TokenResponse{}, &core.ServiceError{Kind: core.ErrNotFound, Message: mismatch}
	}
	if u.password != req.Password {
		return core.TokenResponse{}, &core.ServiceError{Kind: core.ErrCredentialMismatch, Message: mismatch}
	}
	token := "access-" + req.Username
	f.tokens[token] = req.Username
	return core.TokenResponse{AccessToken: token, RefreshToken: "refresh-" + req.Username}, nil
}

func (f *fakePort) SignOut(_ context.Context, caller *domain.User) (core.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, "access-"+caller.Name)
	return core.MessageResponse{Message: "Signed out"}, nil
}

func (f *fakePort) Refresh(_ context.Context, req core.RefreshRequest) (core.TokenResponse, error) {
	return core.TokenResponse{}, &core.ServiceError{Kind: core.ErrAuthInvalid, Message: "Invalid or expired refresh token"}
}

func (f *fakePort) ForgotPassword(_ context.Context, username string) (core.MessageResponse, error) {
	return core.MessageResponse{Message: "Reset code sent"}, nil
}

func (f *fakePort) ResetPassword(_ context.Context, req core.ResetPasswordRequest) (core.TokenResponse, error) {
	return core.TokenResponse{Message: "Password reset"}, nil
}

func (f *fakePort) GetUser(_ context.Context, username string, caller *domain.User) (core.UserView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return core.UserView{}, &core.ServiceError{Kind: core.ErrNotFound, Message: "User not found"}
	}
	return core.UserView{Username: username, Email: u.email, Verified: u.verified}, nil
}

func (f *fakePort) ListUsers(_ context.Context, caller *domain.User) (core.ListUsersResponse, error) {
	if caller == nil || caller.Name != "root" {
		return core.ListUsersResponse{}, &core.ServiceError{Kind: core.ErrForbidden, Message: "Admin role required"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.users {
		names = append(names, name)
	}
	return core.ListUsersResponse{Users: names}, nil
}

func (f *fakePort) AccessInfo(_ context.Context, caller *domain.User) (core.AccessInfoResponse, error) {
	return core.AccessInfoResponse{}, nil
}

func (f *fakePort) PrivateGet(_ context.Context, caller *domain.User, suffix string) (core.PrivateGetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.private[suffix]
	return core.PrivateGetResponse{Found: ok, Document: doc}, nil
}

func (f *fakePort) PrivateExists(_ context.Context, caller *domain.User, suffix string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.private[suffix]
	return ok, nil
}

func (f *fakePort) PrivatePost(_ context.Context, caller *domain.User, suffix string, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.private[suffix] = body
	return nil
}

func (f *fakePort) PrivateDelete(_ context.Context, caller *domain.User, suffix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.private[suffix]; !ok {
		return &core.ServiceError{Kind: core.ErrNotFound, Message: "Not found"}
	}
	delete(f.private, suffix)
	return nil
}

// newTestApp wires the router, limiters and pipeline the way Module.Start
// does, over the given fakePort, without the outer recover/logger/cors
// middleware and without the listener.
func newTestApp(cp core.Port, rateMax, bruteMax int) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	r := router.New()
	bruteForce := ratelimit.NewBruteForce(bruteMax, time.Minute)
	registerRoutes(r, &handlerSet{core: cp, bruteForce: bruteForce})

	limiter := ratelimit.New(rateMax, time.Minute)
	authenticate := func(token string) (*domain.User, error) {
		return cp.Authenticate(context.Background(), token)
	}
	pl := pipeline.New("test-server", r, limiter, pipeline.Authenticator(authenticate))
	app.Use(pl.Handle)
	return app
}

func jsonBody(t *testing.T, v map[string]any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(raw)
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return m
}

func TestHealthz(t *testing.T) {
	app := newTestApp(newFakePort(), 100, 100)
	req := httptest.NewRequest(fiber.MethodGet, "/healthz", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSignupConfirmSigninFlow(t *testing.T) {
	app := newTestApp(newFakePort(), 100, 100)

	req := httptest.NewRequest(fiber.MethodPost, "/auth/signup", jsonBody(t, map[string]any{
		"username": "alice", "email": "alice@x.com", "password": "password1",
	}))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(signup) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("signup status = %d, want 200", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodPut, "/auth/signup/alice", jsonBody(t, map[string]any{"code": "123456"}))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(confirm) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("confirm status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["accessToken"] == "" || body["accessToken"] == nil {
		t.Fatalf("confirm response = %v, want a non-empty accessToken", body)
	}

	req = httptest.NewRequest(fiber.MethodPost, "/auth/signin/alice", jsonBody(t, map[string]any{"password": "password1"}))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(signin) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("signin status = %d, want 200", resp.StatusCode)
	}
}

func TestSignupDuplicateReturns409(t *testing.T) {
	app := newTestApp(newFakePort(), 100, 100)
	body := map[string]any{"username": "alice", "email": "alice@x.com", "password": "password1"}

	for i, wantStatus := range []int{fiber.StatusOK, fiber.StatusConflict} {
		req := httptest.NewRequest(fiber.MethodPost, "/auth/signup", jsonBody(t, body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("attempt %d: app.Test() error = %v", i, err)
		}
		if resp.StatusCode != wantStatus {
			t.Errorf("attempt %d: status = %d, want %d", i, resp.StatusCode, wantStatus)
		}
	}
}

func TestSigninWrongPasswordReturns401(t *testing.T) {
	fp := newFakePort()
	fp.users["alice"] = &fakeUser{email: "alice@x.com", password: "password1", verified: true}
	app := newTestApp(fp, 100, 100)

	req := httptest.NewRequest(fiber.MethodPost, "/auth/signin/alice", jsonBody(t, map[string]any{"password": "wrong"}))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestBearerAuthGatesPrivateEndpoint(t *testing.T) {
	fp := newFakePort()
	fp.tokens["access-alice"] = "alice"
	app := newTestApp(fp, 100, 100)

	req := httptest.NewRequest(fiber.MethodGet, "/private/notes/todo", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(no bearer) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status with no bearer token = %d, want 401", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/private/notes/todo", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer access-alice")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(bearer) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status for an absent document = %d, want 404", resp.StatusCode)
	}
}

func TestPrivatePostThenGetRoundTrips(t *testing.T) {
	fp := newFakePort()
	fp.tokens["access-alice"] = "alice"
	app := newTestApp(fp, 100, 100)

	req := httptest.NewRequest(fiber.MethodPost, "/private/notes/todo", jsonBody(t, map[string]any{"text": "ship it"}))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer access-alice")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(post) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("post status = %d, want 201", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/private/notes/todo", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer access-alice")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(get) error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["text"] != "ship it" {
		t.Fatalf("get body = %v, want {text: ship it}", body)
	}
}

func TestListUsersRequiresAdminRole(t *testing.T) {
	fp := newFakePort()
	fp.tokens["access-alice"] = "alice"
	app := newTestApp(fp, 100, 100)

	req := httptest.NewRequest(fiber.MethodGet, "/auth/info", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer access-alice")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status for a non-admin caller = %d, want 403", resp.StatusCode)
	}
}

func TestSigninRateLimitReturns429(t *testing.T) {
	fp := newFakePort()
	fp.users["alice"] = &fakeUser{email: "alice@x.com", password: "password1", verified: true}
	app := newTestApp(fp, 100, 2) // bruteMax=2: the 3rd signin attempt against the same path trips it

	var lastStatus int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/auth/signin/alice", jsonBody(t, map[string]any{"password": "wrong"}))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("attempt %d: app.Test() error = %v", i, err)
		}
		lastStatus = resp.StatusCode
	}
	if lastStatus != fiber.StatusTooManyRequests {
		t.Fatalf("status of the attempt past the brute-force budget = %d, want 429", lastStatus)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	app := newTestApp(newFakePort(), 100, 100)
	req := httptest.NewRequest(fiber.MethodGet, "/nope", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

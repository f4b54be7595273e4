package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/authguard-server/internal/access"
	"github.com/example/authguard-server/internal/rotation"
	"github.com/example/authguard-server/internal/store"
	"github.com/example/authguard-server/internal/tokens"
	"github.com/example/authguard-server/internal/userdir"
)

const cleanupInterval = time.Hour

// Module wires Store, UserDirectory, TokenStore, RotationRegistry and
// AccessEvaluator together and exposes every auth operation as a
// request-reply service, mirroring the request-reply pattern the rest
// of the recipe collection uses for inter-module calls.
type Module struct {
	dataDir string
	service *Service

	docs     *store.Store
	users    *userdir.Directory
	tokenSt  *tokens.Store
	rotation *rotation.Registry

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

var _ mono.Module = (*Module)(nil)
var _ mono.ServiceProviderModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a Module rooted at AUTH_DATA_DIR (default
// "./auth-data").
func NewModule() *Module {
	dataDir := os.Getenv("AUTH_DATA_DIR")
	if dataDir == "" {
		dataDir = "./auth-data"
	}
	return &Module{dataDir: dataDir}
}

// Name returns the module name.
func (m *Module) Name() string { return "core" }

// Start wires the storage services, loads in-memory indices, bootstraps
// the root user, and starts the rotation-cleanup ticker.
func (m *Module) Start(_ context.Context) error {
	m.docs = store.New(m.dataDir)
	m.users = userdir.New(m.docs)
	m.tokenSt = tokens.New(m.docs, m.users)
	m.rotation = rotation.New(m.docs)
	evaluator := access.New(m.docs)

	if err := m.tokenSt.Load(); err != nil {
		return fmt.Errorf("core: load tokens: %w", err)
	}
	if err := m.rotation.Load(); err != nil {
		return fmt.Errorf("core: load rotation registry: %w", err)
	}

	cfg := Config{ClearTokensOnReset: envBool("AUTH_CLEAR_TOKENS_ON_RESET", true)}
	m.service = NewService(cfg, m.docs, m.users, m.tokenSt, m.rotation, evaluator)

	if err := m.service.Bootstrap(); err != nil {
		return fmt.Errorf("core: bootstrap: %w", err)
	}

	m.stopCleanup = make(chan struct{})
	m.cleanupDone = make(chan struct{})
	go m.runCleanup()

	log.Printf("[core] Module started (data dir: %s)", m.dataDir)
	return nil
}

// Stop joins the cleanup ticker goroutine.
func (m *Module) Stop(_ context.Context) error {
	if m.stopCleanup != nil {
		close(m.stopCleanup)
		<-m.cleanupDone
	}
	log.Println("[core] Module stopped")
	return nil
}

func (m *Module) runCleanup() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.service.Cleanup(); err != nil {
				log.Printf("[core] rotation cleanup failed: %v", err)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Health reports whether the service has finished wiring.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"dataDir": m.dataDir},
	}
}

func envBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// RegisterServices exposes every handler-facing operation as a typed
// request-reply service in the container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	registrations := []struct {
		name string
		fn   func(mono.ServiceContainer) error
	}{
		{"authenticate", m.registerAuthenticate},
		{"signup", m.registerSignup},
		{"confirm-signup", m.registerConfirmSignup},
		{"delete-account", m.registerDeleteAccount},
		{"signin", m.registerSignin},
		{"sign-out", m.registerSignOut},
		{"refresh", m.registerRefresh},
		{"forgot-password", m.registerForgotPassword},
		{"reset-password", m.registerResetPassword},
		{"get-user", m.registerGetUser},
		{"list-users", m.registerListUsers},
		{"access-info", m.registerAccessInfo},
		{"private-get", m.registerPrivateGet},
		{"private-exists", m.registerPrivateExists},
		{"private-post", m.registerPrivatePost},
		{"private-delete", m.registerPrivateDelete},
	}

	for _, reg := range registrations {
		if err := reg.fn(container); err != nil {
			return fmt.Errorf("failed to register %s service: %w", reg.name, err)
		}
	}

	log.Println("[core] Registered services: authenticate, signup, confirm-signup, delete-account, signin, sign-out, refresh, forgot-password, reset-password, get-user, list-users, access-info, private-get, private-exists, private-post, private-delete")
	return nil
}

func (m *Module) registerAuthenticate(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "authenticate", json.Unmarshal, json.Marshal,
		func(_ context.Context, req AuthenticateRequest, _ *mono.Msg) (AuthenticateResponse, error) {
			return AuthenticateResponse{User: m.service.Authenticate(req.Token)}, nil
		})
}

func (m *Module) registerSignup(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "signup", json.Unmarshal, json.Marshal,
		func(_ context.Context, req SignupRequest, _ *mono.Msg) (SignupResponse, error) {
			return m.service.Signup(req)
		})
}

func (m *Module) registerConfirmSignup(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "confirm-signup", json.Unmarshal, json.Marshal,
		func(_ context.Context, req ConfirmSignupRequest, _ *mono.Msg) (TokenResponse, error) {
			return m.service.ConfirmSignup(req)
		})
}

func (m *Module) registerDeleteAccount(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "delete-account", json.Unmarshal, json.Marshal,
		func(_ context.Context, req DeleteAccountRequest, _ *mono.Msg) (MessageResponse, error) {
			return m.service.DeleteAccount(req.Username)
		})
}

func (m *Module) registerSignin(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "signin", json.Unmarshal, json.Marshal,
		func(_ context.Context, req SigninRequest, _ *mono.Msg) (TokenResponse, error) {
			return m.service.Signin(req)
		})
}

func (m *Module) registerSignOut(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "sign-out", json.Unmarshal, json.Marshal,
		func(_ context.Context, req CallerRequest, _ *mono.Msg) (MessageResponse, error) {
			return m.service.SignOut(req.Caller)
		})
}

func (m *Module) registerRefresh(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "refresh", json.Unmarshal, json.Marshal,
		func(_ context.Context, req RefreshRequest, _ *mono.Msg) (TokenResponse, error) {
			return m.service.Refresh(req)
		})
}

func (m *Module) registerForgotPassword(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "forgot-password", json.Unmarshal, json.Marshal,
		func(_ context.Context, req ForgotPasswordRequest, _ *mono.Msg) (MessageResponse, error) {
			return m.service.ForgotPassword(req)
		})
}

func (m *Module) registerResetPassword(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "reset-password", json.Unmarshal, json.Marshal,
		func(_ context.Context, req ResetPasswordRequest, _ *mono.Msg) (TokenResponse, error) {
			return m.service.ResetPassword(req)
		})
}

func (m *Module) registerGetUser(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "get-user", json.Unmarshal, json.Marshal,
		func(_ context.Context, req GetUserRequest, _ *mono.Msg) (GetUserResponse, error) {
			view, err := m.service.GetUser(req.Username, req.Caller)
			if err != nil {
				return GetUserResponse{}, err
			}
			return GetUserResponse{View: view}, nil
		})
}

func (m *Module) registerListUsers(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "list-users", json.Unmarshal, json.Marshal,
		func(_ context.Context, req ListUsersRequest, _ *mono.Msg) (ListUsersResponse, error) {
			return m.service.ListUsers(req.Caller)
		})
}

func (m *Module) registerAccessInfo(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "access-info", json.Unmarshal, json.Marshal,
		func(_ context.Context, req AccessInfoRequest, _ *mono.Msg) (AccessInfoResponse, error) {
			return m.service.AccessInfo(req.Caller)
		})
}

func (m *Module) registerPrivateGet(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "private-get", json.Unmarshal, json.Marshal,
		func(_ context.Context, req PrivateRequest, _ *mono.Msg) (PrivateGetResponse, error) {
			doc, err := m.service.PrivateGet(req.Caller, req.Suffix)
			if err != nil {
				if kind, _ := ParseServiceError(err); kind == ErrNotFound {
					return PrivateGetResponse{Found: false}, nil
				}
				return PrivateGetResponse{}, err
			}
			return PrivateGetResponse{Found: true, Document: doc}, nil
		})
}

func (m *Module) registerPrivateExists(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "private-exists", json.Unmarshal, json.Marshal,
		func(_ context.Context, req PrivateRequest, _ *mono.Msg) (PrivateExistsResponse, error) {
			found, err := m.service.PrivateExists(req.Caller, req.Suffix)
			if err != nil {
				return PrivateExistsResponse{}, err
			}
			return PrivateExistsResponse{Found: found}, nil
		})
}

func (m *Module) registerPrivatePost(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "private-post", json.Unmarshal, json.Marshal,
		func(_ context.Context, req PrivateRequest, _ *mono.Msg) (MessageResponse, error) {
			if err := m.service.PrivatePost(req.Caller, req.Suffix, req.Body); err != nil {
				return MessageResponse{}, err
			}
			return MessageResponse{Message: "Stored"}, nil
		})
}

func (m *Module) registerPrivateDelete(c mono.ServiceContainer) error {
	return helper.RegisterTypedRequestReplyService(c, "private-delete", json.Unmarshal, json.Marshal,
		func(_ context.Context, req PrivateRequest, _ *mono.Msg) (MessageResponse, error) {
			if err := m.service.PrivateDelete(req.Caller, req.Suffix); err != nil {
				return MessageResponse{}, err
			}
			return MessageResponse{Message: "Deleted"}, nil
		})
}

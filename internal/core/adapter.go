package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/authguard-server/internal/domain"
)

// Port is the interface internal/handlers uses to reach the core
// module's operations, without depending on its internal types beyond
// this package's public request/response shapes.
type Port interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	Signup(ctx context.Context, req SignupRequest) (SignupResponse, error)
	ConfirmSignup(ctx context.Context, req ConfirmSignupRequest) (TokenResponse, error)
	DeleteAccount(ctx context.Context, username string) (MessageResponse, error)
	Signin(ctx context.Context, req SigninRequest) (TokenResponse, error)
	SignOut(ctx context.Context, caller *domain.User) (MessageResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error)
	ForgotPassword(ctx context.Context, username string) (MessageResponse, error)
	ResetPassword(ctx context.Context, req ResetPasswordRequest) (TokenResponse, error)
	GetUser(ctx context.Context, username string, caller *domain.User) (UserView, error)
	ListUsers(ctx context.Context, caller *domain.User) (ListUsersResponse, error)
	AccessInfo(ctx context.Context, caller *domain.User) (AccessInfoResponse, error)
	PrivateGet(ctx context.Context, caller *domain.User, suffix string) (PrivateGetResponse, error)
	PrivateExists(ctx context.Context, caller *domain.User, suffix string) (bool, error)
	PrivatePost(ctx context.Context, caller *domain.User, suffix string, body any) error
	PrivateDelete(ctx context.Context, caller *domain.User, suffix string) error
}

// Adapter implements Port over a mono.ServiceContainer, calling the
// request-reply services the core Module registers.
type Adapter struct {
	container mono.ServiceContainer
}

// NewAdapter returns an Adapter bound to container.
func NewAdapter(container mono.ServiceContainer) *Adapter {
	return &Adapter{container: container}
}

var _ Port = (*Adapter)(nil)

func call[Req, Resp any](ctx context.Context, a *Adapter, name string, req Req) (Resp, error) {
	var resp Resp
	if err := helper.CallRequestReplyService(ctx, a.container, name, json.Marshal, json.Unmarshal, &req, &resp); err != nil {
		return resp, fmt.Errorf("%s request failed: %w", name, err)
	}
	return resp, nil
}

func (a *Adapter) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	resp, err := call[AuthenticateRequest, AuthenticateResponse](ctx, a, "authenticate", AuthenticateRequest{Token: token})
	return resp.User, err
}

func (a *Adapter) Signup(ctx context.Context, req SignupRequest) (SignupResponse, error) {
	return call[SignupRequest, SignupResponse](ctx, a, "signup", req)
}

func (a *Adapter) ConfirmSignup(ctx context.Context, req ConfirmSignupRequest) (TokenResponse, error) {
	return call[ConfirmSignupRequest, TokenResponse](ctx, a, "confirm-signup", req)
}

func (a *Adapter) DeleteAccount(ctx context.Context, username string) (MessageResponse, error) {
	return call[DeleteAccountRequest, MessageResponse](ctx, a, "delete-account", DeleteAccountRequest{Username: username})
}

func (a *Adapter) Signin(ctx context.Context, req SigninRequest) (TokenResponse, error) {
	return call[SigninRequest, TokenResponse](ctx, a, "signin", req)
}

func (a *Adapter) SignOut(ctx context.Context, caller *domain.User) (MessageResponse, error) {
	return call[CallerRequest, MessageResponse](ctx, a, "sign-out", CallerRequest{Caller: caller})
}

func (a *Adapter) Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error) {
	return call[RefreshRequest, TokenResponse](ctx, a, "refresh", req)
}

func (a *Adapter) ForgotPassword(ctx context.Context, username string) (MessageResponse, error) {
	return call[ForgotPasswordRequest, MessageResponse](ctx, a, "forgot-password", ForgotPasswordRequest{Username: username})
}

func (a *Adapter) ResetPassword(ctx context.Context, req ResetPasswordRequest) (TokenResponse, error) {
	return call[ResetPasswordRequest, TokenResponse](ctx, a, "reset-password", req)
}

func (a *Adapter) GetUser(ctx context.Context, username string, caller *domain.User) (UserView, error) {
	resp, err := call[GetUserRequest, GetUserResponse](ctx, a, "get-user", GetUserRequest{Username: username, Caller: caller})
	return resp.View, err
}

func (a *Adapter) ListUsers(ctx context.Context, caller *domain.User) (ListUsersResponse, error) {
	return call[ListUsersRequest, ListUsersResponse](ctx, a, "list-users", ListUsersRequest{Caller: caller})
}

func (a *Adapter) AccessInfo(ctx context.Context, caller *domain.User) (AccessInfoResponse, error) {
	return call[AccessInfoRequest, AccessInfoResponse](ctx, a, "access-info", AccessInfoRequest{Caller: caller})
}

func (a *Adapter) PrivateGet(ctx context.Context, caller *domain.User, suffix string) (PrivateGetResponse, error) {
	return call[PrivateRequest, PrivateGetResponse](ctx, a, "private-get", PrivateRequest{Caller: caller, Suffix: suffix})
}

func (a *Adapter) PrivateExists(ctx context.Context, caller *domain.User, suffix string) (bool, error) {
	resp, err := call[PrivateRequest, PrivateExistsResponse](ctx, a, "private-exists", PrivateRequest{Caller: caller, Suffix: suffix})
	return resp.Found, err
}

func (a *Adapter) PrivatePost(ctx context.Context, caller *domain.User, suffix string, body any) error {
	_, err := call[PrivateRequest, MessageResponse](ctx, a, "private-post", PrivateRequest{Caller: caller, Suffix: suffix, Body: body})
	return err
}

func (a *Adapter) PrivateDelete(ctx context.Context, caller *domain.User, suffix string) error {
	_, err := call[PrivateRequest, MessageResponse](ctx, a, "private-delete", PrivateRequest{Caller: caller, Suffix: suffix})
	return err
}

// Package core implements the business logic behind every endpoint in
// spec §6: it composes UserDirectory, TokenStore, RotationRegistry and
// AccessEvaluator and exposes one method per handler. It is transport
// agnostic; internal/handlers translates HTTP requests into calls here
// and service errors into HTTP statuses.
package core

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/example/authguard-server/internal/access"
	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/hashing"
	"github.com/example/authguard-server/internal/rotation"
	"github.com/example/authguard-server/internal/store"
	"github.com/example/authguard-server/internal/tokens"
	"github.com/example/authguard-server/internal/userdir"
)

const rootUsername = "root"

// Config controls the few behavioural flags spec.md leaves to the
// integrator.
type Config struct {
	// ClearTokensOnReset drops every existing token and rotation node for
	// a user whose password reset succeeds, per spec §4.10's "optionally
	// clear all existing tokens and rotation chain (configuration flag)".
	ClearTokensOnReset bool
}

// Service is the concrete implementation backing every RPC handler
// registered by Module.
type Service struct {
	cfg      Config
	docs     *store.Store
	users    *userdir.Directory
	tokenSt  *tokens.Store
	rotation *rotation.Registry
	access   *access.Evaluator
}

// NewService wires the given components into a Service.
func NewService(cfg Config, docs *store.Store, users *userdir.Directory, tokenSt *tokens.Store, reg *rotation.Registry, acc *access.Evaluator) *Service {
	return &Service{cfg: cfg, docs: docs, users: users, tokenSt: tokenSt, rotation: reg, access: acc}
}

// Authenticate resolves a bearer token to its owning user for the
// pipeline's bearer-auth stage. Any failure (unknown, expired, or a
// subject with no user record) is reported as simply "no user", matching
// the pipeline's "attach to the request (null if absent)" contract;
// handlers that require authentication see a nil caller and respond
// 401 themselves.
func (s *Service) Authenticate(token string) *domain.User {
	if token == "" {
		return nil
	}
	user, err := s.tokenSt.Auth(token)
	if err != nil {
		return nil
	}
	return user
}

// Bootstrap creates the root user the first time the server starts
// against an empty user directory.
func (s *Service) Bootstrap() error {
	names, err := s.users.ListUsernames()
	if err != nil {
		return fmt.Errorf("core: bootstrap: %w", err)
	}
	if len(names) > 0 {
		return nil
	}

	now := time.Now()
	root := &domain.User{
		Name:         rootUsername,
		Email:        "root@localhost",
		PasswordHash: hashing.HashPassword(rootUsername),
		Verified:     true,
		Roles:        []string{"admin"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.SaveUser(root); err != nil {
		return fmt.Errorf("core: bootstrap save root: %w", err)
	}

	pair, err := s.tokenSt.Mint(rootUsername)
	if err != nil {
		return fmt.Errorf("core: bootstrap mint: %w", err)
	}
	if err := s.rotation.Register(pair.RefreshToken, rootUsername, ""); err != nil {
		return fmt.Errorf("core: bootstrap register rotation: %w", err)
	}
	return nil
}

// Cleanup sweeps expired rotation nodes; called on a ticker by Module.
func (s *Service) Cleanup() error {
	return s.rotation.Cleanup()
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Signup creates an unverified user and stores a generated verification
// code; delivery of the code is an integrator concern.
func (s *Service) Signup(req SignupRequest) (SignupResponse, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return SignupResponse{}, fail(ErrValidation, "Missing required fields")
	}
	if !userdir.ValidName(req.Username) {
		return SignupResponse{}, fail(ErrValidation, "Invalid username")
	}

	_, exists, err := s.users.GetUser(req.Username)
	if err != nil {
		return SignupResponse{}, fail(ErrInternal, err.Error())
	}
	if exists {
		return SignupResponse{}, fail(ErrConflict, "User already exists")
	}

	code, err := generateCode()
	if err != nil {
		return SignupResponse{}, fail(ErrInternal, err.Error())
	}

	now := time.Now()
	user := &domain.User{
		Name:             req.Username,
		Email:            req.Email,
		PasswordHash:     hashing.HashPassword(req.Password),
		Verified:         false,
		VerificationCode: code,
		Roles:            nil,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.users.SaveUser(user); err != nil {
		return SignupResponse{}, fail(ErrInternal, err.Error())
	}
	return SignupResponse{Message: "Verification code sent"}, nil
}

// ConfirmSignup verifies a pending signup and mints the first token pair.
func (s *Service) ConfirmSignup(req ConfirmSignupRequest) (TokenResponse, error) {
	user, exists, err := s.users.GetUser(req.Username)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if !exists {
		return TokenResponse{}, fail(ErrNotFound, "User not found")
	}
	if user.Verified {
		return TokenResponse{}, fail(ErrValidation, "User already verified")
	}
	if user.VerificationCode != req.Code {
		return TokenResponse{}, fail(ErrCredentialMismatch, "Invalid verification code")
	}

	user.Verified = true
	user.VerificationCode = ""
	user.UpdatedAt = time.Now()
	if err := s.users.SaveUser(user); err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}

	pair, err := s.tokenSt.Mint(user.Name)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.rotation.Register(pair.RefreshToken, user.Name, ""); err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}

	return TokenResponse{
		Message:      "Account verified",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// DeleteAccount removes a user record entirely, cascading its tokens and
// rotation chain. Used both to cancel an unconfirmed signup and to
// delete a confirmed account.
func (s *Service) DeleteAccount(username string) (MessageResponse, error) {
	_, exists, err := s.users.GetUser(username)
	if err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	if !exists {
		return MessageResponse{}, fail(ErrNotFound, "User not found")
	}

	if err := s.tokenSt.ClearUserTokens(username); err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.rotation.ClearUserTokens(username); err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.users.DeleteUser(username); err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	return MessageResponse{Message: "Account deleted"}, nil
}

// Signin authenticates username/password and mints a fresh token pair.
//
// The 404 response on an unknown user deliberately carries the same
// wording as the 401 wrong-password response, per spec §9's open
// question on enumeration resistance.
func (s *Service) Signin(req SigninRequest) (TokenResponse, error) {
	const mismatchMessage = "Invalid password or username"

	user, exists, err := s.users.GetUser(req.Username)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if !exists {
		return TokenResponse{}, &ServiceError{Kind: ErrNotFound, Message: mismatchMessage}
	}
	if !user.Verified {
		return TokenResponse{}, fail(ErrNotVerified, "Account not verified")
	}
	if !hashing.VerifyPassword(req.Password, user.PasswordHash) {
		return TokenResponse{}, &ServiceError{Kind: ErrCredentialMismatch, Message: mismatchMessage}
	}

	pair, err := s.tokenSt.Mint(user.Name)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.rotation.Register(pair.RefreshToken, user.Name, ""); err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	return TokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// SignOut clears every token and rotation node belonging to caller.
func (s *Service) SignOut(caller *domain.User) (MessageResponse, error) {
	if caller == nil {
		return MessageResponse{}, fail(ErrAuthMissing, "Authentication required")
	}
	if err := s.tokenSt.ClearUserTokens(caller.Name); err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.rotation.ClearUserTokens(caller.Name); err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	return MessageResponse{Message: "Signed out"}, nil
}

// Refresh validates a presented refresh token against both TokenStore
// and RotationRegistry, mints a replacement pair, links it to its
// predecessor, and optionally cascades invalidation of the whole prior
// chain.
func (s *Service) Refresh(req RefreshRequest) (TokenResponse, error) {
	user, err := s.tokenSt.Auth(req.Token)
	if err != nil {
		return TokenResponse{}, fail(ErrAuthInvalid, "Invalid or expired refresh token")
	}

	ok, err := s.rotation.Validate(req.Token, user.Name)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if !ok {
		return TokenResponse{}, fail(ErrAuthInvalid, "Invalid or expired refresh token")
	}

	pair, err := s.tokenSt.Mint(user.Name)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.rotation.Register(pair.RefreshToken, user.Name, req.Token); err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}

	if req.Replace {
		if err := s.rotation.Invalidate(req.Token); err != nil {
			return TokenResponse{}, fail(ErrInternal, err.Error())
		}
	}

	return TokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// ForgotPassword generates and stores a reset code for username.
func (s *Service) ForgotPassword(req ForgotPasswordRequest) (MessageResponse, error) {
	user, exists, err := s.users.GetUser(req.Username)
	if err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	if !exists {
		return MessageResponse{}, fail(ErrNotFound, "User not found")
	}

	code, err := generateCode()
	if err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	user.ResetCode = code
	user.UpdatedAt = time.Now()
	if err := s.users.SaveUser(user); err != nil {
		return MessageResponse{}, fail(ErrInternal, err.Error())
	}
	return MessageResponse{Message: "Reset code sent"}, nil
}

// ResetPassword verifies a reset code and sets a new password, optionally
// clearing the user's existing sessions.
func (s *Service) ResetPassword(req ResetPasswordRequest) (TokenResponse, error) {
	user, exists, err := s.users.GetUser(req.Username)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if !exists {
		// Per spec §9, a reset against an unknown user is 404 but with a
		// body that reads like a code mismatch, not a not-found message.
		return TokenResponse{}, &ServiceError{Kind: ErrNotFound, Message: "Invalid reset code"}
	}
	if user.ResetCode == "" || user.ResetCode != req.Code {
		return TokenResponse{}, fail(ErrCredentialMismatch, "Invalid reset code")
	}

	user.PasswordHash = hashing.HashPassword(req.Password)
	user.ResetCode = ""
	user.UpdatedAt = time.Now()
	if err := s.users.SaveUser(user); err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}

	if s.cfg.ClearTokensOnReset {
		if err := s.tokenSt.ClearUserTokens(user.Name); err != nil {
			return TokenResponse{}, fail(ErrInternal, err.Error())
		}
		if err := s.rotation.ClearUserTokens(user.Name); err != nil {
			return TokenResponse{}, fail(ErrInternal, err.Error())
		}
	}

	pair, err := s.tokenSt.Mint(user.Name)
	if err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}
	if err := s.rotation.Register(pair.RefreshToken, user.Name, ""); err != nil {
		return TokenResponse{}, fail(ErrInternal, err.Error())
	}

	return TokenResponse{
		Message:      "Password reset",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// GetUser projects a user record for the caller, per the visibility
// policy of spec §4.10: admins and self see everything but secrets,
// isPublic users show their full record minus secrets, everyone else
// sees only {username, email, createdAt}.
func (s *Service) GetUser(username string, caller *domain.User) (UserView, error) {
	if caller == nil {
		return UserView{}, fail(ErrAuthMissing, "Authentication required")
	}
	user, exists, err := s.users.GetUser(username)
	if err != nil {
		return UserView{}, fail(ErrInternal, err.Error())
	}
	if !exists {
		return UserView{}, fail(ErrNotFound, "User not found")
	}
	return s.ProjectUser(user, caller), nil
}

// ProjectUser applies the visibility policy described on GetUser.
func (s *Service) ProjectUser(user *domain.User, caller *domain.User) UserView {
	full := caller.IsAdmin() || caller.Name == user.Name || user.IsPublic
	if !full {
		return UserView{Username: user.Name, Email: user.Email, CreatedAt: user.CreatedAt.Format(time.RFC3339)}
	}
	return UserView{
		Username:  user.Name,
		Email:     user.Email,
		Verified:  user.Verified,
		Roles:     user.Roles,
		IsPublic:  user.IsPublic,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}

// ListUsers returns every username, admin-only.
func (s *Service) ListUsers(caller *domain.User) (ListUsersResponse, error) {
	if caller == nil {
		return ListUsersResponse{}, fail(ErrAuthMissing, "Authentication required")
	}
	if !caller.IsAdmin() {
		return ListUsersResponse{}, fail(ErrForbidden, "Admin role required")
	}
	names, err := s.users.ListUsernames()
	if err != nil {
		return ListUsersResponse{}, fail(ErrInternal, err.Error())
	}
	sort.Strings(names)
	return ListUsersResponse{Users: names}, nil
}

// AccessInfo projects the AccessEvaluator's summary for caller.
func (s *Service) AccessInfo(caller *domain.User) (AccessInfoResponse, error) {
	if caller == nil {
		return AccessInfoResponse{}, fail(ErrAuthMissing, "Authentication required")
	}
	info, err := s.access.Info(caller)
	if err != nil {
		return AccessInfoResponse{}, fail(ErrInternal, err.Error())
	}
	sort.Strings(info.Groups)
	return AccessInfoResponse{
		UserAccess:  orEmpty(info.UserAccess),
		GroupRules:  orEmpty(info.GroupRules),
		GlobalRules: orEmpty(info.GlobalRules),
		Groups:      info.Groups,
	}, nil
}

func orEmpty(rules []access.Rule) []access.Rule {
	if rules == nil {
		return []access.Rule{}
	}
	return rules
}

const privateRoot = "private"

// privatePath maps the captured "/private/*" suffix onto a document
// path under the store root.
func privatePath(suffix string) string {
	return privateRoot + "/" + strings.TrimPrefix(suffix, "/")
}

// PrivateGet loads and returns the document at suffix, 404 if absent.
func (s *Service) PrivateGet(caller *domain.User, suffix string) (any, error) {
	if err := s.checkPrivateAccess(caller, suffix, 'r'); err != nil {
		return nil, err
	}
	var doc any
	raw, found, err := s.docs.LoadRaw(privatePath(suffix))
	if err != nil {
		return nil, fail(ErrInternal, err.Error())
	}
	if !found {
		return nil, fail(ErrNotFound, "Not found")
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fail(ErrInternal, err.Error())
	}
	return doc, nil
}

// PrivateExists reports whether the document at suffix is present, for
// HEAD requests.
func (s *Service) PrivateExists(caller *domain.User, suffix string) (bool, error) {
	if err := s.checkPrivateAccess(caller, suffix, 'r'); err != nil {
		return false, err
	}
	_, found, err := s.docs.LoadRaw(privatePath(suffix))
	if err != nil {
		return false, fail(ErrInternal, err.Error())
	}
	return found, nil
}

// PrivatePost stores body at suffix, creating or overwriting it.
func (s *Service) PrivatePost(caller *domain.User, suffix string, body any) error {
	if err := s.checkPrivateAccess(caller, suffix, 'w'); err != nil {
		return err
	}
	if err := store.SaveDocument(s.docs, privatePath(suffix), body); err != nil {
		return fail(ErrInternal, err.Error())
	}
	return nil
}

// PrivateDelete removes the document at suffix, 404 if it was absent.
func (s *Service) PrivateDelete(caller *domain.User, suffix string) error {
	if err := s.checkPrivateAccess(caller, suffix, 'd'); err != nil {
		return err
	}
	_, found, err := s.docs.LoadRaw(privatePath(suffix))
	if err != nil {
		return fail(ErrInternal, err.Error())
	}
	if !found {
		return fail(ErrNotFound, "Not found")
	}
	if err := store.DropDocument(s.docs, privatePath(suffix)); err != nil {
		return fail(ErrInternal, err.Error())
	}
	return nil
}

func (s *Service) checkPrivateAccess(caller *domain.User, suffix string, level byte) error {
	if caller == nil {
		return fail(ErrAuthMissing, "Authentication required")
	}
	requestPath := "/" + strings.TrimPrefix(suffix, "/")
	allowed, err := s.access.Check(caller, requestPath, level)
	if err != nil {
		return fail(ErrInternal, err.Error())
	}
	if !allowed {
		return fail(ErrForbidden, "Access denied")
	}
	return nil
}

package core

import (
	"errors"
	"strings"

	"github.com/example/authguard-server/internal/access"
	"github.com/example/authguard-server/internal/domain"
)

// UserView is the sanitized projection of a User returned to clients;
// the shape varies with the viewer's relationship to the subject (see
// Service.ProjectUser).
type UserView struct {
	Username         string   `json:"username"`
	Email            string   `json:"email,omitempty"`
	Verified         bool     `json:"verified,omitempty"`
	Roles            []string `json:"roles,omitempty"`
	IsPublic         bool     `json:"isPublic,omitempty"`
	CreatedAt        string   `json:"createdAt,omitempty"`
	UpdatedAt        string   `json:"updatedAt,omitempty"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupResponse is returned on a successful signup.
type SignupResponse struct {
	Message string `json:"message"`
}

// ConfirmSignupRequest is the body of PUT /auth/signup/:username.
type ConfirmSignupRequest struct {
	Username string `json:"-"`
	Code     string `json:"code"`
}

// TokenResponse carries a freshly minted pair, optionally with a message.
type TokenResponse struct {
	Message      string `json:"message,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SigninRequest is the body of POST /auth/signin/:username.
type SigninRequest struct {
	Username string `json:"-"`
	Password string `json:"password"`
}

// RefreshRequest is the body of PUT /auth/refresh/:token.
type RefreshRequest struct {
	Token   string `json:"-"`
	Replace bool   `json:"replace"`
}

// ForgotPasswordRequest is the body of POST /auth/forgot/:username.
type ForgotPasswordRequest struct {
	Username string `json:"-"`
}

// ResetPasswordRequest is the body of PUT /auth/forgot/:username.
type ResetPasswordRequest struct {
	Username string `json:"-"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// MessageResponse is a bare {message} reply.
type MessageResponse struct {
	Message string `json:"message"`
}

// ListUsersResponse is the body of GET /auth/info.
type ListUsersResponse struct {
	Users []string `json:"users"`
}

// AccessInfoResponse mirrors access.Info, JSON-shaped for the wire.
type AccessInfoResponse struct {
	UserAccess  []access.Rule `json:"userAccess"`
	GroupRules  []access.Rule `json:"groupRules"`
	GlobalRules []access.Rule `json:"globalRules"`
	Groups      []string      `json:"groups"`
}

// DeleteAccountRequest is the body of DELETE /auth/signup/:username.
type DeleteAccountRequest struct {
	Username string `json:"username"`
}

// CallerRequest carries the authenticated caller (nil if the request was
// unauthenticated) alongside a payload-free RPC call.
type CallerRequest struct {
	Caller *domain.User `json:"caller"`
}

// GetUserRequest is the body behind GET /auth/info/:username and
// GET /auth/signin/:username.
type GetUserRequest struct {
	Username string       `json:"username"`
	Caller   *domain.User `json:"caller"`
}

// GetUserResponse wraps the projected view.
type GetUserResponse struct {
	View UserView `json:"view"`
}

// ListUsersRequest carries the caller for the admin check.
type ListUsersRequest struct {
	Caller *domain.User `json:"caller"`
}

// AccessInfoRequest carries the caller whose access summary is wanted.
type AccessInfoRequest struct {
	Caller *domain.User `json:"caller"`
}

// PrivateRequest is the shared shape behind every /private/* operation.
type PrivateRequest struct {
	Caller *domain.User `json:"caller"`
	Suffix string       `json:"suffix"`
	Body   any          `json:"body,omitempty"`
}

// PrivateGetResponse carries the loaded document, or Found=false on a
// 404.
type PrivateGetResponse struct {
	Found    bool `json:"found"`
	Document any  `json:"document,omitempty"`
}

// PrivateExistsResponse answers a HEAD request.
type PrivateExistsResponse struct {
	Found bool `json:"found"`
}

// AuthenticateRequest is the body of the "authenticate" RPC, resolving a
// bearer token to its owning user for the pipeline's auth stage.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// AuthenticateResponse carries the resolved user, nil when the token
// does not authenticate.
type AuthenticateResponse struct {
	User *domain.User `json:"user,omitempty"`
}

// ServiceError carries an error kind the handler layer maps to an HTTP
// status, plus the exact message text the wire contract expects. Its
// Error() string encodes the kind as a prefix ("kind: message") so the
// classification survives a round trip through the request-reply
// container, which only carries the error's string across the module
// boundary.
type ServiceError struct {
	Kind    ErrorKind
	Message string
}

func (e *ServiceError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// ErrorKind enumerates the error categories of spec §7.
type ErrorKind string

const (
	ErrValidation         ErrorKind = "validation"
	ErrAuthMissing        ErrorKind = "auth-missing"
	ErrAuthInvalid        ErrorKind = "auth-invalid"
	ErrCredentialMismatch ErrorKind = "credential-mismatch"
	ErrNotVerified        ErrorKind = "not-verified"
	ErrForbidden          ErrorKind = "forbidden"
	ErrNotFound           ErrorKind = "not-found"
	ErrConflict           ErrorKind = "conflict"
	ErrInternal           ErrorKind = "internal"
)

func fail(kind ErrorKind, message string) error {
	return &ServiceError{Kind: kind, Message: message}
}

// ParseServiceError recovers the kind/message pair from err. It tries
// errors.As first, for the common case where the error value survives a
// call intact; it falls back to locating the "kind: message" marker
// ServiceError.Error embeds, for the case where an RPC boundary reduced
// the error to its string form (possibly prefixed with additional
// "<service> request failed: " wrapping from the adapter).
func ParseServiceError(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind, se.Message
	}

	text := err.Error()
	for _, kind := range []ErrorKind{
		ErrValidation, ErrAuthMissing, ErrAuthInvalid, ErrCredentialMismatch,
		ErrNotVerified, ErrForbidden, ErrNotFound, ErrConflict, ErrInternal,
	} {
		marker := string(kind) + ": "
		if idx := strings.Index(text, marker); idx != -1 {
			return kind, text[idx+len(marker):]
		}
	}
	return ErrInternal, text
}

// Package domain holds the data shapes shared across the storage, token,
// rotation, and access layers.
package domain

import "time"

// User is the persisted account record. PasswordHash, VerificationCode, and
// ResetCode never leave this package except through a projection built by
// the service that knows the caller's visibility (see
// internal/core Service.ProjectUser).
type User struct {
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"passwordHash"`
	Verified         bool      `json:"verified"`
	VerificationCode string    `json:"verificationCode,omitempty"`
	ResetCode        string    `json:"resetCode,omitempty"`
	Roles            []string  `json:"roles"`
	IsPublic         bool      `json:"isPublic,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasRole reports whether the user carries the named role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user carries the "admin" role.
func (u *User) IsAdmin() bool {
	return u.HasRole("admin")
}

// TokenPair is a freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	Subject       string
}

// TokenKind distinguishes access tokens from refresh tokens in TokenStore.
type TokenKind string

const (
	// KindAccess marks a short-lived bearer token.
	KindAccess TokenKind = "access"
	// KindRefresh marks a long-lived rotation token.
	KindRefresh TokenKind = "refresh"
)

// TokenRecord is what TokenStore keeps per opaque token string, both in
// memory and (minus the token itself, which is the map key) on disk.
type TokenRecord struct {
	Subject string    `json:"subject"`
	Expiry  time.Time `json:"time"`
	Kind    TokenKind `json:"-"`
	// IsRefresh mirrors Kind for the on-disk tokens.json shape.
	IsRefresh bool `json:"isRefresh"`
}

// RotationNode is one link of a user's refresh-token chain.
type RotationNode struct {
	Subject             string    `json:"username"`
	CreatedAt           time.Time `json:"createdAt"`
	PreviousRefreshToken string   `json:"previousToken,omitempty"`
}

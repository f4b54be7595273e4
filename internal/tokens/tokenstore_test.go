package tokens

import (
	"errors"
	"testing"
	"time"

	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/store"
	"github.com/example/authguard-server/internal/userdir"
)

func newFixture(t *testing.T) (*Store, *userdir.Directory) {
	t.Helper()
	docs := store.New(t.TempDir())
	users := userdir.New(docs)
	if err := users.SaveUser(&domain.User{Name: "alice"}); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	return New(docs, users), users
}

func TestMintAndAuth(t *testing.T) {
	st, _ := newFixture(t)

	pair, err := st.Mint("alice")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("Mint() produced invalid pair: %+v", pair)
	}

	user, err := st.Auth(pair.AccessToken)
	if err != nil {
		t.Fatalf("Auth(access) error = %v", err)
	}
	if user.Name != "alice" {
		t.Errorf("Auth(access).Name = %q, want alice", user.Name)
	}

	user, err = st.Auth(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Auth(refresh) error = %v", err)
	}
	if user.Name != "alice" {
		t.Errorf("Auth(refresh).Name = %q, want alice", user.Name)
	}
}

func TestAuthUnknownToken(t *testing.T) {
	st, _ := newFixture(t)
	_, err := st.Auth("not-a-real-token")
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Kind != FailureUnknown {
		t.Fatalf("Auth(unknown) error = %v, want FailureUnknown", err)
	}
	if !IsNotFoundKind(err) {
		t.Error("IsNotFoundKind() = false for an unknown token")
	}
}

func TestAuthExpiredToken(t *testing.T) {
	st, _ := newFixture(t)
	if err := st.Register("stale-token", domain.TokenRecord{
		Subject: "alice", Expiry: time.Now().Add(-time.Minute), Kind: domain.KindAccess,
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := st.Auth("stale-token")
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Kind != FailureExpired {
		t.Fatalf("Auth(expired) error = %v, want FailureExpired", err)
	}

	// The expired entry must have been evicted: a second Auth reports unknown.
	_, err = st.Auth("stale-token")
	if !errors.As(err, &ae) || ae.Kind != FailureUnknown {
		t.Fatalf("Auth(evicted) error = %v, want FailureUnknown", err)
	}
}

func TestAuthSubjectMissing(t *testing.T) {
	st, _ := newFixture(t)
	if err := st.Register("ghost-token", domain.TokenRecord{
		Subject: "ghost", Expiry: time.Now().Add(time.Hour), Kind: domain.KindAccess,
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := st.Auth("ghost-token")
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Kind != FailureSubjectMissing {
		t.Fatalf("Auth(ghost subject) error = %v, want FailureSubjectMissing", err)
	}
}

func TestInvalidate(t *testing.T) {
	st, _ := newFixture(t)
	pair, err := st.Mint("alice")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := st.Invalidate(pair.AccessToken); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := st.Auth(pair.AccessToken); !IsNotFoundKind(err) {
		t.Errorf("Auth() after Invalidate() = %v, want unknown-token", err)
	}
}

func TestClearUserTokens(t *testing.T) {
	st, _ := newFixture(t)
	pair1, _ := st.Mint("alice")
	pair2, _ := st.Mint("alice")

	if err := st.ClearUserTokens("alice"); err != nil {
		t.Fatalf("ClearUserTokens() error = %v", err)
	}
	for _, tok := range []string{pair1.AccessToken, pair1.RefreshToken, pair2.AccessToken, pair2.RefreshToken} {
		if _, err := st.Auth(tok); !IsNotFoundKind(err) {
			t.Errorf("Auth(%q) after ClearUserTokens = %v, want unknown-token", tok, err)
		}
	}
}

func TestLoadRehydratesFromDisk(t *testing.T) {
	docs := store.New(t.TempDir())
	users := userdir.New(docs)
	if err := users.SaveUser(&domain.User{Name: "alice"}); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	first := New(docs, users)
	pair, err := first.Mint("alice")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	second := New(docs, users)
	if err := second.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	user, err := second.Auth(pair.AccessToken)
	if err != nil {
		t.Fatalf("Auth() on rehydrated store error = %v", err)
	}
	if user.Name != "alice" {
		t.Errorf("Auth() on rehydrated store = %q, want alice", user.Name)
	}
}

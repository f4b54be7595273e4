package rotation

import (
	"testing"

	"github.com/example/authguard-server/internal/store"
)

func TestRegisterAndValidate(t *testing.T) {
	r := New(store.New(t.TempDir()))

	if err := r.Register("t1", "alice", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ok, err := r.Validate("t1", "alice")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !ok {
		t.Error("Validate() = false, want true for a freshly registered token")
	}
}

func TestValidateWrongSubject(t *testing.T) {
	r := New(store.New(t.TempDir()))
	if err := r.Register("t1", "alice", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ok, err := r.Validate("t1", "bob")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ok {
		t.Error("Validate() = true for the wrong subject, want false")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	r := New(store.New(t.TempDir()))
	ok, err := r.Validate("nope", "alice")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ok {
		t.Error("Validate() = true for an unregistered token, want false")
	}
}

func TestInvalidateCascadesThroughChain(t *testing.T) {
	r := New(store.New(t.TempDir()))

	if err := r.Register("t1", "alice", ""); err != nil {
		t.Fatalf("Register(t1) error = %v", err)
	}
	if err := r.Register("t2", "alice", "t1"); err != nil {
		t.Fatalf("Register(t2) error = %v", err)
	}
	if err := r.Register("t3", "alice", "t2"); err != nil {
		t.Fatalf("Register(t3) error = %v", err)
	}

	if err := r.Invalidate("t3"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	for _, tok := range []string{"t1", "t2", "t3"} {
		ok, err := r.Validate(tok, "alice")
		if err != nil {
			t.Fatalf("Validate(%q) error = %v", tok, err)
		}
		if ok {
			t.Errorf("Validate(%q) = true after cascading invalidation, want false", tok)
		}
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	r := New(store.New(t.TempDir()))
	if err := r.Register("t1", "alice", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Invalidate("t1"); err != nil {
		t.Fatalf("first Invalidate() error = %v", err)
	}
	if err := r.Invalidate("t1"); err != nil {
		t.Fatalf("second Invalidate() on already-removed token error = %v, want nil", err)
	}
}

func TestClearUserTokensLeavesOthersIntact(t *testing.T) {
	r := New(store.New(t.TempDir()))
	if err := r.Register("a1", "alice", ""); err != nil {
		t.Fatalf("Register(a1) error = %v", err)
	}
	if err := r.Register("b1", "bob", ""); err != nil {
		t.Fatalf("Register(b1) error = %v", err)
	}

	if err := r.ClearUserTokens("alice"); err != nil {
		t.Fatalf("ClearUserTokens() error = %v", err)
	}

	if ok, _ := r.Validate("a1", "alice"); ok {
		t.Error("alice's token survived ClearUserTokens")
	}
	if ok, _ := r.Validate("b1", "bob"); !ok {
		t.Error("bob's token was wrongly cleared")
	}
}

func TestLoadRehydratesChain(t *testing.T) {
	docs := store.New(t.TempDir())

	first := New(docs)
	if err := first.Register("t1", "alice", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := first.Register("t2", "alice", "t1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	second := New(docs)
	if err := second.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok, err := second.Validate("t2", "alice"); err != nil || !ok {
		t.Fatalf("Validate(t2) after Load = (%v, %v), want (true, nil)", ok, err)
	}

	// The reloaded registry must still know t2's ancestry for cascade.
	if err := second.Invalidate("t2"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if ok, _ := second.Validate("t1", "alice"); ok {
		t.Error("Invalidate(t2) after reload did not cascade to t1")
	}
}

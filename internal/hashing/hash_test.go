package hashing

import "testing"

func TestShortDigestDeterministic(t *testing.T) {
	a := ShortDigest("hello")
	b := ShortDigest("hello")
	if a != b {
		t.Errorf("ShortDigest not deterministic: %q != %q", a, b)
	}
	if a == ShortDigest("hellO") {
		t.Error("ShortDigest produced the same output for different input")
	}
}

func TestShortDigestURLSafe(t *testing.T) {
	for _, in := range []string{"a", "hello world", "密码123", ""} {
		d := ShortDigest(in)
		for _, c := range d {
			if c == '+' || c == '/' || c == '=' {
				t.Errorf("ShortDigest(%q) = %q contains non-URL-safe character %q", in, d, c)
			}
		}
	}
}

func TestRandomTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := RandomToken()
		if tok == "" {
			t.Fatal("RandomToken returned empty string")
		}
		if seen[tok] {
			t.Fatalf("RandomToken produced a duplicate: %q", tok)
		}
		seen[tok] = true
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash := HashPassword("correct horse battery staple")
	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("VerifyPassword rejected the correct password")
	}
	if VerifyPassword("wrong password", hash) {
		t.Error("VerifyPassword accepted an incorrect password")
	}
}

func TestHashPasswordIsShortDigest(t *testing.T) {
	if HashPassword("abc") != ShortDigest("abc") {
		t.Error("HashPassword should be exactly shortDigest(password)")
	}
}

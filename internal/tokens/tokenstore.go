// Package tokens implements the in-memory/on-disk bearer token index: an
// O(1) lookup map backed by a mirror document under each user, loaded
// eagerly at startup.
package tokens

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/hashing"
	"github.com/example/authguard-server/internal/store"
	"github.com/example/authguard-server/internal/userdir"
)

const (
	// AccessLifetime is how long a minted access token remains valid.
	AccessLifetime = time.Hour
	// RefreshLifetime is how long a minted refresh token remains valid.
	RefreshLifetime = 30 * 24 * time.Hour
)

// FailureKind classifies why Auth could not resolve a token to a user.
type FailureKind string

const (
	// FailureUnknown means the token is not present in the store at all.
	FailureUnknown FailureKind = "token-unknown"
	// FailureExpired means the token was present but past its expiry.
	FailureExpired FailureKind = "token-expired"
	// FailureSubjectMissing means the token's subject has no user record —
	// a data-integrity signal worth logging, not a client error.
	FailureSubjectMissing FailureKind = "subject-missing"
)

// AuthError reports why Auth failed.
type AuthError struct {
	Kind FailureKind
}

func (e *AuthError) Error() string {
	return "tokens: auth failed: " + string(e.Kind)
}

// diskRecord is the on-disk shape of one entry in a user's tokens.json,
// keyed by the token string itself.
type diskRecord struct {
	Time      time.Time `json:"time"`
	IsRefresh bool      `json:"isRefresh"`
}

// Store is the process-wide token index.
type Store struct {
	mu     sync.Mutex
	tokens map[string]domain.TokenRecord
	docs   *store.Store
	users  *userdir.Directory
}

// New returns an empty Store. Call Load to rehydrate it from disk.
func New(docs *store.Store, users *userdir.Directory) *Store {
	return &Store{
		tokens: make(map[string]domain.TokenRecord),
		docs:   docs,
		users:  users,
	}
}

// Load walks the user tree and loads every tokens.json, rehydrating each
// entry into the in-memory map. Safe to call once at startup.
func (s *Store) Load() error {
	entries, err := s.docs.Walk("users")
	if err != nil {
		return fmt.Errorf("tokens: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if !e.IsFile || len(e.Path) < len("tokens.json") || e.Path[len(e.Path)-len("tokens.json"):] != "tokens.json" {
			continue
		}
		subject := subjectFromTokensPath(e.Path)
		if subject == "" {
			continue
		}

		doc, err := store.LoadDocument(s.docs, e.Path, map[string]diskRecord{})
		if err != nil {
			return fmt.Errorf("tokens: load %s: %w", e.Path, err)
		}
		for token, rec := range doc {
			kind := domain.KindAccess
			if rec.IsRefresh {
				kind = domain.KindRefresh
			}
			s.tokens[token] = domain.TokenRecord{
				Subject:   subject,
				Expiry:    rec.Time,
				Kind:      kind,
				IsRefresh: rec.IsRefresh,
			}
		}
	}
	return nil
}

func subjectFromTokensPath(relPath string) string {
	// users/<first2>/<next2>/<name>/tokens.json
	parts := splitPath(relPath)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func splitPath(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	parts = append(parts, p[start:])
	return parts
}

// Mint generates a fresh access/refresh pair for subject with the fixed
// lifetimes and registers both tokens in the store.
func (s *Store) Mint(subject string) (*domain.TokenPair, error) {
	now := time.Now()
	pair := &domain.TokenPair{
		AccessToken:   hashing.RandomToken(),
		RefreshToken:  hashing.RandomToken(),
		AccessExpiry:  now.Add(AccessLifetime),
		RefreshExpiry: now.Add(RefreshLifetime),
		Subject:       subject,
	}

	if err := s.Register(pair.AccessToken, domain.TokenRecord{
		Subject: subject, Expiry: pair.AccessExpiry, Kind: domain.KindAccess,
	}); err != nil {
		return nil, err
	}
	if err := s.Register(pair.RefreshToken, domain.TokenRecord{
		Subject: subject, Expiry: pair.RefreshExpiry, Kind: domain.KindRefresh,
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Register inserts a single token record in memory and persists it into
// the owning subject's tokens.json.
func (s *Store) Register(token string, rec domain.TokenRecord) error {
	rec.IsRefresh = rec.Kind == domain.KindRefresh

	s.mu.Lock()
	s.tokens[token] = rec
	err := s.persistLocked(rec.Subject)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("tokens: register: %w", err)
	}
	return nil
}

// Auth resolves an opaque bearer token to its owning user, applying the
// access/refresh expiry rule and self-healing expired entries by deleting
// them from memory and from the owning user's on-disk mirror.
func (s *Store) Auth(token string) (*domain.User, error) {
	s.mu.Lock()
	rec, ok := s.tokens[token]
	if !ok {
		s.mu.Unlock()
		return nil, &AuthError{Kind: FailureUnknown}
	}

	if time.Now().After(rec.Expiry) {
		delete(s.tokens, token)
		err := s.persistLocked(rec.Subject)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("tokens: evict expired: %w", err)
		}
		return nil, &AuthError{Kind: FailureExpired}
	}
	s.mu.Unlock()

	user, exists, err := s.users.GetUser(rec.Subject)
	if err != nil {
		return nil, fmt.Errorf("tokens: load subject %s: %w", rec.Subject, err)
	}
	if !exists {
		return nil, &AuthError{Kind: FailureSubjectMissing}
	}
	return user, nil
}

// Invalidate removes a single token.
func (s *Store) Invalidate(token string) error {
	s.mu.Lock()
	rec, ok := s.tokens[token]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.tokens, token)
	err := s.persistLocked(rec.Subject)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("tokens: invalidate: %w", err)
	}
	return nil
}

// ClearUserTokens deletes every token belonging to subject, in memory and
// on disk.
func (s *Store) ClearUserTokens(subject string) error {
	s.mu.Lock()
	for token, rec := range s.tokens {
		if rec.Subject == subject {
			delete(s.tokens, token)
		}
	}
	err := store.DropDocument(s.docs, userdir.TokensPath(subject))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("tokens: clear %s: %w", subject, err)
	}
	return nil
}

// persistLocked rewrites subject's tokens.json from the current in-memory
// state. Callers must hold s.mu.
func (s *Store) persistLocked(subject string) error {
	doc := make(map[string]diskRecord)
	for token, rec := range s.tokens {
		if rec.Subject != subject {
			continue
		}
		doc[token] = diskRecord{Time: rec.Expiry, IsRefresh: rec.Kind == domain.KindRefresh}
	}
	if len(doc) == 0 {
		return store.DropDocument(s.docs, userdir.TokensPath(subject))
	}
	return store.SaveDocument(s.docs, userdir.TokensPath(subject), doc)
}

// IsNotFoundKind reports whether err is an AuthError signalling the token
// was never registered (as opposed to expired or subject-missing).
func IsNotFoundKind(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind == FailureUnknown
	}
	return false
}

// Package userdir layers user account persistence over the document store:
// sharded paths, the username pattern, and the per-user file set
// (info.json, tokens.json, access.txt).
package userdir

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/store"
)

// ErrInvalidName is returned when a username fails the naming pattern.
var ErrInvalidName = errors.New("userdir: invalid username")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ValidName reports whether name matches the required username pattern.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// ShardPath returns the directory a user named name lives under, relative
// to the store root: users/<first2>/<next2>/<name>/. This keeps any single
// directory's fanout bounded for large user counts.
func ShardPath(name string) string {
	first2, next2 := shardOf(name)
	return path.Join("users", first2, next2, name)
}

func shardOf(name string) (string, string) {
	padded := name
	for len(padded) < 4 {
		padded += "_"
	}
	return padded[0:2], padded[2:4]
}

// InfoPath is the relative path of a user's info.json.
func InfoPath(name string) string { return path.Join(ShardPath(name), "info.json") }

// TokensPath is the relative path of a user's tokens.json.
func TokensPath(name string) string { return path.Join(ShardPath(name), "tokens.json") }

// AccessPath is the relative path of a user's per-user access rules.
func AccessPath(name string) string { return path.Join(ShardPath(name), "access.txt") }

// Directory provides user CRUD over a Store.
type Directory struct {
	store *store.Store
}

// New returns a Directory backed by s.
func New(s *store.Store) *Directory {
	return &Directory{store: s}
}

// GetUser loads a user's info.json. The second return value is false when
// the user does not exist.
func (d *Directory) GetUser(name string) (*domain.User, bool, error) {
	var absent domain.User
	user, err := store.LoadDocument(d.store, InfoPath(name), absent)
	if err != nil {
		return nil, false, fmt.Errorf("userdir: get %s: %w", name, err)
	}
	if user.Name == "" {
		return nil, false, nil
	}
	return &user, true, nil
}

// SaveUser validates the username pattern, then persists info.json.
func (d *Directory) SaveUser(user *domain.User) error {
	if !ValidName(user.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, user.Name)
	}
	if err := store.SaveDocument(d.store, InfoPath(user.Name), user); err != nil {
		return fmt.Errorf("userdir: save %s: %w", user.Name, err)
	}
	return nil
}

// DeleteUser drops a user's info.json and tokens.json. Token-store and
// rotation-registry cleanup for the same user are the caller's
// responsibility (see internal/core), since this package owns only the
// per-user document files, not the in-memory indices layered on top.
func (d *Directory) DeleteUser(name string) error {
	if err := store.DropDocument(d.store, InfoPath(name)); err != nil {
		return fmt.Errorf("userdir: delete info %s: %w", name, err)
	}
	if err := store.DropDocument(d.store, TokensPath(name)); err != nil {
		return fmt.Errorf("userdir: delete tokens %s: %w", name, err)
	}
	return nil
}

// ListUsernames scans info.json files under the user tree and returns the
// sorted list of usernames.
func (d *Directory) ListUsernames() ([]string, error) {
	entries, err := d.store.Walk("users")
	if err != nil {
		return nil, fmt.Errorf("userdir: list: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsFile || !strings.HasSuffix(e.Path, "/info.json") {
			continue
		}
		dir := strings.TrimSuffix(e.Path, "/info.json")
		names = append(names, path.Base(dir))
	}
	sort.Strings(names)
	return names, nil
}

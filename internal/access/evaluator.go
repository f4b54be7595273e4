// Package access implements the layered access-control evaluator: per-user
// rules, group-scoped global rules, and a catch-all global rule, each read
// fresh from text files on every evaluation (no caching is mandated, and
// none is performed, so a rule-file edit takes effect on the next check).
package access

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/store"
	"github.com/example/authguard-server/internal/userdir"
)

const (
	groupsPath = ".group"
	globalPath = ".access"
)

// Rule is one (subject, access, target) line from a rule file.
type Rule struct {
	Subject string
	Access  string
	Target  string
}

// Matches reports whether level is granted by this rule for path.
func (r Rule) Matches(path string, level byte) bool {
	if !strings.ContainsRune(r.Access, rune(level)) {
		return false
	}
	return strings.HasPrefix(normalizeLeadingSlash(path), normalizeLeadingSlash(r.Target))
}

func normalizeLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Info summarises the rules that apply to a user, for the access/info
// endpoint.
type Info struct {
	UserAccess  []Rule
	GroupRules  []Rule
	GlobalRules []Rule
	Groups      []string
}

// Evaluator reads rule files fresh from the store on every call.
type Evaluator struct {
	docs *store.Store
}

// New returns an Evaluator reading rule files from docs.
func New(docs *store.Store) *Evaluator {
	return &Evaluator{docs: docs}
}

// Check decides whether user may access path at the given level ('r','w',
// or 'd'): per-user rules are tried first, then global rules scoped to a
// group the user belongs to, then the catch-all "*" global rules.
func (e *Evaluator) Check(user *domain.User, requestPath string, level byte) (bool, error) {
	userRules, err := e.userRules(user.Name)
	if err != nil {
		return false, err
	}
	for _, r := range userRules {
		if r.Matches(requestPath, level) {
			return true, nil
		}
	}

	groups, err := e.readGroups()
	if err != nil {
		return false, err
	}
	memberOf := groupsContaining(groups, user.Name)

	globalRules, err := e.readRules(globalPath)
	if err != nil {
		return false, err
	}
	for _, r := range globalRules {
		if r.Subject == "*" {
			continue
		}
		if !memberOf[r.Subject] {
			continue
		}
		if r.Matches(requestPath, level) {
			return true, nil
		}
	}

	for _, r := range globalRules {
		if r.Subject != "*" {
			continue
		}
		if r.Matches(requestPath, level) {
			return true, nil
		}
	}

	return false, nil
}

// Info gathers the rules and resolved groups relevant to user.
func (e *Evaluator) Info(user *domain.User) (Info, error) {
	userRules, err := e.userRules(user.Name)
	if err != nil {
		return Info{}, err
	}

	groups, err := e.readGroups()
	if err != nil {
		return Info{}, err
	}
	memberOf := groupsContaining(groups, user.Name)

	globalRules, err := e.readRules(globalPath)
	if err != nil {
		return Info{}, err
	}

	var groupRules, catchAll []Rule
	var groupNames []string
	for name := range memberOf {
		groupNames = append(groupNames, name)
	}
	for _, r := range globalRules {
		switch {
		case r.Subject == "*":
			catchAll = append(catchAll, r)
		case memberOf[r.Subject]:
			groupRules = append(groupRules, r)
		}
	}

	return Info{
		UserAccess:  userRules,
		GroupRules:  groupRules,
		GlobalRules: catchAll,
		Groups:      groupNames,
	}, nil
}

func (e *Evaluator) userRules(username string) ([]Rule, error) {
	return e.readRules(userdir.AccessPath(username))
}

// readRules parses a "<subject> <access> <target>" rule file. Missing
// files yield no rules.
func (e *Evaluator) readRules(relPath string) ([]Rule, error) {
	raw, found, err := e.docs.LoadRaw(relPath)
	if err != nil {
		return nil, fmt.Errorf("access: read %s: %w", relPath, err)
	}
	if !found {
		return nil, nil
	}

	var rules []Rule
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		rules = append(rules, Rule{Subject: fields[0], Access: fields[1], Target: fields[2]})
	}
	return rules, nil
}

// readGroups parses .group: each non-empty, non-comment line is
// "<group> <member> <member> ...".
func (e *Evaluator) readGroups() (map[string][]string, error) {
	raw, found, err := e.docs.LoadRaw(groupsPath)
	if err != nil {
		return nil, fmt.Errorf("access: read groups: %w", err)
	}
	groups := make(map[string][]string)
	if !found {
		return groups, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		groups[fields[0]] = fields[1:]
	}
	return groups, nil
}

// groupsContaining resolves which groups username belongs to, directly or
// through exactly one level of ".other-group" indirection.
func groupsContaining(groups map[string][]string, username string) map[string]bool {
	memberOf := make(map[string]bool)
	for group, members := range groups {
		for _, m := range members {
			if m == username {
				memberOf[group] = true
				continue
			}
			if strings.HasPrefix(m, ".") {
				sub := m[1:]
				for _, subMember := range groups[sub] {
					if subMember == username {
						memberOf[group] = true
					}
				}
			}
		}
	}
	return memberOf
}

// Package rotation implements the per-user refresh-token chain: an
// append-only linked list where each new refresh token references the one
// it replaces, so a stolen-and-replayed token can be mass-invalidated back
// through its whole ancestry.
package rotation

import (
	"sync"
	"time"

	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/store"
)

// snapshotPath is the single document the whole registry is mirrored to.
const snapshotPath = ".token-rotation-registry"

const chainLifetime = 30 * 24 * time.Hour

// diskNode is the on-disk shape of one entry in the snapshot document.
type diskNode struct {
	Subject       string  `json:"username"`
	CreatedAt     string  `json:"createdAt"`
	PreviousToken *string `json:"previousToken"`
}

// Registry is the in-memory rotation chain index, mirrored as a whole to
// a single snapshot document on each persistence event.
type Registry struct {
	mu    sync.Mutex
	nodes map[string]domain.RotationNode
	docs  *store.Store
}

// New returns an empty Registry. Call Load to rehydrate it from disk.
func New(docs *store.Store) *Registry {
	return &Registry{
		nodes: make(map[string]domain.RotationNode),
		docs:  docs,
	}
}

// Load rehydrates the registry from the snapshot document, if present.
func (r *Registry) Load() error {
	doc, err := store.LoadDocument(r.docs, snapshotPath, map[string]diskNode{})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for token, n := range doc {
		createdAt, _ := time.Parse(time.RFC3339Nano, n.CreatedAt)
		node := domain.RotationNode{Subject: n.Subject, CreatedAt: createdAt}
		if n.PreviousToken != nil {
			node.PreviousRefreshToken = *n.PreviousToken
		}
		r.nodes[token] = node
	}
	return nil
}

// Register unconditionally inserts a new chain node for token.
func (r *Registry) Register(token, subject string, previous string) error {
	r.mu.Lock()
	r.nodes[token] = domain.RotationNode{
		Subject:              subject,
		CreatedAt:            time.Now(),
		PreviousRefreshToken: previous,
	}
	err := r.persistLocked()
	r.mu.Unlock()
	return err
}

// Validate reports whether token is a live, non-expired node registered to
// subject. An expired node is removed as a side effect of the check.
func (r *Registry) Validate(token, subject string) (bool, error) {
	r.mu.Lock()
	node, ok := r.nodes[token]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if node.Subject != subject {
		r.mu.Unlock()
		return false, nil
	}
	if time.Since(node.CreatedAt) > chainLifetime {
		delete(r.nodes, token)
		err := r.persistLocked()
		r.mu.Unlock()
		return false, err
	}
	r.mu.Unlock()
	return true, nil
}

// Invalidate deletes token, then walks backward through previous/
// previous.previous/... until a missing predecessor stops the walk,
// cascading the entire prefix of the chain. A second call on an
// already-removed token is a no-op.
func (r *Registry) Invalidate(token string) error {
	r.mu.Lock()
	defer func() { r.mu.Unlock() }()

	current := token
	changed := false
	for current != "" {
		node, ok := r.nodes[current]
		if !ok {
			break
		}
		delete(r.nodes, current)
		changed = true
		current = node.PreviousRefreshToken
	}
	if !changed {
		return nil
	}
	return r.persistLocked()
}

// ClearUserTokens deletes every node belonging to subject.
func (r *Registry) ClearUserTokens(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for token, node := range r.nodes {
		if node.Subject == subject {
			delete(r.nodes, token)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.persistLocked()
}

// Cleanup sweeps every node past the chain lifetime.
func (r *Registry) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for token, node := range r.nodes {
		if time.Since(node.CreatedAt) > chainLifetime {
			delete(r.nodes, token)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.persistLocked()
}

// persistLocked serialises the whole registry to the snapshot document.
// Callers must hold r.mu.
func (r *Registry) persistLocked() error {
	doc := make(map[string]diskNode, len(r.nodes))
	for token, node := range r.nodes {
		n := diskNode{
			Subject:   node.Subject,
			CreatedAt: node.CreatedAt.Format(time.RFC3339Nano),
		}
		if node.PreviousRefreshToken != "" {
			prev := node.PreviousRefreshToken
			n.PreviousToken = &prev
		}
		doc[token] = n
	}
	return store.SaveDocument(r.docs, snapshotPath, doc)
}

// ABOUTME: Volatile registry of online users keyed by user ID with per-user connection counts
// ABOUTME: A user stays online until their last connection leaves

package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry tracks which users have at least one live connection.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]int // userID -> open connection count
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]int)}
}

// Add records a new connection for userID. It reports whether the user just
// came online and returns the sorted online set after the change.
func (r *Registry) Add(userID string) (cameOnline bool, online []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID]++
	return r.conns[userID] == 1, r.snapshotLocked()
}

// Remove drops one connection for userID. The user leaves the set only when
// the count reaches zero. Removing an unknown user is a no-op.
func (r *Registry) Remove(userID string) (wentOffline bool, online []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.conns[userID]
	if !ok {
		return false, r.snapshotLocked()
	}
	if n <= 1 {
		delete(r.conns, userID)
		return true, r.snapshotLocked()
	}
	r.conns[userID] = n - 1
	return false, r.snapshotLocked()
}

// IsOnline reports whether userID has any open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID] > 0
}

// Online returns the sorted list of online user IDs.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Count returns how many distinct users are online.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections returns how many connections userID currently holds.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// Reset forgets every user. Used on shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.conns)
}

func (r *Registry) snapshotLocked() []string {
	ids := lo.Keys(r.conns)
	slices.Sort(ids)
	return ids
}

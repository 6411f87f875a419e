package finder

import "sync"

type mountKey struct {
	root string
	pkg  string
}

// PathRegistry records which filesystem directory backs each materialized
// package. Entries are scoped to the (root, package) pair so two packages
// never pollute each other's search paths, and the table is additive only:
// once a mount is visible it is never removed or replaced for the lifetime
// of the process.
type PathRegistry struct {
	mu     sync.RWMutex
	mounts map[mountKey]string
}

// NewPathRegistry returns an empty registry.
func NewPathRegistry() *PathRegistry {
	return &PathRegistry{mounts: make(map[mountKey]string)}
}

// Register makes dir the backing directory for root/pkg. If a mount
// already exists the original wins; the registered directory is returned
// either way. Callers must only register directories whose contents are
// fully written; the materializer's completion is the synchronization
// point.
func (r *PathRegistry) Register(root, pkg, dir string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mountKey{root: root, pkg: pkg}
	if existing, ok := r.mounts[key]; ok {
		return existing
	}
	r.mounts[key] = dir
	return dir
}

// Lookup returns the backing directory for root/pkg, if registered.
func (r *PathRegistry) Lookup(root, pkg string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dir, ok := r.mounts[mountKey{root: root, pkg: pkg}]
	return dir, ok
}

// Len returns the number of registered mounts.
func (r *PathRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}

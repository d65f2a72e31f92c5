// Package locker maps arbitrary string keys to reusable counting locks.
//
// Source resolution, clone-cache creation, and other subsystems contend over
// directories and logical resources identified by name. The first request for
// a key creates a weighted semaphore with the requested concurrency; every
// later request for the same key returns the identical instance, so all
// callers serialize on the same primitive for the lifetime of the process.
package locker

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/semaphore"
)

// dirPrefix namespaces directory keys so a logical lock name can never
// collide with a path.
const dirPrefix = "_dir::"

// Registry owns the key -> semaphore table. Entries are created lazily and
// never removed. The table itself is guarded by a reserved guard semaphore so
// the check-and-create is atomic; the guard's key ("") is not available to
// callers.
type Registry struct {
	guard *semaphore.Weighted
	locks map[string]*semaphore.Weighted
}

// New returns an empty lock registry.
func New() *Registry {
	return &Registry{
		guard: semaphore.NewWeighted(1),
		locks: map[string]*semaphore.Weighted{},
	}
}

// Named returns the lock associated with name, creating a full mutex
// (concurrency 1) on first use.
func (r *Registry) Named(name string) *semaphore.Weighted {
	return r.lookup(name, 1)
}

// NamedCount is Named with a configurable concurrency count. The count is
// only consulted the first time a key is seen; later callers receive the
// original semaphore regardless of the count they pass.
func (r *Registry) NamedCount(name string, count int64) *semaphore.Weighted {
	return r.lookup(name, count)
}

// NamedDir returns the lock for a directory path. The path is normalized to
// an absolute, cleaned form so equivalent spellings (trailing slashes,
// relative segments) collapse to a single lock.
func (r *Registry) NamedDir(path string) *semaphore.Weighted {
	return r.lookup(dirPrefix+normalizeDir(path), 1)
}

func (r *Registry) lookup(key string, count int64) *semaphore.Weighted {
	// The guard can never be held long; Acquire with a background-free
	// TryAcquire spin is not worth it, block unconditionally.
	mustAcquire(r.guard)
	defer r.guard.Release(1)

	if s, ok := r.locks[key]; ok {
		return s
	}
	s := semaphore.NewWeighted(count)
	r.locks[key] = s
	return s
}

// mustAcquire blocks until the semaphore is held. Acquire with a background
// context cannot return an error.
func mustAcquire(s *semaphore.Weighted) {
	_ = s.Acquire(context.Background(), 1)
}

func normalizeDir(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		// Abs only fails when the working directory is gone; fall back to a
		// cleaned relative path so callers still collapse consistently.
		return filepath.Clean(path)
	}
	return abs
}

package brew

import (
	"context"
	"sync"
)

// Shared serializes access to a single lazily constructed session. Call
// sites that want serialized-but-shared access (for example locking in the
// basis event at initialize time) use this instead of a pooled lease.
type Shared struct {
	factory Factory

	mu      sync.Mutex
	session Session
}

// NewShared wraps a factory in a shared-session guard. The session is built
// on first use and never recreated for the runtime's lifetime.
func NewShared(factory Factory) *Shared {
	return &Shared{factory: factory}
}

// With runs fn holding exclusive access to the shared session. The guard is
// not reentrant: fn must not call With again.
func (s *Shared) With(ctx context.Context, fn func(Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.session == nil {
		s.session = s.factory()
	}
	return fn(s.session)
}

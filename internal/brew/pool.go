package brew

import (
	"context"
	"sync"
	"time"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
)

// PoolCap bounds concurrent hub connections. Session construction involves
// an auth handshake, so sessions are reused; the cap keeps a highly parallel
// run from opening unbounded connections.
const PoolCap = 30

// poolRetryInterval is how long an exhausted-pool caller sleeps before
// re-running the acquisition decision.
const poolRetryInterval = 5 * time.Second

// Factory constructs a new hub session.
type Factory func() Session

// Pool hands out exclusive session leases. It grows by allocation until
// PoolCap, after which callers block and retry.
type Pool struct {
	factory Factory

	// mu guards only the bookkeeping maps below; it is never held across a
	// hub call.
	mu        sync.Mutex
	sessions  map[int]Session
	available map[int]Session

	// retryInterval is overridable in tests.
	retryInterval time.Duration
	cap           int
}

// NewPool creates a session pool of the default capacity.
func NewPool(factory Factory) *Pool {
	return &Pool{
		factory:       factory,
		sessions:      map[int]Session{},
		available:     map[int]Session{},
		retryInterval: poolRetryInterval,
		cap:           PoolCap,
	}
}

// WithSession leases a session, runs fn with it, and returns the session to
// the pool on every exit path. The caching flag is applied for the duration
// of the lease and reset on release.
//
// Nesting WithSession calls from the same logical task can deadlock when the
// pool is exhausted; that is a caller responsibility, not a detected error.
func (p *Pool) WithSession(ctx context.Context, caching bool, fn func(Session) error) error {
	logger := ctxlog.FromContext(ctx)

	var session Session
	var id int
	for {
		acquired := false
		p.mu.Lock()
		if len(p.available) > 0 {
			for availableID, availableSession := range p.available {
				id, session = availableID, availableSession
				delete(p.available, id)
				break
			}
			acquired = true
		} else if len(p.sessions) < p.cap {
			session = p.factory()
			id = len(p.sessions)
			p.sessions[id] = session
			acquired = true
		}
		p.mu.Unlock()
		if acquired {
			break
		}

		logger.Debug("session pool exhausted, waiting", "cap", p.cap)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryInterval):
		}
	}

	defer func() {
		session.SetCaching(false)
		p.mu.Lock()
		p.available[id] = session
		p.mu.Unlock()
	}()

	session.SetCaching(caching)
	return fn(session)
}

// Size returns the number of sessions ever constructed.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Package brew talks to the remote build system (brew/koji hub) and manages
// the expensive client sessions used to do so. Sessions are leased from a
// bounded pool or shared behind a lock; both honor the runtime's pinned brew
// event so every query sees a consistent point in time.
package brew

import (
	"context"
	"fmt"
	"sync"

	"resty.dev/v3"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
)

// Event is a point in the build system's history. Queries pinned to an event
// id see the tag/build state as of that moment.
type Event struct {
	ID int64
	TS float64
}

// Build is the hub's build record, kept generic: callers pick the fields
// they need (id, nvr, state, epoch, ...).
type Build map[string]any

// Session is the capability set the runtime needs from a hub connection.
type Session interface {
	GetLastEvent(ctx context.Context) (*Event, error)
	GetBuild(ctx context.Context, nvr string) (Build, error)
	ListTags(ctx context.Context, nvr string) ([]string, error)
	ListTagged(ctx context.Context, tag string) ([]Build, error)
	// SetCaching toggles placing calls and results into the shared response
	// cache for the remainder of the lease.
	SetCaching(bool)
}

// Client is an XML-RPC session against the hub. Construction is cheap; the
// expense the pool amortizes is on the hub side (auth handshake and
// per-connection state), so instances are reused rather than recreated.
type Client struct {
	hub   string
	event int64
	rc    *resty.Client

	caching bool
	cache   *Cache
}

// Cache memoizes hub responses. The runtime hands one instance to every
// session it constructs, so a cached result is shared across the whole pool.
// It is guarded by its own lock so cache traffic never contends with pool
// bookkeeping.
type Cache struct {
	mu      sync.Mutex
	results map[string]any
}

// NewCache returns an empty response cache.
func NewCache() *Cache {
	return &Cache{results: map[string]any{}}
}

// NewClient constructs a hub session. event=0 means "no pinning". A nil cache
// gives the session a private one.
func NewClient(hub string, event int64, cache *Cache) *Client {
	if cache == nil {
		cache = NewCache()
	}
	return &Client{
		hub:   hub,
		event: event,
		rc:    resty.New().SetBaseURL(hub).SetRetryCount(3),
		cache: cache,
	}
}

// SetCaching implements Session.
func (c *Client) SetCaching(enabled bool) { c.caching = enabled }

// Event returns the pinned event id (0 when unpinned).
func (c *Client) Event() int64 { return c.event }

func (c *Client) call(ctx context.Context, method string, args ...any) (any, error) {
	cacheKey := ""
	if c.caching {
		cacheKey = fmt.Sprintf("%s%v", method, args)
		c.cache.mu.Lock()
		cached, ok := c.cache.results[cacheKey]
		c.cache.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	payload, err := marshalCall(method, args)
	if err != nil {
		return nil, err
	}
	res, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml").
		SetBody(payload).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("koji hub %s: %w", method, err)
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("koji hub %s: unexpected status %d", method, res.StatusCode())
	}
	value, err := unmarshalResponse(res.Bytes())
	if err != nil {
		return nil, fmt.Errorf("koji hub %s: %w", method, err)
	}

	if c.caching {
		c.cache.mu.Lock()
		c.cache.results[cacheKey] = value
		c.cache.mu.Unlock()
	}
	return value, nil
}

// GetLastEvent returns the most recent event on the hub.
func (c *Client) GetLastEvent(ctx context.Context) (*Event, error) {
	value, err := c.call(ctx, "getLastEvent")
	if err != nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("koji hub getLastEvent: unexpected response %T", value)
	}
	event := &Event{}
	if id, ok := m["id"].(int64); ok {
		event.ID = id
	}
	if ts, ok := m["ts"].(float64); ok {
		event.TS = ts
	}
	if event.ID == 0 {
		return nil, fmt.Errorf("koji hub getLastEvent: missing event id in response")
	}
	return event, nil
}

// GetBuild returns the build record for an NVR, or nil when the hub does not
// know the build.
func (c *Client) GetBuild(ctx context.Context, nvr string) (Build, error) {
	value, err := c.call(ctx, "getBuild", nvr)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("koji hub getBuild(%s): unexpected response %T", nvr, value)
	}
	return Build(m), nil
}

// ListTagged returns the latest builds tagged into tag. When the session is
// pinned, the query carries the event so the hub answers with the tag state
// as of that moment rather than now.
func (c *Client) ListTagged(ctx context.Context, tag string) ([]Build, error) {
	ctxlog.FromContext(ctx).Debug("listing tagged builds", "tag", tag, "event", c.event)
	// koji encodes keyword arguments as a trailing struct carrying the
	// __starstar marker.
	kwargs := map[string]any{
		"__starstar": true,
		"latest":     true,
	}
	if c.event != 0 {
		kwargs["event"] = c.event
	}
	value, err := c.call(ctx, "listTagged", tag, kwargs)
	if err != nil {
		return nil, err
	}
	entries, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("koji hub listTagged(%s): unexpected response %T", tag, value)
	}
	builds := make([]Build, 0, len(entries))
	for _, entry := range entries {
		if m, ok := entry.(map[string]any); ok {
			builds = append(builds, Build(m))
		}
	}
	return builds, nil
}

// ListTags returns the tag names currently applied to a build.
func (c *Client) ListTags(ctx context.Context, nvr string) ([]string, error) {
	ctxlog.FromContext(ctx).Debug("listing tags for build", "nvr", nvr)
	value, err := c.call(ctx, "listTags", nvr)
	if err != nil {
		return nil, err
	}
	entries, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("koji hub listTags(%s): unexpected response %T", nvr, value)
	}
	var names []string
	for _, entry := range entries {
		if m, ok := entry.(map[string]any); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

package brew

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub answers every XML-RPC call with a fixed response and records the
// request bodies it saw.
type fakeHub struct {
	response string

	mu     sync.Mutex
	bodies []string
	calls  atomic.Int32
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.bodies = append(h.bodies, string(raw))
	h.mu.Unlock()
	h.calls.Add(1)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(h.response))
}

func (h *fakeHub) lastBody(t *testing.T) string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.bodies)
	return h.bodies[len(h.bodies)-1]
}

const emptyArrayResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><array><data/></array></value></param></params></methodResponse>`

func TestClient_ListTagged_CarriesPinnedEvent(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{response: `<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
  <value><struct>
    <member><name>nvr</name><value><string>etcd-3.5.9-2.el9</string></value></member>
  </struct></value>
</data></array></value></param></params></methodResponse>`}
	server := httptest.NewServer(hub)
	defer server.Close()

	c := NewClient(server.URL, 57038541, nil)
	builds, err := c.ListTagged(context.Background(), "rhaos-4.14-rhel-9-candidate")
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, "etcd-3.5.9-2.el9", builds[0]["nvr"])

	body := hub.lastBody(t)
	assert.Contains(t, body, "<methodName>listTagged</methodName>")
	assert.Contains(t, body, "rhaos-4.14-rhel-9-candidate")
	assert.Contains(t, body, "<name>event</name>")
	assert.Contains(t, body, "<i8>57038541</i8>", "the pinned event must travel with the query")
	assert.Contains(t, body, "__starstar")
}

func TestClient_ListTagged_UnpinnedOmitsEvent(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{response: emptyArrayResponse}
	server := httptest.NewServer(hub)
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	builds, err := c.ListTagged(context.Background(), "rhaos-4.14-rhel-9-candidate")
	require.NoError(t, err)
	assert.Empty(t, builds)
	assert.NotContains(t, hub.lastBody(t), "<name>event</name>")
}

func TestClient_GetLastEvent(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{response: `<?xml version="1.0"?>
<methodResponse><params><param><value><struct>
  <member><name>id</name><value><i4>57038541</i4></value></member>
  <member><name>ts</name><value><double>1692000000.5</double></value></member>
</struct></value></param></params></methodResponse>`}
	server := httptest.NewServer(hub)
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	event, err := c.GetLastEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(57038541), event.ID)
	assert.Contains(t, hub.lastBody(t), "<methodName>getLastEvent</methodName>")
}

// A cache handed to multiple sessions must serve later sessions from the
// first session's results.
func TestClient_SharedCacheSpansSessions(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{response: `<?xml version="1.0"?>
<methodResponse><params><param><value><struct>
  <member><name>nvr</name><value><string>etcd-3.5.9-2.el9</string></value></member>
</struct></value></param></params></methodResponse>`}
	server := httptest.NewServer(hub)
	defer server.Close()

	cache := NewCache()
	first := NewClient(server.URL, 0, cache)
	first.SetCaching(true)
	second := NewClient(server.URL, 0, cache)
	second.SetCaching(true)

	b1, err := first.GetBuild(context.Background(), "etcd-3.5.9-2.el9")
	require.NoError(t, err)
	b2, err := second.GetBuild(context.Background(), "etcd-3.5.9-2.el9")
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assert.Equal(t, int32(1), hub.calls.Load(), "the second session must be served from the shared cache")
}

func TestClient_CachingOffBypassesCache(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{response: emptyArrayResponse}
	server := httptest.NewServer(hub)
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	for i := 0; i < 2; i++ {
		_, err := c.ListTags(context.Background(), "etcd-3.5.9-2.el9")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hub.calls.Load())
}

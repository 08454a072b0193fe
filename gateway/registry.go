package gateway

import (
	"sync"
	"time"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/toolbridge"
)

// DefaultPendingTTL bounds how long a suspended session waits for its
// confirmation before being discarded.
const DefaultPendingTTL = 5 * time.Minute

type (
	// parked is a session suspended on a tool proposal, waiting for the
	// confirm or cancel request that resumes it.
	parked struct {
		session *chat.Session
		pending *toolbridge.Confirmation
		sink    *switchSink
		expires time.Time
	}

	// registry holds suspended sessions keyed by session ID. Entries are
	// claimed exactly once: the first confirm or cancel request takes the
	// session and later requests find nothing.
	registry struct {
		mu  sync.Mutex
		m   map[string]parked
		ttl time.Duration
		now func() time.Time
	}
)

func newRegistry(ttl time.Duration) *registry {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &registry{m: make(map[string]parked), ttl: ttl, now: time.Now}
}

func (r *registry) park(id string, p parked) {
	r.mu.Lock()
	p.expires = r.now().Add(r.ttl)
	r.m[id] = p
	r.mu.Unlock()
}

// take claims the suspended session, removing it from the registry. Expired
// entries are treated as absent.
func (r *registry) take(id string) (parked, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return parked{}, false
	}
	delete(r.m, id)
	if r.now().After(p.expires) {
		return parked{}, false
	}
	return p, true
}

// sweep drops expired entries. Called periodically by the server.
func (r *registry) sweep() {
	now := r.now()
	r.mu.Lock()
	for id, p := range r.m {
		if now.After(p.expires) {
			delete(r.m, id)
		}
	}
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

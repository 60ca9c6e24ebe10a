package client

import (
	"sync"
	"time"
)

// pendingSet is a bounded-TTL membership cache of message ids whose
// creation was just confirmed. A hub replay of newMessage for an id in
// the set is a duplicate and gets ignored. Expired entries are purged
// lazily on every access.
type pendingSet struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]time.Time
	now func() time.Time
}

func newPendingSet(ttl time.Duration) *pendingSet {
	return &pendingSet{ttl: ttl, m: make(map[string]time.Time), now: time.Now}
}

func (p *pendingSet) Add(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purge()
	p.m[id] = p.now().Add(p.ttl)
}

func (p *pendingSet) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purge()
	_, ok := p.m[id]
	return ok
}

func (p *pendingSet) purge() {
	now := p.now()
	for id, exp := range p.m {
		if exp.Before(now) {
			delete(p.m, id)
		}
	}
}

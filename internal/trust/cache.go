package trust

import (
	"sync"
	"time"
)

type entry struct {
	trusted    bool
	suspicious bool
	expiresAt  time.Time
}

// cache is a thread-safe map with one TTL for every entry.
//
// Expired entries are swept from set at most once per TTL, so the map never
// holds more than the IPs seen during the last two TTLs. gen advances on
// every delete or clear; a fill that started under an older gen is dropped.
type cache struct {
	mu        sync.RWMutex
	data      map[string]entry
	ttl       time.Duration
	now       func() time.Time
	gen       uint64
	lastSweep time.Time
}

func newCache(ttl time.Duration, clock func() time.Time) *cache {
	return &cache{
		data:      make(map[string]entry),
		ttl:       ttl,
		now:       clock,
		lastSweep: clock(),
	}
}

func (c *cache) get(ip string) (entry, bool) {
	if c.ttl <= 0 {
		return entry{}, false
	}
	c.mu.RLock()
	e, ok := c.data[ip]
	c.mu.RUnlock()
	if !ok {
		return entry{}, false
	}

	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.data[ip]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.data, ip)
		}
		c.mu.Unlock()
		return entry{}, false
	}
	return e, true
}

// generation is read before a store lookup and passed back to set.
func (c *cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// set stores the answer unless an invalidation happened since gen was read.
func (c *cache) set(ip string, trusted, suspicious bool, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweepLocked(now)
	}
	c.data[ip] = entry{
		trusted:    trusted,
		suspicious: suspicious,
		expiresAt:  now.Add(c.ttl),
	}
}

func (c *cache) sweepLocked(now time.Time) {
	for ip, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, ip)
		}
	}
	c.lastSweep = now
}

func (c *cache) delete(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.data, ip)
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.data = make(map[string]entry)
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

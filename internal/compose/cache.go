package compose

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultMaxThreads bounds how many distinct threads the cache tracks when
// no capacity is configured; least recently used threads are evicted whole.
const defaultMaxThreads = 128

// capsulesPerThread is the retained capsule history per thread.
const capsulesPerThread = 16

// cachedCapsule remembers what a capsule was made of, for delta computation
// and undo.
type cachedCapsule struct {
	capsuleID string
	memoryIDs map[string]bool
	expiresAt time.Time
}

type threadEntry struct {
	// composeMu serializes whole compose operations on the thread; mu guards
	// the capsule slice, which undo mutates outside composeMu.
	composeMu sync.Mutex
	mu        sync.Mutex
	capsules  []*cachedCapsule
}

// ThreadCache is a bounded per-thread capsule cache: LRU across threads,
// a short history per thread, lazy expiry on read.
type ThreadCache struct {
	mu      sync.Mutex
	threads *lru.Cache[string, *threadEntry]
}

// NewThreadCache creates the cache. maxThreads <= 0 falls back to the
// default capacity.
func NewThreadCache(maxThreads int) *ThreadCache {
	if maxThreads <= 0 {
		maxThreads = defaultMaxThreads
	}
	threads, _ := lru.New[string, *threadEntry](maxThreads)
	return &ThreadCache{threads: threads}
}

func (c *ThreadCache) entry(threadKey string) *threadEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.threads.Get(threadKey); ok {
		return entry
	}
	entry := &threadEntry{}
	c.threads.Add(threadKey, entry)
	return entry
}

// Lock serializes composes on one thread key and returns the unlock func.
func (c *ThreadCache) Lock(threadKey string) func() {
	entry := c.entry(threadKey)
	entry.composeMu.Lock()
	return entry.composeMu.Unlock
}

// Get returns the memory-id set of a cached capsule, pruning expired
// entries on the way. The second return is false when the capsule is
// unknown or expired.
func (c *ThreadCache) Get(threadKey, capsuleID string) (map[string]bool, bool) {
	c.mu.Lock()
	entry, ok := c.threads.Get(threadKey)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.pruneLocked(time.Now())
	for _, cached := range entry.capsules {
		if cached.capsuleID == capsuleID {
			return cached.memoryIDs, true
		}
	}
	return nil, false
}

// Put records a freshly composed capsule for the thread.
func (c *ThreadCache) Put(threadKey, capsuleID string, memoryIDs map[string]bool, ttl time.Duration) {
	entry := c.entry(threadKey)
	now := time.Now()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.pruneLocked(now)

	entry.capsules = append([]*cachedCapsule{{
		capsuleID: capsuleID,
		memoryIDs: memoryIDs,
		expiresAt: now.Add(ttl),
	}}, entry.capsules...)
	if len(entry.capsules) > capsulesPerThread {
		entry.capsules = entry.capsules[:capsulesPerThread]
	}
}

// Remove drops the named capsule. When threadKey is empty every thread is
// scanned. Returns whether anything was removed.
func (c *ThreadCache) Remove(threadKey, capsuleID string) bool {
	if threadKey != "" {
		c.mu.Lock()
		entry, ok := c.threads.Get(threadKey)
		c.mu.Unlock()
		if !ok {
			return false
		}
		return entry.remove(capsuleID)
	}

	c.mu.Lock()
	keys := c.threads.Keys()
	c.mu.Unlock()
	for _, key := range keys {
		c.mu.Lock()
		entry, ok := c.threads.Peek(key)
		c.mu.Unlock()
		if ok && entry.remove(capsuleID) {
			return true
		}
	}
	return false
}

// pruneLocked drops expired capsules. The caller holds e.mu.
func (e *threadEntry) pruneLocked(now time.Time) {
	kept := e.capsules[:0]
	for _, cached := range e.capsules {
		if cached.expiresAt.After(now) {
			kept = append(kept, cached)
		}
	}
	e.capsules = kept
}

func (e *threadEntry) remove(capsuleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cached := range e.capsules {
		if cached.capsuleID == capsuleID {
			e.capsules = append(e.capsules[:i], e.capsules[i+1:]...)
			return true
		}
	}
	return false
}

// Package childrencache caches directory listings: an LRU keyed by a
// parent file's path, storing its immediate-children listing alongside
// the modification times that must hold for the entry to still be
// valid. Callers construct one per planning root rather than sharing a
// package-level singleton.
package childrencache

import (
	"container/list"
	"os"
	"sync"
	"time"

	"github.com/trellis-mcp/trellis-go/internal/pathresolver"
)

// DefaultMaxEntries is the default soft cap on cache size.
const DefaultMaxEntries = 1000

// freshnessTolerance is the mtime comparison slack.
const freshnessTolerance = time.Millisecond

type entry struct {
	parentPath     string
	children       []pathresolver.ChildRef
	parentModTime  time.Time
	childrenMTimes map[string]time.Time
	cachedAt       time.Time
}

// Stats exposes hit/miss/eviction counters for observability.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a modification-time-keyed LRU of immediate-children listings.
// The zero value is not usable; construct with New.
type Cache struct {
	mu        sync.Mutex
	maxItems  int
	order     *list.List
	items     map[string]*list.Element
	stat      Stats
	statMutex sync.Mutex
}

// New constructs a Cache with the given maximum entry count. A
// non-positive maxItems uses DefaultMaxEntries.
func New(maxItems int) *Cache {
	if maxItems <= 0 {
		maxItems = DefaultMaxEntries
	}
	return &Cache{
		maxItems: maxItems,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// statOnce increments whichever Stats field fn selects, serialized
// independently from the main cache lock so stat reads never contend with
// hot lookup/insert paths.
func (c *Cache) statOnce(fn func(*Stats)) {
	c.statMutex.Lock()
	defer c.statMutex.Unlock()
	fn(&c.stat)
}

// Stats returns a snapshot of the hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.statMutex.Lock()
	defer c.statMutex.Unlock()
	return c.stat
}

// Get returns the cached children listing for parentPath if present and
// still fresh: the parent file's mtime, and every previously seen child
// file's mtime, must match what was cached within freshnessTolerance. A
// storage failure while checking freshness (e.g. os.Stat erroring for a
// reason other than "not found") is treated as a cache miss rather than
// propagated: the caller falls through to reading the filesystem.
func (c *Cache) Get(parentPath string) ([]pathresolver.ChildRef, bool) {
	c.mu.Lock()
	el, ok := c.items[parentPath]
	if !ok {
		c.mu.Unlock()
		c.statOnce(func(s *Stats) { s.Misses++ })
		return nil, false
	}
	e := el.Value.(*entry)
	c.mu.Unlock()

	if !c.stillFresh(e) {
		c.Invalidate(parentPath)
		c.statOnce(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	c.mu.Lock()
	c.order.MoveToFront(el)
	c.mu.Unlock()

	c.statOnce(func(s *Stats) { s.Hits++ })
	out := make([]pathresolver.ChildRef, len(e.children))
	copy(out, e.children)
	return out, true
}

func (c *Cache) stillFresh(e *entry) bool {
	info, err := os.Stat(e.parentPath)
	if err != nil || !mtimesMatch(info.ModTime(), e.parentModTime) {
		return false
	}
	for childPath, wantMTime := range e.childrenMTimes {
		childInfo, err := os.Stat(childPath)
		if err != nil || !mtimesMatch(childInfo.ModTime(), wantMTime) {
			return false
		}
	}
	return true
}

func mtimesMatch(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= freshnessTolerance
}

// Put inserts or replaces the children listing for parentPath, capturing
// the current mtimes of the parent and every child file. A stat failure on
// any file is tolerated: nothing is cached for parentPath (any older entry
// is dropped), so later lookups miss and fall through to the filesystem
// (degrades toward "always miss" rather than toward returning wrong data).
func (c *Cache) Put(parentPath string, children []pathresolver.ChildRef) {
	parentInfo, err := os.Stat(parentPath)
	if err != nil {
		c.Invalidate(parentPath)
		return
	}

	childMTimes := make(map[string]time.Time, len(children))
	for _, child := range children {
		info, err := os.Stat(child.FilePath)
		if err != nil {
			c.Invalidate(parentPath)
			return
		}
		childMTimes[child.FilePath] = info.ModTime()
	}

	stored := make([]pathresolver.ChildRef, len(children))
	copy(stored, children)

	e := &entry{
		parentPath:     parentPath,
		children:       stored,
		parentModTime:  parentInfo.ModTime(),
		childrenMTimes: childMTimes,
		cachedAt:       time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[parentPath]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(e)
	c.items[parentPath] = el

	if c.order.Len() > c.maxItems {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).parentPath)
			c.statOnce(func(s *Stats) { s.Evictions++ })
		}
	}
}

// Invalidate removes any cached entry for parentPath. Mutating writes to a
// parent or any of its children must call this.
func (c *Cache) Invalidate(parentPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[parentPath]; ok {
		c.order.Remove(el)
		delete(c.items, parentPath)
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

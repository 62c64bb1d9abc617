package procset

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Outcome is the recorded result of evaluating one exact fragment-id set.
// MessageID is empty when the set was evaluated and rejected.
type Outcome struct {
	MessageID string
	Accepted  bool
}

// Cache records which fragment-id sets have already been evaluated so the
// detector can skip repeat work as overlapping windows are re-built. Eviction
// can only cause redundant re-evaluation, never wrong results.
type Cache interface {
	Get(key string) (Outcome, bool)
	Put(key string, o Outcome)
}

// Key canonicalizes a fragment-id set: sorted ids joined and hashed, so the
// same set always yields the same key regardless of arrival order.
func Key(fragmentIDs []string) string {
	if len(fragmentIDs) == 0 {
		return ""
	}
	ids := append([]string(nil), fragmentIDs...)
	sort.Strings(ids)
	h := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(h[:])
}

type entry struct {
	key     string
	outcome Outcome
	addedAt time.Time
}

// LRU is a mutex-guarded bounded cache with TTL expiry on read.
type LRU struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	items   map[string]*list.Element
	now     func() time.Time
}

func NewLRU(maxSize int, ttl time.Duration) *LRU {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRU{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

func (c *LRU) Get(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Outcome{}, false
	}
	e := el.Value.(*entry)
	if c.ttl > 0 && c.now().Sub(e.addedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return Outcome{}, false
	}
	c.order.MoveToFront(el)
	return e.outcome, true
}

func (c *LRU) Put(key string, o Outcome) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.outcome = o
		e.addedAt = c.now()
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, outcome: o, addedAt: c.now()})
	c.items[key] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Len reports the current entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

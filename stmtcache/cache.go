// Package stmtcache implements a per-connection, recency-ordered cache of
// prepared-statement descriptors with server-side cleanup on eviction.
// The LRU ordering is built on container/list; entries are keyed by an
// xxhash digest of the statement text, and an eviction closes the
// corresponding server-side statement before dropping it.
package stmtcache

import (
	"container/list"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// DefaultCapacity is the default number of prepared statements kept per
// connection.
const DefaultCapacity = 250

// Descriptor is a prepared statement's cached state. StatementID and
// ColumnCount/ParamCount are filled in by the command engine after PREPARE;
// Cached/Closing are owned by Cache.
type Descriptor struct {
	StatementID uint32
	ParamCount  int
	ColumnCount int
	SQL         string

	Cached  bool
	Closing bool
}

// CloseFunc issues CLOSE_STMT(statement_id) on the owning connection; it
// is supplied by the command engine so this package has no dependency on
// the wire format.
type CloseFunc func(statementID uint32) error

// Cache is an ordered-by-recency map keyed by the xxhash digest of the SQL
// text (the text itself is stored but not compared on lookup), bounded at
// Capacity entries. It is not safe for concurrent use without the
// connection's own lock; the internal mutex here guards only the data
// structure itself for defense against accidental reentrant access, not
// as a substitute for that discipline.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*list.Element // xxhash(sql) -> element
	order    *list.List               // front = most-recently-used
	close    CloseFunc
}

type entry struct {
	key  uint64
	sql  string
	desc *Descriptor
}

func New(capacity int, close CloseFunc) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint64]*list.Element, capacity),
		order:    list.New(),
		close:    close,
	}
}

func keyOf(sql string) uint64 {
	h := xxhash.New64()
	_, _ = h.WriteString(sql)
	return h.Sum64()
}

// Get looks up sql, moving it to most-recent on a hit.
func (c *Cache) Get(sql string) (*Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[keyOf(sql)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).desc, true
}

// Put inserts desc under sql. If sql is already cached, the existing
// descriptor is kept and desc is un-cached instead. On a fresh insert that pushes the
// cache past capacity, the least-recently-used entry is evicted and
// un-cached.
func (c *Cache) Put(sql string, desc *Descriptor) *Descriptor {
	c.mu.Lock()
	key := keyOf(sql)
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		existing := el.Value.(*entry).desc
		c.mu.Unlock()
		c.unCache(desc)
		return existing
	}

	desc.Cached = true
	el := c.order.PushFront(&entry{key: key, sql: sql, desc: desc})
	c.entries[key] = el

	var evicted *Descriptor
	if c.order.Len() > c.capacity {
		back := c.order.Back()
		c.order.Remove(back)
		ev := back.Value.(*entry)
		delete(c.entries, ev.key)
		evicted = ev.desc
	}
	c.mu.Unlock()

	if evicted != nil {
		c.unCache(evicted)
	}
	return desc
}

// Remove drops sql from the cache without sending CLOSE_STMT (used when
// the caller is about to close the descriptor itself, e.g. on an explicit
// statement close by the application).
func (c *Cache) Remove(sql string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := keyOf(sql)
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
		el.Value.(*entry).desc.Cached = false
	}
}

// unCache marks desc not-cached and, unless already closing, issues
// CLOSE_STMT server-side, tolerating I/O errors since the descriptor is
// being discarded regardless.
func (c *Cache) unCache(desc *Descriptor) {
	desc.Cached = false
	if desc.Closing {
		return
	}
	if c.close == nil {
		return
	}
	_ = c.close(desc.StatementID)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

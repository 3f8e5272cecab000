// Package cache implements the generic LRU block cache described in
// spec.md section 4.2: a fixed-capacity Key->Value cache over a
// pluggable Backend, vending shared read handles and exclusive write
// handles, with dirty write-back on eviction.
//
// There is no internal locking: spec.md section 5 fixes the whole
// filesystem as single-threaded and synchronous, so the cache assumes
// it is never touched concurrently — matching the teacher pack's own
// designs, none of which introduce concurrency primitives for this kind
// of in-process structure.
package cache

import (
	"container/list"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Backend loads and saves values for the cache. A block-cache backend
// wraps a Disk; an inode-cache backend wraps the inode table's on-disk
// encoding.
type Backend[K comparable, V any] interface {
	Load(key K) (V, error)
	Save(key K, value V) error
}

type entry[K comparable, V any] struct {
	key         K
	value       V
	dirty       bool
	outstanding int // number of handles currently checked out by callers
	elem        *list.Element
}

// Shared is a read-only view of a cached value. The caller must call
// Release when done; until then the cache will not evict the entry.
type Shared[V any] struct {
	value   V
	release func()
	done    bool
}

func (h *Shared[V]) Value() V { return h.value }

func (h *Shared[V]) Release() {
	if h.done {
		return
	}
	h.done = true
	h.release()
}

// Exclusive is a mutable view of a cached value. Acquiring one marks the
// entry dirty immediately, per spec.md section 4.2 ("marks the entry
// dirty on acquisition; caller mutates in place").
type Exclusive[V any] struct {
	value   V
	release func(V)
	done    bool
}

func (h *Exclusive[V]) Value() V { return h.value }

// Set replaces the cached value (for value types like fixed-size byte
// arrays where mutation happens on a caller-held copy).
func (h *Exclusive[V]) Set(v V) { h.value = v }

func (h *Exclusive[V]) Release() {
	if h.done {
		return
	}
	h.done = true
	h.release(h.value)
}

// LRU is a fixed-capacity cache of K->V backed by Backend.
type LRU[K comparable, V any] struct {
	capacity int
	backend  Backend[K, V]
	items    map[K]*entry[K, V]
	order    *list.List // front = MRU, back = LRU
	log      *logrus.Logger
	name     string
}

// New builds an LRU cache of the given capacity. name is used only for
// log lines (e.g. "block-cache", "inode-cache").
func New[K comparable, V any](capacity int, backend Backend[K, V], log *logrus.Logger, name string) *LRU[K, V] {
	if log == nil {
		log = discardLogger()
	}
	return &LRU[K, V]{
		capacity: capacity,
		backend:  backend,
		items:    make(map[K]*entry[K, V]),
		order:    list.New(),
		log:      log,
		name:     name,
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (c *LRU[K, V]) promote(e *entry[K, V]) {
	c.order.MoveToFront(e.elem)
}

// fetch loads key via the backend if not already cached, possibly
// evicting to stay within capacity, and returns the (now MRU) entry.
func (c *LRU[K, V]) fetch(key K) (*entry[K, V], error) {
	if e, ok := c.items[key]; ok {
		c.promote(e)
		e.outstanding++
		c.evictIfOverCapacity()
		e.outstanding--
		return e, nil
	}

	value, err := c.backend.Load(key)
	if err != nil {
		return nil, fmt.Errorf("%s: load %v: %w", c.name, key, err)
	}

	e := &entry[K, V]{key: key, value: value}
	e.elem = c.order.PushFront(e)
	c.items[key] = e

	// The entry just inserted must never be the one evicted to make room
	// for itself — protect it for the duration of the capacity check; the
	// caller's own Get/GetMut bumps outstanding again right after this
	// returns, for the handle it is about to hand out.
	e.outstanding++
	c.evictIfOverCapacity()
	e.outstanding--
	return e, nil
}

// evictIfOverCapacity walks from the LRU end looking for the first
// entry with zero outstanding handles. If every entry currently has an
// outstanding handle, the cache is left over capacity (the soft cap in
// spec.md section 4.2) and will retry eviction on the next access.
func (c *LRU[K, V]) evictIfOverCapacity() {
	if len(c.items) <= c.capacity {
		return
	}
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry[K, V])
		if e.outstanding > 0 {
			continue
		}
		c.evictEntry(e)
		return
	}
	c.log.WithFields(logrus.Fields{"cache": c.name, "size": len(c.items), "cap": c.capacity}).
		Warn("cache over capacity: no evictable entry, all handles outstanding")
}

func (c *LRU[K, V]) evictEntry(e *entry[K, V]) {
	if e.dirty {
		if err := c.backend.Save(e.key, e.value); err != nil {
			c.log.WithFields(logrus.Fields{"cache": c.name, "key": e.key, "err": err}).
				Error("evict: save dirty entry failed")
		}
	}
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}

// Get returns a shared read handle for key, loading it through the
// backend on a miss.
func (c *LRU[K, V]) Get(key K) (*Shared[V], error) {
	e, err := c.fetch(key)
	if err != nil {
		return nil, err
	}
	e.outstanding++
	return &Shared[V]{
		value: e.value,
		release: func() {
			e.outstanding--
		},
	}, nil
}

// GetMut returns an exclusive handle for key, loading it through the
// backend on a miss. The entry is marked dirty immediately.
func (c *LRU[K, V]) GetMut(key K) (*Exclusive[V], error) {
	e, err := c.fetch(key)
	if err != nil {
		return nil, err
	}
	e.outstanding++
	e.dirty = true
	return &Exclusive[V]{
		value: e.value,
		release: func(v V) {
			e.value = v
			e.outstanding--
		},
	}, nil
}

// FlushAll saves every dirty entry through the backend and clears their
// dirty flags.
func (c *LRU[K, V]) FlushAll() error {
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		if !e.dirty {
			continue
		}
		if err := c.backend.Save(e.key, e.value); err != nil {
			return fmt.Errorf("%s: flush %v: %w", c.name, e.key, err)
		}
		e.dirty = false
	}
	return nil
}

// Clear flushes then discards all cached state.
func (c *LRU[K, V]) Clear() error {
	if err := c.FlushAll(); err != nil {
		return err
	}
	c.items = make(map[K]*entry[K, V])
	c.order = list.New()
	return nil
}

// DiscardAll drops every cached entry without saving dirty ones — used
// where a caller explicitly wants to abandon pending writes rather than
// flush them (spec.md section 4.6: "clear_cache() drops entries without
// saving", distinct from Clear's flush-then-discard).
func (c *LRU[K, V]) DiscardAll() {
	c.items = make(map[K]*entry[K, V])
	c.order = list.New()
}

// Remove drops key without flushing, used when the backing storage has
// already been invalidated out from under the cache (e.g. after a disk
// clear/reformat).
func (c *LRU[K, V]) Remove(key K) {
	if e, ok := c.items[key]; ok {
		c.order.Remove(e.elem)
		delete(c.items, key)
	}
}

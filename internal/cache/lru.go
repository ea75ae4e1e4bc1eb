package cache

import (
	"container/list"
	"sync"

	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
)

// ErrClosed is returned by operations on a cache after Close.
var ErrClosed = fcerrors.NewError(fcerrors.ErrCodeCacheClosed, "cache is closed").WithComponent("cache")

// EvictionCallback receives ownership of a value leaving the cache through
// eviction, replacement, removal, clearing or close.
type EvictionCallback[K comparable, V any] func(key K, value V)

// LRU is a thread-safe, fixed-capacity least-recently-used cache.
//
// The eviction callback always runs after the entry has been unlinked and
// the lock released, so it may re-enter the cache. A panicking callback is
// not recovered; the cache stays consistent but callbacks still pending
// from the same operation are skipped.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	items     map[K]*list.Element
	evictList *list.List
	onEvict   EvictionCallback[K, V]
	closed    bool
}

// lruEntry is the value stored in each list element
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates an LRU holding at most capacity entries. onEvict may be nil.
func NewLRU[K comparable, V any](capacity int, onEvict EvictionCallback[K, V]) (*LRU[K, V], error) {
	if capacity <= 0 {
		return nil, fcerrors.NewError(fcerrors.ErrCodeInvalidConfig, "cache capacity must be positive").
			WithComponent("cache").
			WithDetail("capacity", capacity)
	}

	return &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element, capacity),
		evictList: list.New(),
		onEvict:   onEvict,
	}, nil
}

// Get returns the value for key and marks it most recently used
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok && !c.closed {
		c.evictList.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).value, true
	}

	var zero V
	return zero, false
}

// Peek returns the value for key without touching its recency
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok && !c.closed {
		return elem.Value.(*lruEntry[K, V]).value, true
	}

	var zero V
	return zero, false
}

// Put stores value under key as the most recently used entry. A previous
// value for key is handed to the eviction callback, as is the least
// recently used entry when the cache is full. After Close, Put returns
// ErrClosed and the caller keeps ownership of value.
func (c *LRU[K, V]) Put(key K, value V) error {
	evicted, err := c.put(key, value)
	c.notify(evicted)
	return err
}

func (c *LRU[K, V]) put(key K, value V) ([]*lruEntry[K, V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry[K, V])
		replaced := &lruEntry[K, V]{key: key, value: entry.value}
		entry.value = value
		c.evictList.MoveToFront(elem)
		return []*lruEntry[K, V]{replaced}, nil
	}

	return c.insert(key, value), nil
}

// PutIfAbsent stores value only when key is not resident. When key is
// already present the resident value is promoted and returned with loaded
// set, and value is handed to the eviction callback since the cache took
// ownership of it. After Close it returns ErrClosed without taking ownership.
func (c *LRU[K, V]) PutIfAbsent(key K, value V) (resident V, loaded bool, err error) {
	var evicted []*lruEntry[K, V]

	func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			err = ErrClosed
			return
		}

		if elem, ok := c.items[key]; ok {
			c.evictList.MoveToFront(elem)
			resident = elem.Value.(*lruEntry[K, V]).value
			loaded = true
			evicted = []*lruEntry[K, V]{{key: key, value: value}}
			return
		}

		evicted = c.insert(key, value)
		resident = value
	}()

	c.notify(evicted)
	return resident, loaded, err
}

// insert adds a new entry at the front, evicting the oldest entry when full.
// Must be called with the lock held.
func (c *LRU[K, V]) insert(key K, value V) []*lruEntry[K, V] {
	var evicted []*lruEntry[K, V]
	for c.evictList.Len() >= c.capacity {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		evicted = append(evicted, c.removeElement(oldest))
	}

	c.items[key] = c.evictList.PushFront(&lruEntry[K, V]{key: key, value: value})
	return evicted
}

// Remove deletes key, handing its value to the eviction callback.
// It reports whether key was resident.
func (c *LRU[K, V]) Remove(key K) bool {
	var evicted []*lruEntry[K, V]

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		evicted = append(evicted, c.removeElement(elem))
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted) > 0
}

// RemoveFunc deletes every entry whose key satisfies match and returns the
// removed keys. The eviction callback runs once per removed entry.
func (c *LRU[K, V]) RemoveFunc(match func(K) bool) []K {
	var evicted []*lruEntry[K, V]

	c.mu.Lock()
	for elem := c.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if match(elem.Value.(*lruEntry[K, V]).key) {
			evicted = append(evicted, c.removeElement(elem))
		}
		elem = prev
	}
	c.mu.Unlock()

	c.notify(evicted)

	keys := make([]K, len(evicted))
	for i, entry := range evicted {
		keys[i] = entry.key
	}
	return keys
}

// Clear removes every entry, invoking the eviction callback once per entry
func (c *LRU[K, V]) Clear() {
	c.notify(c.drain(false))
}

// Close clears the cache and rejects further insertions. Calling Close more
// than once is safe; only the first call releases entries.
func (c *LRU[K, V]) Close() {
	c.notify(c.drain(true))
}

func (c *LRU[K, V]) drain(closing bool) []*lruEntry[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = closing

	evicted := make([]*lruEntry[K, V], 0, c.evictList.Len())
	for elem := c.evictList.Back(); elem != nil; elem = c.evictList.Back() {
		evicted = append(evicted, c.removeElement(elem))
	}
	return evicted
}

// Len returns the number of resident entries
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Cap returns the fixed capacity
func (c *LRU[K, V]) Cap() int {
	return c.capacity
}

// Keys returns resident keys from most to least recently used
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.evictList.Len())
	for elem := c.evictList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

// Closed reports whether Close has been called
func (c *LRU[K, V]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// removeElement unlinks elem from both structures. Must be called with the lock held.
func (c *LRU[K, V]) removeElement(elem *list.Element) *lruEntry[K, V] {
	entry := c.evictList.Remove(elem).(*lruEntry[K, V])
	delete(c.items, entry.key)
	return entry
}

func (c *LRU[K, V]) notify(evicted []*lruEntry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, entry := range evicted {
		c.onEvict(entry.key, entry.value)
	}
}

// Package cache holds the normalized in-memory mirror of backend records.
//
// A Cache stores immutable values keyed by entity id. Values must be treated
// as snapshots: callers never mutate a value (or a slice/map inside it) after
// handing it to Set, they build a new value instead. Every write is stamped
// with a version from a shared Clock so that the mutation coordinator and the
// realtime ingestor can tell which of two racing writes is newer.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Clock hands out monotonically increasing write versions. One clock is
// shared by every cache in a registry.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first version is 1
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next version
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last version handed out
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// ChangeKind identifies the kind of write that produced a Change
type ChangeKind int

const (
	ChangeSet ChangeKind = iota + 1
	ChangeDelete
	// ChangeReset is emitted once when the whole cache or a partition is replaced
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeDelete:
		return "delete"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change is delivered to observers after every write
type Change[T any] struct {
	Cache   string
	Kind    ChangeKind
	Key     string
	Value   T
	Version int64
}

// Entry is a cached value together with its write version
type Entry[T any] struct {
	Value   T
	Version int64
	Present bool
}

// Options configures how a cache derives keys, partitions and ordering
type Options[T any] struct {
	// KeyOf returns the entity id. Required.
	KeyOf func(T) string
	// ParentKey returns the partition key used by ListByParent. Optional.
	ParentKey func(T) string
	// Less orders ListByParent and List results; insertion order breaks ties
	Less func(a, b T) bool
}

type entry[T any] struct {
	value   T
	version int64
	seq     uint64
	parent  string
}

// Cache is a concurrency-safe keyed store of entity snapshots
type Cache[T any] struct {
	name  string
	clock *Clock
	opts  Options[T]

	mu       sync.RWMutex
	items    map[string]*entry[T]
	children map[string]map[string]struct{}
	seq      uint64

	// pending and delivering are guarded by mu; one writer at a time drains
	// pending to the observers with no lock held
	pending    []Change[T]
	delivering bool

	subMu   sync.RWMutex
	subs    map[int]func(Change[T])
	nextSub int
}

// New creates an empty cache. A nil clock gets a private one.
func New[T any](name string, clock *Clock, opts Options[T]) *Cache[T] {
	if opts.KeyOf == nil {
		panic("cache: Options.KeyOf is required")
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Cache[T]{
		name:     name,
		clock:    clock,
		opts:     opts,
		items:    make(map[string]*entry[T]),
		children: make(map[string]map[string]struct{}),
		subs:     make(map[int]func(Change[T])),
	}
}

// Name returns the cache name, usually the backend table it mirrors
func (c *Cache[T]) Name() string {
	return c.name
}

// Clock returns the version clock shared with sibling caches
func (c *Cache[T]) Clock() *Clock {
	return c.clock
}

// KeyOf returns the id of v as configured for this cache
func (c *Cache[T]) KeyOf(v T) string {
	return c.opts.KeyOf(v)
}

// Get returns the value stored under key
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Entry returns the value stored under key together with its version
func (c *Cache[T]) Entry(key string) Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok {
		return Entry[T]{}
	}
	return Entry[T]{Value: e.value, Version: e.version, Present: true}
}

// Version returns the write version of key, or 0 when absent
func (c *Cache[T]) Version(key string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.items[key]; ok {
		return e.version
	}
	return 0
}

// Set stores v under key and returns the write version
func (c *Cache[T]) Set(key string, v T) int64 {
	c.mu.Lock()
	version := c.setLocked(key, v)
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeSet, Key: key, Value: v, Version: version})
	return version
}

// SetIfNotNewer stores v under key unless the current entry was written after
// version since. It reports whether the write happened.
func (c *Cache[T]) SetIfNotNewer(key string, v T, since int64) (int64, bool) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok && e.version > since {
		c.mu.Unlock()
		return e.version, false
	}
	version := c.setLocked(key, v)
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeSet, Key: key, Value: v, Version: version})
	return version, true
}

// Delete removes key. It reports whether an entry was removed.
func (c *Cache[T]) Delete(key string) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.deleteLocked(key, e)
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeDelete, Key: key, Value: e.value, Version: c.clock.Next()})
	return true
}

// DeleteIfNotNewer removes key unless it was written after version since
func (c *Cache[T]) DeleteIfNotNewer(key string, since int64) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	if !ok || e.version > since {
		c.mu.Unlock()
		return false
	}
	c.deleteLocked(key, e)
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeDelete, Key: key, Value: e.value, Version: c.clock.Next()})
	return true
}

// RestoreIfCurrent puts prev back under key, but only while the entry is
// still the one written at version. A newer write (for example an
// authoritative push) is left untouched.
func (c *Cache[T]) RestoreIfCurrent(key string, prev Entry[T], version int64) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	current := int64(0)
	if ok {
		current = e.version
	}
	if current != version {
		c.mu.Unlock()
		return false
	}

	if !prev.Present {
		if !ok {
			c.mu.Unlock()
			return true
		}
		c.deleteLocked(key, e)
		c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeDelete, Key: key, Value: e.value, Version: c.clock.Next()})
		return true
	}

	v := c.setLocked(key, prev.Value)
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeSet, Key: key, Value: prev.Value, Version: v})
	return true
}

// Load replaces the whole cache with items, in order
func (c *Cache[T]) Load(items []T) {
	c.mu.Lock()
	c.items = make(map[string]*entry[T], len(items))
	c.children = make(map[string]map[string]struct{})
	for _, it := range items {
		c.setLocked(c.opts.KeyOf(it), it)
	}
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeReset, Version: c.clock.Current()})
}

// Reset empties the cache with a single notification
func (c *Cache[T]) Reset() {
	c.Load(nil)
}

// ReplacePartition replaces every entry under parent with items, in order.
// Entries in other partitions are untouched.
func (c *Cache[T]) ReplacePartition(parent string, items []T) {
	c.mu.Lock()
	for key := range c.children[parent] {
		if e, ok := c.items[key]; ok {
			c.deleteLocked(key, e)
		}
	}
	for _, it := range items {
		c.setLocked(c.opts.KeyOf(it), it)
	}
	c.publishLocked(Change[T]{Cache: c.name, Kind: ChangeReset, Key: parent, Version: c.clock.Current()})
}

// ListByParent returns the values of one partition in cache order
func (c *Cache[T]) ListByParent(parent string) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := c.children[parent]
	entries := make([]*entry[T], 0, len(keys))
	for key := range keys {
		entries = append(entries, c.items[key])
	}
	return c.sorted(entries)
}

// List returns every value in cache order
func (c *Cache[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*entry[T], 0, len(c.items))
	for _, e := range c.items {
		entries = append(entries, e)
	}
	return c.sorted(entries)
}

// Snapshot returns a copy of the key/value contents, without versions
func (c *Cache[T]) Snapshot() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]T, len(c.items))
	for k, e := range c.items {
		out[k] = e.value
	}
	return out
}

// Keys returns the cached keys in sorted order
func (c *Cache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Subscribe registers fn for every subsequent write. Observers see changes
// one at a time in version order. A writer delivers its own change before
// returning unless another writer is already delivering, in which case that
// writer delivers it. Observers may read from and write to the cache.
func (c *Cache[T]) Subscribe(fn func(Change[T])) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Cache[T]) setLocked(key string, v T) int64 {
	parent := ""
	if c.opts.ParentKey != nil {
		parent = c.opts.ParentKey(v)
	}

	version := c.clock.Next()
	if e, ok := c.items[key]; ok {
		if e.parent != parent {
			c.unlinkLocked(key, e.parent)
			c.linkLocked(key, parent)
		}
		e.value = v
		e.version = version
		e.parent = parent
		return version
	}

	c.seq++
	c.items[key] = &entry[T]{value: v, version: version, seq: c.seq, parent: parent}
	c.linkLocked(key, parent)
	return version
}

func (c *Cache[T]) deleteLocked(key string, e *entry[T]) {
	delete(c.items, key)
	c.unlinkLocked(key, e.parent)
}

func (c *Cache[T]) linkLocked(key, parent string) {
	set, ok := c.children[parent]
	if !ok {
		set = make(map[string]struct{})
		c.children[parent] = set
	}
	set[key] = struct{}{}
}

func (c *Cache[T]) unlinkLocked(key, parent string) {
	if set, ok := c.children[parent]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(c.children, parent)
		}
	}
}

func (c *Cache[T]) sorted(entries []*entry[T]) []T {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if c.opts.Less != nil {
			if c.opts.Less(a.value, b.value) {
				return true
			}
			if c.opts.Less(b.value, a.value) {
				return false
			}
		}
		return a.seq < b.seq
	})

	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// publishLocked queues ch and releases mu. The first writer to find the
// queue idle delivers until it is empty.
func (c *Cache[T]) publishLocked(ch Change[T]) {
	c.pending = append(c.pending, ch)
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	c.mu.Unlock()
	c.drain()
}

func (c *Cache[T]) drain() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.delivering = false
			c.mu.Unlock()
			return
		}
		ch := c.pending[0]
		c.pending[0] = Change[T]{}
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.deliver(ch)
	}
}

func (c *Cache[T]) deliver(ch Change[T]) {
	c.subMu.RLock()
	subs := make([]func(Change[T]), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		fn(ch)
	}
}

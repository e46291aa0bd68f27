// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package cache provides the shared time- and size-bounded store used by
// identity resolution and stats fetching.
//
// Entries expire lazily: a read past the TTL behaves as a miss, and
// expired entries are evicted preferentially under capacity pressure
// (no background sweep). Failed lookups are cached as negative entries
// with their own, shorter TTL so known-bad keys are not hammered.
//
// GetOrCompute coalesces concurrent callers per key: at most one compute
// runs at a time for a given key and its result is shared by all waiters.
package cache

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/lobbyscope/internal/metrics"
)

// ErrNegative reports a key whose lookup recently failed permanently.
// Callers treat it as not-found without issuing a new upstream call.
var ErrNegative = errors.New("cache: negative entry")

// Lookup is the outcome of a Get.
type Lookup int

const (
	// Miss means the key is absent or expired.
	Miss Lookup = iota
	// Hit means a live positive entry was found.
	Hit
	// NegativeHit means a live negative entry was found.
	NegativeHit
)

// entry is a doubly-linked LRU node.
// head.next is most recently used, tail.prev least recently used.
type entry[V any] struct {
	key       string
	value     V
	negative  bool
	expiresAt time.Time
	prev      *entry[V]
	next      *entry[V]
}

// Store is a thread-safe LRU cache with per-entry TTL and negative
// caching. The zero value is not usable; construct with New.
type Store[V any] struct {
	name string

	mu          sync.Mutex
	capacity    int
	positiveTTL time.Duration
	negativeTTL time.Duration
	items       map[string]*entry[V]
	head        *entry[V]
	tail        *entry[V]

	group singleflight.Group

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a Store. name labels the store in metrics. Capacity and
// TTLs fall back to safe defaults when unset.
func New[V any](name string, capacity int, positiveTTL, negativeTTL time.Duration) *Store[V] {
	if capacity <= 0 {
		capacity = 512
	}
	if positiveTTL <= 0 {
		positiveTTL = 10 * time.Minute
	}
	if negativeTTL <= 0 || negativeTTL > positiveTTL {
		negativeTTL = positiveTTL / 5
	}

	s := &Store[V]{
		name:        name,
		capacity:    capacity,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		items:       make(map[string]*entry[V], capacity),
		head:        &entry[V]{},
		tail:        &entry[V]{},
		now:         time.Now,
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	return s
}

// Get retrieves the value for key. Expired entries count as misses and
// are removed on the spot. A hit moves the entry to the front.
func (s *Store[V]) Get(key string) (V, Lookup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.items[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(s.name).Inc()
		return zero, Miss
	}
	if s.now().After(e.expiresAt) {
		s.removeEntry(e)
		metrics.CacheMisses.WithLabelValues(s.name).Inc()
		return zero, Miss
	}

	s.moveToFront(e)
	metrics.CacheHits.WithLabelValues(s.name).Inc()
	if e.negative {
		return zero, NegativeHit
	}
	return e.value, Hit
}

// Put stores a positive value under key with the positive TTL.
func (s *Store[V]) Put(key string, value V) {
	s.put(key, value, false, s.positiveTTL)
}

// PutNegative records that a lookup for key failed permanently, with the
// negative TTL.
func (s *Store[V]) PutNegative(key string) {
	var zero V
	s.put(key, zero, true, s.negativeTTL)
}

// PutTTL stores a positive value with an explicit TTL, for callers whose
// upstream dictates freshness.
func (s *Store[V]) PutTTL(key string, value V, ttl time.Duration) {
	s.put(key, value, false, ttl)
}

func (s *Store[V]) put(key string, value V, negative bool, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)
	if e, ok := s.items[key]; ok {
		e.value = value
		e.negative = negative
		e.expiresAt = expiresAt
		s.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, negative: negative, expiresAt: expiresAt}
	s.addToFront(e)
	s.items[key] = e

	for len(s.items) > s.capacity {
		s.evictOne()
	}
}

// Delete removes an entry. Returns true if it existed.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[key]; ok {
		s.removeEntry(e)
		return true
	}
	return false
}

// Clear removes all entries.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*entry[V], s.capacity)
	s.head.next = s.tail
	s.tail.prev = s.head
}

// Len returns the current number of entries, live or expired.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// GetOrCompute returns the cached value for key, or runs compute to
// produce it. Concurrent calls for the same key share one compute
// invocation. A successful compute is cached positively; an error for
// which cacheNegative returns true is cached as a negative entry. Other
// errors are returned uncached so transient failures retry naturally.
//
// A live negative entry short-circuits to ErrNegative.
func (s *Store[V]) GetOrCompute(key string, compute func() (V, error), cacheNegative func(error) bool) (V, error) {
	if v, lookup := s.Get(key); lookup == Hit {
		return v, nil
	} else if lookup == NegativeHit {
		var zero V
		return zero, ErrNegative
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A concurrent winner may have populated the entry between our
		// miss and acquiring the flight.
		if v, lookup := s.Get(key); lookup == Hit {
			return v, nil
		} else if lookup == NegativeHit {
			return nil, ErrNegative
		}

		value, err := compute()
		if err != nil {
			if cacheNegative != nil && cacheNegative(err) {
				s.PutNegative(key)
			}
			return nil, err
		}
		s.Put(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Internal list operations, called with mu held.

func (s *Store[V]) addToFront(e *entry[V]) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}

func (s *Store[V]) moveToFront(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	s.addToFront(e)
}

func (s *Store[V]) removeEntry(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(s.items, e.key)
}

// evictOne removes one entry under capacity pressure: the least recently
// used expired entry if any exists, otherwise the strict LRU victim.
func (s *Store[V]) evictOne() {
	now := s.now()
	for e := s.tail.prev; e != s.head; e = e.prev {
		if now.After(e.expiresAt) {
			s.removeEntry(e)
			metrics.CacheEvictions.WithLabelValues(s.name).Inc()
			return
		}
	}

	oldest := s.tail.prev
	if oldest == s.head {
		return
	}
	s.removeEntry(oldest)
	metrics.CacheEvictions.WithLabelValues(s.name).Inc()
}

// Package cache implements the bounded in-memory deduplication cache for
// scam-check requests.
//
// Keys are fingerprints of the normalized request text, so inputs differing
// only by case or surrounding whitespace share an entry. Capacity eviction is
// strictly by original insertion order, not LRU; re-setting a key refreshes
// its value and TTL but never protects it from eviction.
package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/telemetry"
)

// Config bounds cache residency.
//   - TTL: entries older than this are invisible to reads; <= 0 disables expiry.
//   - MaxSize: maximum live entries; inserting beyond it evicts the oldest key.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

const defaultMaxSize = 1024

// Cache maps normalized request fingerprints to verdict payloads.
// All operations are total; a miss or expired entry is a normal return.
type Cache struct {
	cfg    Config
	clock  scamcheck.Clock
	hasher scamcheck.Hasher

	mu      sync.Mutex
	entries map[string]entry
	order   []string
}

type entry struct {
	value      json.RawMessage
	insertedAt time.Time
}

// New constructs a Cache with the provided bounds, clock, and hasher.
func New(cfg Config, clock scamcheck.Clock, hasher scamcheck.Hasher) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	return &Cache{
		cfg:     cfg,
		clock:   clock,
		hasher:  hasher,
		entries: make(map[string]entry),
	}
}

// Get returns the cached payload for text, or ok=false on miss or expiry.
// A read that finds an expired entry removes it before reporting absent.
func (c *Cache) Get(text string) (json.RawMessage, bool) {
	key, err := c.fingerprint(text)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[key]
	if !ok {
		telemetry.ObserveCacheLookup(false)
		return nil, false
	}
	if c.expired(ent) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		telemetry.ObserveCacheLookup(false)
		return nil, false
	}
	telemetry.ObserveCacheLookup(true)
	return append(json.RawMessage(nil), ent.value...), true
}

// Set stores payload under the fingerprint of text. Re-setting an existing
// key refreshes its value and TTL; its eviction position is unchanged.
func (c *Cache) Set(text string, payload json.RawMessage) {
	key, err := c.fingerprint(text)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value := append(json.RawMessage(nil), payload...)
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry{value: value, insertedAt: c.clock.Now()}
		return
	}
	if len(c.entries) >= c.cfg.MaxSize {
		c.evictOldest()
	}
	c.entries[key] = entry{value: value, insertedAt: c.clock.Now()}
	c.order = append(c.order, key)
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.order = nil
}

// Size reports the number of live entries, including not-yet-swept expired ones.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fingerprint(text string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	return c.hasher.Hash([]byte(normalized))
}

func (c *Cache) expired(ent entry) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	return c.clock.Now().Sub(ent.insertedAt) > c.cfg.TTL
}

func (c *Cache) evictOldest() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

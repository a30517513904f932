// Package cache is an in-memory read cache scoped by entity kind, kept
// consistent across processes by broadcast invalidation hints. Values come
// from the durable store; a hint only evicts, it never carries data, so a
// stale or lost hint costs one extra database read, never wrong data.
package cache

import (
	"sync"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

// listKey is the per-kind sentinel under which cached list results live. An
// entity-level change evicts its kind's list too, since any list may
// contain the changed entity.
const listKey = "\x00list"

// SettingsScope is the scope for cached settings-derived values, evicted by
// settings-changed messages.
const SettingsScope = "settings"

// scoped is one kind's (or pseudo-scope's) entries.
type scoped map[string]any

// Cache is a mutex-guarded view cache. Scopes are entity kinds plus the
// settings pseudo-scope; keys within a scope are entity IDs or listKey.
type Cache struct {
	mu     sync.Mutex
	scopes map[string]scoped

	hits   int64
	misses int64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{scopes: make(map[string]scoped)}
}

// Put stores a value for one entity.
func (c *Cache) Put(kind entity.Kind, id string, value any) {
	c.put(kind.String(), id, value)
}

// PutList stores a kind's cached list result.
func (c *Cache) PutList(kind entity.Kind, value any) {
	c.put(kind.String(), listKey, value)
}

// PutSetting stores a settings-derived value.
func (c *Cache) PutSetting(key string, value any) {
	c.put(SettingsScope, key, value)
}

// Get returns a cached entity value.
func (c *Cache) Get(kind entity.Kind, id string) (any, bool) {
	return c.get(kind.String(), id)
}

// GetList returns a kind's cached list result.
func (c *Cache) GetList(kind entity.Kind) (any, bool) {
	return c.get(kind.String(), listKey)
}

// GetSetting returns a cached settings-derived value.
func (c *Cache) GetSetting(key string) (any, bool) {
	return c.get(SettingsScope, key)
}

func (c *Cache) put(scope, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.scopes[scope]
	if !ok {
		entries = make(scoped)
		c.scopes[scope] = entries
	}

	entries[key] = value
}

func (c *Cache) get(scope, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.scopes[scope][key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}

	return value, ok
}

// ApplyMessage translates one broadcast hint into evictions:
//
//   - entity-created / entity-updated / entity-deleted evict that entity's
//     entry and its kind's list, and nothing else — an update to a device
//     must never evict cached receipts.
//   - sync-completed and auth-changed clear everything; both mean state
//     changed in ways no narrower scope describes.
//   - settings-changed clears only the settings scope.
//
// Unknown types are ignored so newer siblings can add message types
// without breaking older processes.
func (c *Cache) ApplyMessage(msg broadcast.Message) {
	switch msg.Type {
	case broadcast.TypeEntityCreated, broadcast.TypeEntityUpdated, broadcast.TypeEntityDeleted:
		c.invalidateEntity(msg.Kind, msg.EntityID)
	case broadcast.TypeSyncCompleted, broadcast.TypeAuthChanged:
		c.Clear()
	case broadcast.TypeSettingsChanged:
		c.invalidateScope(SettingsScope)
	}
}

// invalidateEntity evicts one entity and its kind's list entry.
func (c *Cache) invalidateEntity(kind entity.Kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.scopes[kind.String()]
	if !ok {
		return
	}

	delete(entries, id)
	delete(entries, listKey)
}

// invalidateScope evicts every entry in one scope.
func (c *Cache) invalidateScope(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.scopes, scope)
}

// Clear evicts everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scopes = make(map[string]scoped)
}

// Stats returns cumulative hit/miss counters for the status surface.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}

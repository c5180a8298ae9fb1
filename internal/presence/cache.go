// Package presence keeps the last observed online state of users.
package presence

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Entry is the last known presence of one user. LastSeen is zero when the
// relay never reported one.
type Entry struct {
	Online   bool
	LastSeen time.Time
}

// Cache maps user ids to presence entries. Entries are created on the first
// event for a user and never expire; Reset drops everything on reconnect.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get returns the entry for userID and whether the user was ever observed.
func (c *Cache) Get(userID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	return e, ok
}

// GetMultiple returns entries for the observed subset of userIDs.
func (c *Cache) GetMultiple(userIDs []string) map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(userIDs))
	for _, id := range userIDs {
		if e, ok := c.entries[id]; ok {
			out[id] = e
		}
	}
	return out
}

// IsOnline reports false for users never observed.
func (c *Cache) IsOnline(userID string) bool {
	e, _ := c.Get(userID)
	return e.Online
}

// MarkOnline records a userOnline event.
func (c *Cache) MarkOnline(userID string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := Entry{Online: true, LastSeen: c.now()}
	c.entries[userID] = e
	return e
}

// MarkOffline records a userOffline event with the relay's last-seen time.
func (c *Cache) MarkOffline(userID string, lastSeen time.Time) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := Entry{Online: false, LastSeen: lastSeen}
	c.entries[userID] = e
	return e
}

// Reset forgets every entry and returns the forgotten user ids, sorted.
func (c *Cache) Reset() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Sorted(maps.Keys(c.entries))
	c.entries = make(map[string]Entry)
	return ids
}

// Len returns the number of tracked users.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

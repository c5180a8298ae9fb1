package typing

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// User is a remote participant flagged as typing.
type User struct {
	UserID   string
	UserName string
}

// Tracker holds, per conversation, the remote users currently typing.
type Tracker struct {
	mu    sync.RWMutex
	convs map[string]map[string]User
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{convs: make(map[string]map[string]User)}
}

// Add flags a user as typing and reports whether the set changed. A repeat
// add for a tracked user is a no-op.
func (t *Tracker) Add(conversationID string, u User) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.convs[conversationID]
	if !ok {
		set = make(map[string]User)
		t.convs[conversationID] = set
	}
	if _, ok := set[u.UserID]; ok {
		return false
	}
	set[u.UserID] = u
	return true
}

// Remove clears a user's flag, whether or not it was set.
func (t *Tracker) Remove(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.convs[conversationID]
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.convs, conversationID)
	}
	return true
}

// RemoveUser clears a user from every conversation, used when they go
// offline. It returns the affected conversations.
func (t *Tracker) RemoveUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for conv, set := range t.convs {
		if _, ok := set[userID]; ok {
			delete(set, userID)
			affected = append(affected, conv)
			if len(set) == 0 {
				delete(t.convs, conv)
			}
		}
	}
	slices.Sort(affected)
	return affected
}

// Users returns the users typing in a conversation, ordered by id.
func (t *Tracker) Users(conversationID string) []User {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.convs[conversationID]
	out := make([]User, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b User) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// Clear drops a conversation's set, used on conversation switch.
func (t *Tracker) Clear(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.convs, conversationID)
}

// Reset drops every set and returns the conversations that had one, sorted.
func (t *Tracker) Reset() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	convs := slices.Sorted(maps.Keys(t.convs))
	clear(t.convs)
	return convs
}

package sessionkey

import (
	"sync"

	"github.com/ruteri/zk-keyservice/interfaces"
)

type cacheKey struct {
	peer interfaces.UserID
	id   interfaces.SessionKeyID
}

// Cache holds derived session keys for the lifetime of a sign-in. Keys
// are only reachable through the exact pair of generations they were
// derived from, so a rotation on either side misses the cache naturally.
//
// The cache owns its entries: Put stores a copy and Get returns one, so
// eviction wipes only cache-held material and callers wipe their own.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*interfaces.SessionKey
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*interfaces.SessionKey)}
}

func (c *Cache) Get(peer interfaces.UserID, id interfaces.SessionKeyID) (*interfaces.SessionKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.entries[cacheKey{peer: peer, id: id}]
	if !ok {
		return nil, false
	}
	return key.Clone(), true
}

// Put stores a copy of key. An entry it replaces is wiped. Wiped keys are
// not cached.
func (c *Cache) Put(key *interfaces.SessionKey) {
	if key.Wiped() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ck := cacheKey{peer: key.PeerUserID, id: key.ID()}
	if old, ok := c.entries[ck]; ok {
		old.Wipe()
	}
	c.entries[ck] = key.Clone()
}

// InvalidateConversation wipes every key of one conversation.
func (c *Cache) InvalidateConversation(conversation interfaces.ConversationID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for ck, key := range c.entries {
		if ck.id.ConversationID == conversation {
			key.Wipe()
			delete(c.entries, ck)
			n++
		}
	}
	return n
}

// InvalidateLocalGeneration wipes every key derived from one of our own
// generations, used when that generation leaves the key store.
func (c *Cache) InvalidateLocalGeneration(generation uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for ck, key := range c.entries {
		if ck.id.LocalGeneration == generation {
			key.Wipe()
			delete(c.entries, ck)
			n++
		}
	}
	return n
}

// Purge wipes everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.entries {
		key.Wipe()
	}
	c.entries = make(map[cacheKey]*interfaces.SessionKey)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

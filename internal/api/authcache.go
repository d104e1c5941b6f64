package api

import (
	"sync"
	"time"

	"github.com/p-blackswan/stageflow/internal/models"
)

// credentialTTL bounds how long a verified credential is reused before the
// signature or key is checked again.
const credentialTTL = time.Minute

type cachedActor struct {
	actor     models.Actor
	expiresAt time.Time
}

// credentialCache remembers recently verified bearer credentials so hot
// callers skip repeated JWT signature checks. Entries expire lazily.
type credentialCache struct {
	mu      sync.RWMutex
	entries map[string]cachedActor
}

func newCredentialCache() *credentialCache {
	return &credentialCache{entries: make(map[string]cachedActor)}
}

func (c *credentialCache) get(token string) (models.Actor, bool) {
	c.mu.RLock()
	e, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return models.Actor{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, token)
		c.mu.Unlock()
		return models.Actor{}, false
	}
	return e.actor, true
}

func (c *credentialCache) put(token string, actor models.Actor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = cachedActor{actor: actor, expiresAt: time.Now().Add(credentialTTL)}

	// Opportunistic sweep keeps the map from accumulating dead tokens.
	if len(c.entries) > 1024 {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}

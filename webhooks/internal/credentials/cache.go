package credentials

import (
	"sync"
	"time"
)

type cachedToken struct {
	token  string
	expiry time.Time
}

// tokenCache maps account id to its current bearer token. Entries are
// replaced wholesale, never mutated.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]cachedToken
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]cachedToken)}
}

// get returns the token when it outlives now+buffer.
func (c *tokenCache) get(accountID string, now time.Time, buffer time.Duration) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[accountID]
	c.mu.RUnlock()

	if !ok || !entry.expiry.After(now.Add(buffer)) {
		return "", false
	}
	return entry.token, true
}

func (c *tokenCache) put(accountID, token string, expiry time.Time) {
	c.mu.Lock()
	c.entries[accountID] = cachedToken{token: token, expiry: expiry}
	c.mu.Unlock()
}

func (c *tokenCache) delete(accountID string) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}

func (c *tokenCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cachedToken)
	c.mu.Unlock()
}

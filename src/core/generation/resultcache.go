package generation

import "sync"

// maxCachedResults bounds the cache on long-lived servers. An arbitrary
// entry is evicted once the cap is reached; evicted tasks fall back to the
// record store.
const maxCachedResults = 256

type cachedResult struct {
	videoURL string
	err      error
}

// ResultCache holds terminal outcomes keyed by task id so repeat observers
// read the cached result instead of polling again. Outcomes for different
// tasks are independent: one user's new generation never evicts another
// user's in-flight result.
type ResultCache struct {
	mu      sync.Mutex
	results map[string]cachedResult
}

func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[string]cachedResult)}
}

// Begin clears any stale outcome recorded under taskID, leaving other
// tasks' outcomes in place.
func (c *ResultCache) Begin(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, taskID)
}

// Publish records the terminal outcome for taskID. The first publish wins;
// later calls for the same task are ignored.
func (c *ResultCache) Publish(taskID, videoURL string, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.results[taskID]; ok {
		return false
	}
	if len(c.results) >= maxCachedResults {
		for stale := range c.results {
			delete(c.results, stale)
			break
		}
	}
	c.results[taskID] = cachedResult{videoURL: videoURL, err: err}
	return true
}

// Get returns the cached outcome for taskID, if one was published.
func (c *ResultCache) Get(taskID string) (videoURL string, err error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[taskID]
	if !ok {
		return "", nil, false
	}
	return result.videoURL, result.err, true
}

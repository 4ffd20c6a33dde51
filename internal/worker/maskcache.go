package worker

import "sync"

// MaskResult is one computed alpha-mask image buffer. Pix is RGBA with the
// alpha channel replaced by the inferred foreground mask.
type MaskResult struct {
	Width  int
	Height int
	Pix    []byte
}

// ResultCache bridges the asynchronous worker round-trip back into the
// per-file pipeline. Entries are write-once (worker callback) and
// consume-once (deleted when read).
type ResultCache struct {
	mu      sync.Mutex
	results map[string]*MaskResult
}

func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[string]*MaskResult)}
}

// Put stores the result for id. A second write for the same id is dropped.
func (c *ResultCache) Put(id string, result *MaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[id]; exists {
		return
	}
	c.results[id] = result
}

// Take returns and removes the result for id, if present.
func (c *ResultCache) Take(id string) (*MaskResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[id]
	if ok {
		delete(c.results, id)
	}
	return result, ok
}

// Len reports how many results are waiting to be consumed.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Clear drops all pending results.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]*MaskResult)
}

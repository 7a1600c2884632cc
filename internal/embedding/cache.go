package embedding

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// cache is the two-tier embedding cache: an in-process map in front of one
// JSON file per content hash. Entries are content-addressed, so concurrent
// writers of the same key race harmlessly. Never invalidated.
type cache struct {
	mu     sync.Mutex
	mem    map[string][]float64
	dir    string
	hits   int
	logger *zap.Logger
}

func newCache(dir string, logger *zap.Logger) *cache {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("embedding cache directory unavailable, using memory only",
				zap.String("dir", dir), zap.Error(err))
			dir = ""
		}
	}
	return &cache{mem: make(map[string][]float64), dir: dir, logger: logger}
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// get returns the cached embedding for text, promoting disk hits into the
// memory tier.
func (c *cache) get(text string) ([]float64, bool) {
	key := cacheKey(text)

	c.mu.Lock()
	if vec, ok := c.mem[key]; ok {
		c.hits++
		c.mu.Unlock()
		return vec, true
	}
	c.mu.Unlock()

	if c.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(c.dir, key+".json"))
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("cache read error", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	c.mu.Lock()
	c.mem[key] = vec
	c.hits++
	c.mu.Unlock()
	return vec, true
}

// put stores the embedding in both tiers. Disk failures are logged and
// tolerated; the memory tier still serves the process lifetime.
func (c *cache) put(text string, vec []float64) {
	key := cacheKey(text)

	c.mu.Lock()
	c.mem[key] = vec
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		c.logger.Warn("cache encode error", zap.String("key", key), zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, key+".json"), data, 0o644); err != nil {
		c.logger.Warn("cache write error", zap.String("key", key), zap.Error(err))
	}
}

func (c *cache) stats() (hits, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, len(c.mem)
}

// Package cache keeps synthesized PCM audio on disk so that reading the same
// text with the same voice twice does not hit the speech provider again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const fileSuffix = ".pcm"

// Cache is a size-capped, least-recently-used store of audio blobs.
type Cache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	total    int64
	entries  map[string]*entry
	logger   *zap.Logger
}

type entry struct {
	size     int64
	lastUsed time.Time
	path     string
}

// New opens a cache rooted at dir, creating it when missing, and indexes any
// audio already stored there. logger may be nil.
func New(dir string, maxBytes int64, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		entries:  make(map[string]*entry),
		logger:   logger.With(zap.String("component", "audio_cache")),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Key derives the cache key for a synthesis request.
func Key(text, model, voiceID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "model=%s\nvoice=%s\ntext=%s", model, voiceID, text)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the audio stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		c.logger.Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		c.removeLocked(key)
		return nil, false
	}
	e.lastUsed = time.Now()
	return data, true
}

// Put stores data under key, evicting the least recently used entries to stay
// under the size cap. Blobs larger than the cap are not stored.
func (c *Cache) Put(key string, data []byte) error {
	size := int64(len(data))
	if size > c.maxBytes {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	c.evictLocked(size)
	path := filepath.Join(c.dir, key+fileSuffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	c.entries[key] = &entry{size: size, lastUsed: time.Now(), path: path}
	c.total += size
	return nil
}

// Len returns the number of cached blobs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the total bytes held.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Cache) evictLocked(needed int64) {
	for c.total+needed > c.maxBytes && len(c.entries) > 0 {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.lastUsed.Before(oldestAt) {
				oldest, oldestAt = k, e.lastUsed
			}
		}
		c.logger.Debug("evicting cache entry", zap.String("key", oldest), zap.Int64("size", c.entries[oldest].size))
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	_ = os.Remove(e.path)
	c.total -= e.size
	delete(c.entries, key)
}

// load indexes existing blobs using their modification time as last use.
func (c *Cache) load() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+fileSuffix))
	if err != nil {
		return fmt.Errorf("cache: scan dir: %w", err)
	}
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		key := strings.TrimSuffix(filepath.Base(p), fileSuffix)
		c.entries[key] = &entry{size: info.Size(), lastUsed: info.ModTime(), path: p}
		c.total += info.Size()
	}
	if len(c.entries) > 0 {
		c.logger.Info("loaded cached audio", zap.Int("entries", len(c.entries)), zap.Int64("bytes", c.total))
		c.evictLocked(0)
	}
	return nil
}

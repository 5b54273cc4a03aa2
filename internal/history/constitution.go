// Package history implements the HistoryAssembler component (spec.md
// §4.4): composing the LLM's system preamble, recalled memories, and a
// token-budgeted recent-conversation window into one LLMInput.
package history

import (
	"os"
	"sync"
)

// ConstitutionCache holds the runtime-editable system-preamble text
// (spec.md's "Constitution"), refreshing it only when the backing file's
// mtime changes (Design Notes §9: "implement as a small helper with
// (content, mtime)... concurrency-safe with a single lock").
type ConstitutionCache struct {
	path string

	mu      sync.Mutex
	content string
	modTime int64
	loaded  bool
}

// NewConstitutionCache returns a cache reading from path. The first Get
// call performs the initial load.
func NewConstitutionCache(path string) *ConstitutionCache {
	return &ConstitutionCache{path: path}
}

// Get returns the current constitution text, reloading from disk if the
// file's mtime has advanced since the last read.
func (c *ConstitutionCache) Get() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		return "", err
	}
	mt := info.ModTime().UnixNano()
	if c.loaded && mt == c.modTime {
		return c.content, nil
	}

	b, err := os.ReadFile(c.path)
	if err != nil {
		return "", err
	}
	c.content = string(b)
	c.modTime = mt
	c.loaded = true
	return c.content, nil
}

// Package blobcache caches remote blob payloads, keyed by blob sha.
// Entries are immutable: a sha always names the same bytes, so there is
// no invalidation, only eviction.
package blobcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Cache is a content-addressed blob cache.
type Cache interface {
	// Get returns the cached payload for a blob sha, if present.
	Get(sha string) ([]byte, bool)
	// Put stores a payload under its blob sha.
	Put(sha string, content []byte)
}

// Disk is a Cache persisted as one file per sha with LRU eviction by
// total size.
type Disk struct {
	dir     string
	maxSize int64

	mu      sync.Mutex
	entries map[string]*diskEntry
	size    int64
}

type diskEntry struct {
	size       int64
	lastAccess time.Time
}

// NewDisk creates a disk cache rooted at dir, rebuilding the entry table
// from files already present.
func NewDisk(dir string, maxSize int64) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	d := &Disk{dir: dir, maxSize: maxSize, entries: make(map[string]*diskEntry)}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	for _, f := range files {
		info, err := f.Info()
		if err != nil || f.IsDir() {
			continue
		}
		d.entries[f.Name()] = &diskEntry{size: info.Size(), lastAccess: info.ModTime()}
		d.size += info.Size()
	}
	return d, nil
}

// Get implements Cache.
func (d *Disk) Get(sha string) ([]byte, bool) {
	d.mu.Lock()
	entry, ok := d.entries[sha]
	if ok {
		entry.lastAccess = time.Now()
	}
	d.mu.Unlock()
	if !ok {
		return nil, false
	}

	content, err := os.ReadFile(filepath.Join(d.dir, sha))
	if err != nil {
		d.mu.Lock()
		delete(d.entries, sha)
		d.mu.Unlock()
		return nil, false
	}
	return content, true
}

// Put implements Cache. Content is written atomically (temp file then
// rename); write failures only lose the cache entry, never the caller's
// data, so they are swallowed.
func (d *Disk) Put(sha string, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[sha]; ok {
		return
	}
	for d.maxSize > 0 && d.size+int64(len(content)) > d.maxSize {
		if !d.evictOldest() {
			break
		}
	}

	path := filepath.Join(d.dir, sha)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return
	}

	d.entries[sha] = &diskEntry{size: int64(len(content)), lastAccess: time.Now()}
	d.size += int64(len(content))
}

// evictOldest removes the least recently used entry. Caller holds the
// lock.
func (d *Disk) evictOldest() bool {
	if len(d.entries) == 0 {
		return false
	}
	shas := make([]string, 0, len(d.entries))
	for sha := range d.entries {
		shas = append(shas, sha)
	}
	sort.Slice(shas, func(i, j int) bool {
		return d.entries[shas[i]].lastAccess.Before(d.entries[shas[j]].lastAccess)
	})

	oldest := shas[0]
	os.Remove(filepath.Join(d.dir, oldest))
	d.size -= d.entries[oldest].size
	delete(d.entries, oldest)
	return true
}

// Null is a Cache that stores nothing.
type Null struct{}

// Get implements Cache.
func (Null) Get(string) ([]byte, bool) { return nil, false }

// Put implements Cache.
func (Null) Put(string, []byte) {}

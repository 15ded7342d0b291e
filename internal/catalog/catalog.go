// Package catalog wraps the versioned store for use by the service.
// It serializes every operation behind one lock and keeps an ordered index
// of live keys for prefix scans.
package catalog

import (
	"strings"
	"sync"

	"github.com/ASHISH26940/versiondb/internal/store"
	"github.com/google/btree"
)

// indexDegree is the B-tree degree of the key index.
const indexDegree = 32

// Catalog is a thread-safe, string-keyed versioned store.
type Catalog struct {
	mu    sync.RWMutex
	data  *store.Store[string, string]
	index *btree.BTreeG[string]
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		data:  store.New[string, string](),
		index: btree.NewOrderedG[string](indexDegree),
	}
}

// FromMap returns a Catalog seeded with one version per entry of m.
func FromMap(m map[string]string) *Catalog {
	c := &Catalog{
		data:  store.FromMap(m),
		index: btree.NewOrderedG[string](indexDegree),
	}
	for k := range m {
		c.index.ReplaceOrInsert(k)
	}
	return c
}

// Set appends value to key and returns the new version number.
func (c *Catalog) Set(key, value string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	version := c.data.Set(key, value)
	if version == 1 {
		c.index.ReplaceOrInsert(key)
	}
	return version
}

// Latest returns the newest value of key.
func (c *Catalog) Latest(key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Latest(key)
}

// Get returns a specific version of key.
func (c *Catalog) Get(key string, version int) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Get(key, version)
}

// History returns a copy of every version of key, oldest first.
func (c *Catalog) History(key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.History(key)
}

// Versions returns the number of versions held for key.
func (c *Catalog) Versions(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Versions(key)
}

// Len returns the number of keys.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Len()
}

// Delete removes key and all of its versions.
func (c *Catalog) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.Delete(key); err != nil {
		return err
	}
	c.index.Delete(key)
	return nil
}

// DeleteVersion removes one version of key, dropping the key once it has
// no versions left.
func (c *Catalog) DeleteVersion(key string, version int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.DeleteVersion(key, version); err != nil {
		return err
	}
	if c.data.Versions(key) == 0 {
		c.index.Delete(key)
	}
	return nil
}

// Scan returns up to limit keys starting with prefix in ascending order.
// A limit of zero or less returns every match.
func (c *Catalog) Scan(prefix string, limit int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0)
	c.index.AscendGreaterOrEqual(prefix, func(key string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		keys = append(keys, key)
		return limit <= 0 || len(keys) < limit
	})
	return keys
}

// Snapshot returns a deep copy of every key's history.
func (c *Catalog) Snapshot() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string][]string, c.data.Len())
	c.data.Range(func(key string, history []string) bool {
		snap[key] = history
		return true
	})
	return snap
}

// Restore replaces the entire contents of the catalog with snap.
// Keys with empty histories are skipped.
func (c *Catalog) Restore(snap map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = store.New[string, string]()
	c.index.Clear(false)
	for key, history := range snap {
		if len(history) == 0 {
			continue
		}
		c.data.Restore(key, history)
		c.index.ReplaceOrInsert(key)
	}
}

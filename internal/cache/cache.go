// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/efficientgo/core/errors"
)

// Cache is an in-memory view of locations.json, persisted with an
// atomic write-temp-fsync-rename sequence (spec.md section 4.B).
//
// Cache only serializes access within a single process. It takes no
// cross-process lock, and neither does any caller in this module: when
// two processes save at once, each writes its whole snapshot and the
// last rename wins.
type Cache struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
}

// Load reads path if it exists, or starts from the empty zero state if
// it does not (spec.md section 6: "Empty object is the valid zero
// state.").
func Load(path string) (*Cache, error) {
	c := &Cache{path: path, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read location cache %s", path)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.records); err != nil {
		return nil, errors.Wrapf(err, "failed to parse location cache %s", path)
	}
	return c, nil
}

// Get returns the record for name, if any.
func (c *Cache) Get(name string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[name]
	return rec, ok
}

// Put sets the record for name and persists the cache.
func (c *Cache) Put(name string, rec Record) error {
	c.mu.Lock()
	c.records[name] = rec
	c.mu.Unlock()
	return c.save()
}

// Delete removes the record for name, if any, and persists the cache.
func (c *Cache) Delete(name string) error {
	c.mu.Lock()
	_, existed := c.records[name]
	delete(c.records, name)
	c.mu.Unlock()
	if !existed {
		return nil
	}
	return c.save()
}

// List returns a snapshot of all records, keyed by device name.
func (c *Cache) List() map[string]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Record, len(c.records))
	for k, v := range c.records {
		out[k] = v
	}
	return out
}

// ByHubPort returns the device name currently assigned to (hub, port)
// in the cache, if any. Used to enforce invariant I1.
func (c *Cache) ByHubPort(hub, port string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	// Deterministic when there happens to be more than one match
	// (should not occur if I1 is maintained, but scan order matters
	// while a batch update is in flight).
	var names []string
	for name, rec := range c.records {
		if rec.Hub == hub && rec.Port == port {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// ReplaceAll atomically swaps in a whole new snapshot and persists it.
// Used by the scanner, which computes the entire next generation of
// records up front (including eviction) before writing.
func (c *Cache) ReplaceAll(records map[string]Record) error {
	c.mu.Lock()
	c.records = make(map[string]Record, len(records))
	for k, v := range records {
		c.records[k] = v
	}
	c.mu.Unlock()
	return c.save()
}

func (c *Cache) save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.records, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "failed to marshal location cache")
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create cache directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".locations-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file for location cache")
	}
	tmpPath := tmp.Name()
	// Best-effort cleanup if we bail before the rename.
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to write temp location cache")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to fsync temp location cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp location cache")
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return errors.Wrapf(err, "failed to replace location cache %s", c.path)
	}
	succeeded = true
	return nil
}

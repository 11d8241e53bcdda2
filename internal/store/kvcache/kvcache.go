// Package kvcache keeps small key-value caches next to the datastore, such
// as UI preferences and the last-opened account. A hard storage reset clears
// them along with the database files.
package kvcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Cache is a YAML-file backed string map. It is safe for concurrent use
// within one process.
type Cache struct {
	name string
	path string
	mu   sync.Mutex
}

// Open returns the cache stored as dir/name.yaml. The file is created on
// the first Set.
func Open(dir, name string) *Cache {
	return &Cache{
		name: name,
		path: filepath.Join(dir, name+".yaml"),
	}
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Path returns the backing file path.
func (c *Cache) Path() string { return c.path }

// Get returns the value for key and whether it was present.
func (c *Cache) Get(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set stores value under key.
func (c *Cache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.load()
	if err != nil {
		return err
	}
	m[key] = value
	return c.save(m)
}

// Delete removes key. Removing a missing key is not an error.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return c.save(m)
}

// Keys returns the stored keys in sorted order.
func (c *Cache) Keys() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every key by deleting the backing file.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear cache %s: %w", c.name, err)
	}
	return nil
}

func (c *Cache) load() (map[string]string, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", c.name, err)
	}
	m := map[string]string{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", c.name, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (c *Cache) save(m map[string]string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", c.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache %s: %w", c.name, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache %s: %w", c.name, err)
	}
	return nil
}

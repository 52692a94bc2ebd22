package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaxAge is how long a cached login stays valid.
const DefaultMaxAge = 7 * 24 * time.Hour

// Entry is the persisted login record.
type Entry struct {
	Identity  string    `json:"identity"`
	Timestamp time.Time `json:"timestamp"`
	Machine   string    `json:"machine"`
}

// Cache persists the last successful login as a single JSON file. Writers
// from concurrent processes are not coordinated.
type Cache struct {
	path    string
	maxAge  time.Duration
	machine func() (string, error)
	now     func() time.Time
}

// DefaultCachePath returns <user cache dir>/taxroll/auth.json.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "taxroll", "auth.json"), nil
}

// NewCache returns a cache at path; a non-positive maxAge selects DefaultMaxAge.
func NewCache(path string, maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{path: path, maxAge: maxAge, machine: os.Hostname, now: time.Now}
}

// Path returns the cache file location.
func (c *Cache) Path() string { return c.path }

// Load returns the cached entry when it was written on this machine and is
// younger than the max age. A missing, stale, foreign, or unreadable file
// yields ok=false.
func (c *Cache) Load() (Entry, bool, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read auth cache: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, nil
	}
	host, err := c.machine()
	if err != nil {
		return Entry{}, false, fmt.Errorf("resolve machine: %w", err)
	}
	if e.Identity == "" || e.Machine != host {
		return Entry{}, false, nil
	}
	age := c.now().Sub(e.Timestamp)
	if age < 0 || age >= c.maxAge {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Save records a fresh login for identity.
func (c *Cache) Save(identity string) error {
	host, err := c.machine()
	if err != nil {
		return fmt.Errorf("resolve machine: %w", err)
	}
	b, err := json.MarshalIndent(Entry{Identity: identity, Timestamp: c.now().UTC(), Machine: host}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create auth cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".auth-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write auth cache: %w", err)
	}
	return nil
}

// Clear removes the cache file; a missing file is not an error.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear auth cache: %w", err)
	}
	return nil
}

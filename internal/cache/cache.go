/*
 * aptsnap - A point-in-time snapshot proxy for Debian-style APT archives
 *
 * Copyright (C) 2025 Elara Ivy <elara@elara.ws>
 *
 * This file is part of aptsnap.
 *
 * aptsnap is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * aptsnap is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with aptsnap.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package cache implements the thread-safe, file-locked JSON store of
// discovered InRelease objects: {address: {suite: {hash: entry}}}, where
// address is a mirror's host and path normalised the same way on every
// read and write.
package cache

import (
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/canonical/aptsnap/internal/inrelease"
	"github.com/canonical/aptsnap/internal/snaperr"
)

// tree is the on-disk shape: address -> suite -> hash -> entry.
type tree map[string]map[string]map[string]inrelease.CacheEntry

// Cache is a thread-safe, file-locked JSON store of InRelease objects. The
// zero value is not usable; construct with New.
type Cache struct {
	path   string
	fs     FileSystem
	locker Locker

	mu   sync.Mutex
	data tree
}

// New returns a Cache backed by the real filesystem and a cross-process
// flock on the sidecar file path + ".lock".
func New(path string) *Cache {
	return &Cache{
		path:   path,
		fs:     OsFileSystem{},
		locker: NewFlockLocker(path),
		data:   tree{},
	}
}

// newForTest constructs a Cache over an arbitrary FileSystem/Locker pair,
// used by cache_test.go to exercise Load/Save/Add without touching disk.
func newForTest(path string, fs FileSystem, locker Locker) *Cache {
	return &Cache{path: path, fs: fs, locker: locker, data: tree{}}
}

// normalizeAddress must match on read and write: host + path with any
// trailing slash trimmed.
func normalizeAddress(mirror string) (string, error) {
	u, err := url.Parse(mirror)
	if err != nil {
		return "", snaperr.Cache("invalid mirror URL", err)
	}
	return u.Host + strings.TrimRight(u.Path, "/"), nil
}

// Load takes the exclusive lock, reads the backing file to EOF, releases
// the lock, and atomically replaces the in-memory dict. An empty or
// missing file is treated as an empty cache; a missing file is not
// created. Malformed JSON is a cache error.
func (c *Cache) Load() error {
	unlock, err := c.locker.Lock()
	if err != nil {
		return snaperr.Cache("failed to lock cache file", err)
	}
	defer unlock()

	if err := c.fs.MkdirAll(dirOf(c.path)); err != nil {
		return snaperr.Cache("failed to create cache directory", err)
	}

	raw, err := c.fs.ReadFile(c.path)
	if err != nil && !os.IsNotExist(err) {
		return snaperr.Cache("failed to read cache file", err)
	}

	parsed := tree{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return snaperr.Cache("malformed cache file", err)
		}
	}

	c.mu.Lock()
	c.data = parsed
	c.mu.Unlock()
	return nil
}

// Save serialises the cache to UTF-8 JSON (sorted keys, indent 4 — map
// keys are sorted by encoding/json, and inrelease.CacheEntry declares its
// fields in key order) and writes it under the
// exclusive lock, so concurrent saves from other processes are serialised
// by the file lock rather than the in-process mutex alone.
func (c *Cache) Save() error {
	c.mu.Lock()
	buf, err := json.MarshalIndent(c.data, "", "    ")
	c.mu.Unlock()
	if err != nil {
		return snaperr.Cache("failed to marshal cache", err)
	}

	unlock, err := c.locker.Lock()
	if err != nil {
		return snaperr.Cache("failed to lock cache file", err)
	}
	defer unlock()

	if err := c.fs.MkdirAll(dirOf(c.path)); err != nil {
		return snaperr.Cache("failed to create cache directory", err)
	}
	if err := c.fs.WriteFile(c.path, buf); err != nil {
		return snaperr.Cache("failed to write cache file", err)
	}
	return nil
}

// Add inserts ir at [address][suite][hash] if, and only if, no entry
// already exists there: stability wins over freshness. A second Add of
// the same (address, suite, hash) is a no-op.
func (c *Cache) Add(ir *inrelease.InRelease) error {
	address, err := normalizeAddress(ir.Mirror())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		c.data = tree{}
	}
	bySuite, ok := c.data[address]
	if !ok {
		bySuite = map[string]map[string]inrelease.CacheEntry{}
		c.data[address] = bySuite
	}
	byHash, ok := bySuite[ir.Suite()]
	if !ok {
		byHash = map[string]inrelease.CacheEntry{}
		bySuite[ir.Suite()] = byHash
	}
	if _, exists := byHash[ir.Hash()]; exists {
		return nil
	}
	byHash[ir.Hash()] = ir.Serialize()
	return nil
}

// GetOne returns the InRelease stored under (mirror, suite, hash), or
// snaperr.ErrNotFound if none exists.
func (c *Cache) GetOne(mirror, suite, hash string) (*inrelease.InRelease, error) {
	address, err := normalizeAddress(mirror)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry, ok := c.data[address][suite][hash]
	c.mu.Unlock()
	if !ok {
		return nil, snaperr.ErrNotFound
	}
	return inrelease.FromCacheEntry(entry)
}

// GetAll returns every InRelease cached under (mirror, suite).
func (c *Cache) GetAll(mirror, suite string) ([]*inrelease.InRelease, error) {
	address, err := normalizeAddress(mirror)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	byHash := c.data[address][suite]
	entries := make([]inrelease.CacheEntry, 0, len(byHash))
	for _, entry := range byHash {
		entries = append(entries, entry)
	}
	c.mu.Unlock()

	out := make([]*inrelease.InRelease, 0, len(entries))
	for _, entry := range entries {
		ir, err := inrelease.FromCacheEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, ir)
	}
	return out, nil
}

// HasAny reports whether the cache holds any entries at all for
// (mirror, suite), letting Index skip network discovery entirely.
func (c *Cache) HasAny(mirror, suite string) (bool, error) {
	address, err := normalizeAddress(mirror)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data[address][suite]) > 0, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx == -1 {
		return "."
	}
	return path[:idx]
}

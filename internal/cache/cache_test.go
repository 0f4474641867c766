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

package cache

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/canonical/aptsnap/internal/inrelease"
	"github.com/canonical/aptsnap/internal/snaperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFileSystem is a minimal in-memory FileSystem for exercising Load,
// Save, and Add without touching disk, grounded on the ditto-repo
// teacher example's MemFileSystem/OsFileSystem split.
type memFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFileSystem() *memFileSystem {
	return &memFileSystem{files: map[string][]byte{}}
}

func (m *memFileSystem) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *memFileSystem) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	return nil
}

func (m *memFileSystem) MkdirAll(string) error { return nil }

func newTestCache() (*Cache, *memFileSystem) {
	fs := newMemFileSystem()
	return newForTest("/cache.json", fs, NopLocker{}), fs
}

func TestLoadEmptyFileIsEmptyCache(t *testing.T) {
	c, fs := newTestCache()
	require.NoError(t, fs.WriteFile("/cache.json", []byte{}))
	require.NoError(t, c.Load())

	_, err := c.GetOne("http://a.example/ubuntu", "jammy", "deadbeef")
	assert.ErrorIs(t, err, snaperr.ErrNotFound)
}

func TestLoadMalformedJSONIsCacheError(t *testing.T) {
	c, fs := newTestCache()
	require.NoError(t, fs.WriteFile("/cache.json", []byte("{not json")))

	err := c.Load()
	require.Error(t, err)
	var se snaperr.SnapError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "cache", se.Kind())
}

func TestAddIsMonotonic(t *testing.T) {
	c, _ := newTestCache()
	ir := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body-one", time.Unix(1700000000, 0))
	require.NoError(t, c.Add(ir))

	// A second Add under the same (address, suite, hash) must not mutate
	// the stored payload.
	sameHash := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body-one", time.Unix(1800000000, 0))
	require.Equal(t, ir.Hash(), sameHash.Hash())
	require.NoError(t, c.Add(sameHash))

	got, err := c.GetOne("http://a.example/ubuntu", "jammy", ir.Hash())
	require.NoError(t, err)
	assert.Equal(t, ir.Published(), got.Published())
}

func TestAddressNormalizationMatchesOnReadAndWrite(t *testing.T) {
	c, _ := newTestCache()
	ir := inrelease.FromFetch("http://a.example/ubuntu/", "jammy", "body", time.Unix(1700000000, 0))
	require.NoError(t, c.Add(ir))

	got, err := c.GetOne("http://a.example/ubuntu", "jammy", ir.Hash())
	require.NoError(t, err)
	assert.Equal(t, ir.Hash(), got.Hash())
}

func TestSaveThenLoadReproducesGetOneAndGetAll(t *testing.T) {
	fs := newMemFileSystem()
	c1 := newForTest("/cache.json", fs, NopLocker{})

	ir1 := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body-one", time.Unix(1700000000, 0))
	ir2 := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body-two", time.Unix(1700086400, 0))
	require.NoError(t, c1.Add(ir1))
	require.NoError(t, c1.Add(ir2))
	require.NoError(t, c1.Save())

	c2 := newForTest("/cache.json", fs, NopLocker{})
	require.NoError(t, c2.Load())

	got1, err := c2.GetOne("http://a.example/ubuntu", "jammy", ir1.Hash())
	require.NoError(t, err)
	assert.Equal(t, ir1.Data(), got1.Data())

	all, err := c2.GetAll("http://a.example/ubuntu", "jammy")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHasAny(t *testing.T) {
	c, _ := newTestCache()
	has, err := c.HasAny("http://a.example/ubuntu", "jammy")
	require.NoError(t, err)
	assert.False(t, has)

	ir := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body", time.Unix(1700000000, 0))
	require.NoError(t, c.Add(ir))

	has, err = c.HasAny("http://a.example/ubuntu", "jammy")
	require.NoError(t, err)
	assert.True(t, has)
}

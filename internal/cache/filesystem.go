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
	"path/filepath"
)

// FileSystem is the seam the cache's file I/O goes through, so unit tests
// can exercise Load/Save/Add against an in-memory fake instead of the real
// disk. Grounded on the OsFileSystem/mock split used for the downloader in
// the ditto-repo teacher example.
type FileSystem interface {
	// ReadFile returns the file's full contents, or an error satisfying
	// os.IsNotExist if it doesn't exist.
	ReadFile(path string) ([]byte, error)
	// WriteFile atomically replaces path's contents with data: it must
	// never be possible for a concurrent ReadFile to observe a partial
	// write.
	WriteFile(path string, data []byte) error
	// MkdirAll ensures the directory path, and any missing parents, exist.
	MkdirAll(path string) error
}

// OsFileSystem is the real disk-backed FileSystem.
type OsFileSystem struct{}

func (OsFileSystem) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, err
	}
	return data, err
}

// WriteFile writes to a temp file in the same directory as path and
// renames it into place, so a reader never observes a torn write.
func (OsFileSystem) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (OsFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

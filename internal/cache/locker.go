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

import "github.com/gofrs/flock"

// Locker acquires an OS-level advisory exclusive lock covering the full
// read-or-overwrite window of the cache file, for cross-process safety
// between the CLI and the proxy sharing one cache file.
type Locker interface {
	// Lock blocks until the lock is held, then returns a function that
	// releases it. The caller must call the returned function exactly
	// once, typically via defer.
	Lock() (unlock func() error, err error)
}

// FlockLocker is the real cross-process Locker, backed by
// github.com/gofrs/flock. No example repo in this corpus performs
// cross-process file locking; flock is the ecosystem's standard library
// for it.
type FlockLocker struct {
	path string
}

// NewFlockLocker returns a Locker that exclusively locks the sidecar file
// path + ".lock"; the file at path itself is not locked.
func NewFlockLocker(path string) *FlockLocker {
	return &FlockLocker{path: path + ".lock"}
}

func (l *FlockLocker) Lock() (func() error, error) {
	fl := flock.New(l.path)
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return fl.Unlock, nil
}

// NopLocker is a Locker that does no cross-process locking, for unit
// tests that exercise Cache against an in-memory FileSystem where no real
// file descriptor exists to lock.
type NopLocker struct{}

func (NopLocker) Lock() (func() error, error) {
	return func() error { return nil }, nil
}

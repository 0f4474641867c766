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

// Package snaperr defines the error taxonomy shared by every aptsnap
// component: index errors, cache errors, and proxy errors, all satisfying
// a common interface so CLI entry points can report them uniformly.
package snaperr

import "github.com/pkg/errors"

// SnapError is the common base for the three error kinds aptsnap
// distinguishes. CLI entry points catch this interface, print
// "<prog>: <msg>" to stderr, and exit 1.
type SnapError interface {
	error
	Kind() string
	Unwrap() error
}

type baseError struct {
	kind  string
	cause error
	err   error
}

func newBase(kind, msg string, cause error) SnapError {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	} else {
		wrapped = errors.New(msg)
	}
	return &baseError{kind: kind, cause: cause, err: wrapped}
}

func (e *baseError) Error() string { return e.err.Error() }
func (e *baseError) Kind() string  { return e.kind }
func (e *baseError) Unwrap() error { return e.cause }

// Index wraps a failure discovering or probing InRelease candidates.
func Index(msg string, err error) SnapError {
	return newBase("index", msg, err)
}

// Cache wraps a cache file open/lock/read/write failure or malformed JSON.
func Cache(msg string, err error) SnapError {
	return newBase("cache", msg, err)
}

// Proxy wraps a proxy-level failure, such as a socket bind failure.
func Proxy(msg string, err error) SnapError {
	return newBase("proxy", msg, err)
}

// ErrNotFound is returned by Cache.GetOne when no matching InRelease
// exists (Index.GetInReleaseForTimestamp reports that case with
// found=false and a nil error instead). It is
// not a SnapError: callers are expected to treat it as a normal
// "no result" outcome, not a failure.
var ErrNotFound = errors.New("no matching InRelease found")

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

package index

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/canonical/aptsnap/internal/inrelease"
)

// Memoized wraps an Index's GetInReleaseForTimestamp with a short-TTL
// in-memory cache, so that many concurrent proxy request threads
// resolving the same (mirror, suite, cutoff) don't each re-scan the full
// candidate list. The cutoff is fixed for the process lifetime, so memo
// entries only need to expire to notice cache growth from a concurrent
// writer, not because the answer itself changes.
type Memoized struct {
	idx *Index
	ttl *gocache.Cache
}

// NewMemoized wraps idx with a memo whose entries expire after ttl.
func NewMemoized(idx *Index, ttl time.Duration) *Memoized {
	return &Memoized{idx: idx, ttl: gocache.New(ttl, ttl*2)}
}

// GetInReleaseForTimestamp behaves like Index.GetInReleaseForTimestamp,
// serving from the short-TTL memo when possible.
func (m *Memoized) GetInReleaseForTimestamp(ctx context.Context, cutoff int64) (*inrelease.InRelease, bool, error) {
	key := fmt.Sprintf("%s|%s|%d", m.idx.mirror, m.idx.suite, cutoff)
	if cached, ok := m.ttl.Get(key); ok {
		rec := cached.(memoRecord)
		return rec.ir, rec.found, nil
	}

	ir, found, err := m.idx.GetInReleaseForTimestamp(ctx, cutoff)
	if err != nil {
		return nil, false, err
	}
	m.ttl.Set(key, memoRecord{ir: ir, found: found}, gocache.DefaultExpiration)
	return ir, found, nil
}

type memoRecord struct {
	ir    *inrelease.InRelease
	found bool
}

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

// Package index implements InRelease discovery and timestamp-based
// selection: given (mirror, suite), it enumerates InRelease candidates by
// scraping the by-hash directory listing, probing each hash, and
// selecting the latest one whose publication does not exceed a cutoff
// timestamp.
package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/canonical/aptsnap/internal/cache"
	"github.com/canonical/aptsnap/internal/inrelease"
	"github.com/canonical/aptsnap/internal/snaperr"
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/sbloom"
	"golang.org/x/sync/errgroup"
)

const (
	minObjectSize     = 1024
	maxObjectSize     = 500 * 1024
	probeReadLimit    = maxObjectSize + 1
	probeConcurrency  = 8
	requiredArmor     = "-----BEGIN PGP SIGNED MESSAGE-----"
)

var (
	hexHash        = regexp.MustCompile(`[0-9a-f]{64}`)
	requiredFields = []string{"Origin:", "Label:", "Suite:", "Acquire-By-Hash:"}
)

// Index enumerates and selects InRelease candidates for one (mirror,
// suite) pair. It holds no persistent state of its own; discovered
// InReleases are memoised through the shared Cache, and only the
// in-memory filter of negative probe results lives on the Index itself.
type Index struct {
	mirror string
	suite  string
	cache  *cache.Cache
	client *http.Client

	negOnce sync.Once
	neg     *sbloom.Filter
	negMu   sync.Mutex
}

// New returns an Index for (mirror, suite). cache may be nil, in which
// case every call re-discovers from the network. client must not be nil.
func New(mirror, suite string, c *cache.Cache, client *http.Client) *Index {
	return &Index{mirror: mirror, suite: suite, cache: c, client: client}
}

func (idx *Index) negativeFilter() *sbloom.Filter {
	idx.negOnce.Do(func() {
		idx.neg = sbloom.NewFilter(xxhash.New(), 10)
	})
	return idx.neg
}

func (idx *Index) byHashURL() string {
	return strings.TrimRight(idx.mirror, "/") + "/dists/" + idx.suite + "/by-hash/SHA256"
}

// InReleaseFiles enumerates every discoverable InRelease candidate for
// (mirror, suite), consulting the shared cache before touching the
// network and populating it with anything newly discovered.
func (idx *Index) InReleaseFiles(ctx context.Context) ([]*inrelease.InRelease, error) {
	if idx.cache != nil {
		has, err := idx.cache.HasAny(idx.mirror, idx.suite)
		if err != nil {
			return nil, err
		}
		if has {
			return idx.cache.GetAll(idx.mirror, idx.suite)
		}
	}

	hashes, err := idx.discoverHashes(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	var mu sync.Mutex
	var results []*inrelease.InRelease

	for _, hash := range hashes {
		hash := hash

		if idx.probedNegative(hash) {
			continue
		}

		if idx.cache != nil {
			if cached, err := idx.cache.GetOne(idx.mirror, idx.suite, hash); err == nil {
				mu.Lock()
				results = append(results, cached)
				mu.Unlock()
				continue
			}
		}

		g.Go(func() error {
			ir, ok, err := idx.probe(gctx, hash)
			if err != nil {
				return err
			}
			if !ok {
				idx.markNegative(hash)
				return nil
			}
			if idx.cache != nil {
				if err := idx.cache.Add(ir); err != nil {
					return err
				}
			}
			mu.Lock()
			results = append(results, ir)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, snaperr.Index("failed probing by-hash candidates", err)
	}

	return results, nil
}

func (idx *Index) probedNegative(hash string) bool {
	idx.negMu.Lock()
	defer idx.negMu.Unlock()
	return idx.negativeFilter().Lookup([]byte(hash))
}

func (idx *Index) markNegative(hash string) {
	idx.negMu.Lock()
	defer idx.negMu.Unlock()
	idx.negativeFilter().Add([]byte(hash))
}

// discoverHashes GETs the by-hash directory listing and extracts every
// 64-hex substring.
func (idx *Index) discoverHashes(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idx.byHashURL(), nil)
	if err != nil {
		return nil, snaperr.Index("failed to build directory listing request", err)
	}

	resp, err := idx.client.Do(req)
	if err != nil {
		return nil, snaperr.Index("failed to fetch by-hash directory listing", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, snaperr.Index(fmt.Sprintf("unexpected status fetching directory listing: %s", resp.Status), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, snaperr.Index("failed to read directory listing", err)
	}

	text, err := decodeListing(resp.Header, body)
	if err != nil {
		return nil, snaperr.Index("failed to decode directory listing", err)
	}

	seen := map[string]struct{}{}
	var hashes []string
	for _, h := range hexHash.FindAllString(text, -1) {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// probe fetches <by_hash_url>/<hash> and applies size and content
// heuristics to decide whether it is really an InRelease object. A 404 is
// reported as (nil, false, nil) so the caller absorbs it silently; any
// other HTTP error is a hard failure.
func (idx *Index) probe(ctx context.Context, hash string) (*inrelease.InRelease, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idx.byHashURL()+"/"+hash, nil)
	if err != nil {
		return nil, false, snaperr.Index("failed to build probe request", err)
	}

	resp, err := idx.client.Do(req)
	if err != nil {
		return nil, false, snaperr.Index("failed to probe by-hash object", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, snaperr.Index(fmt.Sprintf("unexpected status probing %s: %s", hash, resp.Status), nil)
	}

	if resp.ContentLength >= 0 && (resp.ContentLength < minObjectSize || resp.ContentLength > maxObjectSize) {
		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeReadLimit))
	if err != nil {
		return nil, false, snaperr.Index("failed to read probe response", err)
	}

	if len(body) < minObjectSize || len(body) > maxObjectSize {
		return nil, false, nil
	}
	if !strings.HasPrefix(string(body), requiredArmor) {
		return nil, false, nil
	}
	for _, field := range requiredFields {
		if !strings.Contains(string(body), field) {
			return nil, false, nil
		}
	}

	lastModified := parseLastModified(resp.Header.Get("Last-Modified"))
	ir := inrelease.FromFetch(idx.mirror, idx.suite, string(body), lastModified)
	return ir, true, nil
}

func parseLastModified(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	parsed, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// GetInReleaseForTimestamp returns the InRelease with the greatest
// Published not exceeding cutoff, or found=false if none exists.
// Tie-break: first-seen wins.
func (idx *Index) GetInReleaseForTimestamp(ctx context.Context, cutoff int64) (ir *inrelease.InRelease, found bool, err error) {
	candidates, err := idx.InReleaseFiles(ctx)
	if err != nil {
		return nil, false, err
	}

	var best *inrelease.InRelease
	for _, cand := range candidates {
		if cand.Published() == inrelease.NoTimestamp || cand.Published() > cutoff {
			continue
		}
		if best == nil || cand.Published() > best.Published() {
			best = cand
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

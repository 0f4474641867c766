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

// Package proxy implements the transparent HTTP proxy: it intercepts APT
// traffic, rewrites dists/<suite>/... paths to the by-hash object
// selected for a fixed cutoff timestamp, and forwards everything else
// verbatim.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elazarl/goproxy"

	"github.com/canonical/aptsnap/internal/cache"
	"github.com/canonical/aptsnap/internal/canonuri"
	"github.com/canonical/aptsnap/internal/index"
)

// distsPath matches the portion of a request path that names a suite and
// a target file within it.
var distsPath = regexp.MustCompile(`^(?P<base>.*?)/dists/(?P<suite>[^/]+)/(?P<target>.*)$`)

// userinfo matches the userinfo component of an absolute URL, so it can
// be stripped before a URL is written to the log.
var userinfo = regexp.MustCompile(`://[^/@\s]+@`)

// DefaultMemoTTL is how long the proxy's per-(mirror, suite) selection
// memo keeps an answer before re-consulting the shared cache.
const DefaultMemoTTL = 30 * time.Second

// Stats holds the admin/status counters exposed at GET /stats.
type Stats struct {
	SuitesFound      int64 `json:"suites_found"`
	SuitesNotFound   int64 `json:"suites_not_found"`
	UpstreamRequests int64 `json:"upstream_requests"`
}

// Proxy holds everything the request handler needs: the fixed cutoff
// timestamp for this process's lifetime, the shared cache every Index it
// builds draws from, and the authenticating client used for every
// upstream fetch.
type Proxy struct {
	Cutoff  int64
	Cache   *cache.Cache
	Client  *http.Client
	Logger  *slog.Logger
	MemoTTL time.Duration

	memos sync.Map // string "mirror|suite" -> *index.Memoized
	stats Stats
}

// New returns a Proxy ready to be wired into a goproxy.ProxyHttpServer via
// Handler.
func New(cutoff int64, c *cache.Cache, client *http.Client, logger *slog.Logger) *Proxy {
	return &Proxy{Cutoff: cutoff, Cache: c, Client: client, Logger: logger, MemoTTL: DefaultMemoTTL}
}

// Snapshot returns a point-in-time copy of the counters.
func (p *Proxy) Snapshot() Stats {
	return Stats{
		SuitesFound:      atomic.LoadInt64(&p.stats.SuitesFound),
		SuitesNotFound:   atomic.LoadInt64(&p.stats.SuitesNotFound),
		UpstreamRequests: atomic.LoadInt64(&p.stats.UpstreamRequests),
	}
}

// memoizedIndex returns the Memoized Index for (mirror, suite), building
// and caching one lazily so concurrent request threads resolving the
// same suite share both the underlying Index and its short-TTL memo.
func (p *Proxy) memoizedIndex(mirror, suite string) *index.Memoized {
	key := mirror + "|" + suite
	if v, ok := p.memos.Load(key); ok {
		return v.(*index.Memoized)
	}
	m := index.NewMemoized(index.New(mirror, suite, p.Cache, p.Client), p.MemoTTL)
	actual, _ := p.memos.LoadOrStore(key, m)
	return actual.(*index.Memoized)
}

// Handler builds a goproxy.ProxyHttpServer whose OnRequest hook is Do,
// including the non-proxy-mode rewrite that lets a plain
// Host-header-and-relative-path client (no CONNECT, no absolute-form
// request line) be served the same way as one configured for explicit
// proxy mode.
func (p *Proxy) Handler(verbose bool) *goproxy.ProxyHttpServer {
	gp := goproxy.NewProxyHttpServer()
	gp.Verbose = verbose

	gp.NonproxyHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Host == "" {
			http.Error(w, "proxy: required Host header not populated", http.StatusBadRequest)
			return
		}
		req.URL.Scheme = "http"
		req.URL.Host = req.Host
		gp.ServeHTTP(w, req)
	})

	gp.OnRequest().DoFunc(p.Do)
	return gp
}

// Do is the single request hook: method gate, dists-path substitution,
// upstream fetch, and status logging.
func (p *Proxy) Do(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusNotImplemented, "method not supported")
	}

	p.Logger.Debug("proxy request", "url", sanitize(req.URL.String()), "method", req.Method)

	target := *req.URL
	if resp := p.substitute(req.Context(), &target, req); resp != nil {
		return req, resp
	}

	upstream, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), nil)
	if err != nil {
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusNotImplemented, err.Error())
	}
	upstream.Header = req.Header.Clone()

	atomic.AddInt64(&p.stats.UpstreamRequests, 1)
	resp, err := p.Client.Do(upstream)
	if err != nil {
		p.Logger.Warn("upstream request failed", "url", sanitize(target.String()), "err", err)
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusNotImplemented, err.Error())
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotModified {
		p.Logger.Warn("upstream returned error status", "url", sanitize(target.String()), "status", resp.Status)
	}
	return req, resp
}

// substitute mutates target's Scheme, Host, and Path in place when a
// by-hash substitution is found. It returns a non-nil response, which
// short-circuits the upstream fetch entirely, when no InRelease is found
// for the suite (a 404) or when resolving it or parsing the mirror URL
// fails (a 501).
func (p *Proxy) substitute(ctx context.Context, target *url.URL, orig *http.Request) *http.Response {
	m := distsPath.FindStringSubmatch(target.Path)
	if m == nil {
		return nil
	}
	base, suite, file := m[1], m[2], m[3]

	mirror := canonuri.Canonicalize(target.Host, base)
	idx := p.memoizedIndex(mirror, suite)

	ir, found, err := idx.GetInReleaseForTimestamp(ctx, p.Cutoff)
	if err != nil {
		p.Logger.Warn("failed to resolve InRelease", "mirror", mirror, "suite", suite, "err", err)
		return goproxy.NewResponse(orig, goproxy.ContentTypeText, http.StatusNotImplemented, err.Error())
	}
	if !found {
		atomic.AddInt64(&p.stats.SuitesNotFound, 1)
		return goproxy.NewResponse(orig, goproxy.ContentTypeText, http.StatusNotFound,
			"no InRelease found for "+suite+" at or before the configured cutoff")
	}
	atomic.AddInt64(&p.stats.SuitesFound, 1)

	var hash string
	if file == "InRelease" {
		hash = ir.Hash()
	} else if h, ok := ir.GetHashFor(file); ok {
		hash = h
	} else {
		// Unlisted auxiliary file: forward the original URI unchanged.
		return nil
	}

	u, err := url.Parse(mirror)
	if err != nil {
		return goproxy.NewResponse(orig, goproxy.ContentTypeText, http.StatusNotImplemented, err.Error())
	}
	target.Scheme = u.Scheme
	target.Host = u.Host
	target.Path = base + "/dists/" + suite + "/by-hash/SHA256/" + hash
	return nil
}

func sanitize(rawURL string) string {
	return userinfo.ReplaceAllString(rawURL, "://")
}

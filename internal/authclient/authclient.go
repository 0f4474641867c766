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

// Package authclient builds an explicit authenticating HTTP client from
// credentials scraped out of an APT-style sources.list. Nothing is
// registered globally: Bootstrap returns a value, and New wraps a
// *http.Client with a RoundTripper that consults it. Callers thread the
// resulting client through Index and Proxy explicitly.
package authclient

import (
	"bufio"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/canonical/aptsnap/internal/canonuri"
)

// Credentials maps a recognised private-archive hostname (in either its
// internal or external form) to the basic-auth pair to present for it.
type Credentials struct {
	byHost map[string]basicAuth
}

type basicAuth struct {
	username string
	password string
}

// Bootstrap scans sourcesListPath line by line. For every whitespace
// separated token that looks like an http(s) URL with a username and a
// recognised private-archive host, it records the (username, password)
// pair under both addressable forms of that host. A missing file is not
// an error: Bootstrap returns empty, usable Credentials so that
// non-build environments still function.
func Bootstrap(sourcesListPath string) (*Credentials, error) {
	creds := &Credentials{byHost: map[string]basicAuth{}}

	fl, err := os.Open(sourcesListPath)
	if err != nil {
		return creds, nil
	}
	defer fl.Close()

	s := bufio.NewScanner(fl)
	for s.Scan() {
		for _, tok := range strings.Fields(s.Text()) {
			if !strings.HasPrefix(tok, "http") {
				continue
			}
			u, err := url.Parse(tok)
			if err != nil || u.User == nil {
				continue
			}
			if !canonuri.IsPrivate(u.Hostname()) {
				continue
			}
			pass, _ := u.User.Password()
			auth := basicAuth{username: u.User.Username(), password: pass}
			internal, external := canonuri.Forms(u.Hostname())
			creds.byHost[internal] = auth
			creds.byHost[external] = auth
		}
	}
	// Scan errors are swallowed for the same reason a missing file is:
	// auth bootstrap failures must never block startup.
	return creds, nil
}

// roundTripper injects HTTP basic auth for recognised private-archive
// hosts, and otherwise delegates unchanged.
type roundTripper struct {
	creds *Credentials
	base  http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if auth, ok := rt.creds.byHost[req.URL.Hostname()]; ok {
		req = req.Clone(req.Context())
		req.SetBasicAuth(auth.username, auth.password)
	}
	return rt.base.RoundTrip(req)
}

// New returns an *http.Client that injects basic auth for hosts present in
// creds and otherwise behaves like base. If base is nil, http.DefaultClient
// is used as the template (its Transport is preserved).
func New(creds *Credentials, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := *base
	client.Transport = &roundTripper{creds: creds, base: transport}
	return &client
}

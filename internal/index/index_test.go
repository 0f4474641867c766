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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInReleaseBody(suite string, published time.Time) string {
	var b strings.Builder
	b.WriteString("-----BEGIN PGP SIGNED MESSAGE-----\nHash: SHA256\n\n")
	fmt.Fprintf(&b, "Origin: Ubuntu\nLabel: Ubuntu\nSuite: %s\n", suite)
	fmt.Fprintf(&b, "Date: %s\n", published.UTC().Format("Mon, 02 Jan 2006 15:04:05 UTC"))
	b.WriteString("Acquire-By-Hash: yes\n")
	b.WriteString(" da39a3ee5e6b4b0d3255bfef95601890afd80709   0 main/binary-amd64/Packages\n")
	b.WriteString("-----BEGIN PGP SIGNATURE-----\n\nabc==\n-----END PGP SIGNATURE-----\n")
	// Pad past the 1024-byte minimum object size.
	for b.Len() < 1100 {
		b.WriteString("X")
	}
	return b.String()
}

// newSeedServer builds an httptest server serving a by-hash directory
// listing plus two InRelease objects at distinct hashes.
func newSeedServer(t *testing.T, hash1, hash2 string, published1, published2 time.Time) *httptest.Server {
	t.Helper()
	body1 := validInReleaseBody("jammy", published1)
	body2 := validInReleaseBody("jammy", published2)

	mux := http.NewServeMux()
	mux.HandleFunc("/ubuntu/dists/jammy/by-hash/SHA256", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>%s %s</body></html>", hash1, hash2)
	})
	mux.HandleFunc("/ubuntu/dists/jammy/by-hash/SHA256/"+hash1, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", published1.UTC().Format(http.TimeFormat))
		w.Write([]byte(body1))
	})
	mux.HandleFunc("/ubuntu/dists/jammy/by-hash/SHA256/"+hash2, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", published2.UTC().Format(http.TimeFormat))
		w.Write([]byte(body2))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

// A by-hash object's name is the SHA-256 of its content, so the fixture
// names are derived from the bodies newSeedServer serves for the two
// publication times the tests below use.
var (
	hashOld = sha256Hex(validInReleaseBody("jammy", time.Unix(1700000000, 0)))
	hashNew = sha256Hex(validInReleaseBody("jammy", time.Unix(1700086400, 0)))
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestGetInReleaseForTimestampSelectsOlderCandidate(t *testing.T) {
	h1, h2 := hashOld, hashNew
	published1 := time.Unix(1700000000, 0)
	published2 := time.Unix(1700086400, 0)
	srv := newSeedServer(t, h1, h2, published1, published2)
	defer srv.Close()

	idx := New(srv.URL+"/ubuntu", "jammy", nil, srv.Client())
	ir, found, err := idx.GetInReleaseForTimestamp(context.Background(), 1700050000)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, h1, ir.Hash())
}

func TestGetInReleaseForTimestampSelectsNewerCandidate(t *testing.T) {
	h1, h2 := hashOld, hashNew
	published1 := time.Unix(1700000000, 0)
	published2 := time.Unix(1700086400, 0)
	srv := newSeedServer(t, h1, h2, published1, published2)
	defer srv.Close()

	idx := New(srv.URL+"/ubuntu", "jammy", nil, srv.Client())
	ir, found, err := idx.GetInReleaseForTimestamp(context.Background(), 1700100000)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, h2, ir.Hash())
}

func TestGetInReleaseForTimestampNotFoundBeforeAnyPublication(t *testing.T) {
	h1, h2 := hashOld, hashNew
	published1 := time.Unix(1700000000, 0)
	published2 := time.Unix(1700086400, 0)
	srv := newSeedServer(t, h1, h2, published1, published2)
	defer srv.Close()

	idx := New(srv.URL+"/ubuntu", "jammy", nil, srv.Client())
	_, found, err := idx.GetInReleaseForTimestamp(context.Background(), 1600000000)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProbeRejectsUndersizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("-----BEGIN PGP SIGNED MESSAGE-----\ntoo short\n"))
	}))
	defer srv.Close()

	idx := New(srv.URL, "jammy", nil, srv.Client())
	_, ok, err := idx.probe(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProbeAbsorbs404Silently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	idx := New(srv.URL, "jammy", nil, srv.Client())
	_, ok, err := idx.probe(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

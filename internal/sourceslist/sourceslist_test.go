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

package sourceslist

import (
	"context"
	"testing"
	"time"

	"github.com/canonical/aptsnap/internal/inrelease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	ir    *inrelease.InRelease
	found bool
}

func (s stubResolver) GetInReleaseForTimestamp(ctx context.Context, cutoff int64) (*inrelease.InRelease, bool, error) {
	return s.ir, s.found, nil
}

func TestRewriteMergesByHashOptions(t *testing.T) {
	ir := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body", time.Unix(1700000000, 0))
	resolverFor := func(mirror, suite string) Resolver {
		assert.Equal(t, "http://a.example/ubuntu", mirror)
		assert.Equal(t, "jammy", suite)
		return stubResolver{ir: ir, found: true}
	}

	in := "deb http://a.example/ubuntu jammy main restricted\n"
	out, err := Rewrite(context.Background(), resolverFor, in, 1700050000)
	require.NoError(t, err)
	assert.Equal(t, "deb [by-hash=yes inrelease-path=by-hash/SHA256/"+ir.Hash()+"] http://a.example/ubuntu jammy main restricted\n", out)
}

func TestRewriteIsFixedPointOnSecondPass(t *testing.T) {
	ir := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body", time.Unix(1700000000, 0))
	resolverFor := func(mirror, suite string) Resolver {
		return stubResolver{ir: ir, found: true}
	}

	in := "deb http://a.example/ubuntu jammy main\n"
	once, err := Rewrite(context.Background(), resolverFor, in, 1700050000)
	require.NoError(t, err)

	twice, err := Rewrite(context.Background(), resolverFor, once, 1700050000)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestRewritePassesThroughNonMatchingLines(t *testing.T) {
	resolverFor := func(mirror, suite string) Resolver {
		t.Fatal("resolverFor should not be called for a non-matching line")
		return nil
	}

	in := "# a comment\n\ndeb-cdrom:[Ubuntu]/ jammy main\n"
	out, err := Rewrite(context.Background(), resolverFor, in, 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRewritePassesThroughWhenNotFound(t *testing.T) {
	resolverFor := func(mirror, suite string) Resolver {
		return stubResolver{found: false}
	}

	in := "deb http://a.example/ubuntu jammy main\n"
	out, err := Rewrite(context.Background(), resolverFor, in, 1600000000)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRewritePreservesExistingUnrelatedOptions(t *testing.T) {
	ir := inrelease.FromFetch("http://a.example/ubuntu", "jammy", "body", time.Unix(1700000000, 0))
	resolverFor := func(mirror, suite string) Resolver {
		return stubResolver{ir: ir, found: true}
	}

	in := "deb [arch=amd64] http://a.example/ubuntu jammy main\n"
	out, err := Rewrite(context.Background(), resolverFor, in, 1700050000)
	require.NoError(t, err)
	assert.Equal(t, "deb [arch=amd64 by-hash=yes inrelease-path=by-hash/SHA256/"+ir.Hash()+"] http://a.example/ubuntu jammy main\n", out)
}

func TestRewritePreservesCRLFLineEndings(t *testing.T) {
	resolverFor := func(mirror, suite string) Resolver {
		t.Fatal("resolverFor should not be called for a non-matching line")
		return nil
	}

	in := "# comment\r\n"
	out, err := Rewrite(context.Background(), resolverFor, in, 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

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

// Package sourceslist implements the sources.list line rewriting behind
// lp-in-release's inject subcommand: pin each matching deb/deb-src line
// to a resolved by-hash object.
package sourceslist

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/canonical/aptsnap/internal/inrelease"
)

// entryLine matches a one-line-style APT source entry:
// "<type> [opts]? <uri> <suite> <components...>", scheme restricted to
// http, https, ftp.
var entryLine = regexp.MustCompile(
	`^(deb|deb-src)(\s+\[([^\]]*)\])?\s+((?:https?|ftp)://\S+)\s+(\S+)\s+(.+)$`,
)

// Resolver resolves the InRelease selected for one fixed (mirror, suite)
// at a fixed cutoff. *index.Index and *index.Memoized both satisfy this
// narrowed interface, so this package doesn't need to import
// internal/index.
type Resolver interface {
	GetInReleaseForTimestamp(ctx context.Context, cutoff int64) (*inrelease.InRelease, bool, error)
}

// ResolverFor builds the Resolver for one (mirror, suite) pair, letting
// callers wire in caching, auth, or memoization however they see fit.
// mirror is passed with any trailing slash already trimmed.
type ResolverFor func(mirror, suite string) Resolver

// Rewrite rewrites text line by line: for every line matching entryLine,
// resolve the InRelease for (uri, suite) at cutoff; on
// a match, merge by-hash=yes and inrelease-path=by-hash/SHA256/<hash> into
// the option bracket and re-emit the line. Non-matching lines, and
// matching lines for which no InRelease is found, pass through byte for
// byte. Line endings are preserved individually so mixed CRLF/LF input
// round-trips unchanged on untouched lines.
func Rewrite(ctx context.Context, resolverFor ResolverFor, text string, cutoff int64) (string, error) {
	lines := splitKeepEnds(text)
	var out strings.Builder

	for _, line := range lines {
		body, ending := line, ""
		if rest, ok := strings.CutSuffix(body, "\r\n"); ok {
			body, ending = rest, "\r\n"
		} else if rest, ok := strings.CutSuffix(body, "\n"); ok {
			body, ending = rest, "\n"
		}

		rewritten, err := rewriteLine(ctx, resolverFor, body, cutoff)
		if err != nil {
			return "", err
		}
		out.WriteString(rewritten)
		out.WriteString(ending)
	}
	return out.String(), nil
}

func rewriteLine(ctx context.Context, resolverFor ResolverFor, line string, cutoff int64) (string, error) {
	m := entryLine.FindStringSubmatch(line)
	if m == nil {
		return line, nil
	}
	debType, existingOpts, uri, suite, components := m[1], m[3], m[4], m[5], m[6]

	resolver := resolverFor(strings.TrimRight(uri, "/"), suite)
	ir, found, err := resolver.GetInReleaseForTimestamp(ctx, cutoff)
	if err != nil {
		return "", err
	}
	if !found {
		return line, nil
	}

	opts := mergeOptions(existingOpts, ir.Hash())
	return fmt.Sprintf("%s [%s] %s %s %s", debType, opts, uri, suite, components), nil
}

// mergeOptions folds by-hash=yes and inrelease-path=by-hash/SHA256/<hash>
// into existing's option list, replacing any prior occurrence of either
// key so a second inject pass at the same cutoff is a fixed point.
func mergeOptions(existing, hash string) string {
	var kept []string
	for _, opt := range strings.Fields(existing) {
		key, _, _ := strings.Cut(opt, "=")
		if key == "by-hash" || key == "inrelease-path" {
			continue
		}
		kept = append(kept, opt)
	}
	kept = append(kept, "by-hash=yes", "inrelease-path=by-hash/SHA256/"+hash)
	return strings.Join(kept, " ")
}

// splitKeepEnds splits text into lines, keeping each line's original
// terminator (if any) attached, so the final unterminated fragment (if
// text does not end in a newline) is preserved verbatim.
func splitKeepEnds(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

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

// Package inrelease implements the InRelease value object: an immutable,
// content-addressed view of an APT suite's signed manifest, together
// with the datetime grammar used to derive its publication timestamp and
// the PGP-armor split used to reach its signed content.
package inrelease

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	beginSigned    = "-----BEGIN PGP SIGNED MESSAGE-----"
	beginSignature = "-----BEGIN PGP SIGNATURE-----"
	endSignature   = "-----END PGP SIGNATURE-----"
)

// months is the fixed English month-abbreviation table the datetime
// grammar uses, since locale-sensitive date parsing is forbidden (non-
// English abbreviations must be rejected, not silently misparsed).
var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// dateLine matches the RFC-1123-ish "Date:" line found in an InRelease
// body: "<weekday>, <day> <month> <year> <hour>:<min>:<sec> ..."
var dateLine = regexp.MustCompile(`^\s*\w+,\s+(\d+)\s+(\w+)\s+(\d+)\s+(\d+):(\d+):(\d+).*$`)

// resourceLine matches a "<hash> <size> <path>" line in an InRelease body.
var resourceLine = regexp.MustCompile(`^ ([0-9a-f]{64}) +(\d+) +(\S+)$`)

// InRelease is an immutable, content-addressed InRelease manifest. Values
// are only ever constructed by FromFetch or FromCacheEntry; there is no
// exported mutator.
type InRelease struct {
	mirror    string
	suite     string
	data      string
	hash      string
	published int64 // POSIX seconds, UTC

	dictOnce sync.Once
	dict     map[string]string
}

// FromFetch builds an InRelease from a live HTTP fetch: data is the full
// signed body, and lastModified is the value of the HTTP Last-Modified
// header, which is the source of truth for Published when an InRelease
// is constructed from a live fetch rather than its own Date: field.
func FromFetch(mirror, suite, data string, lastModified time.Time) *InRelease {
	sum := sha256.Sum256([]byte(data))
	return &InRelease{
		mirror:    mirror,
		suite:     suite,
		data:      data,
		hash:      hex.EncodeToString(sum[:]),
		published: lastModified.UTC().Unix(),
	}
}

// FromBody builds an InRelease deriving Published from the signed body's
// own "Date:" field instead of an HTTP header, for callers that only have
// the body (e.g. reconstructing from a probe response with no reliable
// Last-Modified). Returns an InRelease with Published equal to the "no
// timestamp" sentinel NoTimestamp (-1) if no Date: line parses; callers must treat such a value as unusable for selection.
func FromBody(mirror, suite, data string) *InRelease {
	sum := sha256.Sum256([]byte(data))
	return &InRelease{
		mirror:    mirror,
		suite:     suite,
		data:      data,
		hash:      hex.EncodeToString(sum[:]),
		published: parseDateField(data),
	}
}

// NoTimestamp is the sentinel Published value meaning "no timestamp could
// be derived"; such an InRelease must be treated as unusable for
// selection.
const NoTimestamp int64 = -1

// parseDateField scans data for the first line beginning "Date:" and
// parses its remainder with the fixed English grammar in dateLine. It
// returns NoTimestamp on any failure, including non-English month names.
func parseDateField(data string) int64 {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		rest, ok := strings.CutPrefix(line, "Date:")
		if !ok {
			continue
		}
		return parseGrammar(rest)
	}
	return NoTimestamp
}

// parseGrammar parses s against the fixed datetime grammar and returns
// POSIX seconds in UTC, or NoTimestamp on any failure.
func parseGrammar(s string) int64 {
	m := dateLine.FindStringSubmatch(s)
	if m == nil {
		return NoTimestamp
	}
	day, err := strconv.Atoi(m[1])
	if err != nil {
		return NoTimestamp
	}
	month, ok := months[m[2]]
	if !ok {
		return NoTimestamp
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return NoTimestamp
	}
	hour, err := strconv.Atoi(m[4])
	if err != nil {
		return NoTimestamp
	}
	minute, err := strconv.Atoi(m[5])
	if err != nil {
		return NoTimestamp
	}
	second, err := strconv.Atoi(m[6])
	if err != nil {
		return NoTimestamp
	}
	t := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	return t.Unix()
}

// Mirror returns the archive's canonical base URL.
func (ir *InRelease) Mirror() string { return ir.mirror }

// Suite returns the suite this InRelease belongs to.
func (ir *InRelease) Suite() string { return ir.suite }

// Data returns the full signed text, including PGP armor.
func (ir *InRelease) Data() string { return ir.data }

// Hash returns the lowercase hex SHA-256 of Data.
func (ir *InRelease) Hash() string { return ir.hash }

// Published returns the publication timestamp as POSIX seconds in UTC, or
// NoTimestamp if none could be derived.
func (ir *InRelease) Published() int64 { return ir.published }

// GetHashFor lazily builds the resource-path → hash map by scanning the
// signed content (not the armor) and returns the hash for path, or
// ("", false) if path is not listed.
func (ir *InRelease) GetHashFor(path string) (string, bool) {
	ir.dictOnce.Do(ir.buildDict)
	h, ok := ir.dict[path]
	return h, ok
}

func (ir *InRelease) buildDict() {
	content, _ := SplitSignature(ir.data)
	dict := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		m := resourceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dict[m[3]] = m[1]
	}
	ir.dict = dict
}

// SplitSignature splits data into its clearsigned content and its ASCII-
// armored signature, tolerating both CRLF and LF line endings. If data
// does not look clearsigned, content is the whole of data and signature
// is empty.
func SplitSignature(data string) (content, signature string) {
	normalized := strings.ReplaceAll(data, "\r\n", "\n")

	afterBegin := normalized
	if idx := strings.Index(normalized, beginSigned); idx != -1 {
		afterBegin = normalized[idx+len(beginSigned):]
		// The clearsigned header block (hash-armor headers) is followed
		// by a blank line before the actual content starts.
		if nl := strings.Index(afterBegin, "\n\n"); nl != -1 {
			afterBegin = afterBegin[nl+2:]
		}
	}

	sigStart := strings.Index(afterBegin, beginSignature)
	if sigStart == -1 {
		return afterBegin, ""
	}
	content = afterBegin[:sigStart]

	sigEnd := strings.Index(afterBegin, endSignature)
	if sigEnd == -1 || sigEnd < sigStart {
		return content, afterBegin[sigStart:]
	}
	return content, afterBegin[sigStart : sigEnd+len(endSignature)]
}

// CacheEntry is the serialised form of an InRelease used by the cache:
// {mirror, suite, hash, published, data}, with published formatted as an
// RFC-1123-style GMT string for human readability. Fields are declared in
// alphabetical order of their JSON keys so the encoded entry has sorted
// keys.
type CacheEntry struct {
	Data      string `json:"data"`
	Hash      string `json:"hash"`
	Mirror    string `json:"mirror"`
	Published string `json:"published"`
	Suite     string `json:"suite"`
}

// publishedLayout is the fixed English weekday/month format used for
// serialisation: "%a, %d %b %Y %H:%M:%S GMT". Go's time.Format is always
// locale-independent (it hardcodes English names), so this layout string
// alone satisfies the "fixed English tables" requirement without any
// extra translation step.
const publishedLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Serialize produces the cache's serialised form of ir.
func (ir *InRelease) Serialize() CacheEntry {
	return CacheEntry{
		Mirror:    ir.mirror,
		Suite:     ir.suite,
		Hash:      ir.hash,
		Published: time.Unix(ir.published, 0).UTC().Format(publishedLayout),
		Data:      ir.data,
	}
}

// FromCacheEntry reconstructs an InRelease from its serialised cache form.
// Published is re-derived from the entry's own Published string; if that
// disagrees with the Date: field embedded in Data, the cached value wins
// for stability.
func FromCacheEntry(entry CacheEntry) (*InRelease, error) {
	published, err := time.Parse(publishedLayout, entry.Published)
	if err != nil {
		return nil, fmt.Errorf("inrelease: malformed cached published time %q: %w", entry.Published, err)
	}
	return &InRelease{
		mirror:    entry.Mirror,
		suite:     entry.Suite,
		data:      entry.Data,
		hash:      entry.Hash,
		published: published.UTC().Unix(),
	}, nil
}

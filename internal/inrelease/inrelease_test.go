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

package inrelease

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `-----BEGIN PGP SIGNED MESSAGE-----
Hash: SHA256

Origin: Ubuntu
Label: Ubuntu
Suite: jammy-security
Date: Thu, 14 Nov 2024 10:20:30 UTC
Acquire-By-Hash: yes
 ` + "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb" + `  1234 main/binary-amd64/Packages.gz
 ` + "3e23e8160039594a33894f6564e1b1348bbd7a0088d42c4acb73eeaed59c009d" + `   567 main/source/Sources.gz
-----BEGIN PGP SIGNATURE-----

iQIzBAAA==
-----END PGP SIGNATURE-----
`

func TestFromFetchHashInvariant(t *testing.T) {
	ir := FromFetch("http://a.example/ubuntu", "jammy", sampleBody, time.Unix(1700000000, 0))
	sum := sha256.Sum256([]byte(sampleBody))
	assert.Equal(t, hex.EncodeToString(sum[:]), ir.Hash())
}

func TestFromBodyParsesDateField(t *testing.T) {
	ir := FromBody("http://a.example/ubuntu", "jammy", sampleBody)
	require.NotEqual(t, NoTimestamp, ir.Published())
	assert.Equal(t, time.Date(2024, time.November, 14, 10, 20, 30, 0, time.UTC).Unix(), ir.Published())
}

func TestParseGrammarAcceptsSingleDigitDay(t *testing.T) {
	got := parseGrammar(" Mon, 1 Jan 2024 00:00:00 UTC")
	want := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, want, got)
}

func TestParseGrammarRejectsNonEnglishMonth(t *testing.T) {
	got := parseGrammar(" lun., 1 janv. 2024 00:00:00 UTC")
	assert.Equal(t, NoTimestamp, got)
}

func TestGetHashForResolvesListedResource(t *testing.T) {
	ir := FromBody("http://a.example/ubuntu", "jammy", sampleBody)
	hash, ok := ir.GetHashFor("main/binary-amd64/Packages.gz")
	require.True(t, ok)
	assert.Equal(t, "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb", hash)

	_, ok = ir.GetHashFor("main/binary-amd64/not-listed.gz")
	assert.False(t, ok)
}

func TestSplitSignatureTolerarestCRLF(t *testing.T) {
	crlf := ""
	for _, line := range []string{
		"-----BEGIN PGP SIGNED MESSAGE-----",
		"Hash: SHA256",
		"",
		"Origin: Ubuntu",
		"-----BEGIN PGP SIGNATURE-----",
		"",
		"abc==",
		"-----END PGP SIGNATURE-----",
		"",
	} {
		crlf += line + "\r\n"
	}
	content, sig := SplitSignature(crlf)
	assert.Contains(t, content, "Origin: Ubuntu")
	assert.NotContains(t, content, "BEGIN PGP SIGNATURE")
	assert.Contains(t, sig, "BEGIN PGP SIGNATURE")
	assert.Contains(t, sig, "END PGP SIGNATURE")
}

func TestSerializeRoundTrip(t *testing.T) {
	ir := FromFetch("http://a.example/ubuntu", "jammy", sampleBody, time.Unix(1700000000, 0))
	entry := ir.Serialize()

	restored, err := FromCacheEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, ir.Hash(), restored.Hash())
	assert.Equal(t, ir.Published(), restored.Published())
	assert.Equal(t, ir.Mirror(), restored.Mirror())
	assert.Equal(t, ir.Suite(), restored.Suite())
	assert.Equal(t, ir.Data(), restored.Data())
}

func TestSerializePublishedRoundTripPOSIXSeconds(t *testing.T) {
	// The serialise -> parse(Last-Modified form) round trip must yield the
	// same POSIX seconds.
	ts := time.Date(2024, time.March, 3, 9, 8, 7, 0, time.UTC)
	ir := FromFetch("http://a.example/ubuntu", "jammy", sampleBody, ts)
	entry := ir.Serialize()
	restored, err := FromCacheEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, ts.Unix(), restored.Published())
}

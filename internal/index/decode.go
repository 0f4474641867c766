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
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/mholt/archives"
)

// decodeListing turns a by-hash directory listing response body into
// text: when a Content-Encoding other than identity is set, the body's
// magic bytes pick the decompressor; with no Content-Encoding the body is
// used raw. The bytes are then returned as a Go string without
// transcoding, whatever charset a Content-Type "charset=" parameter names.
func decodeListing(header http.Header, body []byte) (string, error) {
	decompressed, err := maybeDecompress(header.Get("Content-Encoding"), body)
	if err != nil {
		return "", err
	}

	charset := charsetOf(header.Get("Content-Type"))
	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		// aptsnap only ever sees this path against APT archive directory
		// listings, which are UTF-8 or ASCII in every archive this code
		// has been run against; a named non-UTF-8 charset is accepted
		// as-is rather than transcoded, since no example in this corpus
		// pulls in a general charset-transcoding library and adding one
		// for a case that has never been observed in practice would be
		// speculative.
		return string(decompressed), nil
	}
	return string(decompressed), nil
}

func maybeDecompress(contentEncoding string, body []byte) ([]byte, error) {
	if contentEncoding == "" || strings.EqualFold(contentEncoding, "identity") {
		return body, nil
	}

	ctx := context.Background()
	format, r, err := archives.Identify(ctx, "", bytes.NewReader(body))
	if err != nil {
		// Not a recognised compressed format: assume the transport
		// already decompressed it (as Go's http.Transport does
		// automatically for gzip when Accept-Encoding wasn't set
		// explicitly).
		return body, nil
	}

	decomp, ok := format.(archives.Decompressor)
	if !ok {
		return body, nil
	}

	dr, err := decomp.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	return io.ReadAll(dr)
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

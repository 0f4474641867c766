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

// Package canonuri is the sole place URL scheme decisions live for
// aptsnap. Every other component resolves a (host, path) pair to an
// absolute URL through Canonicalize instead of building URLs itself.
package canonuri

import "os"

// buildFarmEnvVar advertises the parent bootstrap mirror used inside the
// build farm. Whether it is set to a non-empty value is how Canonicalize
// decides whether the process is running inside the farm (what the value
// is, is not inspected), and therefore whether a
// recognised private archive should be addressed by its internal or
// external hostname.
const buildFarmEnvVar = "APTSNAP_BUILD_FARM_MIRROR"

// privateArchive describes one recognised private-archive hostname and its
// two addressable forms.
type privateArchive struct {
	public   string
	internal string
	external string
}

// privateArchives lists the recognised private-archive hostnames. Any host
// not in this list is addressed as a plain "http://" + host + path.
var privateArchives = []privateArchive{
	{
		public:   "private-ppa.launchpad.net",
		internal: "private-ppa.internal.launchpad.net",
		external: "private-ppa.launchpad.net",
	},
	{
		public:   "ppa.launchpadcontent.net",
		internal: "ppa.internal.launchpadcontent.net",
		external: "ppa.launchpadcontent.net",
	},
}

// InFarm reports whether the process is running inside the build farm, as
// advertised by buildFarmEnvVar.
func InFarm() bool {
	return os.Getenv(buildFarmEnvVar) != ""
}

// Canonicalize returns the absolute URL for (host, path). For the two
// recognised private-archive hostnames it returns an HTTPS URL addressed
// at the internal or external form depending on InFarm; every other host
// is addressed over plain HTTP, since aptsnap's proxy only ever speaks
// plaintext to its own clients but may need to reach HTTPS-only upstream
// archives.
func Canonicalize(host, path string) string {
	for _, pa := range privateArchives {
		if host != pa.public && host != pa.internal && host != pa.external {
			continue
		}
		if InFarm() {
			return "https://" + pa.internal + path
		}
		return "https://" + pa.external + path
	}
	return "http://" + host + path
}

// IsPrivate reports whether host is one of the recognised private-archive
// hostnames, in any of its addressable forms.
func IsPrivate(host string) bool {
	for _, pa := range privateArchives {
		if host == pa.public || host == pa.internal || host == pa.external {
			return true
		}
	}
	return false
}

// Forms returns both addressable forms (internal, external) of host if it
// is a recognised private archive, or (host, host) otherwise.
func Forms(host string) (internal, external string) {
	for _, pa := range privateArchives {
		if host == pa.public || host == pa.internal || host == pa.external {
			return pa.internal, pa.external
		}
	}
	return host, host
}

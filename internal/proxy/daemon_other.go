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

//go:build !linux && !darwin

// Non-POSIX build of the daemon lifecycle: fork/setsid/setuid have no
// meaningful equivalent, so magic-proxy still builds and runs in the
// foreground everywhere on these platforms.
package proxy

import (
	"fmt"
	"os"
	"strconv"
)

func Background(logPath string) error {
	return fmt.Errorf("proxy: --background is not supported on this platform")
}

func Setsid() error {
	return fmt.Errorf("proxy: --setsid is not supported on this platform")
}

func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func DropPrivileges(username string) error {
	return fmt.Errorf("proxy: --run-as is not supported on this platform")
}

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

//go:build linux || darwin

// Package proxy's daemon lifecycle: fork/setsid/setuid/pid-file/log-file.
// Go cannot fork(2) a running multi-threaded process safely (goroutines,
// the runtime scheduler, and open file descriptors from other goroutines
// would all be left in an undefined state in the child), so Background
// re-execs the same binary with the DaemonizedEnvVar marker set instead:
// the parent exits once the child is launched and detached, exactly as a
// forking parent would.
package proxy

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// DaemonizedEnvVar is set in the re-exec'd child's environment so it
// knows not to fork again.
const DaemonizedEnvVar = "APTSNAP_DAEMONIZED"

// Background re-execs the current process detached from its controlling
// terminal, redirecting its stdout/stderr to logPath (or the null device
// if logPath is empty), and exits the parent. It must be called before
// any goroutines that matter have started meaningful work.
func Background(logPath string) error {
	if os.Getenv(DaemonizedEnvVar) != "" {
		return nil
	}

	logFile, err := openLogFile(logPath)
	if err != nil {
		return fmt.Errorf("proxy: failed to open log file: %w", err)
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("proxy: failed to resolve executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), DaemonizedEnvVar+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("proxy: failed to start background process: %w", err)
	}
	os.Exit(0)
	return nil
}

func openLogFile(logPath string) (*os.File, error) {
	if logPath == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// Setsid detaches the calling process from its controlling terminal.
// Background's Setsid:true SysProcAttr covers the re-exec case; this
// covers --setsid without --background.
func Setsid() error {
	_, err := unix.Setsid()
	return err
}

// WritePIDFile writes the current process's pid to path.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// DropPrivileges looks up username and setuid/setgid's the current
// process to it. Any lookup or permission failure is fatal.
func DropPrivileges(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("proxy: unknown user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("proxy: malformed uid for %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("proxy: malformed gid for %q: %w", username, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("proxy: setgid to %q failed: %w", username, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("proxy: setuid to %q failed: %w", username, err)
	}
	return nil
}

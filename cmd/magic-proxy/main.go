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

// magic-proxy runs the transparent snapshot proxy as a standalone
// (optionally backgrounded) daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.elara.ws/loggers"

	"github.com/canonical/aptsnap/internal/authclient"
	"github.com/canonical/aptsnap/internal/cache"
	"github.com/canonical/aptsnap/internal/config"
	"github.com/canonical/aptsnap/internal/proxy"
	"github.com/canonical/aptsnap/internal/snaperr"
)

const sourcesListPath = "/etc/apt/sources.list"

func main() {
	var (
		address    string
		port       int
		cutoff     int64
		runAs      string
		pidFile    string
		logFile    string
		background bool
		setsid     bool
	)

	cmd := &cobra.Command{
		Use:           "magic-proxy",
		Short:         "Run the point-in-time APT snapshot proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(address, port, cutoff, runAs, pidFile, logFile, background, setsid)
		},
	}
	cmd.Flags().StringVar(&address, "address", "127.0.0.1", "bind address")
	cmd.Flags().IntVar(&port, "port", 8080, "bind port")
	cmd.Flags().Int64VarP(&cutoff, "cutoff-time", "t", 0, "POSIX cutoff timestamp")
	cmd.Flags().StringVar(&runAs, "run-as", "", "user to setuid/setgid to after binding")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "path to write the process pid")
	cmd.Flags().StringVar(&logFile, "log-file", "", "path to redirect stdout/stderr to")
	cmd.Flags().BoolVar(&background, "background", false, "fork (re-exec) into the background")
	cmd.Flags().BoolVar(&setsid, "setsid", false, "detach from the controlling terminal")
	cmd.MarkFlagRequired("cutoff-time")

	if err := cmd.Execute(); err != nil {
		var se snaperr.SnapError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "magic-proxy: %s\n", se.Error())
		} else {
			fmt.Fprintf(os.Stderr, "magic-proxy: %s\n", err.Error())
		}
		os.Exit(1)
	}
}

// run binds the socket before any daemonisation step so bind failures
// surface immediately, then forks, redirects stdio, setsids, writes the
// pid file, drops privileges, and only then enters the accept loop.
func run(address string, port int, cutoff int64, runAs, pidFile, logFile string, background, setsid bool) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return snaperr.Proxy("failed to bind proxy listener", err)
	}

	if background {
		if err := proxy.Background(logFile); err != nil {
			return snaperr.Proxy("failed to background process", err)
		}
	} else if logFile != "" {
		if err := redirectStdio(logFile); err != nil {
			return snaperr.Proxy("failed to redirect stdio", err)
		}
	}

	if setsid && !background {
		if err := proxy.Setsid(); err != nil {
			return snaperr.Proxy("failed to setsid", err)
		}
	}

	if pidFile != "" {
		if err := proxy.WritePIDFile(pidFile); err != nil {
			return snaperr.Proxy("failed to write pid file", err)
		}
	}

	if runAs != "" {
		if err := proxy.DropPrivileges(runAs); err != nil {
			return snaperr.Proxy("failed to drop privileges", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := slog.New(loggers.NewPretty(os.Stderr, loggers.Options{Level: cfg.SlogLevel()}))

	creds, err := authclient.Bootstrap(sourcesListPath)
	if err != nil {
		return err
	}
	client := authclient.New(creds, nil)

	c := cache.New(cfg.CacheFile)
	if err := c.Load(); err != nil {
		return err
	}

	p := proxy.New(cutoff, c, client, log)

	sched, err := proxy.StartCacheFlusher(c, log)
	if err != nil {
		return err
	}

	adminLn, err := net.Listen("tcp", cfg.AdminAddress)
	if err != nil {
		return snaperr.Proxy("failed to bind admin listener", err)
	}
	adminSrv := &http.Server{Handler: p.AdminMux()}
	go func() {
		log.Info("starting admin endpoint", slog.String("addr", adminLn.Addr().String()))
		if err := adminSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("admin endpoint stopped", "err", err)
		}
	}()

	proxySrv := &http.Server{Handler: p.Handler(false)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		adminSrv.Shutdown(context.Background())
		proxySrv.Shutdown(context.Background())
		proxy.FlushOnShutdown(context.Background(), sched, c, log)
	}()

	log.Info("starting proxy", slog.String("addr", ln.Addr().String()))
	if err := proxySrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return snaperr.Proxy("proxy server stopped unexpectedly", err)
	}
	return nil
}

func redirectStdio(logFile string) error {
	f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	os.Stdout = f
	os.Stderr = f
	return nil
}

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

// lp-in-release is the CLI front end: list, select, and inject
// subcommands sharing one cache and one authenticating client.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.elara.ws/loggers"

	"github.com/canonical/aptsnap/internal/authclient"
	"github.com/canonical/aptsnap/internal/cache"
	"github.com/canonical/aptsnap/internal/config"
	"github.com/canonical/aptsnap/internal/index"
	"github.com/canonical/aptsnap/internal/inrelease"
	"github.com/canonical/aptsnap/internal/snaperr"
	"github.com/canonical/aptsnap/internal/sourceslist"
)

const sourcesListPath = "/etc/apt/sources.list"

// sharedState is built once per process invocation and threaded into
// whichever subcommand runs; the cache is loaded once when the state is
// built, before the subcommand runs, and saved exactly once at clean exit.
type sharedState struct {
	log       *slog.Logger
	cfg       *config.Config
	client    *http.Client
	c         *cache.Cache
	cacheFile string
}

func newSharedState(cacheFile string) (*sharedState, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := slog.New(loggers.NewPretty(os.Stderr, loggers.Options{Level: cfg.SlogLevel()}))

	if cacheFile == "" {
		cacheFile = cfg.CacheFile
	}

	creds, err := authclient.Bootstrap(sourcesListPath)
	if err != nil {
		return nil, err
	}
	client := authclient.New(creds, nil)

	c := cache.New(cacheFile)
	if err := c.Load(); err != nil {
		return nil, err
	}

	return &sharedState{log: log, cfg: cfg, client: client, c: c, cacheFile: cacheFile}, nil
}

func (s *sharedState) close() error {
	return s.c.Save()
}

func main() {
	var cacheFile string
	state := (*sharedState)(nil)

	root := &cobra.Command{
		Use:           "lp-in-release",
		Short:         "Discover and select point-in-time InRelease snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSharedState(cacheFile)
			if err != nil {
				return err
			}
			state = s
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if state == nil {
				return nil
			}
			return state.close()
		},
	}
	root.PersistentFlags().StringVar(&cacheFile, "cache-file", "", "shared InRelease cache file")

	root.AddCommand(newListCmd(&state), newSelectCmd(&state), newInjectCmd(&state))

	if err := root.Execute(); err != nil {
		reportAndExit(err)
	}
}

func reportAndExit(err error) {
	var se snaperr.SnapError
	if errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "lp-in-release: %s\n", se.Error())
	} else {
		fmt.Fprintf(os.Stderr, "lp-in-release: %s\n", err.Error())
	}
	os.Exit(1)
}

func newListCmd(state **sharedState) *cobra.Command {
	var mirror, suite string
	var cutoff int64
	var haveCutoff bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every discoverable InRelease for a suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *state
			if mirror == "" {
				mirror = s.cfg.DefaultMirror
			}
			idx := index.New(mirror, suite, s.c, s.client)
			candidates, err := idx.InReleaseFiles(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(candidates, func(i, j int) bool {
				return candidates[i].Published() > candidates[j].Published()
			})
			for _, ir := range candidates {
				if haveCutoff && ir.Published() > cutoff {
					continue
				}
				printListLine(cmd.OutOrStdout(), ir)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mirror, "mirror", "m", "", "archive mirror URL")
	cmd.Flags().StringVarP(&suite, "suite", "s", "", "suite name")
	cmd.Flags().Int64VarP(&cutoff, "cutoff-time", "t", 0, "POSIX cutoff timestamp")
	cmd.MarkFlagRequired("suite")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		haveCutoff = cmd.Flags().Changed("cutoff-time")
	}
	return cmd
}

func newSelectCmd(state **sharedState) *cobra.Command {
	var mirror, suite string
	var cutoff int64

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print the InRelease selected for a cutoff timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *state
			if mirror == "" {
				mirror = s.cfg.DefaultMirror
			}
			idx := index.New(mirror, suite, s.c, s.client)
			ir, found, err := idx.GetInReleaseForTimestamp(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			if found {
				printListLine(cmd.OutOrStdout(), ir)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mirror, "mirror", "m", "", "archive mirror URL")
	cmd.Flags().StringVarP(&suite, "suite", "s", "", "suite name")
	cmd.Flags().Int64VarP(&cutoff, "cutoff-time", "t", 0, "POSIX cutoff timestamp")
	cmd.MarkFlagRequired("suite")
	cmd.MarkFlagRequired("cutoff-time")
	return cmd
}

func newInjectCmd(state **sharedState) *cobra.Command {
	var outputFile string
	var cutoff int64

	cmd := &cobra.Command{
		Use:   "inject <infile>",
		Short: "Rewrite a sources.list to pin by-hash InRelease entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *state
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			resolverFor := func(mirror, suite string) sourceslist.Resolver {
				return index.New(mirror, suite, s.c, s.client)
			}

			out, err := sourceslist.Rewrite(cmd.Context(), resolverFor, string(data), cutoff)
			if err != nil {
				return err
			}

			if outputFile == "" || outputFile == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			}
			return os.WriteFile(outputFile, []byte(out), 0o644)
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "-", "output path, or - for stdout")
	cmd.Flags().Int64VarP(&cutoff, "cutoff-time", "t", 0, "POSIX cutoff timestamp")
	cmd.MarkFlagRequired("cutoff-time")
	return cmd
}

// printListLine prints "<hash> <YYYY-MM-DD HH:MM:SS> (<posix>)".
func printListLine(w io.Writer, ir *inrelease.InRelease) {
	ts := time.Unix(ir.Published(), 0).UTC()
	fmt.Fprintf(w, "%s %s (%d)\n", ir.Hash(), ts.Format("2006-01-02 15:04:05"), ir.Published())
}

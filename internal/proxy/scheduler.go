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

package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/canonical/aptsnap/internal/cache"
)

// FlushInterval is how often the periodic cache-flush job runs: the
// long-lived proxy process has no natural "exit" during normal
// operation, so it flushes on a timer rather than relying solely on a
// save at clean exit.
const FlushInterval = 5 * time.Minute

// StartCacheFlusher schedules c.Save every FlushInterval and returns the
// running scheduler, so the caller can stop it with FlushOnShutdown (which
// also performs a final flush) when the proxy process is asked to stop.
func StartCacheFlusher(c *cache.Cache, logger *slog.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(FlushInterval),
		gocron.NewTask(func() {
			if err := c.Save(); err != nil {
				logger.Warn("periodic cache flush failed", "err", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}

// FlushOnShutdown stops sched and performs one last cache save.
func FlushOnShutdown(ctx context.Context, sched gocron.Scheduler, c *cache.Cache, logger *slog.Logger) {
	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown failed", "err", err)
	}
	if err := c.Save(); err != nil {
		logger.Warn("final cache flush failed", "err", err)
	}
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The ClawOS Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/clawos/brain/pkg/blackboard"
)

// ===== SERVE =====

// ServeCmd runs the evolution scheduler daemon and, when an agent is
// named, a mailbox watcher that surfaces incoming messages.
type ServeCmd struct {
	Agent string `help:"Agent whose mailbox to watch."`
}

func (c *ServeCmd) Run(app *appContext) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := app.scheduler()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(sched.Run(gctx))
	})

	if c.Agent != "" {
		bus := blackboard.NewBus(app.cfg.Root, slog.Default())
		watcher, err := blackboard.NewWatcher(bus, c.Agent, slog.Default())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ignoreCancel(watcher.Run(gctx))
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg, ok := <-watcher.Messages():
					if !ok {
						return nil
					}
					slog.Info("message received",
						slog.String("id", msg.ID),
						slog.String("from", msg.From.Agent),
						slog.String("type", string(msg.Type)))
				}
			}
		})
	}

	return g.Wait()
}

// ignoreCancel treats context cancellation as a clean shutdown.
func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}

// ===== EVOLVE =====

// EvolveCmd drives the evolution queue.
type EvolveCmd struct {
	Once   EvolveOnceCmd   `cmd:"" help:"Run a single scheduling cycle."`
	Daemon EvolveDaemonCmd `cmd:"" help:"Run the scheduler loop until interrupted."`
	Stats  EvolveStatsCmd  `cmd:"" help:"Show queue depths and counters."`
}

// EvolveOnceCmd runs one cycle.
type EvolveOnceCmd struct{}

func (c *EvolveOnceCmd) Run(app *appContext) error {
	sched, err := app.scheduler()
	if err != nil {
		return err
	}
	task, err := sched.RunCycle(context.Background())
	if err != nil {
		return err
	}
	if task == nil {
		fmt.Println("no pending tasks or system not idle")
		return nil
	}
	return printJSON(task)
}

// EvolveDaemonCmd runs the loop with signal handling.
type EvolveDaemonCmd struct{}

func (c *EvolveDaemonCmd) Run(app *appContext) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := app.scheduler()
	if err != nil {
		return err
	}
	return ignoreCancel(sched.Run(ctx))
}

// EvolveStatsCmd prints queue statistics.
type EvolveStatsCmd struct{}

func (c *EvolveStatsCmd) Run(app *appContext) error {
	sched, err := app.scheduler()
	if err != nil {
		return err
	}
	return printJSON(sched.Overview())
}

// ===== MEMORY =====

// MemoryCmd inspects and archives the memory hierarchy.
type MemoryCmd struct {
	Stats   MemoryStatsCmd   `cmd:"" default:"1" help:"Show per-layer occupancy."`
	Archive MemoryArchiveCmd `cmd:"" help:"Archive the current session to L4."`
	Sync    MemorySyncCmd    `cmd:"" help:"Commit pending L4 exports."`
}

// MemoryStatsCmd shows layer stats.
type MemoryStatsCmd struct{}

func (c *MemoryStatsCmd) Run(app *appContext) error {
	manager, err := app.memoryManager()
	if err != nil {
		return err
	}
	defer manager.History().Close()
	stats, err := manager.Stats()
	if err != nil {
		return err
	}
	return printJSON(stats)
}

// MemoryArchiveCmd snapshots the session into the archive layer.
type MemoryArchiveCmd struct{}

func (c *MemoryArchiveCmd) Run(app *appContext) error {
	manager, err := app.memoryManager()
	if err != nil {
		return err
	}
	defer manager.History().Close()
	path, err := manager.ArchiveSession()
	if err != nil {
		return err
	}
	fmt.Printf("archived to %s\n", path)
	return nil
}

// MemorySyncCmd commits pending archive exports.
type MemorySyncCmd struct {
	Message string `help:"Commit message." default:"memory sync"`
	Push    bool   `help:"Push after committing."`
}

func (c *MemorySyncCmd) Run(app *appContext) error {
	manager, err := app.memoryManager()
	if err != nil {
		return err
	}
	defer manager.History().Close()
	archive := manager.Archive()
	if archive == nil {
		return fmt.Errorf("no archive repo configured")
	}
	result, err := archive.Sync(context.Background(), c.Message)
	if err != nil {
		return err
	}
	if c.Push {
		if err := archive.Push(context.Background()); err != nil {
			return err
		}
	}
	return printJSON(result)
}

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

// Command brain is the CLI for the ClawOS coordination core.
//
// Usage:
//
//	brain serve --agent gm
//	brain route "Fix the login endpoint" --type coding
//	brain score --agent coder-backend
//	brain evolve once
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/clawos/brain/pkg/config"
	"github.com/clawos/brain/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run the scheduler daemon and a mailbox watcher."`
	Route    RouteCmd    `cmd:"" help:"Classify a task and select an agent for it."`
	Score    ScoreCmd    `cmd:"" help:"Inspect or update agent utility scores."`
	Nominate NominateCmd `cmd:"" help:"Manage tier nominations."`
	Evolve   EvolveCmd   `cmd:"" help:"Drive the evolution task queue."`
	Memory   MemoryCmd   `cmd:"" help:"Inspect and archive the memory hierarchy."`
	Validate ValidateCmd `cmd:"" help:"Validate registry agent cards."`
	Sweep    SweepCmd    `cmd:"" help:"Scan tasks for staleness and timeouts."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	Root      string `help:"Blackboard root directory (overrides config)."`
	EnvFile   string `name:"env-file" help:"Path to .env file." default:".env"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	LogFormat string `name:"log-format" help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ClawOS brain version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("brain"),
		kong.Description("Multi-agent coordination core."),
		kong.UsageOnError(),
	)

	if err := config.LoadEnv(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg, err := config.LoadOrDefault(cli.Config, cli.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	output := os.Stderr
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		output = f
	}
	logger.Init(level, output, cfg.Log.Format)

	app := &appContext{cfg: cfg}
	ctx.FatalIfErrorf(ctx.Run(app))
}

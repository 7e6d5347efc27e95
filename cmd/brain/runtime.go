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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawos/brain/pkg/config"
	"github.com/clawos/brain/pkg/memory"
	"github.com/clawos/brain/pkg/nomination"
	"github.com/clawos/brain/pkg/registry"
	"github.com/clawos/brain/pkg/scheduler"
	"github.com/clawos/brain/pkg/scoring"
)

// appContext carries the loaded configuration into command Run methods.
type appContext struct {
	cfg *config.Config
}

func (a *appContext) registry() (*registry.Registry, error) {
	reg := registry.New(a.cfg.Registry.Dir)
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

func (a *appContext) scorer() (*scoring.UtilityScorer, error) {
	collector, err := scoring.NewCollector(a.cfg.Scoring.FeedbackDir)
	if err != nil {
		return nil, fmt.Errorf("open feedback store: %w", err)
	}
	return scoring.NewUtilityScorer(collector, a.cfg.Scoring.ScoreDir)
}

func (a *appContext) nominations() (*nomination.Manager, error) {
	scorer, err := a.scorer()
	if err != nil {
		return nil, err
	}
	return nomination.NewManager(scorer, a.cfg.Nomination.Dir, a.cfg.Root, slog.Default())
}

// memoryManager assembles the layered store. The archive layer is only
// attached when a repo is configured.
func (a *appContext) memoryManager() (*memory.Manager, error) {
	history, err := memory.NewL2History(a.cfg.Memory.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	recall, err := memory.NewL3Experiences(a.cfg.Memory.ExperienceDir)
	if err != nil {
		history.Close()
		return nil, fmt.Errorf("open experiences: %w", err)
	}
	if a.cfg.Memory.VectorDir != "" {
		vector, err := memory.NewVectorRecall(a.cfg.Memory.VectorDir, nil)
		if err != nil {
			history.Close()
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		recall.AttachVector(vector)
	}
	var archive *memory.L4Archive
	if a.cfg.Memory.ArchiveRepo != "" {
		archive, err = memory.NewL4Archive(a.cfg.Memory.ArchiveRepo)
		if err != nil {
			history.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
	}
	session := memory.NewL1Session(a.cfg.Memory.SessionID)
	return memory.NewManager(session, history, recall, archive, slog.Default()), nil
}

func (a *appContext) scheduler() (*scheduler.Scheduler, error) {
	executor := &scheduler.CommandExecutor{
		Command:  a.cfg.Scheduler.ExecutorCommand,
		BaseArgs: a.cfg.Scheduler.ExecutorArgs,
	}
	opts := []scheduler.Option{
		scheduler.WithExecTimeout(time.Duration(a.cfg.Scheduler.ExecTimeoutSeconds) * time.Second),
		scheduler.WithIntervals(a.cfg.Scheduler.CheckIntervalMinutes, a.cfg.Scheduler.IdleThresholdMinutes),
	}
	if manager, err := a.memoryManager(); err == nil {
		opts = append(opts, scheduler.WithMemory(manager))
	} else {
		slog.Warn("memory unavailable, scheduler runs without it", slog.String("error", err.Error()))
	}
	return scheduler.New(a.cfg.Scheduler.QueueDir, executor, slog.Default(), opts...)
}

// printJSON renders a command result for scripting.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

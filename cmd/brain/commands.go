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

	"github.com/google/uuid"

	"github.com/clawos/brain/pkg/classifier"
	"github.com/clawos/brain/pkg/risk"
	"github.com/clawos/brain/pkg/router"
	"github.com/clawos/brain/pkg/scoring"
)

// ===== ROUTE =====

// RouteCmd classifies a task, routes it to the best agent, and runs the
// decision past the risk controller.
type RouteCmd struct {
	Task    string `arg:"" help:"Task description."`
	Type    string `help:"Task type (coding, writing, research, ...)." default:"general"`
	Context string `help:"Classification context as JSON (riskLevel, priority, domains)."`
	DryRun  bool   `name:"dry-run" help:"Skip the decision log."`
}

func (c *RouteCmd) Run(app *appContext) error {
	var clsCtx *classifier.Context
	if c.Context != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(c.Context), &raw); err != nil {
			return fmt.Errorf("parse context: %w", err)
		}
		parsed, err := classifier.ContextFromMap(raw)
		if err != nil {
			return err
		}
		clsCtx = parsed
	}
	classification := classifier.New().Classify(c.Task, clsCtx)

	reg, err := app.registry()
	if err != nil {
		return err
	}
	r := router.New(reg, app.cfg.Root, slog.Default())
	taskID := "task-" + uuid.NewString()[:8]
	decision, err := r.RouteTask(&router.Task{ID: taskID, Type: c.Type, Description: c.Task})
	if err != nil {
		return err
	}

	controller, err := risk.NewController(app.cfg.Root, slog.Default())
	if err != nil {
		return err
	}
	allowed, reason := controller.ValidateAction(decision.AgentID, "execute-task",
		&risk.ActionContext{TargetNode: decision.Node})

	if !c.DryRun {
		if err := r.LogDecision(taskID, decision, "routed"); err != nil {
			slog.Warn("decision log failed", slog.String("error", err.Error()))
		}
	}

	return printJSON(map[string]any{
		"taskId":         taskID,
		"classification": classification,
		"decision":       decision,
		"riskAllowed":    allowed,
		"riskReason":     reason,
	})
}

// ===== SCORE =====

// ScoreCmd inspects or updates utility scores.
type ScoreCmd struct {
	Agent  string   `help:"Agent to inspect; all agents when omitted."`
	Update *float64 `help:"Apply a validation score (0-10) to the agent."`
	Notes  string   `help:"Notes to attach to a score update."`
	Init   bool     `help:"Seed default scores for agents that have none."`
	Seed   string   `help:"JSON map of agentId to {tier, score} used with --init."`
}

func (c *ScoreCmd) Run(app *appContext) error {
	scorer, err := app.scorer()
	if err != nil {
		return err
	}

	if c.Init {
		seeds := map[string]scoring.Seed{}
		if c.Seed != "" {
			if err := json.Unmarshal([]byte(c.Seed), &seeds); err != nil {
				return fmt.Errorf("parse seed map: %w", err)
			}
		}
		if err := scorer.InitScores(seeds); err != nil {
			return err
		}
	}

	if c.Update != nil {
		if c.Agent == "" {
			return fmt.Errorf("--update requires --agent")
		}
		newScore, err := scorer.UpdateScore(c.Agent, *c.Update, c.Notes)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"agentId": c.Agent, "utilityScore": newScore})
	}

	if c.Agent != "" {
		return printJSON(scorer.Details(c.Agent))
	}
	all, err := scorer.AllScores()
	if err != nil {
		return err
	}
	return printJSON(all)
}

// ===== NOMINATE =====

// NominateCmd manages tier nominations.
type NominateCmd struct {
	Auto    NominateAutoCmd    `cmd:"" help:"Nominate every eligible agent."`
	List    NominateListCmd    `cmd:"" default:"1" help:"List nominations."`
	Approve NominateApproveCmd `cmd:"" help:"Approve a pending nomination."`
	Reject  NominateRejectCmd  `cmd:"" help:"Reject a pending nomination."`
}

// NominateAutoCmd creates nominations for agents over the threshold.
type NominateAutoCmd struct{}

func (c *NominateAutoCmd) Run(app *appContext) error {
	manager, err := app.nominations()
	if err != nil {
		return err
	}
	created, err := manager.AutoNominate()
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"created": created})
}

// NominateListCmd lists nominations, pending first by default.
type NominateListCmd struct {
	Status string `help:"Filter by status (pending, approved, rejected)." default:"pending"`
	All    bool   `help:"List every nomination regardless of status."`
}

func (c *NominateListCmd) Run(app *appContext) error {
	manager, err := app.nominations()
	if err != nil {
		return err
	}
	if c.All {
		all, err := manager.All("")
		if err != nil {
			return err
		}
		return printJSON(all)
	}
	if c.Status == "pending" {
		pending, err := manager.Pending()
		if err != nil {
			return err
		}
		return printJSON(pending)
	}
	filtered, err := manager.All(c.Status)
	if err != nil {
		return err
	}
	return printJSON(filtered)
}

// NominateApproveCmd approves one nomination.
type NominateApproveCmd struct {
	ID    string `arg:"" help:"Nomination id."`
	By    string `help:"Approver identity." default:"boss"`
	Notes string `help:"Decision notes."`
}

func (c *NominateApproveCmd) Run(app *appContext) error {
	manager, err := app.nominations()
	if err != nil {
		return err
	}
	if err := manager.Approve(c.ID, c.Notes, c.By); err != nil {
		return err
	}
	fmt.Printf("approved %s\n", c.ID)
	return nil
}

// NominateRejectCmd rejects one nomination.
type NominateRejectCmd struct {
	ID    string `arg:"" help:"Nomination id."`
	Notes string `help:"Decision notes."`
}

func (c *NominateRejectCmd) Run(app *appContext) error {
	manager, err := app.nominations()
	if err != nil {
		return err
	}
	if err := manager.Reject(c.ID, c.Notes); err != nil {
		return err
	}
	fmt.Printf("rejected %s\n", c.ID)
	return nil
}

// ===== VALIDATE =====

// ValidateCmd validates every agent card in the registry.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(app *appContext) error {
	reg, err := app.registry()
	if err != nil {
		return err
	}
	reports := reg.ValidateAll(time.Now())
	invalid := 0
	for _, report := range reports {
		if !report.Valid() {
			invalid++
		}
	}
	if err := printJSON(reports); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d cards invalid", invalid, len(reports))
	}
	return nil
}

// ===== SWEEP =====

// SweepCmd runs the staleness sweep once and prints the report.
type SweepCmd struct{}

func (c *SweepCmd) Run(app *appContext) error {
	report, err := router.NewSweeper(app.cfg.Root, slog.Default()).Sweep()
	if err != nil {
		return err
	}
	return printJSON(report)
}

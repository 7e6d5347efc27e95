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

package toolchain

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

// Step statuses in the execution log.
const (
	statusSuccess = "success"
	statusError   = "error"
	statusSkipped = "skipped"
)

// Tool is one invocable tool. Params arrive fully resolved.
type Tool func(ctx context.Context, params map[string]any) (any, error)

// StepLog records one step's execution.
type StepLog struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Status     string         `json:"status"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DurationMs float64        `json:"duration_ms"`
}

// Result is a chain run's outcome. On abort, Step names the failing step
// and Output is absent.
type Result struct {
	Success    bool      `json:"success"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Step       string    `json:"step,omitempty"`
	Log        []StepLog `json:"log"`
	DurationMs float64   `json:"duration_ms"`
}

// Executor runs chains sequentially against a registered tool set.
type Executor struct {
	tools  map[string]Tool
	logger *slog.Logger
}

// NewExecutor builds an executor over a tool registry.
func NewExecutor(tools map[string]Tool, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{tools: tools, logger: logger}
}

// Execute runs every step in order. A failing step consults its
// error-handling strategy; the default aborts the chain.
func (e *Executor) Execute(ctx context.Context, chain *Chain, input map[string]any) *Result {
	start := time.Now()
	if input == nil {
		input = map[string]any{}
	}
	steps := map[string]any{}
	res := &resolver{input: input, steps: steps, context: chain.Metadata}
	result := &Result{Log: []StepLog{}}

	for i := range chain.Steps {
		step := &chain.Steps[i]
		entry, recovered := e.runStep(ctx, step, res)
		result.Log = append(result.Log, *entry)

		if entry.Status == statusError && !recovered {
			result.Success = false
			result.Error = entry.Error
			result.Step = step.ID
			result.DurationMs = msSince(start)
			return result
		}
	}

	output, err := res.resolve(chain.Output)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.DurationMs = msSince(start)
		return result
	}
	result.Success = true
	result.Output = output
	result.DurationMs = msSince(start)
	return result
}

// runStep executes one step, recording its outcome in the resolver's step
// results. The second return reports whether a failure was recovered by
// the step's error-handling strategy.
func (e *Executor) runStep(ctx context.Context, step *Step, res *resolver) (*StepLog, bool) {
	start := time.Now()
	entry := &StepLog{ID: step.ID, Tool: step.Tool}
	defer func() { entry.DurationMs = msSince(start) }()

	if step.Condition != "" {
		met, err := res.evaluateCondition(step.Condition)
		if err != nil {
			return e.failStep(ctx, step, res, entry, err)
		}
		if !met {
			entry.Status = statusSkipped
			entry.Reason = "Condition not met"
			res.steps[step.ID] = map[string]any{"skipped": true}
			return entry, false
		}
	}

	params, err := e.resolveParams(step, res)
	if err != nil {
		return e.failStep(ctx, step, res, entry, err)
	}
	entry.Input = params

	output, err := e.invoke(ctx, step.Tool, params)
	if err != nil {
		return e.failStep(ctx, step, res, entry, err)
	}

	entry.Status = statusSuccess
	entry.Output = output
	res.steps[step.ID] = map[string]any{"output": output, "success": true}
	return entry, false
}

func (e *Executor) resolveParams(step *Step, res *resolver) (map[string]any, error) {
	resolved, err := res.resolve(step.Params)
	if err != nil {
		return nil, err
	}
	params, ok := resolved.(map[string]any)
	if !ok {
		params = map[string]any{}
	}
	return params, nil
}

func (e *Executor) invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	tool, ok := e.tools[name]
	if !ok {
		return nil, cerrors.Newf(cerrors.KindNotFound, "tool not found: %s", name)
	}
	return tool(ctx, params)
}

// failStep records the failure and applies the step's error-handling
// strategy.
func (e *Executor) failStep(ctx context.Context, step *Step, res *resolver, entry *StepLog, cause error) (*StepLog, bool) {
	entry.Status = statusError
	entry.Error = cause.Error()
	res.steps[step.ID] = map[string]any{"error": cause.Error(), "success": false}

	strategy := StrategyAbort
	if step.ErrorHandling != nil && step.ErrorHandling.Strategy != "" {
		strategy = step.ErrorHandling.Strategy
	}

	switch strategy {
	case StrategyRetry:
		retries := step.ErrorHandling.Retries
		if retries <= 0 {
			retries = 1
		}
		for attempt := 0; attempt < retries; attempt++ {
			params, err := e.resolveParams(step, res)
			if err != nil {
				continue
			}
			output, err := e.invoke(ctx, step.Tool, params)
			if err != nil {
				continue
			}
			res.steps[step.ID] = map[string]any{"output": output, "success": true}
			entry.Status = statusSuccess
			entry.Output = output
			entry.Error = ""
			return entry, true
		}
		return entry, false

	case StrategyFallback:
		fallback := step.ErrorHandling.Fallback
		if fallback == nil {
			return entry, false
		}
		resolved, err := res.resolve(fallback.Params)
		if err != nil {
			return entry, false
		}
		params, _ := resolved.(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
		output, err := e.invoke(ctx, fallback.Tool, params)
		if err != nil {
			return entry, false
		}
		res.steps[step.ID] = map[string]any{"output": output, "success": true, "fallback": true}
		entry.Status = statusSuccess
		entry.Output = output
		entry.Error = ""
		return entry, true

	case StrategyIgnore:
		res.steps[step.ID] = map[string]any{"error": cause.Error(), "success": false, "ignored": true}
		e.logger.Warn("step error ignored",
			slog.String("step", step.ID),
			slog.String("error", cause.Error()))
		return entry, true

	default:
		return entry, false
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

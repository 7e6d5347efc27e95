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
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxWorkers bounds concurrent steps within one level.
const DefaultMaxWorkers = 5

// stepRef finds ${steps.X. references inside serialized params.
var stepRef = regexp.MustCompile(`\$\{steps\.(\w+)\.`)

// ParallelExecutor runs independent steps concurrently. Dependencies are
// inferred from ${steps.X...} references in each step's params; steps
// grouped into the same topological level run together. A failure marks
// its step's output but does not cancel the rest of the level.
type ParallelExecutor struct {
	*Executor
	maxWorkers int

	mu sync.Mutex
}

// NewParallelExecutor builds the parallel variant. maxWorkers <= 0 uses
// the default.
func NewParallelExecutor(tools map[string]Tool, maxWorkers int, logger *slog.Logger) *ParallelExecutor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &ParallelExecutor{
		Executor:   NewExecutor(tools, logger),
		maxWorkers: maxWorkers,
	}
}

// ExecuteParallel runs the chain level by level.
func (p *ParallelExecutor) ExecuteParallel(ctx context.Context, chain *Chain, input map[string]any) *Result {
	start := time.Now()
	if input == nil {
		input = map[string]any{}
	}
	res := &resolver{input: input, steps: map[string]any{}, context: chain.Metadata}
	result := &Result{Log: []StepLog{}}

	byID := make(map[string]*Step, len(chain.Steps))
	for i := range chain.Steps {
		byID[chain.Steps[i].ID] = &chain.Steps[i]
	}

	for _, level := range topologicalLevels(chain.Steps) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.maxWorkers)

		entries := make([]*StepLog, len(level))
		for i, id := range level {
			step := byID[id]
			g.Go(func() error {
				entry, _ := p.runStepLocked(gctx, step, res)
				entries[i] = entry
				return nil
			})
		}
		_ = g.Wait()

		for _, entry := range entries {
			if entry != nil {
				result.Log = append(result.Log, *entry)
			}
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

// runStepLocked serializes step-result map access across the level's
// goroutines. Tool invocations themselves run outside the lock.
func (p *ParallelExecutor) runStepLocked(ctx context.Context, step *Step, res *resolver) (*StepLog, bool) {
	start := time.Now()
	entry := &StepLog{ID: step.ID, Tool: step.Tool}

	p.mu.Lock()
	if step.Condition != "" {
		met, err := res.evaluateCondition(step.Condition)
		if err != nil || !met {
			if err == nil {
				entry.Status = statusSkipped
				entry.Reason = "Condition not met"
				res.steps[step.ID] = map[string]any{"skipped": true}
			} else {
				entry.Status = statusError
				entry.Error = err.Error()
				res.steps[step.ID] = map[string]any{"error": err.Error(), "success": false}
			}
			p.mu.Unlock()
			entry.DurationMs = msSince(start)
			return entry, false
		}
	}
	params, err := p.resolveParams(step, res)
	p.mu.Unlock()

	if err != nil {
		entry.Status = statusError
		entry.Error = err.Error()
		p.storeStepResult(res, step.ID, map[string]any{"error": err.Error(), "success": false})
		entry.DurationMs = msSince(start)
		return entry, false
	}
	entry.Input = params

	output, err := p.invoke(ctx, step.Tool, params)
	if err != nil {
		entry.Status = statusError
		entry.Error = err.Error()
		p.storeStepResult(res, step.ID, map[string]any{"error": err.Error(), "success": false})
		entry.DurationMs = msSince(start)
		return entry, false
	}

	entry.Status = statusSuccess
	entry.Output = output
	p.storeStepResult(res, step.ID, map[string]any{"output": output, "success": true})
	entry.DurationMs = msSince(start)
	return entry, true
}

func (p *ParallelExecutor) storeStepResult(res *resolver, id string, value map[string]any) {
	p.mu.Lock()
	res.steps[id] = value
	p.mu.Unlock()
}

// extractDependencies lists the step ids a step's params reference.
func extractDependencies(params map[string]any) []string {
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var deps []string
	for _, m := range stepRef.FindAllStringSubmatch(string(data), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			deps = append(deps, m[1])
		}
	}
	sort.Strings(deps)
	return deps
}

// topologicalLevels groups step ids by dependency depth: level 0 has no
// references to other steps, level n+1 depends on something at level n.
// Steps caught in a reference cycle never terminate the recursion, so
// each node's depth is computed with a visiting guard that treats
// back-edges as depth 0.
func topologicalLevels(steps []Step) [][]string {
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		var stepDeps []string
		for _, dep := range extractDependencies(step.Params) {
			if dep != step.ID {
				stepDeps = append(stepDeps, dep)
			}
		}
		deps[step.ID] = stepDeps
	}

	depth := map[string]int{}
	visiting := map[string]bool{}

	var level func(id string) int
	level = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if visiting[id] {
			return 0
		}
		visiting[id] = true
		deepest := -1
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			if d := level(dep); d > deepest {
				deepest = d
			}
		}
		visiting[id] = false
		depth[id] = deepest + 1
		return depth[id]
	}

	maxLevel := 0
	for _, step := range steps {
		if d := level(step.ID); d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, step := range steps {
		d := depth[step.ID]
		levels[d] = append(levels[d], step.ID)
	}
	return levels
}

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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const researchChainYAML = `
name: research-pipeline
description: Search, fetch, and summarize a topic.
steps:
  - id: search
    tool: web_search
    params:
      query: ${input.topic}
      limit: 3
  - id: fetch
    tool: web_fetch
    params:
      url: ${steps.search.output.results[0].url}
  - id: summarize
    tool: summarize
    params:
      text: ${steps.fetch.output.content}
      style: ${context.style}
output:
  summary: ${steps.summarize.output}
metadata:
  style: brief
`

func echoTool(ctx context.Context, params map[string]any) (any, error) {
	return params, nil
}

func staticTool(value any) Tool {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return value, nil
	}
}

func failingTool(msg string) Tool {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New(msg)
	}
}

func TestParseYAML(t *testing.T) {
	chain, err := ParseYAML([]byte(researchChainYAML))
	require.NoError(t, err)

	assert.Equal(t, "research-pipeline", chain.Name)
	assert.Equal(t, "1.0.0", chain.Version)
	require.Len(t, chain.Steps, 3)
	assert.Equal(t, "web_fetch", chain.Steps[1].Tool)
	assert.Equal(t, "brief", chain.Metadata["style"])
}

func TestParseYAMLValidation(t *testing.T) {
	_, err := ParseYAML([]byte("name: x\nsteps:\n  - id: a\n    tool: t\n  - id: a\n    tool: t\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")

	_, err = ParseYAML([]byte("steps: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name")

	_, err = ParseYAML([]byte("name: x\nsteps:\n  - id: a\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tool")
}

func TestParseFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"j","steps":[{"id":"a","tool":"t"}]}`), 0644))

	chain, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "j", chain.Name)
	assert.Equal(t, "1.0.0", chain.Version)

	_, err = ParseFile(filepath.Join(t.TempDir(), "chain.toml"))
	require.Error(t, err)
}

func TestExecuteResolvesTemplates(t *testing.T) {
	chain, err := ParseYAML([]byte(researchChainYAML))
	require.NoError(t, err)

	tools := map[string]Tool{
		"web_search": staticTool(map[string]any{
			"results": []any{
				map[string]any{"url": "https://example.com/a"},
				map[string]any{"url": "https://example.com/b"},
			},
		}),
		"web_fetch": staticTool(map[string]any{"content": "long article text"}),
		"summarize": func(ctx context.Context, params map[string]any) (any, error) {
			assert.Equal(t, "long article text", params["text"])
			assert.Equal(t, "brief", params["style"])
			return "a short summary", nil
		},
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain,
		map[string]any{"topic": "go concurrency"})

	require.True(t, result.Success, result.Error)
	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a short summary", out["summary"])

	require.Len(t, result.Log, 3)
	assert.Equal(t, "https://example.com/a", result.Log[1].Input["url"])
	for _, entry := range result.Log {
		assert.Equal(t, "success", entry.Status)
	}
}

func TestExecuteEnvReference(t *testing.T) {
	t.Setenv("PIPELINE_REGION", "eu-west")
	chain := &Chain{
		Name:  "env",
		Steps: []Step{{ID: "a", Tool: "echo", Params: map[string]any{"region": "${env.PIPELINE_REGION}"}}},
	}

	result := NewExecutor(map[string]Tool{"echo": echoTool}, nil).Execute(context.Background(), chain, nil)

	require.True(t, result.Success)
	assert.Equal(t, "eu-west", result.Log[0].Input["region"])
}

func TestExecuteUnknownStepReference(t *testing.T) {
	chain := &Chain{
		Name:  "broken",
		Steps: []Step{{ID: "a", Tool: "echo", Params: map[string]any{"v": "${steps.ghost.output}"}}},
	}

	result := NewExecutor(map[string]Tool{"echo": echoTool}, nil).Execute(context.Background(), chain, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "step not found: ghost")
	assert.Equal(t, "a", result.Step)
}

func TestConditionSkipsStep(t *testing.T) {
	chain := &Chain{
		Name: "conditional",
		Steps: []Step{
			{ID: "count", Tool: "count"},
			{ID: "alert", Tool: "alert", Condition: "${steps.count.output} > 5"},
			{ID: "done", Tool: "echo", Params: map[string]any{"skipped": "${steps.alert.skipped}"}},
		},
	}
	tools := map[string]Tool{
		"count": staticTool(3),
		"alert": failingTool("should not run"),
		"echo":  echoTool,
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain, nil)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "skipped", result.Log[1].Status)
	assert.Equal(t, "Condition not met", result.Log[1].Reason)
	assert.Equal(t, true, result.Log[2].Input["skipped"])
}

func TestConditionMet(t *testing.T) {
	called := false
	chain := &Chain{
		Name: "conditional",
		Steps: []Step{
			{ID: "count", Tool: "count"},
			{ID: "alert", Tool: "alert", Condition: "steps.count.output > 5"},
		},
	}
	tools := map[string]Tool{
		"count": staticTool(9),
		"alert": func(ctx context.Context, params map[string]any) (any, error) {
			called = true
			return "alerted", nil
		},
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain, nil)

	require.True(t, result.Success)
	assert.True(t, called)
}

func TestEvaluateCondition(t *testing.T) {
	res := &resolver{
		input:   map[string]any{"count": 3, "mode": "fast", "enabled": "yes"},
		steps:   map[string]any{"a": map[string]any{"output": 7.0, "success": true}},
		context: map[string]any{},
	}

	tests := []struct {
		condition string
		want      bool
	}{
		{"input.count > 2", true},
		{"input.count > 5", false},
		{"input.count < 5", true},
		{"steps.a.output > input.count", true},
		{"input.mode == fast", true},
		{"input.mode == slow", false},
		{"${input.enabled}", true},
		{"input.enabled", true},
		{"steps.a.success", true},
		{"true", true},
		{"no", false},
		{"", true},
	}
	for _, tt := range tests {
		got, err := res.evaluateCondition(tt.condition)
		require.NoError(t, err, tt.condition)
		assert.Equal(t, tt.want, got, tt.condition)
	}
}

func TestRetryStrategy(t *testing.T) {
	var calls int32
	chain := &Chain{
		Name: "retry",
		Steps: []Step{{
			ID: "flaky", Tool: "flaky",
			ErrorHandling: &ErrorHandling{Strategy: StrategyRetry, Retries: 3},
		}},
		Output: map[string]any{"v": "${steps.flaky.output}"},
	}
	tools := map[string]Tool{
		"flaky": func(ctx context.Context, params map[string]any) (any, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("transient")
			}
			return "finally", nil
		},
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain, nil)

	require.True(t, result.Success, result.Error)
	assert.EqualValues(t, 3, calls)
	assert.Equal(t, "finally", result.Output.(map[string]any)["v"])
}

func TestFallbackStrategy(t *testing.T) {
	chain := &Chain{
		Name: "fallback",
		Steps: []Step{
			{
				ID: "fetch", Tool: "primary",
				ErrorHandling: &ErrorHandling{
					Strategy: StrategyFallback,
					Fallback: &Fallback{Tool: "cache", Params: map[string]any{"key": "${input.key}"}},
				},
			},
			{ID: "use", Tool: "echo", Params: map[string]any{
				"value":    "${steps.fetch.output}",
				"fallback": "${steps.fetch.fallback}",
			}},
		},
	}
	tools := map[string]Tool{
		"primary": failingTool("upstream down"),
		"cache": func(ctx context.Context, params map[string]any) (any, error) {
			assert.Equal(t, "report", params["key"])
			return "cached value", nil
		},
		"echo": echoTool,
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain,
		map[string]any{"key": "report"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "cached value", result.Log[1].Input["value"])
	assert.Equal(t, true, result.Log[1].Input["fallback"])
}

func TestIgnoreStrategy(t *testing.T) {
	chain := &Chain{
		Name: "ignore",
		Steps: []Step{
			{
				ID: "optional", Tool: "broken",
				ErrorHandling: &ErrorHandling{Strategy: StrategyIgnore},
			},
			{ID: "after", Tool: "echo", Params: map[string]any{"ok": true}},
		},
	}
	tools := map[string]Tool{
		"broken": failingTool("not critical"),
		"echo":   echoTool,
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain, nil)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "error", result.Log[0].Status)
	assert.Equal(t, "success", result.Log[1].Status)
}

func TestAbortIsDefault(t *testing.T) {
	chain := &Chain{
		Name: "abort",
		Steps: []Step{
			{ID: "boom", Tool: "boom"},
			{ID: "never", Tool: "echo"},
		},
	}
	tools := map[string]Tool{
		"boom": failingTool("fatal"),
		"echo": echoTool,
	}

	result := NewExecutor(tools, nil).Execute(context.Background(), chain, nil)

	assert.False(t, result.Success)
	assert.Equal(t, "fatal", result.Error)
	assert.Equal(t, "boom", result.Step)
	require.Len(t, result.Log, 1)
}

func TestToolNotFound(t *testing.T) {
	chain := &Chain{Name: "missing", Steps: []Step{{ID: "a", Tool: "nope"}}}

	result := NewExecutor(map[string]Tool{}, nil).Execute(context.Background(), chain, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool not found: nope")
}

func TestExtractDependencies(t *testing.T) {
	deps := extractDependencies(map[string]any{
		"a": "${steps.search.output.results[0].url}",
		"b": map[string]any{"c": "${steps.fetch.output}"},
		"d": "${steps.search.output.total}",
		"e": "${input.topic}",
	})
	assert.Equal(t, []string{"fetch", "search"}, deps)

	assert.Empty(t, extractDependencies(map[string]any{"plain": 1}))
}

func TestTopologicalLevels(t *testing.T) {
	steps := []Step{
		{ID: "a", Tool: "t"},
		{ID: "b", Tool: "t"},
		{ID: "c", Tool: "t", Params: map[string]any{"v": "${steps.a.output}"}},
		{ID: "d", Tool: "t", Params: map[string]any{
			"x": "${steps.b.output}",
			"y": "${steps.c.output}",
		}},
	}

	levels := topologicalLevels(steps)

	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []string{"a", "b"}, levels[0])
	assert.Equal(t, []string{"c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}

func TestTopologicalLevelsCycle(t *testing.T) {
	steps := []Step{
		{ID: "a", Tool: "t", Params: map[string]any{"v": "${steps.b.output}"}},
		{ID: "b", Tool: "t", Params: map[string]any{"v": "${steps.a.output}"}},
	}

	// Cycles must not hang. Every step still lands in some level.
	levels := topologicalLevels(steps)
	var total int
	for _, level := range levels {
		total += len(level)
	}
	assert.Equal(t, 2, total)
}

func TestExecuteParallel(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string, value any) Tool {
		return func(ctx context.Context, params map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return value, nil
		}
	}

	chain := &Chain{
		Name: "fan-in",
		Steps: []Step{
			{ID: "left", Tool: "left"},
			{ID: "right", Tool: "right"},
			{ID: "merge", Tool: "merge", Params: map[string]any{
				"l": "${steps.left.output}",
				"r": "${steps.right.output}",
			}},
		},
		Output: map[string]any{"merged": "${steps.merge.output}"},
	}
	tools := map[string]Tool{
		"left":  record("left", "L"),
		"right": record("right", "R"),
		"merge": func(ctx context.Context, params map[string]any) (any, error) {
			return params["l"].(string) + params["r"].(string), nil
		},
	}

	result := NewParallelExecutor(tools, 2, nil).ExecuteParallel(context.Background(), chain, nil)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "LR", result.Output.(map[string]any)["merged"])
	assert.Equal(t, "merge", order[len(order)-1])
	require.Len(t, result.Log, 3)
}

func TestExecuteParallelFailureDoesNotAbortLevel(t *testing.T) {
	chain := &Chain{
		Name: "partial",
		Steps: []Step{
			{ID: "good", Tool: "good"},
			{ID: "bad", Tool: "bad"},
		},
		Output: map[string]any{"v": "${steps.good.output}"},
	}
	tools := map[string]Tool{
		"good": staticTool("ok"),
		"bad":  failingTool("nope"),
	}

	result := NewParallelExecutor(tools, 0, nil).ExecuteParallel(context.Background(), chain, nil)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "ok", result.Output.(map[string]any)["v"])

	byID := map[string]StepLog{}
	for _, entry := range result.Log {
		byID[entry.ID] = entry
	}
	assert.Equal(t, "success", byID["good"].Status)
	assert.Equal(t, "error", byID["bad"].Status)
}

func TestGetNested(t *testing.T) {
	obj := map[string]any{
		"output": map[string]any{
			"results": []any{
				map[string]any{"url": "u0"},
				map[string]any{"url": "u1"},
			},
			"total": 2,
		},
	}

	assert.Equal(t, "u1", getNested(obj, "output.results[1].url"))
	assert.Equal(t, 2, getNested(obj, "output.total"))
	assert.Nil(t, getNested(obj, "output.results[9].url"))
	assert.Nil(t, getNested(obj, "output.missing.deeper"))
	assert.Equal(t, obj, getNested(obj, ""))
}

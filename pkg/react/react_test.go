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

package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawos/brain/pkg/memory"
)

// scriptedOracle answers each phase prompt with a canned response.
type scriptedOracle struct {
	think   string
	observe string
	reflect string

	thinkErr error
}

func (o *scriptedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "Think through"):
		if o.thinkErr != nil {
			return "", o.thinkErr
		}
		return o.think, nil
	case strings.Contains(prompt, "Analyze the execution"):
		return o.observe, nil
	case strings.Contains(prompt, "Reflect on"):
		return o.reflect, nil
	default:
		return "{}", nil
	}
}

func searchThinkResponse() string {
	return mustJSON(map[string]any{
		"analysis": map[string]any{"problem": "need information"},
		"options": []any{
			map[string]any{
				"id":          "option-1",
				"description": "Search the web for recent coverage",
				"risk":        "low",
			},
		},
		"selectedOption": "option-1",
		"reasoning":      "fastest path",
	})
}

func reflectResponse(success bool, score float64, lessons []string, issues []map[string]any) string {
	return mustJSON(map[string]any{
		"evaluation": map[string]any{"success": success, "score": score},
		"issues":     issues,
		"lessons":    lessons,
	})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func searchTools(t *testing.T) map[string]Tool {
	t.Helper()
	return map[string]Tool{
		"web_search": func(ctx context.Context, params map[string]any) (any, error) {
			assert.Contains(t, params["query"], "search")
			return map[string]any{"results": []any{"hit-1"}}, nil
		},
	}
}

func TestExecuteCompletesOnHighScore(t *testing.T) {
	oracle := &scriptedOracle{
		think:   searchThinkResponse(),
		observe: mustJSON(map[string]any{"keyFindings": []any{"found it"}}),
		reflect: reflectResponse(true, 0.9, []string{"web search works for lookups"}, nil),
	}
	agent := NewAgent("researcher", searchTools(t), oracle, nil)

	outcome := agent.Execute(context.Background(), "Find recent ClawOS coverage", nil)

	require.True(t, outcome.Success, outcome.Reason)
	assert.Equal(t, 1, outcome.Iterations)
	require.Len(t, outcome.History, 1)
	assert.Equal(t, DecisionComplete, outcome.History[0].Decision)
	require.Len(t, outcome.History[0].Phases, 5)
	assert.Equal(t, PhaseAdapt, outcome.History[0].Phases[4].Phase)
	assert.Equal(t, []any{"found it"}, outcome.Result["keyFindings"])
	assert.NotNil(t, outcome.Result["raw_result"])

	// One lesson recorded as an experience.
	exps := agent.Experiences()
	require.Len(t, exps, 1)
	assert.True(t, strings.HasPrefix(exps[0].ID, "exp-"))
	assert.Len(t, strings.TrimPrefix(exps[0].ID, "exp-"), 8)
	assert.Equal(t, []string{"web search works for lookups"}, exps[0].Lessons)
}

func TestThinkFailureAborts(t *testing.T) {
	oracle := &scriptedOracle{thinkErr: errors.New("provider down")}
	agent := NewAgent("researcher", nil, oracle, nil)

	outcome := agent.Execute(context.Background(), "anything", nil)

	assert.False(t, outcome.Success)
	assert.Equal(t, "Think phase failed", outcome.Reason)
	assert.Equal(t, 1, outcome.Iterations)
	require.Len(t, outcome.History[0].Phases, 1)
	assert.Equal(t, "provider down", outcome.History[0].Phases[0].Error)
}

func TestUnparseableThinkAborts(t *testing.T) {
	oracle := &scriptedOracle{think: "I cannot answer in JSON, sorry."}
	agent := NewAgent("researcher", nil, oracle, nil)

	outcome := agent.Execute(context.Background(), "anything", nil)

	assert.False(t, outcome.Success)
	assert.Equal(t, "Think phase failed", outcome.Reason)
}

func TestActFailurePivotsUntilBoundExhausted(t *testing.T) {
	oracle := &scriptedOracle{think: searchThinkResponse()}
	tools := map[string]Tool{
		"web_search": func(ctx context.Context, params map[string]any) (any, error) {
			return nil, errors.New("network unreachable")
		},
	}
	agent := NewAgent("researcher", tools, oracle, nil, WithMaxIterations(2))

	outcome := agent.Execute(context.Background(), "Find something", nil)

	assert.False(t, outcome.Success)
	assert.Equal(t, "Max iterations exceeded", outcome.Reason)
	assert.Equal(t, 2, outcome.Iterations)
	require.Len(t, outcome.History, 2)
	for _, cycle := range outcome.History {
		assert.Equal(t, DecisionPivot, cycle.Decision)
		assert.Equal(t, "network unreachable", cycle.Phases[1].Error)
	}
}

func TestUnknownToolPivots(t *testing.T) {
	think := mustJSON(map[string]any{
		"options": []any{
			map[string]any{"id": "option-1", "description": "deploy the cluster"},
		},
		"selectedOption": "option-1",
	})
	agent := NewAgent("researcher", map[string]Tool{}, &scriptedOracle{think: think}, nil,
		WithMaxIterations(1))

	outcome := agent.Execute(context.Background(), "deploy", nil)

	assert.False(t, outcome.Success)
	require.Len(t, outcome.History, 1)
	assert.Equal(t, DecisionPivot, outcome.History[0].Decision)
	assert.Equal(t, "Tool not found: default", outcome.History[0].Phases[1].Error)
}

func TestHighSeverityIssuePivots(t *testing.T) {
	oracle := &scriptedOracle{
		think:   searchThinkResponse(),
		observe: "{}",
		reflect: reflectResponse(true, 0.9, nil, []map[string]any{
			{"type": "error", "severity": "high"},
		}),
	}
	agent := NewAgent("researcher", searchTools(t), oracle, nil, WithMaxIterations(1))

	outcome := agent.Execute(context.Background(), "Find something", nil)

	assert.False(t, outcome.Success)
	assert.Equal(t, DecisionPivot, outcome.History[0].Decision)
}

func TestLowScoreAbortsOnLastIteration(t *testing.T) {
	oracle := &scriptedOracle{
		think:   searchThinkResponse(),
		observe: "{}",
		reflect: reflectResponse(false, 0.4, nil, nil),
	}
	agent := NewAgent("researcher", searchTools(t), oracle, nil, WithMaxIterations(3))

	outcome := agent.Execute(context.Background(), "Find something", nil)

	assert.False(t, outcome.Success)
	assert.Equal(t, "Aborted", outcome.Reason)
	assert.Equal(t, 3, outcome.Iterations)
	require.Len(t, outcome.History, 3)
	assert.Equal(t, DecisionContinue, outcome.History[0].Decision)
	assert.Equal(t, DecisionContinue, outcome.History[1].Decision)
	assert.Equal(t, DecisionAbort, outcome.History[2].Decision)
}

func TestObserveFailureKeepsRawResult(t *testing.T) {
	calls := 0
	oracle := OracleFunc(func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Think through"):
			return searchThinkResponse(), nil
		case strings.Contains(prompt, "Analyze the execution"):
			calls++
			return "", errors.New("timeout")
		default:
			return reflectResponse(true, 0.9, nil, nil), nil
		}
	})
	agent := NewAgent("researcher", searchTools(t), oracle, nil)

	outcome := agent.Execute(context.Background(), "Find something", nil)

	require.True(t, outcome.Success)
	assert.Equal(t, 1, calls)
	assert.NotNil(t, outcome.Result["raw_result"])
	assert.Equal(t, "timeout", outcome.Result["error"])
}

func TestExperiencesPersistToStore(t *testing.T) {
	store, err := memory.NewL3Experiences(t.TempDir())
	require.NoError(t, err)

	oracle := &scriptedOracle{
		think:   searchThinkResponse(),
		observe: "{}",
		reflect: reflectResponse(true, 0.9, []string{"cache the results"}, nil),
	}
	agent := NewAgent("researcher", searchTools(t), oracle, nil,
		WithExperienceStore(store))

	outcome := agent.Execute(context.Background(), "Find something", nil)
	require.True(t, outcome.Success)

	stored, err := store.RetrieveRecent("researcher", 10, "react-cycle")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestParseJSONLadder(t *testing.T) {
	direct := parseJSON(`{"a": 1}`)
	assert.Equal(t, float64(1), direct["a"])

	fenced := parseJSON("Here you go:\n```json\n{\"b\": 2}\n```\nDone.")
	assert.Equal(t, float64(2), fenced["b"])

	bare := parseJSON("```\n{\"c\": 3}\n```")
	assert.Equal(t, float64(3), bare["c"])

	embedded := parseJSON(`The answer is {"d": "brace } inside"} as requested.`)
	assert.Equal(t, "brace } inside", embedded["d"])

	assert.Empty(t, parseJSON("no json here at all"))
}

func TestSelectTool(t *testing.T) {
	tests := []struct {
		description string
		tool        string
	}{
		{"Search the web for docs", "web_search"},
		{"find the root cause", "web_search"},
		{"Fetch the page", "web_fetch"},
		{"read the changelog", "web_fetch"},
		{"summarize the findings", "summarize"},
		{"deploy to production", "default"},
	}
	for _, tt := range tests {
		tool, _ := selectTool(map[string]any{"description": tt.description})
		assert.Equal(t, tt.tool, tool, tt.description)
	}
}

func TestHistorySerialization(t *testing.T) {
	oracle := &scriptedOracle{
		think:   searchThinkResponse(),
		observe: "{}",
		reflect: reflectResponse(true, 0.9, nil, nil),
	}
	agent := NewAgent("researcher", searchTools(t), oracle, nil)

	outcome := agent.Execute(context.Background(), "Find something", nil)
	require.True(t, outcome.Success)

	data, err := json.Marshal(outcome)
	require.NoError(t, err)
	serialized := string(data)
	assert.Contains(t, serialized, `"decision":"complete"`)
	for _, phase := range []string{PhaseThink, PhaseAct, PhaseObserve, PhaseReflect, PhaseAdapt} {
		assert.Contains(t, serialized, fmt.Sprintf(`"phase":%q`, phase))
	}
	// Phase outputs stay out of the serialized history.
	assert.NotContains(t, serialized, "selectedOption")
}

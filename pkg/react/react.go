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

// Package react drives an agent through Think, Act, Observe, Reflect,
// and Adapt cycles. Each cycle consults an oracle for analysis and
// evaluation, invokes one tool, and ends with a decision: continue,
// pivot, abort, or complete. Lessons surfaced during Reflect become
// experiences persisted through an injected store.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ===== PHASES & DECISIONS =====

// Cycle phases, in execution order.
const (
	PhaseThink   = "think"
	PhaseAct     = "act"
	PhaseObserve = "observe"
	PhaseReflect = "reflect"
	PhaseAdapt   = "adapt"
)

// Decisions the Adapt phase can reach.
const (
	DecisionContinue = "continue"
	DecisionPivot    = "pivot"
	DecisionAbort    = "abort"
	DecisionComplete = "complete"
)

const (
	// DefaultMaxIterations bounds the cycle loop.
	DefaultMaxIterations = 10

	// completeScoreBar is the minimum evaluation score for completion.
	completeScoreBar = 0.8

	// pivotIssueCount forces a pivot when exceeded.
	pivotIssueCount = 3

	maxPromptExperiences = 3
	maxPromptLessons     = 2
)

// ===== CONTRACTS =====

// Oracle produces a completion for a prompt. Implementations wrap an
// LLM provider; responses are expected to carry JSON.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(ctx context.Context, prompt string) (string, error)

func (f OracleFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Tool is one invocable capability available to the Act phase.
type Tool func(ctx context.Context, params map[string]any) (any, error)

// ExperienceStore persists what a cycle learned. The L3 experience
// store satisfies it directly.
type ExperienceStore interface {
	Store(agentID, experience, experienceType string, metadata map[string]any, score *float64) (string, error)
}

// ===== RESULT TYPES =====

// PhaseResult records one phase of a cycle. Output is working state for
// the next phase and is not serialized into history.
type PhaseResult struct {
	Phase      string         `json:"phase"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"-"`
	DurationMs float64        `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// Cycle is one full Think through Adapt pass.
type Cycle struct {
	Iteration int           `json:"iteration"`
	Phases    []PhaseResult `json:"phases"`
	Decision  string        `json:"decision"`

	finalOutput map[string]any
	reason      string
}

// Outcome is the result of a full execution.
type Outcome struct {
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Iterations int            `json:"iterations"`
	History    []Cycle        `json:"history"`
}

// Experience is a lesson package distilled from a reflective cycle.
type Experience struct {
	ID        string           `json:"id"`
	TaskType  string           `json:"taskType"`
	Task      string           `json:"taskDescription"`
	Outcome   map[string]any   `json:"outcome"`
	Lessons   []string         `json:"lessons"`
	Patterns  []map[string]any `json:"patterns"`
	Timestamp string           `json:"timestamp"`
}

// ===== AGENT =====

// Agent runs the five-phase loop. Not safe for concurrent Execute calls
// on the same instance.
type Agent struct {
	agentID       string
	tools         map[string]Tool
	oracle        Oracle
	store         ExperienceStore
	maxIterations int
	logger        *slog.Logger

	context     map[string]any
	experiences []Experience

	now func() time.Time
}

// Option customizes an Agent.
type Option func(*Agent)

// WithMaxIterations overrides the cycle bound.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithExperienceStore sets the persistence sink for recorded lessons.
func WithExperienceStore(store ExperienceStore) Option {
	return func(a *Agent) { a.store = store }
}

// NewAgent builds an agent over a tool set and an oracle.
func NewAgent(agentID string, tools map[string]Tool, oracle Oracle, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		agentID:       agentID,
		tools:         tools,
		oracle:        oracle,
		maxIterations: DefaultMaxIterations,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Experiences returns the lessons recorded so far, oldest first.
func (a *Agent) Experiences() []Experience {
	out := make([]Experience, len(a.experiences))
	copy(out, a.experiences)
	return out
}

// Execute runs the cycle loop until a terminal decision or the
// iteration bound.
func (a *Agent) Execute(ctx context.Context, task string, taskContext map[string]any) *Outcome {
	if taskContext == nil {
		taskContext = map[string]any{}
	}
	a.context = taskContext
	relevant := a.relevantExperiences()

	history := []Cycle{}
	for iteration := 0; iteration < a.maxIterations; iteration++ {
		cycle := a.runCycle(ctx, iteration, task, relevant)
		history = append(history, cycle)

		switch cycle.Decision {
		case DecisionComplete:
			a.logger.Info("task complete",
				slog.String("agent", a.agentID),
				slog.Int("iterations", iteration+1))
			return &Outcome{
				Success:    true,
				Result:     cycle.finalOutput,
				Iterations: iteration + 1,
				History:    history,
			}
		case DecisionAbort:
			reason := cycle.reason
			if reason == "" {
				reason = "Aborted"
			}
			a.logger.Warn("task aborted",
				slog.String("agent", a.agentID),
				slog.String("reason", reason))
			return &Outcome{
				Success:    false,
				Reason:     reason,
				Iterations: iteration + 1,
				History:    history,
			}
		}
	}

	return &Outcome{
		Success:    false,
		Reason:     "Max iterations exceeded",
		Iterations: a.maxIterations,
		History:    history,
	}
}

// runCycle executes one full pass. Think failure aborts; Act failure
// pivots; Observe and Reflect never fail the cycle.
func (a *Agent) runCycle(ctx context.Context, iteration int, task string, experiences []Experience) Cycle {
	cycle := Cycle{Iteration: iteration}

	think := a.think(ctx, task, experiences)
	cycle.Phases = append(cycle.Phases, think)
	if !think.Success {
		cycle.Decision = DecisionAbort
		cycle.reason = "Think phase failed"
		return cycle
	}

	act := a.act(ctx, think.Output)
	cycle.Phases = append(cycle.Phases, act)
	if !act.Success {
		cycle.Decision = DecisionPivot
		cycle.reason = "Act phase failed"
		return cycle
	}

	observe := a.observe(ctx, act.Output)
	cycle.Phases = append(cycle.Phases, observe)

	reflect := a.reflect(ctx, task, think.Output, act.Output, observe.Output)
	cycle.Phases = append(cycle.Phases, reflect)

	adapt := a.adapt(iteration, reflect.Output)
	cycle.Phases = append(cycle.Phases, adapt)

	if lessons := stringSlice(reflect.Output["lessons"]); len(lessons) > 0 {
		a.recordExperience(task, reflect.Output, lessons)
	}

	cycle.Decision, _ = adapt.Output["decision"].(string)
	if cycle.Decision == "" {
		cycle.Decision = DecisionContinue
	}
	if cycle.Decision == DecisionComplete {
		cycle.finalOutput = observe.Output
	}
	return cycle
}

// ===== PHASE IMPLEMENTATIONS =====

func (a *Agent) think(ctx context.Context, task string, experiences []Experience) PhaseResult {
	start := a.now()
	prompt := fmt.Sprintf(thinkPrompt, task, formatExperiences(experiences), indentJSON(a.context))

	response, err := a.oracle.Complete(ctx, prompt)
	if err != nil {
		return phaseFailure(PhaseThink, start, err)
	}
	output := parseJSON(response)
	if len(output) == 0 {
		return phaseFailure(PhaseThink, start, fmt.Errorf("oracle returned no parseable JSON"))
	}
	return phaseSuccess(PhaseThink, start, output)
}

func (a *Agent) act(ctx context.Context, thinkOutput map[string]any) PhaseResult {
	start := a.now()

	selected, _ := thinkOutput["selectedOption"].(string)
	if selected == "" {
		selected = "option-1"
	}
	option := findOption(thinkOutput["options"], selected)
	if option == nil {
		return phaseFailure(PhaseAct, start, fmt.Errorf("No option selected"))
	}

	toolName, params := selectTool(option)
	tool, ok := a.tools[toolName]
	if !ok {
		return phaseFailure(PhaseAct, start, fmt.Errorf("Tool not found: %s", toolName))
	}

	result, err := tool(ctx, params)
	if err != nil {
		return phaseFailure(PhaseAct, start, err)
	}
	return phaseSuccess(PhaseAct, start, map[string]any{
		"tool":   toolName,
		"params": params,
		"result": result,
	})
}

// observe analyzes the tool result. An oracle failure here does not
// fail the cycle; the raw result is preserved either way.
func (a *Agent) observe(ctx context.Context, actOutput map[string]any) PhaseResult {
	start := a.now()
	result := actOutput["result"]
	prompt := fmt.Sprintf(observePrompt, indentJSON(result))

	response, err := a.oracle.Complete(ctx, prompt)
	if err != nil {
		return phaseSuccess(PhaseObserve, start, map[string]any{
			"raw_result": result,
			"error":      err.Error(),
		})
	}
	output := parseJSON(response)
	output["raw_result"] = result
	return phaseSuccess(PhaseObserve, start, output)
}

// reflect evaluates the cycle. An oracle failure yields a failed
// evaluation rather than a failed phase.
func (a *Agent) reflect(ctx context.Context, task string, think, act, observe map[string]any) PhaseResult {
	start := a.now()
	prompt := fmt.Sprintf(reflectPrompt, task, indentJSON(think), indentJSON(act), indentJSON(observe))

	response, err := a.oracle.Complete(ctx, prompt)
	if err != nil {
		phase := phaseSuccess(PhaseReflect, start, map[string]any{
			"evaluation": map[string]any{"success": false},
			"lessons":    []any{},
		})
		phase.Error = err.Error()
		return phase
	}
	return phaseSuccess(PhaseReflect, start, parseJSON(response))
}

func (a *Agent) adapt(iteration int, reflectOutput map[string]any) PhaseResult {
	start := a.now()

	evaluation, _ := reflectOutput["evaluation"].(map[string]any)
	success, _ := evaluation["success"].(bool)
	score := toFloat(evaluation["score"])
	issues, _ := reflectOutput["issues"].([]any)

	var decision string
	switch {
	case success && score >= completeScoreBar:
		decision = DecisionComplete
	case len(issues) > pivotIssueCount || anyHighSeverity(issues):
		decision = DecisionPivot
	case iteration >= a.maxIterations-1:
		decision = DecisionAbort
	default:
		decision = DecisionContinue
	}

	return phaseSuccess(PhaseAdapt, start, map[string]any{
		"decision": decision,
		"reason":   fmt.Sprintf("Score: %v, Issues: %d", score, len(issues)),
	})
}

// ===== EXPERIENCES =====

func (a *Agent) relevantExperiences() []Experience {
	if len(a.experiences) > 5 {
		return a.experiences[:5]
	}
	return a.experiences
}

func (a *Agent) recordExperience(task string, reflectOutput map[string]any, lessons []string) {
	evaluation, _ := reflectOutput["evaluation"].(map[string]any)
	exp := Experience{
		ID:        "exp-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		TaskType:  "general",
		Task:      task,
		Outcome:   map[string]any{"evaluation": evaluation},
		Lessons:   lessons,
		Patterns:  []map[string]any{},
		Timestamp: a.now().Format(time.RFC3339),
	}
	a.experiences = append(a.experiences, exp)

	if a.store == nil {
		return
	}
	var score *float64
	if raw, ok := evaluation["score"]; ok {
		v := toFloat(raw)
		score = &v
	}
	if _, err := a.store.Store(a.agentID, task, "react-cycle", map[string]any{
		"lessons":    lessons,
		"evaluation": evaluation,
	}, score); err != nil {
		a.logger.Warn("experience store failed",
			slog.String("agent", a.agentID),
			slog.String("error", err.Error()))
	}
}

func formatExperiences(experiences []Experience) string {
	if len(experiences) == 0 {
		return "No relevant experiences found."
	}
	var lines []string
	for i, exp := range experiences {
		if i >= maxPromptExperiences {
			break
		}
		lines = append(lines, "- "+exp.Task)
		for j, lesson := range exp.Lessons {
			if j >= maxPromptLessons {
				break
			}
			lines = append(lines, "  * "+lesson)
		}
	}
	return strings.Join(lines, "\n")
}

// ===== HELPERS =====

// selectTool maps an option description to a tool by keyword.
func selectTool(option map[string]any) (string, map[string]any) {
	desc, _ := option["description"].(string)
	desc = strings.ToLower(desc)

	switch {
	case strings.Contains(desc, "search") || strings.Contains(desc, "find"):
		return "web_search", map[string]any{"query": desc}
	case strings.Contains(desc, "fetch") || strings.Contains(desc, "read"):
		return "web_fetch", map[string]any{"url": ""}
	case strings.Contains(desc, "summarize"):
		return "summarize", map[string]any{"content": ""}
	default:
		return "default", map[string]any{}
	}
}

func findOption(options any, id string) map[string]any {
	list, _ := options.([]any)
	for _, item := range list {
		option, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if optionID, _ := option["id"].(string); optionID == id {
			return option
		}
	}
	return nil
}

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// parseJSON decodes an oracle response leniently: direct JSON first,
// then a fenced code block, then the first balanced object. Anything
// else yields an empty map.
func parseJSON(text string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil && out != nil {
		return out
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil && out != nil {
			return out
		}
	}
	if block := firstBalancedObject(text); block != "" {
		if err := json.Unmarshal([]byte(block), &out); err == nil && out != nil {
			return out
		}
	}
	return map[string]any{}
}

// firstBalancedObject returns the first brace-balanced substring,
// tracking string literals so braces inside values don't miscount.
func firstBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func anyHighSeverity(issues []any) bool {
	for _, item := range issues {
		issue, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if severity, _ := issue["severity"].(string); severity == "high" {
			return true
		}
	}
	return false
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func indentJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func phaseSuccess(phase string, start time.Time, output map[string]any) PhaseResult {
	return PhaseResult{
		Phase:      phase,
		Success:    true,
		Output:     output,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

func phaseFailure(phase string, start time.Time, err error) PhaseResult {
	return PhaseResult{
		Phase:      phase,
		Success:    false,
		Output:     map[string]any{},
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Error:      err.Error(),
	}
}

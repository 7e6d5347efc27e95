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

// Package scheduler drains the evolution queue during idle time. Four
// priority tiers are checked in order, one task per cycle; each claimed
// task is handed to an external executor and its result is written back
// to the queue file and into memory.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clawos/brain/pkg/memory"
)

// ===== CONSTANTS =====

const (
	// DefaultCheckInterval is the pause between daemon cycles.
	DefaultCheckInterval = 15 * time.Minute

	// DefaultIdleMinutes is how long the system must sit quiet before
	// evolution tasks may run.
	DefaultIdleMinutes = 15

	// DefaultExecTimeout bounds one executor invocation.
	DefaultExecTimeout = 300 * time.Second

	// stdoutExcerptLen caps how much executor output reaches memory.
	stdoutExcerptLen = 500

	stateFileName  = "scheduler-state.json"
	schemaFileName = "schema.json"
)

// priorityFiles maps each tier to its queue file.
var priorityFiles = map[string]string{
	"P1": "p1-knowledge.json",
	"P2": "p2-training.json",
	"P3": "p3-exploration.json",
	"P4": "p4-soul-drafts.json",
}

// defaultOrder is used when the queue directory carries no schema.
var defaultOrder = []string{"P1", "P2", "P3", "P4"}

// agentByTaskType routes each evolution task type to its handling agent.
var agentByTaskType = map[string]string{
	"knowledge-update":    "platform-pm",
	"skill-training":      "coding-pm",
	"capability-training": "coding-pm",
	"domain-exploration":  "research-pm",
	"soul-draft":          "platform-pm",
}

const defaultAgent = "gm"

// ===== TYPES =====

// Task is one queued evolution task.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	StartedAt   string         `json:"startedAt,omitempty"`
	CompletedAt string         `json:"completedAt,omitempty"`
	Result      *ExecResult    `json:"result,omitempty"`
}

// Queue is one tier's task buckets.
type Queue struct {
	Priority    string  `json:"priority"`
	Tasks       []*Task `json:"tasks"`
	Processing  []*Task `json:"processing"`
	Completed   []*Task `json:"completed"`
	LastUpdated string  `json:"lastUpdated,omitempty"`
}

// Stats counts processed tasks per tier.
type Stats struct {
	TotalTasksProcessed int `json:"totalTasksProcessed"`
	P1Completed         int `json:"p1Completed"`
	P2Completed         int `json:"p2Completed"`
	P3Completed         int `json:"p3Completed"`
	P4Completed         int `json:"p4Completed"`
}

// State is the scheduler's persisted bookkeeping.
type State struct {
	Version              string `json:"version"`
	Status               string `json:"status"`
	LastCheck            string `json:"lastCheck,omitempty"`
	LastActivity         string `json:"lastActivity,omitempty"`
	IdleThresholdMinutes int    `json:"idleThresholdMinutes"`
	CheckIntervalMinutes int    `json:"checkIntervalMinutes"`
	Stats                Stats  `json:"stats"`
}

type schema struct {
	PriorityOrder []string `json:"priorityOrder"`
}

// QueueCounts summarizes one tier.
type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
}

// Overview reports scheduler stats plus per-tier queue depths.
type Overview struct {
	Scheduler Stats                  `json:"scheduler"`
	Queues    map[string]QueueCounts `json:"queues"`
}

// ===== SCHEDULER =====

// Scheduler owns the queue directory and the claim/execute/complete
// cycle. Not safe for concurrent cycles on the same instance.
type Scheduler struct {
	queueDir string
	executor Executor
	memory   *memory.Manager
	logger   *slog.Logger

	state       *State
	order       []string
	execTimeout time.Duration

	overrideCheck int
	overrideIdle  int

	now func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithMemory wires task results into the memory hierarchy.
func WithMemory(m *memory.Manager) Option {
	return func(s *Scheduler) { s.memory = m }
}

// WithExecTimeout overrides the per-task executor timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.execTimeout = d
		}
	}
}

// WithIntervals overrides the check interval and idle threshold, in
// minutes, regardless of what persisted state says.
func WithIntervals(checkMinutes, idleMinutes int) Option {
	return func(s *Scheduler) {
		s.overrideCheck = checkMinutes
		s.overrideIdle = idleMinutes
	}
}

// New opens a scheduler over a queue directory, loading prior state and
// the priority-order schema when present.
func New(queueDir string, executor Executor, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		queueDir:    queueDir,
		executor:    executor,
		logger:      logger,
		execTimeout: DefaultExecTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(queueDir, 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	s.state = s.loadState()
	s.order = s.loadOrder()
	if s.overrideCheck > 0 {
		s.state.CheckIntervalMinutes = s.overrideCheck
	}
	if s.overrideIdle > 0 {
		s.state.IdleThresholdMinutes = s.overrideIdle
	}
	return s, nil
}

func (s *Scheduler) loadState() *State {
	data, err := os.ReadFile(filepath.Join(s.queueDir, stateFileName))
	if err == nil {
		var state State
		if json.Unmarshal(data, &state) == nil {
			return &state
		}
	}
	return &State{
		Version:              "1.0.0",
		Status:               "active",
		LastActivity:         s.now().Format(time.RFC3339),
		IdleThresholdMinutes: DefaultIdleMinutes,
		CheckIntervalMinutes: int(DefaultCheckInterval / time.Minute),
	}
}

func (s *Scheduler) loadOrder() []string {
	data, err := os.ReadFile(filepath.Join(s.queueDir, schemaFileName))
	if err == nil {
		var sc schema
		if json.Unmarshal(data, &sc) == nil && len(sc.PriorityOrder) > 0 {
			return sc.PriorityOrder
		}
	}
	return defaultOrder
}

func (s *Scheduler) saveState() error {
	return writeJSON(filepath.Join(s.queueDir, stateFileName), s.state)
}

// State returns a copy of the current bookkeeping.
func (s *Scheduler) State() State { return *s.state }

// RecordActivity marks the system busy, deferring evolution work for
// another idle window.
func (s *Scheduler) RecordActivity() error {
	s.state.LastActivity = s.now().Format(time.RFC3339)
	return s.saveState()
}

// Idle reports whether the quiet period has elapsed since the last
// recorded activity. Unparseable timestamps count as idle.
func (s *Scheduler) Idle() bool {
	if s.state.LastActivity == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, s.state.LastActivity)
	if err != nil {
		return true
	}
	threshold := time.Duration(s.state.IdleThresholdMinutes) * time.Minute
	return s.now().Sub(last) > threshold
}

// ===== QUEUE OPERATIONS =====

// LoadQueue reads one tier's queue, returning an empty queue when the
// file is missing or unreadable.
func (s *Scheduler) LoadQueue(priority string) *Queue {
	empty := &Queue{Priority: priority, Tasks: []*Task{}, Processing: []*Task{}, Completed: []*Task{}}
	file, ok := priorityFiles[priority]
	if !ok {
		return empty
	}
	data, err := os.ReadFile(filepath.Join(s.queueDir, file))
	if err != nil {
		return empty
	}
	var queue Queue
	if err := json.Unmarshal(data, &queue); err != nil {
		return empty
	}
	queue.Priority = priority
	return &queue
}

func (s *Scheduler) saveQueue(priority string, queue *Queue) error {
	file, ok := priorityFiles[priority]
	if !ok {
		return fmt.Errorf("unknown priority %q", priority)
	}
	queue.LastUpdated = s.now().Format(time.RFC3339)
	return writeJSON(filepath.Join(s.queueDir, file), queue)
}

// NextTask returns the first pending task in a tier, or nil.
func (s *Scheduler) NextTask(priority string) *Task {
	for _, task := range s.LoadQueue(priority).Tasks {
		if task.Status == "pending" {
			return task
		}
	}
	return nil
}

// MoveToProcessing claims a pending task.
func (s *Scheduler) MoveToProcessing(priority, taskID string) (*Task, error) {
	queue := s.LoadQueue(priority)
	var claimed *Task
	for i, task := range queue.Tasks {
		if task.ID == taskID {
			claimed = task
			queue.Tasks = append(queue.Tasks[:i], queue.Tasks[i+1:]...)
			break
		}
	}
	if claimed == nil {
		return nil, fmt.Errorf("task %s not pending in %s", taskID, priority)
	}
	claimed.Status = "processing"
	claimed.AssignedTo = "evolution-scheduler"
	claimed.StartedAt = s.now().Format(time.RFC3339)
	claimed.Priority = priority
	queue.Processing = append(queue.Processing, claimed)
	if err := s.saveQueue(priority, queue); err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteTask moves a processing task to completed and bumps the tier
// counters.
func (s *Scheduler) CompleteTask(priority, taskID string, result *ExecResult) error {
	queue := s.LoadQueue(priority)
	var done *Task
	for i, task := range queue.Processing {
		if task.ID == taskID {
			done = task
			queue.Processing = append(queue.Processing[:i], queue.Processing[i+1:]...)
			break
		}
	}
	if done == nil {
		return fmt.Errorf("task %s not processing in %s", taskID, priority)
	}
	done.Status = "completed"
	done.CompletedAt = s.now().Format(time.RFC3339)
	done.Result = result
	queue.Completed = append(queue.Completed, done)
	if err := s.saveQueue(priority, queue); err != nil {
		return err
	}

	s.state.Stats.TotalTasksProcessed++
	switch priority {
	case "P1":
		s.state.Stats.P1Completed++
	case "P2":
		s.state.Stats.P2Completed++
	case "P3":
		s.state.Stats.P3Completed++
	case "P4":
		s.state.Stats.P4Completed++
	}
	return s.saveState()
}

// Overview reports stats and queue depths across every tier.
func (s *Scheduler) Overview() *Overview {
	overview := &Overview{Scheduler: s.state.Stats, Queues: map[string]QueueCounts{}}
	for priority := range priorityFiles {
		queue := s.LoadQueue(priority)
		overview.Queues[priority] = QueueCounts{
			Pending:    len(queue.Tasks),
			Processing: len(queue.Processing),
			Completed:  len(queue.Completed),
		}
	}
	return overview
}

// ===== EXECUTION =====

// AgentFor maps a task type to the agent that handles it.
func AgentFor(taskType string) string {
	if agent, ok := agentByTaskType[taskType]; ok {
		return agent
	}
	return defaultAgent
}

// Instruction composes the message handed to the executing agent.
func Instruction(task *Task) string {
	action, _ := task.Payload["action"].(string)
	if action == "" {
		action = "execute"
	}
	target, _ := task.Payload["target"].(string)
	source, _ := task.Payload["source"].(string)

	var b strings.Builder
	fmt.Fprintf(&b, "[Evolution Task: %s]\n", task.ID)
	fmt.Fprintf(&b, "Type: %s\n", task.Type)
	fmt.Fprintf(&b, "Action: %s\n", action)
	fmt.Fprintf(&b, "Target: %s\n", orNotSpecified(target))
	fmt.Fprintf(&b, "Source: %s\n\n", orNotSpecified(source))
	fmt.Fprintf(&b, "Please perform the '%s' action for the evolution system.", action)
	if target != "" {
		fmt.Fprintf(&b, "\nFocus on: %s", target)
	}
	return b.String()
}

func orNotSpecified(value string) string {
	if value == "" {
		return "not specified"
	}
	return value
}

// ExecuteTask runs one claimed task through the executor, bounded by
// the execution timeout. Executor failures become failed results, never
// errors; the scheduler must survive any executor behavior.
func (s *Scheduler) ExecuteTask(ctx context.Context, task *Task) *ExecResult {
	agent := AgentFor(task.Type)
	instruction := Instruction(task)

	execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	result, err := s.executor.Run(execCtx, agent, instruction)
	if err != nil {
		message := err.Error()
		if execCtx.Err() == context.DeadlineExceeded {
			message = "Task execution timed out"
			s.logger.Warn("executor timed out",
				slog.String("task", task.ID),
				slog.Duration("timeout", s.execTimeout))
		}
		result = &ExecResult{Success: false, Error: message}
	}
	if result == nil {
		result = &ExecResult{Success: false, Error: "executor returned no result"}
	}
	result.Agent = agent
	result.ExecutedAt = s.now().Format(time.RFC3339)

	s.storeInMemory(task, agent, instruction, result)
	return result
}

// storeInMemory records the outcome through the layered store. Memory
// failures are logged and swallowed.
func (s *Scheduler) storeInMemory(task *Task, agent, instruction string, result *ExecResult) {
	if s.memory == nil {
		return
	}
	status := "completed"
	output := result.Stdout
	if !result.Success {
		status = "failed"
		if result.Error != "" {
			output = result.Error
		}
	}
	if len(output) > stdoutExcerptLen {
		output = output[:stdoutExcerptLen]
	}
	_, err := s.memory.StoreTaskResult(&memory.TaskResult{
		TaskID:      task.ID,
		AgentID:     agent,
		Type:        task.Type,
		Description: instruction,
		Status:      status,
		Output:      output,
	})
	if err != nil {
		s.logger.Warn("memory store failed",
			slog.String("task", task.ID),
			slog.String("error", err.Error()))
	}
}

// ===== CYCLE =====

// RunCycle performs one scheduling pass: record the check, verify
// idleness, claim the highest-priority pending task, execute it, and
// complete it. Returns the processed task, or nil when nothing ran.
func (s *Scheduler) RunCycle(ctx context.Context) (*Task, error) {
	s.state.LastCheck = s.now().Format(time.RFC3339)
	if err := s.saveState(); err != nil {
		return nil, err
	}

	if !s.Idle() {
		s.logger.Debug("system busy, skipping cycle")
		return nil, nil
	}

	for _, priority := range s.order {
		next := s.NextTask(priority)
		if next == nil {
			continue
		}
		claimed, err := s.MoveToProcessing(priority, next.ID)
		if err != nil {
			s.logger.Warn("claim failed",
				slog.String("task", next.ID),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("executing evolution task",
			slog.String("task", claimed.ID),
			slog.String("priority", priority),
			slog.String("type", claimed.Type))

		result := s.ExecuteTask(ctx, claimed)
		if err := s.CompleteTask(priority, claimed.ID, result); err != nil {
			return claimed, err
		}
		s.logger.Info("evolution task finished",
			slog.String("task", claimed.ID),
			slog.Bool("success", result.Success))
		return claimed, nil
	}
	return nil, nil
}

// Run loops cycles until the context is cancelled. Cycle errors are
// logged and never stop the daemon; the inter-cycle sleep is sliced so
// cancellation latency stays around a second.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.state.CheckIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	s.logger.Info("evolution scheduler started",
		slog.Duration("interval", interval))

	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.Error("cycle failed", slog.String("error", err.Error()))
		}
		if !sleepSliced(ctx, interval) {
			s.logger.Info("evolution scheduler stopped")
			return ctx.Err()
		}
	}
}

// sleepSliced waits for the interval in one-second steps, returning
// false as soon as the context is cancelled.
func sleepSliced(ctx context.Context, interval time.Duration) bool {
	deadline := time.Now().Add(interval)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
	return true
}

// writeJSON writes atomically via a temp file rename.
func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

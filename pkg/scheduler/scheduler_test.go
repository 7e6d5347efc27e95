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

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawos/brain/pkg/memory"
)

var schedulerNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func okExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, agent, instruction string) (*ExecResult, error) {
		return &ExecResult{Success: true, Stdout: "done"}, nil
	})
}

func newTestScheduler(t *testing.T, executor Executor, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(t.TempDir(), executor, nil, opts...)
	require.NoError(t, err)
	s.now = func() time.Time { return schedulerNow }
	// A fresh state starts at "just active"; clear it so cycles run.
	s.state.LastActivity = ""
	return s
}

func writeQueue(t *testing.T, s *Scheduler, priority string, tasks ...*Task) {
	t.Helper()
	queue := &Queue{Priority: priority, Tasks: tasks, Processing: []*Task{}, Completed: []*Task{}}
	require.NoError(t, s.saveQueue(priority, queue))
}

func pendingTask(id, taskType string) *Task {
	return &Task{
		ID:     id,
		Type:   taskType,
		Status: "pending",
		Payload: map[string]any{
			"action": "update",
			"target": "docs/index.md",
		},
	}
}

func TestRunCycleProcessesHighestPriorityFirst(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	writeQueue(t, s, "P2", pendingTask("evo-2", "skill-training"))
	writeQueue(t, s, "P3", pendingTask("evo-3", "domain-exploration"))

	task, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "evo-2", task.ID)
	assert.Equal(t, "P2", task.Priority)

	queue := s.LoadQueue("P2")
	assert.Empty(t, queue.Tasks)
	assert.Empty(t, queue.Processing)
	require.Len(t, queue.Completed, 1)
	assert.Equal(t, "completed", queue.Completed[0].Status)
	require.NotNil(t, queue.Completed[0].Result)
	assert.True(t, queue.Completed[0].Result.Success)

	state := s.State()
	assert.Equal(t, 1, state.Stats.TotalTasksProcessed)
	assert.Equal(t, 1, state.Stats.P2Completed)
	assert.Equal(t, 0, state.Stats.P3Completed)
}

func TestOneTaskPerCycle(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	writeQueue(t, s, "P1",
		pendingTask("evo-a", "knowledge-update"),
		pendingTask("evo-b", "knowledge-update"))

	first, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "evo-a", first.ID)
	require.Len(t, s.LoadQueue("P1").Tasks, 1)

	second, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "evo-b", second.ID)

	third, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, third)
	assert.Equal(t, 2, s.State().Stats.P1Completed)
}

func TestBusySystemSkipsCycle(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	writeQueue(t, s, "P1", pendingTask("evo-a", "knowledge-update"))
	require.NoError(t, s.RecordActivity())

	task, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)

	// Sixteen minutes of quiet is past the idle threshold.
	s.now = func() time.Time { return schedulerNow.Add(16 * time.Minute) }
	task, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "evo-a", task.ID)
}

func TestExecutorFailureStillCompletes(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent, instruction string) (*ExecResult, error) {
		return nil, errors.New("agent crashed")
	})
	s := newTestScheduler(t, executor)
	writeQueue(t, s, "P1", pendingTask("evo-a", "knowledge-update"))

	task, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)

	completed := s.LoadQueue("P1").Completed
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Result)
	assert.False(t, completed[0].Result.Success)
	assert.Equal(t, "agent crashed", completed[0].Result.Error)
	assert.Equal(t, 1, s.State().Stats.TotalTasksProcessed)
}

func TestExecutorTimeout(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent, instruction string) (*ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := newTestScheduler(t, executor, WithExecTimeout(50*time.Millisecond))
	writeQueue(t, s, "P1", pendingTask("evo-a", "knowledge-update"))

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	completed := s.LoadQueue("P1").Completed
	require.Len(t, completed, 1)
	assert.False(t, completed[0].Result.Success)
	assert.Equal(t, "Task execution timed out", completed[0].Result.Error)
}

func TestSchemaOverridesPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	schema := []byte(`{"priorityOrder": ["P4", "P1"]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.json"), schema, 0644))

	s, err := New(dir, okExecutor(), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return schedulerNow }
	s.state.LastActivity = ""
	writeQueue(t, s, "P1", pendingTask("evo-1", "knowledge-update"))
	writeQueue(t, s, "P4", pendingTask("evo-4", "soul-draft"))

	task, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "evo-4", task.ID)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, okExecutor(), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return schedulerNow }
	s.state.LastActivity = ""
	writeQueue(t, s, "P1", pendingTask("evo-a", "knowledge-update"))

	_, err = s.RunCycle(context.Background())
	require.NoError(t, err)

	reopened, err := New(dir, okExecutor(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.State().Stats.TotalTasksProcessed)
	assert.Equal(t, 1, reopened.State().Stats.P1Completed)
}

func TestAgentFor(t *testing.T) {
	tests := []struct {
		taskType string
		agent    string
	}{
		{"knowledge-update", "platform-pm"},
		{"skill-training", "coding-pm"},
		{"capability-training", "coding-pm"},
		{"domain-exploration", "research-pm"},
		{"soul-draft", "platform-pm"},
		{"anything-else", "gm"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.agent, AgentFor(tt.taskType), tt.taskType)
	}
}

func TestInstruction(t *testing.T) {
	task := pendingTask("evo-a", "knowledge-update")
	text := Instruction(task)

	assert.Contains(t, text, "[Evolution Task: evo-a]")
	assert.Contains(t, text, "Type: knowledge-update")
	assert.Contains(t, text, "Action: update")
	assert.Contains(t, text, "Focus on: docs/index.md")
	assert.Contains(t, text, "Source: not specified")

	bare := Instruction(&Task{ID: "evo-b", Type: "soul-draft"})
	assert.Contains(t, bare, "Action: execute")
	assert.Contains(t, bare, "Target: not specified")
	assert.NotContains(t, bare, "Focus on:")
}

func TestOverviewCountsQueues(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	writeQueue(t, s, "P1",
		pendingTask("evo-a", "knowledge-update"),
		pendingTask("evo-b", "knowledge-update"))

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	overview := s.Overview()
	assert.Equal(t, 1, overview.Queues["P1"].Pending)
	assert.Equal(t, 0, overview.Queues["P1"].Processing)
	assert.Equal(t, 1, overview.Queues["P1"].Completed)
	assert.Equal(t, 1, overview.Scheduler.TotalTasksProcessed)
}

func TestResultsFlowIntoMemory(t *testing.T) {
	dir := t.TempDir()
	history, err := memory.NewL2History(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer history.Close()
	recall, err := memory.NewL3Experiences(filepath.Join(dir, "experiences"))
	require.NoError(t, err)
	manager := memory.NewManager(memory.NewL1Session("evolution"), history, recall, nil, nil)

	s := newTestScheduler(t, okExecutor(), WithMemory(manager))
	writeQueue(t, s, "P1", pendingTask("evo-a", "knowledge-update"))

	_, err = s.RunCycle(context.Background())
	require.NoError(t, err)

	stored, err := recall.RetrieveRecent("platform-pm", 10, "task")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestLoadQueueToleratesCorruptFile(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	path := filepath.Join(s.queueDir, "p1-knowledge.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	queue := s.LoadQueue("P1")
	assert.Empty(t, queue.Tasks)
	assert.Equal(t, "P1", queue.Priority)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	s.state.CheckIntervalMinutes = 60

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestQueueFileShapeOnDisk(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	writeQueue(t, s, "P4", pendingTask("evo-4", "soul-draft"))

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.queueDir, "p4-soul-drafts.json"))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "P4", raw["priority"])
	assert.NotEmpty(t, raw["lastUpdated"])
	assert.Len(t, raw["completed"], 1)
}

func TestMoveToProcessingUnknownTask(t *testing.T) {
	s := newTestScheduler(t, okExecutor())
	_, err := s.MoveToProcessing("P1", "ghost")
	require.Error(t, err)
}

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

package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sweepNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestSweeper(t *testing.T) (*Sweeper, string) {
	t.Helper()
	root := t.TempDir()
	s := NewSweeper(root, nil)
	s.now = func() time.Time { return sweepNow }
	return s, root
}

func writeTask(t *testing.T, root, id string, task map[string]any) {
	t.Helper()
	writeJSON(t, filepath.Join(root, "tasks", id, "task.json"), task)
}

func stamp(age time.Duration) string {
	return sweepNow.Add(-age).Format(time.RFC3339)
}

func TestSweepFlagsStuckAndTimedOut(t *testing.T) {
	s, root := newTestSweeper(t)

	// Pending for 5h: past the 4h stuck threshold and the P1 4h timeout.
	writeTask(t, root, "task-a", map[string]any{
		"status": "pending", "priority": "P1", "updatedAt": stamp(5 * time.Hour),
	})
	// Executing for 3h: within every threshold.
	writeTask(t, root, "task-b", map[string]any{
		"status": "executing", "priority": "P2", "updatedAt": stamp(3 * time.Hour),
	})

	report, err := s.Sweep()

	require.NoError(t, err)
	assert.Equal(t, 2, report.TasksChecked)
	require.Len(t, report.TimedOutTasks, 1)
	assert.Equal(t, "task-a", report.TimedOutTasks[0].TaskID)
	assert.Contains(t, report.TimedOutTasks[0].Issue, "P1")
	require.Len(t, report.StuckTasks, 1)
	assert.Equal(t, "task-a", report.StuckTasks[0].TaskID)
	assert.False(t, report.Healthy)
	assert.Len(t, report.CriticalIssues, 2)
}

func TestSweepSkipsTerminalStates(t *testing.T) {
	s, root := newTestSweeper(t)

	for _, status := range []string{"completed", "failed", "cancelled", "archived"} {
		writeTask(t, root, "task-"+status, map[string]any{
			"status": status, "priority": "P0", "updatedAt": stamp(100 * time.Hour),
		})
	}

	report, err := s.Sweep()

	require.NoError(t, err)
	assert.Equal(t, 0, report.TasksChecked)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.CriticalIssues)
}

func TestSweepPriorityTimeouts(t *testing.T) {
	s, root := newTestSweeper(t)

	// P0 gets one hour; 90 minutes is over.
	writeTask(t, root, "task-p0", map[string]any{
		"status": "executing", "priority": "P0", "updatedAt": stamp(90 * time.Minute),
	})
	// P3 gets 72 hours; 48 is fine.
	writeTask(t, root, "task-p3", map[string]any{
		"status": "executing", "priority": "P3", "updatedAt": stamp(48 * time.Hour),
	})
	// Unknown priority falls back to 24h.
	writeTask(t, root, "task-px", map[string]any{
		"status": "executing", "priority": "P9", "updatedAt": stamp(30 * time.Hour),
	})

	report, err := s.Sweep()

	require.NoError(t, err)
	ids := make([]string, 0, len(report.TimedOutTasks))
	for _, st := range report.TimedOutTasks {
		ids = append(ids, st.TaskID)
	}
	assert.ElementsMatch(t, []string{"task-p0", "task-px"}, ids)
}

func TestSweepReadsStatusFrontmatter(t *testing.T) {
	s, root := newTestSweeper(t)

	dir := filepath.Join(root, "tasks", "task-md")
	require.NoError(t, os.MkdirAll(dir, 0755))
	md := "---\nstatus: planning\nlast_updated: " + stamp(3*time.Hour) + "\n---\n# Status\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status.md"), []byte(md), 0644))

	report, err := s.Sweep()

	require.NoError(t, err)
	require.Len(t, report.StuckTasks, 1)
	assert.Equal(t, "task-md", report.StuckTasks[0].TaskID)
	assert.Contains(t, report.StuckTasks[0].Issue, "planning")
}

func TestSweepWritesReportFile(t *testing.T) {
	s, root := newTestSweeper(t)
	writeTask(t, root, "task-a", map[string]any{
		"status": "pending", "updatedAt": stamp(time.Hour),
	})

	_, err := s.Sweep()

	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "persistence", "health-reports", "timeout-check.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"check_type": "timeouts"`)
	assert.Contains(t, string(data), `"by_priority"`)
}

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
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clawos/brain/pkg/cerrors"
)

// Staleness thresholds. A task sitting in one of these states longer than
// its threshold is flagged; terminal states are never checked. The sweeper
// only reports: cancelling a stale task is the controlling pm's call.
var stuckThresholds = map[string]time.Duration{
	"pending":    4 * time.Hour,
	"planning":   2 * time.Hour,
	"executing":  24 * time.Hour,
	"validating": 4 * time.Hour,
}

// Priority timeouts: total wall clock a task of each priority gets before
// it is flagged regardless of state.
var priorityTimeouts = map[string]time.Duration{
	"P0": 1 * time.Hour,
	"P1": 4 * time.Hour,
	"P2": 24 * time.Hour,
	"P3": 72 * time.Hour,
}

const defaultTimeout = 24 * time.Hour

var terminalStates = map[string]bool{
	"completed": true,
	"failed":    true,
	"cancelled": true,
	"archived":  true,
}

// reportFile is where the sweep report lands, relative to the blackboard
// root.
const reportFile = "persistence/health-reports/timeout-check.json"

// StaleTask is one flagged task in a sweep report.
type StaleTask struct {
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority,omitempty"`
	ElapsedHours float64 `json:"elapsed_hours"`
	TimeoutHours float64 `json:"timeout_hours,omitempty"`
	Issue        string  `json:"issue"`
}

// SweepReport is the result of one staleness sweep.
type SweepReport struct {
	Timestamp      string         `json:"timestamp"`
	CheckType      string         `json:"check_type"`
	TasksChecked   int            `json:"tasks_checked"`
	TimedOutTasks  []StaleTask    `json:"timed_out_tasks"`
	StuckTasks     []StaleTask    `json:"stuck_tasks"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriority     map[string]int `json:"by_priority"`
	Healthy        bool           `json:"healthy"`
	CriticalIssues []string       `json:"critical_issues"`
}

// Sweeper scans task status under the blackboard and flags tasks that have
// been sitting in a non-terminal state too long.
type Sweeper struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper builds a sweeper over the blackboard root.
func NewSweeper(root string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{root: root, logger: logger, now: time.Now}
}

// taskState is what the sweeper reads from a task directory.
type taskState struct {
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// statusFrontmatter is the YAML header of a status.md file, used as a
// fallback when task.json is missing fields.
type statusFrontmatter struct {
	Status      string `yaml:"status"`
	LastUpdated string `yaml:"last_updated"`
}

// Sweep inspects every task directory once and writes the report under
// persistence/health-reports. Tasks in terminal states are skipped.
func (s *Sweeper) Sweep() (*SweepReport, error) {
	now := s.now().UTC()
	report := &SweepReport{
		Timestamp:     now.Format(time.RFC3339),
		CheckType:     "timeouts",
		TimedOutTasks: []StaleTask{},
		StuckTasks:    []StaleTask{},
		ByStatus:      map[string]int{},
		ByPriority:    map[string]int{},
	}

	tasksDir := filepath.Join(s.root, "tasks")
	entries, err := os.ReadDir(tasksDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, cerrors.Wrap(cerrors.KindIO, "read tasks dir", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "template" {
			continue
		}
		s.checkTask(report, now, filepath.Join(tasksDir, entry.Name()), entry.Name())
	}

	report.Healthy = len(report.TimedOutTasks) == 0 && len(report.StuckTasks) == 0
	report.CriticalIssues = []string{}
	if n := len(report.TimedOutTasks); n > 0 {
		report.CriticalIssues = append(report.CriticalIssues,
			fmt.Sprintf("%d tasks have exceeded their timeout threshold", n))
	}
	if n := len(report.StuckTasks); n > 0 {
		report.CriticalIssues = append(report.CriticalIssues,
			fmt.Sprintf("%d tasks are stuck in non-progressing states", n))
	}

	if err := s.writeReport(report); err != nil {
		return nil, err
	}
	s.logger.Info("staleness sweep done",
		slog.Int("checked", report.TasksChecked),
		slog.Int("timed_out", len(report.TimedOutTasks)),
		slog.Int("stuck", len(report.StuckTasks)))
	return report, nil
}

func (s *Sweeper) checkTask(report *SweepReport, now time.Time, dir, taskID string) {
	var state taskState
	if data, err := os.ReadFile(filepath.Join(dir, "task.json")); err == nil {
		_ = json.Unmarshal(data, &state)
	}

	// status.md fills in whatever task.json did not carry.
	if state.Status == "" || state.UpdatedAt == "" {
		if fm := readFrontmatter(filepath.Join(dir, "status.md")); fm != nil {
			if state.Status == "" {
				state.Status = fm.Status
			}
			if state.UpdatedAt == "" {
				state.UpdatedAt = fm.LastUpdated
			}
		}
	}

	state.Status = strings.ToLower(state.Status)
	if terminalStates[state.Status] {
		return
	}
	if state.Status == "" {
		state.Status = "unknown"
	}
	if state.Priority == "" {
		state.Priority = "P2"
	}

	report.TasksChecked++
	report.ByStatus[state.Status]++
	report.ByPriority[state.Priority]++

	reference := parseTimestamp(state.UpdatedAt)
	if reference.IsZero() {
		reference = parseTimestamp(state.CreatedAt)
	}
	if reference.IsZero() {
		return
	}
	elapsed := now.Sub(reference)
	elapsedHours := round1(elapsed.Hours())

	timeout, ok := priorityTimeouts[state.Priority]
	if !ok {
		timeout = defaultTimeout
	}
	if elapsed > timeout {
		report.TimedOutTasks = append(report.TimedOutTasks, StaleTask{
			TaskID:       taskID,
			Status:       state.Status,
			Priority:     state.Priority,
			ElapsedHours: elapsedHours,
			TimeoutHours: timeout.Hours(),
			Issue: fmt.Sprintf("Task exceeded priority timeout (%s: %.0fh)",
				state.Priority, timeout.Hours()),
		})
	}

	if threshold, ok := stuckThresholds[state.Status]; ok && elapsed > threshold {
		report.StuckTasks = append(report.StuckTasks, StaleTask{
			TaskID:       taskID,
			Status:       state.Status,
			ElapsedHours: elapsedHours,
			Issue: fmt.Sprintf("Task stuck in %q for %.1fh (threshold: %.0fh)",
				state.Status, elapsed.Hours(), threshold.Hours()),
		})
	}
}

func (s *Sweeper) writeReport(report *SweepReport) error {
	path := filepath.Join(s.root, reportFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create reports dir", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode sweep report", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write sweep report", err)
	}
	return nil
}

// readFrontmatter parses the YAML block between leading --- markers.
func readFrontmatter(path string) *statusFrontmatter {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	content := string(data)
	if !strings.HasPrefix(content, "---") {
		return nil
	}
	rest := content[3:]
	end := strings.Index(rest, "---")
	if end < 0 {
		return nil
	}
	var fm statusFrontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil
	}
	return &fm
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// parseTimestamp accepts the timestamp shapes seen in task files.
func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

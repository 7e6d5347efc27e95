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

// Package scoring turns validator feedback into rolling agent utility
// scores. Feedback lands in append-only daily JSONL shards; scores live in
// one JSON file per agent with a bounded update history.
package scoring

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

// SubScores are the three validator dimensions, each on a 0 to 10 scale.
type SubScores struct {
	Quality      float64 `json:"quality"`
	Completeness float64 `json:"completeness"`
	Efficiency   float64 `json:"efficiency"`
}

// Feedback is one validation record for one task.
type Feedback struct {
	TaskID         string         `json:"taskId"`
	AgentID        string         `json:"agentId"`
	Timestamp      string         `json:"timestamp"`
	Scores         SubScores      `json:"scores"`
	Issues         []string       `json:"issues"`
	ValidatorNotes string         `json:"validatorNotes"`
	Passed         bool           `json:"passed"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ValidationResult is what a validator hands to Collect.
type ValidationResult struct {
	QualityScore      float64
	CompletenessScore float64
	EfficiencyScore   float64
	Issues            []string
	Notes             string
	Pass              bool
}

// Collector appends validation feedback to daily JSONL shards and reads
// them back for scoring.
type Collector struct {
	dir string
	now func() time.Time
}

// NewCollector creates the collector, making the feedback directory.
func NewCollector(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create feedback dir", err)
	}
	return &Collector{dir: dir, now: time.Now}, nil
}

// Collect records one validation result and returns the stored feedback.
func (c *Collector) Collect(taskID, agentID string, result *ValidationResult, metadata map[string]any) (*Feedback, error) {
	now := c.now()
	feedback := &Feedback{
		TaskID:    taskID,
		AgentID:   agentID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Scores: SubScores{
			Quality:      result.QualityScore,
			Completeness: result.CompletenessScore,
			Efficiency:   result.EfficiencyScore,
		},
		Issues:         result.Issues,
		ValidatorNotes: result.Notes,
		Passed:         result.Pass,
		Metadata:       metadata,
	}
	if feedback.Issues == nil {
		feedback.Issues = []string{}
	}

	data, err := json.Marshal(feedback)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "encode feedback", err)
	}
	path := filepath.Join(c.dir, "feedback-"+now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "open feedback shard", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return nil, cerrors.Wrap(cerrors.KindIO, "append feedback", err)
	}
	if err := f.Close(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "close feedback shard", err)
	}
	return feedback, nil
}

// shardFiles lists feedback shards, newest date first.
func (c *Collector) shardFiles() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.KindIO, "read feedback dir", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "feedback-") && strings.HasSuffix(name, ".jsonl") {
			files = append(files, filepath.Join(c.dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func (c *Collector) scanShards(fn func(*Feedback)) error {
	files, err := c.shardFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var entry Feedback
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				continue
			}
			fn(&entry)
		}
		f.Close()
	}
	return nil
}

// ForAgent returns an agent's feedback within the window, newest shard
// first. limit <= 0 means unbounded.
func (c *Collector) ForAgent(agentID string, days, limit int) ([]*Feedback, error) {
	cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)
	var out []*Feedback
	err := c.scanShards(func(f *Feedback) {
		if f.AgentID != agentID {
			return
		}
		ts, err := time.Parse(time.RFC3339, f.Timestamp)
		if err != nil || ts.Before(cutoff) {
			return
		}
		out = append(out, f)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ForTask returns every feedback record for a task.
func (c *Collector) ForTask(taskID string) ([]*Feedback, error) {
	var out []*Feedback
	err := c.scanShards(func(f *Feedback) {
		if f.TaskID == taskID {
			out = append(out, f)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates an agent's feedback over a window.
type Summary struct {
	AgentID         string  `json:"agentId"`
	Period          string  `json:"period"`
	TotalTasks      int     `json:"totalTasks"`
	AvgQuality      float64 `json:"avgQuality"`
	AvgCompleteness float64 `json:"avgCompleteness"`
	AvgEfficiency   float64 `json:"avgEfficiency"`
	PassRate        float64 `json:"passRate"`
	TotalIssues     int     `json:"totalIssues"`
}

// Summarize computes window averages for an agent. An empty window is a
// zero summary, not an error.
func (c *Collector) Summarize(agentID string, days int) (*Summary, error) {
	feedback, err := c.ForAgent(agentID, days, 0)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		AgentID: agentID,
		Period:  fmt.Sprintf("%d days", days),
	}
	if len(feedback) == 0 {
		return summary, nil
	}

	total := float64(len(feedback))
	passed := 0
	for _, f := range feedback {
		summary.AvgQuality += f.Scores.Quality
		summary.AvgCompleteness += f.Scores.Completeness
		summary.AvgEfficiency += f.Scores.Efficiency
		summary.TotalIssues += len(f.Issues)
		if f.Passed {
			passed++
		}
	}
	summary.TotalTasks = len(feedback)
	summary.AvgQuality = round2(summary.AvgQuality / total)
	summary.AvgCompleteness = round2(summary.AvgCompleteness / total)
	summary.AvgEfficiency = round2(summary.AvgEfficiency / total)
	summary.PassRate = round2(float64(passed) / total)
	return summary, nil
}

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

package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Default limits for context assembly and archiving.
const (
	DefaultHistoryLimit    = 20
	DefaultExperienceLimit = 10
	archiveTaskLimit       = 100
	resultExcerptLen       = 200
)

// Manager routes writes through the memory hierarchy: hot context into L1,
// durable history into L2, learnings into L3, and snapshots into L4 on
// demand. L4 is optional; without it ArchiveSession only reports the export.
type Manager struct {
	session *L1Session
	history *L2History
	recall  *L3Experiences
	archive *L4Archive
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager assembles the hierarchy. archive may be nil.
func NewManager(session *L1Session, history *L2History, recall *L3Experiences, archive *L4Archive, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		session: session,
		history: history,
		recall:  recall,
		archive: archive,
		logger:  logger,
		now:     time.Now,
	}
}

// Session exposes the L1 layer.
func (m *Manager) Session() *L1Session { return m.session }

// History exposes the L2 layer.
func (m *Manager) History() *L2History { return m.history }

// Recall exposes the L3 layer.
func (m *Manager) Recall() *L3Experiences { return m.recall }

// Archive exposes the L4 layer, which may be nil.
func (m *Manager) Archive() *L4Archive { return m.archive }

// TaskResult is the completed-task input to StoreTaskResult.
type TaskResult struct {
	TaskID      string
	AgentID     string
	Type        string
	Description string
	Status      string
	Score       *float64
	Output      string
	Summary     string
	Metadata    map[string]any
}

// StoreReceipt reports which layers accepted a task result.
type StoreReceipt struct {
	TaskID       string `json:"task_id"`
	Timestamp    string `json:"timestamp"`
	L1Stored     bool   `json:"l1"`
	L2Stored     bool   `json:"l2"`
	ExperienceID string `json:"l3,omitempty"`
}

// StoreTaskResult writes a finished task through the hierarchy: the result
// into session context, the record into history, and a one-line experience
// into recall. Layer failures past L2 degrade rather than abort.
func (m *Manager) StoreTaskResult(result *TaskResult) (*StoreReceipt, error) {
	now := m.now().UTC()
	receipt := &StoreReceipt{
		TaskID:    result.TaskID,
		Timestamp: now.Format(time.RFC3339),
	}

	receipt.L1Stored = m.session.Store(result.TaskID, map[string]any{
		"status": result.Status,
		"output": result.Output,
	}, map[string]any{"agent": result.AgentID})

	record := &TaskRecord{
		ID:          result.TaskID,
		AgentID:     result.AgentID,
		Type:        result.Type,
		Description: result.Description,
		Status:      result.Status,
		Score:       result.Score,
		Created:     now.Format(time.RFC3339),
		Completed:   now.Format(time.RFC3339),
		Result:      result.Output,
		Metadata:    result.Metadata,
	}
	if err := m.history.RecordTask(record); err != nil {
		return receipt, err
	}
	receipt.L2Stored = true

	expID, err := m.recall.Store(result.AgentID, experienceLine(result), "task", map[string]any{
		"task_id": result.TaskID,
	}, result.Score)
	if err != nil {
		m.logger.Warn("experience store failed",
			slog.String("task", result.TaskID),
			slog.String("error", err.Error()))
	} else {
		receipt.ExperienceID = expID
	}

	m.logger.Debug("task result stored",
		slog.String("task", result.TaskID),
		slog.String("agent", result.AgentID),
		slog.Bool("l1", receipt.L1Stored),
		slog.String("l3", receipt.ExperienceID))
	return receipt, nil
}

func experienceLine(result *TaskResult) string {
	output := result.Output
	if len(output) > resultExcerptLen {
		output = output[:resultExcerptLen]
	}
	line := fmt.Sprintf("Task: %s | Agent: %s | Status: %s | Result: %s",
		result.Description, result.AgentID, result.Status, output)
	if result.Summary != "" {
		line += " | Summary: " + result.Summary
	}
	return line
}

// AgentContext is the assembled view handed to an agent before it works.
type AgentContext struct {
	AgentID     string        `json:"agent_id"`
	History     []*TaskRecord `json:"history,omitempty"`
	Stats       *AgentStats   `json:"stats,omitempty"`
	Experiences []*Experience `json:"experiences,omitempty"`
}

// ContextOptions selects which layers feed FullContext.
type ContextOptions struct {
	IncludeHistory     bool
	IncludeExperiences bool
	HistoryLimit       int
	ExperienceLimit    int
}

// DefaultContextOptions includes everything with default limits.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		IncludeHistory:     true,
		IncludeExperiences: true,
		HistoryLimit:       DefaultHistoryLimit,
		ExperienceLimit:    DefaultExperienceLimit,
	}
}

// FullContext gathers an agent's history, stats, and recent experiences.
// Missing stats are not an error; a fresh agent simply has none.
func (m *Manager) FullContext(agentID string, opts ContextOptions) (*AgentContext, error) {
	ctx := &AgentContext{AgentID: agentID}

	if opts.IncludeHistory {
		limit := opts.HistoryLimit
		if limit <= 0 {
			limit = DefaultHistoryLimit
		}
		history, err := m.history.GetAgentHistory(agentID, limit)
		if err != nil {
			return nil, err
		}
		ctx.History = history

		stats, err := m.history.GetAgentStats(agentID)
		if err == nil {
			ctx.Stats = stats
		}
	}

	if opts.IncludeExperiences {
		limit := opts.ExperienceLimit
		if limit <= 0 {
			limit = DefaultExperienceLimit
		}
		experiences, err := m.recall.RetrieveRecent(agentID, limit, "")
		if err != nil {
			return nil, err
		}
		ctx.Experiences = experiences
	}

	return ctx, nil
}

// ArchiveSession exports the current session plus recent history into L4
// and returns the archive file path. Without an L4 layer it returns "".
func (m *Manager) ArchiveSession() (string, error) {
	export := m.session.Export()
	recent, err := m.history.GetRecentTasks(archiveTaskLimit, "")
	if err != nil {
		return "", err
	}

	if m.archive == nil {
		return "", nil
	}
	return m.archive.ExportSessionArchive(export.SessionID, map[string]any{
		"session":      export,
		"recent_tasks": recent,
	})
}

// LayerStats summarizes every layer for operators.
type LayerStats struct {
	L1Keys      int     `json:"l1_keys"`
	L1SizeBytes int     `json:"l1_size_bytes"`
	L2SizeBytes int64   `json:"l2_size_bytes"`
	L3          L3Stats `json:"l3"`
	L4Exports   int     `json:"l4_exports"`
}

// Stats reports per-layer occupancy.
func (m *Manager) Stats() (*LayerStats, error) {
	stats := &LayerStats{
		L1Keys:      m.session.Len(),
		L1SizeBytes: m.session.SizeEstimate(),
		L2SizeBytes: m.history.DBSize(),
		L3:          m.recall.Stats(),
	}
	if m.archive != nil {
		exports, err := m.archive.ListExports("all")
		if err != nil {
			return nil, err
		}
		stats.L4Exports = len(exports)
	}
	return stats, nil
}

// ExperienceSnippet formats recent experiences for prompt embedding, the
// shape the ReAct think phase consumes.
func (m *Manager) ExperienceSnippet(agentID string, limit int) (string, error) {
	experiences, err := m.recall.RetrieveRecent(agentID, limit, "")
	if err != nil {
		return "", err
	}
	if len(experiences) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, exp := range experiences {
		sb.WriteString("- ")
		sb.WriteString(exp.Experience)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

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
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clawos/brain/pkg/cerrors"
)

const l2Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	type TEXT,
	description TEXT,
	status TEXT,
	score REAL,
	created TEXT NOT NULL,
	completed TEXT,
	result TEXT,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	task_id TEXT,
	agent_id TEXT NOT NULL,
	decision TEXT NOT NULL,
	reasoning TEXT,
	outcome TEXT,
	created TEXT NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);

CREATE TABLE IF NOT EXISTS agent_stats (
	agent_id TEXT PRIMARY KEY,
	total_tasks INTEGER DEFAULT 0,
	successful_tasks INTEGER DEFAULT 0,
	avg_score REAL DEFAULT 0,
	last_activity TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(type);
CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(agent_id);
CREATE INDEX IF NOT EXISTS idx_decisions_task ON decisions(task_id);
`

// TaskStatusCompleted marks a task counted as a success in agent stats.
const TaskStatusCompleted = "completed"

// TaskRecord is one row of task history.
type TaskRecord struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Score       *float64       `json:"score,omitempty"`
	Created     string         `json:"created"`
	Completed   string         `json:"completed,omitempty"`
	Result      any            `json:"result,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DecisionRecord is one recorded decision, optionally tied to a task.
type DecisionRecord struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id,omitempty"`
	AgentID   string `json:"agent_id"`
	Decision  string `json:"decision"`
	Reasoning string `json:"reasoning,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Created   string `json:"created"`
}

// AgentStats aggregates an agent's task history.
type AgentStats struct {
	AgentID         string  `json:"agent_id"`
	TotalTasks      int     `json:"total_tasks"`
	SuccessfulTasks int     `json:"successful_tasks"`
	AvgScore        float64 `json:"avg_score"`
	LastActivity    string  `json:"last_activity"`
}

// L2History is the SQLite-backed task and decision history.
type L2History struct {
	db   *sql.DB
	path string
}

// NewL2History opens (or creates) the history database at path.
func NewL2History(path string) (*L2History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create history dir", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "open history db", err)
	}
	if _, err := db.Exec(l2Schema); err != nil {
		db.Close()
		return nil, cerrors.Wrap(cerrors.KindIO, "init history schema", err)
	}
	return &L2History{db: db, path: path}, nil
}

// Close closes the underlying database.
func (h *L2History) Close() error {
	return h.db.Close()
}

// RecordTask upserts a task row and refreshes the agent's stats in the same
// transaction. A task whose status is "completed" counts as a success; the
// average score is recomputed over all scored tasks of the agent.
func (h *L2History) RecordTask(task *TaskRecord) error {
	if task.ID == "" {
		return cerrors.New(cerrors.KindValidation, "task has no id")
	}
	created := task.Created
	if created == "" {
		created = time.Now().UTC().Format(time.RFC3339)
	}

	resultJSON, err := encodeNullable(task.Result)
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode task result", err).With("task", task.ID)
	}
	var metadataJSON any
	if task.Metadata != nil {
		metadataJSON, err = encodeNullable(task.Metadata)
		if err != nil {
			return cerrors.Wrap(cerrors.KindValidation, "encode task metadata", err).With("task", task.ID)
		}
	}

	tx, err := h.db.Begin()
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO tasks
		(id, agent_id, type, description, status, score, created, completed, result, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.AgentID, nullStr(task.Type), nullStr(task.Description),
		nullStr(task.Status), nullFloat(task.Score), created,
		nullStr(task.Completed), resultJSON, metadataJSON)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "record task", err).With("task", task.ID)
	}

	if task.AgentID != "" {
		if err := updateAgentStats(tx, task.AgentID, task.Status); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "commit task record", err)
	}
	return nil
}

func updateAgentStats(tx *sql.Tx, agentID, status string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	success := 0
	if status == TaskStatusCompleted {
		success = 1
	}

	var total, successful int
	err := tx.QueryRow(
		"SELECT total_tasks, successful_tasks FROM agent_stats WHERE agent_id = ?",
		agentID).Scan(&total, &successful)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO agent_stats (agent_id, total_tasks, successful_tasks, last_activity)
			VALUES (?, 1, ?, ?)`, agentID, success, now)
		if err != nil {
			return cerrors.Wrap(cerrors.KindIO, "insert agent stats", err).With("agent", agentID)
		}
		return nil
	case err != nil:
		return cerrors.Wrap(cerrors.KindIO, "read agent stats", err).With("agent", agentID)
	}

	var avg sql.NullFloat64
	err = tx.QueryRow(
		"SELECT AVG(score) FROM tasks WHERE agent_id = ? AND score IS NOT NULL",
		agentID).Scan(&avg)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "compute avg score", err).With("agent", agentID)
	}

	_, err = tx.Exec(`
		UPDATE agent_stats
		SET total_tasks = ?, successful_tasks = ?, avg_score = ?, last_activity = ?
		WHERE agent_id = ?`,
		total+1, successful+success, avg.Float64, now, agentID)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "update agent stats", err).With("agent", agentID)
	}
	return nil
}

// RecordDecision upserts a decision row.
func (h *L2History) RecordDecision(d *DecisionRecord) error {
	if d.ID == "" {
		return cerrors.New(cerrors.KindValidation, "decision has no id")
	}
	created := d.Created
	if created == "" {
		created = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := h.db.Exec(`
		INSERT OR REPLACE INTO decisions
		(id, task_id, agent_id, decision, reasoning, outcome, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, nullStr(d.TaskID), d.AgentID, d.Decision,
		nullStr(d.Reasoning), nullStr(d.Outcome), created)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "record decision", err).With("decision", d.ID)
	}
	return nil
}

// GetTask returns a task by id.
func (h *L2History) GetTask(id string) (*TaskRecord, error) {
	row := h.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, cerrors.Newf(cerrors.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "get task", err).With("task", id)
	}
	return task, nil
}

// GetAgentHistory returns an agent's tasks, newest first.
func (h *L2History) GetAgentHistory(agentID string, limit int) ([]*TaskRecord, error) {
	rows, err := h.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE agent_id = ? ORDER BY created DESC LIMIT ?",
		agentID, limit)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "query agent history", err).With("agent", agentID)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetRecentTasks returns the newest tasks across all agents, optionally
// filtered by status.
func (h *L2History) GetRecentTasks(limit int, status string) ([]*TaskRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = h.db.Query(
			"SELECT "+taskColumns+" FROM tasks WHERE status = ? ORDER BY created DESC LIMIT ?",
			status, limit)
	} else {
		rows, err = h.db.Query(
			"SELECT "+taskColumns+" FROM tasks ORDER BY created DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "query recent tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetAgentStats returns the aggregate stats row for an agent.
func (h *L2History) GetAgentStats(agentID string) (*AgentStats, error) {
	var stats AgentStats
	var lastActivity sql.NullString
	err := h.db.QueryRow(
		"SELECT agent_id, total_tasks, successful_tasks, avg_score, last_activity FROM agent_stats WHERE agent_id = ?",
		agentID).Scan(&stats.AgentID, &stats.TotalTasks, &stats.SuccessfulTasks, &stats.AvgScore, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, cerrors.Newf(cerrors.KindNotFound, "no stats for agent %s", agentID)
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "get agent stats", err).With("agent", agentID)
	}
	stats.LastActivity = lastActivity.String
	return &stats, nil
}

// SearchTasks finds tasks whose description contains the query substring.
func (h *L2History) SearchTasks(query string, limit int) ([]*TaskRecord, error) {
	rows, err := h.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE description LIKE ? ORDER BY created DESC LIMIT ?",
		"%"+query+"%", limit)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "search tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DBSize returns the database file size in bytes.
func (h *L2History) DBSize() int64 {
	info, err := os.Stat(h.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Vacuum reclaims unused space.
func (h *L2History) Vacuum() error {
	if _, err := h.db.Exec("VACUUM"); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "vacuum history db", err)
	}
	return nil
}

// ============================================================================
// ROW SCANNING
// ============================================================================

const taskColumns = "id, agent_id, type, description, status, score, created, completed, result, metadata"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var (
		task                         TaskRecord
		typ, desc, status, completed sql.NullString
		score                        sql.NullFloat64
		resultJSON, metadataJSON     sql.NullString
	)
	err := row.Scan(&task.ID, &task.AgentID, &typ, &desc, &status, &score,
		&task.Created, &completed, &resultJSON, &metadataJSON)
	if err != nil {
		return nil, err
	}
	task.Type = typ.String
	task.Description = desc.String
	task.Status = status.String
	task.Completed = completed.String
	if score.Valid {
		v := score.Float64
		task.Score = &v
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result any
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			task.Result = result
		} else {
			task.Result = resultJSON.String
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err == nil {
			task.Metadata = metadata
		}
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*TaskRecord, error) {
	var tasks []*TaskRecord
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func encodeNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

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

// Package nomination runs the federation-memory nomination workflow.
// High-scoring agents get a pending nomination record; a human approves or
// rejects it, and both outcomes leave an auditable trail. A terminal
// nomination is never reopened; re-eligibility creates a new one.
package nomination

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
	"github.com/clawos/brain/pkg/scoring"
)

// Nomination states. Pending moves to exactly one of the other two.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// evidenceHistory is how many recent score changes a nomination carries.
const evidenceHistory = 5

// federationLog is the audit log path relative to the blackboard root.
const federationLog = "federation/nominations.log"

// Evidence supports a nomination with recent score data.
type Evidence struct {
	ScoreHistory []scoring.HistoryEntry `json:"scoreHistory"`
	LastUpdated  string                 `json:"lastUpdated,omitempty"`
}

// Nomination is one proposal to elevate an agent to federation memory.
type Nomination struct {
	NominationID string   `json:"nominationId"`
	AgentID      string   `json:"agentId"`
	UtilityScore float64  `json:"utilityScore"`
	Tier         string   `json:"tier"`
	Timestamp    string   `json:"timestamp"`
	Status       string   `json:"status"`
	Reason       string   `json:"reason"`
	Evidence     Evidence `json:"evidence"`
	BossNotes    string   `json:"bossNotes"`
	ApprovedBy   string   `json:"approvedBy,omitempty"`
	ApprovedAt   string   `json:"approvedAt,omitempty"`
}

// Manager creates and resolves nominations. Nomination records live one
// per file under the nominations directory.
type Manager struct {
	scorer *scoring.UtilityScorer
	dir    string
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds the manager over a scorer, the nominations directory,
// and the blackboard root for the federation audit log.
func NewManager(scorer *scoring.UtilityScorer, dir, root string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create nominations dir", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scorer: scorer, dir: dir, root: root, logger: logger, now: time.Now}, nil
}

// CheckCandidates returns eligible agents without a pending nomination,
// best score first. A terminal rejection does not block re-nomination.
func (m *Manager) CheckCandidates() ([]*scoring.ScoreRecord, error) {
	records, err := m.scorer.NominationCandidates()
	if err != nil {
		return nil, err
	}
	var candidates []*scoring.ScoreRecord
	for _, record := range records {
		pending, err := m.hasPending(record.AgentID)
		if err != nil {
			return nil, err
		}
		if !pending {
			candidates = append(candidates, record)
		}
	}
	return candidates, nil
}

// Create writes a pending nomination for an agent and returns its id.
// An empty reason gets the standard threshold wording.
func (m *Manager) Create(record *scoring.ScoreRecord, reason string) (string, error) {
	now := m.now()
	id := fmt.Sprintf("nom-%s-%s", record.AgentID, now.Format("20060102-150405"))
	if reason == "" {
		reason = fmt.Sprintf("Score %.2f exceeds threshold %.2f",
			record.UtilityScore, scoring.NominationThreshold)
	}

	history := record.History
	if len(history) > evidenceHistory {
		history = history[len(history)-evidenceHistory:]
	}

	nom := &Nomination{
		NominationID: id,
		AgentID:      record.AgentID,
		UtilityScore: record.UtilityScore,
		Tier:         record.Tier,
		Timestamp:    now.UTC().Format(time.RFC3339),
		Status:       StatusPending,
		Reason:       reason,
		Evidence: Evidence{
			ScoreHistory: history,
			LastUpdated:  record.LastUpdated,
		},
	}
	if nom.Tier == "" {
		nom.Tier = "unknown"
	}
	if nom.Evidence.ScoreHistory == nil {
		nom.Evidence.ScoreHistory = []scoring.HistoryEntry{}
	}
	if err := m.write(nom); err != nil {
		return "", err
	}
	m.logger.Info("nomination created",
		slog.String("nomination", id),
		slog.String("agent", record.AgentID),
		slog.Float64("score", record.UtilityScore))
	return id, nil
}

// Approve moves a pending nomination to approved and appends the event to
// the federation audit log.
func (m *Manager) Approve(nominationID, notes, approvedBy string) error {
	nom, err := m.resolve(nominationID, StatusApproved, notes)
	if err != nil {
		return err
	}
	nom.ApprovedBy = approvedBy
	if err := m.write(nom); err != nil {
		return err
	}
	return m.logApproval(nom)
}

// Reject moves a pending nomination to rejected with the reviewer's notes.
func (m *Manager) Reject(nominationID, notes string) error {
	nom, err := m.resolve(nominationID, StatusRejected, notes)
	if err != nil {
		return err
	}
	return m.write(nom)
}

// resolve loads a nomination and applies a terminal status. Only pending
// nominations can be resolved.
func (m *Manager) resolve(nominationID, status, notes string) (*Nomination, error) {
	nom, err := m.Get(nominationID)
	if err != nil {
		return nil, err
	}
	if nom.Status != StatusPending {
		return nil, cerrors.Newf(cerrors.KindConflict,
			"nomination %s is already %s", nominationID, nom.Status)
	}
	nom.Status = status
	nom.BossNotes = notes
	nom.ApprovedAt = m.now().UTC().Format(time.RFC3339)
	return nom, nil
}

// Get loads one nomination by id.
func (m *Manager) Get(nominationID string) (*Nomination, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, nominationID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.Newf(cerrors.KindNotFound, "nomination %s not found", nominationID)
		}
		return nil, cerrors.Wrap(cerrors.KindIO, "read nomination", err)
	}
	var nom Nomination
	if err := json.Unmarshal(data, &nom); err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "decode nomination", err).
			With("nomination", nominationID)
	}
	return &nom, nil
}

// Pending returns all nominations awaiting review, best score first.
func (m *Manager) Pending() ([]*Nomination, error) {
	noms, err := m.All(StatusPending)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(noms, func(i, j int) bool {
		return noms[i].UtilityScore > noms[j].UtilityScore
	})
	return noms, nil
}

// All returns nominations filtered by status, newest first. An empty
// status means everything.
func (m *Manager) All(status string) ([]*Nomination, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.KindIO, "read nominations dir", err)
	}
	var noms []*Nomination
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "nom-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		nom, err := m.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if status == "" || nom.Status == status {
			noms = append(noms, nom)
		}
	}
	sort.SliceStable(noms, func(i, j int) bool {
		return noms[i].Timestamp > noms[j].Timestamp
	})
	return noms, nil
}

// AutoNominate creates pending nominations for every current candidate and
// returns the created ids.
func (m *Manager) AutoNominate() ([]string, error) {
	candidates, err := m.CheckCandidates()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, candidate := range candidates {
		id, err := m.Create(candidate, "")
		if err != nil {
			m.logger.Warn("nomination failed",
				slog.String("agent", candidate.AgentID),
				slog.String("error", err.Error()))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Manager) hasPending(agentID string) (bool, error) {
	noms, err := m.All(StatusPending)
	if err != nil {
		return false, err
	}
	for _, nom := range noms {
		if nom.AgentID == agentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) write(nom *Nomination) error {
	data, err := json.MarshalIndent(nom, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode nomination", err)
	}
	path := filepath.Join(m.dir, nom.NominationID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write nomination", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "publish nomination", err)
	}
	return nil
}

func (m *Manager) logApproval(nom *Nomination) error {
	path := filepath.Join(m.root, federationLog)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create federation dir", err)
	}
	entry := fmt.Sprintf("[%s] APPROVED: %s (score: %v)\n",
		m.now().UTC().Format(time.RFC3339), nom.AgentID, nom.UtilityScore)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "open federation log", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return cerrors.Wrap(cerrors.KindIO, "append federation log", err)
	}
	return f.Close()
}

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

package scoring

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

// ===== SCORE MODEL =====

// Composite score weights. Pass rate stands in for consistency; autonomy
// is derived from issue counts.
const (
	weightQuality      = 0.30
	weightCompleteness = 0.25
	weightEfficiency   = 0.20
	weightConsistency  = 0.15
	weightAutonomy     = 0.10
)

// Score bands and per-validation deltas. Validation scores are 0 to 10,
// utility scores 0 to 1.
const (
	NominationThreshold = 0.85
	WarningThreshold    = 0.50

	DefaultScore = 0.5

	deltaHigh     = 0.05
	deltaLow      = -0.02
	highScoreBar  = 8.5
	lowScoreBar   = 6.0
	historyBound  = 30
	defaultWindow = 30
)

// HistoryEntry is one score change. OldScore is nil on first
// initialization.
type HistoryEntry struct {
	Timestamp string   `json:"timestamp"`
	OldScore  *float64 `json:"oldScore"`
	NewScore  float64  `json:"newScore"`
	Notes     string   `json:"notes"`
}

// ScoreRecord is the persisted score file for one agent.
type ScoreRecord struct {
	AgentID            string         `json:"agentId"`
	Tier               string         `json:"tier,omitempty"`
	UtilityScore       float64        `json:"utilityScore"`
	LastUpdated        string         `json:"lastUpdated,omitempty"`
	NominationEligible bool           `json:"nominationEligible"`
	Initialized        bool           `json:"initialized,omitempty"`
	History            []HistoryEntry `json:"history"`
}

// ===== SCORER =====

// UtilityScorer computes composite scores from feedback and applies
// per-validation delta updates, persisting one score file per agent.
type UtilityScorer struct {
	feedback *Collector
	dir      string
	now      func() time.Time
}

// NewUtilityScorer builds a scorer over a feedback collector and a scores
// directory.
func NewUtilityScorer(feedback *Collector, dir string) (*UtilityScorer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create scores dir", err)
	}
	return &UtilityScorer{feedback: feedback, dir: dir, now: time.Now}, nil
}

// CalculateScore computes the composite utility score from the agent's
// recent feedback window. No feedback means the neutral default.
func (s *UtilityScorer) CalculateScore(agentID string, days int) (float64, error) {
	if days <= 0 {
		days = defaultWindow
	}
	feedback, err := s.feedback.ForAgent(agentID, days, 0)
	if err != nil {
		return 0, err
	}
	if len(feedback) == 0 {
		return DefaultScore, nil
	}

	total := float64(len(feedback))
	var quality, completeness, efficiency, issues float64
	passed := 0
	for _, f := range feedback {
		quality += f.Scores.Quality
		completeness += f.Scores.Completeness
		efficiency += f.Scores.Efficiency
		issues += float64(len(f.Issues))
		if f.Passed {
			passed++
		}
	}

	passRate := float64(passed) / total
	autonomy := math.Max(0, 1-(issues/total)*0.1)

	score := (quality/total/10)*weightQuality +
		(completeness/total/10)*weightCompleteness +
		(efficiency/total/10)*weightEfficiency +
		passRate*weightConsistency +
		autonomy*weightAutonomy
	return round2(score), nil
}

// UpdateScore applies the delta for one validation result and persists the
// new score: +0.05 at 8.5 or above, -0.02 below 6, otherwise unchanged.
func (s *UtilityScorer) UpdateScore(agentID string, validationScore float64, notes string) (float64, error) {
	current := s.CurrentScore(agentID)

	delta := 0.0
	switch {
	case validationScore >= highScoreBar:
		delta = deltaHigh
	case validationScore < lowScoreBar:
		delta = deltaLow
	}

	newScore := math.Max(0, math.Min(1, current+delta))
	if err := s.saveScore(agentID, newScore, notes); err != nil {
		return 0, err
	}
	return newScore, nil
}

// CurrentScore reads the stored score, defaulting when absent or
// unreadable.
func (s *UtilityScorer) CurrentScore(agentID string) float64 {
	record, err := s.readRecord(agentID)
	if err != nil {
		return DefaultScore
	}
	return record.UtilityScore
}

// Details returns the full score record, or a default one for an unscored
// agent.
func (s *UtilityScorer) Details(agentID string) *ScoreRecord {
	record, err := s.readRecord(agentID)
	if err != nil {
		return &ScoreRecord{
			AgentID:      agentID,
			UtilityScore: DefaultScore,
			History:      []HistoryEntry{},
		}
	}
	return record
}

// CheckNomination reports whether the agent's windowed composite score
// clears the nomination bar.
func (s *UtilityScorer) CheckNomination(agentID string) (bool, error) {
	score, err := s.CalculateScore(agentID, defaultWindow)
	if err != nil {
		return false, err
	}
	return score >= NominationThreshold, nil
}

// CheckWarning reports whether the stored score is in the warning zone.
func (s *UtilityScorer) CheckWarning(agentID string) bool {
	return s.CurrentScore(agentID) < WarningThreshold
}

// AllScores returns every stored record, highest score first.
func (s *UtilityScorer) AllScores() ([]*ScoreRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.KindIO, "read scores dir", err)
	}
	var records []*ScoreRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		record, err := s.readRecord(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UtilityScore > records[j].UtilityScore
	})
	return records, nil
}

// NominationCandidates returns all agents flagged eligible.
func (s *UtilityScorer) NominationCandidates() ([]*ScoreRecord, error) {
	records, err := s.AllScores()
	if err != nil {
		return nil, err
	}
	var out []*ScoreRecord
	for _, r := range records {
		if r.NominationEligible {
			out = append(out, r)
		}
	}
	return out, nil
}

// WarningAgents returns all agents below the warning threshold.
func (s *UtilityScorer) WarningAgents() ([]*ScoreRecord, error) {
	records, err := s.AllScores()
	if err != nil {
		return nil, err
	}
	var out []*ScoreRecord
	for _, r := range records {
		if r.UtilityScore < WarningThreshold {
			out = append(out, r)
		}
	}
	return out, nil
}

// Seed is the starting score assigned to an agent at initialization.
type Seed struct {
	Tier  string
	Score float64
}

// InitScores writes initial score files for the given agents, overwriting
// any stale records. Run once when standing up a deployment.
func (s *UtilityScorer) InitScores(agents map[string]Seed) error {
	timestamp := s.now().UTC().Format(time.RFC3339)
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		seed := agents[id]
		record := &ScoreRecord{
			AgentID:            id,
			Tier:               seed.Tier,
			UtilityScore:       seed.Score,
			LastUpdated:        timestamp,
			NominationEligible: seed.Score >= NominationThreshold,
			Initialized:        true,
			History: []HistoryEntry{{
				Timestamp: timestamp,
				NewScore:  seed.Score,
				Notes:     "Initial score for " + seed.Tier + " tier agent",
			}},
		}
		if err := s.writeRecord(record); err != nil {
			return err
		}
	}
	return nil
}

// ===== PERSISTENCE =====

func (s *UtilityScorer) recordPath(agentID string) string {
	return filepath.Join(s.dir, agentID+".json")
}

func (s *UtilityScorer) readRecord(agentID string) (*ScoreRecord, error) {
	data, err := os.ReadFile(s.recordPath(agentID))
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "read score record", err).With("agent", agentID)
	}
	var record ScoreRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "decode score record", err).With("agent", agentID)
	}
	return &record, nil
}

func (s *UtilityScorer) writeRecord(record *ScoreRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode score record", err)
	}
	path := s.recordPath(record.AgentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write score record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "publish score record", err)
	}
	return nil
}

func (s *UtilityScorer) saveScore(agentID string, score float64, notes string) error {
	record, err := s.readRecord(agentID)
	if err != nil {
		record = &ScoreRecord{AgentID: agentID, UtilityScore: DefaultScore}
	}

	old := record.UtilityScore
	timestamp := s.now().UTC().Format(time.RFC3339)
	record.UtilityScore = score
	record.LastUpdated = timestamp
	record.NominationEligible = score >= NominationThreshold
	record.History = append(record.History, HistoryEntry{
		Timestamp: timestamp,
		OldScore:  &old,
		NewScore:  score,
		Notes:     notes,
	})
	if len(record.History) > historyBound {
		record.History = record.History[len(record.History)-historyBound:]
	}
	return s.writeRecord(record)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

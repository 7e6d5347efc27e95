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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(t *testing.T) (*UtilityScorer, *Collector) {
	t.Helper()
	root := t.TempDir()
	collector, err := NewCollector(filepath.Join(root, "feedback"))
	require.NoError(t, err)
	scorer, err := NewUtilityScorer(collector, filepath.Join(root, "utility-scores"))
	require.NoError(t, err)
	return scorer, collector
}

func collectN(t *testing.T, c *Collector, agentID string, results ...*ValidationResult) {
	t.Helper()
	for i, r := range results {
		_, err := c.Collect("task-"+itoa(i), agentID, r, nil)
		require.NoError(t, err)
	}
}

func TestCollectAndReadBack(t *testing.T) {
	_, c := newTestScorer(t)

	fb, err := c.Collect("task-1", "coder-backend", &ValidationResult{
		QualityScore:      8,
		CompletenessScore: 9,
		EfficiencyScore:   7,
		Issues:            []string{"minor formatting issue"},
		Notes:             "good work overall",
		Pass:              true,
	}, map[string]any{"node": "local"})
	require.NoError(t, err)
	assert.Equal(t, 8.0, fb.Scores.Quality)

	forAgent, err := c.ForAgent("coder-backend", 30, 0)
	require.NoError(t, err)
	require.Len(t, forAgent, 1)
	assert.Equal(t, "task-1", forAgent[0].TaskID)
	assert.True(t, forAgent[0].Passed)
	assert.Equal(t, "good work overall", forAgent[0].ValidatorNotes)

	forTask, err := c.ForTask("task-1")
	require.NoError(t, err)
	require.Len(t, forTask, 1)
	assert.Equal(t, "coder-backend", forTask[0].AgentID)
}

func TestForAgentRespectsWindowAndLimit(t *testing.T) {
	_, c := newTestScorer(t)

	old := time.Now().Add(-40 * 24 * time.Hour)
	c.now = func() time.Time { return old }
	_, err := c.Collect("task-old", "amy", &ValidationResult{Pass: true}, nil)
	require.NoError(t, err)

	c.now = time.Now
	collectN(t, c, "amy",
		&ValidationResult{QualityScore: 8, Pass: true},
		&ValidationResult{QualityScore: 9, Pass: true},
		&ValidationResult{QualityScore: 7, Pass: true})

	within, err := c.ForAgent("amy", 30, 0)
	require.NoError(t, err)
	assert.Len(t, within, 3)

	limited, err := c.ForAgent("amy", 30, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSummarize(t *testing.T) {
	_, c := newTestScorer(t)
	collectN(t, c, "amy",
		&ValidationResult{QualityScore: 8, CompletenessScore: 9, EfficiencyScore: 7, Pass: true, Issues: []string{"a"}},
		&ValidationResult{QualityScore: 6, CompletenessScore: 7, EfficiencyScore: 5, Pass: false, Issues: []string{"b", "c"}})

	summary, err := c.Summarize("amy", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTasks)
	assert.Equal(t, 7.0, summary.AvgQuality)
	assert.Equal(t, 8.0, summary.AvgCompleteness)
	assert.Equal(t, 6.0, summary.AvgEfficiency)
	assert.Equal(t, 0.5, summary.PassRate)
	assert.Equal(t, 3, summary.TotalIssues)
}

func TestSummarizeEmptyWindow(t *testing.T) {
	_, c := newTestScorer(t)

	summary, err := c.Summarize("ghost", 30)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalTasks)
	assert.Equal(t, 0.0, summary.PassRate)
}

func TestCalculateScoreDefaultsWithoutFeedback(t *testing.T) {
	s, _ := newTestScorer(t)

	score, err := s.CalculateScore("fresh-agent", 30)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestCalculateScoreWeightedComposite(t *testing.T) {
	s, c := newTestScorer(t)
	collectN(t, c, "amy",
		&ValidationResult{QualityScore: 8, CompletenessScore: 9, EfficiencyScore: 7, Pass: true, Issues: []string{"x"}},
		&ValidationResult{QualityScore: 9, CompletenessScore: 9, EfficiencyScore: 8, Pass: true})

	score, err := s.CalculateScore("amy", 30)
	require.NoError(t, err)
	// 0.85*0.30 + 0.90*0.25 + 0.75*0.20 + 1.0*0.15 + 0.95*0.10
	assert.Equal(t, 0.88, score)
}

func TestUpdateScoreLadder(t *testing.T) {
	s, _ := newTestScorer(t)

	var final float64
	for _, v := range []float64{9, 9, 9, 5, 5} {
		var err error
		final, err = s.UpdateScore("amy", v, "")
		require.NoError(t, err)
	}

	assert.InDelta(t, 0.61, final, 1e-9)
	record := s.Details("amy")
	require.Len(t, record.History, 5)
	require.NotNil(t, record.History[0].OldScore)
	assert.Equal(t, 0.5, *record.History[0].OldScore)
	assert.InDelta(t, 0.55, record.History[0].NewScore, 1e-9)
}

func TestUpdateScoreNeutralBand(t *testing.T) {
	s, _ := newTestScorer(t)

	score, err := s.UpdateScore("amy", 7.0, "")
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestUpdateScoreClampsToUnitRange(t *testing.T) {
	s, _ := newTestScorer(t)

	var score float64
	for range 15 {
		var err error
		score, err = s.UpdateScore("climber", 10, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, score)

	for range 40 {
		var err error
		score, err = s.UpdateScore("faller", 1, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, score)
}

func TestUpdateScoreHistoryIsBounded(t *testing.T) {
	s, _ := newTestScorer(t)

	for range 40 {
		_, err := s.UpdateScore("amy", 9, "")
		require.NoError(t, err)
	}

	record := s.Details("amy")
	assert.Len(t, record.History, 30)
}

func TestCheckNominationAndWarning(t *testing.T) {
	s, c := newTestScorer(t)

	// Strong, issue-free feedback clears the bar.
	for range 5 {
		collectN(t, c, "star", &ValidationResult{
			QualityScore: 10, CompletenessScore: 10, EfficiencyScore: 10, Pass: true,
		})
	}
	eligible, err := s.CheckNomination("star")
	require.NoError(t, err)
	assert.True(t, eligible)

	for range 30 {
		_, err := s.UpdateScore("weak", 2, "")
		require.NoError(t, err)
	}
	assert.True(t, s.CheckWarning("weak"))
	assert.False(t, s.CheckWarning("star"))
}

func TestInitScoresAndListing(t *testing.T) {
	s, _ := newTestScorer(t)

	require.NoError(t, s.InitScores(map[string]Seed{
		"gm":             {Tier: "command", Score: 0.75},
		"coder-frontend": {Tier: "worker", Score: 0.55},
		"legend":         {Tier: "command", Score: 0.9},
	}))

	all, err := s.AllScores()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "legend", all[0].AgentID)
	assert.True(t, all[0].NominationEligible)
	require.Len(t, all[0].History, 1)
	assert.Nil(t, all[0].History[0].OldScore)

	candidates, err := s.NominationCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "legend", candidates[0].AgentID)
}

func itoa(i int) string {
	return string(rune('a' + i))
}

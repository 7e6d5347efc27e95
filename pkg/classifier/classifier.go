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

// Package classifier scores task descriptions on complexity, risk, and
// importance, and decides which tier of agent should handle them and under
// how much oversight. Classification is a pure function of its inputs so
// results are reproducible and cheap to test.
package classifier

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/clawos/brain/pkg/cerrors"
)

// ===== SCORING CONFIGURATION =====

// Dimension weights for the composite score.
const (
	weightComplexity = 0.35
	weightRisk       = 0.30
	weightImportance = 0.35
)

// Decision thresholds on the composite score.
const (
	commandThreshold     = 7.5
	assistedThreshold    = 5.0
	humanReviewThreshold = 9.0
)

// Handler and mode labels used in decisions.
const (
	HandlerCommand = "gm"
	HandlerWorker  = "henry"

	ModeManaged  = "managed"
	ModeAssisted = "assisted"
	ModeSolo     = "solo"
)

// Technical-difficulty keywords. Only the first match counts, so list
// order is the tie-break when a description hits several.
var technicalKeywords = []struct {
	keyword string
	points  float64
}{
	{"machine learning", 3.0},
	{"ai model", 2.5},
	{"distributed system", 2.5},
	{"microservices", 2.0},
	{"database", 1.5},
	{"api", 1.0},
	{"authentication", 1.5},
	{"encryption", 1.0},
}

// Risk keywords. All matches accumulate.
var riskKeywords = []struct {
	keyword string
	points  float64
}{
	{"security", 2.0},
	{"privacy", 2.0},
	{"legal", 1.5},
	{"compliance", 1.5},
	{"money", 2.0},
	{"payment", 2.5},
	{"financial", 2.0},
	{"data loss", 2.5},
	{"downtime", 1.5},
}

// Urgency keywords for the importance dimension.
var importanceKeywords = []struct {
	keyword string
	points  float64
}{
	{"urgent", 2.0},
	{"critical", 2.5},
	{"important", 1.5},
	{"asap", 2.0},
	{"priority", 1.5},
	{"immediately", 2.0},
	{"as soon as possible", 2.0},
}

// Domain keyword lists for multi-domain detection.
var domainKeywords = map[string][]string{
	"dev":       {"code", "develop", "programming", "software", "app"},
	"design":    {"design", "ui", "ux", "interface", "visual"},
	"marketing": {"market", "content", "campaign", "brand", "promotion"},
	"legal":     {"legal", "contract", "compliance", "policy"},
	"ops":       {"deploy", "monitor", "infrastructure", "ops"},
}

// stepConnectors split a task description into implied steps.
var stepConnectors = []string{"and", "then", "after", "also", "plus"}

var contextRiskPoints = map[string]float64{
	"critical": 3.0,
	"high":     2.0,
	"medium":   1.0,
	"low":      0.0,
}

var contextPriorityPoints = map[string]float64{
	"critical": 3.0,
	"high":     2.0,
	"medium":   1.0,
}

// ===== TYPES =====

// Context carries optional caller-supplied hints that sharpen the scores.
type Context struct {
	RiskLevel string   `mapstructure:"risk_level"`
	Priority  string   `mapstructure:"priority"`
	Domains   []string `mapstructure:"domains"`
}

// ContextFromMap decodes a loosely typed payload, such as a message
// envelope's params, into a Context.
func ContextFromMap(raw map[string]any) (*Context, error) {
	var ctx Context
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ctx,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "build context decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "decode classifier context", err)
	}
	return &ctx, nil
}

// Scores holds the three dimension scores and their weighted total, each
// on a 0 to 10 scale.
type Scores struct {
	Complexity float64 `json:"complexity"`
	Risk       float64 `json:"risk"`
	Importance float64 `json:"importance"`
	Total      float64 `json:"total"`
}

// Decision says who handles the task and under what oversight.
type Decision struct {
	Handler             string `json:"handler"`
	Mode                string `json:"mode"`
	Confidence          string `json:"confidence"`
	Reason              string `json:"reason"`
	EstimatedTime       string `json:"estimatedTime"`
	Oversight           bool   `json:"oversight"`
	RequiresHumanReview bool   `json:"requiresHumanReview,omitempty"`
	RequiresPMReview    bool   `json:"requiresPmReview,omitempty"`
}

// Classification is the full result for one task.
type Classification struct {
	Task          string   `json:"task"`
	Scores        Scores   `json:"scores"`
	IsMultiDomain bool     `json:"isMultiDomain"`
	Decision      Decision `json:"decision"`
	ClassifiedAt  string   `json:"classifiedAt"`
}

// Classifier scores and routes tasks by tier. The zero value is not usable;
// construct with New.
type Classifier struct {
	now func() time.Time
}

// New returns a ready classifier.
func New() *Classifier {
	return &Classifier{now: time.Now}
}

// ===== CLASSIFICATION =====

// Classify scores a task description. ctx may be nil.
func (c *Classifier) Classify(task string, ctx *Context) *Classification {
	if ctx == nil {
		ctx = &Context{}
	}
	lower := strings.ToLower(task)

	complexity := assessComplexity(lower)
	risk := assessRisk(lower, ctx)
	importance := assessImportance(lower, ctx)
	multiDomain := checkMultiDomain(lower, ctx)

	total := complexity*weightComplexity + risk*weightRisk + importance*weightImportance

	return &Classification{
		Task: task,
		Scores: Scores{
			Complexity: round1(complexity),
			Risk:       round1(risk),
			Importance: round1(importance),
			Total:      round1(total),
		},
		IsMultiDomain: multiDomain,
		Decision:      makeDecision(total, multiDomain),
		ClassifiedAt:  c.now().UTC().Format(time.RFC3339),
	}
}

func assessComplexity(lower string) float64 {
	score := 0.0

	score += math.Min(float64(countSteps(lower))*1.5, 4.0)

	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw.keyword) {
			score += kw.points
			break
		}
	}

	score += math.Min(float64(countDependencies(lower))*0.5, 2.0)

	if strings.Contains(lower, "database") || strings.Contains(lower, "sql") {
		score += 1.0
	}
	if strings.Contains(lower, "api") || strings.Contains(lower, "integration") {
		score += 0.5
	}

	return math.Min(score, 10.0)
}

func assessRisk(lower string, ctx *Context) float64 {
	score := 0.0

	for _, kw := range riskKeywords {
		if strings.Contains(lower, kw.keyword) {
			score += kw.points
		}
	}

	if strings.Contains(lower, "user data") || strings.Contains(lower, "personal information") {
		score += 2.0
	}
	if strings.Contains(lower, "payment") || strings.Contains(lower, "credit card") {
		score += 2.5
	}
	if strings.Contains(lower, "password") || strings.Contains(lower, "authentication") {
		score += 1.5
	}

	if strings.Contains(lower, "production") || strings.Contains(lower, "live") {
		score += 2.0
	}
	if strings.Contains(lower, "deploy") {
		score += 1.0
	}

	if ctx.RiskLevel != "" {
		score += contextRiskPoints[strings.ToLower(ctx.RiskLevel)]
	}

	return math.Min(score, 10.0)
}

func assessImportance(lower string, ctx *Context) float64 {
	score := 0.0

	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw.keyword) {
			score += kw.points
		}
	}

	if strings.Contains(lower, "core") || strings.Contains(lower, "strategic") {
		score += 2.0
	}
	if strings.Contains(lower, "key") || strings.Contains(lower, "critical") {
		score += 1.5
	}

	if ctx.Priority != "" {
		score += contextPriorityPoints[strings.ToLower(ctx.Priority)]
	}

	if strings.Contains(lower, "blocking") || strings.Contains(lower, "blocked by") {
		score += 1.5
	}

	return math.Min(score, 10.0)
}

func checkMultiDomain(lower string, ctx *Context) bool {
	seen := map[string]bool{}
	for domain, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				seen[domain] = true
				break
			}
		}
	}
	for _, domain := range ctx.Domains {
		seen[domain] = true
	}
	return len(seen) >= 2
}

func makeDecision(total float64, multiDomain bool) Decision {
	switch {
	case multiDomain || total >= commandThreshold:
		return Decision{
			Handler:             HandlerCommand,
			Mode:                ModeManaged,
			Confidence:          "high",
			Reason:              commandReason(total, multiDomain),
			EstimatedTime:       "10-20 minutes",
			Oversight:           true,
			RequiresHumanReview: total > humanReviewThreshold,
		}
	case total >= assistedThreshold:
		return Decision{
			Handler:          HandlerWorker,
			Mode:             ModeAssisted,
			Confidence:       "medium",
			Reason:           assistedReason(total),
			EstimatedTime:    "3-5 minutes",
			Oversight:        true,
			RequiresPMReview: true,
		}
	default:
		return Decision{
			Handler:       HandlerWorker,
			Mode:          ModeSolo,
			Confidence:    "high",
			Reason:        soloReason(total),
			EstimatedTime: "< 2 minutes",
			Oversight:     false,
		}
	}
}

func commandReason(total float64, multiDomain bool) string {
	var reasons []string
	if multiDomain {
		reasons = append(reasons, "spans multiple domains and needs cross-domain coordination")
	}
	if total > 8.0 {
		reasons = append(reasons, "composite score is very high and needs deep handling")
	} else if total >= commandThreshold {
		reasons = append(reasons, "composite score is high and needs expert control")
	}
	if len(reasons) == 0 {
		return "meets the command-tier handling bar"
	}
	return strings.Join(reasons, "; ")
}

func assistedReason(total float64) string {
	switch {
	case total <= 6.0:
		return "moderate complexity"
	case total < commandThreshold:
		return fmt.Sprintf("elevated complexity (%.1f), pm review recommended", total)
	default:
		return "needs assisted handling"
	}
}

func soloReason(total float64) string {
	if total < 3.0 {
		return "simple task, fast turnaround"
	}
	return "low complexity, can be completed quickly"
}

// countSteps estimates how many sequential steps a description implies by
// counting connective words. A task is at least one step.
func countSteps(lower string) int {
	steps := 1
	for _, conn := range stepConnectors {
		steps += strings.Count(lower, " "+conn+" ")
	}
	if steps > 10 {
		steps = 10
	}
	return steps
}

func countDependencies(lower string) int {
	deps := 0
	for _, marker := range []string{"database", "api", "integration", "external"} {
		if strings.Contains(lower, marker) {
			deps++
		}
	}
	return deps
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

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

// Package router assigns tasks to federation agents. It matches required
// capabilities against registry cards, filters out agents on offline nodes,
// and ranks the survivors by utility score.
package router

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
	"github.com/clawos/brain/pkg/registry"
)

// nodeStatusFile is where the federation publishes node liveness,
// relative to the blackboard root.
const nodeStatusFile = "shared/node-status.json"

// decisionsFile is the append-only routing audit log, relative to the
// blackboard root.
const decisionsFile = "gm/decisions.md"

// maxAlternatives caps how many runners-up a decision reports.
const maxAlternatives = 3

// ===== CAPABILITY EXTRACTION =====

// capabilityRule maps task keywords to the capabilities they imply.
// typeWords match the task type, descWords the description.
type capabilityRule struct {
	typeWords    []string
	descWords    []string
	capabilities []string
}

var capabilityRules = []capabilityRule{
	{
		typeWords:    []string{"code"},
		descWords:    []string{"implement"},
		capabilities: []string{"coding", "software-engineering", "development"},
	},
	{
		typeWords:    []string{"write"},
		descWords:    []string{"document"},
		capabilities: []string{"writing", "content-creation", "documentation"},
	},
	{
		typeWords:    []string{"research"},
		descWords:    []string{"analyze"},
		capabilities: []string{"research", "analysis", "investigation"},
	},
	{
		typeWords:    []string{"test"},
		descWords:    []string{"verify"},
		capabilities: []string{"testing", "quality-assurance", "validation"},
	},
	{
		typeWords:    []string{"alpha"},
		descWords:    []string{"quant", "trading"},
		capabilities: []string{"quantitative", "trading", "alpha"},
	},
}

// ExtractCapabilities derives required capabilities from a task's type and
// description. Unrecognized tasks fall back to the general pool.
func ExtractCapabilities(taskType, description string) []string {
	taskType = strings.ToLower(taskType)
	description = strings.ToLower(description)

	var capabilities []string
	for _, rule := range capabilityRules {
		if matchesAny(taskType, rule.typeWords) || matchesAny(description, rule.descWords) {
			capabilities = append(capabilities, rule.capabilities...)
		}
	}
	if len(capabilities) == 0 {
		return []string{"general"}
	}
	return capabilities
}

func matchesAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// ===== ROUTER =====

// Task is the routing input.
type Task struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Alternative is a runner-up candidate in a decision.
type Alternative struct {
	AgentID string  `json:"agentId"`
	Score   float64 `json:"score"`
}

// Decision is the routing result for a task.
type Decision struct {
	AgentID      string        `json:"agentId"`
	Node         string        `json:"node"`
	Tier         string        `json:"tier"`
	Confidence   float64       `json:"confidence"`
	UtilityScore float64       `json:"utilityScore"`
	Alternatives []Alternative `json:"alternatives"`
}

// Router selects agents for tasks from the card registry.
type Router struct {
	registry *registry.Registry
	root     string
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a router over the card registry and the blackboard root.
func New(reg *registry.Registry, root string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: reg, root: root, logger: logger, now: time.Now}
}

// RouteTask picks the best available agent for a task. When no candidate
// survives capability matching and liveness filtering, the returned error
// carries what was requested and how many candidates existed before the
// liveness filter.
func (r *Router) RouteTask(task *Task) (*Decision, error) {
	capabilities := ExtractCapabilities(task.Type, task.Description)

	var candidates []*registry.Card
	for _, card := range r.registry.List() {
		if card.HasCapability(capabilities) {
			candidates = append(candidates, card)
		}
	}

	nodes := r.loadNodeStatus()
	var available []*registry.Card
	for _, card := range candidates {
		if nodes.online(card.Identity.Node) {
			available = append(available, card)
		}
	}

	if len(available) == 0 {
		return nil, cerrors.New(cerrors.KindNotFound, "No available agent for this task").
			With("capabilities_requested", capabilities).
			With("candidates_found", len(candidates)).
			With("available_count", 0)
	}

	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if a.Metrics.UtilityScore != b.Metrics.UtilityScore {
			return a.Metrics.UtilityScore > b.Metrics.UtilityScore
		}
		if a.Metrics.TasksCompleted != b.Metrics.TasksCompleted {
			return a.Metrics.TasksCompleted > b.Metrics.TasksCompleted
		}
		return a.ID < b.ID
	})

	best := available[0]
	decision := &Decision{
		AgentID:      best.HumanReadableID,
		Node:         best.Identity.Node,
		Tier:         best.Identity.Tier,
		Confidence:   confidence(available),
		UtilityScore: best.Metrics.UtilityScore,
	}
	for _, card := range available[1:] {
		decision.Alternatives = append(decision.Alternatives, Alternative{
			AgentID: card.HumanReadableID,
			Score:   card.Metrics.UtilityScore,
		})
		if len(decision.Alternatives) == maxAlternatives {
			break
		}
	}

	r.logger.Debug("task routed",
		slog.String("task", task.ID),
		slog.String("agent", decision.AgentID),
		slog.Float64("confidence", decision.Confidence))
	return decision, nil
}

// confidence grows with the score gap between the top two candidates. A
// single candidate is a certain choice; two zero-score candidates are a
// coin flip.
func confidence(ranked []*registry.Card) float64 {
	if len(ranked) < 2 {
		return 1.0
	}
	best := ranked[0].Metrics.UtilityScore
	second := ranked[1].Metrics.UtilityScore
	if best == 0 {
		return 0.5
	}
	c := 0.5 + (best-second)/2
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// ===== NODE LIVENESS =====

type nodeEntry struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type nodeStatus struct {
	entries []nodeEntry
	loaded  bool
}

// loadNodeStatus reads the shared node status file. The nodes section may
// be a list or an id-keyed object. A missing or unreadable file means no
// liveness information, and every node is assumed online.
func (r *Router) loadNodeStatus() *nodeStatus {
	status := &nodeStatus{}
	data, err := os.ReadFile(filepath.Join(r.root, nodeStatusFile))
	if err != nil {
		return status
	}

	var asList struct {
		Nodes []nodeEntry `json:"nodes"`
	}
	if err := json.Unmarshal(data, &asList); err == nil && asList.Nodes != nil {
		status.entries = asList.Nodes
		status.loaded = true
		return status
	}

	var asMap struct {
		Nodes map[string]nodeEntry `json:"nodes"`
	}
	if err := json.Unmarshal(data, &asMap); err == nil && asMap.Nodes != nil {
		keys := make([]string, 0, len(asMap.Nodes))
		for k := range asMap.Nodes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			status.entries = append(status.entries, asMap.Nodes[k])
		}
		status.loaded = true
	}
	return status
}

func (s *nodeStatus) online(node string) bool {
	if node == "" || !s.loaded {
		return true
	}
	for _, entry := range s.entries {
		if entry.ID == node || entry.Role == node {
			return entry.Status == "online"
		}
	}
	return true
}

// ===== DECISION LOG =====

// LogDecision appends a routing decision to the command-tier audit log.
func (r *Router) LogDecision(taskID string, decision *Decision, result string) error {
	path := filepath.Join(r.root, decisionsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create decisions dir", err)
	}

	alternatives := "none"
	if len(decision.Alternatives) > 0 {
		ids := make([]string, len(decision.Alternatives))
		for i, alt := range decision.Alternatives {
			ids[i] = alt.AgentID
		}
		alternatives = strings.Join(ids, ", ")
	}

	entry := fmt.Sprintf(`
### %s
- **Time**: %s
- **Selected**: %s (score: %.2f)
- **Node**: %s
- **Confidence**: %.2f
- **Alternatives**: %s
- **Result**: %s

`, taskID, r.now().Format("2006-01-02 15:04:05"), decision.AgentID,
		decision.UtilityScore, decision.Node, decision.Confidence, alternatives, result)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "open decisions log", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return cerrors.Wrap(cerrors.KindIO, "append decision", err)
	}
	return f.Close()
}

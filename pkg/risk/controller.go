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

// Package risk enforces the deployment's risk-limit rules on agent
// actions. Rules load once at start; rules marked immutable survive
// reloads unchanged. Every violation is appended to a persistent log
// whether or not the action was blocked.
package risk

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

// Rule types.
const (
	TypeNodeRestriction   = "node-restriction"
	TypeActionRestriction = "action-restriction"
	TypeResourceLimit     = "resource-limit"
	TypeSafetyAction      = "safety-action"
)

// Enforcement modes. Hard blocks the action; soft lets it through with a
// warning.
const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

// violationsFile is the persistent violation log path relative to the
// blackboard root.
const violationsFile = "shared/violations/violations.json"

// Rule is one risk limit. The fields used depend on Type.
type Rule struct {
	ID               string             `json:"id"`
	Type             string             `json:"type"`
	Agents           []string           `json:"agents"`
	AllowedNodes     []string           `json:"allowedNodes,omitempty"`
	ForbiddenActions []string           `json:"forbiddenActions,omitempty"`
	Limits           map[string]float64 `json:"limits,omitempty"`
	Trigger          string             `json:"trigger,omitempty"`
	Enforcement      string             `json:"enforcement"`
	Description      string             `json:"description,omitempty"`
}

// limitsFile is the on-disk shape of risk-limits.json.
type limitsFile struct {
	Rules     []Rule   `json:"rules"`
	Immutable []string `json:"immutable"`
}

// ActionContext carries the situational inputs a rule may inspect.
type ActionContext struct {
	TargetNode    string
	CurrentUsage  float64
	LastHeartbeat time.Time
}

// Violation is one recorded rule breach.
type Violation struct {
	Timestamp   string `json:"timestamp"`
	AgentID     string `json:"agentId"`
	Action      string `json:"action"`
	Rule        string `json:"rule"`
	Reason      string `json:"reason"`
	Enforcement string `json:"enforcement"`
}

// Controller evaluates actions against the loaded rule set. The rule
// table is treated as read-only between reloads.
type Controller struct {
	root       string
	limitsPath string
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	rules      []Rule
	immutable  map[string]bool
	violations []Violation
}

// NewController loads rules from <root>/shared/risk-limits.json. A missing
// file means no rules and everything allowed.
func NewController(root string, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		root:       root,
		limitsPath: filepath.Join(root, "shared", "risk-limits.json"),
		logger:     logger,
		now:        time.Now,
		immutable:  map[string]bool{},
	}
	if err := c.load(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// load reads the limits file. keep maps rule ids to definitions that must
// survive the load (the immutable rules from a prior load).
func (c *Controller) load(keep map[string]Rule) error {
	data, err := os.ReadFile(c.limitsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.Wrap(cerrors.KindIO, "read risk limits", err)
	}
	var file limitsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "decode risk limits", err)
	}

	rules := file.Rules
	for i, rule := range rules {
		if kept, ok := keep[rule.ID]; ok {
			rules[i] = kept
		}
	}

	c.mu.Lock()
	c.rules = rules
	c.immutable = map[string]bool{}
	for _, id := range file.Immutable {
		c.immutable[id] = true
	}
	c.mu.Unlock()
	return nil
}

// Reload re-reads the limits file. Rules marked immutable keep their
// currently loaded definition regardless of what the file now says.
func (c *Controller) Reload() error {
	c.mu.Lock()
	keep := map[string]Rule{}
	for _, rule := range c.rules {
		if c.immutable[rule.ID] {
			keep[rule.ID] = rule
		}
	}
	c.mu.Unlock()
	return c.load(keep)
}

// Rules returns a copy of the loaded rule set.
func (c *Controller) Rules() []Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// IsImmutable reports whether a rule id is protected from reloads.
func (c *Controller) IsImmutable(ruleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.immutable[ruleID]
}

// ValidateAction checks an action against every applicable rule. A hard
// violation blocks with the reason; a soft one allows with a warning
// prefix. The first violation wins.
func (c *Controller) ValidateAction(agentID, action string, ctx *ActionContext) (bool, string) {
	if ctx == nil {
		ctx = &ActionContext{}
	}
	for _, rule := range c.Rules() {
		if !appliesTo(&rule, agentID) {
			continue
		}

		reason := ""
		switch rule.Type {
		case TypeNodeRestriction:
			reason = c.checkNode(&rule, agentID, ctx)
		case TypeActionRestriction:
			reason = checkAction(&rule, agentID, action)
		case TypeResourceLimit:
			reason = checkResourceLimit(&rule, agentID, ctx)
		case TypeSafetyAction:
			reason = c.checkSafety(&rule, agentID, ctx)
		}
		if reason != "" {
			return c.handleViolation(agentID, action, &rule, reason)
		}
	}
	return true, ""
}

// AllowedNodes returns the union of allowedNodes across every rule that
// applies to the agent. No applicable node rules means everywhere.
func (c *Controller) AllowedNodes(agentID string) []string {
	union := map[string]bool{}
	for _, rule := range c.Rules() {
		if len(rule.AllowedNodes) == 0 || !appliesTo(&rule, agentID) {
			continue
		}
		for _, node := range rule.AllowedNodes {
			union[node] = true
		}
	}
	if len(union) == 0 {
		return []string{"*"}
	}
	nodes := make([]string, 0, len(union))
	for node := range union {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// Violations returns a copy of the in-memory violation log.
func (c *Controller) Violations() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// ===== RULE CHECKS =====

func (c *Controller) checkNode(rule *Rule, agentID string, ctx *ActionContext) string {
	if ctx.TargetNode == "" {
		return ""
	}
	allowed := rule.AllowedNodes
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return ""
	}
	for _, node := range allowed {
		if node == ctx.TargetNode {
			return ""
		}
	}
	return fmt.Sprintf("Node %q not allowed for agent %q (allowed: %s)",
		ctx.TargetNode, agentID, strings.Join(allowed, ", "))
}

func checkAction(rule *Rule, agentID, action string) string {
	for _, forbidden := range rule.ForbiddenActions {
		if action == forbidden {
			return fmt.Sprintf("Action %q forbidden for agent %q", action, agentID)
		}
	}
	return ""
}

func checkResourceLimit(rule *Rule, agentID string, ctx *ActionContext) string {
	limit, ok := rule.Limits[agentID]
	if !ok {
		limit, ok = rule.Limits["default"]
	}
	if !ok {
		limit = math.Inf(1)
	}
	if ctx.CurrentUsage > limit {
		return fmt.Sprintf("Resource limit exceeded for %q (usage %.2f > limit %.2f)",
			agentID, ctx.CurrentUsage, limit)
	}
	return ""
}

// checkSafety evaluates trigger expressions of the form
// "disconnect > N min" against the context heartbeat.
func (c *Controller) checkSafety(rule *Rule, agentID string, ctx *ActionContext) string {
	if !strings.Contains(rule.Trigger, "disconnect") || ctx.LastHeartbeat.IsZero() {
		return ""
	}
	_, after, found := strings.Cut(rule.Trigger, ">")
	if !found {
		return ""
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return ""
	}
	threshold, err := strconv.Atoi(fields[0])
	if err != nil {
		return ""
	}
	minutes := c.now().Sub(ctx.LastHeartbeat).Minutes()
	if minutes > float64(threshold) {
		return fmt.Sprintf("Safety condition violated for %q (disconnected %.0f min, limit %d min)",
			agentID, minutes, threshold)
	}
	return ""
}

// ===== PATTERN MATCHING =====

// appliesTo decides whether a rule's agent patterns cover an agent. A
// matching negation wins immediately; otherwise any positive match
// applies; a pattern list of only unmatched negations means "all except
// these", which applies.
func appliesTo(rule *Rule, agentID string) bool {
	if len(rule.Agents) == 0 {
		return false
	}
	hasPositive := false
	for _, pattern := range rule.Agents {
		if negated, ok := strings.CutPrefix(pattern, "!"); ok {
			if matchPattern(negated, agentID) {
				return false
			}
			continue
		}
		hasPositive = true
		if matchPattern(pattern, agentID) {
			return true
		}
	}
	return !hasPositive
}

func matchPattern(pattern, agentID string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(agentID, prefix)
	}
	return agentID == pattern
}

// ===== VIOLATION HANDLING =====

func (c *Controller) handleViolation(agentID, action string, rule *Rule, reason string) (bool, string) {
	violation := Violation{
		Timestamp:   c.now().UTC().Format(time.RFC3339),
		AgentID:     agentID,
		Action:      action,
		Rule:        rule.ID,
		Reason:      reason,
		Enforcement: rule.Enforcement,
	}

	c.mu.Lock()
	c.violations = append(c.violations, violation)
	snapshot := make([]Violation, len(c.violations))
	copy(snapshot, c.violations)
	c.mu.Unlock()

	if err := c.persistViolations(snapshot); err != nil {
		c.logger.Warn("violation log write failed", slog.String("error", err.Error()))
	}

	if rule.Enforcement == EnforcementHard {
		c.logger.Error("action blocked",
			slog.String("agent", agentID),
			slog.String("rule", rule.ID),
			slog.String("reason", reason))
		return false, reason
	}
	c.logger.Warn("action flagged",
		slog.String("agent", agentID),
		slog.String("rule", rule.ID),
		slog.String("reason", reason))
	return true, "Warning: " + reason
}

func (c *Controller) persistViolations(violations []Violation) error {
	path := filepath.Join(c.root, violationsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create violations dir", err)
	}
	data, err := json.MarshalIndent(violations, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode violations", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write violations", err)
	}
	return nil
}

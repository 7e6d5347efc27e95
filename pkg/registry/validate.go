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

package registry

import (
	"fmt"
	"strings"
	"time"
)

// Report collects what a card validation found. Errors are structural
// problems; Violations are policy rules the card breaks.
type Report struct {
	CardID     string   `json:"cardId"`
	Errors     []string `json:"errors,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// Valid reports whether the card passed with no findings.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0 && len(r.Violations) == 0
}

// Validate checks a card's structure and policy rules:
//
//   - tier must appear as a path segment of humanReadableId
//   - command tier requires the pmAppointment capability
//   - pm tier requires the taskEvaluation capability
//   - worker tier requires a parent
//   - active agents must have heartbeat within HeartbeatMaxAge
func Validate(card *Card, now time.Time) *Report {
	report := &Report{CardID: card.ID}

	if card.ID == "" {
		report.Errors = append(report.Errors, "id is required")
	}
	if card.HumanReadableID == "" {
		report.Errors = append(report.Errors, "humanReadableId is required")
	}
	switch card.Identity.Tier {
	case TierCommand, TierPM, TierWorker:
	case "":
		report.Errors = append(report.Errors, "identity.tier is required")
	default:
		report.Errors = append(report.Errors, fmt.Sprintf("unknown tier %q", card.Identity.Tier))
	}

	tier := card.Identity.Tier
	if card.HumanReadableID != "" && tier != "" {
		if !strings.Contains(card.HumanReadableID, "/"+tier+"/") {
			report.Violations = append(report.Violations,
				fmt.Sprintf("tier %q doesn't match humanReadableId pattern: %s", tier, card.HumanReadableID))
		}
	}

	if tier == TierCommand && !card.Capabilities.PMAppointment {
		report.Violations = append(report.Violations,
			"command tier agents must have pmAppointment capability")
	}
	if tier == TierPM && !card.Capabilities.TaskEvaluation {
		report.Violations = append(report.Violations,
			"pm tier agents must have taskEvaluation capability")
	}
	if tier == TierWorker && card.Identity.Parent == "" {
		report.Violations = append(report.Violations,
			"worker tier agents must have parent PM defined")
	}

	if card.Status.State == StateActive && !card.Status.LastHeartbeat.IsZero() {
		age := now.Sub(card.Status.LastHeartbeat)
		if age > HeartbeatMaxAge {
			report.Violations = append(report.Violations,
				fmt.Sprintf("agent marked active but last heartbeat was %ds ago", int(age.Seconds())))
		}
	}

	return report
}

// ValidateAll validates every card in the registry.
func (r *Registry) ValidateAll(now time.Time) []*Report {
	var reports []*Report
	for _, card := range r.List() {
		reports = append(reports, Validate(card, now))
	}
	return reports
}

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

// Package registry stores and validates agent cards. A card is the public
// identity of an agent: who it is, where it runs, what it can do, and how
// well it has been doing it.
package registry

import (
	"time"
)

// Agent tiers, from most to least authority.
const (
	TierCommand = "command"
	TierPM      = "pm"
	TierWorker  = "worker"
)

// Agent states carried in card status.
const (
	StateActive   = "active"
	StateIdle     = "idle"
	StateOffline  = "offline"
	StateRetired  = "retired"
	StateDegraded = "degraded"
)

// HeartbeatMaxAge is how stale an active agent's heartbeat may be.
const HeartbeatMaxAge = 300 * time.Second

// Skill describes one capability an agent advertises.
type Skill struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// Identity is the who/where section of a card.
type Identity struct {
	Tier   string `json:"tier"`
	Role   string `json:"role"`
	Node   string `json:"node,omitempty"`
	Parent string `json:"parent,omitempty"`
}

// Capabilities enumerates what a card's agent may do.
type Capabilities struct {
	Skills         []Skill `json:"skills"`
	PMAppointment  bool    `json:"pmAppointment,omitempty"`
	TaskEvaluation bool    `json:"taskEvaluation,omitempty"`
}

// Status is the card's runtime state section.
type Status struct {
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
}

// Metrics carries the performance figures routing and nomination read.
type Metrics struct {
	UtilityScore   float64 `json:"utilityScore"`
	TasksCompleted int     `json:"tasksCompleted"`
}

// Card is an agent's registry entry.
type Card struct {
	ID              string            `json:"id"`
	HumanReadableID string            `json:"humanReadableId"`
	Identity        Identity          `json:"identity"`
	Capabilities    Capabilities      `json:"capabilities"`
	Status          Status            `json:"status"`
	Metrics         Metrics           `json:"metrics"`
	Endpoints       map[string]string `json:"endpoints,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

// HasCapability reports whether any requested capability matches one of the
// card's skill ids or tags.
func (c *Card) HasCapability(capabilities []string) bool {
	for _, want := range capabilities {
		for _, skill := range c.Capabilities.Skills {
			if skill.ID == want {
				return true
			}
			for _, tag := range skill.Tags {
				if tag == want {
					return true
				}
			}
		}
	}
	return false
}

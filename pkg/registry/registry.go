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
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/clawos/brain/pkg/cerrors"
)

// Registry is a directory-backed card store: one `<id>.json` per agent.
type Registry struct {
	dir string

	mu    sync.RWMutex
	cards map[string]*Card
}

// New creates a registry over the given cards directory.
func New(dir string) *Registry {
	return &Registry{dir: dir, cards: make(map[string]*Card)}
}

// Load reads every card file in the directory into memory. Unreadable files
// fail the load; an absent directory yields an empty registry.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cards = make(map[string]*Card)
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.Wrap(cerrors.KindIO, "read cards dir", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return cerrors.Wrap(cerrors.KindIO, "read card", err).With("file", e.Name())
		}
		var card Card
		if err := json.Unmarshal(data, &card); err != nil {
			return cerrors.Wrap(cerrors.KindValidation, "decode card", err).With("file", e.Name())
		}
		if card.ID == "" {
			return cerrors.Newf(cerrors.KindValidation, "card %s has no id", e.Name())
		}
		r.cards[card.ID] = &card
	}
	return nil
}

// Get returns the card for an agent id.
func (r *Registry) Get(id string) (*Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, cerrors.Newf(cerrors.KindNotFound, "agent card %s not found", id)
	}
	return card, nil
}

// List returns all cards ordered by id.
func (r *Registry) List() []*Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]*Card, 0, len(r.cards))
	for _, c := range r.cards {
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards
}

// Save writes a card to disk atomically and updates the in-memory view.
func (r *Registry) Save(card *Card) error {
	if card.ID == "" {
		return cerrors.New(cerrors.KindValidation, "card has no id")
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create cards dir", err)
	}
	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode card", err).With("id", card.ID)
	}
	path := filepath.Join(r.dir, card.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write card", err).With("id", card.ID)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "publish card", err).With("id", card.ID)
	}

	r.mu.Lock()
	r.cards[card.ID] = card
	r.mu.Unlock()
	return nil
}

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

// Package memory implements the four-layer memory hierarchy: L1 session
// context in RAM, L2 task history in SQLite, L3 experience recall over a
// JSONL store (with an optional embedded vector backend), and L4 git-synced
// archives. A Manager composes the layers behind one write path.
package memory

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// L1 capacity limits.
const (
	L1MaxSize = 100 * 1024 * 1024 // bytes
	L1MaxKeys = 10000
)

// fallbackEntrySize is charged for values JSON cannot measure.
const fallbackEntrySize = 1024

// L1Entry is a stored value with its bookkeeping.
type L1Entry struct {
	Value     any            `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`

	// charged is the exact size debited from the session when the entry
	// was stored, credited back verbatim on delete.
	charged int
}

// L1Session is the RAM-resident session context. Contents are lost when
// the process exits unless exported.
type L1Session struct {
	sessionID string
	created   time.Time

	mu      sync.RWMutex
	entries map[string]*L1Entry
	order   *list.List               // insertion order, oldest at front
	byKey   map[string]*list.Element // key -> order element
	size    int
}

// NewL1Session creates an empty session context.
func NewL1Session(sessionID string) *L1Session {
	return &L1Session{
		sessionID: sessionID,
		created:   time.Now().UTC(),
		entries:   make(map[string]*L1Entry),
		order:     list.New(),
		byKey:     make(map[string]*list.Element),
	}
}

// SessionID returns the session identifier.
func (s *L1Session) SessionID() string {
	return s.sessionID
}

func estimateSize(value any) int {
	data, err := json.Marshal(value)
	if err != nil {
		return fallbackEntrySize
	}
	return len(data)
}

// Store puts a value into the session context. It returns false when the
// value would push the session past its size limit. When the key count is
// at capacity the oldest entry is evicted to make room.
func (s *L1Session) Store(key string, value any, metadata map[string]any) bool {
	entrySize := estimateSize(value) + 2*len(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+entrySize > L1MaxSize {
		return false
	}
	if _, exists := s.entries[key]; !exists && len(s.entries) >= L1MaxKeys {
		if front := s.order.Front(); front != nil {
			s.deleteLocked(front.Value.(string))
		}
	}
	if _, exists := s.entries[key]; exists {
		s.deleteLocked(key)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	s.entries[key] = &L1Entry{
		Value:     value,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
		charged:   entrySize,
	}
	s.byKey[key] = s.order.PushBack(key)
	s.size += entrySize
	return true
}

// Retrieve returns the stored value, or nil when absent.
func (s *L1Session) Retrieve(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.entries[key]; ok {
		return entry.Value
	}
	return nil
}

// GetEntry returns the full entry including timestamp and metadata.
func (s *L1Session) GetEntry(key string) (*L1Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Delete removes a key. It returns false when the key is absent.
func (s *L1Session) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	s.deleteLocked(key)
	return true
}

func (s *L1Session) deleteLocked(key string) {
	entry := s.entries[key]
	s.size -= entry.charged
	if s.size < 0 {
		s.size = 0
	}
	delete(s.entries, key)
	if el, ok := s.byKey[key]; ok {
		s.order.Remove(el)
		delete(s.byKey, key)
	}
}

// Clear drops all session context.
func (s *L1Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*L1Entry)
	s.order = list.New()
	s.byKey = make(map[string]*list.Element)
	s.size = 0
}

// Keys returns all keys in insertion order.
func (s *L1Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}

// Len returns the number of stored keys.
func (s *L1Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SizeEstimate returns the tracked byte estimate.
func (s *L1Session) SizeEstimate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// L1Export is the portable form of a session.
type L1Export struct {
	SessionID    string              `json:"sessionId"`
	Created      time.Time           `json:"created"`
	Context      map[string]*L1Entry `json:"context"`
	SizeEstimate int                 `json:"sizeEstimate"`
}

// Export snapshots the session for persistence or transfer.
func (s *L1Session) Export() *L1Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx := make(map[string]*L1Entry, len(s.entries))
	for k, v := range s.entries {
		ctx[k] = v
	}
	return &L1Export{
		SessionID:    s.sessionID,
		Created:      s.created,
		Context:      ctx,
		SizeEstimate: s.size,
	}
}

// FromExport restores a session from a snapshot.
func FromExport(export *L1Export) *L1Session {
	s := NewL1Session(export.SessionID)
	if !export.Created.IsZero() {
		s.created = export.Created
	}
	for k, v := range export.Context {
		v.charged = estimateSize(v.Value) + 2*len(k)
		s.entries[k] = v
		s.byKey[k] = s.order.PushBack(k)
		s.size += v.charged
	}
	return s
}

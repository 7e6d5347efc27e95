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

package memory

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

// maxKeywords caps how many keywords are indexed per experience.
const maxKeywords = 20

var keywordPattern = regexp.MustCompile(`\b[a-z]{3,}\b`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "was": {}, "are": {}, "but": {},
	"not": {}, "you": {}, "all": {}, "can": {}, "had": {}, "her": {},
	"one": {}, "our": {}, "out": {},
}

// ExtractKeywords pulls lowercase alphabetic keywords (3+ chars, stopwords
// removed, capped) from free text for matching.
func ExtractKeywords(text string) []string {
	words := keywordPattern.FindAllString(strings.ToLower(text), -1)
	keywords := make([]string, 0, maxKeywords)
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// Experience is one stored learning.
type Experience struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Experience string         `json:"experience"`
	Type       string         `json:"type"`
	Keywords   []string       `json:"keywords"`
	Metadata   map[string]any `json:"metadata"`
	Score      *float64       `json:"score"`
	Created    string         `json:"created"`
	MatchScore float64        `json:"match_score,omitempty"`
}

type l3Index struct {
	ByAgent map[string][]string `json:"by_agent"`
	ByType  map[string][]string `json:"by_type"`
	Total   int                 `json:"total"`
}

func newL3Index() *l3Index {
	return &l3Index{
		ByAgent: make(map[string][]string),
		ByType:  make(map[string][]string),
	}
}

// Recaller is the search surface L3 exposes; the keyword store implements
// it directly and the vector backend satisfies it with embeddings.
type Recaller interface {
	SearchByKeywords(keywords []string, limit int, agentID string) ([]*Experience, error)
}

// L3Experiences is the append-only experience store. Entries live in a
// JSONL file with a JSON side index for cheap stats.
type L3Experiences struct {
	dir       string
	dataPath  string
	indexPath string

	mu     sync.Mutex
	index  *l3Index
	vector *VectorRecall
	now    func() time.Time
}

var _ Recaller = (*L3Experiences)(nil)

// NewL3Experiences opens the store at dir, loading or creating the index.
func NewL3Experiences(dir string) (*L3Experiences, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create experiences dir", err)
	}
	s := &L3Experiences{
		dir:       dir,
		dataPath:  filepath.Join(dir, "experiences.jsonl"),
		indexPath: filepath.Join(dir, "index.json"),
		index:     newL3Index(),
		now:       time.Now,
	}
	if data, err := os.ReadFile(s.indexPath); err == nil {
		var idx l3Index
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, cerrors.Wrap(cerrors.KindValidation, "decode experience index", err)
		}
		if idx.ByAgent == nil {
			idx.ByAgent = make(map[string][]string)
		}
		if idx.ByType == nil {
			idx.ByType = make(map[string][]string)
		}
		s.index = &idx
	} else if !os.IsNotExist(err) {
		return nil, cerrors.Wrap(cerrors.KindIO, "read experience index", err)
	}
	return s, nil
}

// AttachVector layers an embedding index over the keyword store. New
// experiences are written to both, and keyword searches are answered by
// similarity ranking instead of keyword overlap.
func (s *L3Experiences) AttachVector(v *VectorRecall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vector = v
}

func (s *L3Experiences) generateID(agentID, content string) string {
	if len(content) > 100 {
		content = content[:100]
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%d", agentID, content, s.now().UnixNano())))
	return hex.EncodeToString(sum[:])[:12]
}

// Store appends an experience and updates the index, returning its id.
func (s *L3Experiences) Store(agentID, experience, experienceType string, metadata map[string]any, score *float64) (string, error) {
	if experienceType == "" {
		experienceType = "general"
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &Experience{
		ID:         s.generateID(agentID, experience),
		AgentID:    agentID,
		Experience: experience,
		Type:       experienceType,
		Keywords:   ExtractKeywords(experience),
		Metadata:   metadata,
		Score:      score,
		Created:    s.now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindValidation, "encode experience", err)
	}
	f, err := os.OpenFile(s.dataPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindIO, "open experiences file", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return "", cerrors.Wrap(cerrors.KindIO, "append experience", err)
	}
	if err := f.Close(); err != nil {
		return "", cerrors.Wrap(cerrors.KindIO, "close experiences file", err)
	}

	s.index.ByAgent[agentID] = append(s.index.ByAgent[agentID], entry.ID)
	s.index.ByType[experienceType] = append(s.index.ByType[experienceType], entry.ID)
	s.index.Total++
	if err := s.saveIndexLocked(); err != nil {
		return "", err
	}
	if s.vector != nil {
		// The JSONL append already happened, so the id is returned even
		// when embedding fails; RebuildIndex plus a re-attach recovers.
		if err := s.vector.Add(context.Background(), entry); err != nil {
			return entry.ID, err
		}
	}
	return entry.ID, nil
}

func (s *L3Experiences) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode experience index", err)
	}
	if err := os.WriteFile(s.indexPath, data, 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write experience index", err)
	}
	return nil
}

// scan streams every decodable entry to fn.
func (s *L3Experiences) scan(fn func(*Experience)) error {
	f, err := os.Open(s.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.Wrap(cerrors.KindIO, "open experiences file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry Experience
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		fn(&entry)
	}
	return scanner.Err()
}

// RetrieveRecent returns an agent's most recent experiences, newest first,
// optionally filtered by type.
func (s *L3Experiences) RetrieveRecent(agentID string, limit int, experienceType string) ([]*Experience, error) {
	var matched []*Experience
	err := s.scan(func(e *Experience) {
		if e.AgentID != agentID {
			return
		}
		if experienceType != "" && e.Type != experienceType {
			return
		}
		matched = append(matched, e)
	})
	if err != nil {
		return nil, err
	}
	return lastReversed(matched, limit), nil
}

// SearchByKeywords returns experiences matching any of the keywords, scored
// by the fraction of query keywords present, best first. With a vector
// backend attached the query is answered by embedding similarity instead.
func (s *L3Experiences) SearchByKeywords(keywords []string, limit int, agentID string) ([]*Experience, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	vector := s.vector
	s.mu.Unlock()
	if vector != nil {
		return vector.SearchByKeywords(keywords, limit, agentID)
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	var results []*Experience
	err := s.scan(func(e *Experience) {
		if agentID != "" && e.AgentID != agentID {
			return
		}
		indexed := make(map[string]struct{}, len(e.Keywords))
		for _, k := range e.Keywords {
			indexed[k] = struct{}{}
		}
		matches := 0
		for _, k := range lowered {
			if _, ok := indexed[k]; ok {
				matches++
			}
		}
		if matches == 0 {
			return
		}
		scored := *e
		scored.MatchScore = float64(matches) / float64(len(lowered))
		results = append(results, &scored)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchScore > results[j].MatchScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetByType returns the most recent experiences of a type, newest first.
func (s *L3Experiences) GetByType(experienceType string, limit int) ([]*Experience, error) {
	var matched []*Experience
	err := s.scan(func(e *Experience) {
		if e.Type == experienceType {
			matched = append(matched, e)
		}
	})
	if err != nil {
		return nil, err
	}
	return lastReversed(matched, limit), nil
}

// GetHighScoring returns scored experiences at or above minScore, highest
// score first, optionally filtered by agent.
func (s *L3Experiences) GetHighScoring(minScore float64, limit int, agentID string) ([]*Experience, error) {
	var matched []*Experience
	err := s.scan(func(e *Experience) {
		if e.Score == nil || *e.Score < minScore {
			return
		}
		if agentID != "" && e.AgentID != agentID {
			return
		}
		matched = append(matched, e)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return *matched[i].Score > *matched[j].Score
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// L3Stats summarizes the store.
type L3Stats struct {
	TotalExperiences int      `json:"total_experiences"`
	AgentCount       int      `json:"agent_count"`
	TypeCount        int      `json:"type_count"`
	Types            []string `json:"types"`
}

// Stats returns index-derived statistics.
func (s *L3Experiences) Stats() L3Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.index.ByType))
	for t := range s.index.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	return L3Stats{
		TotalExperiences: s.index.Total,
		AgentCount:       len(s.index.ByAgent),
		TypeCount:        len(s.index.ByType),
		Types:            types,
	}
}

// RebuildIndex reconstructs the side index from the JSONL file.
func (s *L3Experiences) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := newL3Index()
	err := s.scan(func(e *Experience) {
		typ := e.Type
		if typ == "" {
			typ = "general"
		}
		idx.ByAgent[e.AgentID] = append(idx.ByAgent[e.AgentID], e.ID)
		idx.ByType[typ] = append(idx.ByType[typ], e.ID)
		idx.Total++
	})
	if err != nil {
		return err
	}
	s.index = idx
	return s.saveIndexLocked()
}

func lastReversed(entries []*Experience, limit int) []*Experience {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*Experience, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/clawos/brain/pkg/cerrors"
)

const vectorCollection = "experiences"

// VectorRecall is the embedded-vector recall backend for L3. It mirrors the
// keyword store's search surface but ranks by embedding similarity, so the
// two are interchangeable behind Recaller.
//
// chromem-go keeps all vectors in RAM with optional gob persistence; that is
// plenty for a single node's experience corpus.
type VectorRecall struct {
	db    *chromem.DB
	col   *chromem.Collection
	embed chromem.EmbeddingFunc
}

var _ Recaller = (*VectorRecall)(nil)

// NewVectorRecall opens (or creates) a persistent vector store at dir.
// The embedding function supplies vectors for both documents and queries;
// pass nil to use chromem's default.
func NewVectorRecall(dir string, embed chromem.EmbeddingFunc) (*VectorRecall, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create vector dir", err)
	}
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "open vector db", err)
	}
	if embed == nil {
		embed = chromem.NewEmbeddingFuncDefault()
	}
	col, err := db.GetOrCreateCollection(vectorCollection, nil, embed)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "open vector collection", err)
	}
	return &VectorRecall{db: db, col: col, embed: embed}, nil
}

// Add indexes an experience for similarity search.
func (v *VectorRecall) Add(ctx context.Context, exp *Experience) error {
	doc := chromem.Document{
		ID:      exp.ID,
		Content: exp.Experience,
		Metadata: map[string]string{
			"agent_id": exp.AgentID,
			"type":     exp.Type,
			"created":  exp.Created,
		},
	}
	if err := v.col.AddDocument(ctx, doc); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "index experience vector", err).With("id", exp.ID)
	}
	return nil
}

// SearchByKeywords satisfies Recaller: the keywords become the query text
// and results are ranked by cosine similarity instead of keyword overlap.
func (v *VectorRecall) SearchByKeywords(keywords []string, limit int, agentID string) ([]*Experience, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	n := v.col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	var where map[string]string
	if agentID != "" {
		where = map[string]string{"agent_id": agentID}
	}

	results, err := v.col.Query(context.Background(), strings.Join(keywords, " "), limit, where, nil)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, fmt.Sprintf("vector query %q", strings.Join(keywords, " ")), err)
	}

	out := make([]*Experience, 0, len(results))
	for _, r := range results {
		out = append(out, &Experience{
			ID:         r.ID,
			AgentID:    r.Metadata["agent_id"],
			Experience: r.Content,
			Type:       r.Metadata["type"],
			Created:    r.Metadata["created"],
			MatchScore: float64(r.Similarity),
		})
	}
	return out, nil
}

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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

// archiveSubdir is where exports live inside the repository.
const archiveSubdir = "memory/github"

// L4Archive exports memory snapshots into a git repository so they survive
// the machine and can be pulled elsewhere. Git plumbing is shelled out; the
// repository and its credentials are the operator's responsibility.
type L4Archive struct {
	repoPath string
	now      func() time.Time
}

// NewL4Archive creates the archive layer over a repository working tree.
func NewL4Archive(repoPath string) (*L4Archive, error) {
	a := &L4Archive{repoPath: repoPath, now: time.Now}
	if err := os.MkdirAll(a.memoryPath(), 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create archive dir", err)
	}
	return a, nil
}

func (a *L4Archive) memoryPath() string {
	return filepath.Join(a.repoPath, archiveSubdir)
}

func (a *L4Archive) isGitRepo() bool {
	info, err := os.Stat(filepath.Join(a.repoPath, ".git"))
	return err == nil && info.IsDir()
}

func (a *L4Archive) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = a.repoPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), cerrors.Wrap(cerrors.KindExec, "git "+args[0], err).
			With("stderr", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (a *L4Archive) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create export dir", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode export", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "write export", err)
	}
	return nil
}

// ExportExperiences writes a dated experiences snapshot and returns its path.
func (a *L4Archive) ExportExperiences(experiences []*Experience) (string, error) {
	now := a.now()
	dateStr := now.Format("2006-01-02")
	path := filepath.Join(a.memoryPath(), dateStr,
		"experiences-"+now.Format("150405")+".json")
	export := map[string]any{
		"exported_at": now.UTC().Format(time.RFC3339),
		"date":        dateStr,
		"experiences": experiences,
		"count":       len(experiences),
		"version":     "1.0",
	}
	if err := a.writeJSON(path, export); err != nil {
		return "", err
	}
	return path, nil
}

// ExportAgentSummary writes (or replaces) an agent's summary file.
func (a *L4Archive) ExportAgentSummary(agentID string, summary map[string]any) (string, error) {
	path := filepath.Join(a.memoryPath(), "agents", agentID+".json")
	data := map[string]any{
		"agent_id":   agentID,
		"updated_at": a.now().UTC().Format(time.RFC3339),
	}
	for k, v := range summary {
		data[k] = v
	}
	if err := a.writeJSON(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ExportSessionArchive writes a session snapshot under a dated directory.
func (a *L4Archive) ExportSessionArchive(sessionID string, sessionData map[string]any) (string, error) {
	path := filepath.Join(a.memoryPath(), "sessions", a.now().Format("2006-01-02"), sessionID+".json")
	data := map[string]any{
		"session_id":  sessionID,
		"archived_at": a.now().UTC().Format(time.RFC3339),
	}
	for k, v := range sessionData {
		data[k] = v
	}
	if err := a.writeJSON(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ExportLessons appends lessons to today's lessons file, merging with any
// already recorded.
func (a *L4Archive) ExportLessons(lessons []map[string]any) (string, error) {
	dateStr := a.now().Format("2006-01-02")
	path := filepath.Join(a.memoryPath(), "lessons", dateStr+".json")

	var existing []map[string]any
	if data, err := os.ReadFile(path); err == nil {
		var prior struct {
			Lessons []map[string]any `json:"lessons"`
		}
		if json.Unmarshal(data, &prior) == nil {
			existing = prior.Lessons
		}
	}
	all := append(existing, lessons...)

	export := map[string]any{
		"date":       dateStr,
		"updated_at": a.now().UTC().Format(time.RFC3339),
		"lessons":    all,
		"count":      len(all),
	}
	if err := a.writeJSON(path, export); err != nil {
		return "", err
	}
	return path, nil
}

// SyncResult reports what a Sync did.
type SyncResult struct {
	Committed     bool   `json:"committed"`
	Message       string `json:"message"`
	CommitHash    string `json:"commit_hash,omitempty"`
	CommitSubject string `json:"commit_subject,omitempty"`
	FilesChanged  int    `json:"files_changed"`
}

// Sync stages and commits pending changes. A clean tree is a successful
// no-op. The repository must already be initialized.
func (a *L4Archive) Sync(ctx context.Context, message string) (*SyncResult, error) {
	if !a.isGitRepo() {
		return nil, cerrors.New(cerrors.KindValidation, "archive path is not a git repository").
			With("path", a.repoPath)
	}

	status, err := a.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return &SyncResult{Committed: false, Message: "No changes to sync"}, nil
	}

	if _, err := a.git(ctx, "add", "."); err != nil {
		return nil, err
	}
	if message == "" {
		message = "Memory sync " + a.now().Format("2006-01-02 15:04")
	}
	if _, err := a.git(ctx, "commit", "-m", message); err != nil {
		return nil, err
	}

	logOut, err := a.git(ctx, "log", "-1", "--format=%H %s")
	if err != nil {
		return nil, err
	}
	hash, subject, _ := strings.Cut(strings.TrimSpace(logOut), " ")

	return &SyncResult{
		Committed:     true,
		Message:       "Committed successfully",
		CommitHash:    hash,
		CommitSubject: subject,
		FilesChanged:  len(strings.Split(status, "\n")),
	}, nil
}

// Push pushes committed sync state to the remote.
func (a *L4Archive) Push(ctx context.Context) error {
	if !a.isGitRepo() {
		return cerrors.New(cerrors.KindValidation, "archive path is not a git repository")
	}
	_, err := a.git(ctx, "push")
	return err
}

// Pull fetches and merges remote sync state.
func (a *L4Archive) Pull(ctx context.Context) (string, error) {
	if !a.isGitRepo() {
		return "", cerrors.New(cerrors.KindValidation, "archive path is not a git repository")
	}
	return a.git(ctx, "pull")
}

// RepoStatus describes the archive repository.
type RepoStatus struct {
	IsRepo       bool   `json:"is_repo"`
	Path         string `json:"path"`
	Branch       string `json:"branch,omitempty"`
	HasChanges   bool   `json:"has_changes"`
	ChangedFiles int    `json:"changed_files"`
	LastCommit   string `json:"last_commit,omitempty"`
}

// Status reports branch, dirtiness, and last commit of the repository.
func (a *L4Archive) Status(ctx context.Context) (*RepoStatus, error) {
	status := &RepoStatus{Path: a.repoPath}
	if !a.isGitRepo() {
		return status, nil
	}
	status.IsRepo = true

	branch, err := a.git(ctx, "branch", "--show-current")
	if err != nil {
		return nil, err
	}
	status.Branch = strings.TrimSpace(branch)

	porcelain, err := a.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	changes := strings.TrimSpace(porcelain)
	status.HasChanges = changes != ""
	if changes != "" {
		status.ChangedFiles = len(strings.Split(changes, "\n"))
	}

	logOut, err := a.git(ctx, "log", "-1", "--format=%H %ci %s")
	if err == nil {
		status.LastCommit = strings.TrimSpace(logOut)
	}
	return status, nil
}

// ExportInfo describes one archived file.
type ExportInfo struct {
	Category string    `json:"category"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ListExports lists archived files, newest first. Category is one of
// "agents", "sessions", "lessons", or "all".
func (a *L4Archive) ListExports(category string) ([]ExportInfo, error) {
	categories := []string{"agents", "sessions", "lessons"}
	if category != "" && category != "all" {
		categories = []string{category}
	}

	var exports []ExportInfo
	for _, cat := range categories {
		catPath := filepath.Join(a.memoryPath(), cat)
		err := filepath.WalkDir(catPath, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, _ := filepath.Rel(a.memoryPath(), path)
			exports = append(exports, ExportInfo{
				Category: cat,
				Path:     rel,
				Size:     info.Size(),
				Modified: info.ModTime(),
			})
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, cerrors.Wrap(cerrors.KindIO, "list exports", err)
		}
	}

	sort.Slice(exports, func(i, j int) bool {
		return exports[i].Modified.After(exports[j].Modified)
	})
	return exports, nil
}

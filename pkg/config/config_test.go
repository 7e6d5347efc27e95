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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawos/brain/pkg/cerrors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultFillsEverySection(t *testing.T) {
	cfg := Default("/data/blackboard")

	assert.Equal(t, "/data/blackboard", cfg.Root)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join("/data/blackboard", "registry", "cards"), cfg.Registry.Dir)
	assert.Equal(t, filepath.Join("/data/blackboard", "federation", "evolution-queue"), cfg.Scheduler.QueueDir)
	assert.Equal(t, 15, cfg.Scheduler.CheckIntervalMinutes)
	assert.Equal(t, 300, cfg.Scheduler.ExecTimeoutSeconds)
	assert.Equal(t, 30, cfg.Scoring.WindowDays)
	assert.Equal(t, "openclaw", cfg.Scheduler.ExecutorCommand)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
root: /srv/brain
log:
  level: debug
scheduler:
  check_interval_minutes: 5
  executor_command: /usr/local/bin/agentctl
scoring:
  window_days: 7
memory:
  vector_dir: /srv/brain/vectors
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/brain", cfg.Root)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Scheduler.CheckIntervalMinutes)
	assert.Equal(t, "/usr/local/bin/agentctl", cfg.Scheduler.ExecutorCommand)
	assert.Equal(t, 7, cfg.Scoring.WindowDays)
	assert.Equal(t, "/srv/brain/vectors", cfg.Memory.VectorDir)
	// Untouched sections still get defaults under the file's root.
	assert.Equal(t, filepath.Join("/srv/brain", "federation", "feedback"), cfg.Scoring.FeedbackDir)
}

func TestDefaultLeavesVectorDirUnset(t *testing.T) {
	cfg := Default("/data/blackboard")
	assert.Empty(t, cfg.Memory.VectorDir)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("BRAIN_ROOT", "/mnt/brain")
	path := writeConfig(t, `
root: ${BRAIN_ROOT}
log:
  level: ${BRAIN_LOG_LEVEL:-warn}
memory:
  history_db: $BRAIN_ROOT/history.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/brain", cfg.Root)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/mnt/brain/history.db", cfg.Memory.HistoryDB)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := writeConfig(t, "root: /srv/brain\nlog:\n  level: loud\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindIO))
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("", "/data/blackboard")
	require.NoError(t, err)
	assert.Equal(t, "/data/blackboard", cfg.Root)

	path := writeConfig(t, "root: /from/file\n")
	cfg, err = LoadOrDefault(path, "/from/flag")
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Root)
}

func TestLoadEnvMissingFileIsFine(t *testing.T) {
	require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLAWOS_SET", "value")
	tests := []struct {
		in   string
		want string
	}{
		{"${CLAWOS_SET}", "value"},
		{"$CLAWOS_SET", "value"},
		{"${CLAWOS_UNSET}", ""},
		{"${CLAWOS_UNSET:-fallback}", "fallback"},
		{"${CLAWOS_SET:-fallback}", "value"},
		{"no variables", "no variables"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnv(tt.in), tt.in)
	}
}

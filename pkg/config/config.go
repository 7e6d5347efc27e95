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

// Package config loads the brain's root YAML configuration. Values
// support environment expansion (${VAR} and ${VAR:-default}); every
// section carries defaults so a minimal file, or none at all, still
// yields a runnable configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clawos/brain/pkg/cerrors"
)

// DefaultRoot is the blackboard root when none is configured.
const DefaultRoot = "~/clawos/blackboard"

// Config is the root configuration.
type Config struct {
	// Root anchors every relative path below.
	Root string `yaml:"root"`

	Log        LogConfig        `yaml:"log"`
	Registry   RegistryConfig   `yaml:"registry"`
	Memory     MemoryConfig     `yaml:"memory"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Nomination NominationConfig `yaml:"nomination"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Risk       RiskConfig       `yaml:"risk"`
}

// LogConfig controls the slog setup.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// RegistryConfig locates agent cards.
type RegistryConfig struct {
	Dir string `yaml:"dir"`
}

// MemoryConfig locates the layered stores. VectorDir is opt-in: when set,
// experience recall ranks by embedding similarity instead of keyword
// overlap.
type MemoryConfig struct {
	HistoryDB     string `yaml:"history_db"`
	ExperienceDir string `yaml:"experience_dir"`
	VectorDir     string `yaml:"vector_dir"`
	ArchiveRepo   string `yaml:"archive_repo"`
	SessionID     string `yaml:"session_id"`
}

// ScoringConfig locates feedback shards and score files.
type ScoringConfig struct {
	FeedbackDir string `yaml:"feedback_dir"`
	ScoreDir    string `yaml:"score_dir"`
	WindowDays  int    `yaml:"window_days"`
}

// NominationConfig locates nomination records.
type NominationConfig struct {
	Dir string `yaml:"dir"`
}

// SchedulerConfig controls the evolution daemon.
type SchedulerConfig struct {
	QueueDir             string   `yaml:"queue_dir"`
	CheckIntervalMinutes int      `yaml:"check_interval_minutes"`
	IdleThresholdMinutes int      `yaml:"idle_threshold_minutes"`
	ExecTimeoutSeconds   int      `yaml:"exec_timeout_seconds"`
	ExecutorCommand      string   `yaml:"executor_command"`
	ExecutorArgs         []string `yaml:"executor_args"`
}

// RiskConfig locates the limits file.
type RiskConfig struct {
	LimitsFile string `yaml:"limits_file"`
}

// Default returns a fully-populated configuration rooted at root. An
// empty root falls back to DefaultRoot.
func Default(root string) *Config {
	cfg := &Config{Root: root}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	c.Root = expandHome(c.Root)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "simple"
	}
	if c.Registry.Dir == "" {
		c.Registry.Dir = filepath.Join(c.Root, "registry", "cards")
	}
	if c.Memory.HistoryDB == "" {
		c.Memory.HistoryDB = filepath.Join(c.Root, "persistence", "memory", "history.db")
	}
	if c.Memory.ExperienceDir == "" {
		c.Memory.ExperienceDir = filepath.Join(c.Root, "persistence", "memory", "experiences")
	}
	if c.Memory.SessionID == "" {
		c.Memory.SessionID = "default"
	}
	if c.Scoring.FeedbackDir == "" {
		c.Scoring.FeedbackDir = filepath.Join(c.Root, "federation", "feedback")
	}
	if c.Scoring.ScoreDir == "" {
		c.Scoring.ScoreDir = filepath.Join(c.Root, "federation", "scores")
	}
	if c.Scoring.WindowDays <= 0 {
		c.Scoring.WindowDays = 30
	}
	if c.Nomination.Dir == "" {
		c.Nomination.Dir = filepath.Join(c.Root, "federation", "nominations")
	}
	if c.Scheduler.QueueDir == "" {
		c.Scheduler.QueueDir = filepath.Join(c.Root, "federation", "evolution-queue")
	}
	if c.Scheduler.CheckIntervalMinutes <= 0 {
		c.Scheduler.CheckIntervalMinutes = 15
	}
	if c.Scheduler.IdleThresholdMinutes <= 0 {
		c.Scheduler.IdleThresholdMinutes = 15
	}
	if c.Scheduler.ExecTimeoutSeconds <= 0 {
		c.Scheduler.ExecTimeoutSeconds = 300
	}
	if c.Scheduler.ExecutorCommand == "" {
		c.Scheduler.ExecutorCommand = "openclaw"
		if len(c.Scheduler.ExecutorArgs) == 0 {
			c.Scheduler.ExecutorArgs = []string{"agent"}
		}
	}
	if c.Risk.LimitsFile == "" {
		c.Risk.LimitsFile = filepath.Join(c.Root, "shared", "risk-limits.json")
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Root == "" {
		return cerrors.New(cerrors.KindValidation, "config: root must not be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return cerrors.Newf(cerrors.KindValidation, "config: unknown log level %q", c.Log.Level)
	}
	if c.Scheduler.CheckIntervalMinutes < 1 {
		return cerrors.New(cerrors.KindValidation, "config: scheduler check interval must be at least a minute")
	}
	return nil
}

// LoadEnv loads a .env file if present. Missing files are not errors.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads, env-expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "read config", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "parse config", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path when given, otherwise returns defaults.
func LoadOrDefault(path, root string) (*Config, error) {
	if path == "" {
		return Default(root), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if root != "" {
		// An explicit root flag wins over the file.
		cfg.Root = expandHome(root)
	}
	return cfg, nil
}

func expandHome(path string) string {
	if path == "~" || (len(path) > 1 && path[0] == '~' && path[1] == '/') {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// String renders the effective configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

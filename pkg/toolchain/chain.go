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

// Package toolchain runs declarative tool pipelines. A chain is an ordered
// list of steps whose parameters are resolved through a small template
// language against the caller's input, earlier step outputs, environment
// variables, and a shared context. Steps can be conditional and carry
// their own error-handling strategy.
package toolchain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clawos/brain/pkg/cerrors"
)

// Error-handling strategies a step may declare. Abort is the default.
const (
	StrategyRetry    = "retry"
	StrategyFallback = "fallback"
	StrategyIgnore   = "ignore"
	StrategyAbort    = "abort"
)

// Fallback names an alternative invocation used when a step fails.
type Fallback struct {
	Tool   string         `yaml:"tool" json:"tool"`
	Params map[string]any `yaml:"params" json:"params"`
}

// ErrorHandling is a step's failure policy.
type ErrorHandling struct {
	Strategy string    `yaml:"strategy" json:"strategy"`
	Retries  int       `yaml:"retries" json:"retries"`
	Fallback *Fallback `yaml:"fallback" json:"fallback"`
}

// Step is one tool invocation in a chain.
type Step struct {
	ID            string         `yaml:"id" json:"id"`
	Tool          string         `yaml:"tool" json:"tool"`
	Params        map[string]any `yaml:"params" json:"params"`
	Condition     string         `yaml:"condition" json:"condition,omitempty"`
	ErrorHandling *ErrorHandling `yaml:"error_handling" json:"error_handling,omitempty"`
}

// Chain is a declarative tool pipeline.
type Chain struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Version     string         `yaml:"version" json:"version"`
	Input       map[string]any `yaml:"input" json:"input"`
	Steps       []Step         `yaml:"steps" json:"steps"`
	Output      map[string]any `yaml:"output" json:"output"`
	Metadata    map[string]any `yaml:"metadata" json:"metadata"`
}

// validate checks structural requirements before execution.
func (c *Chain) validate() error {
	if c.Name == "" {
		return cerrors.New(cerrors.KindValidation, "chain has no name")
	}
	seen := map[string]bool{}
	for i, step := range c.Steps {
		if step.ID == "" {
			return cerrors.Newf(cerrors.KindValidation, "step %d has no id", i)
		}
		if step.Tool == "" {
			return cerrors.Newf(cerrors.KindValidation, "step %s has no tool", step.ID)
		}
		if seen[step.ID] {
			return cerrors.Newf(cerrors.KindValidation, "duplicate step id %s", step.ID)
		}
		seen[step.ID] = true
	}
	return nil
}

// ParseYAML decodes a chain definition from YAML.
func ParseYAML(content []byte) (*Chain, error) {
	var chain Chain
	if err := yaml.Unmarshal(content, &chain); err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, "parse chain yaml", err)
	}
	if chain.Version == "" {
		chain.Version = "1.0.0"
	}
	if err := chain.validate(); err != nil {
		return nil, err
	}
	return &chain, nil
}

// ParseFile decodes a chain definition from a .yaml, .yml, or .json file.
func ParseFile(path string) (*Chain, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "read chain file", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(content)
	case ".json":
		var chain Chain
		if err := json.Unmarshal(content, &chain); err != nil {
			return nil, cerrors.Wrap(cerrors.KindValidation, "parse chain json", err)
		}
		if chain.Version == "" {
			chain.Version = "1.0.0"
		}
		if err := chain.validate(); err != nil {
			return nil, err
		}
		return &chain, nil
	default:
		return nil, cerrors.Newf(cerrors.KindValidation, "unsupported chain format %q", filepath.Ext(path))
	}
}

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

package scheduler

import (
	"bytes"
	"context"
	"os/exec"
)

// ExecResult reports one executor invocation.
type ExecResult struct {
	Success    bool   `json:"success"`
	Agent      string `json:"agent,omitempty"`
	Returncode int    `json:"returncode"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
	ExecutedAt string `json:"executedAt,omitempty"`
}

// Executor dispatches one instruction to an agent. Implementations
// should honor ctx cancellation; the scheduler converts errors into
// failed results.
type Executor interface {
	Run(ctx context.Context, agent, instruction string) (*ExecResult, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, agent, instruction string) (*ExecResult, error)

func (f ExecutorFunc) Run(ctx context.Context, agent, instruction string) (*ExecResult, error) {
	return f(ctx, agent, instruction)
}

// CommandExecutor shells out to an agent CLI, passing the target agent
// and instruction as flags.
type CommandExecutor struct {
	// Command is the binary to invoke, for example "openclaw".
	Command string
	// BaseArgs precede the agent and message flags.
	BaseArgs []string
}

// Run invokes `<command> <baseArgs...> --agent <agent> --message
// <instruction> --json` and captures its output.
func (e *CommandExecutor) Run(ctx context.Context, agent, instruction string) (*ExecResult, error) {
	args := append(append([]string{}, e.BaseArgs...),
		"--agent", agent, "--message", instruction, "--json")
	cmd := exec.CommandContext(ctx, e.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			return nil, err
		}
	}

	return &ExecResult{
		Success:    err == nil,
		Returncode: cmd.ProcessState.ExitCode(),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}, nil
}

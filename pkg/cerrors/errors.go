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

// Package cerrors provides the structured error type shared across the
// coordination core. Errors carry a kind for programmatic dispatch, an
// optional wrapped cause, and free-form context attributes.
package cerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// ERROR KINDS
// ============================================================================

// Kind classifies an error for programmatic handling.
type Kind string

const (
	// KindValidation indicates malformed or out-of-contract input.
	KindValidation Kind = "validation"
	// KindNotFound indicates a missing entity (card, task, mailbox, rule).
	KindNotFound Kind = "not-found"
	// KindIO indicates a filesystem or database failure.
	KindIO Kind = "io"
	// KindConflict indicates a state conflict (duplicate pending nomination,
	// concurrent queue mutation).
	KindConflict Kind = "conflict"
	// KindTimeout indicates an exceeded deadline.
	KindTimeout Kind = "timeout"
	// KindRiskBlocked indicates a hard risk-rule denial.
	KindRiskBlocked Kind = "risk-blocked"
	// KindExec indicates a downstream execution failure (tool, subprocess, LLM).
	KindExec Kind = "exec"
)

// ============================================================================
// ERROR TYPE
// ============================================================================

// Error is the structured error used across packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// With attaches a context attribute and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// KindOf returns the kind of err when it is (or wraps) an *Error, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

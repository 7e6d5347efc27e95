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

package toolchain

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/clawos/brain/pkg/cerrors"
)

// indexedKey matches path segments with an array index, like items[0].
var indexedKey = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// resolver substitutes ${...} template references. References are
// whole-value: a param whose value is "${input.query}" becomes the query
// value with its original type, not a string rendering.
type resolver struct {
	input   map[string]any
	steps   map[string]any
	context map[string]any
}

// resolve walks a value, substituting template strings and recursing into
// maps and slices.
func (r *resolver) resolve(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *resolver) resolveString(s string) (any, error) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s, nil
	}
	ref := s[2 : len(s)-1]

	switch {
	case strings.HasPrefix(ref, "input."):
		return getNested(r.input, strings.TrimPrefix(ref, "input.")), nil
	case strings.HasPrefix(ref, "steps."):
		rest := strings.TrimPrefix(ref, "steps.")
		stepID, path, _ := strings.Cut(rest, ".")
		result, ok := r.steps[stepID]
		if !ok {
			return nil, cerrors.Newf(cerrors.KindValidation, "step not found: %s", stepID)
		}
		return getNested(result, path), nil
	case strings.HasPrefix(ref, "env."):
		return os.Getenv(strings.TrimPrefix(ref, "env.")), nil
	case strings.HasPrefix(ref, "context."):
		return getNested(r.context, strings.TrimPrefix(ref, "context.")), nil
	default:
		return s, nil
	}
}

// getNested follows a dot path through nested maps, honoring array
// indices in segments like results[0]. A broken path yields nil.
func getNested(obj any, path string) any {
	if path == "" {
		return obj
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		if current == nil {
			return nil
		}
		if m := indexedKey.FindStringSubmatch(part); m != nil {
			asMap, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			list, ok := asMap[m[1]].([]any)
			if !ok {
				return nil
			}
			idx, _ := strconv.Atoi(m[2])
			if idx >= len(list) {
				return nil
			}
			current = list[idx]
			continue
		}
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = asMap[part]
	}
	return current
}

// evaluateCondition template-resolves a condition and evaluates it.
// Supported comparisons are >, <, and ==; each side may be a template
// reference or a literal. Anything else is coerced to a boolean with
// truthy-string rules.
func (r *resolver) evaluateCondition(condition string) (bool, error) {
	if condition == "" {
		return true, nil
	}
	if left, right, found := strings.Cut(condition, " > "); found {
		lv, rv, err := r.resolvePair(left, right)
		if err != nil {
			return false, err
		}
		return toNumber(lv) > toNumber(rv), nil
	}
	if left, right, found := strings.Cut(condition, " < "); found {
		lv, rv, err := r.resolvePair(left, right)
		if err != nil {
			return false, err
		}
		return toNumber(lv) < toNumber(rv), nil
	}
	if left, right, found := strings.Cut(condition, " == "); found {
		lv, rv, err := r.resolvePair(left, right)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(fmt.Sprint(lv)) == strings.TrimSpace(fmt.Sprint(rv)), nil
	}

	resolved, err := r.resolveOperand(condition)
	if err != nil {
		return false, err
	}
	if s, ok := resolved.(string); ok {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
	return truthy(resolved), nil
}

func (r *resolver) resolvePair(left, right string) (any, any, error) {
	lv, err := r.resolveOperand(left)
	if err != nil {
		return nil, nil, err
	}
	rv, err := r.resolveOperand(right)
	if err != nil {
		return nil, nil, err
	}
	return lv, rv, nil
}

// resolveOperand resolves one side of a condition: an explicit ${...}
// template, a bare reference like steps.x.output, or a literal.
func (r *resolver) resolveOperand(operand string) (any, error) {
	operand = strings.TrimSpace(operand)
	if strings.HasPrefix(operand, "${") && strings.HasSuffix(operand, "}") {
		return r.resolveString(operand)
	}
	for _, prefix := range []string{"input.", "steps.", "env.", "context."} {
		if strings.HasPrefix(operand, prefix) {
			return r.resolveString("${" + operand + "}")
		}
	}
	return operand, nil
}

func toNumber(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return n
	default:
		n, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
		if err != nil {
			return 0
		}
		return n
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

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

package react

// Phase prompts. Each instructs the oracle to answer in JSON with the
// shape the following phase expects.

const thinkPrompt = `You are analyzing a task. Think through it carefully.

Task: %s

Relevant Past Experiences:
%s

Current Context:
%s

Think through:
1. What is the core problem?
2. What are the constraints?
3. What options do we have?
4. Which option is best and why?

Output JSON:
{
  "analysis": {
    "problem": "core problem description",
    "constraints": ["constraint1", "constraint2"],
    "unknowns": ["unknown1"]
  },
  "options": [
    {
      "id": "option-1",
      "description": "option description",
      "pros": ["pro1"],
      "cons": ["con1"],
      "risk": "low|medium|high"
    }
  ],
  "selectedOption": "option-1",
  "reasoning": "why this option"
}`

const observePrompt = `Analyze the execution result:

Result:
%s

Extract:
1. Key findings
2. Unexpected findings
3. Questions that need follow-up

Output JSON:
{
  "keyFindings": ["finding1", "finding2"],
  "unexpectedFindings": ["unexpected1"],
  "questions": ["question1"]
}`

const reflectPrompt = `Reflect on the execution:

Task: %s

Think Phase:
%s

Act Phase:
%s

Observe Phase:
%s

Evaluate:
1. Did we achieve the goal?
2. What went well?
3. What could be improved?
4. What did we learn?

Output JSON:
{
  "evaluation": {
    "success": true,
    "score": 0.85,
    "criteria": {
      "correctness": 0.9,
      "completeness": 0.8,
      "efficiency": 0.85
    }
  },
  "issues": [
    {
      "type": "error|inefficiency|gap",
      "description": "issue description",
      "severity": "low|medium|high",
      "cause": "root cause"
    }
  ],
  "lessons": ["lesson1", "lesson2"],
  "improvements": ["improvement1"]
}`

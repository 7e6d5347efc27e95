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

// Package blackboard implements the file-based message bus agents use to
// coordinate. Each agent owns a mailbox directory with an inbox and a
// processed archive; messages are JSON envelopes written atomically so a
// reader never observes a partial message.
package blackboard

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is stamped on every envelope.
const ProtocolVersion = "1.0"

// ============================================================================
// ENVELOPE TYPES
// ============================================================================

// MessageType identifies the intent of a message.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeError        MessageType = "error"
)

// Priority orders messages for consumers that drain selectively.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Default TTLs in seconds per message type.
const (
	DefaultRequestTTL      = 3600
	DefaultResponseTTL     = 3600
	DefaultNotificationTTL = 86400
	DefaultErrorTTL        = 86400
)

// AgentRef identifies a message endpoint.
type AgentRef struct {
	Agent   string `json:"agent"`
	Tier    string `json:"tier"`
	Session string `json:"session,omitempty"`
}

// Message is the wire envelope exchanged through mailboxes.
type Message struct {
	Version   string         `json:"version"`
	ID        string         `json:"id"`
	TraceID   string         `json:"traceId"`
	From      AgentRef       `json:"from"`
	To        AgentRef       `json:"to"`
	Type      MessageType    `json:"type"`
	Priority  Priority       `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	TTL       int            `json:"ttl"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the message has outlived its TTL at the given time.
// A non-positive TTL means the message never expires.
func (m *Message) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.Sub(m.Timestamp) > time.Duration(m.TTL)*time.Second
}

// ============================================================================
// BUILDER
// ============================================================================

// Builder constructs envelopes on behalf of a single sender, sharing one
// trace id across everything it produces.
type Builder struct {
	from    AgentRef
	traceID string
	now     func() time.Time
}

// NewBuilder creates a message builder for the given sender. A fresh trace
// id is generated; use WithTraceID to join an existing trace.
func NewBuilder(from AgentRef) *Builder {
	return &Builder{
		from:    from,
		traceID: uuid.NewString(),
		now:     time.Now,
	}
}

// WithTraceID overrides the builder's trace id.
func (b *Builder) WithTraceID(traceID string) *Builder {
	b.traceID = traceID
	return b
}

// TraceID returns the trace id stamped on built messages.
func (b *Builder) TraceID() string {
	return b.traceID
}

func (b *Builder) envelope(to AgentRef, typ MessageType, priority Priority, ttl int, payload map[string]any) *Message {
	return &Message{
		Version:   ProtocolVersion,
		ID:        uuid.NewString(),
		TraceID:   b.traceID,
		From:      b.from,
		To:        to,
		Type:      typ,
		Priority:  priority,
		Timestamp: b.now().UTC(),
		TTL:       ttl,
		Payload:   payload,
	}
}

// Request builds a request message. Deadline is optional; pass the zero
// time to omit it.
func (b *Builder) Request(to AgentRef, action string, params map[string]any, priority Priority, deadline time.Time) *Message {
	payload := map[string]any{
		"action": action,
		"params": params,
	}
	if !deadline.IsZero() {
		payload["deadline"] = deadline.UTC().Format(time.RFC3339)
	}
	return b.envelope(to, TypeRequest, priority, DefaultRequestTTL, payload)
}

// Response builds a response to a previously received request.
func (b *Builder) Response(to AgentRef, requestID, status string, result map[string]any, errMsg string) *Message {
	payload := map[string]any{
		"requestId": requestID,
		"status":    status,
	}
	if result != nil {
		payload["result"] = result
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return b.envelope(to, TypeResponse, PriorityNormal, DefaultResponseTTL, payload)
}

// Notification builds an event notification.
func (b *Builder) Notification(to AgentRef, event, message string, priority Priority) *Message {
	payload := map[string]any{
		"event":   event,
		"message": message,
	}
	return b.envelope(to, TypeNotification, priority, DefaultNotificationTTL, payload)
}

// Progress builds a progress notification. Percent is current/total rounded
// to one decimal, or 0 when total is zero.
func (b *Builder) Progress(to AgentRef, event, message string, current, total int) *Message {
	percent := 0.0
	if total > 0 {
		percent = math.Round(float64(current)/float64(total)*1000) / 10
	}
	msg := b.Notification(to, event, message, PriorityNormal)
	msg.Payload["progress"] = map[string]any{
		"current": current,
		"total":   total,
		"percent": percent,
	}
	return msg
}

// Error builds an error message referencing a failed request.
func (b *Builder) Error(to AgentRef, requestID, code, message string, recoverable bool, suggestion string) *Message {
	payload := map[string]any{
		"requestId":   requestID,
		"code":        code,
		"message":     message,
		"recoverable": recoverable,
	}
	if suggestion != "" {
		payload["suggestion"] = suggestion
	}
	return b.envelope(to, TypeError, PriorityHigh, DefaultErrorTTL, payload)
}

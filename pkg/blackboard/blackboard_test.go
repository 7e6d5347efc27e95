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

package blackboard_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawos/brain/pkg/blackboard"
	"github.com/clawos/brain/pkg/cerrors"
)

func newTestBus(t *testing.T) *blackboard.Bus {
	t.Helper()
	return blackboard.NewBus(t.TempDir(), nil)
}

func gmRef() blackboard.AgentRef {
	return blackboard.AgentRef{Agent: "gm", Tier: "command"}
}

func workerRef() blackboard.AgentRef {
	return blackboard.AgentRef{Agent: "coder-frontend", Tier: "worker"}
}

func TestSendReceivePreservesOrder(t *testing.T) {
	bus := newTestBus(t)
	builder := blackboard.NewBuilder(gmRef())

	var ids []string
	for i := 0; i < 5; i++ {
		msg := builder.Request(workerRef(), "implement", map[string]any{"step": i}, blackboard.PriorityNormal, time.Time{})
		msg.Timestamp = msg.Timestamp.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, bus.Send(msg))
		ids = append(ids, msg.ID)
	}

	got, err := bus.Receive("coder-frontend", 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, msg := range got {
		assert.Equal(t, ids[i], msg.ID)
		assert.Equal(t, blackboard.ProtocolVersion, msg.Version)
		assert.Equal(t, builder.TraceID(), msg.TraceID)
	}
}

func TestReceiveLimit(t *testing.T) {
	bus := newTestBus(t)
	builder := blackboard.NewBuilder(gmRef())
	for i := 0; i < 4; i++ {
		msg := builder.Notification(workerRef(), "ping", "hello", blackboard.PriorityLow)
		msg.Timestamp = msg.Timestamp.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, bus.Send(msg))
	}

	got, err := bus.Receive("coder-frontend", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExpiredMessagesAreDeletedNotReturned(t *testing.T) {
	bus := newTestBus(t)
	builder := blackboard.NewBuilder(gmRef())

	stale := builder.Request(workerRef(), "old", nil, blackboard.PriorityNormal, time.Time{})
	stale.Timestamp = time.Now().Add(-2 * time.Hour)
	stale.TTL = 60
	require.NoError(t, bus.Send(stale))

	fresh := builder.Request(workerRef(), "new", nil, blackboard.PriorityNormal, time.Time{})
	require.NoError(t, bus.Send(fresh))

	got, err := bus.Receive("coder-frontend", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)

	// Second receive must not resurrect the expired message.
	got, err = bus.Receive("coder-frontend", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	stats, err := bus.MailboxStats("coder-frontend")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inbox)
}

func TestMailboxLivesDirectlyUnderRoot(t *testing.T) {
	root := t.TempDir()
	bus := blackboard.NewBus(root, nil)
	builder := blackboard.NewBuilder(gmRef())
	msg := builder.Request(workerRef(), "work", nil, blackboard.PriorityNormal, time.Time{})
	require.NoError(t, bus.Send(msg))

	entries, err := os.ReadDir(filepath.Join(root, "coder-frontend", "inbox"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), msg.ID)
}

func TestAgentsSkipsNonMailboxDirs(t *testing.T) {
	root := t.TempDir()
	bus := blackboard.NewBus(root, nil)
	require.NoError(t, bus.EnsureMailbox("gm"))
	require.NoError(t, bus.EnsureMailbox("coder-frontend"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tasks", "task-1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "federation", "feedback"), 0755))

	agents, err := bus.Agents()
	require.NoError(t, err)
	assert.Equal(t, []string{"coder-frontend", "gm"}, agents)
}

func TestAckMovesToProcessed(t *testing.T) {
	bus := newTestBus(t)
	builder := blackboard.NewBuilder(gmRef())
	msg := builder.Request(workerRef(), "work", nil, blackboard.PriorityHigh, time.Time{})
	require.NoError(t, bus.Send(msg))

	require.NoError(t, bus.Ack("coder-frontend", msg.ID))

	stats, err := bus.MailboxStats("coder-frontend")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inbox)
	assert.Equal(t, 1, stats.Processed)

	// Acking again fails with not-found.
	err = bus.Ack("coder-frontend", msg.ID)
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindNotFound))
}

func TestCheckInboxAutoAck(t *testing.T) {
	bus := newTestBus(t)
	builder := blackboard.NewBuilder(gmRef())
	for i := 0; i < 3; i++ {
		msg := builder.Notification(workerRef(), "tick", "t", blackboard.PriorityNormal)
		msg.Timestamp = msg.Timestamp.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, bus.Send(msg))
	}

	got, err := bus.CheckInbox("coder-frontend", 0, true)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	stats, err := bus.MailboxStats("coder-frontend")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inbox)
	assert.Equal(t, 3, stats.Processed)
}

func TestSendRejectsAnonymousRecipient(t *testing.T) {
	bus := newTestBus(t)
	msg := blackboard.NewBuilder(gmRef()).Request(blackboard.AgentRef{}, "noop", nil, blackboard.PriorityLow, time.Time{})
	err := bus.Send(msg)
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
}

func TestReceiveFromUnknownAgentIsEmpty(t *testing.T) {
	bus := newTestBus(t)
	got, err := bus.Receive("nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuilderShapes(t *testing.T) {
	builder := blackboard.NewBuilder(gmRef())

	t.Run("request", func(t *testing.T) {
		deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		msg := builder.Request(workerRef(), "deploy", map[string]any{"env": "prod"}, blackboard.PriorityCritical, deadline)
		assert.Equal(t, blackboard.TypeRequest, msg.Type)
		assert.Equal(t, blackboard.DefaultRequestTTL, msg.TTL)
		assert.Equal(t, "deploy", msg.Payload["action"])
		assert.Equal(t, "2026-03-01T12:00:00Z", msg.Payload["deadline"])
	})

	t.Run("response", func(t *testing.T) {
		msg := builder.Response(gmRef(), "req-1", "completed", map[string]any{"ok": true}, "")
		assert.Equal(t, blackboard.TypeResponse, msg.Type)
		assert.Equal(t, blackboard.PriorityNormal, msg.Priority)
		assert.Equal(t, "req-1", msg.Payload["requestId"])
		_, hasErr := msg.Payload["error"]
		assert.False(t, hasErr)
	})

	t.Run("error", func(t *testing.T) {
		msg := builder.Error(gmRef(), "req-2", "E_TOOL", "tool exploded", true, "retry later")
		assert.Equal(t, blackboard.TypeError, msg.Type)
		assert.Equal(t, blackboard.PriorityHigh, msg.Priority)
		assert.Equal(t, blackboard.DefaultErrorTTL, msg.TTL)
		assert.Equal(t, true, msg.Payload["recoverable"])
	})
}

func TestProgressPercent(t *testing.T) {
	builder := blackboard.NewBuilder(workerRef())

	tests := []struct {
		name    string
		current int
		total   int
		want    float64
	}{
		{"third", 1, 3, 33.3},
		{"complete", 10, 10, 100},
		{"zero total", 5, 0, 0},
		{"two thirds", 2, 3, 66.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := builder.Progress(gmRef(), "task.progress", "working", tt.current, tt.total)
			progress, ok := msg.Payload["progress"].(map[string]any)
			require.True(t, ok)
			assert.InDelta(t, tt.want, progress["percent"], 1e-9)
		})
	}
}

func TestExpiredHonorsZeroTTL(t *testing.T) {
	msg := &blackboard.Message{Timestamp: time.Now().Add(-time.Hour * 1000), TTL: 0}
	assert.False(t, msg.Expired(time.Now()))
}

func TestErrorKindMatching(t *testing.T) {
	err := cerrors.Wrap(cerrors.KindIO, "boom", errors.New("disk"))
	assert.True(t, cerrors.IsKind(err, cerrors.KindIO))
	assert.False(t, cerrors.IsKind(err, cerrors.KindTimeout))
	assert.Equal(t, cerrors.KindIO, cerrors.KindOf(err))
}

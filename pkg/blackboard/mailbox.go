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

package blackboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clawos/brain/pkg/cerrors"
)

const (
	inboxDir     = "inbox"
	processedDir = "processed"
)

// Bus is the file-backed message bus. All agents on a node share one root;
// each agent owns `<root>/<id>/{inbox,processed}` alongside the other
// blackboard subtrees (tasks, feedback, federation).
type Bus struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewBus creates a bus rooted at the given directory.
func NewBus(root string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{root: root, logger: logger, now: time.Now}
}

// Root returns the bus root directory.
func (b *Bus) Root() string {
	return b.root
}

func (b *Bus) agentDir(agentID string) string {
	return filepath.Join(b.root, agentID)
}

func (b *Bus) inboxPath(agentID string) string {
	return filepath.Join(b.agentDir(agentID), inboxDir)
}

func (b *Bus) processedPath(agentID string) string {
	return filepath.Join(b.agentDir(agentID), processedDir)
}

// EnsureMailbox creates the mailbox directories for an agent.
func (b *Bus) EnsureMailbox(agentID string) error {
	for _, dir := range []string{b.inboxPath(agentID), b.processedPath(agentID)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return cerrors.Wrap(cerrors.KindIO, "create mailbox", err).With("agent", agentID)
		}
	}
	return nil
}

// messageFileName builds a lexicographically sortable file name so that
// directory order equals send order.
func messageFileName(msg *Message) string {
	return fmt.Sprintf("%020d_%s.json", msg.Timestamp.UnixNano(), msg.ID)
}

// Send delivers a message to the recipient's inbox. The write is atomic:
// the message is written to a temp file in the same directory and renamed
// into place.
func (b *Bus) Send(msg *Message) error {
	if msg.To.Agent == "" {
		return cerrors.New(cerrors.KindValidation, "message has no recipient")
	}
	if msg.ID == "" {
		return cerrors.New(cerrors.KindValidation, "message has no id")
	}
	if err := b.EnsureMailbox(msg.To.Agent); err != nil {
		return err
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, "encode message", err).With("id", msg.ID)
	}

	inbox := b.inboxPath(msg.To.Agent)
	final := filepath.Join(inbox, messageFileName(msg))
	tmp, err := os.CreateTemp(inbox, ".send-*")
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create temp message", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return cerrors.Wrap(cerrors.KindIO, "write message", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return cerrors.Wrap(cerrors.KindIO, "close message", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return cerrors.Wrap(cerrors.KindIO, "publish message", err)
	}

	b.logger.Debug("message sent",
		slog.String("id", msg.ID),
		slog.String("from", msg.From.Agent),
		slog.String("to", msg.To.Agent),
		slog.String("type", string(msg.Type)))
	return nil
}

// Receive returns up to limit unexpired messages from the agent's inbox in
// arrival order. Expired messages encountered during the scan are deleted
// rather than returned. Messages remain in the inbox until acknowledged.
func (b *Bus) Receive(agentID string, limit int) ([]*Message, error) {
	inbox := b.inboxPath(agentID)
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.KindIO, "read inbox", err).With("agent", agentID)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	now := b.now()
	var messages []*Message
	for _, name := range names {
		if limit > 0 && len(messages) >= limit {
			break
		}
		path := filepath.Join(inbox, name)
		msg, err := readMessage(path)
		if err != nil {
			b.logger.Warn("skipping unreadable message",
				slog.String("agent", agentID),
				slog.String("file", name),
				slog.String("error", err.Error()))
			continue
		}
		if msg.Expired(now) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				b.logger.Warn("failed to drop expired message",
					slog.String("file", name),
					slog.String("error", err.Error()))
			}
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Ack moves a message from the inbox to the processed archive. Acking a
// message that is not in the inbox returns a not-found error.
func (b *Bus) Ack(agentID, messageID string) error {
	inbox := b.inboxPath(agentID)
	name, err := b.findMessageFile(inbox, messageID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.processedPath(agentID), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "create processed dir", err)
	}
	src := filepath.Join(inbox, name)
	dst := filepath.Join(b.processedPath(agentID), name)
	if err := os.Rename(src, dst); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "archive message", err).With("id", messageID)
	}
	return nil
}

func (b *Bus) findMessageFile(dir, messageID string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", cerrors.Newf(cerrors.KindNotFound, "message %s not found", messageID)
		}
		return "", cerrors.Wrap(cerrors.KindIO, "read mailbox", err)
	}
	suffix := "_" + messageID + ".json"
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			return e.Name(), nil
		}
	}
	return "", cerrors.Newf(cerrors.KindNotFound, "message %s not found", messageID)
}

// CheckInbox drains up to limit messages, optionally acknowledging each one
// as it is returned.
func (b *Bus) CheckInbox(agentID string, limit int, autoAck bool) ([]*Message, error) {
	messages, err := b.Receive(agentID, limit)
	if err != nil {
		return nil, err
	}
	if autoAck {
		for _, msg := range messages {
			if err := b.Ack(agentID, msg.ID); err != nil {
				return messages, err
			}
		}
	}
	return messages, nil
}

// Stats summarizes one agent's mailbox.
type Stats struct {
	Agent     string `json:"agent"`
	Inbox     int    `json:"inbox"`
	Processed int    `json:"processed"`
}

// MailboxStats counts inbox and processed messages for an agent.
func (b *Bus) MailboxStats(agentID string) (Stats, error) {
	stats := Stats{Agent: agentID}
	var err error
	if stats.Inbox, err = countJSONFiles(b.inboxPath(agentID)); err != nil {
		return stats, err
	}
	if stats.Processed, err = countJSONFiles(b.processedPath(agentID)); err != nil {
		return stats, err
	}
	return stats, nil
}

// Agents lists agents with a mailbox under the bus root. Mailboxes share
// the root with other blackboard subtrees, so only directories holding an
// inbox count.
func (b *Bus) Agents() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.Wrap(cerrors.KindIO, "read bus root", err)
	}
	var agents []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info, err := os.Stat(filepath.Join(b.root, e.Name(), inboxDir)); err == nil && info.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	sort.Strings(agents)
	return agents, nil
}

func countJSONFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, cerrors.Wrap(cerrors.KindIO, "read mailbox dir", err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			count++
		}
	}
	return count, nil
}

func readMessage(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

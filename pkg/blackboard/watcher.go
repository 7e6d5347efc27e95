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
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/clawos/brain/pkg/cerrors"
)

// Watcher pushes inbox messages to a channel as they arrive, so consumers
// do not have to poll. Senders publish with an atomic rename, therefore a
// Create event always refers to a complete message file.
type Watcher struct {
	bus     *Bus
	fsw     *fsnotify.Watcher
	agentID string
	out     chan *Message
	logger  *slog.Logger
}

// NewWatcher starts watching an agent's inbox on the given bus. Messages
// already in the inbox are delivered first, then new arrivals as they land.
func NewWatcher(bus *Bus, agentID string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := bus.EnsureMailbox(agentID); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "create inbox watcher", err)
	}
	if err := fsw.Add(bus.inboxPath(agentID)); err != nil {
		fsw.Close()
		return nil, cerrors.Wrap(cerrors.KindIO, "watch inbox", err).With("agent", agentID)
	}
	return &Watcher{
		bus:     bus,
		fsw:     fsw,
		agentID: agentID,
		out:     make(chan *Message, 16),
		logger:  logger,
	}, nil
}

// Messages returns the delivery channel. It is closed when Run returns.
func (w *Watcher) Messages() <-chan *Message {
	return w.out
}

// Run delivers messages until the context is cancelled. Already-queued
// messages are flushed on entry; each fs event triggers a single file read.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.fsw.Close()

	// Flush backlog before relying on events.
	backlog, err := w.bus.Receive(w.agentID, 0)
	if err != nil {
		return err
	}
	for _, msg := range backlog {
		select {
		case w.out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
				continue
			}
			msg, err := readMessage(event.Name)
			if err != nil {
				w.logger.Warn("unreadable inbox message",
					slog.String("agent", w.agentID),
					slog.String("file", name),
					slog.String("error", err.Error()))
				continue
			}
			select {
			case w.out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error",
				slog.String("agent", w.agentID),
				slog.String("error", err.Error()))
		}
	}
}

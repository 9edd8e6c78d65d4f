// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/lib/turnlog"
	"github.com/parley-foundation/parley/render"
)

// Session is one channel's conversational state. All mutation happens
// through the orchestrator; external readers see snapshots only.
type Session struct {
	orch    *Orchestrator
	channel string
	logger  *slog.Logger

	pipeline *render.Pipeline

	mu         sync.Mutex
	state      State
	backendTag string
	family     backend.Backend
	handle     backend.Handle
	model      string
	thinking   string
	open       *Turn
	closed     []*Turn
	snapshot   *render.Cards
	log        *turnlog.Writer
}

// ensureHandle connects the session's backend family if no live
// handle exists. Runs outside the session lock; Connect can block on
// process spawn or network dial.
func (s *Session) ensureHandle(ctx context.Context) (backend.Handle, error) {
	s.mu.Lock()
	if s.handle != nil {
		handle := s.handle
		s.mu.Unlock()
		return handle, nil
	}
	family := s.family
	tag := s.backendTag
	s.mu.Unlock()

	cfg := s.orch.connectConfig(tag)
	cfg.Channel = s.channel
	if cfg.SessionKey == "" {
		cfg.SessionKey = s.orch.settings.Channel(s.channel).SessionKey(tag)
	}
	cfg.Logger = s.logger
	handle, err := family.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting %s backend: %w", tag, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		// Lost the race to another connect; keep the first.
		handle.Close()
		return s.handle, nil
	}
	s.handle = handle
	return handle, nil
}

// dropHandle discards the session's backend handle so the next turn
// connects from scratch. Used when the backend process dies out from
// under the session.
func (s *Session) dropHandle() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()
	if handle != nil {
		handle.Close()
	}
}

// consume is the single reader of one turn's event stream. It applies
// events to the turn's card projection, feeds the render pipeline,
// and hands the turn to finalize when the stream terminates.
func (s *Session) consume(turn *Turn, stream backend.Stream) {
	var terminal backend.Event
	sawTerminal := false

	for event := range stream.Events() {
		s.mu.Lock()
		if s.open != turn {
			// The turn was force-closed (abort backstop); anything
			// still arriving is discarded, not applied.
			s.mu.Unlock()
			continue
		}
		if s.state == StateAwaitingBackend {
			s.state = StateStreaming
		}
		turn.Events = append(turn.Events, event)
		if event.Kind.Terminal() {
			terminal = event
			sawTerminal = true
			s.mu.Unlock()
			continue
		}
		turn.Cards.Apply(event)
		snapshot := turn.Cards.Clone()
		var finishedTool *render.ToolCard
		if event.Kind == backend.ToolFinished {
			for _, card := range turn.Cards.Tools {
				if card.ID == event.ToolID {
					finishedTool = card
				}
			}
		}
		s.mu.Unlock()

		s.pipeline.Observe(snapshot)
		if finishedTool != nil {
			// Output beyond the inline cap goes out as appended
			// fragments now, while the tool closure is fresh.
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			s.pipeline.ToolFinished(ctx, finishedTool)
			cancel()
		}
	}

	status := TurnFinished
	switch {
	case !sawTerminal:
		status = TurnErrored
		turn.Error = "event stream ended without a terminal event"
	case terminal.Kind == backend.BackendError:
		status = TurnErrored
		turn.Error = terminal.Err
	}
	s.finalize(turn, status)
	if !sawTerminal {
		// A stream severed without a terminal event means the backend
		// connection is gone, not just the turn.
		s.dropHandle()
	}
}

// finalize closes a turn through the reconciliation path shared by
// every terminal condition. Safe to call more than once for the same
// turn; only the first call acts.
func (s *Session) finalize(turn *Turn, status TurnStatus) {
	s.mu.Lock()
	if s.open != turn {
		s.mu.Unlock()
		return
	}
	if s.state == StateAborting {
		status = TurnAborted
	}
	s.state = StateSyncing

	// Reconciliation: any tool card still running is forced to a
	// terminal state with its last-known output. The rendered turn
	// never leaves a tool call hanging.
	interrupted := turn.Cards.RunningTools()
	turn.Cards.ForceFinished()
	turn.Status = status
	turn.ClosedAt = time.Now()
	snapshot := turn.Cards.Clone()
	s.snapshot = snapshot
	s.open = nil
	s.closed = append(s.closed, turn)
	handle := s.handle
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, card := range interrupted {
		s.pipeline.ToolFinished(ctx, card)
	}
	if err := s.pipeline.FinalFlush(ctx, snapshot); err != nil {
		s.logger.Error("terminal display flush failed", "turn", turn.ID, "error", err)
	}

	s.appendRecord(turn, snapshot)
	if handle != nil {
		s.persistSessionKey(handle)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info("turn closed",
		"turn", turn.ID,
		"status", string(status),
		"events", len(turn.Events),
		"duration", turn.ClosedAt.Sub(turn.StartedAt).Round(time.Millisecond),
	)
}

// appendRecord writes the closed turn to the turn log. Failures are
// logged and swallowed: persistence is never a precondition for the
// session returning to Idle.
func (s *Session) appendRecord(turn *Turn, snapshot *render.Cards) {
	s.mu.Lock()
	writer := s.log
	tag := s.backendTag
	var sessionKey string
	if s.handle != nil {
		sessionKey = s.handle.SessionKey()
	}
	s.mu.Unlock()
	if writer == nil {
		return
	}
	record := turnlog.TurnRecord{
		Channel:     s.channel,
		BackendTag:  tag,
		TurnID:      turn.ID,
		Status:      recordStatus(turn.Status),
		UserMessage: turn.UserMessage,
		Events:      turn.Events,
		Cards:       snapshot,
		SessionKey:  sessionKey,
		Error:       turn.Error,
		StartedAt:   turn.StartedAt,
		ClosedAt:    turn.ClosedAt,
	}
	if err := writer.Append(record); err != nil {
		s.logger.Error("turn log append failed, continuing without persistence",
			"turn", turn.ID, "error", err)
	}
}

// persistSessionKey records the backend's session identifier so a
// restart reattaches instead of starting a fresh backend session.
func (s *Session) persistSessionKey(handle backend.Handle) {
	key := handle.SessionKey()
	if key == "" {
		return
	}
	s.mu.Lock()
	tag := s.backendTag
	s.mu.Unlock()
	if s.orch.settings.Channel(s.channel).SessionKey(tag) == key {
		return
	}
	if err := s.orch.settings.SetSessionKey(s.channel, tag, key); err != nil {
		s.logger.Warn("persisting backend session key failed", "error", err)
	}
}

// restore rebuilds closed-turn history and the last card snapshot
// from replayed records. A summary record resets the history that
// preceded it, mirroring what compaction did live.
func (s *Session) restore(records []turnlog.TurnRecord) {
	var closed []*Turn
	var snapshot *render.Cards
	for _, record := range records {
		turn := turnFromRecord(record)
		if turn.Status == TurnSummary {
			closed = closed[:0]
		}
		closed = append(closed, turn)
		if turn.Cards != nil {
			snapshot = turn.Cards
		}
	}
	s.mu.Lock()
	s.closed = closed
	s.snapshot = snapshot
	s.mu.Unlock()
}

// closeLocked releases the session's backend handle and log writer.
// Caller holds the mutex.
func (s *Session) closeLocked() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	if s.log != nil {
		s.log.Close()
		s.log = nil
	}
}

// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/parley-foundation/parley/backend"
)

// abortWindow bounds how long an abort waits for the agent to wind
// the prompt down before the stream is forced closed.
const abortWindow = 5 * time.Second

// Family adapts a protocol-speaking agent as a shared singleton.
type Family struct {
	// Command is the agent command line, e.g. ["copilot", "--acp"].
	Command []string

	// WorkDir is the agent's working directory; file access is
	// confined to it.
	WorkDir string

	Logger *slog.Logger

	mu      sync.Mutex
	runtime *runtime
}

func (f *Family) Name() string { return "acp" }

// Connect attaches one channel to the shared agent, spawning it on
// first use or after it has died.
func (f *Family) Connect(ctx context.Context, cfg backend.SessionConfig) (backend.Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = f.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	command := f.Command
	if cfg.BinaryPath != "" {
		command = strings.Fields(cfg.BinaryPath)
	}
	workDir := f.WorkDir
	if cfg.WorkDir != "" {
		workDir = cfg.WorkDir
	}

	f.mu.Lock()
	rt := f.runtime
	if rt == nil || !rt.alive() {
		started, err := startRuntime(ctx, command, workDir, logger.With("backend", f.Name()))
		if err != nil {
			f.mu.Unlock()
			return nil, err
		}
		f.runtime = started
		rt = started
	}
	f.mu.Unlock()

	s, err := rt.newSession(ctx, cfg.Channel)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// session is one channel's conversation on the shared agent.
type session struct {
	runtime   *runtime
	sessionID acpsdk.SessionId
	channel   string
	logger    *slog.Logger

	mu     sync.Mutex
	turn   *backend.TurnStream
	closed bool
}

func (s *session) SendTurn(ctx context.Context, req backend.TurnRequest) (backend.Stream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, backend.ErrClosed
	}
	if s.turn != nil {
		s.mu.Unlock()
		return nil, backend.ErrTurnInFlight
	}
	if !s.runtime.alive() {
		s.mu.Unlock()
		return nil, fmt.Errorf("shared agent is not running")
	}
	stream := backend.NewTurnStream(s.logger)
	s.turn = stream
	s.mu.Unlock()

	// Prompt blocks until the turn completes; session updates arrive
	// through the shared connection while it runs.
	go func() {
		response, err := s.runtime.conn.Prompt(ctx, acpsdk.PromptRequest{
			SessionId: s.sessionID,
			Prompt:    []acpsdk.ContentBlock{acpsdk.TextBlock(req.Message)},
		})
		s.mu.Lock()
		if s.turn == stream {
			s.turn = nil
		}
		s.mu.Unlock()
		if stream.Done() {
			return
		}
		if err != nil {
			stream.Send(backend.Event{
				Kind: backend.BackendError,
				Err:  fmt.Sprintf("prompt failed: %v", err),
				Time: time.Now(),
			})
			return
		}
		s.logger.Debug("prompt completed", "stop_reason", string(response.StopReason))
		stream.Send(backend.Event{Kind: backend.TurnFinished, Time: time.Now()})
	}()
	return stream, nil
}

// Abort cancels this session's prompt only; other channels sharing
// the agent are untouched.
func (s *session) Abort(ctx context.Context) error {
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn == nil {
		return nil
	}
	if err := s.runtime.conn.Cancel(ctx, acpsdk.CancelNotification{SessionId: s.sessionID}); err != nil {
		s.logger.Warn("cancel notification failed, forcing closure", "error", err)
	}
	go func() {
		timer := time.NewTimer(abortWindow)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		if turn.Done() {
			return
		}
		s.mu.Lock()
		if s.turn == turn {
			s.turn = nil
		}
		s.mu.Unlock()
		s.logger.Warn("agent ignored cancellation, closing stream", "window", abortWindow)
		turn.Send(backend.Event{Kind: backend.TurnFinished, Synthetic: true, Time: time.Now()})
	}()
	return nil
}

func (s *session) failOpenTurn(reason string) {
	s.mu.Lock()
	turn := s.turn
	s.turn = nil
	s.mu.Unlock()
	if turn != nil {
		turn.Send(backend.Event{
			Kind: backend.BackendError, Err: reason, Synthetic: true, Time: time.Now(),
		})
	}
}

func (s *session) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	return nil, backend.ErrUnsupported
}

func (s *session) Summarize(ctx context.Context) (string, error) {
	return "", backend.ErrUnsupported
}

func (s *session) LoadSkill(ctx context.Context, name string) error {
	return backend.ErrUnsupported
}

// SessionKey is empty: protocol sessions die with the shared process
// and cannot be resumed across daemon restarts.
func (s *session) SessionKey() string { return "" }

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	turn := s.turn
	s.turn = nil
	s.mu.Unlock()
	if turn != nil {
		turn.Send(backend.Event{Kind: backend.TurnFinished, Synthetic: true, Time: time.Now()})
	}
	s.runtime.release(string(s.sessionID))
	return nil
}

var (
	_ backend.Backend = (*Family)(nil)
	_ backend.Handle  = (*session)(nil)
)

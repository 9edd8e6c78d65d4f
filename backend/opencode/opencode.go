// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package opencode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parley-foundation/parley/backend"
)

const (
	// abortWindow bounds how long an abort waits for the server's own
	// turn-close before the stream is forced shut.
	abortWindow = 5 * time.Second

	// maxStreamRetries caps firehose reconnection attempts.
	maxStreamRetries = 10

	promptAttempts = 3
)

// promptRetryDelay is a variable so tests run without real sleeps.
var promptRetryDelay = 2 * time.Second

// streamRetryDelay spaces firehose reconnects.
var streamRetryDelay = 2 * time.Second

// Family adapts the HTTP agent server. Tag distinguishes the server
// and its protocol-identical fork; both register this family.
type Family struct {
	Tag    string
	Logger *slog.Logger
}

func (f *Family) Name() string {
	if f.Tag != "" {
		return f.Tag
	}
	return "opencode"
}

// Connect creates or resumes a server-side session and starts the
// firehose consumer. cfg.SessionKey, when set, names an existing
// server session to reattach to.
func (f *Family) Connect(ctx context.Context, cfg backend.SessionConfig) (backend.Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = f.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := NewClient(cfg.Endpoint, cfg.Token)
	if err != nil {
		return nil, err
	}
	sessionID := cfg.SessionKey
	if sessionID == "" {
		sessionID, err = client.CreateSession(ctx, "Parley "+cfg.Channel)
		if err != nil {
			return nil, fmt.Errorf("creating backend session: %w", err)
		}
		logger.Info("created backend session", "session_id", sessionID, "channel", cfg.Channel)
	} else {
		logger.Info("resuming backend session", "session_id", sessionID, "channel", cfg.Channel)
	}

	streamCtx, stopStream := context.WithCancel(context.Background())
	s := &session{
		client:     client,
		sessionID:  sessionID,
		channel:    cfg.Channel,
		logger:     logger.With("backend", f.Name(), "channel", cfg.Channel),
		stopStream: stopStream,
	}
	go s.consumeFirehose(streamCtx)
	return s, nil
}

type session struct {
	client     *Client
	sessionID  string
	channel    string
	logger     *slog.Logger
	stopStream context.CancelFunc

	mu       sync.Mutex
	turn     *backend.TurnStream
	streamed strings.Builder // text deltas seen this turn
	model    *modelRef
	closed   bool
}

// consumeFirehose keeps the shared event stream open, reconnecting
// with backoff until the session closes or retries are exhausted.
func (s *session) consumeFirehose(ctx context.Context) {
	retries := 0
	for {
		err := s.client.subscribeEvents(ctx, s.handleFirehoseEvent)
		if ctx.Err() != nil {
			return
		}
		retries++
		if retries > maxStreamRetries {
			s.logger.Error("event stream irrecoverable, giving up", "error", err)
			s.failOpenTurn("backend event stream lost")
			return
		}
		s.logger.Warn("event stream dropped, reconnecting", "error", err, "attempt", retries)
		select {
		case <-time.After(streamRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) handleFirehoseEvent(data []byte) {
	result := parseEvent(data)
	if result.sessionID != "" && result.sessionID != s.sessionID {
		return
	}
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn == nil {
		return
	}
	for _, event := range result.events {
		if event.Kind == backend.TextDelta {
			s.mu.Lock()
			s.streamed.WriteString(event.Text)
			s.mu.Unlock()
		}
		turn.Send(event)
	}
	if result.errText != "" {
		s.closeTurn(turn, backend.Event{
			Kind: backend.BackendError, Err: result.errText, Time: time.Now(),
		})
		return
	}
	if result.turnDone {
		go s.finishTurn(turn)
	}
}

// finishTurn reconciles streamed deltas against the server's final
// message content before closing the stream: any text the firehose
// dropped is appended as one last delta, so the rendered turn matches
// what the backend actually produced.
func (s *session) finishTurn(turn *backend.TurnStream) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.mu.Lock()
	streamed := s.streamed.String()
	s.mu.Unlock()

	final, err := s.client.FinalAssistantText(ctx, s.sessionID)
	switch {
	case err != nil:
		s.logger.Warn("final content fetch failed, closing with streamed content", "error", err)
	case final == "" || final == streamed:
	default:
		if tail, ok := strings.CutPrefix(final, streamed); ok {
			turn.Send(backend.Event{Kind: backend.TextDelta, Text: tail, Time: time.Now()})
			break
		}
		// The streamed text is not a prefix of the real content: the
		// firehose lost a gap mid-turn, likely across a reconnect.
		// An appended tail cannot repair that; replace wholesale.
		s.logger.Warn("streamed content diverged from final, replacing",
			"streamed", len(streamed), "final", len(final))
		turn.Send(backend.Event{
			Kind: backend.TextReplace, Text: final, Synthetic: true, Time: time.Now(),
		})
	}
	s.closeTurn(turn, backend.Event{Kind: backend.TurnFinished, Time: time.Now()})
}

func (s *session) closeTurn(turn *backend.TurnStream, terminal backend.Event) {
	s.mu.Lock()
	if s.turn == turn {
		s.turn = nil
	}
	s.mu.Unlock()
	turn.Send(terminal)
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
	if req.Model != "" {
		provider, model := splitModel(req.Model)
		s.model = &modelRef{ProviderID: provider, ModelID: model}
	}
	model := s.model
	stream := backend.NewTurnStream(s.logger)
	s.turn = stream
	s.streamed.Reset()
	s.mu.Unlock()

	body := promptBody{
		Parts: []promptPart{{Type: "text", Text: req.Message}},
		Model: model,
	}
	if err := s.submitWithRetry(ctx, body); err != nil {
		s.mu.Lock()
		s.turn = nil
		s.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

// submitWithRetry posts the prompt, retrying transient server errors.
// A 404 is terminal: the server no longer knows the session.
func (s *session) submitWithRetry(ctx context.Context, body promptBody) error {
	var lastErr error
	for attempt := 1; attempt <= promptAttempts; attempt++ {
		err := s.client.SendMessage(ctx, s.sessionID, body)
		if err == nil {
			return nil
		}
		if IsNotFound(err) {
			return fmt.Errorf("backend session %s expired: %w", s.sessionID, err)
		}
		lastErr = err
		s.logger.Warn("prompt submission failed", "attempt", attempt, "error", err)
		if attempt < promptAttempts {
			select {
			case <-time.After(promptRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("prompt failed after %d attempts: %w", promptAttempts, lastErr)
}

func (s *session) Abort(ctx context.Context) error {
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn == nil {
		return nil
	}
	if err := s.client.AbortSession(ctx, s.sessionID); err != nil {
		s.logger.Warn("abort request failed, forcing closure", "error", err)
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
		s.logger.Warn("backend ignored abort, closing stream", "window", abortWindow)
		s.closeTurn(turn, backend.Event{Kind: backend.TurnFinished, Synthetic: true, Time: time.Now()})
	}()
	return nil
}

func (s *session) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	providers, err := s.client.Providers(ctx)
	if err != nil {
		return nil, err
	}
	connected := make(map[string]bool, len(providers.Connected))
	for _, id := range providers.Connected {
		connected[id] = true
	}
	var models []backend.ModelInfo
	for _, provider := range providers.All {
		if !connected[provider.ID] {
			continue
		}
		for modelID := range provider.Models {
			models = append(models, backend.ModelInfo{
				Provider: provider.ID,
				ID:       modelID,
				Name:     provider.ID + "/" + modelID,
			})
		}
	}
	return models, nil
}

// Summarize submits the server's compaction command. The server
// rewrites its own history; there is no summary text to return.
func (s *session) Summarize(ctx context.Context) (string, error) {
	err := s.client.SendMessage(ctx, s.sessionID, promptBody{
		Parts: []promptPart{{Type: "text", Text: "/compact"}},
	})
	if err != nil {
		return "", fmt.Errorf("compaction failed: %w", err)
	}
	return "", nil
}

func (s *session) LoadSkill(ctx context.Context, name string) error {
	return backend.ErrUnsupported
}

func (s *session) SessionKey() string { return s.sessionID }

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
	s.stopStream()
	return nil
}

func splitModel(model string) (provider, id string) {
	if idx := strings.IndexByte(model, '/'); idx >= 0 {
		return model[:idx], model[idx+1:]
	}
	return "", model
}

var (
	_ backend.Backend = (*Family)(nil)
	_ backend.Handle  = (*session)(nil)
	_ error           = (*APIError)(nil)
)

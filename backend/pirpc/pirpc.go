// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package pirpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-foundation/parley/backend"
)

const (
	// binaryEnv overrides binary discovery.
	binaryEnv = "PARLEY_PI_BINARY"

	// abortWindow is how long an abort waits for the agent's own
	// terminal event before the stream is forced closed.
	abortWindow = 5 * time.Second

	// responseTimeout bounds command/response round trips.
	responseTimeout = 5 * time.Second
)

// Family runs one local RPC agent process per channel.
type Family struct {
	// Logger for adapter diagnostics; nil means slog.Default().
	Logger *slog.Logger
}

func (f *Family) Name() string { return "pi-rpc" }

// Connect spawns the agent in RPC mode. The backend session file is
// derived from the channel, so reconnecting resumes the agent's own
// conversation history.
func (f *Family) Connect(ctx context.Context, cfg backend.SessionConfig) (backend.Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = f.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	binary, err := findBinary(cfg.BinaryPath)
	if err != nil {
		return nil, err
	}
	sessionDir := cfg.WorkDir
	if sessionDir == "" {
		sessionDir = "."
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	sessionName := "parley-" + cfg.Channel
	sessionFile := filepath.Join(sessionDir, sessionName+".jsonl")

	cmd := exec.CommandContext(ctx, binary,
		"--mode", "rpc",
		"--session", sessionFile,
		"--session-dir", sessionDir)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %s: %w", binary, err)
	}
	logger.Info("agent process started", "binary", binary, "pid", cmd.Process.Pid, "channel", cfg.Channel)

	s := &session{
		channel: cfg.Channel,
		logger:  logger.With("backend", f.Name(), "channel", cfg.Channel),
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[string]chan json.RawMessage),
	}
	go s.readLoop(stdout)
	go s.reap()

	if _, err := s.call(map[string]any{"type": "set_session_name", "name": sessionName}); err != nil {
		s.Close()
		return nil, fmt.Errorf("naming session: %w", err)
	}
	return s, nil
}

// findBinary resolves the agent binary: explicit path, then the
// environment override, then $PATH.
func findBinary(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if fromEnv := os.Getenv(binaryEnv); fromEnv != "" {
		return fromEnv, nil
	}
	path, err := exec.LookPath("pi")
	if err != nil {
		return "", fmt.Errorf("agent binary not found (set %s or --pi-binary): %w", binaryEnv, err)
	}
	return path, nil
}

type session struct {
	channel string
	logger  *slog.Logger
	cmd     *exec.Cmd

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu       sync.Mutex
	turn     *backend.TurnStream
	pending  map[string]chan json.RawMessage
	closed   bool
	model    string
	thinking string
}

// call writes one command line with a fresh id.
func (s *session) call(cmd map[string]any) (string, error) {
	id := uuid.NewString()
	cmd["id"] = id
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		return "", fmt.Errorf("writing %v command: %w", cmd["type"], err)
	}
	return id, nil
}

// callAwait issues a command and waits for its response event.
func (s *session) callAwait(ctx context.Context, cmd map[string]any) (json.RawMessage, error) {
	reply := make(chan json.RawMessage, 1)
	id := uuid.NewString()
	cmd["id"] = id

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, backend.ErrClosed
	}
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	_, err = s.stdin.Write(append(payload, '\n'))
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("writing %v command: %w", cmd["type"], err)
	}

	ctx, cancel := context.WithTimeout(ctx, responseTimeout)
	defer cancel()
	select {
	case data := <-reply:
		return data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %v response: %w", cmd["type"], ctx.Err())
	}
}

func (s *session) readLoop(stdout io.Reader) {
	reader := bufio.NewReaderSize(stdout, 1<<20)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			events, response := parseLine(line)
			if response != nil {
				s.deliverResponse(response)
			}
			for _, event := range events {
				s.deliverEvent(event)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *session) deliverResponse(response *commandResponse) {
	s.mu.Lock()
	reply, ok := s.pending[response.ID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- response.Data:
	default:
	}
}

func (s *session) deliverEvent(event backend.Event) {
	s.mu.Lock()
	turn := s.turn
	if event.Kind.Terminal() {
		s.turn = nil
	}
	s.mu.Unlock()
	if turn == nil {
		return
	}
	turn.Send(event)
}

// reap watches the child. An exit mid-turn is a stream interruption:
// the open turn ends with a backend error carrying what arrived so
// far.
func (s *session) reap() {
	err := s.cmd.Wait()
	s.mu.Lock()
	turn := s.turn
	s.turn = nil
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !alreadyClosed {
		s.logger.Warn("agent process exited", "error", err)
	}
	if turn != nil {
		turn.Send(backend.Event{
			Kind:      backend.BackendError,
			Err:       "agent process exited mid-turn",
			Synthetic: true,
			Time:      time.Now(),
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
	applyModel := req.Model != "" && req.Model != s.model
	applyThinking := req.ThinkingLevel != "" && req.ThinkingLevel != s.thinking
	stream := backend.NewTurnStream(s.logger)
	s.turn = stream
	s.mu.Unlock()

	fail := func(err error) (backend.Stream, error) {
		s.mu.Lock()
		s.turn = nil
		s.mu.Unlock()
		return nil, err
	}
	if applyModel {
		provider, model := splitModel(req.Model)
		if _, err := s.call(map[string]any{"type": "set_model", "provider": provider, "modelId": model}); err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.model = req.Model
		s.mu.Unlock()
	}
	if applyThinking {
		if _, err := s.call(map[string]any{"type": "set_thinking_level", "level": req.ThinkingLevel}); err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.thinking = req.ThinkingLevel
		s.mu.Unlock()
	}
	if _, err := s.call(map[string]any{
		"type":              "prompt",
		"message":           req.Message,
		"stream":            true,
		"streamingBehavior": "steer",
	}); err != nil {
		return fail(err)
	}
	return stream, nil
}

// splitModel parses "provider/id"; a bare id gets an empty provider.
func splitModel(model string) (provider, id string) {
	if idx := strings.IndexByte(model, '/'); idx >= 0 {
		return model[:idx], model[idx+1:]
	}
	return "", model
}

// Abort asks the agent to stop. If no terminal event arrives within
// the abort window the stream is forced closed.
func (s *session) Abort(ctx context.Context) error {
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn == nil {
		return nil
	}
	if _, err := s.call(map[string]any{"type": "abort"}); err != nil {
		s.logger.Warn("abort command failed, forcing closure", "error", err)
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
		s.logger.Warn("agent ignored abort, closing stream", "window", abortWindow)
		turn.Send(backend.Event{Kind: backend.TurnFinished, Synthetic: true, Time: time.Now()})
	}()
	return nil
}

func (s *session) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	data, err := s.callAwait(ctx, map[string]any{"type": "get_available_models"})
	if err != nil {
		return nil, err
	}
	var response struct {
		Models []struct {
			Provider string `json:"provider"`
			ID       string `json:"id"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	models := make([]backend.ModelInfo, 0, len(response.Models))
	for _, m := range response.Models {
		models = append(models, backend.ModelInfo{
			Provider: m.Provider,
			ID:       m.ID,
			Name:     m.Provider + "/" + m.ID,
		})
	}
	return models, nil
}

// Summarize triggers the agent's own context compaction. The agent
// keeps the summary on its side, so the returned text is empty.
func (s *session) Summarize(ctx context.Context) (string, error) {
	_, err := s.call(map[string]any{"type": "compact"})
	return "", err
}

func (s *session) LoadSkill(ctx context.Context, name string) error {
	_, err := s.call(map[string]any{"type": "load_skill", "name": name})
	return err
}

// SessionKey is empty: the backend session is addressed by the
// channel-derived session file, not a server-issued key.
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
	s.writeMu.Lock()
	s.stdin.Close()
	s.writeMu.Unlock()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return nil
}

var (
	_ backend.Backend = (*Family)(nil)
	_ backend.Handle  = (*session)(nil)
)

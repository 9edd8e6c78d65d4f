// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
)

// runtime owns the shared agent process and its protocol connection.
// It exists while at least one channel holds a session on it.
type runtime struct {
	logger  *slog.Logger
	workDir string

	mu       sync.Mutex
	cmd      *exec.Cmd
	conn     *acpsdk.ClientSideConnection
	sessions map[string]*session
	refs     int
	dead     bool
}

// startRuntime spawns the agent and completes the protocol handshake.
func startRuntime(ctx context.Context, command []string, workDir string, logger *slog.Logger) (*runtime, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("agent command is required")
	}
	rt := &runtime{
		logger:   logger,
		workDir:  workDir,
		sessions: make(map[string]*session),
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workDir
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %s: %w", command[0], err)
	}
	rt.cmd = cmd
	rt.conn = acpsdk.NewClientSideConnection(&bridgeClient{runtime: rt}, stdin, stdout)
	rt.conn.SetLogger(logger)

	_, err = rt.conn.Initialize(ctx, acpsdk.InitializeRequest{
		ProtocolVersion: acpsdk.ProtocolVersionNumber,
		ClientCapabilities: acpsdk.ClientCapabilities{
			Fs: acpsdk.FileSystemCapability{
				ReadTextFile:  true,
				WriteTextFile: true,
			},
		},
	})
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("protocol handshake: %w", err)
	}
	logger.Info("shared agent started", "command", command[0], "pid", cmd.Process.Pid)
	go rt.reap()
	return rt, nil
}

// reap watches the shared process. Its death fails every open turn
// on every session at once.
func (rt *runtime) reap() {
	err := rt.cmd.Wait()
	rt.mu.Lock()
	wasDead := rt.dead
	rt.dead = true
	sessions := make([]*session, 0, len(rt.sessions))
	for _, s := range rt.sessions {
		sessions = append(sessions, s)
	}
	rt.mu.Unlock()
	if !wasDead {
		rt.logger.Warn("shared agent process exited", "error", err)
	}
	for _, s := range sessions {
		s.failOpenTurn("agent process exited mid-turn")
	}
}

// newSession creates one protocol session for a channel.
func (rt *runtime) newSession(ctx context.Context, channel string) (*session, error) {
	response, err := rt.conn.NewSession(ctx, acpsdk.NewSessionRequest{
		Cwd:        rt.workDir,
		McpServers: []acpsdk.McpServer{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating protocol session: %w", err)
	}
	s := &session{
		runtime:   rt,
		sessionID: response.SessionId,
		channel:   channel,
		logger:    rt.logger.With("acp_session", string(response.SessionId), "channel", channel),
	}
	rt.mu.Lock()
	rt.sessions[string(response.SessionId)] = s
	rt.refs++
	rt.mu.Unlock()
	return s, nil
}

// dispatch routes one update from the shared connection to the
// session it belongs to. Updates for unknown or idle sessions are
// dropped; the shared stream never blocks on one channel.
func (rt *runtime) dispatch(sessionID string, update acpsdk.SessionUpdate) {
	rt.mu.Lock()
	s := rt.sessions[sessionID]
	rt.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn == nil {
		return
	}
	for _, event := range translateUpdate(update, time.Now()) {
		turn.Send(event)
	}
}

// release detaches one session. The process is reaped when the last
// session goes.
func (rt *runtime) release(sessionID string) (lastOut bool) {
	rt.mu.Lock()
	if _, ok := rt.sessions[sessionID]; ok {
		delete(rt.sessions, sessionID)
		rt.refs--
	}
	lastOut = rt.refs == 0 && !rt.dead
	if lastOut {
		rt.dead = true
	}
	rt.mu.Unlock()
	if lastOut && rt.cmd.Process != nil {
		rt.logger.Info("last session detached, stopping shared agent")
		rt.cmd.Process.Kill()
	}
	return lastOut
}

func (rt *runtime) alive() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return !rt.dead
}

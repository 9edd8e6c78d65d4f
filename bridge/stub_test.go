// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/chat"
	"github.com/parley-foundation/parley/lib/config"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubFamily is a scripted backend family: each connect hands out a
// handle whose event stream the test drives directly.
type stubFamily struct {
	mu         sync.Mutex
	connectErr error
	handles    []*stubHandle
}

func (f *stubFamily) Name() string { return "stub" }

func (f *stubFamily) Connect(ctx context.Context, cfg backend.SessionConfig) (backend.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	h := &stubHandle{sessionKey: "stub-session-" + cfg.Channel, config: cfg}
	f.handles = append(f.handles, h)
	return h, nil
}

// last returns the most recently connected handle.
func (f *stubFamily) last(t *testing.T) *stubHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		t.Fatal("no backend connection was established")
	}
	return f.handles[len(f.handles)-1]
}

func (f *stubFamily) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

type stubHandle struct {
	mu            sync.Mutex
	config        backend.SessionConfig
	events        chan backend.Event
	closeOnce     sync.Once
	sendErr       error
	aborted       bool
	abortSilently bool
	summary       string
	summarizeErr  error
	sessionKey    string
	closed        bool
	lastRequest   backend.TurnRequest
	loadedSkills  []string
}

func (h *stubHandle) SendTurn(ctx context.Context, req backend.TurnRequest) (backend.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, backend.ErrClosed
	}
	if h.sendErr != nil {
		return nil, h.sendErr
	}
	h.lastRequest = req
	h.events = make(chan backend.Event, 64)
	h.closeOnce = sync.Once{}
	return backend.StreamOf(h.events), nil
}

// emit pushes one event into the open turn's stream.
func (h *stubHandle) emit(event backend.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	event.Time = time.Now()
	h.events <- event
}

// end closes the stream without any further events.
func (h *stubHandle) end() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeOnce.Do(func() { close(h.events) })
}

// finish emits a terminal event and closes the stream.
func (h *stubHandle) finish() {
	h.emit(backend.Event{Kind: backend.TurnFinished})
	h.end()
}

func (h *stubHandle) Abort(ctx context.Context) error {
	h.mu.Lock()
	h.aborted = true
	silent := h.abortSilently
	events := h.events
	h.mu.Unlock()
	if silent || events == nil {
		return nil
	}
	h.emit(backend.Event{Kind: backend.TurnFinished, Synthetic: true})
	h.end()
	return nil
}

func (h *stubHandle) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	return []backend.ModelInfo{{Provider: "stub", ID: "stub-large"}}, nil
}

func (h *stubHandle) Summarize(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary, h.summarizeErr
}

func (h *stubHandle) LoadSkill(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadedSkills = append(h.loadedSkills, name)
	return nil
}

func (h *stubHandle) SessionKey() string { return h.sessionKey }

func (h *stubHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

var (
	_ backend.Backend = (*stubFamily)(nil)
	_ backend.Handle  = (*stubHandle)(nil)
)

// allowUser authorizes exactly one user name.
type allowUser string

func (a allowUser) Authorized(channel, user string) bool { return user == string(a) }

// fixture bundles an orchestrator wired to in-memory collaborators.
type fixture struct {
	orch     *Orchestrator
	family   *stubFamily
	alt      *stubFamily
	sink     *chat.MemorySink
	settings *config.Store
	stateDir string
}

func newFixture(t *testing.T, auth Authorizer) *fixture {
	t.Helper()
	stateDir := t.TempDir()
	settings, err := config.OpenStore(stateDir + "/channels.jsonc")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	family := &stubFamily{}
	alt := &stubFamily{}
	registry := backend.NewRegistry()
	registry.Register("stub", family)
	registry.Register("alt", alt)
	sink := chat.NewMemorySink(0)

	orch := NewOrchestrator(Options{
		Registry:       registry,
		Sink:           sink,
		Settings:       settings,
		Auth:           auth,
		StateDir:       stateDir,
		DefaultBackend: "stub",
		ToolGrace:      50 * time.Millisecond,
		MinInterval:    10 * time.Millisecond,
		Logger:         testLogger(t),
	})
	orch.abortWindow = 50 * time.Millisecond
	t.Cleanup(orch.Close)
	return &fixture{
		orch:     orch,
		family:   family,
		alt:      alt,
		sink:     sink,
		settings: settings,
		stateDir: stateDir,
	}
}

func (f *fixture) waitState(t *testing.T, channel string, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := f.orch.SessionState(channel); ok && state == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, _ := f.orch.SessionState(channel)
	t.Fatalf("timed out waiting for state %s, still %s", want, state)
}

// waitClosed waits for the channel to return to Idle with n closed
// turns.
func (f *fixture) waitClosed(t *testing.T, channel string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, ok := f.orch.SessionState(channel)
		if ok && state == StateIdle && len(f.orch.History(channel)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d closed turns; history=%d",
		n, len(f.orch.History(channel)))
}

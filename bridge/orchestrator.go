// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/chat"
	"github.com/parley-foundation/parley/lib/config"
	"github.com/parley-foundation/parley/lib/turnlog"
	"github.com/parley-foundation/parley/render"
)

var (
	// ErrBusy means a turn is open and the requested operation is not
	// eligible to interrupt it. Operations are rejected, never
	// queued; the caller surfaces this to the user.
	ErrBusy = errors.New("bridge: session busy")

	// ErrUnauthorized means the user may not start turns in the
	// channel. No adapter is invoked.
	ErrUnauthorized = errors.New("bridge: not authorized")

	// ErrNoOpenTurn means abort was requested with nothing to abort.
	ErrNoOpenTurn = errors.New("bridge: no turn in flight")
)

// defaultAbortWindow bounds how long an abort waits for the backend
// before the orchestrator closes the turn regardless.
var defaultAbortWindow = 5 * time.Second

// Authorizer answers whether a user may start turns in a channel.
type Authorizer interface {
	Authorized(channel, user string) bool
}

// Settings is the per-channel configuration boundary, read at turn
// start and updated by explicit switch operations.
type Settings interface {
	Channel(channel string) config.ChannelSettings
	SetChannel(channel string, settings config.ChannelSettings) error
	SetSessionKey(channel, tag, key string) error
	Channels() []string
}

// Options configures an orchestrator.
type Options struct {
	// Registry maps backend tags to families.
	Registry *backend.Registry

	// Sink is the display surface.
	Sink chat.Sink

	// Settings is the channel settings store.
	Settings Settings

	// Auth gates turn starts. Nil allows everyone.
	Auth Authorizer

	// StateDir holds the turn logs.
	StateDir string

	// DefaultBackend is the tag for channels with no selection.
	DefaultBackend string

	// ConnectConfig supplies the family-level connection settings
	// (binary paths, endpoints, tokens) for a tag. Nil means zero
	// config.
	ConnectConfig func(tag string) backend.SessionConfig

	// ToolGrace is the missing-tool-finished synthesis timeout.
	ToolGrace time.Duration

	// MinInterval is the render throttle floor per channel.
	MinInterval time.Duration

	Logger *slog.Logger
}

// Orchestrator owns every channel's session and serializes their
// state-mutating operations. Sessions are fully independent; one
// channel's turn never blocks another's.
type Orchestrator struct {
	registry      *backend.Registry
	sink          chat.Sink
	settings      Settings
	auth          Authorizer
	stateDir      string
	defaultTag    string
	connectConfig func(tag string) backend.SessionConfig
	toolGrace     time.Duration
	minInterval   time.Duration
	abortWindow   time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator returns an orchestrator with no sessions yet.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connect := opts.ConnectConfig
	if connect == nil {
		connect = func(string) backend.SessionConfig { return backend.SessionConfig{} }
	}
	toolGrace := opts.ToolGrace
	if toolGrace <= 0 {
		toolGrace = backend.DefaultToolGrace
	}
	return &Orchestrator{
		registry:      opts.Registry,
		sink:          opts.Sink,
		settings:      opts.Settings,
		auth:          opts.Auth,
		stateDir:      opts.StateDir,
		defaultTag:    opts.DefaultBackend,
		connectConfig: connect,
		toolGrace:     toolGrace,
		minInterval:   opts.MinInterval,
		abortWindow:   defaultAbortWindow,
		logger:        logger,
		sessions:      make(map[string]*Session),
	}
}

// Restore pre-creates sessions for every channel the settings store
// knows, replaying each turn log so conversation history is available
// before the first inbound message.
func (o *Orchestrator) Restore() {
	for _, channel := range o.settings.Channels() {
		if _, err := o.session(channel); err != nil {
			o.logger.Error("restoring channel session failed", "channel", channel, "error", err)
		}
	}
}

// session returns the channel's session, creating and replaying it on
// first touch.
func (o *Orchestrator) session(channel string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[channel]; ok {
		return s, nil
	}

	settings := o.settings.Channel(channel)
	tag := settings.Backend
	if tag == "" {
		tag = o.defaultTag
	}
	family, err := o.registry.Lookup(tag)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With("channel", channel, "backend", tag)
	s := &Session{
		orch:       o,
		channel:    channel,
		logger:     logger,
		state:      StateIdle,
		backendTag: tag,
		family:     family,
		model:      settings.Model,
		thinking:   settings.ThinkingLevel,
		pipeline: render.NewPipeline(render.PipelineConfig{
			Sink:        o.sink,
			Channel:     channel,
			MinInterval: o.minInterval,
			Logger:      logger,
		}),
	}
	s.attachLog()
	o.sessions[channel] = s
	return s, nil
}

// lookup returns an existing session without creating one.
func (o *Orchestrator) lookup(channel string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[channel]
}

// attachLog replays the session's turn log and opens it for
// appending. Log trouble degrades to in-memory-only operation.
func (s *Session) attachLog() {
	path := turnlog.LogPath(s.orch.stateDir, s.channel, s.backendTag)
	records, err := turnlog.Replay(path)
	if err != nil {
		s.logger.Error("turn log replay failed, starting with empty history", "error", err)
	}
	s.restore(records)
	writer, err := turnlog.OpenWriter(path)
	if err != nil {
		s.logger.Error("turn log unavailable, persistence disabled for this session", "error", err)
		return
	}
	s.mu.Lock()
	s.log = writer
	s.mu.Unlock()
}

// ShouldProcess applies mention gating: in mention-only channels a
// message starts a turn only when it explicitly addresses the
// assistant (platform mention flag, or the configured assistant name
// appearing in the text).
func (o *Orchestrator) ShouldProcess(channel, message string, mentioned bool) bool {
	settings := o.settings.Channel(channel)
	if !settings.MentionOnly {
		return true
	}
	if mentioned {
		return true
	}
	name := settings.AssistantName
	return name != "" && strings.Contains(strings.ToLower(message), strings.ToLower(name))
}

// StartTurn submits a user message as a new turn. It returns once the
// backend accepted the turn and the event stream is attached; the
// turn then progresses in the background. Rejections are synchronous:
// ErrUnauthorized, ErrBusy, or a connection error with the session
// back at Idle and no turn recorded.
func (o *Orchestrator) StartTurn(ctx context.Context, channel, user, message string) (string, error) {
	if o.auth != nil && !o.auth.Authorized(channel, user) {
		return "", ErrUnauthorized
	}
	s, err := o.session(channel)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.state != StateIdle && s.state != StateError {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.state = StateAwaitingBackend
	model := s.model
	thinking := s.thinking
	tag := s.backendTag
	s.mu.Unlock()

	fail := func(err error) (string, error) {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return "", err
	}

	handle, err := s.ensureHandle(ctx)
	if err != nil {
		return fail(err)
	}

	turnID := uuid.NewString()
	req := backend.TurnRequest{
		TurnID:        turnID,
		Message:       message,
		Model:         model,
		ThinkingLevel: thinking,
	}
	raw, err := handle.SendTurn(ctx, req)
	if errors.Is(err, backend.ErrClosed) {
		// The backend process died since the last turn. Drop the dead
		// handle and reconnect from scratch, once.
		s.logger.Warn("backend handle dead, reconnecting", "backend", tag)
		s.dropHandle()
		if handle, err = s.ensureHandle(ctx); err == nil {
			raw, err = handle.SendTurn(ctx, req)
		}
	}
	if err != nil {
		return fail(fmt.Errorf("starting turn on %s backend: %w", tag, err))
	}

	turn := &Turn{
		ID:          turnID,
		UserMessage: message,
		Cards:       render.NewCards(),
		Status:      TurnOpen,
		StartedAt:   time.Now(),
	}
	s.mu.Lock()
	s.open = turn
	s.mu.Unlock()
	s.pipeline.BeginTurn()

	stream := backend.Normalize(raw.Events(), o.toolGrace, s.logger)
	go s.consume(turn, stream)
	return turnID, nil
}

// Abort requests cancellation of the channel's open turn. The backend
// gets the abort window to terminate the stream; past it the
// orchestrator closes the turn as aborted regardless, and late events
// are discarded.
func (o *Orchestrator) Abort(ctx context.Context, channel string) error {
	s := o.lookup(channel)
	if s == nil {
		return ErrNoOpenTurn
	}
	s.mu.Lock()
	turn := s.open
	handle := s.handle
	if s.state == StateSyncing {
		// The turn already ended and the final reconciliation is
		// running; there is nothing left to cancel.
		s.mu.Unlock()
		return nil
	}
	if turn == nil || (s.state != StateAwaitingBackend && s.state != StateStreaming) {
		s.mu.Unlock()
		return ErrNoOpenTurn
	}
	s.state = StateAborting
	s.mu.Unlock()

	if handle != nil {
		if err := handle.Abort(ctx); err != nil {
			s.logger.Warn("backend abort request failed, closing turn locally", "error", err)
		}
	}
	// Backstop: if the adapter never terminates the stream, the turn
	// closes as aborted anyway. finalize is a no-op if the stream
	// already delivered its terminal event.
	time.AfterFunc(o.abortWindow, func() {
		s.finalize(turn, TurnAborted)
	})
	return nil
}

// Compact asks the backend to condense its history and replaces the
// in-memory closed-turn list with a single summary turn. Idle-only.
func (o *Orchestrator) Compact(ctx context.Context, channel string) error {
	s, err := o.session(channel)
	if err != nil {
		return err
	}
	if err := s.beginExclusive(); err != nil {
		return err
	}
	defer s.endExclusive()

	handle, err := s.ensureHandle(ctx)
	if err != nil {
		return err
	}
	summary, err := handle.Summarize(ctx)
	if err != nil {
		return err
	}
	if summary == "" {
		// The backend compacted in place without reporting text.
		summary = "Conversation history compacted by the backend."
	}

	cards := render.NewCards()
	cards.Apply(backend.Event{Kind: backend.TextDelta, Text: summary, Time: time.Now()})
	now := time.Now()
	turn := &Turn{
		ID:        uuid.NewString(),
		Cards:     cards,
		Status:    TurnSummary,
		StartedAt: now,
		ClosedAt:  now,
	}
	s.mu.Lock()
	s.closed = []*Turn{turn}
	s.snapshot = cards.Clone()
	s.mu.Unlock()
	s.appendRecord(turn, cards)
	return nil
}

// Clear hard-resets the channel: the in-memory session is discarded
// and its turn log deleted. Idle-only. The next message starts from
// nothing.
func (o *Orchestrator) Clear(ctx context.Context, channel string) error {
	s := o.lookup(channel)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateError {
		s.mu.Unlock()
		return ErrBusy
	}
	tag := s.backendTag
	s.closeLocked()
	s.mu.Unlock()

	o.mu.Lock()
	delete(o.sessions, channel)
	o.mu.Unlock()

	path := turnlog.LogPath(o.stateDir, channel, tag)
	for _, target := range []string{path, path + turnlog.ArchiveSuffix} {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting turn log: %w", err)
		}
	}
	if err := o.settings.SetSessionKey(channel, tag, ""); err != nil {
		o.logger.Warn("clearing persisted session key failed", "channel", channel, "error", err)
	}
	return nil
}

// SwitchBackend changes the channel's active backend family.
// Idle-only; requires upstream confirmation. In-memory conversation
// state resets for the new backend; the prior backend's log entries
// stay on disk, segregated by tag, and are restored if the channel
// switches back.
func (o *Orchestrator) SwitchBackend(ctx context.Context, channel, tag string) error {
	family, err := o.registry.Lookup(tag)
	if err != nil {
		return err
	}
	s, err := o.session(channel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateError {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.backendTag == tag {
		s.mu.Unlock()
		return nil
	}
	s.closeLocked()
	s.backendTag = tag
	s.family = family
	s.closed = nil
	s.snapshot = nil
	s.logger = o.logger.With("channel", channel, "backend", tag)
	s.mu.Unlock()

	s.attachLog()

	settings := o.settings.Channel(channel)
	settings.Backend = tag
	if err := o.settings.SetChannel(channel, settings); err != nil {
		s.logger.Warn("persisting backend switch failed", "error", err)
	}
	return nil
}

// SwitchModel changes the channel's active model. Idle-only; takes
// effect on the next turn.
func (o *Orchestrator) SwitchModel(channel, model string) error {
	return o.updateSetting(channel, func(s *Session, settings *config.ChannelSettings) {
		s.model = model
		settings.Model = model
	})
}

// SetThinkingLevel changes the channel's thinking level. Idle-only;
// takes effect on the next turn.
func (o *Orchestrator) SetThinkingLevel(channel, level string) error {
	return o.updateSetting(channel, func(s *Session, settings *config.ChannelSettings) {
		s.thinking = level
		settings.ThinkingLevel = level
	})
}

func (o *Orchestrator) updateSetting(channel string, apply func(*Session, *config.ChannelSettings)) error {
	s, err := o.session(channel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateError {
		s.mu.Unlock()
		return ErrBusy
	}
	settings := o.settings.Channel(channel)
	apply(s, &settings)
	s.mu.Unlock()
	return o.settings.SetChannel(channel, settings)
}

// ListModels returns the channel backend's selectable models, or
// backend.ErrUnsupported.
func (o *Orchestrator) ListModels(ctx context.Context, channel string) ([]backend.ModelInfo, error) {
	s, err := o.session(channel)
	if err != nil {
		return nil, err
	}
	handle, err := s.ensureHandle(ctx)
	if err != nil {
		return nil, err
	}
	return handle.ListModels(ctx)
}

// LoadSkill injects a named skill into the channel's backend session,
// or returns backend.ErrUnsupported. Idle-only.
func (o *Orchestrator) LoadSkill(ctx context.Context, channel, name string) error {
	s, err := o.session(channel)
	if err != nil {
		return err
	}
	if err := s.beginExclusive(); err != nil {
		return err
	}
	defer s.endExclusive()
	handle, err := s.ensureHandle(ctx)
	if err != nil {
		return err
	}
	return handle.LoadSkill(ctx, name)
}

// SessionState reports a channel's current state, or false for an
// unknown channel.
func (o *Orchestrator) SessionState(channel string) (State, bool) {
	s := o.lookup(channel)
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// History returns the channel's closed turns in order. The slice is a
// copy; the turns themselves are immutable once closed.
func (o *Orchestrator) History(channel string) []*Turn {
	s := o.lookup(channel)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]*Turn, len(s.closed))
	copy(history, s.closed)
	return history
}

// Snapshot returns the channel's last rendered card snapshot, or nil.
func (o *Orchestrator) Snapshot(channel string) *render.Cards {
	s := o.lookup(channel)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Clone()
}

// Close releases every session's backend handle and log writer.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()
	for _, s := range sessions {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
}

// beginExclusive claims the session for a non-turn backend operation
// (compact, skill load), holding it in Syncing so start-turn rejects
// with busy for the duration.
func (s *Session) beginExclusive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateError {
		return ErrBusy
	}
	s.state = StateSyncing
	return nil
}

func (s *Session) endExclusive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSyncing {
		s.state = StateIdle
	}
}

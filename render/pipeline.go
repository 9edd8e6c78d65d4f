// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parley-foundation/parley/chat"
)

// DefaultMinInterval is the default floor between display edits for
// one session.
const DefaultMinInterval = 1500 * time.Millisecond

// finalFlushAttempts bounds terminal-flush retries against a
// rate-limiting surface.
const finalFlushAttempts = 5

// retryBackoff is the initial delay before retrying a rate-limited
// write. Variable so tests do not wait.
var retryBackoff = 500 * time.Millisecond

// Pipeline renders one session's live turn into a single chat message
// that is edited in place as events arrive. Mutations are coalesced:
// within the minimum interval only the newest snapshot reaches the
// surface, and at most one display write is in flight at a time. The
// terminal flush at turn closure bypasses the throttle and is the
// only write that retries.
type Pipeline struct {
	sink    chat.Sink
	channel string
	logger  *slog.Logger

	minInterval time.Duration
	limiter     *rate.Limiter

	mu       sync.Mutex
	idle     *sync.Cond
	ref      *chat.MessageRef
	latest   *Cards
	seq      uint64 // bumped on every Observe
	lastBody string
	timer    *time.Timer
	inFlight bool
	closed   bool
}

// PipelineConfig configures a session's pipeline.
type PipelineConfig struct {
	Sink    chat.Sink
	Channel string

	// MinInterval is the throttle floor; zero means
	// DefaultMinInterval.
	MinInterval time.Duration

	Logger *slog.Logger
}

// NewPipeline returns a pipeline with no live message yet.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		sink:        cfg.Sink,
		channel:     cfg.Channel,
		logger:      logger.With("channel", cfg.Channel),
		minInterval: interval,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// BeginTurn resets the pipeline for a fresh turn: the next flush
// creates a new live message.
func (p *Pipeline) BeginTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.ref = nil
	p.latest = nil
	p.lastBody = ""
	p.closed = false
}

// Observe records the newest card snapshot and schedules a display
// update within the throttle. Snapshots arriving faster than the
// minimum interval collapse: only the latest is ever rendered.
func (p *Pipeline) Observe(cards *Cards) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.latest = cards.Clone()
	p.seq++
	if p.inFlight || p.timer != nil {
		return
	}
	if p.limiter.Allow() {
		p.inFlight = true
		go p.flushLatest()
		return
	}
	p.timer = time.AfterFunc(p.minInterval, func() {
		p.mu.Lock()
		p.timer = nil
		if p.closed || p.inFlight || p.latest == nil {
			p.mu.Unlock()
			return
		}
		p.inFlight = true
		p.mu.Unlock()
		p.flushLatest()
	})
}

// flushLatest writes the newest snapshot once. Intermediate flush
// failures are logged and skipped, never retried; the terminal flush
// owns delivery guarantees.
func (p *Pipeline) flushLatest() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p.mu.Lock()
	cards := p.latest
	seq := p.seq
	if cards == nil {
		p.inFlight = false
		p.idle.Broadcast()
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	body := Compose(cards, p.sink.MaxBodyLength()).Body

	err := p.write(ctx, body)
	p.mu.Lock()
	p.inFlight = false
	p.idle.Broadcast()
	if err == nil {
		p.lastBody = body
	}
	// Reschedule only when a newer snapshot arrived while this write
	// was in flight. A failed write on its own is never retried; the
	// terminal flush owns delivery.
	dirty := !p.closed && p.seq != seq && p.latest != nil &&
		p.lastBody != Compose(p.latest, p.sink.MaxBodyLength()).Body
	if dirty && p.timer == nil {
		p.timer = time.AfterFunc(p.minInterval, func() {
			p.mu.Lock()
			p.timer = nil
			if p.closed || p.inFlight || p.latest == nil {
				p.mu.Unlock()
				return
			}
			p.inFlight = true
			p.mu.Unlock()
			p.flushLatest()
		})
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("display update skipped", "error", err)
	}
}

// write creates the live message on first use and edits it after.
func (p *Pipeline) write(ctx context.Context, body string) error {
	if body == "" {
		return nil
	}
	p.mu.Lock()
	ref := p.ref
	p.mu.Unlock()

	if ref == nil {
		created, err := p.sink.Create(ctx, p.channel, chat.Message{Body: body})
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.ref = &created
		p.mu.Unlock()
		return nil
	}
	err := p.sink.Edit(ctx, *ref, chat.Message{Body: body})
	if errors.Is(err, chat.ErrNotFound) {
		// The live message was deleted out from under us; start a
		// fresh one rather than lose the turn.
		p.mu.Lock()
		p.ref = nil
		p.mu.Unlock()
		return p.write(ctx, body)
	}
	return err
}

// ToolFinished delivers a finished tool's overflow. When the output
// exceeds what the live message renders inline, the full output goes
// to the surface as appended fragments: truncation defers content,
// never discards it.
func (p *Pipeline) ToolFinished(ctx context.Context, card *ToolCard) {
	if len(card.Output) <= toolOutputCap {
		return
	}
	for _, fragment := range FragmentTool(card, p.sink.MaxBodyLength()) {
		if err := p.appendWithRetry(ctx, fragment); err != nil {
			p.logger.Error("tool overflow fragment lost", "tool", card.Name, "error", err)
		}
	}
}

func (p *Pipeline) appendWithRetry(ctx context.Context, body string) error {
	backoff := retryBackoff
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = p.sink.Append(ctx, p.channel, chat.Message{Body: body}); err == nil {
			return nil
		}
		if !errors.Is(err, chat.ErrRateLimited) {
			return err
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// FinalFlush renders the reconciled cards one last time, bypassing
// the throttle. Rate limiting is retried with backoff: the terminal
// state must land, it is the record of the turn.
func (p *Pipeline) FinalFlush(ctx context.Context, cards *Cards) error {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.latest = nil
	// Let any in-flight intermediate write finish so a stale edit
	// cannot land after the terminal one.
	for p.inFlight {
		p.idle.Wait()
	}
	p.mu.Unlock()

	body := Compose(cards, p.sink.MaxBodyLength()).Body
	p.mu.Lock()
	unchanged := body == p.lastBody
	p.mu.Unlock()
	if unchanged || body == "" {
		return nil
	}

	backoff := retryBackoff
	var err error
	for attempt := 1; attempt <= finalFlushAttempts; attempt++ {
		if err = p.write(ctx, body); err == nil {
			p.mu.Lock()
			p.lastBody = body
			p.mu.Unlock()
			return nil
		}
		if !errors.Is(err, chat.ErrRateLimited) {
			return fmt.Errorf("terminal display flush: %w", err)
		}
		p.logger.Warn("terminal flush rate limited, backing off",
			"attempt", attempt, "backoff", backoff)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("terminal display flush: %w", err)
}

// MessageRef returns the live message reference, if one was created.
func (p *Pipeline) MessageRef() *chat.MessageRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ref == nil {
		return nil
	}
	ref := *p.ref
	return &ref
}

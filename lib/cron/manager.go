// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-foundation/parley/lib/clock"
)

// Submitter starts a turn on a channel. The bridge orchestrator
// satisfies it.
type Submitter interface {
	StartTurn(ctx context.Context, channel, user, message string) (string, error)
}

// Job is one scheduled prompt.
type Job struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Spec        string    `json:"spec"`
	Prompt      string    `json:"prompt"`
	CreatedBy   string    `json:"created_by"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manager owns the scheduled-prompt jobs file and fires due prompts
// through a Submitter. Fires are best-effort: a channel that rejects
// the turn (busy, unauthorized, backend down) is logged and skipped,
// and the job's next occurrence computed as usual.
type Manager struct {
	path      string
	submitter Submitter
	clk       clock.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	jobs  map[string]Job
	specs map[string]Spec
	next  map[string]time.Time

	// wake pokes the run loop after a mutation changed the earliest
	// fire time.
	wake chan struct{}
}

// NewManager loads the jobs file, starting empty when it does not
// exist. Jobs whose spec no longer parses are dropped with a log
// line. A nil clk uses the real clock.
func NewManager(path string, submitter Submitter, clk clock.Clock, logger *slog.Logger) (*Manager, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:      path,
		submitter: submitter,
		clk:       clk,
		logger:    logger,
		jobs:      make(map[string]Job),
		specs:     make(map[string]Spec),
		next:      make(map[string]time.Time),
		wake:      make(chan struct{}, 1),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading scheduled prompts: %w", err)
	}
	var loaded map[string]Job
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing scheduled prompts: %w", err)
	}
	now := m.clk.Now()
	for id, job := range loaded {
		spec, err := ParseSpec(job.Spec)
		if err != nil {
			logger.Warn("dropping scheduled prompt with unparseable spec",
				"job", id, "spec", job.Spec, "error", err)
			continue
		}
		fire, err := spec.Next(now)
		if err != nil {
			logger.Warn("dropping scheduled prompt that never fires",
				"job", id, "spec", job.Spec, "error", err)
			continue
		}
		m.jobs[id] = job
		m.specs[id] = spec
		m.next[id] = fire
	}
	return m, nil
}

// Add registers a new scheduled prompt and persists the jobs file.
func (m *Manager) Add(channel, user, specText, prompt, description string) (Job, error) {
	spec, err := ParseSpec(specText)
	if err != nil {
		return Job{}, err
	}
	now := m.clk.Now()
	fire, err := spec.Next(now)
	if err != nil {
		return Job{}, err
	}
	job := Job{
		ID:          uuid.NewString(),
		Channel:     channel,
		Spec:        spec.Raw,
		Prompt:      prompt,
		CreatedBy:   user,
		Description: description,
		CreatedAt:   now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.specs[job.ID] = spec
	m.next[job.ID] = fire
	err = m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return Job{}, err
	}
	m.poke()
	return job, nil
}

// Remove deletes a scheduled prompt. Unknown ids are a no-op.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	if _, ok := m.jobs[id]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.jobs, id)
	delete(m.specs, id)
	delete(m.next, id)
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.poke()
	return nil
}

// Jobs returns the channel's scheduled prompts, oldest first. An
// empty channel returns every job.
func (m *Manager) Jobs(channel string) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, job := range m.jobs {
		if channel == "" || job.Channel == channel {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Run fires due prompts until ctx is canceled. Call it on its own
// goroutine.
func (m *Manager) Run(ctx context.Context) {
	for {
		wait, pending := m.untilNext()
		var fire <-chan time.Time
		if pending {
			fire = m.clk.After(wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-fire:
			m.fireDue(ctx)
		}
	}
}

// untilNext returns how long until the earliest pending fire.
func (m *Manager) untilNext() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest time.Time
	for _, fire := range m.next {
		if earliest.IsZero() || fire.Before(earliest) {
			earliest = fire
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return earliest.Sub(m.clk.Now()), true
}

// fireDue submits every job whose fire time has arrived and
// reschedules it.
func (m *Manager) fireDue(ctx context.Context) {
	now := m.clk.Now()

	m.mu.Lock()
	var due []Job
	for id, fire := range m.next {
		if fire.After(now) {
			continue
		}
		job := m.jobs[id]
		due = append(due, job)
		next, err := m.specs[id].Next(now)
		if err != nil {
			m.logger.Warn("scheduled prompt has no next occurrence, removing",
				"job", id, "spec", job.Spec, "error", err)
			delete(m.jobs, id)
			delete(m.specs, id)
			delete(m.next, id)
			continue
		}
		m.next[id] = next
	}
	m.mu.Unlock()

	for _, job := range due {
		if _, err := m.submitter.StartTurn(ctx, job.Channel, job.CreatedBy, job.Prompt); err != nil {
			m.logger.Warn("scheduled prompt skipped",
				"job", job.ID, "channel", job.Channel, "error", err)
			continue
		}
		m.logger.Info("scheduled prompt fired", "job", job.ID, "channel", job.Channel)
	}
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// saveLocked writes the jobs file atomically. Caller holds the mutex.
func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.jobs, "", "  ")
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(temp.Name())
	if _, err := temp.Write(append(data, '\n')); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return err
	}
	return os.Rename(temp.Name(), m.path)
}

// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"sync"
)

// MemorySink is an in-process Sink. It backs the test suites of every
// package that renders to chat, recording each write and supporting
// injected failures for rate-limit and retry behavior.
type MemorySink struct {
	mu       sync.Mutex
	maxBody  int
	nextID   int
	bodies   map[MessageRef]string
	writes   []MemoryWrite
	failures []error
}

// MemoryWrite records one sink operation in arrival order.
type MemoryWrite struct {
	Op     string // "create", "edit", "append"
	Ref    MessageRef
	Body   string
	Failed bool
}

// NewMemorySink returns an empty sink. maxBody <= 0 means
// DefaultMaxBodyLength.
func NewMemorySink(maxBody int) *MemorySink {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyLength
	}
	return &MemorySink{
		maxBody: maxBody,
		bodies:  make(map[MessageRef]string),
	}
}

// FailNext queues errors to be returned by upcoming operations, one
// error per operation, before any state is applied.
func (s *MemorySink) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *MemorySink) takeFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func (s *MemorySink) record(op string, ref MessageRef, body string, failed bool) {
	s.writes = append(s.writes, MemoryWrite{Op: op, Ref: ref, Body: body, Failed: failed})
}

func (s *MemorySink) create(op, channel string, message Message) (MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		s.record(op, MessageRef{Channel: channel}, message.Body, true)
		return MessageRef{}, err
	}
	s.nextID++
	ref := MessageRef{Channel: channel, ID: fmt.Sprintf("m%d", s.nextID)}
	s.bodies[ref] = message.Body
	s.record(op, ref, message.Body, false)
	return ref, nil
}

func (s *MemorySink) Create(ctx context.Context, channel string, message Message) (MessageRef, error) {
	return s.create("create", channel, message)
}

func (s *MemorySink) Edit(ctx context.Context, ref MessageRef, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		s.record("edit", ref, message.Body, true)
		return err
	}
	if _, ok := s.bodies[ref]; !ok {
		return fmt.Errorf("edit %s/%s: %w", ref.Channel, ref.ID, ErrNotFound)
	}
	s.bodies[ref] = message.Body
	s.record("edit", ref, message.Body, false)
	return nil
}

func (s *MemorySink) Append(ctx context.Context, channel string, message Message) (MessageRef, error) {
	return s.create("append", channel, message)
}

func (s *MemorySink) MaxBodyLength() int { return s.maxBody }

// Body returns the current content of a message.
func (s *MemorySink) Body(ref MessageRef) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.bodies[ref]
	return body, ok
}

// Writes returns a copy of every recorded operation.
func (s *MemorySink) Writes() []MemoryWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MemoryWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

// WriteCount returns how many operations succeeded.
func (s *MemorySink) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, write := range s.writes {
		if !write.Failed {
			count++
		}
	}
	return count
}

var _ Sink = (*MemorySink)(nil)

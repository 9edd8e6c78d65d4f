// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/lib/turnlog"
	"github.com/parley-foundation/parley/render"
)

// State is a session's position in the turn lifecycle.
type State string

const (
	// StateIdle accepts new operations; no turn is open.
	StateIdle State = "idle"

	// StateAwaitingBackend means a turn was submitted and the first
	// event has not arrived yet.
	StateAwaitingBackend State = "awaiting-backend"

	// StateStreaming consumes events and updates card state.
	StateStreaming State = "streaming"

	// StateSyncing runs the closure reconciliation: forced tool
	// finishes, the guaranteed terminal flush, the log append.
	StateSyncing State = "syncing"

	// StateAborting means cancellation was requested and the turn is
	// winding down; late events are discarded.
	StateAborting State = "aborting"

	// StateError marks an unrecoverable backend failure. The next
	// start-turn reconnects from scratch.
	StateError State = "error"
)

// TurnStatus is a turn's completion status.
type TurnStatus string

const (
	TurnOpen     TurnStatus = "open"
	TurnFinished TurnStatus = "finished"
	TurnAborted  TurnStatus = "aborted"
	TurnErrored  TurnStatus = "errored"

	// TurnSummary is a compaction point replacing the closed-turn
	// history that preceded it.
	TurnSummary TurnStatus = "summary"
)

// Turn is one request/response cycle. Immutable once it appears in
// the session's closed-turn list.
type Turn struct {
	ID          string
	UserMessage string

	// Events is the normalized event sequence, in arrival order.
	Events []backend.Event

	// Cards is the projection of Events. While the turn is open it
	// is mutated by the orchestrator only; after closure it is the
	// reconciled final snapshot.
	Cards *render.Cards

	Status    TurnStatus
	Error     string
	StartedAt time.Time
	ClosedAt  time.Time
}

// recordStatus maps a closed turn's status onto the turn log schema.
func recordStatus(status TurnStatus) turnlog.TurnStatus {
	switch status {
	case TurnAborted:
		return turnlog.TurnAborted
	case TurnErrored:
		return turnlog.TurnFailed
	case TurnSummary:
		return turnlog.TurnSummary
	default:
		return turnlog.TurnCompleted
	}
}

// turnFromRecord rebuilds a closed turn from a replayed record.
func turnFromRecord(record turnlog.TurnRecord) *Turn {
	status := TurnFinished
	switch record.Status {
	case turnlog.TurnAborted:
		status = TurnAborted
	case turnlog.TurnFailed:
		status = TurnErrored
	case turnlog.TurnSummary:
		status = TurnSummary
	}
	cards := record.Cards
	if cards == nil {
		cards = render.Project(record.Events)
	}
	return &Turn{
		ID:          record.TurnID,
		UserMessage: record.UserMessage,
		Events:      record.Events,
		Cards:       cards,
		Status:      status,
		Error:       record.Error,
		StartedAt:   record.StartedAt,
		ClosedAt:    record.ClosedAt,
	}
}

// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package turnlog

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/render"
)

// RecordVersion is the current record schema version. Readers accept
// any version up to and including this one; unknown fields from newer
// minor revisions are ignored on decode.
const RecordVersion = 1

// TurnStatus is the terminal disposition of a closed turn.
type TurnStatus string

const (
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnAborted   TurnStatus = "aborted"

	// TurnSummary marks a compaction point: the record's cards carry
	// the backend-generated summary, and replay discards the closed
	// turns that preceded it.
	TurnSummary TurnStatus = "summary"
)

// TurnRecord is one closed turn, written after reconciliation. It
// carries enough to rebuild the channel's closed-turn history and the
// last rendered snapshot on replay without recontacting the backend.
type TurnRecord struct {
	Version    int        `cbor:"1,keyasint"`
	Channel    string     `cbor:"2,keyasint"`
	BackendTag string     `cbor:"3,keyasint"`
	TurnID     string     `cbor:"4,keyasint"`
	Status     TurnStatus `cbor:"5,keyasint"`

	// UserMessage is the prompt that opened the turn.
	UserMessage string `cbor:"6,keyasint"`

	// Events is the normalized event sequence of the turn.
	Events []backend.Event `cbor:"7,keyasint,omitempty"`

	// Cards is the reconciled final snapshot as rendered.
	Cards *render.Cards `cbor:"8,keyasint,omitempty"`

	// SessionKey is the backend's session identifier at close, for
	// families with reattachable sessions.
	SessionKey string `cbor:"9,keyasint,omitempty"`

	// Error holds the failure description for failed turns.
	Error string `cbor:"10,keyasint,omitempty"`

	StartedAt time.Time `cbor:"11,keyasint"`
	ClosedAt  time.Time `cbor:"12,keyasint"`
}

// LogPath returns the log file path for one (channel, backend tag)
// pair under dir.
func LogPath(dir, channel, tag string) string {
	return filepath.Join(dir, fmt.Sprintf("turn-%s-%s.plog", sanitize(channel), sanitize(tag)))
}

// sanitize maps a channel or tag to a filesystem-safe token. Channel
// identifiers from chat platforms can carry separators and
// punctuation that must not escape into the path.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"fmt"
	"strings"
	"time"
)

// Spec is a parsed schedule in any of the three accepted forms. The
// zero Spec is invalid; use ParseSpec.
type Spec struct {
	// Raw is the original text, preserved for display and storage.
	Raw string

	// interval is non-zero for "every <dur>" specs.
	interval time.Duration

	// schedule backs "daily HH:MM" and cron-expression specs.
	schedule Schedule
}

// ParseSpec parses a schedule: "daily HH:MM", "every <duration>", or
// a 5-field cron expression.
func ParseSpec(text string) (Spec, error) {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)

	switch {
	case len(fields) == 2 && fields[0] == "daily":
		var hour, minute int
		if _, err := fmt.Sscanf(fields[1], "%d:%d", &hour, &minute); err != nil {
			return Spec{}, fmt.Errorf("cron: daily time %q: want HH:MM", fields[1])
		}
		schedule, err := Parse(fmt.Sprintf("%d %d * * *", minute, hour))
		if err != nil {
			return Spec{}, err
		}
		return Spec{Raw: text, schedule: schedule}, nil

	case len(fields) == 2 && fields[0] == "every":
		interval, err := time.ParseDuration(fields[1])
		if err != nil {
			return Spec{}, fmt.Errorf("cron: interval %q: %w", fields[1], err)
		}
		if interval < time.Minute {
			return Spec{}, fmt.Errorf("cron: interval %s below one minute", interval)
		}
		return Spec{Raw: text, interval: interval}, nil

	default:
		schedule, err := Parse(text)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Raw: text, schedule: schedule}, nil
	}
}

// Next returns the earliest fire time strictly after t.
func (s Spec) Next(t time.Time) (time.Time, error) {
	if s.interval > 0 {
		return t.Add(s.interval), nil
	}
	return s.schedule.Next(t)
}

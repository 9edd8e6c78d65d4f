// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron schedules recurring prompts per channel.
//
// A scheduled prompt fires on a Spec, written in one of three forms:
//
//	daily 07:30          every day at a UTC wall-clock time
//	every 45m            at a fixed interval from the previous fire
//	*/15 0-6 * * 1-5     a standard 5-field cron expression
//
// Cron expressions support:
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12)
//	│ │ │ │ ┌───────────── day of week (0-6, 0=Sunday)
//	│ │ │ │ │
//	* * * * *
//
// with single values, ranges, lists, steps, and wildcards. All times
// are UTC; there are no @yearly shortcuts, no seconds field, and no
// named days or months.
//
// The Manager owns the jobs file, computes next-fire times, and
// submits each due prompt as a turn. A prompt whose channel is busy
// is skipped and logged, never queued.
package cron

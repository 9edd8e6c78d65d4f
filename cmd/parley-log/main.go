// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/parley-foundation/parley/lib/turnlog"
	"github.com/parley-foundation/parley/render"
)

// excerptLength bounds text and tool output in the default view.
const excerptLength = 200

var (
	headerStyle      = lipgloss.NewStyle().Bold(true)
	faintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	reasoningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	toolNameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	interruptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	statusStyles = map[turnlog.TurnStatus]lipgloss.Style{
		turnlog.TurnCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true),
		turnlog.TurnFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		turnlog.TurnAborted:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		turnlog.TurnSummary:   lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true),
	}
)

func main() {
	asJSON := pflag.Bool("json", false, "emit raw records as JSON")
	full := pflag.Bool("full", false, "do not truncate text and tool output")
	pflag.Parse()

	paths := pflag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: parley-log [--json] [--full] <file.plog|file.plar> ...")
		os.Exit(2)
	}
	for _, path := range paths {
		if err := inspect(path, *asJSON, *full); err != nil {
			fmt.Fprintf(os.Stderr, "parley-log: %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func inspect(path string, asJSON, full bool) error {
	var records []turnlog.TurnRecord
	var err error
	if strings.HasSuffix(path, turnlog.ArchiveSuffix) {
		records, err = turnlog.ReplayArchive(path)
	} else {
		records, err = turnlog.Replay(path)
	}
	if err != nil {
		return err
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}

	fmt.Printf("%s  %s\n", headerStyle.Render(path),
		faintStyle.Render(fmt.Sprintf("%d turns", len(records))))
	for _, record := range records {
		printRecord(record, full)
	}
	return nil
}

func printRecord(record turnlog.TurnRecord, full bool) {
	status := statusStyles[record.Status]
	duration := record.ClosedAt.Sub(record.StartedAt).Round(time.Millisecond)
	fmt.Printf("\n%s  %s  %s\n",
		status.Render(strings.ToUpper(string(record.Status))),
		headerStyle.Render(record.Channel+"/"+record.BackendTag),
		faintStyle.Render(fmt.Sprintf("%s  %s  %s",
			record.TurnID, record.StartedAt.Format(time.RFC3339), duration)))

	if record.UserMessage != "" {
		fmt.Printf("  %s %s\n", faintStyle.Render("user"), excerpt(record.UserMessage, full))
	}
	if record.Error != "" {
		fmt.Printf("  %s %s\n", errorStyle.Render("error"), record.Error)
	}
	if record.Cards != nil {
		printCards(record.Cards, full)
	}
	fmt.Printf("  %s\n", faintStyle.Render(fmt.Sprintf("%d events", len(record.Events))))
}

func printCards(cards *render.Cards, full bool) {
	if cards.Reasoning != "" {
		fmt.Printf("  %s\n", reasoningStyle.Render("> "+excerpt(cards.Reasoning, full)))
	}
	for _, tool := range cards.Tools {
		label := toolNameStyle.Render(tool.Name) + faintStyle.Render(" ("+string(tool.Status)+")")
		if tool.Interrupted {
			label += " " + interruptedStyle.Render("interrupted")
		}
		fmt.Printf("  %s\n", label)
		if tool.Output != "" {
			for _, line := range strings.Split(excerpt(tool.Output, full), "\n") {
				fmt.Printf("    %s\n", faintStyle.Render(line))
			}
		}
	}
	if cards.Text != "" {
		fmt.Printf("  %s\n", excerpt(cards.Text, full))
	}
}

// excerpt flattens and bounds a block of text for the one-screen
// view. Rune-aligned so multibyte content never splits.
func excerpt(text string, full bool) string {
	if full {
		return text
	}
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > excerptLength {
		text = string(runes[:excerptLength]) + "…"
	}
	return text
}

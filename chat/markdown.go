// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce   sync.Once
	markdownEngine goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownEngine = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownEngine
}

// RenderHTML converts a markdown body to HTML for surfaces with rich
// text. Conversion failures fall back to the raw body: a plain-text
// rendering beats losing the content.
func RenderHTML(body string) string {
	var out strings.Builder
	if err := markdown().Convert([]byte(body), &out); err != nil {
		return body
	}
	return strings.TrimSpace(out.String())
}

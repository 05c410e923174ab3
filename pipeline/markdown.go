// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	mdH3     = regexp.MustCompile(`(?m)^### (.*)$`)
	mdH2     = regexp.MustCompile(`(?m)^## (.*)$`)
	mdH1     = regexp.MustCompile(`(?m)^# (.*)$`)
	mdBold   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdItalic = regexp.MustCompile(`\*(.*?)\*`)
	mdLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// markdownToHTML is a minimal converter covering the subset of Markdown the
// pipeline emits: headers, emphasis, links, and paragraphs. WordPress does
// its own sanitization on ingest.
func markdownToHTML(markdown string) string {
	var out strings.Builder
	for _, block := range strings.Split(markdown, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		heading := mdH1.MatchString(block) || mdH2.MatchString(block) || mdH3.MatchString(block)
		block = mdH3.ReplaceAllString(block, "<h3>$1</h3>")
		block = mdH2.ReplaceAllString(block, "<h2>$1</h2>")
		block = mdH1.ReplaceAllString(block, "<h1>$1</h1>")
		block = mdBold.ReplaceAllString(block, "<strong>$1</strong>")
		block = mdItalic.ReplaceAllString(block, "<em>$1</em>")
		block = mdLink.ReplaceAllString(block, `<a href="$2">$1</a>`)

		if heading {
			out.WriteString(block)
		} else {
			out.WriteString("<p>")
			out.WriteString(strings.ReplaceAll(block, "\n", "<br>"))
			out.WriteString("</p>")
		}
		out.WriteString("\n")
	}
	return strings.TrimSpace(out.String())
}

// linkCitations rewrites [n] citation markers into links against the run's
// source list, preserving the marker text.
func linkCitations(markdown string, sources []Source) string {
	for i, source := range sources {
		marker := fmt.Sprintf("[%d]", i+1)
		link := fmt.Sprintf("[%s](%s \"%s\")", marker, source.URL, source.Title)
		// Skip markers already linked (followed by an opening paren).
		markdown = strings.ReplaceAll(markdown, marker+" ", link+" ")
		if strings.HasSuffix(markdown, marker) {
			markdown = strings.TrimSuffix(markdown, marker) + link
		}
		markdown = strings.ReplaceAll(markdown, marker+".", link+".")
		markdown = strings.ReplaceAll(markdown, marker+",", link+",")
		markdown = strings.ReplaceAll(markdown, marker+"\n", link+"\n")
	}
	return markdown
}

var slugStrip = regexp.MustCompile(`[^a-z0-9\s-]`)
var slugSpaces = regexp.MustCompile(`\s+`)

// slugify builds a URL slug from a title, capped at 80 characters.
func slugify(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(strings.TrimSpace(s), "-")
	if len(s) > 80 {
		s = strings.Trim(s[:80], "-")
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

// wordCount counts whitespace-separated tokens.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

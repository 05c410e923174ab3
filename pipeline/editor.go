// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"kraftcontent/platform/pipeline/llm"
)

// EditorExecutor polishes the approved draft: tightens prose, fixes
// structure, and ensures the FAQ and author bio sections are present.
type EditorExecutor struct {
	LLM ChatCompleter
}

func (e *EditorExecutor) Stage() Stage { return StageEditor }

func (e *EditorExecutor) Execute(ctx context.Context, run *Run) error {
	if run.Draft == nil || run.Brief == nil {
		return fmt.Errorf("editor stage requires draft and brief output")
	}

	var gateNotes string
	if run.Gate != nil && len(run.Gate.Reasons) > 0 {
		gateNotes = "Reviewer notes to address:\n- " + strings.Join(run.Gate.Reasons, "\n- ") + "\n\n"
	}

	prompt := fmt.Sprintf(`Edit and enhance this mortgage article. Keep all factual content and [n] citations intact.

%sImprovements to make:
1. Tighten wording and fix any awkward phrasing
2. Ensure consistent heading structure (# title, ## sections)
3. Add a short key-takeaways list near the top if missing
4. Keep the reading level accessible (grade 8-10)
5. Preserve the Sources section exactly as written

Article:
%s

Return only the improved markdown article.`, gateNotes, run.Draft.Markdown)

	resp, err := e.LLM.Chat(ctx, llm.ChatRequest{
		Message:      prompt,
		SystemPrompt: "You are a senior editor for a Canadian mortgage publication. Improve clarity and flow without changing facts or citations.",
		Temperature:  0.5,
		MaxTokens:    3500,
	})
	if err != nil {
		return fmt.Errorf("editorial pass failed: %w", err)
	}

	markdown := run.Draft.Markdown
	enhancements := []string{}
	edited := strings.TrimSpace(resp.Content)
	// Guard against the model returning a truncated or empty edit.
	if len(edited) >= len(run.Draft.Markdown)/2 && strings.Contains(edited, "#") {
		markdown = edited
		enhancements = append(enhancements, "editorial pass")
	}

	if len(run.Brief.FAQ) > 0 && !strings.Contains(markdown, "## Frequently Asked Questions") {
		var b strings.Builder
		b.WriteString(markdown)
		b.WriteString("\n\n## Frequently Asked Questions\n\n")
		for _, q := range run.Brief.FAQ {
			fmt.Fprintf(&b, "### %s\n\nSpeak with a licensed mortgage professional for guidance specific to your situation.\n\n", q)
		}
		markdown = strings.TrimSpace(b.String())
		enhancements = append(enhancements, "faq section")
	}

	if !strings.Contains(markdown, "## About the Author") {
		markdown += "\n\n## About the Author\n\nThe KraftContent editorial team researches Canadian mortgage news, lender policy, and housing data to help homeowners make informed decisions. Content is reviewed for accuracy but is not financial advice."
		enhancements = append(enhancements, "author bio")
	}

	run.Final = &FinalData{
		Markdown:     markdown,
		WordCount:    wordCount(markdown),
		Enhancements: enhancements,
	}
	return nil
}

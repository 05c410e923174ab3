// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"kraftcontent/platform/pipeline/llm"
)

const minDraftChars = 800

// WriterExecutor drafts the full article in markdown from the brief,
// citing scout sources with numeric markers.
type WriterExecutor struct {
	LLM ChatCompleter
}

func (e *WriterExecutor) Stage() Stage { return StageWriter }

func (e *WriterExecutor) Execute(ctx context.Context, run *Run) error {
	if run.Scout == nil || run.Brief == nil {
		return fmt.Errorf("writer stage requires scout and brief output")
	}
	provinces := provincesOrDefault(run)

	var sources strings.Builder
	for i, s := range run.Scout.Sources {
		fmt.Fprintf(&sources, "[%d] %s - %s\n", i+1, s.Title, s.URL)
	}

	prompt := fmt.Sprintf(`Write a complete article following this brief:

Title: %s
Outline: %s
Keywords: %s
Target Provinces: %s

Available sources for citations:
%s
Requirements:
- 1200-1800 words of original, expert content
- Use markdown formatting with # for the title and ## for sections
- Follow the outline structure
- Cite sources inline with [n] markers matching the list above
- Include province-specific guidance for %s
- Write for Canadian mortgage consumers, grade 8-10 reading level
- No invented statistics; only claims supported by the sources

Return only the markdown article.`,
		run.Brief.Title,
		strings.Join(run.Brief.Outline, " | "),
		strings.Join(run.Brief.Keywords, ", "),
		strings.Join(provinces, ", "),
		sources.String(),
		strings.Join(provinces, ", "))

	resp, err := e.LLM.Chat(ctx, llm.ChatRequest{
		Message:      prompt,
		SystemPrompt: "You are an expert mortgage industry writer creating authoritative content for Canadian homebuyers and homeowners. Write clear, accurate, well-structured articles.",
		Temperature:  0.7,
		MaxTokens:    3000,
	})

	if err != nil {
		return fmt.Errorf("draft generation failed: %w", err)
	}

	// The fallback covers unusable content only; a failed call fails
	// the step.
	markdown := strings.TrimSpace(resp.Content)
	if len(markdown) < minDraftChars || !strings.Contains(markdown, "#") {
		markdown = e.fallbackDraft(run)
	}

	if len(run.Scout.Sources) > 0 && !strings.Contains(markdown, "## Sources") {
		var b strings.Builder
		b.WriteString(markdown)
		b.WriteString("\n\n## Sources\n\n")
		for i, s := range run.Scout.Sources {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, s.Title, s.URL)
		}
		markdown = b.String()
	}

	run.Draft = &DraftData{
		Markdown:  markdown,
		WordCount: wordCount(markdown),
		Sources:   append([]Source(nil), run.Scout.Sources...),
	}
	return nil
}

func (e *WriterExecutor) fallbackDraft(run *Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", run.Brief.Title)
	b.WriteString("## Introduction\n\n")
	fmt.Fprintf(&b, "The Canadian mortgage landscape continues to evolve, and %s remains a key topic for borrowers across the country.\n\n", run.Scout.Topic)
	for _, section := range run.Brief.Outline {
		if strings.EqualFold(section, "Introduction") {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\nDetails on %s are being finalized. Speak with a licensed mortgage professional for guidance specific to your situation.\n\n", section, strings.ToLower(section))
	}
	return strings.TrimSpace(b.String())
}

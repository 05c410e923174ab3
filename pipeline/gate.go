// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"
)

const (
	duplicateSimilarityThreshold = 0.86
	gateSampleParagraphs         = 5
	gateRecentPosts              = 50
)

// GateExecutor is the quality gate: it checks the draft for duplication
// against recently published posts (cosine similarity over paragraph
// embeddings) and runs an LLM fact-check. A reject verdict fails the step.
type GateExecutor struct {
	LLM      ChatCompleter
	Embedder Embedder
	Posts    PostStore
}

func (e *GateExecutor) Stage() Stage { return StageGate }

func (e *GateExecutor) Execute(ctx context.Context, run *Run) error {
	if run.Draft == nil {
		return fmt.Errorf("gate stage requires draft output")
	}

	paragraphs := sampleParagraphs(run.Draft.Markdown, gateSampleParagraphs)
	var embeddings [][]float64
	if len(paragraphs) > 0 {
		var err error
		embeddings, err = e.Embedder.Embed(ctx, paragraphs)
		if err != nil {
			return fmt.Errorf("embed draft paragraphs: %w", err)
		}
	}

	dupSlug, dupScore, err := e.findDuplicate(ctx, embeddings)
	if err != nil {
		return err
	}

	verdict, reasons := e.factCheck(ctx, run)

	if dupSlug != "" {
		verdict = VerdictReject
		reasons = append(reasons, fmt.Sprintf("duplicate of published post %q (similarity %.2f)", dupSlug, dupScore))
	}

	run.Gate = &GateData{
		Verdict:         verdict,
		Reasons:         reasons,
		Embeddings:      embeddings,
		DuplicateOfSlug: dupSlug,
		SimilarityScore: dupScore,
	}

	if verdict == VerdictReject {
		return fmt.Errorf("draft rejected by quality gate: %s", strings.Join(reasons, "; "))
	}
	return nil
}

func (e *GateExecutor) findDuplicate(ctx context.Context, embeddings [][]float64) (string, float64, error) {
	if e.Posts == nil || len(embeddings) == 0 {
		return "", 0, nil
	}
	recent, err := e.Posts.RecentPosts(ctx, gateRecentPosts)
	if err != nil {
		return "", 0, fmt.Errorf("load recent posts: %w", err)
	}

	var bestSlug string
	var bestScore float64
	for _, post := range recent {
		for _, pv := range post.Embeddings {
			for _, dv := range embeddings {
				score := CosineSimilarity(pv, dv)
				if score > bestScore {
					bestScore = score
					bestSlug = post.Slug
				}
			}
		}
	}
	if bestScore >= duplicateSimilarityThreshold {
		return bestSlug, bestScore, nil
	}
	return "", bestScore, nil
}

func (e *GateExecutor) factCheck(ctx context.Context, run *Run) (GateVerdict, []string) {
	var sources strings.Builder
	for i, s := range run.Draft.Sources {
		fmt.Fprintf(&sources, "[%d] %s - %s: %s\n", i+1, s.Title, s.URL, s.Snippet)
	}

	prompt := fmt.Sprintf(`Review this mortgage article draft for factual accuracy and quality.

Sources the draft cites:
%s
Draft:
%s

Check for:
1. Factual claims not supported by the sources
2. Invented statistics, rates, or dates
3. Misleading or non-compliant mortgage advice
4. Missing required disclaimers for regulated advice

Return JSON:
{"status": "APPROVE" | "REVISE" | "REJECT", "reasons": ["reason 1"]}`,
		sources.String(), run.Draft.Markdown)

	var result struct {
		Status  string   `json:"status"`
		Reasons []string `json:"reasons"`
	}
	err := completeJSON(ctx, e.LLM,
		"You are a meticulous mortgage industry fact-checker and compliance reviewer. Be strict about unsupported claims.",
		prompt, 0.2, &result)
	if err != nil {
		// Fact-check unavailable; pass the draft through with a note
		// rather than blocking the pipeline on a model outage.
		return VerdictRevise, []string{"automated fact-check unavailable; manual review recommended"}
	}

	switch strings.ToUpper(strings.TrimSpace(result.Status)) {
	case "APPROVE":
		return VerdictApprove, result.Reasons
	case "REJECT":
		return VerdictReject, result.Reasons
	default:
		return VerdictRevise, result.Reasons
	}
}

// sampleParagraphs returns the first n non-heading paragraphs of a
// markdown document.
func sampleParagraphs(markdown string, n int) []string {
	var out []string
	for _, block := range strings.Split(markdown, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") {
			continue
		}
		out = append(out, block)
		if len(out) >= n {
			break
		}
	}
	return out
}

// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxBriefKeywords = 10

// BriefExecutor turns the scout's research into a content brief: title,
// slug, outline, FAQ, and SEO metadata for the writer.
type BriefExecutor struct {
	LLM ChatCompleter
}

func (e *BriefExecutor) Stage() Stage { return StageBrief }

func (e *BriefExecutor) Execute(ctx context.Context, run *Run) error {
	if run.Scout == nil {
		return fmt.Errorf("brief stage requires scout output")
	}
	provinces := provincesOrDefault(run)

	prompt := fmt.Sprintf(`Create a comprehensive content brief for this mortgage industry topic:

Topic: %s
Target Provinces: %s
Keywords to include: %s

Create a brief that includes:
1. SEO-optimized title (under 60 characters)
2. URL slug (lowercase, hyphens, under 80 chars)
3. Detailed article outline with H2/H3 structure (6-8 sections)
4. 5-7 FAQ questions readers would ask
5. Meta description (under 155 characters)
6. Internal linking opportunities (mortgage calculators, MLI Select, etc.)

Focus on E-E-A-T principles and mortgage industry expertise.

Return JSON format:
{
  "title": "SEO title",
  "slug": "url-slug",
  "outline": ["Section 1", "Section 2"],
  "faq": ["Question 1?", "Question 2?"],
  "metaDescription": "Meta description",
  "internalLinks": ["/calculators/payment", "/mli-select", "/about"]
}`, run.Scout.Topic, strings.Join(provinces, ", "), strings.Join(run.Scout.Keywords, ", "))

	var brief BriefData
	err := completeJSON(ctx, e.LLM,
		"You are a senior content strategist specializing in mortgage industry SEO content. Create detailed, actionable content briefs that convert readers.",
		prompt, 0.3, &brief)
	if err != nil && !errors.Is(err, errUnusableModelResponse) {
		return fmt.Errorf("brief generation failed: %w", err)
	}
	if err != nil || brief.Title == "" {
		brief = e.fallbackBrief(run.Scout.Topic, provinces)
	}
	if brief.Slug == "" {
		brief.Slug = slugify(brief.Title)
	}

	// Merge scout keywords ahead of any the model added.
	merged := append(append([]string(nil), run.Scout.Keywords...), brief.Keywords...)
	if len(merged) > maxBriefKeywords {
		merged = merged[:maxBriefKeywords]
	}
	brief.Keywords = merged

	run.Brief = &brief
	return nil
}

func (e *BriefExecutor) fallbackBrief(topic string, provinces []string) BriefData {
	title := fmt.Sprintf("%s - %s", topic, time.Now().Format("January 2006"))
	if len(title) > 60 {
		title = title[:60]
	}
	return BriefData{
		Title: title,
		Slug:  slugify(title),
		Outline: []string{
			"Introduction",
			"What's Changed This Month",
			"Impact on Homebuyers",
			"Province-Specific Updates",
			"Expert Recommendations",
			"Next Steps",
		},
		FAQ: []string{
			"How do recent rate changes affect my mortgage payment?",
			"What's the best mortgage option for first-time buyers?",
			"Should I lock in my rate now or wait?",
			"How does the stress test work?",
			"What documents do I need for mortgage approval?",
		},
		MetaDescription: fmt.Sprintf("Latest mortgage insights for %s. Expert analysis on rates, policies, and market trends.",
			strings.Join(provinces, ", ")),
		InternalLinks: []string{"/calculators/payment", "/mli-select", "/about"},
	}
}

// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"
)

const maxScoutSources = 8

// ScoutExecutor discovers the run's topic and gathers research sources.
// In manual modes the operator's query seeds the topic; in auto mode the
// search targets recent industry news and the model picks the angle.
type ScoutExecutor struct {
	LLM    ChatCompleter
	Search SearchClient
}

func (e *ScoutExecutor) Stage() Stage { return StageTopicScout }

func (e *ScoutExecutor) Execute(ctx context.Context, run *Run) error {
	provinces := provincesOrDefault(run)

	var topic, searchQuery string
	switch {
	case run.Mode == ModeManualTopic && run.ManualQuery != "":
		topic = run.ManualQuery
		searchQuery = fmt.Sprintf("%s Canada mortgage %s", run.ManualQuery, strings.Join(provinces, " "))
	case run.Mode == ModeManualIdea && run.ManualQuery != "":
		topic = run.ManualQuery
		searchQuery = run.ManualQuery + " Canadian mortgage industry"
	default:
		topic = fmt.Sprintf("Latest mortgage updates for %s: rates, policies & market insights",
			strings.Join(provinces, ", "))
		searchQuery = "Canada mortgage news rates policy changes site:gov OR site:cmhc-schl.gc.ca OR site:bankofcanada.ca last 7 days"
	}

	sources, err := e.Search.Search(ctx, searchQuery, 10)
	if err != nil {
		return fmt.Errorf("source search failed: %w", err)
	}
	if len(sources) == 0 {
		// Broaden once before giving up.
		sources, err = e.Search.Search(ctx, "Canada mortgage industry news", 5)
		if err != nil {
			return fmt.Errorf("fallback search failed: %w", err)
		}
	}
	if len(sources) > maxScoutSources {
		sources = sources[:maxScoutSources]
	}

	analysis := e.analyze(ctx, topic, provinces, sources)

	run.Scout = &ScoutData{
		Topic:          analysis.Topic,
		Sources:        sources,
		Keywords:       analysis.Keywords,
		ProvinceAngles: analysis.ProvinceAngles,
	}
	return nil
}

type scoutAnalysis struct {
	Topic          string            `json:"topic"`
	Keywords       []string          `json:"keywords"`
	ProvinceAngles map[string]string `json:"provinceAngles"`
}

// analyze asks the model to pick the specific topic, keywords, and
// per-province angles. An unusable model response falls back to generic
// values instead of failing the step.
func (e *ScoutExecutor) analyze(ctx context.Context, topic string, provinces []string, sources []Source) scoutAnalysis {
	var sourceList strings.Builder
	for i, s := range sources {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sourceList, "%d. %s\n   %s\n   URL: %s\n\n", i+1, s.Title, s.Snippet, s.URL)
	}

	prompt := fmt.Sprintf(`Analyze these mortgage industry sources and extract:
1. Main topic focus (be specific to the mortgage industry)
2. Key SEO keywords (5-8 terms)
3. Province-specific angles for %s

Sources:
%s
Return JSON format:
{
  "topic": "specific topic description",
  "keywords": ["keyword1", "keyword2"],
  "provinceAngles": {"BC": "BC-specific angle"}
}`, strings.Join(provinces, ", "), sourceList.String())

	var analysis scoutAnalysis
	err := completeJSON(ctx, e.LLM,
		"You are a mortgage industry analyst. Extract insights from sources and return valid JSON.",
		prompt, 0.3, &analysis)
	if err != nil || analysis.Topic == "" {
		analysis.Topic = topic
		analysis.Keywords = []string{"mortgage rates", "home loans", "first time buyer", "refinancing", "mortgage broker"}
		analysis.ProvinceAngles = make(map[string]string, len(provinces))
		for _, p := range provinces {
			analysis.ProvinceAngles[p] = fmt.Sprintf("Latest mortgage developments for %s residents", p)
		}
	}
	return analysis
}

// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import "strings"

// suggestionRules maps message keywords to follow-up prompts. First
// match per rule wins; at most three suggestions are returned.
var suggestionRules = []struct {
	keywords    []string
	suggestions []string
}{
	{
		keywords: []string{"renew", "renewal"},
		suggestions: []string{
			"When should I start shopping before my renewal date?",
			"Can I switch lenders at renewal without requalifying?",
		},
	},
	{
		keywords: []string{"rate", "fixed", "variable"},
		suggestions: []string{
			"Should I choose a fixed or variable rate right now?",
			"How do Bank of Canada announcements affect my rate?",
		},
	},
	{
		keywords: []string{"first-time", "first time", "fthb", "down payment"},
		suggestions: []string{
			"What first-time buyer incentives are available in my province?",
			"How much down payment do I need to avoid CMHC insurance?",
		},
	},
	{
		keywords: []string{"refinanc", "equity", "heloc"},
		suggestions: []string{
			"How much equity can I access with a refinance?",
			"What are the penalties for breaking my current mortgage?",
		},
	},
	{
		keywords: []string{"stress test", "qualify", "approval"},
		suggestions: []string{
			"What income do I need to qualify at today's stress test rate?",
			"How can I improve my approval odds?",
		},
	},
}

var defaultSuggestions = []string{
	"What are current mortgage rates in Canada?",
	"How does the mortgage stress test work?",
	"What should I know before my mortgage renewal?",
}

// chatSuggestions returns follow-up prompts for a buffered chat reply.
func chatSuggestions(message string) []string {
	lower := strings.ToLower(message)
	var out []string
	for _, rule := range suggestionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, rule.suggestions...)
				break
			}
		}
		if len(out) >= 3 {
			return out[:3]
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultSuggestions...)
	}
	return out
}

// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package llm

import "sync"

// Analytics accumulates routing outcomes for the lifetime of the process.
// All methods are safe for concurrent use.
type Analytics struct {
	mu sync.Mutex

	totalQueries    int64
	freeQueries     int64
	paidQueries     int64
	multiAttempt    int64
	failedQueries   int64
	totalCost       float64
	totalResponseMs int64
}

// AnalyticsSnapshot is a point-in-time copy of the routing counters with
// derived rates computed.
type AnalyticsSnapshot struct {
	TotalQueries      int64   `json:"totalQueries"`
	FreeQueries       int64   `json:"freeQueries"`
	PaidQueries       int64   `json:"paidQueries"`
	MultiAttempt      int64   `json:"multiAttemptQueries"`
	FailedQueries     int64   `json:"failedQueries"`
	FreeTierRate      float64 `json:"freeTierRate"`
	TotalCost         float64 `json:"totalCost"`
	AvgCostPerQuery   float64 `json:"avgCostPerQuery"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
}

// NewAnalytics returns a zeroed counter set.
func NewAnalytics() *Analytics {
	return &Analytics{}
}

// RecordSuccess folds a completed routing decision into the aggregate.
func (a *Analytics) RecordSuccess(meta ChatMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalQueries++
	if meta.IsFree {
		a.freeQueries++
	} else {
		a.paidQueries++
	}
	if meta.Attempts > 1 {
		a.multiAttempt++
	}
	a.totalCost += meta.Cost
	a.totalResponseMs += meta.ResponseTimeMs
}

// RecordFailure folds an exhausted candidate walk into the aggregate.
func (a *Analytics) RecordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalQueries++
	a.failedQueries++
}

// Snapshot returns a copy of the current counters with derived rates.
func (a *Analytics) Snapshot() AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := AnalyticsSnapshot{
		TotalQueries:  a.totalQueries,
		FreeQueries:   a.freeQueries,
		PaidQueries:   a.paidQueries,
		MultiAttempt:  a.multiAttempt,
		FailedQueries: a.failedQueries,
		TotalCost:     a.totalCost,
	}
	succeeded := a.totalQueries - a.failedQueries
	if succeeded > 0 {
		s.FreeTierRate = float64(a.freeQueries) / float64(succeeded)
		s.AvgCostPerQuery = a.totalCost / float64(succeeded)
		s.AvgResponseTimeMs = float64(a.totalResponseMs) / float64(succeeded)
	}
	return s
}

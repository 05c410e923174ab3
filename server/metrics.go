// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	promRunsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kraftcontent_runs_created_total",
			Help: "Total number of pipeline runs created",
		},
	)
	promStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kraftcontent_pipeline_steps_total",
			Help: "Pipeline step executions by stage and outcome",
		},
		[]string{"stage", "status"},
	)
	promStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kraftcontent_pipeline_step_duration_milliseconds",
			Help:    "Step execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"stage"},
	)
	promChatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kraftcontent_chat_requests_total",
			Help: "Chat requests by provider and outcome",
		},
		[]string{"provider", "status"},
	)
	promChatCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kraftcontent_chat_cost_dollars_total",
			Help: "Cumulative estimated chat spend in dollars",
		},
	)
	promHTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kraftcontent_http_request_duration_milliseconds",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(promRunsCreated)
	prometheus.MustRegister(promStepsTotal)
	prometheus.MustRegister(promStepDuration)
	prometheus.MustRegister(promChatRequests)
	prometheus.MustRegister(promChatCost)
	prometheus.MustRegister(promHTTPDuration)
}

// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for KraftContent pipeline
components.

# Overview

The logger outputs one JSON object per line to stdout, making logs easily
consumable by CloudWatch, ELK, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (pipeline, llm-router, etc.)
  - Instance ID and container name (for distributed tracing)
  - Run ID (for pipeline run correlation)
  - Request ID (for HTTP request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("pipeline")

Log messages with run and request context:

	log.Info(runID, requestID, "step completed", map[string]interface{}{
	    "agent": "writer",
	})

Log errors with status codes:

	log.ErrorWithCode(runID, requestID, "step failed", 500, err, nil)

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

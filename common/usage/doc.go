// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

/*
Package usage provides usage metering for the KraftContent platform.

Two event types are persisted to the usage_events table:

  - api_call: one row per inbound HTTP request, with method, path,
    status code, and latency.
  - llm_request: one row per routed LLM call, with provider, model,
    token counts, estimated cost in cents, and latency.

Cost estimation uses static per-model pricing tables in cents per 1K
tokens; free-tier models always cost zero. A Recorder constructed with a
nil database records nothing, so metering is optional per deployment.
*/
package usage

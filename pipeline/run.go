// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"time"
)

// Mode selects how a run is seeded.
type Mode string

const (
	// ModeAuto lets the topic scout pick the subject from trend research.
	ModeAuto Mode = "auto"

	// ModeManualTopic seeds the scout with an operator-supplied topic.
	ModeManualTopic Mode = "manual-topic"

	// ModeManualIdea skips trend selection entirely and builds the brief
	// from an operator-supplied idea.
	ModeManualIdea Mode = "manual-idea"
)

// Stage names the six fixed pipeline stages, in execution order.
type Stage string

const (
	StageTopicScout Stage = "topic-scout"
	StageBrief      Stage = "brief"
	StageWriter     Stage = "writer"
	StageGate       Stage = "gate"
	StageEditor     Stage = "editor"
	StagePublish    Stage = "publish"
)

// Stages returns the fixed stage order. Every run has exactly these six
// steps; the slice is freshly allocated per call.
func Stages() []Stage {
	return []Stage{StageTopicScout, StageBrief, StageWriter, StageGate, StageEditor, StagePublish}
}

// StepStatus is the lifecycle state of one pipeline step.
type StepStatus string

const (
	StatusQueued  StepStatus = "queued"
	StatusRunning StepStatus = "running"
	StatusOK      StepStatus = "ok"
	StatusError   StepStatus = "error"
)

// Step records the execution state of one stage within a run.
type Step struct {
	Agent      Stage      `json:"agent"`
	Status     StepStatus `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// LogEntry is one line of a run's execution log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Agent   Stage     `json:"agent,omitempty"`
	Message string    `json:"message"`
}

// Run is the durable document for one pipeline execution. All stage
// outputs accumulate on the run itself so any step can read its
// predecessors' work.
type Run struct {
	ID              string   `json:"id"`
	Mode            Mode     `json:"mode"`
	ManualQuery     string   `json:"manualQuery,omitempty"`
	TargetProvinces []string `json:"targetProvinces,omitempty"`
	CreatedBy       string   `json:"createdBy,omitempty"`

	Steps []Step     `json:"steps"`
	Logs  []LogEntry `json:"logs,omitempty"`

	Scout     *ScoutData   `json:"scout,omitempty"`
	Brief     *BriefData   `json:"brief,omitempty"`
	Draft     *DraftData   `json:"draft,omitempty"`
	Gate      *GateData    `json:"gate,omitempty"`
	Final     *FinalData   `json:"final,omitempty"`
	Published *PublishData `json:"published,omitempty"`

	StartedAt time.Time `json:"startedAt"`
}

// Source is one research citation carried from scout to publish.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// ScoutData is the topic scout's output: the chosen subject and the
// research backing it.
type ScoutData struct {
	Topic          string            `json:"topic"`
	Sources        []Source          `json:"sources,omitempty"`
	Keywords       []string          `json:"keywords,omitempty"`
	ProvinceAngles map[string]string `json:"provinceAngles,omitempty"`
}

// BriefData is the content brief driving the writer.
type BriefData struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	Outline         []string `json:"outline,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	FAQ             []string `json:"faq,omitempty"`
	MetaDescription string   `json:"metaDescription,omitempty"`
	InternalLinks   []string `json:"internalLinks,omitempty"`
}

// DraftData is the writer's output.
type DraftData struct {
	Markdown  string   `json:"markdown"`
	WordCount int      `json:"wordCount"`
	Sources   []Source `json:"sources,omitempty"`
}

// GateVerdict is the quality gate's decision for a draft.
type GateVerdict string

const (
	VerdictApprove GateVerdict = "approve"
	VerdictRevise  GateVerdict = "revise"
	VerdictReject  GateVerdict = "reject"
)

// GateData is the quality gate's output. A revise verdict passes the
// step with the reasons recorded for the editor; reject fails the step.
type GateData struct {
	Verdict         GateVerdict `json:"verdict"`
	Reasons         []string    `json:"reasons,omitempty"`
	Embeddings      [][]float64 `json:"embeddings,omitempty"`
	DuplicateOfSlug string      `json:"duplicateOfSlug,omitempty"`
	SimilarityScore float64     `json:"similarityScore,omitempty"`
}

// FinalData is the editor's polished output.
type FinalData struct {
	Markdown     string   `json:"markdown"`
	WordCount    int      `json:"wordCount"`
	Enhancements []string `json:"enhancements,omitempty"`
}

// PublishMethod names where a finished piece landed.
type PublishMethod string

const (
	PublishWordPress PublishMethod = "wordpress"
	PublishStore     PublishMethod = "store"
)

// PublishData records where the finished piece landed.
type PublishData struct {
	URL         string        `json:"url,omitempty"`
	Method      PublishMethod `json:"method"`
	PublishedAt time.Time     `json:"publishedAt"`
}

// NewRun builds a queued run with all six steps in order.
func NewRun(id string, mode Mode, manualQuery string, provinces []string, createdBy string) *Run {
	steps := make([]Step, 0, 6)
	for _, stage := range Stages() {
		steps = append(steps, Step{Agent: stage, Status: StatusQueued})
	}
	return &Run{
		ID:              id,
		Mode:            mode,
		ManualQuery:     manualQuery,
		TargetProvinces: provinces,
		CreatedBy:       createdBy,
		Steps:           steps,
		StartedAt:       time.Now().UTC(),
	}
}

// NextStep returns the index of the first step that is not ok, or -1 when
// every step completed.
func (r *Run) NextStep() int {
	for i, step := range r.Steps {
		if step.Status != StatusOK {
			return i
		}
	}
	return -1
}

// Done reports whether every step completed successfully.
func (r *Run) Done() bool {
	return r.NextStep() == -1
}

// HasError reports whether any step is in the error state.
func (r *Run) HasError() bool {
	for _, step := range r.Steps {
		if step.Status == StatusError {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	out := *r
	out.Steps = append([]Step(nil), r.Steps...)
	out.Logs = append([]LogEntry(nil), r.Logs...)
	out.TargetProvinces = append([]string(nil), r.TargetProvinces...)
	if r.Scout != nil {
		scout := *r.Scout
		scout.Sources = append([]Source(nil), r.Scout.Sources...)
		scout.Keywords = append([]string(nil), r.Scout.Keywords...)
		if r.Scout.ProvinceAngles != nil {
			scout.ProvinceAngles = make(map[string]string, len(r.Scout.ProvinceAngles))
			for k, v := range r.Scout.ProvinceAngles {
				scout.ProvinceAngles[k] = v
			}
		}
		out.Scout = &scout
	}
	if r.Brief != nil {
		brief := *r.Brief
		brief.Outline = append([]string(nil), r.Brief.Outline...)
		brief.Keywords = append([]string(nil), r.Brief.Keywords...)
		brief.FAQ = append([]string(nil), r.Brief.FAQ...)
		brief.InternalLinks = append([]string(nil), r.Brief.InternalLinks...)
		out.Brief = &brief
	}
	if r.Draft != nil {
		draft := *r.Draft
		draft.Sources = append([]Source(nil), r.Draft.Sources...)
		out.Draft = &draft
	}
	if r.Gate != nil {
		gate := *r.Gate
		gate.Reasons = append([]string(nil), r.Gate.Reasons...)
		gate.Embeddings = make([][]float64, len(r.Gate.Embeddings))
		for i, emb := range r.Gate.Embeddings {
			gate.Embeddings[i] = append([]float64(nil), emb...)
		}
		out.Gate = &gate
	}
	if r.Final != nil {
		final := *r.Final
		final.Enhancements = append([]string(nil), r.Final.Enhancements...)
		out.Final = &final
	}
	if r.Published != nil {
		published := *r.Published
		out.Published = &published
	}
	return &out
}

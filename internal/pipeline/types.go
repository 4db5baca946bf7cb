// Package pipeline implements the per-submission orchestrator of spec
// §4.4: LOAD_TEMPLATE → BUILD_TREE → PREFLIGHT → GRADE → FOCUS → FEEDBACK
// → EXPORT, each stage traced into a PipelineExecution.
//
// A single Dependencies struct of nil-safe optional collaborators,
// sequential stage methods that each log via the observability Logger
// and record a metric, and a defer-guarded cleanup path carry every
// run through the stages its Config enables (PREFLIGHT, FOCUS, FEEDBACK
// and EXPORT are conditional).
package pipeline

import (
	"time"

	"github.com/gradekit/gradesvc/internal/feedback"
	"github.com/gradekit/gradesvc/internal/grading"
)

// Stage tags one of the seven pipeline stages (spec §4.4).
type Stage string

const (
	StageLoadTemplate Stage = "LOAD_TEMPLATE"
	StageBuildTree    Stage = "BUILD_TREE"
	StagePreflight    Stage = "PREFLIGHT"
	StageGrade        Stage = "GRADE"
	StageFocus        Stage = "FOCUS"
	StageFeedback     Stage = "FEEDBACK"
	StageExport       Stage = "EXPORT"
)

// Status is a PipelineExecution's lifecycle state (spec §4.4: "empty →
// running → {success, failed, interrupted}").
type Status string

const (
	StatusEmpty       Status = ""
	StatusRunning     Status = "running"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// StepRecord is one stage's trace entry (spec §4.4 "trace retention").
type StepRecord struct {
	Stage        Stage
	Status       string // "success" | "failed"
	Message      string
	ErrorDetails map[string]any
	DurationMs   int64
}

// GradingResult carries the grading output once GRADE has run.
// FinalScore/ResultTree are nil until GRADE completes; Feedback is empty
// until FEEDBACK runs (or is skipped when feedback is disabled).
type GradingResult struct {
	FinalScore    *float64
	BonusPoints   float64
	PenaltyPoints float64
	ResultTree    *grading.Tree
	Feedback      string
	Focus         []feedback.FocusEntry
}

// PipelineExecution is the per-submission trace and outcome record (spec
// §4.4, §6 "Pipeline.run(submission) → PipelineExecution").
type PipelineExecution struct {
	ID         string
	Submission grading.Submission
	Status     Status
	Steps      []StepRecord
	FailedAt   Stage
	StartedAt  time.Time
	FinishedAt time.Time
	Result     GradingResult
}

// recordStep appends a trace entry.
func (e *PipelineExecution) recordStep(step StepRecord) {
	e.Steps = append(e.Steps, step)
}

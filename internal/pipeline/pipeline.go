package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gradekit/gradesvc/internal/feedback"
	"github.com/gradekit/gradesvc/internal/grading"
	"github.com/gradekit/gradesvc/internal/observability"
	"github.com/gradekit/gradesvc/internal/rubric"
	"github.com/gradekit/gradesvc/internal/sandboxpool"
	"github.com/gradekit/gradesvc/internal/security"
)

// Exporter hands a finished execution to an external sink (spec §4.4
// stage 7, "EXPORT (conditional) — hands results to an external sink").
type Exporter interface {
	Export(ctx context.Context, execution *PipelineExecution) error
}

// Dependencies is the pipeline's set of nil-safe optional collaborators:
// every field but Templates is optional, and every stage method checks
// its own collaborator before using it, so a pipeline can be built with
// only what the chosen stages actually need.
type Dependencies struct {
	Templates *rubric.Registry // required
	Pool      *sandboxpool.Manager
	Logger    *observability.Logger
	Metrics   *observability.MetricsCollector
	Prom      *observability.PromMetrics
	Reporter  feedback.Reporter
	Exporter  Exporter

	// Validator and Limiter are optional safety checks run before
	// LOAD_TEMPLATE: Validator rejects oversized, path-traversing, or
	// blocked-user submissions before anything is copied into a
	// sandbox; Limiter caps how many runs one user may have in flight
	// at once. Audit, if set, records the submission's receipt, a
	// validation rejection or run-limit refusal, grade completion, and
	// an export failure; individual stage transitions are not audited.
	Validator *security.SubmissionValidator
	Limiter   *security.RunLimiter
	Audit     *security.AuditLogger
}

// Config is build_pipeline's input (spec §6).
type Config struct {
	TemplateName    string
	CustomTemplate  *rubric.Template // used instead of a registry lookup when non-nil
	Criteria        *rubric.Config
	SetupConfig     *SetupConfig
	FeedbackConfig  feedback.RenderConfig
	FeedbackEnabled bool
	ExportEnabled   bool

	// MaxConcurrentRunsPerUser bounds how many Run calls may be in
	// flight for one submitter at once when Dependencies.Limiter is
	// set. Zero means unbounded.
	MaxConcurrentRunsPerUser int
}

// Pipeline is a stateless, reusable (spec §4.4 "Reusability") definition
// built from one rubric; concurrent Run calls are safe.
type Pipeline struct {
	deps   Dependencies
	config Config
}

// Build implements spec §6 `build_pipeline`: resolves the template once
// (by name against the registry, or the supplied custom descriptor) and
// builds the rubric tree once, purely to surface configuration errors to
// the caller synchronously (spec §7: "surfaced at build_pipeline or at
// the BUILD_TREE stage"). The resolved tree itself is not cached — Run
// performs LOAD_TEMPLATE/BUILD_TREE again per execution, so every run's
// trace carries real stage entries and a rubric change takes effect
// without rebuilding the Pipeline.
func Build(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.Templates == nil && cfg.CustomTemplate == nil {
		return nil, fmt.Errorf("build_pipeline: no template registry and no custom template supplied")
	}

	p := &Pipeline{deps: deps, config: cfg}

	tmpl, err := p.loadTemplate()
	if err != nil {
		return nil, err
	}
	if _, err := rubric.Build(cfg.Criteria, tmpl); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) loadTemplate() (*rubric.Template, error) {
	if p.config.CustomTemplate != nil {
		return p.config.CustomTemplate, nil
	}
	tmpl := p.deps.Templates.Get(p.config.TemplateName)
	if tmpl == nil {
		return nil, &TemplateNotFoundError{Name: p.config.TemplateName}
	}
	return tmpl, nil
}

// Run implements spec §4.4: the seven-stage sequence against one
// submission, producing a fully-traced PipelineExecution.
func (p *Pipeline) Run(ctx context.Context, submission grading.Submission) *PipelineExecution {
	exec := &PipelineExecution{
		ID:         uuid.NewString(),
		Submission: submission,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}

	var acquiredHandle *sandboxpool.Handle
	var destroyOnRelease bool
	limiterAcquired := false

	defer func() {
		if r := recover(); r != nil {
			exec.Status = StatusInterrupted
			exec.recordStep(StepRecord{
				Stage:   exec.FailedAt,
				Status:  "failed",
				Message: fmt.Sprintf("unhandled exception: %v", r),
			})
			destroyOnRelease = true
		}
		if acquiredHandle != nil && p.deps.Pool != nil {
			p.deps.Pool.Release(submission.Language, acquiredHandle, destroyOnRelease)
		}
		if limiterAcquired {
			p.deps.Limiter.ReleaseRun(submission.UserID)
		}
		exec.FinishedAt = time.Now()
		if exec.Status == StatusRunning {
			exec.Status = StatusSuccess
		}
		p.logFinish(exec)
	}()

	if !p.runSafetyCheck(exec, submission) {
		return exec
	}
	if p.deps.Limiter != nil {
		p.deps.Limiter.AcquireRun(submission.UserID)
		limiterAcquired = true
	}
	if p.deps.Audit != nil {
		p.deps.Audit.Log(security.AuditSubmissionReceived, security.SeverityInfo, exec.ID, submission.UserID, "submit", submission.AssignmentID, true, nil)
	}

	tmpl, ok := p.runLoadTemplate(exec)
	if !ok {
		return exec
	}

	tree, ok := p.runBuildTree(exec, tmpl)
	if !ok {
		return exec
	}

	var sandbox rubric.SandboxHandle
	if p.config.SetupConfig != nil {
		handle, ok := p.runPreflight(ctx, exec, tmpl, submission)
		if !ok {
			return exec
		}
		if handle != nil {
			acquiredHandle = handle
			sandbox = handle
		}
	}

	p.runGrade(exec, tree, submission, sandbox)

	if p.config.FeedbackEnabled {
		p.runFocus(exec)
		p.runFeedback(exec)
	}

	if p.config.ExportEnabled {
		p.runExport(ctx, exec)
	}

	return exec
}

// runSafetyCheck rejects a submission before any stage runs: a blocked
// user, a path-traversing or oversized file, or a submitter already at
// their concurrent-run limit. A rejection is recorded against PREFLIGHT,
// matching spec §7's "configuration and safety errors never reach
// GRADE" intent even though no sandbox has been touched yet.
func (p *Pipeline) runSafetyCheck(exec *PipelineExecution, submission grading.Submission) bool {
	start := time.Now()

	if p.deps.Limiter != nil {
		if violation := p.deps.Limiter.CheckRun(submission.UserID, p.config.MaxConcurrentRunsPerUser); violation != nil {
			if p.deps.Audit != nil {
				p.deps.Audit.LogError(security.AuditRunLimitExceeded, exec.ID, submission.UserID, "submit", submission.AssignmentID, violation.Details, nil)
			}
			p.failStage(exec, StagePreflight, start, violation.Details, map[string]any{"error_type": "run_limit_exceeded"})
			return false
		}
	}

	if p.deps.Validator != nil {
		manifest := security.SubmissionManifest{
			AssignmentID: submission.AssignmentID,
			UserID:       submission.UserID,
			Language:     submission.Language,
		}
		for name, content := range submission.Files {
			manifest.Files = append(manifest.Files, security.FileDescriptor{Name: name, Size: int64(len(content))})
		}
		result := p.deps.Validator.Validate(manifest)
		if !result.Valid {
			reason := strings.Join(result.Errors, "; ")
			if p.deps.Audit != nil {
				p.deps.Audit.LogError(security.AuditSubmissionRejected, exec.ID, submission.UserID, "submit", submission.AssignmentID, reason, nil)
			}
			p.failStage(exec, StagePreflight, start, reason, map[string]any{"error_type": "submission_rejected", "warnings": result.Warnings})
			return false
		}
	}

	return true
}

func (p *Pipeline) runLoadTemplate(exec *PipelineExecution) (*rubric.Template, bool) {
	start := time.Now()
	tmpl, err := p.loadTemplate()
	if err != nil {
		p.failStage(exec, StageLoadTemplate, start, err.Error(), nil)
		return nil, false
	}
	p.succeedStage(exec, StageLoadTemplate, start, "")
	return tmpl, true
}

func (p *Pipeline) runBuildTree(exec *PipelineExecution, tmpl *rubric.Template) (*rubric.Tree, bool) {
	start := time.Now()
	tree, err := rubric.Build(p.config.Criteria, tmpl)
	if err != nil {
		p.failStage(exec, StageBuildTree, start, err.Error(), nil)
		return nil, false
	}
	p.succeedStage(exec, StageBuildTree, start, "")
	return tree, true
}

// runPreflight implements spec §4.4 stage 3: resolve the language setup
// block, verify required files, and (if the template needs one) acquire
// a sandbox, copy files in, and run setup commands in order.
func (p *Pipeline) runPreflight(ctx context.Context, exec *PipelineExecution, tmpl *rubric.Template, submission grading.Submission) (*sandboxpool.Handle, bool) {
	start := time.Now()
	block := p.config.SetupConfig.For(submission.Language)

	for _, name := range block.RequiredFiles {
		if _, ok := submission.Files[name]; !ok {
			p.failStage(exec, StagePreflight, start, fmt.Sprintf("missing required file %q", name), map[string]any{
				"error_type":    "required_file_missing",
				"missing_file":  name,
			})
			return nil, false
		}
	}

	if !tmpl.RequiresSandbox() {
		p.succeedStage(exec, StagePreflight, start, "")
		return nil, true
	}

	if p.deps.Pool == nil {
		p.failStage(exec, StagePreflight, start, "template requires a sandbox but no pool is configured", map[string]any{
			"error_type": "sandbox_unavailable",
		})
		return nil, false
	}

	handle, err := p.deps.Pool.Acquire(ctx, submission.Language)
	if err != nil {
		p.failStage(exec, StagePreflight, start, err.Error(), map[string]any{
			"error_type": "sandbox_unavailable",
		})
		return nil, false
	}

	if err := handle.CopyFiles(submission.Files); err != nil {
		p.deps.Pool.Release(submission.Language, handle, true)
		p.failStage(exec, StagePreflight, start, err.Error(), map[string]any{
			"error_type": "sandbox_unavailable",
		})
		return nil, false
	}

	for _, cmd := range block.SetupCommands {
		exitCode, stdout, stderr, err := handle.RunCommand(cmd.Command, "")
		if err != nil || exitCode != 0 {
			p.deps.Pool.Release(submission.Language, handle, true)
			p.failStage(exec, StagePreflight, start, fmt.Sprintf("setup command %q failed", cmd.Name), map[string]any{
				"error_type":   "setup_command_failed",
				"command_name": cmd.Name,
				"command":      cmd.Command,
				"exit_code":    exitCode,
				"stdout":       stdout,
				"stderr":       stderr,
			})
			return nil, false
		}
	}

	p.succeedStage(exec, StagePreflight, start, "")
	return handle, true
}

func (p *Pipeline) runGrade(exec *PipelineExecution, tree *rubric.Tree, submission grading.Submission, sandbox rubric.SandboxHandle) {
	start := time.Now()
	exec.FailedAt = StageGrade // set pre-emptively so a panic here is attributed correctly

	resultTree, scores := grading.Grade(tree, submission, sandbox)

	exec.Result.ResultTree = resultTree
	exec.Result.FinalScore = &scores.FinalScore
	exec.Result.BonusPoints = scores.BonusPoints
	exec.Result.PenaltyPoints = scores.PenaltyPoints

	p.succeedStage(exec, StageGrade, start, fmt.Sprintf("final_score=%.2f", scores.FinalScore))
	if p.deps.Audit != nil {
		p.deps.Audit.Log(security.AuditGradeCompleted, security.SeverityInfo, exec.ID, submission.UserID, "grade", submission.AssignmentID, true,
			map[string]string{"final_score": fmt.Sprintf("%.2f", scores.FinalScore)})
	}
}

func (p *Pipeline) runFocus(exec *PipelineExecution) {
	start := time.Now()
	exec.FailedAt = StageFocus
	exec.Result.Focus = feedback.ComputeFocus(exec.Result.ResultTree)
	p.succeedStage(exec, StageFocus, start, fmt.Sprintf("%d focus entries", len(exec.Result.Focus)))
}

func (p *Pipeline) runFeedback(exec *PipelineExecution) {
	start := time.Now()
	exec.FailedAt = StageFeedback

	reporter := p.deps.Reporter
	if reporter == nil {
		reporter = feedback.StructuredReporter{}
	}

	scores := grading.Scores{
		BonusPoints:   exec.Result.BonusPoints,
		PenaltyPoints: exec.Result.PenaltyPoints,
	}
	if exec.Result.FinalScore != nil {
		scores.FinalScore = *exec.Result.FinalScore
	}

	report, err := reporter.Render(exec.Result.ResultTree, scores, exec.Result.Focus, p.config.FeedbackConfig)
	if err != nil {
		p.failStage(exec, StageFeedback, start, err.Error(), nil)
		return
	}

	exec.Result.Feedback = report
	p.succeedStage(exec, StageFeedback, start, "")
}

func (p *Pipeline) runExport(ctx context.Context, exec *PipelineExecution) {
	start := time.Now()
	exec.FailedAt = StageExport

	if p.deps.Exporter == nil {
		p.succeedStage(exec, StageExport, start, "no exporter configured, skipped")
		return
	}

	if err := p.deps.Exporter.Export(ctx, exec); err != nil {
		if p.deps.Audit != nil {
			p.deps.Audit.LogError(security.AuditExportFailed, exec.ID, exec.Submission.UserID, "export", exec.Submission.AssignmentID, err.Error(), nil)
		}
		p.failStage(exec, StageExport, start, err.Error(), nil)
		return
	}
	p.succeedStage(exec, StageExport, start, "")
}

func (p *Pipeline) succeedStage(exec *PipelineExecution, stage Stage, start time.Time, message string) {
	exec.recordStep(StepRecord{
		Stage:      stage,
		Status:     "success",
		Message:    message,
		DurationMs: time.Since(start).Milliseconds(),
	})
	if p.deps.Logger != nil {
		p.deps.Logger.Stage(string(stage), "success")
	}
	p.recordStageMetric(stage, time.Since(start), true)
}

func (p *Pipeline) failStage(exec *PipelineExecution, stage Stage, start time.Time, message string, details map[string]any) {
	exec.Status = StatusFailed
	exec.FailedAt = stage
	exec.recordStep(StepRecord{
		Stage:        stage,
		Status:       "failed",
		Message:      message,
		ErrorDetails: details,
		DurationMs:   time.Since(start).Milliseconds(),
	})
	if p.deps.Logger != nil {
		p.deps.Logger.Stage(string(stage), "failed", slog.String("message", message))
	}
	p.recordStageMetric(stage, time.Since(start), false)
}

func (p *Pipeline) recordStageMetric(stage Stage, dur time.Duration, success bool) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.Record(observability.MetricStageMs, float64(dur.Milliseconds()), observability.Labels{"stage": string(stage)})
		if !success {
			p.deps.Metrics.Increment("stage_failures_" + string(stage))
		}
	}
	if p.deps.Prom != nil {
		p.deps.Prom.StageLatencySecs.WithLabelValues(string(stage)).Observe(dur.Seconds())
		if !success {
			p.deps.Prom.StageFailures.WithLabelValues(string(stage)).Inc()
		}
	}
}

func (p *Pipeline) logFinish(exec *PipelineExecution) {
	if p.deps.Logger != nil {
		p.deps.Logger.Stage("FINISH", string(exec.Status), slog.String("execution_id", exec.ID))
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.Increment("runs_" + string(exec.Status))
		if exec.Result.FinalScore != nil {
			p.deps.Metrics.Record(observability.MetricFinalScore, *exec.Result.FinalScore, nil)
		}
	}
	if p.deps.Prom != nil {
		p.deps.Prom.PipelineRuns.WithLabelValues(string(exec.Status)).Inc()
	}
}

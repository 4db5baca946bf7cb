package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/gradekit/gradesvc/internal/feedback"
	"github.com/gradekit/gradesvc/internal/grading"
	"github.com/gradekit/gradesvc/internal/rubric"
	"github.com/gradekit/gradesvc/internal/security"
)

type scoreTest struct {
	name  string
	score float64
}

func (s scoreTest) Name() string                              { return s.name }
func (s scoreTest) ParamDescriptors() []rubric.ParamDescriptor { return nil }
func (s scoreTest) RequiredFileKind() rubric.FileKind          { return rubric.FileKindNone }
func (s scoreTest) Execute(files []rubric.SubmissionFile, sandbox rubric.SandboxHandle, params map[string]string) (rubric.TestOutcome, error) {
	return rubric.TestOutcome{Score: s.score, Report: s.name}, nil
}

type panicTest struct{}

func (panicTest) Name() string                              { return "panic_test" }
func (panicTest) ParamDescriptors() []rubric.ParamDescriptor { return nil }
func (panicTest) RequiredFileKind() rubric.FileKind          { return rubric.FileKindNone }
func (panicTest) Execute(files []rubric.SubmissionFile, sandbox rubric.SandboxHandle, params map[string]string) (rubric.TestOutcome, error) {
	panic("boom")
}

func buildRegistry(templateName string, requiresSandbox bool, fns ...rubric.TestFunction) *rubric.Registry {
	tmpl := rubric.NewTemplate(templateName, requiresSandbox)
	for _, fn := range fns {
		if err := tmpl.Register(fn); err != nil {
			panic(err)
		}
	}
	tmpl.Seal()
	reg := rubric.NewRegistry()
	reg.Add(tmpl)
	return reg
}

func TestBuildFailsOnUnknownTemplate(t *testing.T) {
	reg := buildRegistry("known", false, scoreTest{"x", 100})
	_, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName: "missing",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
	})
	if err == nil {
		t.Fatal("expected TemplateNotFoundError")
	}
	if _, ok := err.(*TemplateNotFoundError); !ok {
		t.Fatalf("err = %T, want *TemplateNotFoundError", err)
	}
}

func TestBuildFailsOnInvalidRubricConfig(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	_, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "unregistered"}}}},
	})
	if err == nil {
		t.Fatal("expected a rubric build error")
	}
}

func TestRunHappyPathNoSetup(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"has_tag", 100})
	p, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "has_tag"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{Files: map[string][]byte{}})
	if exec.Status != StatusSuccess {
		t.Fatalf("status = %v, want success", exec.Status)
	}
	if *exec.Result.FinalScore != 100 {
		t.Fatalf("final score = %v, want 100", *exec.Result.FinalScore)
	}
	wantStages := []Stage{StageLoadTemplate, StageBuildTree, StageGrade}
	if len(exec.Steps) != len(wantStages) {
		t.Fatalf("steps = %d, want %d (no preflight/focus/feedback/export configured): %+v", len(exec.Steps), len(wantStages), exec.Steps)
	}
	for i, s := range wantStages {
		if exec.Steps[i].Stage != s {
			t.Errorf("step %d = %s, want %s", i, exec.Steps[i].Stage, s)
		}
	}
}

func TestRunPreflightMissingRequiredFile(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	p, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
		SetupConfig:  &SetupConfig{PerLanguage: map[string]LanguageSetupBlock{allLanguagesKey: {RequiredFiles: []string{"Calc.java"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{Language: "java", Files: map[string][]byte{}})
	if exec.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", exec.Status)
	}
	if exec.FailedAt != StagePreflight {
		t.Fatalf("failed at = %v, want PREFLIGHT", exec.FailedAt)
	}
	last := exec.Steps[len(exec.Steps)-1]
	if last.ErrorDetails["error_type"] != "required_file_missing" {
		t.Fatalf("error_type = %v, want required_file_missing", last.ErrorDetails["error_type"])
	}
	if last.ErrorDetails["missing_file"] != "Calc.java" {
		t.Errorf("missing_file = %v", last.ErrorDetails["missing_file"])
	}
	if exec.Result.FinalScore != nil {
		t.Errorf("expected nil final score on preflight failure")
	}
	if exec.Result.ResultTree != nil {
		t.Errorf("expected nil result tree on preflight failure")
	}
}

func TestRunGradeContainsPanickingTest(t *testing.T) {
	reg := buildRegistry("t", false, panicTest{})
	p, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "panic_test"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{Files: map[string][]byte{}})
	// The panic is contained inside grading.Grade itself (spec §9 "Failure
	// containment of test functions"), so the pipeline still completes
	// successfully with a score of 0 for the affected test.
	if exec.Status != StatusSuccess {
		t.Fatalf("status = %v, want success (panic contained at test level)", exec.Status)
	}
	if *exec.Result.FinalScore != 0 {
		t.Fatalf("final score = %v, want 0", *exec.Result.FinalScore)
	}
}

func TestRunWithFeedbackEnabledRendersReport(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"has_tag", 0})
	p, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName:    "t",
		Criteria:        &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "has_tag"}}}},
		FeedbackEnabled: true,
		FeedbackConfig:  feedback.RenderConfig{ShowScore: true},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{Files: map[string][]byte{}})
	if exec.Status != StatusSuccess {
		t.Fatalf("status = %v", exec.Status)
	}
	if exec.Result.Feedback == "" {
		t.Fatal("expected non-empty feedback")
	}
	if !strings.Contains(exec.Result.Feedback, "Score: 0.0/100") {
		t.Errorf("feedback missing score line: %s", exec.Result.Feedback)
	}
	if len(exec.Result.Focus) != 1 {
		t.Fatalf("focus entries = %d, want 1", len(exec.Result.Focus))
	}

	wantStages := []Stage{StageLoadTemplate, StageBuildTree, StageGrade, StageFocus, StageFeedback}
	if len(exec.Steps) != len(wantStages) {
		t.Fatalf("steps = %+v, want stages %v", exec.Steps, wantStages)
	}
}

func TestRunExportSkippedWhenNoExporterConfigured(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	p, err := Build(Dependencies{Templates: reg}, Config{
		TemplateName:  "t",
		Criteria:      &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
		ExportEnabled: true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{Files: map[string][]byte{}})
	if exec.Status != StatusSuccess {
		t.Fatalf("status = %v", exec.Status)
	}
	last := exec.Steps[len(exec.Steps)-1]
	if last.Stage != StageExport || last.Status != "success" {
		t.Fatalf("expected export stage to succeed as a no-op, got %+v", last)
	}
}

type failingExporter struct{ message string }

func (f failingExporter) Export(ctx context.Context, exec *PipelineExecution) error {
	return &exportError{f.message}
}

type exportError struct{ msg string }

func (e *exportError) Error() string { return e.msg }

func TestRunExportFailurePreservesGradingResult(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	p, err := Build(Dependencies{Templates: reg, Exporter: failingExporter{message: "sink unavailable"}}, Config{
		TemplateName:  "t",
		Criteria:      &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
		ExportEnabled: true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{Files: map[string][]byte{}})
	if exec.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", exec.Status)
	}
	if exec.FailedAt != StageExport {
		t.Fatalf("failed at = %v, want EXPORT", exec.FailedAt)
	}
	// GRADE already completed, so its result must survive an EXPORT failure.
	if exec.Result.FinalScore == nil || *exec.Result.FinalScore != 100 {
		t.Errorf("expected grading result preserved despite export failure, got %+v", exec.Result.FinalScore)
	}
}

func TestRunRejectsBlockedUser(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	validator := security.NewSubmissionValidator(security.ValidatorConfig{BlockedUsers: []string{"cheater"}})
	p, err := Build(Dependencies{Templates: reg, Validator: validator}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{UserID: "cheater", Files: map[string][]byte{}})
	if exec.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", exec.Status)
	}
	if exec.FailedAt != StagePreflight {
		t.Fatalf("failed at = %v, want PREFLIGHT", exec.FailedAt)
	}
	if exec.Result.FinalScore != nil {
		t.Error("expected no grading result for a rejected submission")
	}
	// GRADE must never have run for a blocked user.
	for _, step := range exec.Steps {
		if step.Stage == StageGrade {
			t.Fatalf("GRADE should not appear in the trace, got %+v", exec.Steps)
		}
	}
}

func TestRunRejectsPathTraversalFile(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	validator := security.NewSubmissionValidator(security.ValidatorConfig{})
	p, err := Build(Dependencies{Templates: reg, Validator: validator}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{
		UserID: "u1",
		Files:  map[string][]byte{"../../etc/passwd": []byte("x")},
	})
	if exec.Status != StatusFailed || exec.FailedAt != StagePreflight {
		t.Fatalf("expected a PREFLIGHT rejection, got status=%v failed_at=%v", exec.Status, exec.FailedAt)
	}
}

func TestRunEnforcesConcurrencyLimit(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	limiter := security.NewRunLimiter()
	limiter.AcquireRun("busy")
	p, err := Build(Dependencies{Templates: reg, Limiter: limiter}, Config{
		TemplateName:             "t",
		Criteria:                 &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
		MaxConcurrentRunsPerUser: 1,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{UserID: "busy", Files: map[string][]byte{}})
	if exec.Status != StatusFailed || exec.FailedAt != StagePreflight {
		t.Fatalf("expected run limit rejection, got status=%v failed_at=%v", exec.Status, exec.FailedAt)
	}
	if limiter.ActiveRuns("busy") != 1 {
		t.Errorf("expected the original run to still be tracked, got %d", limiter.ActiveRuns("busy"))
	}
}

func TestRunReleasesLimiterSlotOnCompletion(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	limiter := security.NewRunLimiter()
	p, err := Build(Dependencies{Templates: reg, Limiter: limiter}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{UserID: "u1", Files: map[string][]byte{}})
	if exec.Status != StatusSuccess {
		t.Fatalf("status = %v, want success", exec.Status)
	}
	if limiter.ActiveRuns("u1") != 0 {
		t.Errorf("expected limiter slot released after Run, got %d active", limiter.ActiveRuns("u1"))
	}
}

func TestRunAuditsSubmissionAndGrade(t *testing.T) {
	reg := buildRegistry("t", false, scoreTest{"x", 100})
	store := security.NewMemoryAuditStore()
	audit := security.NewAuditLogger(store)
	p, err := Build(Dependencies{Templates: reg, Audit: audit}, Config{
		TemplateName: "t",
		Criteria:     &rubric.Config{Base: rubric.CategorySpec{Weight: 100, Tests: []rubric.TestSpec{{Name: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := p.Run(context.Background(), grading.Submission{AssignmentID: "a1", UserID: "u1", Files: map[string][]byte{}})
	events, err := audit.Query(security.AuditFilter{ExecutionID: exec.ID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events (received + grade completed), got %d: %+v", len(events), events)
	}
}

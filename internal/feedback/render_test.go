package feedback

import (
	"context"
	"strings"
	"testing"

	"github.com/gradekit/gradesvc/internal/grading"
)

func sampleTree() *grading.Tree {
	return &grading.Tree{
		Base: grading.CategoryResult{
			Weight: 100,
			Group: grading.ResultGroup{
				SubjectsFactor: 1,
				Subjects: []grading.SubjectResult{
					{
						Name:   "HTML",
						Weight: 100,
						Group: grading.ResultGroup{
							TestsFactor: 1,
							Tests: []grading.TestResult{
								{Name: "has_tag", Weight: 100, Score: 0, Report: "missing <nav>", Params: map[string]string{"tag": "nav"}},
							},
						},
					},
				},
			},
		},
	}
}

func TestStructuredReporterIncludesTitleAndScore(t *testing.T) {
	tree := sampleTree()
	scores := grading.Scores{FinalScore: 50}
	focus := ComputeFocus(tree)

	out, err := (StructuredReporter{}).Render(tree, scores, focus, RenderConfig{
		ReportTitle: "Assignment 1 Feedback",
		ShowScore:   true,
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(out, "Assignment 1 Feedback") {
		t.Errorf("missing title: %s", out)
	}
	if !strings.Contains(out, "Score: 50.0/100") {
		t.Errorf("missing score line: %s", out)
	}
	if !strings.Contains(out, "has_tag") {
		t.Errorf("missing failed test: %s", out)
	}
	if !strings.Contains(out, "missing <nav>") {
		t.Errorf("missing report text: %s", out)
	}
}

func TestStructuredReporterShowPassedTests(t *testing.T) {
	tree := &grading.Tree{
		Base: grading.CategoryResult{
			Weight: 100,
			Group: grading.ResultGroup{
				TestsFactor: 1,
				Tests: []grading.TestResult{
					{Name: "passing_test", Weight: 100, Score: 100, Report: "all good"},
				},
			},
		},
	}
	focus := ComputeFocus(tree)

	out, err := (StructuredReporter{}).Render(tree, grading.Scores{FinalScore: 100}, focus, RenderConfig{ShowPassedTests: true})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(out, "passing_test") {
		t.Errorf("expected passed test listed: %s", out)
	}
}

func TestStructuredReporterOmitsEmptyCategoryByDefault(t *testing.T) {
	tree := sampleTree()
	out, err := (StructuredReporter{}).Render(tree, grading.Scores{}, ComputeFocus(tree), RenderConfig{})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if strings.Contains(out, "Penalty") {
		t.Errorf("unexpected penalty block: %s", out)
	}
}

func TestStructuredReporterAddReportSummary(t *testing.T) {
	tree := sampleTree()
	out, err := (StructuredReporter{}).Render(tree, grading.Scores{FinalScore: 0}, ComputeFocus(tree), RenderConfig{AddReportSummary: true})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(out, "Summary:") {
		t.Errorf("missing summary: %s", out)
	}
}

func TestStructuredReporterNilTree(t *testing.T) {
	_, err := (StructuredReporter{}).Render(nil, grading.Scores{}, nil, RenderConfig{})
	if err == nil {
		t.Fatal("expected error for nil tree")
	}
}

type stubProvider struct {
	response string
	err      error
}

func (s stubProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestAIReporterUsesProviderOutput(t *testing.T) {
	tree := sampleTree()
	r := AIReporter{Provider: stubProvider{response: "Nice try! Add a <nav> element next time."}}

	out, err := r.Render(tree, grading.Scores{FinalScore: 50}, ComputeFocus(tree), RenderConfig{})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(out, "Nice try") {
		t.Errorf("expected rewritten text, got: %s", out)
	}
}

func TestAIReporterFallsBackOnProviderError(t *testing.T) {
	tree := sampleTree()
	r := AIReporter{Provider: stubProvider{err: errBoom}, Fallback: StructuredReporter{}}

	out, err := r.Render(tree, grading.Scores{FinalScore: 50}, ComputeFocus(tree), RenderConfig{ShowScore: true})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(out, "Score: 50.0/100") {
		t.Errorf("expected structured fallback, got: %s", out)
	}
}

var errBoom = stubError("boom")

type stubError string

func (e stubError) Error() string { return string(e) }

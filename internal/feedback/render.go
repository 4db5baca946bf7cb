package feedback

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gradekit/gradesvc/internal/grading"
)

// RenderConfig configures the structured default renderer (spec §4.6).
type RenderConfig struct {
	ShowScore        bool
	ShowPassedTests  bool
	AddReportSummary bool
	CategoryHeaders  map[string]string // e.g. {"base": "Requirements", "bonus": "Extra Credit"}
	ReportTitle      string
}

// Reporter renders a graded result into a human-readable report (spec §6
// "AI-backed rendering is an external collaborator"; the core only
// specifies the structured default and the seam other reporters plug
// into).
type Reporter interface {
	Render(tree *grading.Tree, scores grading.Scores, focus []FocusEntry, cfg RenderConfig) (string, error)
}

// StructuredReporter is spec §4.6's default renderer: an optional title,
// an optional score line, one block per present category, and one bullet
// per failed test ordered by impact (with passing tests appended when
// configured).
type StructuredReporter struct{}

func (StructuredReporter) Render(tree *grading.Tree, scores grading.Scores, focus []FocusEntry, cfg RenderConfig) (string, error) {
	if tree == nil {
		return "", fmt.Errorf("structured reporter: result tree is nil")
	}

	var b strings.Builder

	if cfg.ReportTitle != "" {
		fmt.Fprintf(&b, "%s\n\n", cfg.ReportTitle)
	}
	if cfg.ShowScore {
		fmt.Fprintf(&b, "Score: %.1f/100\n\n", scores.FinalScore)
	}

	renderCategory(&b, "base", tree.Base, focus, cfg)
	if tree.Bonus != nil {
		renderCategory(&b, "bonus", *tree.Bonus, focus, cfg)
	}
	if tree.Penalty != nil {
		renderCategory(&b, "penalty", *tree.Penalty, focus, cfg)
	}

	if cfg.AddReportSummary {
		total, passed := summarize(tree)
		fmt.Fprintf(&b, "Summary: %d of %d tests passed. Final score %.1f/100.\n", passed, total, scores.FinalScore)
	}

	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

func renderCategory(b *strings.Builder, name string, cat grading.CategoryResult, focus []FocusEntry, cfg RenderConfig) {
	failed := filterCategory(focus, name)
	all := allTests(name, cat)
	if len(failed) == 0 && !cfg.ShowPassedTests {
		return
	}

	header, ok := cfg.CategoryHeaders[name]
	if !ok {
		header = strings.ToUpper(name[:1]) + name[1:]
	}
	fmt.Fprintf(b, "%s\n", header)

	for _, f := range failed {
		fmt.Fprintf(b, "  - [%s] %s: %s", testLabel(f), f.TestName, f.Report)
		if len(f.Params) > 0 {
			fmt.Fprintf(b, " (params: %s)", formatParams(f.Params))
		}
		b.WriteString("\n")
	}

	if cfg.ShowPassedTests {
		for _, t := range all {
			if t.Score < 100 {
				continue // already listed above, ordered by impact
			}
			fmt.Fprintf(b, "  - [PASS] %s: %s\n", t.TestName, t.Report)
		}
	}

	b.WriteString("\n")
}

func testLabel(f FocusEntry) string {
	if f.Path == "" {
		return "FAIL"
	}
	return f.Path
}

func filterCategory(entries []FocusEntry, category string) []FocusEntry {
	var out []FocusEntry
	for _, e := range entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, ", ")
}

func summarize(tree *grading.Tree) (total, passed int) {
	count := func(cat grading.CategoryResult) {
		for _, t := range allTests("", cat) {
			total++
			if t.Score >= 100 {
				passed++
			}
		}
	}
	count(tree.Base)
	if tree.Bonus != nil {
		count(*tree.Bonus)
	}
	if tree.Penalty != nil {
		count(*tree.Penalty)
	}
	return total, passed
}

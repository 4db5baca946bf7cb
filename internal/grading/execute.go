package grading

import (
	"fmt"

	"github.com/gradekit/gradesvc/internal/command"
	"github.com/gradekit/gradesvc/internal/rubric"
)

// Grade walks a rubric.Tree in declared traversal order (spec §5:
// "depth-first, children in declared order... a contractual ordering
// because tests may share sandbox state"), invokes every test function,
// and returns the resulting ResultTree plus the root-aggregated Scores.
//
// sandbox is nil unless the template declared requires_sandbox and
// preflight acquired one (spec §6); Grade never acquires or releases a
// sandbox itself — that discipline belongs to the pipeline orchestrator.
func Grade(tree *rubric.Tree, submission Submission, sandbox rubric.SandboxHandle) (*Tree, Scores) {
	result := &Tree{}

	result.Base = executeCategory(tree.Base, submission, sandbox)

	if tree.Bonus != nil {
		bonus := executeCategory(*tree.Bonus, submission, sandbox)
		result.Bonus = &bonus
	}
	if tree.Penalty != nil {
		penalty := executeCategory(*tree.Penalty, submission, sandbox)
		result.Penalty = &penalty
	}

	scores := aggregateRoot(result)
	return result, scores
}

func executeCategory(node rubric.CategoryNode, submission Submission, sandbox rubric.SandboxHandle) CategoryResult {
	group := executeGroup(node.Group, submission, sandbox)
	return CategoryResult{Weight: node.Weight, Group: group}
}

func executeSubject(node rubric.SubjectNode, submission Submission, sandbox rubric.SandboxHandle) SubjectResult {
	group := executeGroup(node.Group, submission, sandbox)
	return SubjectResult{Name: node.Name, Weight: node.Weight, Group: group}
}

// executeGroup runs every test in this group (in declared order), then
// recurses into subjects (also in declared order), then aggregates (spec
// §4.3 "Score aggregation (bottom-up)").
func executeGroup(group rubric.Group, submission Submission, sandbox rubric.SandboxHandle) ResultGroup {
	rg := ResultGroup{
		SubjectsFactor: group.SubjectsFactor,
		TestsFactor:    group.TestsFactor,
	}

	var testsScore float64
	if len(group.Tests) > 0 {
		rg.Tests = make([]TestResult, len(group.Tests))
		for i, tn := range group.Tests {
			rg.Tests[i] = executeTest(tn, submission, sandbox)
			testsScore += rg.Tests[i].Score * rg.Tests[i].Weight / 100
		}
	}

	var subjectsScore float64
	if len(group.Subjects) > 0 {
		rg.Subjects = make([]SubjectResult, len(group.Subjects))
		for i, sn := range group.Subjects {
			rg.Subjects[i] = executeSubject(sn, submission, sandbox)
			subjectsScore += rg.Subjects[i].Group.Score * rg.Subjects[i].Weight / 100
		}
	}

	switch {
	case len(group.Tests) > 0 && len(group.Subjects) > 0:
		rg.Score = subjectsScore*rg.SubjectsFactor + testsScore*rg.TestsFactor
	case len(group.Subjects) > 0:
		rg.Score = subjectsScore
	default:
		rg.Score = testsScore
	}

	return rg
}

// executeTest implements spec §4.3 "Per-test execution" and the failure
// containment REDESIGN FLAG: materialise params (resolving any command-dict
// or CMD placeholder parameter), select files, invoke the test function
// behind a recover() boundary, and clamp the resulting score.
func executeTest(tn rubric.TestNode, submission Submission, sandbox rubric.SandboxHandle) (result TestResult) {
	params := materializeParams(tn, submission.Language)
	files := selectFiles(tn.File, submission.Files)

	result = TestResult{Name: tn.Name, Weight: tn.Weight, Params: params}

	outcome, err := invokeContained(tn.Fn, files, sandbox, params)
	if err != nil {
		result.Score = 0
		result.Report = fmt.Sprintf("internal test error: %v", err)
		return result
	}

	outcome.Clamp()
	result.Score = outcome.Score
	result.Report = outcome.Report
	result.Metadata = outcome.Metadata
	return result
}

// invokeContained calls a test function's Execute behind a recover
// boundary so a misbehaving external test library can never bring down
// the pipeline (spec §9 "Failure containment of test functions"; spec §7
// "Test-execution errors... contained to the affected test").
func invokeContained(fn rubric.TestFunction, files []rubric.SubmissionFile, sandbox rubric.SandboxHandle, params map[string]string) (outcome rubric.TestOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test panicked: %v", r)
		}
	}()
	return fn.Execute(files, sandbox, params)
}

// materializeParams resolves every command-dict/placeholder parameter
// (spec §4.3 step 1-2) and merges the result over the test's plain params.
func materializeParams(tn rubric.TestNode, language string) map[string]string {
	merged := make(map[string]string, len(tn.Params)+len(tn.Commands))
	for k, v := range tn.Params {
		merged[k] = v
	}
	for k, c := range tn.Commands {
		merged[k] = command.Resolve(c.Literal, c.IsDict, c.ByLang, language)
	}
	return merged
}

// selectFiles implements spec §4.3 "File selection for a test".
func selectFiles(selector rubric.FileSelector, files map[string][]byte) []rubric.SubmissionFile {
	switch selector.Kind {
	case rubric.FileSelectorAll:
		out := make([]rubric.SubmissionFile, 0, len(files))
		for name, content := range files {
			out = append(out, rubric.SubmissionFile{Name: name, Content: content})
		}
		return out
	case rubric.FileSelectorOne, rubric.FileSelectorList:
		out := make([]rubric.SubmissionFile, 0, len(selector.Names))
		for _, name := range selector.Names {
			if content, ok := files[name]; ok {
				out = append(out, rubric.SubmissionFile{Name: name, Content: content})
			}
		}
		return out
	default:
		return nil
	}
}

// aggregateRoot implements spec §4.3 "Root aggregation".
func aggregateRoot(tree *Tree) Scores {
	scores := Scores{BaseScore: tree.Base.Group.Score}

	if tree.Bonus != nil {
		scores.BonusPoints = tree.Bonus.Group.Score * tree.Bonus.Weight / 100
	}
	if tree.Penalty != nil {
		scores.PenaltyPoints = tree.Penalty.Group.Score * tree.Penalty.Weight / 100
	}

	final := scores.BaseScore + scores.BonusPoints - scores.PenaltyPoints
	scores.FinalScore = clamp(final, 0, 100)
	return scores
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

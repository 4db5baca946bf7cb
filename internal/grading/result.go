// Package grading implements test execution and scoring against a built
// rubric.Tree (spec §4.3): traversing the tree in declared order, invoking
// each test function with its selected files and resolved parameters,
// materialising a mirror ResultTree, and aggregating scores bottom-up.
package grading

// Submission is the per-grading input (spec §3): identity
// (AssignmentID, UserID), a display name, the file mapping borrowed
// read-only from the API layer, and an optional language tag used for
// command-dictionary resolution and canonical-default substitution.
type Submission struct {
	AssignmentID string
	UserID       string
	Username     string
	Files        map[string][]byte
	Language     string
}

// TestResult is a leaf of the ResultTree (spec §3): the test's normalised
// weight (carried from the rubric), its clamped score, and everything a
// renderer needs to explain the outcome — report text, the parameter
// snapshot the test actually ran with, and any test-emitted metadata.
type TestResult struct {
	Name     string
	Weight   float64
	Score    float64
	Report   string
	Params   map[string]string
	Metadata map[string]string
}

// ResultGroup mirrors rubric.Group: tests and/or subjects at one level,
// the heterogeneous-level factors copied from the rubric, and the
// level's own aggregated score (spec §4.3 "Score aggregation").
type ResultGroup struct {
	Tests          []TestResult
	Subjects       []SubjectResult
	SubjectsFactor float64
	TestsFactor    float64
	Score          float64
}

// SubjectResult mirrors rubric.SubjectNode.
type SubjectResult struct {
	Name   string
	Weight float64
	Group  ResultGroup
}

// CategoryResult mirrors rubric.CategoryNode.
type CategoryResult struct {
	Weight float64
	Group  ResultGroup
}

// Tree is the per-submission ResultTree (spec §3): structurally isomorphic
// to the rubric.Tree it was graded from (spec §8 invariant).
type Tree struct {
	Base    CategoryResult
	Bonus   *CategoryResult
	Penalty *CategoryResult
}

// Scores bundles the root aggregation outputs (spec §4.3 "Root
// aggregation"): the base score, the additive bonus offset, the
// subtractive penalty offset, and the clamped final score.
type Scores struct {
	BaseScore     float64
	BonusPoints   float64
	PenaltyPoints float64
	FinalScore    float64
}

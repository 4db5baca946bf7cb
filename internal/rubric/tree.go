package rubric

import "fmt"

// CategoryName identifies one of the three top-level rubric categories.
type CategoryName string

const (
	CategoryBase    CategoryName = "base"
	CategoryBonus   CategoryName = "bonus"
	CategoryPenalty CategoryName = "penalty"
)

// TestNode is an immutable leaf: a resolved test function plus its
// normalised sibling weight and the parameter/file selection it was
// configured with. Spec §3 invariant: "leaf nodes always carry a resolved
// test function" — resolution happened once, at Build time.
type TestNode struct {
	Name     string
	Fn       TestFunction
	File     FileSelector
	Params   map[string]string
	Commands map[string]CommandParam
	Weight   float64 // normalised, 0-100, among test siblings
}

// Group is a level of a RubricTree: either tests, subjects, or both
// (spec §3 "heterogeneous level"; REDESIGN FLAGS: explicit group factors
// rather than a single mixed children slice).
type Group struct {
	Tests          []TestNode
	Subjects       []SubjectNode
	SubjectsFactor float64 // subjects_weight/100; 1.0 if Tests is empty
	TestsFactor    float64 // 1 - subjects_weight/100; 1.0 if Subjects is empty
}

// SubjectNode is a named, weighted node that may itself nest subjects.
type SubjectNode struct {
	Name   string
	Weight float64 // normalised, 0-100, among subject siblings
	Group  Group
}

// CategoryNode is a top-level base/bonus/penalty node. Its own Weight is
// the category's point budget (spec §4.3: "bonus/penalty category weights
// are point budgets"), not normalised against siblings — base/bonus/penalty
// are not siblings of each other.
type CategoryNode struct {
	Weight float64
	Group  Group
}

// Tree is the immutable, built RubricTree (spec §3).
type Tree struct {
	Base    CategoryNode
	Bonus   *CategoryNode
	Penalty *CategoryNode
}

// Build validates a Config against a Template and produces an immutable
// Tree (spec §4.2). The template must already be sealed (built with all
// its test functions registered); resolution happens once, here.
func Build(cfg *Config, tmpl *Template) (*Tree, error) {
	if cfg == nil {
		return nil, &InvalidShapeError{Path: "$", Reason: "rubric config is nil"}
	}

	base, err := buildCategory(cfg.Base, tmpl, "base")
	if err != nil {
		return nil, err
	}

	tree := &Tree{Base: base}

	if cfg.Bonus != nil {
		bonus, err := buildCategory(*cfg.Bonus, tmpl, "bonus")
		if err != nil {
			return nil, err
		}
		tree.Bonus = &bonus
	}

	if cfg.Penalty != nil {
		penalty, err := buildCategory(*cfg.Penalty, tmpl, "penalty")
		if err != nil {
			return nil, err
		}
		tree.Penalty = &penalty
	}

	return tree, nil
}

func buildCategory(spec CategorySpec, tmpl *Template, path string) (CategoryNode, error) {
	group, err := buildGroup(spec.Tests, spec.Subjects, spec.SubjectsWeight, tmpl, path)
	if err != nil {
		return CategoryNode{}, err
	}
	return CategoryNode{Weight: spec.Weight, Group: group}, nil
}

func buildSubject(spec SubjectSpec, tmpl *Template, path string) (SubjectNode, error) {
	group, err := buildGroup(spec.Tests, spec.Subjects, spec.SubjectsWeight, tmpl, path)
	if err != nil {
		return SubjectNode{}, err
	}
	return SubjectNode{Name: spec.Name, Weight: spec.Weight, Group: group}, nil
}

// buildGroup implements spec §4.2 steps 1, 2, 3, 4 for one level: shape
// validation, test resolution, sibling weight normalisation, and
// heterogeneous group factors.
func buildGroup(testSpecs []TestSpec, subjectSpecs []SubjectSpec, subjectsWeight *float64, tmpl *Template, path string) (Group, error) {
	hasTests := len(testSpecs) > 0
	hasSubjects := len(subjectSpecs) > 0

	if !hasTests && !hasSubjects {
		return Group{}, &InvalidShapeError{Path: path, Reason: "must have tests, subjects, or both"}
	}
	if hasTests && hasSubjects && subjectsWeight == nil {
		return Group{}, &MissingSubjectsWeightError{Path: path}
	}
	if subjectsWeight != nil && (*subjectsWeight < 0 || *subjectsWeight > 100) {
		return Group{}, &InvalidShapeError{Path: path, Reason: "subjects_weight must be in [0, 100]"}
	}

	group := Group{}

	if hasTests {
		tests := make([]TestNode, 0, len(testSpecs))
		weights := make([]float64, 0, len(testSpecs))
		for i, ts := range testSpecs {
			fn := tmpl.Get(ts.Name)
			if fn == nil {
				return Group{}, &TestNotInTemplateError{Path: fmt.Sprintf("%s.tests[%d]", path, i), TestName: ts.Name}
			}
			tests = append(tests, TestNode{Name: ts.Name, Fn: fn, File: ts.File, Params: ts.Params, Commands: ts.Commands})
			weights = append(weights, testWeight(ts))
		}
		normalized := normalizeWeights(weights)
		for i := range tests {
			tests[i].Weight = normalized[i]
		}
		group.Tests = tests
	}

	if hasSubjects {
		subjects := make([]SubjectNode, 0, len(subjectSpecs))
		weights := make([]float64, 0, len(subjectSpecs))
		for i, ss := range subjectSpecs {
			sub, err := buildSubject(ss, tmpl, fmt.Sprintf("%s.subjects[%d](%s)", path, i, ss.Name))
			if err != nil {
				return Group{}, err
			}
			subjects = append(subjects, sub)
			weights = append(weights, ss.Weight)
		}
		normalized := normalizeWeights(weights)
		for i := range subjects {
			subjects[i].Weight = normalized[i]
		}
		group.Subjects = subjects
	}

	switch {
	case hasTests && hasSubjects:
		group.SubjectsFactor = *subjectsWeight / 100
		group.TestsFactor = 1 - *subjectsWeight/100
	case hasSubjects:
		group.SubjectsFactor = 1
		group.TestsFactor = 0
	default:
		group.SubjectsFactor = 0
		group.TestsFactor = 1
	}

	return group, nil
}

// testWeight defaults an unweighted TestSpec to 1, so a lone test (or a
// group of tests none of which declare a weight) normalises to an equal
// split, matching the worked examples of spec §8.
func testWeight(ts TestSpec) float64 {
	if ts.Weight > 0 {
		return ts.Weight
	}
	return 1
}

// normalizeWeights scales weights to sum to 100, or leaves them all zero
// if the input sums to zero (spec §4.2 step 3, §8 "Zero-weight sibling
// group: aggregates to 0").
func normalizeWeights(weights []float64) []float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	out := make([]float64, len(weights))
	if sum == 0 {
		return out // all zero
	}
	scale := 100 / sum
	for i, w := range weights {
		out[i] = w * scale
	}
	return out
}

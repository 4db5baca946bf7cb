// Package feedback implements spec §4.3's focus (impact ranking) and
// §4.6's structured feedback renderer, plus the Reporter seam an
// AI-backed external collaborator plugs into (spec §2: "AI-backed
// rendering is an external collaborator").
package feedback

import (
	"sort"

	"github.com/gradekit/gradesvc/internal/grading"
)

// FocusEntry is one (test_result, impact) pair (spec §3 "Focus").
type FocusEntry struct {
	Category string
	Path     string // slash-joined subject path, empty at category root
	TestName string
	Score    float64
	Impact   float64
	Report   string
	Params   map[string]string
}

// ComputeFocus implements spec §4.3 "Focus (impact ranking)": for every
// failed test (score < 100) in the result tree, the number of
// final-score points its failure is responsible for — the product of
// every ancestor group's weight fraction down to the test, times the
// test's own weight fraction, times the category budget multiplier (1
// for base, category.weight/100 for bonus/penalty). Entries are sorted
// by impact descending within each category, ties broken by declared
// (depth-first, in-order) position.
func ComputeFocus(tree *grading.Tree) []FocusEntry {
	var entries []FocusEntry

	entries = append(entries, focusCategory("base", tree.Base, 1)...)
	if tree.Bonus != nil {
		entries = append(entries, focusCategory("bonus", *tree.Bonus, tree.Bonus.Weight/100)...)
	}
	if tree.Penalty != nil {
		entries = append(entries, focusCategory("penalty", *tree.Penalty, tree.Penalty.Weight/100)...)
	}
	return entries
}

func focusCategory(name string, cat grading.CategoryResult, multiplier float64) []FocusEntry {
	entries := focusGroup(name, "", cat.Group, multiplier)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Impact > entries[j].Impact })
	return entries
}

func focusGroup(category, path string, g grading.ResultGroup, multiplier float64) []FocusEntry {
	var out []FocusEntry

	for _, t := range g.Tests {
		if t.Score >= 100 {
			continue
		}
		fraction := multiplier * g.TestsFactor * (t.Weight / 100)
		out = append(out, FocusEntry{
			Category: category,
			Path:     path,
			TestName: t.Name,
			Score:    t.Score,
			Impact:   (100 - t.Score) * fraction,
			Report:   t.Report,
			Params:   t.Params,
		})
	}

	for _, s := range g.Subjects {
		childPath := s.Name
		if path != "" {
			childPath = path + "/" + s.Name
		}
		subFraction := multiplier * g.SubjectsFactor * (s.Weight / 100)
		out = append(out, focusGroup(category, childPath, s.Group, subFraction)...)
	}

	return out
}

// allTests walks a category's full result tree in declared order,
// passed and failed alike, for renderers that want show_passed_tests.
func allTests(category string, cat grading.CategoryResult) []FocusEntry {
	return allTestsGroup(category, "", cat.Group, nil)
}

func allTestsGroup(category, path string, g grading.ResultGroup, out []FocusEntry) []FocusEntry {
	for _, t := range g.Tests {
		out = append(out, FocusEntry{
			Category: category,
			Path:     path,
			TestName: t.Name,
			Score:    t.Score,
			Report:   t.Report,
			Params:   t.Params,
		})
	}
	for _, s := range g.Subjects {
		childPath := s.Name
		if path != "" {
			childPath = path + "/" + s.Name
		}
		out = allTestsGroup(category, childPath, s.Group, out)
	}
	return out
}

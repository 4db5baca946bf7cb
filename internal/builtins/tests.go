// Package builtins provides a small set of reference test functions
// satisfying rubric.TestFunction (spec §6 "Test function contract").
// The core intentionally treats test libraries as pluggable external
// collaborators (spec §1 "the built-in test libraries' internal logic...
// treated as pluggable test functions with a fixed contract"); these three
// are here only so `cmd/gradesvc` has something concrete to register and
// run end-to-end. Real deployments register their own libraries
// (web DOM parsers, HTTP probes, essay graders, compiled-language
// runners) against the same rubric.TestFunction contract.
package builtins

import (
	"fmt"
	"strings"

	"github.com/gradekit/gradesvc/internal/rubric"
)

// FileExists passes if a selected file is present in the submission.
type FileExists struct{}

func (FileExists) Name() string { return "file_exists" }

func (FileExists) ParamDescriptors() []rubric.ParamDescriptor { return nil }

func (FileExists) RequiredFileKind() rubric.FileKind { return rubric.FileKindNone }

func (FileExists) Execute(files []rubric.SubmissionFile, sandbox rubric.SandboxHandle, params map[string]string) (rubric.TestOutcome, error) {
	if len(files) == 0 {
		return rubric.TestOutcome{Score: 0, Report: "no matching file submitted"}, nil
	}
	return rubric.TestOutcome{Score: 100, Report: fmt.Sprintf("found %s", files[0].Name)}, nil
}

// NonEmptyFile passes if every selected file has non-whitespace content.
type NonEmptyFile struct{}

func (NonEmptyFile) Name() string { return "non_empty_file" }

func (NonEmptyFile) ParamDescriptors() []rubric.ParamDescriptor { return nil }

func (NonEmptyFile) RequiredFileKind() rubric.FileKind { return rubric.FileKindNone }

func (NonEmptyFile) Execute(files []rubric.SubmissionFile, sandbox rubric.SandboxHandle, params map[string]string) (rubric.TestOutcome, error) {
	if len(files) == 0 {
		return rubric.TestOutcome{Score: 0, Report: "no matching file submitted"}, nil
	}
	for _, f := range files {
		if strings.TrimSpace(string(f.Content)) == "" {
			return rubric.TestOutcome{Score: 0, Report: fmt.Sprintf("%s is empty", f.Name)}, nil
		}
	}
	return rubric.TestOutcome{Score: 100, Report: "all selected files have content"}, nil
}

// ContainsSubstring passes if any selected file contains the "needle"
// parameter (a minimal stand-in for the pack's DOM/style assertion
// tests, e.g. has_tag/has_style).
type ContainsSubstring struct{}

func (ContainsSubstring) Name() string { return "contains_substring" }

func (ContainsSubstring) ParamDescriptors() []rubric.ParamDescriptor {
	return []rubric.ParamDescriptor{{Name: "needle", Description: "substring that must be present", Type: "string"}}
}

func (ContainsSubstring) RequiredFileKind() rubric.FileKind { return rubric.FileKindNone }

func (ContainsSubstring) Execute(files []rubric.SubmissionFile, sandbox rubric.SandboxHandle, params map[string]string) (rubric.TestOutcome, error) {
	needle := params["needle"]
	if needle == "" {
		return rubric.TestOutcome{Score: 0, Report: "no needle parameter configured"}, nil
	}
	for _, f := range files {
		if strings.Contains(string(f.Content), needle) {
			return rubric.TestOutcome{Score: 100, Report: fmt.Sprintf("%s contains %q", f.Name, needle)}, nil
		}
	}
	return rubric.TestOutcome{Score: 0, Report: fmt.Sprintf("no selected file contains %q", needle)}, nil
}

// Register adds every reference test function to tmpl.
func Register(tmpl *rubric.Template) error {
	for _, fn := range []rubric.TestFunction{FileExists{}, NonEmptyFile{}, ContainsSubstring{}} {
		if err := tmpl.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

package rubric

import "fmt"

// InvalidShapeError reports a malformed RubricConfig (spec §4.2).
type InvalidShapeError struct {
	Path   string
	Reason string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid rubric shape at %s: %s", e.Path, e.Reason)
}

// TestNotInTemplateError reports a test spec naming a test the template
// doesn't know about (spec §4.2 step 2).
type TestNotInTemplateError struct {
	Path     string
	TestName string
}

func (e *TestNotInTemplateError) Error() string {
	return fmt.Sprintf("test %q at %s is not registered in the template", e.TestName, e.Path)
}

// MissingSubjectsWeightError reports a level with both tests and subjects
// but no subjects_weight (spec §3, §4.2 step 1).
type MissingSubjectsWeightError struct {
	Path string
}

func (e *MissingSubjectsWeightError) Error() string {
	return fmt.Sprintf("%s has both tests and subjects but no subjects_weight", e.Path)
}

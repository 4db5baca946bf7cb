// Package rubric implements the rubric/result tree model of spec §3–4.2:
// validating a RubricConfig against a Template's test registry and producing
// an immutable, weight-normalised RubricTree.
package rubric

import (
	"fmt"
	"sync"
)

// FileKind tags the kind of submission artifact a test function expects.
type FileKind string

const (
	FileKindNone       FileKind = ""
	FileKindHTML       FileKind = "HTML"
	FileKindCSS        FileKind = "CSS"
	FileKindJavaScript FileKind = "JavaScript"
	FileKindEssay      FileKind = "Essay"
)

// ParamDescriptor advertises a configurable parameter a test function accepts,
// excluding file content (spec §6, test function contract).
type ParamDescriptor struct {
	Name        string
	Description string
	Type        string
}

// SubmissionFile is a single named byte blob borrowed from a Submission.
type SubmissionFile struct {
	Name    string
	Content []byte
}

// SandboxHandle is the narrow view of a sandbox a test function is allowed
// to drive. Satisfied by *sandboxpool.Handle; declared here (rather than
// importing sandboxpool) to keep the test-function contract free of a
// dependency on the pool's concrete type.
type SandboxHandle interface {
	CopyFiles(files map[string][]byte) error
	RunCommand(command string, stdin string) (exitCode int, stdout string, stderr string, err error)
	ReadFile(path string) ([]byte, error)
}

// TestOutcome is the result of invoking a test function (spec §4.3 step 4).
type TestOutcome struct {
	Score    float64
	Report   string
	Metadata map[string]string
}

// Clamp clamps Score into [0, 100].
func (o *TestOutcome) Clamp() {
	if o.Score < 0 {
		o.Score = 0
	}
	if o.Score > 100 {
		o.Score = 100
	}
}

// TestFunction is the contract every built-in or plugged-in grading test
// must satisfy (spec §6). Resolution against a Template happens once, at
// RubricTree build time — never per execution.
type TestFunction interface {
	Name() string
	ParamDescriptors() []ParamDescriptor
	RequiredFileKind() FileKind
	Execute(files []SubmissionFile, sandbox SandboxHandle, params map[string]string) (TestOutcome, error)
}

// Template is a read-only-after-load registry of test functions plus the
// requires_sandbox flag (spec §3). Grounded on
// internal/instruments/skill.go's SkillRegistry: an RWMutex-guarded map
// keyed by name, the same "register once while building, read freely
// afterward" discipline generalized from executable skills to grading
// test functions.
type Template struct {
	mu              sync.RWMutex
	name            string
	tests           map[string]TestFunction
	requiresSandbox bool
	sealed          bool
}

// NewTemplate creates an empty, writable Template.
func NewTemplate(name string, requiresSandbox bool) *Template {
	return &Template{
		name:            name,
		tests:           make(map[string]TestFunction),
		requiresSandbox: requiresSandbox,
	}
}

// Name returns the template's identity.
func (t *Template) Name() string { return t.name }

// RequiresSandbox reports whether this template's tests need a sandbox.
func (t *Template) RequiresSandbox() bool { return t.requiresSandbox }

// Register adds a test function to the registry. Returns an error if the
// template has been sealed (spec §3: "read-only after template load") or if
// a test with the same name is already registered.
func (t *Template) Register(fn TestFunction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("template %q: cannot register %q, template is sealed", t.name, fn.Name())
	}
	if _, exists := t.tests[fn.Name()]; exists {
		return fmt.Errorf("template %q: test %q already registered", t.name, fn.Name())
	}
	t.tests[fn.Name()] = fn
	return nil
}

// Seal marks the template read-only. Called once template construction
// completes, before any RubricTree is built from it.
func (t *Template) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true
}

// Get resolves a test function by name. Returns nil if not found.
func (t *Template) Get(name string) TestFunction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tests[name]
}

// List returns all registered test function names.
func (t *Template) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.tests))
	for n := range t.tests {
		names = append(names, n)
	}
	return names
}

// Count returns the number of registered test functions.
func (t *Template) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tests)
}

// Registry indexes Templates by name, so a pipeline can resolve
// `build_pipeline(template_name, ...)` (spec §6) against a process-wide set
// of loaded templates. Grounded on the same SkillRegistry shape as Template
// itself, one level up.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty template registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Add registers a template under its own name.
func (r *Registry) Add(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name()] = t
}

// Get resolves a template by name. Returns nil if not found.
func (r *Registry) Get(name string) *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[name]
}

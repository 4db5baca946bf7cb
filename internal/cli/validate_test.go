package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunValidateAcceptsWellFormedRubric(t *testing.T) {
	rubricPath := writeRubricFixture(t)

	cmd := newValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := runValidate(cmd, rubricPath, "default"); err != nil {
		t.Fatalf("runValidate: %v", err)
	}
	if !strings.Contains(out.String(), "valid") {
		t.Errorf("output %q does not report valid", out.String())
	}
}

func TestRunValidateRejectsUnknownTest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rubric.json")
	body := `{"base": {"weight": 100, "tests": [{"name": "does_not_exist"}]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rubric: %v", err)
	}

	cmd := newValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := runValidate(cmd, path, "default"); err == nil {
		t.Fatal("expected an error for an unregistered test name")
	}
}

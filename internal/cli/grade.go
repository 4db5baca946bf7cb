package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gradekit/gradesvc/internal/builtins"
	"github.com/gradekit/gradesvc/internal/grading"
	"github.com/gradekit/gradesvc/internal/pipeline"
	"github.com/gradekit/gradesvc/internal/rubric"
)

func newGradeCmd() *cobra.Command {
	var templateName, rubricPath, submissionDir, language, userID, assignmentID string

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade one submission directory against a rubric, printing the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrade(cmd, templateName, rubricPath, submissionDir, language, userID, assignmentID)
		},
	}
	cmd.Flags().StringVar(&templateName, "template", "default", "registered test-function template to grade against")
	cmd.Flags().StringVar(&rubricPath, "rubric", "", "path to a rubric config file (JSON or YAML, required)")
	cmd.Flags().StringVar(&submissionDir, "submission", "", "directory holding the submitted files (required)")
	cmd.Flags().StringVar(&language, "language", "", "submission language, used for command-dictionary resolution")
	cmd.Flags().StringVar(&userID, "user", "local", "submitting user id recorded on the execution")
	cmd.Flags().StringVar(&assignmentID, "assignment", "local", "assignment id recorded on the execution")
	cmd.MarkFlagRequired("rubric")
	cmd.MarkFlagRequired("submission")
	return cmd
}

func runGrade(cmd *cobra.Command, templateName, rubricPath, submissionDir, language, userID, assignmentID string) error {
	cfg, err := rubric.LoadConfig(rubricPath)
	if err != nil {
		return fmt.Errorf("load rubric: %w", err)
	}

	tmpl := rubric.NewTemplate(templateName, false)
	if err := builtins.Register(tmpl); err != nil {
		return fmt.Errorf("register test functions: %w", err)
	}
	tmpl.Seal()

	registry := rubric.NewRegistry()
	registry.Add(tmpl)

	p, err := pipeline.Build(pipeline.Dependencies{Templates: registry}, pipeline.Config{
		TemplateName: templateName,
		Criteria:     cfg,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	files, err := readSubmissionFiles(submissionDir)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}

	submission := grading.Submission{
		AssignmentID: assignmentID,
		UserID:       userID,
		Files:        files,
		Language:     language,
	}

	exec := p.Run(context.Background(), submission)
	resp := p.ToResponse(exec)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// readSubmissionFiles walks dir and returns every regular file's
// contents keyed by its path relative to dir, using forward slashes so
// the keys match what a network-submitted file listing would produce.
func readSubmissionFiles(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

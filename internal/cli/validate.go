package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gradekit/gradesvc/internal/builtins"
	"github.com/gradekit/gradesvc/internal/rubric"
)

func newValidateCmd() *cobra.Command {
	var rubricPath, templateName string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build a rubric tree against a template and report validation errors without grading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rubricPath, templateName)
		},
	}
	cmd.Flags().StringVar(&rubricPath, "rubric", "", "path to a rubric config file (JSON or YAML, required)")
	cmd.Flags().StringVar(&templateName, "template", "default", "test-function template to validate against")
	cmd.MarkFlagRequired("rubric")
	return cmd
}

func runValidate(cmd *cobra.Command, rubricPath, templateName string) error {
	cfg, err := rubric.LoadConfig(rubricPath)
	if err != nil {
		return fmt.Errorf("load rubric: %w", err)
	}

	tmpl := rubric.NewTemplate(templateName, false)
	if err := builtins.Register(tmpl); err != nil {
		return fmt.Errorf("register test functions: %w", err)
	}
	tmpl.Seal()

	if _, err := rubric.Build(cfg, tmpl); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", err)
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "valid")
	return nil
}

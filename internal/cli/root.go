// Package cli implements the gradesvc binary's command surface: pool
// lifecycle, one-shot local grading, and rubric validation, each a thin
// wrapper over internal/pipeline, internal/sandboxpool and
// internal/rubric.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gradesvc",
	Short: "Automated assignment grading engine",
	Long: `gradesvc builds rubric trees from a declarative configuration,
runs pluggable test functions against a submission (optionally inside a
sandboxed container), and renders the scored result as structured
feedback.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by `gradesvc version` and
// `--version`. Called from main with a build-time value.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the CLI, exiting the process with a non-zero code on
// failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gradesvc version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newPoolCmd())
	rootCmd.AddCommand(newGradeCmd())
	rootCmd.AddCommand(newValidateCmd())
}

// Package command resolves per-language execution commands for test
// parameters, implementing spec §4.5: it maps a language tag to the
// canonical default command for a compiled/interpreted submission, plus
// dictionary lookup and the "CMD" placeholder substitution the rubric
// config layer allows a test parameter to carry.
package command

// Placeholder mirrors rubric.CommandPlaceholder; duplicated as an untyped
// constant here so this package has no import-time dependency on rubric.
const Placeholder = "CMD"

// defaults is the fixed per-language table of canonical run commands (spec
// §4.5: "No dynamic discovery") — a full default invocation rather than a
// bare interpreter name, since a rubric test's resolved command runs the
// submission's entrypoint, not an ad hoc script piped over stdin.
var defaults = map[string]string{
	"python":     "python3 main.py",
	"python3":    "python3 main.py",
	"javascript": "node index.js",
	"node":       "node index.js",
	"java":       "java Main",
	"go":         "go run main.go",
	"c":          "./a.out",
	"cpp":        "./a.out",
	"c++":        "./a.out",
	"bash":       "bash main.sh",
	"shell":      "bash main.sh",
	"ruby":       "ruby main.rb",
}

// DefaultCommand returns the canonical default command for a language, or
// an empty string if the language has no registered default.
func DefaultCommand(language string) string {
	return defaults[language]
}

// Resolve implements spec §4.5 and §4.3 step 1-2 for a single command-like
// parameter value:
//   - literal, non-dict, non-placeholder string → used as-is.
//   - the Placeholder sentinel → the canonical default for language.
//   - a per-language dictionary → the command keyed by language, or empty
//     string if language is absent from the dictionary (spec §4.3 step 1:
//     "pass an empty command — this will typically cause the test to fail
//     at runtime", matching the Open Question resolution in spec §9).
func Resolve(literal string, isDict bool, byLang map[string]string, language string) string {
	if isDict {
		return byLang[language]
	}
	if literal == Placeholder {
		return DefaultCommand(language)
	}
	return literal
}

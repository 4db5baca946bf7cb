package rubric

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CommandPlaceholder is the sentinel meaning "auto-resolve default command"
// (spec §3, §4.5).
const CommandPlaceholder = "CMD"

// FileSelector is a test spec's `file` field: absent, a single filename, a
// list of filenames, or the sentinel "all" (spec §3, §4.3).
//
// Modeled as a tagged variant rather than `any`, per the REDESIGN FLAGS
// guidance of keeping heterogeneous fields explicit instead of relying on
// runtime type switches everywhere they're consumed.
type FileSelector struct {
	Kind  FileSelectorKind
	Names []string // populated for FileSelectorOne and FileSelectorList
}

// FileSelectorKind tags which shape a FileSelector holds.
type FileSelectorKind int

const (
	FileSelectorNone FileSelectorKind = iota
	FileSelectorOne
	FileSelectorList
	FileSelectorAll
)

// UnmarshalJSON accepts null/absent, a string ("all" or a filename), or a
// list of strings.
func (s *FileSelector) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		s.Kind = FileSelectorNone
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "all" {
			s.Kind = FileSelectorAll
			return nil
		}
		s.Kind = FileSelectorOne
		s.Names = []string{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		s.Kind = FileSelectorList
		s.Names = list
		return nil
	}

	return fmt.Errorf("file selector must be null, a string, or a list of strings")
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML-sourced configs.
func (s *FileSelector) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		if single == "all" {
			s.Kind = FileSelectorAll
			return nil
		}
		s.Kind = FileSelectorOne
		s.Names = []string{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		s.Kind = FileSelectorList
		s.Names = list
		return nil
	case 0:
		s.Kind = FileSelectorNone
		return nil
	default:
		return fmt.Errorf("file selector must be null, a string, or a list of strings")
	}
}

// CommandParam is a test parameter value that may be a plain string, a
// per-language command dictionary, or the CommandPlaceholder sentinel
// (spec §3, §4.5). Plain values (non-command parameters) are carried
// alongside these in TestSpec.Params as ordinary strings; CommandParam is
// only used for parameters the rubric author lists under a test spec's
// `commands` map, where each value is a string or a {lang: command} object.
type CommandParam struct {
	IsDict  bool
	Literal string
	ByLang  map[string]string
}

// UnmarshalJSON accepts a plain string or a {lang: command} object.
func (c *CommandParam) UnmarshalJSON(data []byte) error {
	var lit string
	if err := json.Unmarshal(data, &lit); err == nil {
		c.IsDict = false
		c.Literal = lit
		return nil
	}
	var dict map[string]string
	if err := json.Unmarshal(data, &dict); err == nil {
		c.IsDict = true
		c.ByLang = dict
		return nil
	}
	return fmt.Errorf("command parameter must be a string or a language->command object")
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML-sourced configs.
func (c *CommandParam) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.IsDict = false
		return value.Decode(&c.Literal)
	}
	var dict map[string]string
	if err := value.Decode(&dict); err != nil {
		return fmt.Errorf("command parameter must be a string or a language->command object")
	}
	c.IsDict = true
	c.ByLang = dict
	return nil
}

// TestSpec is one entry in a rubric category/subject's `tests` list. Weight
// is optional (spec §3 doesn't enumerate it alongside name/file/params, but
// the sibling-weight-normalisation law of §3/§8 applies to every sibling
// group including bare test lists); a test spec with no declared weight
// shares its group equally with its sibling tests, matching every worked
// example in spec §8 where a lone test implicitly carries the whole group.
type TestSpec struct {
	Name     string                   `json:"name" yaml:"name"`
	Weight   float64                  `json:"weight,omitempty" yaml:"weight,omitempty"`
	File     FileSelector             `json:"file,omitempty" yaml:"file,omitempty"`
	Params   map[string]string        `json:"params,omitempty" yaml:"params,omitempty"`
	Commands map[string]CommandParam  `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// SubjectSpec is a nested grouping of tests and/or further subjects
// (spec §3: "Recursive subject nesting").
type SubjectSpec struct {
	Name           string        `json:"name" yaml:"name"`
	Weight         float64       `json:"weight" yaml:"weight"`
	Tests          []TestSpec    `json:"tests,omitempty" yaml:"tests,omitempty"`
	Subjects       []SubjectSpec `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	SubjectsWeight *float64      `json:"subjects_weight,omitempty" yaml:"subjects_weight,omitempty"`
}

// CategorySpec is a top-level rubric category (base/bonus/penalty).
type CategorySpec struct {
	Weight         float64       `json:"weight" yaml:"weight"`
	Tests          []TestSpec    `json:"tests,omitempty" yaml:"tests,omitempty"`
	Subjects       []SubjectSpec `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	SubjectsWeight *float64      `json:"subjects_weight,omitempty" yaml:"subjects_weight,omitempty"`
}

// Config is the RubricConfig input (spec §3). Base is required; Bonus and
// Penalty are optional additive/subtractive point budgets.
type Config struct {
	Base    CategorySpec  `json:"base" yaml:"base"`
	Bonus   *CategorySpec `json:"bonus,omitempty" yaml:"bonus,omitempty"`
	Penalty *CategorySpec `json:"penalty,omitempty" yaml:"penalty,omitempty"`
}

// LoadConfig reads a RubricConfig from a JSON or YAML file, detected by
// extension (.json vs .yaml/.yml). Grounded on the config-loading pattern
// used across the retrieval pack (giantswarm-muster, vjache-cie) for
// reading subsystem configuration from disk rather than hand-parsing flags.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric config %q: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(strings.TrimPrefix(fileExt(path), ".")); ext {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse rubric config %q: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse rubric config %q: %w", path, err)
		}
	}
	return &cfg, nil
}

func fileExt(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SetupCommand is one entry in a language's setup_commands list. Spec §6:
// "setup_commands: [{name, command} | command_string]" — a bare string is
// accepted as shorthand, with its own text used as the display name.
type SetupCommand struct {
	Name    string
	Command string
}

func (c *SetupCommand) UnmarshalJSON(data []byte) error {
	var lit string
	if err := json.Unmarshal(data, &lit); err == nil {
		c.Name = lit
		c.Command = lit
		return nil
	}
	var obj struct {
		Name    string `json:"name"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("setup command must be a string or {name, command} object")
	}
	c.Name, c.Command = obj.Name, obj.Command
	return nil
}

func (c *SetupCommand) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var lit string
		if err := value.Decode(&lit); err != nil {
			return err
		}
		c.Name, c.Command = lit, lit
		return nil
	}
	var obj struct {
		Name    string `yaml:"name"`
		Command string `yaml:"command"`
	}
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("setup command must be a string or {name, command} mapping")
	}
	c.Name, c.Command = obj.Name, obj.Command
	return nil
}

// LanguageSetupBlock is one language's preflight configuration (spec §6
// "Setup config").
type LanguageSetupBlock struct {
	RequiredFiles []string       `json:"required_files,omitempty" yaml:"required_files,omitempty"`
	SetupCommands []SetupCommand `json:"setup_commands,omitempty" yaml:"setup_commands,omitempty"`
}

// allLanguagesKey is the sentinel under which a flat, language-agnostic
// setup config is stored (spec §6: "a flat {required_files,
// setup_commands} is also accepted and applies to all languages").
const allLanguagesKey = "*"

// SetupConfig is the preflight configuration, either per-language or flat
// (spec §6). For(language) resolves the block that applies.
type SetupConfig struct {
	PerLanguage map[string]LanguageSetupBlock
}

// For resolves the setup block for a submission language: the
// language-specific block if present, else the flat/all-languages block,
// else a zero block (no required files, no setup commands).
func (c *SetupConfig) For(language string) LanguageSetupBlock {
	if c == nil {
		return LanguageSetupBlock{}
	}
	if block, ok := c.PerLanguage[language]; ok {
		return block
	}
	if block, ok := c.PerLanguage[allLanguagesKey]; ok {
		return block
	}
	return LanguageSetupBlock{}
}

func (c *SetupConfig) UnmarshalJSON(data []byte) error {
	var flat LanguageSetupBlock
	if err := json.Unmarshal(data, &flat); err == nil && (len(flat.RequiredFiles) > 0 || len(flat.SetupCommands) > 0) {
		var probe map[string]json.RawMessage
		_ = json.Unmarshal(data, &probe)
		if _, hasReq := probe["required_files"]; hasReq {
			c.PerLanguage = map[string]LanguageSetupBlock{allLanguagesKey: flat}
			return nil
		}
		if _, hasCmd := probe["setup_commands"]; hasCmd {
			c.PerLanguage = map[string]LanguageSetupBlock{allLanguagesKey: flat}
			return nil
		}
	}

	var perLang map[string]LanguageSetupBlock
	if err := json.Unmarshal(data, &perLang); err != nil {
		return fmt.Errorf("setup config must be a flat block or a language->block mapping: %w", err)
	}
	c.PerLanguage = perLang
	return nil
}

// LoadSetupConfig reads a SetupConfig from a JSON or YAML file.
func LoadSetupConfig(path string) (*SetupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read setup config %q: %w", path, err)
	}

	var cfg SetupConfig
	ext := strings.ToLower(strings.TrimPrefix(extOf(path), "."))
	switch ext {
	case "yaml", "yml":
		var probe map[string]yaml.Node
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("parse setup config %q: %w", path, err)
		}
		_, hasReq := probe["required_files"]
		_, hasCmd := probe["setup_commands"]
		if hasReq || hasCmd {
			var block LanguageSetupBlock
			if err := yaml.Unmarshal(data, &block); err != nil {
				return nil, fmt.Errorf("parse setup config %q: %w", path, err)
			}
			cfg.PerLanguage = map[string]LanguageSetupBlock{allLanguagesKey: block}
			return &cfg, nil
		}
		var perLang map[string]LanguageSetupBlock
		if err := yaml.Unmarshal(data, &perLang); err != nil {
			return nil, fmt.Errorf("parse setup config %q: %w", path, err)
		}
		cfg.PerLanguage = perLang
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse setup config %q: %w", path, err)
		}
	}
	return &cfg, nil
}

func extOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

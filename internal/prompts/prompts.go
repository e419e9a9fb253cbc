// Package prompts holds the instruction text sent to the generation
// collaborator. Defaults are embedded; a YAML file can override individual
// prompts without rebuilding.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Prompt is a system/user instruction pair. System may be empty for
// single-message prompts.
type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Pack bundles the prompts for every pipeline stage that calls the LLM.
type Pack struct {
	Resolver    Prompt `yaml:"resolver"`
	Classifier  Prompt `yaml:"classifier"`
	News        Prompt `yaml:"news"`
	Synthesizer Prompt `yaml:"synthesizer"`
}

// Load returns the embedded defaults merged with the optional override file.
// When path is empty, PROMPTS_PATH is consulted; a missing override file is
// not an error.
func Load(path string) (*Pack, error) {
	pack, err := decode(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("decode embedded prompts: %w", err)
	}

	if path == "" {
		path = os.Getenv("PROMPTS_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			override, err := decode(data)
			if err != nil {
				return nil, fmt.Errorf("decode prompt overrides %s: %w", path, err)
			}
			pack.merge(override)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read prompt overrides %s: %w", path, err)
		}
	}

	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return pack, nil
}

func decode(data []byte) (*Pack, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	var pack Pack
	if err := dec.Decode(&pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

// merge overlays non-empty fields from another pack.
func (p *Pack) merge(other *Pack) {
	overlay := func(dst *Prompt, src Prompt) {
		if strings.TrimSpace(src.System) != "" {
			dst.System = src.System
		}
		if strings.TrimSpace(src.User) != "" {
			dst.User = src.User
		}
	}
	overlay(&p.Resolver, other.Resolver)
	overlay(&p.Classifier, other.Classifier)
	overlay(&p.News, other.News)
	overlay(&p.Synthesizer, other.Synthesizer)
}

// Validate checks that every stage has a user prompt.
func (p *Pack) Validate() error {
	var missing []string
	for name, prompt := range map[string]Prompt{
		"resolver":    p.Resolver,
		"classifier":  p.Classifier,
		"news":        p.News,
		"synthesizer": p.Synthesizer,
	} {
		if strings.TrimSpace(prompt.User) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("prompts missing user text: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render substitutes {{name}} placeholders with the supplied values.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

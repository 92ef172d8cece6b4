package pipeline

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"deckforge/internal/job"
)

//go:embed definitions.yaml
var builtinDefinitions []byte

// StageDef describes one stage of a pipeline definition.
type StageDef struct {
	Name           string `yaml:"name"`
	Cacheable      bool   `yaml:"cacheable"`
	TTLSeconds     int    `yaml:"ttl_seconds"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Synthetic      bool   `yaml:"synthetic"`
}

// Definition is one named pipeline kind with its ordered stage list.
type Definition struct {
	Kind        string     `yaml:"kind"`
	Description string     `yaml:"description"`
	Stages      []StageDef `yaml:"stages"`
}

// Definitions maps pipeline kinds to their definitions.
type Definitions struct {
	byKind map[string]Definition
}

type definitionsFile struct {
	Pipelines []Definition `yaml:"pipelines"`
}

// LoadDefinitions parses and validates the built-in pipeline definitions.
func LoadDefinitions() (*Definitions, error) {
	return parseDefinitions(builtinDefinitions)
}

func parseDefinitions(raw []byte) (*Definitions, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pipeline definitions: %w", err)
	}
	if len(file.Pipelines) == 0 {
		return nil, fmt.Errorf("pipeline definitions empty")
	}

	byKind := make(map[string]Definition, len(file.Pipelines))
	for _, def := range file.Pipelines {
		kind := strings.TrimSpace(strings.ToLower(def.Kind))
		if kind == "" {
			return nil, fmt.Errorf("pipeline definition missing kind")
		}
		if _, exists := byKind[kind]; exists {
			return nil, fmt.Errorf("duplicate pipeline kind %q", kind)
		}
		if len(def.Stages) == 0 {
			return nil, fmt.Errorf("pipeline %q has no stages", kind)
		}
		seen := make(map[string]bool, len(def.Stages))
		for i, st := range def.Stages {
			name := strings.TrimSpace(st.Name)
			if name == "" {
				return nil, fmt.Errorf("pipeline %q stage %d missing name", kind, i)
			}
			if seen[name] {
				return nil, fmt.Errorf("pipeline %q has duplicate stage %q", kind, name)
			}
			seen[name] = true
			if st.Synthetic && i != 0 {
				return nil, fmt.Errorf("pipeline %q: synthetic stage %q must come first", kind, name)
			}
		}
		def.Kind = kind
		byKind[kind] = def
	}
	return &Definitions{byKind: byKind}, nil
}

// Kinds returns the sorted pipeline kind names.
func (d *Definitions) Kinds() []string {
	kinds := make([]string, 0, len(d.byKind))
	for kind := range d.byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// ByKind returns the definition for a kind.
func (d *Definitions) ByKind(kind string) (Definition, bool) {
	def, ok := d.byKind[strings.TrimSpace(strings.ToLower(kind))]
	return def, ok
}

// StageTemplates converts the definitions into the seed templates the job
// registry expects.
func (d *Definitions) StageTemplates() map[string][]job.StageTemplate {
	templates := make(map[string][]job.StageTemplate, len(d.byKind))
	for kind, def := range d.byKind {
		stages := make([]job.StageTemplate, 0, len(def.Stages))
		for _, st := range def.Stages {
			stages = append(stages, job.StageTemplate{
				Name:           st.Name,
				Cacheable:      st.Cacheable,
				TTLSeconds:     st.TTLSeconds,
				TimeoutSeconds: st.TimeoutSeconds,
				Synthetic:      st.Synthetic,
			})
		}
		templates[kind] = stages
	}
	return templates
}

// WorkerStages lists every non-synthetic stage name across all definitions,
// deduplicated and sorted. The orchestrator requires a registered worker for
// each.
func (d *Definitions) WorkerStages() []string {
	seen := make(map[string]bool)
	for _, def := range d.byKind {
		for _, st := range def.Stages {
			if !st.Synthetic {
				seen[st.Name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package persona maps a chat's configured tone to the system persona text
// included in every completion payload. Presets live in an embedded YAML
// catalogue so the wording can be tuned without touching code.
package persona

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// preset is one tone entry in the catalogue.
type preset struct {
	Persona string `yaml:"persona"`
}

// Catalogue resolves tone names to persona text.
type Catalogue struct {
	presets  map[string]preset
	fallback string
}

// Load parses the embedded preset catalogue. The catalogue must contain a
// "friendly" entry, which doubles as the fallback for unknown tones.
func Load() (*Catalogue, error) {
	return parse(presetsYAML)
}

func parse(raw []byte) (*Catalogue, error) {
	var presets map[string]preset
	if err := yaml.Unmarshal(raw, &presets); err != nil {
		return nil, fmt.Errorf("persona: parse presets: %w", err)
	}

	fallback, ok := presets["friendly"]
	if !ok || fallback.Persona == "" {
		return nil, fmt.Errorf("persona: catalogue is missing the friendly fallback preset")
	}

	for name, p := range presets {
		if p.Persona == "" {
			return nil, fmt.Errorf("persona: preset %q has an empty persona", name)
		}
	}

	return &Catalogue{presets: presets, fallback: fallback.Persona}, nil
}

// Get returns the persona text for tone, falling back to the friendly
// preset when tone is unknown. The settings registry validates tones on
// write, so the fallback only triggers for rows written by older versions.
func (c *Catalogue) Get(tone string) string {
	if p, ok := c.presets[tone]; ok {
		return p.Persona
	}
	return c.fallback
}

// Tones lists the tone names present in the catalogue, sorted.
func (c *Catalogue) Tones() []string {
	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

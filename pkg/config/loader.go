package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"conductor/pkg/logx"
)

// ModelOverride is one user-supplied entry in the model overrides file.
// Zero fields leave the corresponding registry value untouched.
type ModelOverride struct {
	Provider         string  `yaml:"provider,omitempty"`
	InputCPM         float64 `yaml:"input_cpm,omitempty"`
	OutputCPM        float64 `yaml:"output_cpm,omitempty"`
	MaxContextTokens int     `yaml:"max_context_tokens,omitempty"`
	MaxOutputTokens  int     `yaml:"max_output_tokens,omitempty"`
}

// overridesFile is the YAML document shape:
//
//	models:
//	  my-fine-tune:
//	    max_context_tokens: 64000
type overridesFile struct {
	Models map[string]ModelOverride `yaml:"models"`
}

// LoadModelOverrides reads a YAML overrides file and merges it into
// KnownModels. New model names are added; existing entries are patched
// field by field. Intended to be called once at startup.
func LoadModelOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model overrides: %w", err)
	}
	return ApplyModelOverrides(data)
}

// ApplyModelOverrides merges a YAML overrides document into KnownModels.
func ApplyModelOverrides(data []byte) error {
	var doc overridesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse model overrides: %w", err)
	}

	logger := logx.NewLogger("config")
	for name, ov := range doc.Models {
		info := KnownModels[name]
		if ov.Provider != "" {
			info.Provider = ov.Provider
		}
		if ov.InputCPM != 0 {
			info.InputCPM = ov.InputCPM
		}
		if ov.OutputCPM != 0 {
			info.OutputCPM = ov.OutputCPM
		}
		if ov.MaxContextTokens != 0 {
			info.MaxContextTokens = ov.MaxContextTokens
		}
		if ov.MaxOutputTokens != 0 {
			info.MaxOutputTokens = ov.MaxOutputTokens
		}
		if info.Provider == "" {
			// Overrides for brand-new models must name a provider so the
			// adapter factory can route requests.
			if _, err := GetModelProvider(name); err != nil {
				return fmt.Errorf("model override %q: %w", name, err)
			}
		}
		KnownModels[name] = info
		logger.Debug("model override applied: %s (context=%d, output=%d)",
			name, info.MaxContextTokens, info.MaxOutputTokens)
	}
	return nil
}

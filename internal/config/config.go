// Package config loads the optional YAML prompt pack that overrides the
// built-in narrative and selection prompt text.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// Bounds for argument fallback prompts, matching the selection prompt validator.
const (
	MinPromptLength = 10
	MaxPromptLength = 300
)

// PromptPack holds prompt overrides. Zero values keep the built-in text.
type PromptPack struct {
	// SystemPrompt replaces the base narrative system prompt.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	// BranchTemplates maps branch names to narrative instructions.
	BranchTemplates map[string]string `yaml:"branch_templates,omitempty"`
	// ArgumentFallbacks maps "<argument type>" or "<argument type>/<flow type>"
	// to static selection prompts.
	ArgumentFallbacks map[string]string `yaml:"argument_fallbacks,omitempty"`
	// ForbiddenTerms extends the vocabulary rejected in generated selection prompts.
	ForbiddenTerms []string `yaml:"forbidden_terms,omitempty"`
}

// LoadPromptPack reads the pack at path. An empty path or a missing file
// yields an empty pack.
func LoadPromptPack(path string) (*PromptPack, error) {
	pack := &PromptPack{}
	if path == "" {
		return pack, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pack, nil
		}
		return nil, fmt.Errorf("failed to read prompt pack: %w", err)
	}
	if err := yaml.Unmarshal(data, pack); err != nil {
		return nil, fmt.Errorf("failed to parse prompt pack: %w", err)
	}
	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prompt pack %s: %w", path, err)
	}
	return pack, nil
}

// Validate checks branch names, fallback keys and fallback lengths.
func (p *PromptPack) Validate() error {
	var errs []error
	for name, tpl := range p.BranchTemplates {
		if !slices.Contains(models.AllBranches, models.NarrativeBranch(name)) {
			errs = append(errs, fmt.Errorf("unknown branch %q", name))
		}
		if strings.TrimSpace(tpl) == "" {
			errs = append(errs, fmt.Errorf("empty template for branch %q", name))
		}
	}
	for key, text := range p.ArgumentFallbacks {
		if err := validateFallbackKey(key); err != nil {
			errs = append(errs, err)
		}
		if n := len([]rune(strings.TrimSpace(text))); n < MinPromptLength || n > MaxPromptLength {
			errs = append(errs, fmt.Errorf("fallback %q must be %d-%d characters, got %d", key, MinPromptLength, MaxPromptLength, n))
		}
	}
	return errors.Join(errs...)
}

func validateFallbackKey(key string) error {
	argType, flowType, scoped := strings.Cut(key, "/")
	switch models.ArgumentType(argType) {
	case models.ArgSingleLogger, models.ArgMultipleLoggers, models.ArgDate, models.ArgDateRange:
	default:
		return fmt.Errorf("unknown argument type in fallback key %q", key)
	}
	if scoped && !models.IsValidFlowType(models.FlowType(flowType)) {
		return fmt.Errorf("unknown flow type in fallback key %q", key)
	}
	return nil
}

// ArgumentFallback returns the override for argType within flowType, trying
// the scoped key first and then the argument type alone.
func (p *PromptPack) ArgumentFallback(argType models.ArgumentType, flowType models.FlowType) (string, bool) {
	if p == nil {
		return "", false
	}
	if s, ok := p.ArgumentFallbacks[string(argType)+"/"+string(flowType)]; ok {
		return s, true
	}
	s, ok := p.ArgumentFallbacks[string(argType)]
	return s, ok
}

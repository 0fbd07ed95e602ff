// Package render validates UI payloads against per-component JSON schemas
// before they cross into the chat UI.
package render

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// MaxReportedErrors is the number of violations shown on an error card.
const MaxReportedErrors = 3

// ErrorCardTitle is the headline of every error card.
const ErrorCardTitle = "We couldn't display this result"

// ErrUnknownComponent is reported when a payload names a component outside the closed set.
var ErrUnknownComponent = errors.New("unknown component")

const errNoSchema = "no display template is registered for this result"

// Validator holds compiled schemas for every component plus the suggestion list.
type Validator struct {
	schemas     map[models.Component]*gojsonschema.Schema
	suggestions *gojsonschema.Schema
}

var components = []models.Component{
	models.ComponentHealthReport,
	models.ComponentFleetHealth,
	models.ComponentFinancialReport,
	models.ComponentPerformanceComparison,
	models.ComponentMorningBriefing,
	models.ComponentErrorCard,
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[models.Component]*gojsonschema.Schema, len(components))}
	for _, c := range components {
		s, err := loadSchema(string(c) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", c, err)
		}
		v.schemas[c] = s
	}
	s, err := loadSchema("suggestions.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile suggestions schema: %w", err)
	}
	v.suggestions = s
	return v, nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// Default returns the shared validator built from the embedded schemas.
func Default() *Validator {
	v, err := defaultValidator()
	if err != nil {
		// Unreachable with valid embedded schemas. An empty validator turns
		// every payload into an error card.
		slog.Error("render.Default: schema compilation failed", "error", err)
		return &Validator{}
	}
	return v
}

func loadSchema(name string) (*gojsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
}

// Build validates props against the registered schema of component.
func (v *Validator) Build(component models.Component, props map[string]any, suggestions []models.Suggestion) models.RenderPayload {
	return v.build(component, v.schemas[component], props, suggestions)
}

// Build validates props against an ad-hoc schema document. An empty schema
// falls back to the default validator's registered schema.
func Build(component models.Component, schema string, props map[string]any, suggestions []models.Suggestion) models.RenderPayload {
	v := Default()
	if schema == "" {
		return v.Build(component, props, suggestions)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		slog.Error("render.Build: invalid schema", "component", component, "error", err)
		return ErrorCard(component, []string{"the display template is invalid"}, nil)
	}
	return v.build(component, s, props, suggestions)
}

func (v *Validator) build(component models.Component, schema *gojsonschema.Schema, props map[string]any, suggestions []models.Suggestion) (payload models.RenderPayload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Validator.Build: recovered from panic", "component", component, "panic", r)
			payload = ErrorCard(component, []string{"the result could not be checked"}, nil)
		}
	}()

	if !models.IsValidComponent(component) {
		slog.Error("Validator.Build: unknown component", "component", component)
		return ErrorCard(component, []string{fmt.Sprintf("%v: %q", ErrUnknownComponent, component)}, nil)
	}
	if props == nil {
		props = map[string]any{}
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}

	suggestionErrs := validate(v.suggestions, suggestions)
	if len(suggestionErrs) > 0 {
		slog.Error("Validator.Build: suggestions violate schema", "component", component, "errors", suggestionErrs)
		return ErrorCard(component, suggestionErrs, nil)
	}
	if errs := validate(schema, props); len(errs) > 0 {
		slog.Error("Validator.Build: props violate schema", "component", component, "errors", errs)
		return ErrorCard(component, errs, suggestions)
	}

	slog.Debug("Validator.Build: payload valid", "component", component, "suggestions", len(suggestions))
	return models.RenderPayload{Component: component, Props: props, Suggestions: suggestions}
}

// validate returns readable violations, or nil when doc is valid. A missing
// schema is a violation.
func validate(schema *gojsonschema.Schema, doc any) []string {
	if schema == nil {
		return []string{errNoSchema}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return []string{fmt.Sprintf("the result could not be read: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	out := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return out
}

// ErrorCard builds the payload shown in place of an invalid one. At most
// MaxReportedErrors violations are kept.
func ErrorCard(component models.Component, errs []string, suggestions []models.Suggestion) models.RenderPayload {
	if len(errs) > MaxReportedErrors {
		errs = errs[:MaxReportedErrors]
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	return models.RenderPayload{
		Component: models.ComponentErrorCard,
		Props: map[string]any{
			"title":     ErrorCardTitle,
			"message":   "The analysis finished, but its result did not match what this view expects.",
			"component": string(component),
			"errors":    append(make([]string, 0, len(errs)), errs...),
		},
		Suggestions: suggestions,
	}
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/config"
	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
	"github.com/BTreeMap/FleetPipe/internal/util"
)

// Selection prompt bounds.
const (
	MinSelectionPromptLength = config.MinPromptLength
	MaxSelectionPromptLength = config.MaxPromptLength
)

// GenericSelectionPrompt is used when no better static prompt exists.
const GenericSelectionPrompt = "Please make a selection so I can continue."

var (
	errNoPromptWriter    = errors.New("no prompt writer configured")
	errPromptLength      = errors.New("prompt length out of bounds")
	errForbiddenTerm     = errors.New("prompt uses technical vocabulary")
	errPromptInstruction = errors.New("prompt leaks instructions")
)

// defaultForbiddenTerms never belong in a question shown to the user.
var defaultForbiddenTerms = []string{
	"api", "json", "database", "sql", "parameter", "argument", "schema", "endpoint",
	"payload", "null", "undefined", "logger_id", "loggerid", "logger_ids", "loggerids",
}

var promptMarkers = []string{"{{", "}}", "INSTRUCTIONS:", "FACTS:", "<TONE POLICY>", "As an AI"}

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

// staticPrompts are keyed by "<argument type>/<flow type>" and "<argument type>".
var staticPrompts = map[string]string{
	"single_logger/health_check":         "Which device would you like me to check?",
	"single_logger/financial_report":     "Which device should I calculate savings for?",
	"multiple_loggers/performance_audit": "Which devices would you like to compare?",
	"date/performance_audit":             "Which day would you like to compare?",
	"date_range/financial_report":        "Which period should the savings report cover?",
	string(models.ArgSingleLogger):       "Which device would you like to look at?",
	string(models.ArgMultipleLoggers):    "Which devices would you like to include?",
	string(models.ArgDate):               "Which day would you like to look at?",
	string(models.ArgDateRange):          "Which period would you like to look at?",
}

// PromptWriter words selection prompts for the user's persona.
type PromptWriter interface {
	WriteSelectionPrompt(ctx context.Context, req narrative.SelectionPromptRequest) (string, error)
}

// ResolveInput is what the resolver knows about the current turn.
type ResolveInput struct {
	FlowType  models.FlowType
	Arguments map[string]any
	Prefill   map[string]any
	Options   []models.LoggerInfo
	Persona   string
}

// Resolution reports whether every required argument is available.
type Resolution struct {
	Satisfied bool
	// Arguments holds the resolved arguments, including applied defaults.
	Arguments map[string]any
	// UIRequest asks for the first unsatisfied argument.
	UIRequest *models.SelectionRequest
	// Acknowledgement explains automatic choices, such as a single available device.
	Acknowledgement string
}

// Resolver fills arguments from defaults, prefill and unambiguous options and
// otherwise asks the user.
type Resolver struct {
	writer    PromptWriter
	pack      *config.PromptPack
	forbidden []string
	now       func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPromptPack applies static prompt and vocabulary overrides.
func WithPromptPack(pack *config.PromptPack) ResolverOption {
	return func(r *Resolver) {
		r.pack = pack
		if pack != nil {
			for _, t := range pack.ForbiddenTerms {
				r.forbidden = append(r.forbidden, strings.ToLower(t))
			}
		}
	}
}

// WithResolverClock sets the clock used by date defaults.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver. writer may be nil, in which case static prompts are used.
func NewResolver(writer PromptWriter, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		writer:    writer,
		forbidden: slices.Clone(defaultForbiddenTerms),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks specs in order and stops at the first argument it cannot fill.
func (r *Resolver) Resolve(ctx context.Context, specs []models.ArgumentSpec, in ResolveInput) Resolution {
	args := util.DeepMerge(in.Arguments, nil)
	var acks []string

	for _, spec := range specs {
		violation := ""
		if v, ok := args[spec.Name]; ok {
			err := validateArgument(spec, v, in.Options)
			if err == nil {
				continue
			}
			slog.Debug("Resolver.Resolve: discarding invalid argument", "argument", spec.Name, "error", err)
			delete(args, spec.Name)
			violation = err.Error()
		}

		if v, ok := in.Prefill[spec.Name]; ok && validateArgument(spec, v, in.Options) == nil {
			args[spec.Name] = normalizeArgument(spec, v)
			continue
		}
		if !spec.Required {
			continue
		}
		if v, ok := r.applyDefault(spec, args, in.Options); ok {
			args[spec.Name] = v
			continue
		}
		if spec.Type == models.ArgSingleLogger && len(in.Options) == 1 {
			id := in.Options[0].LoggerID
			args[spec.Name] = id
			acks = append(acks, fmt.Sprintf("Using %s, the only device with recorded data.", id))
			continue
		}

		req := r.selectionRequest(ctx, spec, args, in, violation)
		slog.Debug("Resolver.Resolve: argument needed", "flow", in.FlowType, "argument", spec.Name, "type", spec.Type)
		return Resolution{Arguments: args, UIRequest: &req, Acknowledgement: strings.Join(acks, " ")}
	}
	return Resolution{Satisfied: true, Arguments: args, Acknowledgement: strings.Join(acks, " ")}
}

// applyDefault fills spec from its default strategy when one applies.
func (r *Resolver) applyDefault(spec models.ArgumentSpec, args map[string]any, options []models.LoggerInfo) (any, bool) {
	today := r.now().UTC()
	switch spec.DefaultStrategy {
	case models.DefaultLast7Days, models.DefaultLast30Days:
		days := 7
		if spec.DefaultStrategy == models.DefaultLast30Days {
			days = 30
		}
		rng := models.DateRange{
			Start: today.AddDate(0, 0, -(days - 1)).Format(dateLayout),
			End:   today.Format(dateLayout),
		}
		if spec.Type == models.ArgDate {
			return rng.End, true
		}
		return rangeArg(rng), true
	case models.DefaultLatestDate:
		_, latest := dataWindow(options, selectedLoggers(args))
		if latest == "" {
			latest = today.Format(dateLayout)
		}
		if spec.Type == models.ArgDateRange {
			return rangeArg(models.DateRange{Start: latest, End: latest}), true
		}
		return latest, true
	case models.DefaultAllLoggers:
		ids := optionIDs(options)
		if spec.MaxCount > 0 && len(ids) > spec.MaxCount {
			ids = ids[:spec.MaxCount]
		}
		if len(ids) == 0 || len(ids) < spec.MinCount {
			return nil, false
		}
		if spec.Type == models.ArgSingleLogger {
			return ids[0], true
		}
		return stringsArg(ids), true
	}
	return nil, false
}

func (r *Resolver) selectionRequest(ctx context.Context, spec models.ArgumentSpec, args map[string]any, in ResolveInput, violation string) models.SelectionRequest {
	req := models.SelectionRequest{
		Options:       []models.SelectionOption{},
		SelectionType: models.SelectionSingle,
		InputType:     models.InputDropdown,
		FlowHint:      string(in.FlowType),
		Argument:      spec.Name,
	}
	switch spec.Type {
	case models.ArgSingleLogger, models.ArgMultipleLoggers:
		req.Options = loggerOptions(in.Options)
		if spec.Type == models.ArgMultipleLoggers {
			req.SelectionType = models.SelectionMultiple
			req.MinCount, req.MaxCount = spec.MinCount, spec.MaxCount
		}
	case models.ArgDate:
		req.InputType = models.InputDate
		req.MinDate, req.MaxDate = dataWindow(in.Options, selectedLoggers(args))
	case models.ArgDateRange:
		req.InputType = models.InputDateRange
		req.MinDate, req.MaxDate = dataWindow(in.Options, selectedLoggers(args))
	}

	prompt, _ := util.WithFallback(ctx, "resolver.selection_prompt",
		func(ctx context.Context) (string, error) {
			if r.writer == nil {
				return "", errNoPromptWriter
			}
			return r.writer.WriteSelectionPrompt(ctx, narrative.SelectionPromptRequest{
				Argument:    spec,
				FlowType:    in.FlowType,
				OptionCount: len(req.Options),
				Persona:     in.Persona,
			})
		},
		r.validateSelectionPrompt,
		func(error) string { return r.staticPrompt(spec.Type, in.FlowType) },
	)
	prompt = strings.TrimSpace(prompt)

	if spec.Type == models.ArgMultipleLoggers && (spec.MinCount > 0 || spec.MaxCount > 0) {
		prompt += " " + countHint(spec.MinCount, spec.MaxCount)
	}
	if violation != "" {
		slog.Debug("Resolver.selectionRequest: previous answer rejected", "argument", spec.Name, "reason", violation)
		prompt = "That selection didn't work (" + violation + "). " + prompt
	}
	req.Prompt = prompt
	return req
}

// countHint states the selection bound, such as "(choose 2–5)".
func countHint(minCount, maxCount int) string {
	switch {
	case minCount > 0 && maxCount > 0:
		return fmt.Sprintf("(choose %d–%d)", minCount, maxCount)
	case minCount > 0:
		return fmt.Sprintf("(choose at least %d)", minCount)
	default:
		return fmt.Sprintf("(choose up to %d)", maxCount)
	}
}

// validateSelectionPrompt rejects prompts that are too short or long, use
// technical vocabulary or leak instruction markers.
func (r *Resolver) validateSelectionPrompt(prompt string) error {
	p := strings.TrimSpace(prompt)
	if n := len([]rune(p)); n < MinSelectionPromptLength || n > MaxSelectionPromptLength {
		return fmt.Errorf("%w: %d characters", errPromptLength, n)
	}
	for _, m := range promptMarkers {
		if strings.Contains(p, m) {
			return fmt.Errorf("%w: %q", errPromptInstruction, m)
		}
	}
	lower := strings.ToLower(p)
	words := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(lower, -1) {
		words[w] = true
	}
	for _, term := range r.forbidden {
		if term == "" {
			continue
		}
		if wordPattern.FindString(term) == term {
			if words[term] {
				return fmt.Errorf("%w: %q", errForbiddenTerm, term)
			}
		} else if strings.Contains(lower, term) {
			return fmt.Errorf("%w: %q", errForbiddenTerm, term)
		}
	}
	return nil
}

// staticPrompt picks the fallback prompt by argument and flow type, then by
// argument type, then a generic question. Prompt pack overrides win.
func (r *Resolver) staticPrompt(argType models.ArgumentType, flowType models.FlowType) string {
	if s, ok := r.pack.ArgumentFallback(argType, flowType); ok {
		return s
	}
	if s, ok := staticPrompts[string(argType)+"/"+string(flowType)]; ok {
		return s
	}
	if s, ok := staticPrompts[string(argType)]; ok {
		return s
	}
	return GenericSelectionPrompt
}

// validateArgument checks v against spec and, when known, the logger options.
func validateArgument(spec models.ArgumentSpec, v any, options []models.LoggerInfo) error {
	switch spec.Type {
	case models.ArgSingleLogger:
		id, _ := v.(string)
		if id == "" {
			return errors.New("no device selected")
		}
		if len(options) > 0 {
			if _, ok := findOption(options, id); !ok {
				return fmt.Errorf("unknown device %q", id)
			}
		}
	case models.ArgMultipleLoggers:
		ids := argStrings(map[string]any{spec.Name: v}, spec.Name)
		if spec.MinCount > 0 && len(ids) < spec.MinCount {
			return fmt.Errorf("selected %d devices, need at least %d", len(ids), spec.MinCount)
		}
		if spec.MaxCount > 0 && len(ids) > spec.MaxCount {
			return fmt.Errorf("selected %d devices, at most %d allowed", len(ids), spec.MaxCount)
		}
		if len(ids) == 0 {
			return errors.New("no devices selected")
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				return fmt.Errorf("device %q selected twice", id)
			}
			seen[id] = true
			if len(options) > 0 {
				if _, ok := findOption(options, id); !ok {
					return fmt.Errorf("unknown device %q", id)
				}
			}
		}
	case models.ArgDate:
		s, _ := v.(string)
		if !validDate(s) {
			return fmt.Errorf("invalid date %q", s)
		}
	case models.ArgDateRange:
		rng, ok := argRange(map[string]any{spec.Name: v}, spec.Name)
		if !ok || !validDate(rng.Start) {
			return errors.New("invalid start date")
		}
		if rng.End != "" && (!validDate(rng.End) || rng.End < rng.Start) {
			return errors.New("invalid end date")
		}
	}
	return nil
}

// normalizeArgument converts accepted values to their stored form.
func normalizeArgument(spec models.ArgumentSpec, v any) any {
	switch spec.Type {
	case models.ArgMultipleLoggers:
		return stringsArg(argStrings(map[string]any{spec.Name: v}, spec.Name))
	case models.ArgDateRange:
		rng, _ := argRange(map[string]any{spec.Name: v}, spec.Name)
		return rangeArg(rng)
	}
	return v
}

func selectedLoggers(args map[string]any) []string {
	if ids := argStrings(args, models.ArgNameLoggers); len(ids) > 0 {
		return ids
	}
	if id := argString(args, models.ArgNameLogger); id != "" {
		return []string{id}
	}
	return nil
}

func loggerOptions(options []models.LoggerInfo) []models.SelectionOption {
	out := make([]models.SelectionOption, 0, len(options))
	for _, o := range options {
		opt := models.SelectionOption{Value: o.LoggerID, Label: o.LoggerID, Group: o.LoggerType}
		first, last := datePart(o.EarliestData), datePart(o.LatestData)
		if first != "" && last != "" {
			opt.Subtitle = fmt.Sprintf("Data from %s to %s", first, last)
		} else if last != "" {
			opt.Subtitle = fmt.Sprintf("Latest data %s", last)
		}
		out = append(out, opt)
	}
	return out
}

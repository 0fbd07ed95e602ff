package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
	"github.com/BTreeMap/FleetPipe/internal/recovery"
	"github.com/BTreeMap/FleetPipe/internal/render"
	"github.com/BTreeMap/FleetPipe/internal/tools"
)

// Tool result keys in FlowContext.ToolResults.
const (
	KeyLoggerList = "loggers"
	KeyHealth     = "health"
	KeySavings    = "savings"
	KeyForecast   = "forecast"
	KeyComparison = "comparison"
	KeyOverview   = "overview"
	// KeyFleetHealthPrefix prefixes per-logger results of a health fan-out.
	KeyFleetHealthPrefix = "health:"
)

// Narrator produces narratives. *narrative.Engine implements it.
type Narrator interface {
	Generate(ctx context.Context, req narrative.Request) narrative.Response
}

// Deps are the collaborators injected into every flow's steps.
type Deps struct {
	Gateway   tools.Gateway
	Narrator  Narrator
	Resolver  *Resolver
	Validator *render.Validator
	// FanoutLimit bounds concurrent tool calls in fleet fan-outs; values below 2 run sequentially.
	FanoutLimit int
	// MaxSuggestions caps follow-up suggestions per render.
	MaxSuggestions int
	Now            func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Resolver == nil {
		d.Resolver = NewResolver(nil)
	}
	if d.Narrator == nil {
		d.Narrator = narrative.NewEngine(nil)
	}
	if d.Validator == nil {
		d.Validator = render.Default()
	}
	if d.MaxSuggestions <= 0 {
		d.MaxSuggestions = narrative.DefaultMaxSuggestions
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// flowSteps is implemented by each flow's step struct.
type flowSteps interface {
	specs(state models.ConversationState) []models.ArgumentSpec
	invokePrimary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error)
	render(ctx context.Context, state models.ConversationState) (models.StateUpdate, error)
}

// secondaryStep is implemented by flows with a dependent second tool call.
type secondaryStep interface {
	invokeSecondary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error)
}

// recoveryStep describes the argument a recovery date picker answers.
type recoveryStep interface {
	recoveryTarget(state models.ConversationState) (primaryKey, subject, argument string, input models.InputType)
}

// base holds the steps every flow shares.
type base struct {
	flow models.FlowType
	deps Deps
}

func newBase(flow models.FlowType, deps Deps) base {
	return base{flow: flow, deps: deps.withDefaults()}
}

// canonicalGraph wires fetch-context, check-args, wait-for-user,
// invoke-primary, recovery, invoke-secondary and render.
func canonicalGraph(b base, s flowSteps) Graph {
	g := Graph{
		Flow:  b.flow,
		Entry: models.StepFetchContext,
		Steps: map[models.StepName]StepFunc{
			models.StepFetchContext:  b.fetchContext,
			models.StepCheckArgs:     b.checkArgs(s.specs),
			models.StepWaitForUser:   b.waitForUser,
			models.StepInvokePrimary: s.invokePrimary,
			models.StepRender:        s.render,
		},
	}
	if r, ok := s.(recoveryStep); ok {
		g.Steps[models.StepRecovery] = b.recover(r.recoveryTarget)
	}

	g.Transitions = []Transition{
		{From: models.StepFetchContext, To: models.StepCheckArgs},
		{From: models.StepCheckArgs, When: argsSatisfied, To: models.StepInvokePrimary},
		{From: models.StepCheckArgs, To: models.StepWaitForUser},
		{From: models.StepWaitForUser, To: models.StepEnd},
	}
	if _, ok := g.Steps[models.StepRecovery]; ok {
		g.Transitions = append(g.Transitions,
			Transition{From: models.StepInvokePrimary, When: needsRecovery, To: models.StepRecovery},
			Transition{From: models.StepRecovery, To: models.StepEnd},
		)
	}
	if sec, ok := s.(secondaryStep); ok {
		g.Steps[models.StepInvokeSecondary] = sec.invokeSecondary
		g.Transitions = append(g.Transitions,
			Transition{From: models.StepInvokePrimary, To: models.StepInvokeSecondary},
			Transition{From: models.StepInvokeSecondary, To: models.StepRender},
		)
	} else {
		g.Transitions = append(g.Transitions, Transition{From: models.StepInvokePrimary, To: models.StepRender})
	}
	g.Transitions = append(g.Transitions, Transition{From: models.StepRender, To: models.StepEnd})
	return g
}

func argsSatisfied(s models.ConversationState) bool { return s.FlowContext.ArgsSatisfied }

func needsRecovery(s models.ConversationState) bool { return s.FlowContext.NeedsRecovery }

// fetchContext loads the logger list once per flow context.
func (b base) fetchContext(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	if len(state.FlowContext.Options) > 0 {
		return models.StateUpdate{}, nil
	}
	resp := tools.Call(ctx, b.deps.Gateway, models.ToolListLoggers, map[string]any{})
	patch := models.ContextPatch{ToolResults: map[string]models.ToolResponse{KeyLoggerList: resp}}
	if !resp.Succeeded() {
		slog.Warn("Flow.fetchContext: logger list unavailable", "flow", b.flow, "status", resp.Status, "message", resp.Message)
		return models.StateUpdate{Context: patch}, nil
	}
	list, err := models.DecodeResult[models.LoggerListResult](resp)
	if err != nil {
		return models.StateUpdate{}, fmt.Errorf("failed to decode logger list: %w", err)
	}
	patch.Options = list.Loggers
	if patch.Options == nil {
		patch.Options = []models.LoggerInfo{}
	}
	slog.Debug("Flow.fetchContext: loggers loaded", "flow", b.flow, "count", len(list.Loggers))
	return models.StateUpdate{Context: patch}, nil
}

// checkArgs resolves the flow's arguments and queues a selection request when
// one is missing.
func (b base) checkArgs(specs func(models.ConversationState) []models.ArgumentSpec) StepFunc {
	return func(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
		fc := state.FlowContext
		res := b.deps.Resolver.Resolve(ctx, specs(state), ResolveInput{
			FlowType:  b.flow,
			Arguments: fc.Arguments,
			Prefill:   fc.Prefill,
			Options:   fc.Options,
			Persona:   fc.Preferences.Persona,
		})

		upd := models.StateUpdate{Context: models.ContextPatch{
			Arguments:     res.Arguments,
			ArgsSatisfied: models.Ptr(res.Satisfied),
		}}
		if res.Acknowledgement != "" {
			upd.PendingUIActions = append(upd.PendingUIActions, models.AcknowledgementAction(res.Acknowledgement))
		}
		if res.UIRequest != nil {
			upd.PendingUIActions = append(upd.PendingUIActions, models.SelectionAction(*res.UIRequest))
		}
		return upd, nil
	}
}

// waitForUser ends the turn with the pending selection request worded as the reply.
func (b base) waitForUser(_ context.Context, state models.ConversationState) (models.StateUpdate, error) {
	prompt := GenericSelectionPrompt
	for i := len(state.PendingUIActions) - 1; i >= 0; i-- {
		if a := state.PendingUIActions[i]; a.Type == models.UIActionSelection && a.Selection != nil {
			prompt = a.Selection.Prompt
			break
		}
	}
	return models.StateUpdate{Messages: []models.Message{b.assistant(prompt)}}, nil
}

// recover ends the turn with a notice about the data gap and, while attempts
// remain, a date picker bounded by the available range.
func (b base) recover(target func(models.ConversationState) (string, string, string, models.InputType)) StepFunc {
	return func(_ context.Context, state models.ConversationState) (models.StateUpdate, error) {
		key, subject, argument, input := target(state)
		resp := state.FlowContext.ToolResults[key]
		attempts := state.RecoveryAttempts + 1
		notice := recovery.BuildNotice(b.flow, subject, resp, attempts, argument, input)

		upd := models.StateUpdate{
			Messages:         []models.Message{b.assistant(notice.Message)},
			RecoveryAttempts: &attempts,
			Context: models.ContextPatch{
				NeedsRecovery:  models.Ptr(true),
				AvailableRange: notice.Range,
			},
			PendingUIActions: []models.UIAction{models.AcknowledgementAction(notice.Message)},
		}
		if notice.Selection != nil {
			upd.PendingUIActions = append(upd.PendingUIActions, models.SelectionAction(*notice.Selection))
		}
		slog.Info("Flow.recover: data unavailable", "flow", b.flow, "subject", subject, "status", resp.Status, "attempts", attempts)
		return upd, nil
	}
}

// finish turns a narrative into the render payload, reply and remembered history.
func (b base) finish(ctx context.Context, state models.ConversationState, nc models.NarrativeContext, component models.Component, props map[string]any, sc narrative.SuggestionContext) models.StateUpdate {
	fc := state.FlowContext
	subjectKey := string(b.flow) + ":" + subjectOrFleet(nc.Subject)

	var prev *models.NarrativeMemory
	if m, ok := fc.NarrativeHistory[subjectKey]; ok {
		prev = &m
	}
	resp := b.deps.Narrator.Generate(ctx, narrative.Request{Context: nc, Preferences: fc.Preferences, Previous: prev})
	res := resp.Result

	sc.FlowType = b.flow
	sc.Branch = res.Branch
	sc.Subject = nc.Subject
	suggestions := narrative.Suggestions(sc, b.deps.MaxSuggestions)

	props["narrative"] = res.Narrative
	props["branch"] = string(res.Branch)
	props["confidence"] = res.Confidence
	props["usedFallback"] = res.UsedFallback
	payload := b.deps.Validator.Build(component, props, suggestions)

	zero := 0
	slog.Info("Flow.render: turn rendered", "flow", b.flow, "subject", nc.Subject, "branch", res.Branch,
		"fallback", res.UsedFallback, "component", payload.Component)
	return models.StateUpdate{
		Messages:         []models.Message{b.assistant(res.Narrative)},
		PendingUIActions: []models.UIAction{models.RenderAction(payload)},
		RecoveryAttempts: &zero,
		Context: models.ContextPatch{
			NeedsRecovery:    models.Ptr(false),
			LastNarrative:    &res,
			NarrativeHistory: map[string]models.NarrativeMemory{subjectKey: resp.Memory},
		},
	}
}

func (b base) assistant(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content, Timestamp: b.deps.Now()}
}

func subjectOrFleet(s string) string {
	if s == "" {
		return "fleet"
	}
	return s
}

// fanOutHealth runs analyze_inverter_health for every id, keeping results in id order.
func (b base) fanOutHealth(ctx context.Context, ids []string) []models.ToolResponse {
	results := make([]models.ToolResponse, len(ids))
	if b.deps.FanoutLimit < 2 {
		for i, id := range ids {
			if ctx.Err() != nil {
				results[i] = models.ErrorResponse(ctx.Err().Error())
				continue
			}
			results[i] = tools.Call(ctx, b.deps.Gateway, models.ToolAnalyzeInverterHealth, tools.HealthArgs(id, tools.DefaultHealthDays))
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(b.deps.FanoutLimit)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = tools.Call(ctx, b.deps.Gateway, models.ToolAnalyzeInverterHealth, tools.HealthArgs(id, tools.DefaultHealthDays))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// summarizeFleet aggregates fan-out results into a fleet summary.
func summarizeFleet(ids []string, results []models.ToolResponse) models.FleetHealthSummary {
	sum := models.FleetHealthSummary{TotalLoggers: len(ids), Entries: make([]models.FleetHealthEntry, 0, len(ids))}
	var scoreTotal float64
	scored := 0
	for i, id := range ids {
		resp := results[i]
		entry := models.FleetHealthEntry{LoggerID: id, Status: resp.Status, Message: resp.Message}
		switch {
		case recovery.NeedsRecovery(resp):
			sum.LoggersWithoutData++
		case !resp.Succeeded():
			sum.FailedChecks++
		default:
			report, err := models.DecodeResult[models.AnomalyReport](resp)
			if err != nil {
				entry.Status = models.ToolStatusError
				entry.Message = err.Error()
				sum.FailedChecks++
				break
			}
			entry.AnomalyCount = anomalyCount(report)
			entry.HealthScore = healthScore(report)
			sum.TotalAnomalies += entry.AnomalyCount
			scoreTotal += entry.HealthScore
			scored++
			if entry.AnomalyCount > 0 {
				sum.LoggersWithIssues++
			} else {
				sum.HealthyLoggers++
			}
		}
		sum.Entries = append(sum.Entries, entry)
	}
	if scored > 0 {
		sum.AverageHealthScore = scoreTotal / float64(scored)
	}
	return sum
}

// fleetCompleteness is the share of loggers whose check produced data.
func fleetCompleteness(sum models.FleetHealthSummary) float64 {
	if sum.TotalLoggers == 0 {
		return 0
	}
	withData := sum.HealthyLoggers + sum.LoggersWithIssues
	return 100 * float64(withData) / float64(sum.TotalLoggers)
}

func fleetEntriesProps(entries []models.FleetHealthEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"loggerId":     e.LoggerID,
			"status":       string(e.Status),
			"healthScore":  e.HealthScore,
			"anomalyCount": e.AnomalyCount,
		})
	}
	return out
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/render"
	"github.com/BTreeMap/FleetPipe/internal/tone"
)

// ErrUnknownFlow is returned when a turn names a flow that does not exist.
var ErrUnknownFlow = errors.New("unknown flow type")

// FlowPickerPrompt asks the user to choose a flow when none could be detected.
const FlowPickerPrompt = "What would you like to look at today?"

// FlowArgument is the selection argument answered by the flow picker.
const FlowArgument = "flow"

var flowLabels = map[models.FlowType]string{
	models.FlowHealthCheck:      "Check device health",
	models.FlowFinancialReport:  "Savings report",
	models.FlowPerformanceAudit: "Compare devices",
	models.FlowMorningBriefing:  "Morning briefing",
}

// TurnInput is one user turn.
type TurnInput struct {
	Message string
	// Flow selects a flow explicitly, as when the user picks a suggestion.
	Flow models.FlowType
	// Arguments are answers to a selection request, keyed by argument name.
	Arguments   map[string]any
	Preferences *models.NarrativePreferences
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	// Update is relative to the state passed to HandleTurn.
	Update models.StateUpdate
	// State is that state with Update applied.
	State  models.ConversationState
	Render *models.RenderPayload
	Flow   models.FlowType
	Trace  []models.StepName
}

// Orchestrator routes turns to the flow graphs.
type Orchestrator struct {
	deps   Deps
	graphs map[models.FlowType]Graph
}

// NewOrchestrator builds every flow graph with deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	deps = deps.withDefaults()
	o := &Orchestrator{
		deps: deps,
		graphs: map[models.FlowType]Graph{
			models.FlowHealthCheck:      BuildHealthFlow(deps),
			models.FlowFinancialReport:  BuildFinancialFlow(deps),
			models.FlowPerformanceAudit: BuildPerformanceFlow(deps),
			models.FlowMorningBriefing:  BuildBriefingFlow(deps),
		},
	}
	for ft, g := range o.graphs {
		if err := g.Validate(); err != nil {
			slog.Error("Orchestrator.NewOrchestrator: invalid graph", "flow", ft, "error", err)
		}
	}
	return o
}

// HandleTurn runs one turn against state and returns the update the caller
// should persist. Only context cancellation and unknown flows are returned as
// errors; every other failure is rendered.
func (o *Orchestrator) HandleTurn(ctx context.Context, state models.ConversationState, in TurnInput) (TurnResult, error) {
	if in.Flow != "" && !models.IsValidFlowType(in.Flow) {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrUnknownFlow, in.Flow)
	}
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}

	upd := models.StateUpdate{ClearPending: true}
	if msg := strings.TrimSpace(in.Message); msg != "" {
		upd.Messages = []models.Message{{Role: models.RoleUser, Content: msg, Timestamp: o.deps.Now()}}
	}
	if in.Preferences != nil {
		prefs := tone.Normalize(*in.Preferences)
		upd.Context.Preferences = &prefs
	}

	flow := in.Flow
	if picked, ok := in.Arguments[FlowArgument].(string); ok && flow == "" {
		if !models.IsValidFlowType(models.FlowType(picked)) {
			return TurnResult{}, fmt.Errorf("%w: %s", ErrUnknownFlow, picked)
		}
		flow = models.FlowType(picked)
	}
	if flow == "" {
		flow = DetectIntent(in.Message)
	}
	if flow == "" {
		flow = state.ActiveFlow
	}
	if flow == "" {
		upd = upd.Then(o.flowPicker())
		slog.Info("Orchestrator.HandleTurn: no flow detected, offering picker")
		return TurnResult{Update: upd, State: state.Apply(upd)}, nil
	}

	prefill := ExtractPrefill(in.Message)
	pending := pendingArgument(state)
	if flow != state.ActiveFlow || (pending == "" && upd.Messages != nil) || scopeChanged(state, prefill) {
		zero := 0
		upd.ActiveFlow = &flow
		upd.FlowStep = &zero
		upd.RecoveryAttempts = &zero
		upd.ResetContext = true
		upd.Context.Options = state.FlowContext.Options
		pending = ""
		slog.Debug("Orchestrator.HandleTurn: starting flow", "flow", flow, "previous", state.ActiveFlow)
	}

	args := map[string]any{}
	if v, ok := prefill[pending]; ok && pending != "" {
		// A typed answer to the question just asked replaces the earlier value.
		args[pending] = v
	}
	for k, v := range in.Arguments {
		if k != FlowArgument {
			args[k] = v
		}
	}
	if len(prefill) > 0 {
		upd.Context.Prefill = prefill
	}
	if len(args) > 0 {
		upd.Context.Arguments = args
	}

	working := state.Apply(upd)
	res, err := Run(ctx, o.graphs[flow], working)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TurnResult{}, ctxErr
		}
		slog.Error("Orchestrator.HandleTurn: flow failed", "flow", flow, "error", err, "trace", res.Trace)
		failure := o.failure(flow, err)
		upd = upd.Then(res.Update).Then(failure)
		out := state.Apply(upd)
		return TurnResult{Update: upd, State: out, Render: lastRender(out), Flow: flow, Trace: res.Trace}, nil
	}

	upd = upd.Then(res.Update)
	out := state.Apply(upd)
	slog.Info("Orchestrator.HandleTurn: turn complete", "flow", flow, "steps", len(res.Trace))
	return TurnResult{Update: upd, State: out, Render: lastRender(out), Flow: flow, Trace: res.Trace}, nil
}

// flowPicker asks which flow the user wants.
func (o *Orchestrator) flowPicker() models.StateUpdate {
	req := models.SelectionRequest{
		Prompt:        FlowPickerPrompt,
		Options:       make([]models.SelectionOption, 0, len(models.AllFlows)),
		SelectionType: models.SelectionSingle,
		InputType:     models.InputDropdown,
		Argument:      FlowArgument,
	}
	for _, ft := range models.AllFlows {
		req.Options = append(req.Options, models.SelectionOption{Value: string(ft), Label: flowLabels[ft]})
	}
	return models.StateUpdate{
		Messages:         []models.Message{{Role: models.RoleAssistant, Content: FlowPickerPrompt, Timestamp: o.deps.Now()}},
		PendingUIActions: []models.UIAction{models.SelectionAction(req)},
	}
}

// failure renders an error card for a run that could not finish.
func (o *Orchestrator) failure(flow models.FlowType, err error) models.StateUpdate {
	msg := "Something went wrong while preparing this answer. Please try again."
	card := render.ErrorCard("", []string{err.Error()}, nil)
	card.Props["message"] = msg
	zero := 0
	return models.StateUpdate{
		Messages:         []models.Message{{Role: models.RoleAssistant, Content: msg, Timestamp: o.deps.Now()}},
		PendingUIActions: []models.UIAction{models.RenderAction(card)},
		RecoveryAttempts: &zero,
		Context:          models.ContextPatch{NeedsRecovery: models.Ptr(false)},
	}
}

// pendingArgument returns the argument the last selection request asked for.
func pendingArgument(state models.ConversationState) string {
	for i := len(state.PendingUIActions) - 1; i >= 0; i-- {
		if a := state.PendingUIActions[i]; a.Type == models.UIActionSelection && a.Selection != nil {
			return a.Selection.Argument
		}
	}
	return ""
}

// scopeChanged reports whether the message switches between one device and all devices.
func scopeChanged(state models.ConversationState, prefill map[string]any) bool {
	next, ok := prefill[models.ArgNameScope]
	if !ok {
		return false
	}
	fc := state.FlowContext
	current := argString(fc.Arguments, models.ArgNameScope)
	if current == "" {
		current = argString(fc.Prefill, models.ArgNameScope)
	}
	return next != current
}

func lastRender(state models.ConversationState) *models.RenderPayload {
	for i := len(state.PendingUIActions) - 1; i >= 0; i-- {
		if a := state.PendingUIActions[i]; a.Type == models.UIActionRender && a.Render != nil {
			return a.Render
		}
	}
	return nil
}

package flow

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

func setArg(name string, v any) StepFunc {
	return func(context.Context, models.ConversationState) (models.StateUpdate, error) {
		return models.StateUpdate{Context: models.ContextPatch{Arguments: map[string]any{name: v}}}, nil
	}
}

func TestRun_FirstMatchingTransitionWins(t *testing.T) {
	g := Graph{
		Flow:  models.FlowHealthCheck,
		Entry: "a",
		Steps: map[models.StepName]StepFunc{
			"a": setArg("route", "left"),
			"l": setArg("visited", "left"),
			"r": setArg("visited", "right"),
		},
		Transitions: []Transition{
			{From: "a", When: func(s models.ConversationState) bool { return argString(s.FlowContext.Arguments, "route") == "left" }, To: "l"},
			{From: "a", To: "r"},
			{From: "l", To: models.StepEnd},
			{From: "r", To: models.StepEnd},
		},
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	state := models.ConversationState{FlowStep: 3}
	res, err := Run(context.Background(), g, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(res.Trace, []models.StepName{"a", "l"}) {
		t.Errorf("trace = %v, want [a l]", res.Trace)
	}
	if got := argString(res.State.FlowContext.Arguments, "visited"); got != "left" {
		t.Errorf("visited = %q, want left", got)
	}
	if res.State.FlowStep != 5 {
		t.Errorf("FlowStep = %d, want 5", res.State.FlowStep)
	}
	if state.FlowContext.Arguments != nil {
		t.Error("input state was modified")
	}
	if applied := state.Apply(res.Update); argString(applied.FlowContext.Arguments, "visited") != "left" || applied.FlowStep != 5 {
		t.Errorf("Update does not reproduce State: %+v", applied)
	}
}

func TestRun_StepErrorsAndPanicsAreRecorded(t *testing.T) {
	g := Graph{
		Flow:  models.FlowFinancialReport,
		Entry: "fails",
		Steps: map[models.StepName]StepFunc{
			"fails": func(context.Context, models.ConversationState) (models.StateUpdate, error) {
				return models.StateUpdate{}, errors.New("tool exploded")
			},
			"panics": func(context.Context, models.ConversationState) (models.StateUpdate, error) {
				panic("nil map")
			},
			"last": setArg("done", "yes"),
		},
		Transitions: []Transition{
			{From: "fails", To: "panics"},
			{From: "panics", To: "last"},
		},
	}

	res, err := Run(context.Background(), g, models.ConversationState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, step := range []string{"fails", "panics"} {
		resp, ok := res.State.FlowContext.ToolResults[step]
		if !ok || resp.Status != models.ToolStatusError || resp.Message == "" {
			t.Errorf("step %s: got %+v, want an error response", step, resp)
		}
	}
	if argString(res.State.FlowContext.Arguments, "done") != "yes" {
		t.Error("run did not continue after failures")
	}
	if lastTraceStep(res.Trace) != "last" {
		t.Errorf("trace = %v", res.Trace)
	}
}

func TestRun_StepLimit(t *testing.T) {
	g := Graph{
		Flow:        models.FlowHealthCheck,
		Entry:       "loop",
		Steps:       map[models.StepName]StepFunc{"loop": setArg("x", "y")},
		Transitions: []Transition{{From: "loop", To: "loop"}},
	}
	res, err := Run(context.Background(), g, models.ConversationState{})
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if len(res.Trace) != MaxSteps {
		t.Errorf("trace length = %d, want %d", len(res.Trace), MaxSteps)
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := Graph{
		Flow:  models.FlowHealthCheck,
		Entry: "first",
		Steps: map[models.StepName]StepFunc{
			"first": func(context.Context, models.ConversationState) (models.StateUpdate, error) {
				cancel()
				return models.StateUpdate{}, nil
			},
			"second": setArg("reached", "yes"),
		},
		Transitions: []Transition{{From: "first", To: "second"}},
	}
	res, err := Run(ctx, g, models.ConversationState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if slices.Contains(res.Trace, "second") {
		t.Error("step ran after cancellation")
	}
}

func TestRun_NoTransitionEndsRun(t *testing.T) {
	g := Graph{
		Flow:  models.FlowHealthCheck,
		Entry: "only",
		Steps: map[models.StepName]StepFunc{"only": setArg("a", "b")},
	}
	res, err := Run(context.Background(), g, models.ConversationState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trace) != 1 {
		t.Errorf("trace = %v", res.Trace)
	}
}

func TestGraph_Validate(t *testing.T) {
	g := Graph{
		Entry:       "a",
		Steps:       map[models.StepName]StepFunc{"a": setArg("x", 1)},
		Transitions: []Transition{{From: "a", To: "missing"}},
	}
	if err := g.Validate(); !errors.Is(err, ErrMissingStep) {
		t.Errorf("Validate() = %v, want ErrMissingStep", err)
	}
	g.Entry = "nope"
	if err := g.Validate(); !errors.Is(err, ErrMissingStep) {
		t.Errorf("Validate() = %v, want ErrMissingStep", err)
	}
}

func TestBuiltGraphsAreValid(t *testing.T) {
	deps := testDeps(newFakeGateway())
	for _, g := range []Graph{BuildHealthFlow(deps), BuildFinancialFlow(deps), BuildPerformanceFlow(deps), BuildBriefingFlow(deps)} {
		if err := g.Validate(); err != nil {
			t.Errorf("%s: %v", g.Flow, err)
		}
		if _, ok := g.Steps[models.StepRecovery]; !ok {
			t.Errorf("%s: no recovery step", g.Flow)
		}
	}
}

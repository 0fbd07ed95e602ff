// Package flow runs the fixed per-intent flow graphs that collect arguments,
// call analysis tools, recover from missing data and render narratives.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// MaxSteps bounds how many steps one run may execute.
const MaxSteps = 32

// Runner errors.
var (
	ErrStepLimit   = errors.New("flow exceeded step limit")
	ErrMissingStep = errors.New("flow step not registered")
)

// StepFunc executes one step against the working state and returns its update.
type StepFunc func(ctx context.Context, state models.ConversationState) (models.StateUpdate, error)

// Predicate guards a transition. A nil predicate always holds.
type Predicate func(state models.ConversationState) bool

// Transition moves the runner from one step to the next.
type Transition struct {
	From models.StepName
	When Predicate
	To   models.StepName
}

// Graph is the transition table of one flow.
type Graph struct {
	Flow        models.FlowType
	Entry       models.StepName
	Steps       map[models.StepName]StepFunc
	Transitions []Transition
}

// Validate checks that every referenced step is registered.
func (g Graph) Validate() error {
	if _, ok := g.Steps[g.Entry]; !ok {
		return fmt.Errorf("%w: entry %s", ErrMissingStep, g.Entry)
	}
	for _, t := range g.Transitions {
		if _, ok := g.Steps[t.From]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingStep, t.From)
		}
		if _, ok := g.Steps[t.To]; !ok && t.To != models.StepEnd {
			return fmt.Errorf("%w: %s", ErrMissingStep, t.To)
		}
	}
	return nil
}

// RunResult is the outcome of one run.
type RunResult struct {
	// Update is the composition of every step update, relative to the input state.
	Update models.StateUpdate
	// State is the input state with Update applied.
	State models.ConversationState
	Trace []models.StepName
}

// Run executes g from its entry step until StepEnd. Step errors and panics are
// recorded as error tool responses under the step's name and the run
// continues. Context cancellation is checked between steps and returned.
func Run(ctx context.Context, g Graph, state models.ConversationState) (RunResult, error) {
	working := state
	var combined models.StateUpdate
	trace := make([]models.StepName, 0, 8)

	step := g.Entry
	for step != models.StepEnd {
		if err := ctx.Err(); err != nil {
			slog.Debug("Runner.Run: context done", "flow", g.Flow, "step", step, "error", err)
			return RunResult{Update: combined, State: working, Trace: trace}, err
		}
		if len(trace) >= MaxSteps {
			slog.Error("Runner.Run: step limit reached", "flow", g.Flow, "trace", trace)
			return RunResult{Update: combined, State: working, Trace: trace}, fmt.Errorf("%w: %d steps in %s", ErrStepLimit, MaxSteps, g.Flow)
		}

		fn, ok := g.Steps[step]
		if !ok {
			return RunResult{Update: combined, State: working, Trace: trace}, fmt.Errorf("%w: %s", ErrMissingStep, step)
		}
		trace = append(trace, step)

		upd, err := runStep(ctx, step, fn, working)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return RunResult{Update: combined, State: working, Trace: trace}, ctxErr
			}
			slog.Warn("Runner.Run: step failed, recording error", "flow", g.Flow, "step", step, "error", err)
			upd = models.StateUpdate{Context: models.ContextPatch{
				ToolResults: map[string]models.ToolResponse{string(step): models.ErrorResponse(err.Error())},
			}}
		}
		working = working.Apply(upd)
		combined = combined.Then(upd)

		next := g.next(step, working)
		slog.Debug("Runner.Run: step done", "flow", g.Flow, "step", step, "next", next)
		step = next
	}

	steps := state.FlowStep + len(trace)
	stepUpd := models.StateUpdate{FlowStep: &steps}
	working = working.Apply(stepUpd)
	combined = combined.Then(stepUpd)
	return RunResult{Update: combined, State: working, Trace: trace}, nil
}

// next returns the target of the first transition from step whose predicate holds.
func (g Graph) next(step models.StepName, state models.ConversationState) models.StepName {
	for _, t := range g.Transitions {
		if t.From != step {
			continue
		}
		if t.When == nil || t.When(state) {
			return t.To
		}
	}
	slog.Warn("Runner.Run: no transition matched, ending run", "flow", g.Flow, "step", step)
	return models.StepEnd
}

func runStep(ctx context.Context, name models.StepName, fn StepFunc, state models.ConversationState) (upd models.StateUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Runner.runStep: step panicked", "step", name, "panic", r)
			upd = models.StateUpdate{}
			err = fmt.Errorf("step %s panicked: %v", name, r)
		}
	}()
	return fn(ctx, state)
}

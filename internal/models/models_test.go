package models

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestTurnRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  TurnRequest
		want error
	}{
		{"message only", TurnRequest{Message: "check health"}, nil},
		{"arguments only", TurnRequest{Arguments: map[string]any{"loggerId": "A"}}, nil},
		{"flow only", TurnRequest{Flow: FlowMorningBriefing}, nil},
		{"empty", TurnRequest{}, ErrEmptyMessage},
		{"too long", TurnRequest{Message: strings.Repeat("x", MaxMessageLength+1)}, ErrMessageTooLong},
		{"unknown flow", TurnRequest{Message: "hi", Flow: "weather"}, ErrInvalidFlowType},
		{"bad verbosity", TurnRequest{Message: "hi", Preferences: &NarrativePreferences{Verbosity: "loud"}}, ErrInvalidVerbosity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Success("x"); r.Status != "ok" || r.Result != "x" {
		t.Errorf("Success = %+v", r)
	}
	if r := Pending("waiting", nil); r.Status != "pending" || r.Message != "waiting" {
		t.Errorf("Pending = %+v", r)
	}
	if r := Error("bad"); r.Status != "error" || r.Message != "bad" {
		t.Errorf("Error = %+v", r)
	}
}

func TestDecodeResult(t *testing.T) {
	resp := ToolResponse{
		Status: ToolStatusOK,
		Result: map[string]any{"status": "ok", "energyGenerated": 1250.5, "savings": 250.1},
	}
	report, err := DecodeResult[FinancialReport](resp)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if report.Energy() != 1250.5 || report.Money() != 250.1 {
		t.Errorf("Energy/Money = %v/%v", report.Energy(), report.Money())
	}

	empty, err := DecodeResult[FinancialReport](ErrorResponse("down"))
	if err != nil {
		t.Fatalf("DecodeResult on empty result: %v", err)
	}
	if empty.Energy() != 0 || empty.Money() != 0 {
		t.Error("expected zero values for missing result")
	}
}

func TestNarrativeContextValidate(t *testing.T) {
	for _, c := range []float64{0, 50, 100} {
		if err := (NarrativeContext{DataQuality: DataQuality{Completeness: c}}).Validate(); err != nil {
			t.Errorf("completeness %v: unexpected error %v", c, err)
		}
	}
	for _, c := range []float64{-1, 100.5} {
		err := (NarrativeContext{DataQuality: DataQuality{Completeness: c}}).Validate()
		if !errors.Is(err, ErrInvalidCompleteness) {
			t.Errorf("completeness %v: got %v, want ErrInvalidCompleteness", c, err)
		}
	}
}

func TestApplyDoesNotMutateReceiver(t *testing.T) {
	base := ConversationState{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		FlowContext: FlowContext{
			Arguments:   map[string]any{"loggerId": "A"},
			ToolResults: map[string]ToolResponse{"savings": {Status: ToolStatusOK}},
		},
	}

	next := base.Apply(StateUpdate{
		Messages:   []Message{{Role: RoleAssistant, Content: "hello"}},
		ActiveFlow: Ptr(FlowFinancialReport),
		Context: ContextPatch{
			Arguments:      map[string]any{"period": map[string]any{"start": "2025-01-01"}},
			ToolResults:    map[string]ToolResponse{"forecast": {Status: ToolStatusError}},
			NeedsRecovery:  Ptr(true),
			AvailableRange: &DateRange{Start: "2024-01-01", End: "2024-06-30"},
		},
		PendingUIActions: []UIAction{AcknowledgementAction("ok")},
		RecoveryAttempts: Ptr(1),
	})

	if len(base.Messages) != 1 || len(base.FlowContext.Arguments) != 1 || len(base.FlowContext.ToolResults) != 1 {
		t.Fatal("Apply modified the receiver")
	}
	if len(next.Messages) != 2 || next.ActiveFlow != FlowFinancialReport {
		t.Errorf("messages/flow not applied: %+v", next)
	}
	if next.FlowContext.Arguments["loggerId"] != "A" || next.FlowContext.Arguments["period"] == nil {
		t.Errorf("arguments not merged: %v", next.FlowContext.Arguments)
	}
	if len(next.FlowContext.ToolResults) != 2 || !next.FlowContext.NeedsRecovery {
		t.Errorf("context not applied: %+v", next.FlowContext)
	}
	if next.RecoveryAttempts != 1 || len(next.PendingUIActions) != 1 {
		t.Errorf("counters not applied: %+v", next)
	}

	cleared := next.Apply(StateUpdate{Context: ContextPatch{NeedsRecovery: Ptr(false)}, ClearPending: true})
	if cleared.FlowContext.NeedsRecovery || cleared.FlowContext.AvailableRange != nil {
		t.Error("clearing recovery should drop the available range")
	}
	if len(cleared.PendingUIActions) != 0 {
		t.Error("ClearPending should drop pending actions")
	}
}

func TestResetContextKeepsPreferencesAndHistory(t *testing.T) {
	base := ConversationState{FlowContext: FlowContext{
		Arguments:        map[string]any{"loggerId": "A"},
		Preferences:      NarrativePreferences{Verbosity: VerbosityBrief},
		NarrativeHistory: map[string]NarrativeMemory{"A": {Branch: BranchHealthyAllClear}},
		Health:           &HealthContext{LoggerID: "A"},
	}}

	next := base.Apply(StateUpdate{ResetContext: true})
	if next.FlowContext.Arguments != nil || next.FlowContext.Health != nil {
		t.Errorf("reset kept flow data: %+v", next.FlowContext)
	}
	if next.FlowContext.Preferences.Verbosity != VerbosityBrief || len(next.FlowContext.NarrativeHistory) != 1 {
		t.Errorf("reset dropped preferences/history: %+v", next.FlowContext)
	}
}

func TestStateUpdateThenMatchesSequentialApply(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	base := ConversationState{
		Messages:    []Message{{Role: RoleUser, Content: "hi", Timestamp: now}},
		FlowContext: FlowContext{Arguments: map[string]any{"a": 1}},
	}
	first := StateUpdate{
		ActiveFlow:       Ptr(FlowHealthCheck),
		Context:          ContextPatch{Arguments: map[string]any{"b": 2}, ArgsSatisfied: Ptr(true)},
		PendingUIActions: []UIAction{AcknowledgementAction("one")},
	}
	second := StateUpdate{
		Messages:         []Message{{Role: RoleAssistant, Content: "done", Timestamp: now}},
		FlowStep:         Ptr(3),
		Context:          ContextPatch{ToolResults: map[string]ToolResponse{"health": {Status: ToolStatusOK}}},
		PendingUIActions: []UIAction{AcknowledgementAction("two")},
		RecoveryAttempts: Ptr(0),
	}
	third := StateUpdate{ResetContext: true, Context: ContextPatch{Arguments: map[string]any{"c": 3}}}

	for name, seq := range map[string][]StateUpdate{
		"merge":      {first, second},
		"with reset": {first, second, third},
	} {
		t.Run(name, func(t *testing.T) {
			stepwise := base
			var combined StateUpdate
			for _, u := range seq {
				stepwise = stepwise.Apply(u)
				combined = combined.Then(u)
			}
			if got := base.Apply(combined); !reflect.DeepEqual(got, stepwise) {
				t.Errorf("combined apply mismatch\n got: %+v\nwant: %+v", got, stepwise)
			}
		})
	}
}

func TestBranchClassification(t *testing.T) {
	if len(AllBranches) != 13 {
		t.Fatalf("expected 13 branches, got %d", len(AllBranches))
	}
	for _, b := range AllBranches {
		kinds := 0
		if b.IsHealthy() {
			kinds++
		}
		if b.IsDataQuality() {
			kinds++
		}
		if b.IsActionRequired() {
			kinds++
		}
		if kinds > 1 {
			t.Errorf("branch %s classified more than once", b)
		}
	}
}

package narrative

import (
	"strings"
	"testing"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

func TestSuggestionsLimitAndOrder(t *testing.T) {
	for _, flow := range models.AllFlows {
		for _, branch := range models.AllBranches {
			sc := SuggestionContext{FlowType: flow, Branch: branch, Subject: "925", SpreadPct: 45, BestLogger: "925", WorstLogger: "926"}
			for _, limit := range []int{0, 1, 2, 3, 10} {
				got := Suggestions(sc, limit)
				capN := limit
				if capN <= 0 {
					capN = DefaultMaxSuggestions
				}
				if len(got) > capN {
					t.Fatalf("%s/%s limit %d: got %d suggestions", flow, branch, limit, len(got))
				}
				seen := map[string]bool{}
				for i, s := range got {
					if seen[s.Label] {
						t.Errorf("duplicate label %q", s.Label)
					}
					seen[s.Label] = true
					if i > 0 && got[i-1].Priority.Rank() > s.Priority.Rank() {
						t.Errorf("%s/%s: suggestions out of priority order", flow, branch)
					}
				}
			}
		}
	}
}

func TestSuggestionsLargeGapDiagnosesWorst(t *testing.T) {
	got := Suggestions(SuggestionContext{
		FlowType:    models.FlowPerformanceAudit,
		Branch:      models.BranchComparisonSignificant,
		SpreadPct:   LargeGapSpread,
		BestLogger:  "925",
		WorstLogger: "927",
	}, 3)
	if len(got) == 0 || got[0].Label != "Diagnose 927" || got[0].Priority != models.PriorityUrgent {
		t.Fatalf("expected urgent diagnosis first, got %+v", got)
	}

	small := Suggestions(SuggestionContext{
		FlowType:    models.FlowPerformanceAudit,
		Branch:      models.BranchComparisonConsistent,
		SpreadPct:   4,
		BestLogger:  "925",
		WorstLogger: "927",
	}, 3)
	for _, s := range small {
		if strings.HasPrefix(s.Label, "Diagnose") {
			t.Errorf("unexpected diagnosis for a small gap: %+v", s)
		}
	}
}

func TestSuggestionsCriticalIsUrgent(t *testing.T) {
	got := Suggestions(SuggestionContext{FlowType: models.FlowHealthCheck, Branch: models.BranchCriticalHighSeverity, Subject: "925"}, 3)
	if len(got) == 0 || got[0].Priority != models.PriorityUrgent || got[0].Badge != "Urgent" {
		t.Fatalf("got %+v", got)
	}
	if !strings.Contains(got[0].Action, "925") {
		t.Errorf("action should name the subject: %q", got[0].Action)
	}
}

func TestSuggestionsForecastSkipped(t *testing.T) {
	with := Suggestions(SuggestionContext{FlowType: models.FlowFinancialReport, Branch: models.BranchHealthyAllClear, ForecastAvailable: false}, 5)
	found := false
	for _, s := range with {
		if s.Label == "Forecast production" {
			found = true
		}
	}
	if !found {
		t.Error("expected a forecast suggestion when the forecast was skipped")
	}

	without := Suggestions(SuggestionContext{FlowType: models.FlowFinancialReport, Branch: models.BranchHealthyAllClear, ForecastAvailable: true}, 5)
	for _, s := range without {
		if s.Label == "Forecast production" {
			t.Error("forecast suggestion should be absent when the forecast ran")
		}
	}
}

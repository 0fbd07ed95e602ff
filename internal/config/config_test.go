package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

func writePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	return path
}

func TestLoadPromptPack(t *testing.T) {
	path := writePack(t, `
system_prompt: |
  You explain solar data to homeowners.
branch_templates:
  healthy_all_clear: Confirm all is well in one sentence.
argument_fallbacks:
  single_logger: Which inverter would you like me to check?
  date_range/financial_report: Which stretch of time should the savings cover?
forbidden_terms:
  - endpoint
`)
	pack, err := LoadPromptPack(path)
	if err != nil {
		t.Fatalf("LoadPromptPack: %v", err)
	}
	if !strings.Contains(pack.SystemPrompt, "homeowners") {
		t.Errorf("system prompt = %q", pack.SystemPrompt)
	}
	if pack.BranchTemplates["healthy_all_clear"] == "" {
		t.Error("branch template missing")
	}
	if len(pack.ForbiddenTerms) != 1 {
		t.Errorf("forbidden terms = %v", pack.ForbiddenTerms)
	}

	s, ok := pack.ArgumentFallback(models.ArgDateRange, models.FlowFinancialReport)
	if !ok || !strings.Contains(s, "savings") {
		t.Errorf("scoped fallback = %q, %v", s, ok)
	}
	s, ok = pack.ArgumentFallback(models.ArgSingleLogger, models.FlowHealthCheck)
	if !ok || !strings.Contains(s, "inverter") {
		t.Errorf("type fallback = %q, %v", s, ok)
	}
	if _, ok := pack.ArgumentFallback(models.ArgDate, models.FlowPerformanceAudit); ok {
		t.Error("unexpected fallback for date")
	}
}

func TestLoadPromptPackMissing(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "nope.yaml")} {
		pack, err := LoadPromptPack(path)
		if err != nil {
			t.Fatalf("LoadPromptPack(%q): %v", path, err)
		}
		if pack.SystemPrompt != "" || len(pack.BranchTemplates) != 0 {
			t.Errorf("expected empty pack, got %+v", pack)
		}
	}
}

func TestLoadPromptPackInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "branch_templates: [unterminated", "parse"},
		{"unknown branch", "branch_templates:\n  everything_fine: ok then fine", "unknown branch"},
		{"unknown arg type", "argument_fallbacks:\n  logger: Which device should we use?", "unknown argument type"},
		{"unknown flow", "argument_fallbacks:\n  date/weather: Which day are you curious about?", "unknown flow type"},
		{"too short", "argument_fallbacks:\n  date: Day?", "characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPromptPack(writePack(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNilPackFallback(t *testing.T) {
	var p *PromptPack
	if _, ok := p.ArgumentFallback(models.ArgDate, models.FlowHealthCheck); ok {
		t.Error("nil pack should have no fallbacks")
	}
}

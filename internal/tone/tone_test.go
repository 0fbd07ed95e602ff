package tone

import (
	"strings"
	"testing"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

func TestValidateTags_StripsUnknownTags(t *testing.T) {
	got := ValidateTags([]string{"concise", "UNKNOWN", "formal", "  Technical  ", "injected_tag", "concise"})
	for _, tag := range got {
		if !AllTags[tag] {
			t.Errorf("unexpected tag in cleaned list: %q", tag)
		}
	}
	if len(got) != 3 { // concise, formal, technical
		t.Errorf("expected 3 tags, got %d: %v", len(got), got)
	}
}

func TestValidateTags_MutualExclusion(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"concise", "detailed"}, []string{"concise"}},
		{[]string{"detailed", "concise"}, []string{"detailed"}},
		{[]string{"casual", "formal", "no_emojis", "emojis_ok"}, []string{"casual", "no_emojis"}},
		{[]string{"reassuring", "direct", "plain_language"}, []string{"reassuring", "plain_language"}},
	}
	for _, tt := range tests {
		got := ValidateTags(tt.in)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("ValidateTags(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVerbosityTarget(t *testing.T) {
	brief := VerbosityTarget(models.VerbosityBrief)
	standard := VerbosityTarget(models.VerbosityStandard)
	detailed := VerbosityTarget(models.VerbosityDetailed)

	if !(brief.MaxWords < detailed.MaxWords && brief.MinWords < standard.MinWords) {
		t.Errorf("targets not ordered: %+v %+v %+v", brief, standard, detailed)
	}
	for _, v := range []string{models.VerbosityBrief, models.VerbosityStandard, models.VerbosityDetailed} {
		tgt := VerbosityTarget(v)
		if tgt.MinWords <= 0 || tgt.MinWords >= tgt.MaxWords {
			t.Errorf("%s: invalid target %+v", v, tgt)
		}
	}
	if VerbosityTarget("") != standard || VerbosityTarget("verbose") != standard {
		t.Error("unknown verbosity should default to standard")
	}
}

func TestPersonaPrompt(t *testing.T) {
	if PersonaPrompt(PersonaOwner) == PersonaPrompt(PersonaTechnician) {
		t.Error("personas should differ")
	}
	if PersonaPrompt("pirate") != PersonaPrompt(PersonaAnalyst) {
		t.Error("unknown persona should default to analyst")
	}
	if !IsValidPersona("") || IsValidPersona("pirate") {
		t.Error("IsValidPersona wrong")
	}
}

func TestBuildToneGuide_Empty(t *testing.T) {
	if got := BuildToneGuide(nil); got != "" {
		t.Errorf("expected empty guide, got %q", got)
	}
}

func TestBuildToneGuide_IncludesRules(t *testing.T) {
	guide := BuildToneGuide([]string{"concise", "no_emojis", "direct"})
	for _, want := range []string{"<TONE POLICY>", "Be concise", "Do NOT use emojis", "Be direct", "NEVER invent numbers"} {
		if !strings.Contains(guide, want) {
			t.Errorf("guide missing %q:\n%s", want, guide)
		}
	}
	if strings.Contains(guide, "neutral, professional") {
		t.Error("explicit stance should replace the default stance")
	}
}

func TestBuildToneGuide_DefaultStance(t *testing.T) {
	guide := BuildToneGuide([]string{"formal"})
	if !strings.Contains(guide, "neutral, professional") {
		t.Errorf("expected default stance, got:\n%s", guide)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(models.NarrativePreferences{
		Tone:      []string{"bogus"},
		Verbosity: "chatty",
		Persona:   "pirate",
	})
	if got.Tone != nil || got.Verbosity != "" || got.Persona != "" {
		t.Errorf("Normalize = %+v", got)
	}

	kept := Normalize(models.NarrativePreferences{Tone: []string{"casual"}, Verbosity: models.VerbosityBrief, Persona: PersonaOwner})
	if len(kept.Tone) != 1 || kept.Verbosity != models.VerbosityBrief || kept.Persona != PersonaOwner {
		t.Errorf("Normalize dropped valid values: %+v", kept)
	}
}

func TestTagsSorted(t *testing.T) {
	tags := Tags()
	if len(tags) != len(AllTags) {
		t.Fatalf("got %d tags", len(tags))
	}
	for i := 1; i < len(tags); i++ {
		if tags[i-1] > tags[i] {
			t.Fatalf("tags not sorted: %v", tags)
		}
	}
}

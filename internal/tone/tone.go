// Package tone provides a fixed whitelist of narrative tone tags, validation,
// mutual-exclusion enforcement, verbosity targets, personas and prompt-guide
// construction for generated narratives.
package tone

import (
	"slices"
	"strings"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe tone tags.
var AllTags = map[string]bool{
	// Style
	"concise":       true,
	"detailed":      true,
	"formal":        true,
	"casual":        true,
	"no_emojis":     true,
	"emojis_ok":     true,
	"bullet_points": true,
	// Register
	"plain_language": true,
	"technical":      true,
	// Stance
	"reassuring":           true,
	"neutral_professional": true,
	"direct":               true,
}

// mutuallyExclusivePairs defines tags where at most one may be active.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"plain_language", "technical"},
	{"reassuring", "direct"},
	{"no_emojis", "emojis_ok"},
}

// ValidateTags lowercases, deduplicates and drops unknown tags. When both
// tags of an exclusive pair are present the one listed first by the caller wins.
func ValidateTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if !AllTags[t] || seen[t] {
			continue
		}
		if excluded(t, seen) {
			continue
		}
		cleaned = append(cleaned, t)
		seen[t] = true
	}
	return cleaned
}

func excluded(tag string, active map[string]bool) bool {
	for _, pair := range mutuallyExclusivePairs {
		if pair[0] == tag && active[pair[1]] || pair[1] == tag && active[pair[0]] {
			return true
		}
	}
	return false
}

// ---- Verbosity ----

// Target is the desired word range of a narrative.
type Target struct {
	MinWords int
	MaxWords int
}

var verbosityTargets = map[string]Target{
	models.VerbosityBrief:    {MinWords: 25, MaxWords: 60},
	models.VerbosityStandard: {MinWords: 50, MaxWords: 120},
	models.VerbosityDetailed: {MinWords: 100, MaxWords: 220},
}

// VerbosityTarget returns the word range for verbosity, defaulting to standard.
func VerbosityTarget(verbosity string) Target {
	if t, ok := verbosityTargets[verbosity]; ok {
		return t
	}
	return verbosityTargets[models.VerbosityStandard]
}

// ---- Personas ----

// Persona names.
const (
	PersonaAnalyst    = "analyst"
	PersonaTechnician = "technician"
	PersonaOwner      = "owner"
)

var personaDescriptions = map[string]string{
	PersonaAnalyst:    "You are a solar fleet analyst explaining results to an operations team. Be precise and quantify findings.",
	PersonaTechnician: "You are a field technician's assistant. Focus on what is wrong, where, and what to check first.",
	PersonaOwner:      "You are a friendly energy advisor talking to a solar system owner. Avoid jargon and explain what the numbers mean for them.",
}

// PersonaPrompt returns the system prompt layer for persona, defaulting to the analyst.
func PersonaPrompt(persona string) string {
	if p, ok := personaDescriptions[persona]; ok {
		return p
	}
	return personaDescriptions[PersonaAnalyst]
}

// IsValidPersona reports whether persona is empty or known.
func IsValidPersona(persona string) bool {
	_, ok := personaDescriptions[persona]
	return persona == "" || ok
}

// ---- Prompt guide ----

// BuildToneGuide produces a compact instruction snippet for injection into LLM prompts.
// It returns an empty string when there are no active tags.
func BuildToneGuide(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\nAdapt the explanation to the reader's preferred style:\n")

	// Style rules.
	if set["concise"] {
		b.WriteString("- Be concise: short sentences, minimal filler.\n")
	}
	if set["detailed"] {
		b.WriteString("- Be detailed: provide slightly more explanation, but avoid rambling.\n")
	}
	if set["formal"] {
		b.WriteString("- Use formal diction and professional register.\n")
	}
	if set["casual"] {
		b.WriteString("- Use casual, friendly language.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	}
	if set["bullet_points"] {
		b.WriteString("- Prefer bullet points when listing items.\n")
	}
	if set["plain_language"] {
		b.WriteString("- Use plain language; explain any unit you mention.\n")
	}
	if set["technical"] {
		b.WriteString("- Technical terms are fine; include exact figures and units.\n")
	}

	// Stance rules.
	switch {
	case set["reassuring"]:
		b.WriteString("- Adopt a calm, reassuring stance without hiding problems.\n")
	case set["direct"]:
		b.WriteString("- Be direct: lead with the problem and the action.\n")
	default:
		b.WriteString("- Keep a neutral, professional stance.\n")
	}

	b.WriteString("- NEVER invent numbers that are not in the facts.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}

// Normalize returns prefs with tags validated and unknown verbosity/persona cleared.
func Normalize(prefs models.NarrativePreferences) models.NarrativePreferences {
	out := models.NarrativePreferences{
		Tone:      ValidateTags(prefs.Tone),
		Verbosity: prefs.Verbosity,
		Persona:   prefs.Persona,
	}
	if !models.IsValidVerbosity(out.Verbosity) {
		out.Verbosity = ""
	}
	if !IsValidPersona(out.Persona) {
		out.Persona = ""
	}
	if len(out.Tone) == 0 {
		out.Tone = nil
	}
	return out
}

// Tags returns the sorted list of all whitelisted tags.
func Tags() []string {
	out := make([]string, 0, len(AllTags))
	for t := range AllTags {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

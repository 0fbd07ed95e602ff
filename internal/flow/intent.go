package flow

import (
	"regexp"
	"slices"
	"strings"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// intentKeywords routes a message to a flow. Earlier entries win.
var intentKeywords = []struct {
	flow     models.FlowType
	keywords []string
}{
	{models.FlowPerformanceAudit, []string{"compare", "comparison", "versus", " vs ", "performance", "best performing", "worst performing"}},
	{models.FlowFinancialReport, []string{"saving", "savings", "money", "financial", "revenue", " roi ", "co2", "carbon", "forecast"}},
	{models.FlowMorningBriefing, []string{"briefing", "morning", "overview", "fleet status", "how is my fleet", "summary"}},
	{models.FlowHealthCheck, []string{"health", "anomal", "problem", "issue", "fault", "broken", "offline", "check"}},
}

var (
	// loggerToken matches bare numeric logger ids such as 925 or 1004.
	loggerToken = regexp.MustCompile(`\b\d{3,}\b`)
	dateToken   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	allDevices  = regexp.MustCompile(`\b(all|every|each)\s+(of\s+my\s+)?(devices|loggers|inverters|systems)\b`)
)

// DetectIntent returns the flow a message asks for, or "" when none matches.
func DetectIntent(message string) models.FlowType {
	msg := " " + strings.ToLower(message) + " "
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.flow
			}
		}
	}
	return ""
}

// ExtractPrefill pulls logger ids, ISO dates and the all-devices scope out of
// a message. One date becomes "date"; two or more become a "period".
func ExtractPrefill(message string) map[string]any {
	out := map[string]any{}

	dates := slices.DeleteFunc(dateToken.FindAllString(message, -1), func(d string) bool { return !validDate(d) })
	stripped := dateToken.ReplaceAllString(message, " ")

	var ids []string
	for _, id := range loggerToken.FindAllString(stripped, -1) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		out[models.ArgNameLogger] = ids[0]
		out[models.ArgNameLoggers] = stringsArg(ids)
	}

	switch len(dates) {
	case 0:
	case 1:
		out[models.ArgNameDate] = dates[0]
	default:
		start, end := dates[0], dates[1]
		if end < start {
			start, end = end, start
		}
		out[models.ArgNamePeriod] = rangeArg(models.DateRange{Start: start, End: end})
		out[models.ArgNameDate] = start
	}

	if allDevices.MatchString(strings.ToLower(message)) {
		out[models.ArgNameScope] = models.ScopeAllDevices
	}
	return out
}

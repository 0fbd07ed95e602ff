package flow

import (
	"regexp"
	"slices"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// isoDate matches YYYY-MM-DD.
var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const dateLayout = "2006-01-02"

func validDate(s string) bool {
	if !isoDate.MatchString(s) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// argString reads a string argument.
func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// argStrings reads a list argument that may have round-tripped through JSON.
func argStrings(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// argRange reads a date range stored as {"start", "end"}.
func argRange(args map[string]any, name string) (models.DateRange, bool) {
	switch v := args[name].(type) {
	case map[string]any:
		start, _ := v["start"].(string)
		end, _ := v["end"].(string)
		return models.DateRange{Start: start, End: end}, start != "" || end != ""
	case models.DateRange:
		return v, !v.IsZero()
	case *models.DateRange:
		if v != nil {
			return *v, !v.IsZero()
		}
	}
	return models.DateRange{}, false
}

// rangeArg is the stored form of a date range argument.
func rangeArg(r models.DateRange) map[string]any {
	return map[string]any{"start": r.Start, "end": r.End}
}

// stringsArg is the stored form of a list argument.
func stringsArg(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func optionIDs(options []models.LoggerInfo) []string {
	ids := make([]string, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.LoggerID)
	}
	return ids
}

func findOption(options []models.LoggerInfo, id string) (models.LoggerInfo, bool) {
	for _, o := range options {
		if o.LoggerID == id {
			return o, true
		}
	}
	return models.LoggerInfo{}, false
}

// dataWindow returns the common data window of the given loggers, when known.
func dataWindow(options []models.LoggerInfo, ids []string) (minDate, maxDate string) {
	for _, id := range ids {
		o, ok := findOption(options, id)
		if !ok {
			continue
		}
		first, last := datePart(o.EarliestData), datePart(o.LatestData)
		if first != "" && (minDate == "" || first > minDate) {
			minDate = first
		}
		if last != "" && (maxDate == "" || last < maxDate) {
			maxDate = last
		}
	}
	return minDate, maxDate
}

// datePart trims a timestamp to its date.
func datePart(ts string) string {
	if len(ts) >= len(dateLayout) && validDate(ts[:len(dateLayout)]) {
		return ts[:len(dateLayout)]
	}
	return ""
}

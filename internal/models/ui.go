package models

// SelectionType tells the UI whether one or several options may be picked.
type SelectionType string

const (
	SelectionSingle   SelectionType = "single"
	SelectionMultiple SelectionType = "multiple"
)

// InputType selects the widget used to collect an argument.
type InputType string

const (
	InputDropdown  InputType = "dropdown"
	InputDate      InputType = "date"
	InputDateRange InputType = "date-range"
)

// SelectionOption is one choice offered in a selection request.
type SelectionOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Group    string `json:"group,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}

// SelectionRequest asks the user for a missing argument.
type SelectionRequest struct {
	Prompt        string            `json:"prompt"`
	Options       []SelectionOption `json:"options"`
	SelectionType SelectionType     `json:"selectionType"`
	InputType     InputType         `json:"inputType"`
	MinDate       string            `json:"minDate,omitempty"`
	MaxDate       string            `json:"maxDate,omitempty"`
	FlowHint      string            `json:"flowHint,omitempty"`
	// Argument is the argument name the answer should be stored under.
	Argument string `json:"argument,omitempty"`
	MinCount int    `json:"minCount,omitempty"`
	MaxCount int    `json:"maxCount,omitempty"`
}

// Component is the closed set of UI components the core may emit.
type Component string

const (
	ComponentHealthReport          Component = "HealthReport"
	ComponentFleetHealth           Component = "FleetHealthSummary"
	ComponentFinancialReport       Component = "FinancialReport"
	ComponentPerformanceComparison Component = "PerformanceComparison"
	ComponentMorningBriefing       Component = "MorningBriefing"
	ComponentErrorCard             Component = "ErrorCard"
)

// IsValidComponent reports whether c belongs to the closed component enum.
func IsValidComponent(c Component) bool {
	switch c {
	case ComponentHealthReport, ComponentFleetHealth, ComponentFinancialReport,
		ComponentPerformanceComparison, ComponentMorningBriefing, ComponentErrorCard:
		return true
	default:
		return false
	}
}

// RenderPayload is what crosses into the rendering boundary.
type RenderPayload struct {
	Component   Component      `json:"component"`
	Props       map[string]any `json:"props"`
	Suggestions []Suggestion   `json:"suggestions"`
}

// UIActionType discriminates the pending UI actions of a turn.
type UIActionType string

const (
	UIActionSelection       UIActionType = "selection_request"
	UIActionRender          UIActionType = "render"
	UIActionAcknowledgement UIActionType = "acknowledgement"
)

// UIAction is one UI request surfaced to the user this turn.
type UIAction struct {
	Type      UIActionType      `json:"type"`
	Selection *SelectionRequest `json:"selection,omitempty"`
	Render    *RenderPayload    `json:"render,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// SelectionAction wraps a selection request into a UI action.
func SelectionAction(req SelectionRequest) UIAction {
	return UIAction{Type: UIActionSelection, Selection: &req}
}

// RenderAction wraps a render payload into a UI action.
func RenderAction(p RenderPayload) UIAction {
	return UIAction{Type: UIActionRender, Render: &p}
}

// AcknowledgementAction wraps a short informational message into a UI action.
func AcknowledgementAction(msg string) UIAction {
	return UIAction{Type: UIActionAcknowledgement, Message: msg}
}

package schema

import "fmt"

// DefinitionIssue is one problem found while checking a chart definition.
// Field locates it in the document (states[2].on_enter[0]); State is the
// chart state it concerns, empty for chart-level issues.
type DefinitionIssue struct {
	Field   string `json:"field"`
	State   string `json:"state,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i DefinitionIssue) String() string {
	if i.State == "" {
		return i.Field + ": " + i.Message
	}
	return fmt.Sprintf("%s (state %s): %s", i.Field, i.State, i.Message)
}

// DefinitionReport collects the issues of one chart definition. Errors
// reject the definition; warnings still let it compile.
type DefinitionReport struct {
	Chart    string            `json:"chart"`
	Errors   []DefinitionIssue `json:"errors,omitempty"`
	Warnings []DefinitionIssue `json:"warnings,omitempty"`
}

// NewDefinitionReport creates an empty report for chart.
func NewDefinitionReport(chart string) *DefinitionReport {
	return &DefinitionReport{Chart: chart}
}

// OK reports whether the definition has no errors.
func (r *DefinitionReport) OK() bool {
	return len(r.Errors) == 0
}

// Reject records an error about state, or about the chart when state is "".
func (r *DefinitionReport) Reject(state, field, code, message string) {
	r.Errors = append(r.Errors, DefinitionIssue{Field: field, State: state, Code: code, Message: message})
}

// Warn records a warning about state, or about the chart when state is "".
func (r *DefinitionReport) Warn(state, field, code, message string) {
	r.Warnings = append(r.Warnings, DefinitionIssue{Field: field, State: state, Code: code, Message: message})
}

// Include appends the issues of other.
func (r *DefinitionReport) Include(other *DefinitionReport) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ForState returns the issues concerning state, errors first.
func (r *DefinitionReport) ForState(state string) []DefinitionIssue {
	var out []DefinitionIssue
	for _, list := range [][]DefinitionIssue{r.Errors, r.Warnings} {
		for _, i := range list {
			if i.State == state {
				out = append(out, i)
			}
		}
	}
	return out
}

// Err returns nil for an accepted definition. Otherwise it returns a
// VALIDATION error naming the chart and its first error, with every issue
// in the details.
func (r *DefinitionReport) Err() error {
	if r.OK() {
		return nil
	}
	chart := r.Chart
	if chart == "" {
		chart = "<unnamed>"
	}
	msg := fmt.Sprintf("chart %s rejected: %s", chart, r.Errors[0])
	if n := len(r.Errors); n > 1 {
		msg += fmt.Sprintf(" (and %d more)", n-1)
	}
	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"chart":    r.Chart,
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}

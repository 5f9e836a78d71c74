package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPlan is wrapped by every structural validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Severity represents the severity level of a validation message.
// Errors prevent a session from being created; warnings are advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Message is a single validation issue.
type Message struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// ItemID is empty for plan-level issues.
	ItemID string `json:"item_id,omitempty"`

	// Field names the offending field, e.g. "depends_on" or "priority".
	Field string `json:"field,omitempty"`

	// RelatedIDs lists other item IDs involved in the issue.
	RelatedIDs []string `json:"related_ids,omitempty"`
}

// String formats the message for humans.
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteString(string(m.Severity))
	sb.WriteString(": ")
	if m.ItemID != "" {
		fmt.Fprintf(&sb, "item %q: ", m.ItemID)
	}
	if m.Field != "" {
		fmt.Fprintf(&sb, "%s: ", m.Field)
	}
	sb.WriteString(m.Message)
	return sb.String()
}

// Result collects the validation messages for a plan.
type Result struct {
	Messages     []Message `json:"messages"`
	ErrorCount   int       `json:"error_count"`
	WarningCount int       `json:"warning_count"`
}

// IsValid reports whether the plan has no errors. Warnings are allowed.
func (r *Result) IsValid() bool {
	return r.ErrorCount == 0
}

// Errors returns only the error-severity messages.
func (r *Result) Errors() []Message {
	var out []Message
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			out = append(out, m)
		}
	}
	return out
}

// Warnings returns only the warning-severity messages.
func (r *Result) Warnings() []Message {
	var out []Message
	for _, m := range r.Messages {
		if m.Severity == SeverityWarning {
			out = append(out, m)
		}
	}
	return out
}

func (r *Result) add(m Message) {
	r.Messages = append(r.Messages, m)
	switch m.Severity {
	case SeverityError:
		r.ErrorCount++
	case SeverityWarning:
		r.WarningCount++
	}
}

func (r *Result) errorf(itemID, field, format string, args ...any) {
	r.add(Message{Severity: SeverityError, ItemID: itemID, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(itemID, field, format string, args ...any) {
	r.add(Message{Severity: SeverityWarning, ItemID: itemID, Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidationError is returned when a plan fails structural validation.
// It carries every error found, not just the first.
type ValidationError struct {
	Result *Result
}

func (e *ValidationError) Error() string {
	errs := e.Result.Errors()
	if len(errs) == 1 {
		return fmt.Sprintf("invalid plan: %s", errs[0].String())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid plan: %d validation errors:", len(errs))
	for i, m := range errs {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, m.String())
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPlan
}

// Validate checks the plan's structure: required fields, non-empty
// acceptance criteria, priority range, unique IDs, and that every
// dependency references another item of the same plan. Cycles are
// not detected here; the scheduler reports them.
func Validate(p *WorkPlan) *Result {
	result := &Result{Messages: make([]Message, 0)}

	if p == nil {
		result.errorf("", "", "plan is nil")
		return result
	}

	if strings.TrimSpace(p.Project) == "" {
		result.errorf("", "project", "project name is required")
	}
	if strings.TrimSpace(p.Branch) == "" {
		result.errorf("", "branch", "branch name is required")
	}
	if len(p.Items) == 0 {
		result.errorf("", "items", "plan has no items")
		return result
	}

	ids := make(map[string]int, len(p.Items))
	for _, item := range p.Items {
		if item.ID != "" {
			ids[item.ID]++
		}
	}

	for i, item := range p.Items {
		validateItem(result, i, item, ids)
	}

	return result
}

func validateItem(result *Result, pos int, item WorkItem, ids map[string]int) {
	id := item.ID
	if strings.TrimSpace(id) == "" {
		result.errorf("", "id", "item at position %d has no id", pos+1)
		id = fmt.Sprintf("#%d", pos+1)
	} else if ids[id] > 1 {
		result.errorf(id, "id", "duplicate item id")
	}

	if strings.TrimSpace(item.Title) == "" {
		result.errorf(id, "title", "title is required")
	}
	if strings.TrimSpace(item.Description) == "" {
		result.errorf(id, "description", "description is required")
	}

	criteria := 0
	for _, c := range item.AcceptanceCriteria {
		if strings.TrimSpace(c) != "" {
			criteria++
		}
	}
	if criteria == 0 {
		result.errorf(id, "acceptance_criteria", "at least one acceptance criterion is required")
	}

	if item.Priority < MinPriority || item.Priority > MaxPriority {
		result.errorf(id, "priority", "priority %d is outside %d-%d", item.Priority, MinPriority, MaxPriority)
	}

	if strings.TrimSpace(item.Worker) == "" {
		result.warnf(id, "worker", "no worker assigned; the default worker will be used")
	}

	seen := make(map[string]bool, len(item.DependsOn))
	for _, dep := range item.DependsOn {
		switch {
		case dep == item.ID:
			result.add(Message{
				Severity:   SeverityError,
				ItemID:     id,
				Field:      "depends_on",
				Message:    "item depends on itself",
				RelatedIDs: []string{dep},
			})
		case ids[dep] == 0:
			result.add(Message{
				Severity:   SeverityError,
				ItemID:     id,
				Field:      "depends_on",
				Message:    fmt.Sprintf("depends on unknown item %q", dep),
				RelatedIDs: []string{dep},
			})
		case seen[dep]:
			result.warnf(id, "depends_on", "dependency %q listed more than once", dep)
		}
		seen[dep] = true
	}
}

// Check validates the plan and returns a *ValidationError when it has
// errors, nil otherwise.
func Check(p *WorkPlan) error {
	result := Validate(p)
	if !result.IsValid() {
		return &ValidationError{Result: result}
	}
	return nil
}

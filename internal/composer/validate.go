package composer

import (
	"fmt"
	"strings"
)

// Problem describes one reason a draft cannot be submitted.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a draft.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "composer: draft is invalid"
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "composer: " + strings.Join(parts, "; ")
}

// Validate checks the submission gate: a title is present and every item has a
// name, a non-zero price and a positive quantity.
func Validate(d Draft) error {
	var problems []Problem
	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, Problem{Field: "title", Message: "title is required"})
	}
	if len(d.Items) == 0 {
		problems = append(problems, Problem{Field: "items", Message: "at least one item is required"})
	}
	for i, item := range d.Items {
		prefix := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			problems = append(problems, Problem{Field: prefix + ".name", Message: "name is required"})
		}
		if item.Price.IsEmpty() || item.Price.Decimal().IsZero() {
			problems = append(problems, Problem{Field: prefix + ".price", Message: "price must not be zero"})
		}
		if !item.Qty.Decimal().IsPositive() {
			problems = append(problems, Problem{Field: prefix + ".qty", Message: "qty must be greater than zero"})
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// Submittable reports whether Validate accepts the draft.
func Submittable(d Draft) bool {
	return Validate(d) == nil
}

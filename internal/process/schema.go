package process

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/value"
)

// Field declares one input.
type Field struct {
	Name        string     `json:"name"`
	Kind        value.Kind `json:"kind"`
	Required    bool       `json:"required"`
	Description string     `json:"description,omitempty"`
}

// InputSchema is the declared inputs of a process.
type InputSchema []Field

// Validate checks required fields are present and typed fields match.
// Unknown inputs are allowed. All violations are reported together.
func (s InputSchema) Validate(inputs value.Map) error {
	var errs []error
	for _, f := range s {
		if !inputs.Has(f.Name) {
			if f.Required {
				errs = append(errs, fmt.Errorf("missing required input %q", f.Name))
			}
			continue
		}
		if got := inputs[f.Name].Kind(); f.Kind != "" && got != f.Kind {
			errs = append(errs, fmt.Errorf("input %q must be %s, got %s", f.Name, f.Kind, got))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}

// Field returns the named field.
func (s InputSchema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

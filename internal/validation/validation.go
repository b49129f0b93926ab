// Package validation has the field checks applied to client-supplied
// mutation input before it reaches the store.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + " " + e.Message
}

// Collector accumulates field errors without failing on first.
type Collector struct {
	errors []FieldError
}

// Add appends a field error to the collector if non-nil.
func (c *Collector) Add(err *FieldError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// Err returns a single error describing every accumulated failure, or nil.
func (c *Collector) Err() error {
	if len(c.errors) == 0 {
		return nil
	}
	parts := make([]string, len(c.errors))
	for i, e := range c.errors {
		parts[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// Required fails on empty or whitespace-only values.
func Required(field, value string) *FieldError {
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Message: "is required"}
	}
	return nil
}

// Text runs the checks every free-text field gets: valid UTF-8, no null
// bytes, and a rune-count cap.
func Text(field, value string, max int) *FieldError {
	if !utf8.ValidString(value) {
		return &FieldError{Field: field, Message: "must be valid UTF-8"}
	}
	if strings.Contains(value, "\x00") {
		return &FieldError{Field: field, Message: "must not contain null bytes"}
	}
	if utf8.RuneCountInString(value) > max {
		return &FieldError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

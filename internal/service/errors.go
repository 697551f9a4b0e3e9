package service

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a room, room code or participant row
	// does not exist.
	ErrNotFound = errors.New("service: not found")
	// ErrForbidden is returned when the caller may not act on a room, for
	// example a non-owner trying to edit it.  It carries no detail about
	// who the participants are.
	ErrForbidden = errors.New("service: forbidden")
)

// ValidationError captures field level validation issues.  It is always
// returned before anything has been written.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.  Fields are listed in name order.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v.FieldErrors[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// orNil returns v as an error when it holds issues and nil otherwise.
func (v *ValidationError) orNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

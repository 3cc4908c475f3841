// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	ErrNotFound             = errors.New("resource not found")
	ErrPreconditionFailed   = errors.New("precondition not met")
	ErrValidationFailed     = errors.New("validation failed")
	ErrInvalidRingStructure = errors.New("invalid ring structure")
	ErrRingStatus           = errors.New("ring status cannot be determined")
	ErrRingLocked           = errors.New("ring is locked by another run")
	ErrRingDeactivated      = errors.New("ring is deactivated")
	ErrUnsupported          = errors.New("operation not supported by driver")
	ErrDeviceUnreachable    = errors.New("device unreachable")
	ErrUnknownDriver        = errors.New("unknown device driver")
)

// PreconditionError represents a failed precondition check with context
type PreconditionError struct {
	Operation    string
	Resource     string
	Precondition string
	Details      string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("precondition failed for %s on %s: %s", e.Operation, e.Resource, e.Precondition)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(operation, resource, precondition, details string) *PreconditionError {
	return &PreconditionError{
		Operation:    operation,
		Resource:     resource,
		Precondition: precondition,
		Details:      details,
	}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return NewValidationError(v.errors...)
}

// InvalidRingStructureError reports a ring whose chain or links cannot be
// interpreted: self references, loops, missing head/tail, ambiguous neighbors.
// Device and Neighbor are set when the failure concerns one adjacent pair.
type InvalidRingStructureError struct {
	Ring     string
	Device   string
	Neighbor string
	Reason   string
}

func (e *InvalidRingStructureError) Error() string {
	if e.Device != "" && e.Neighbor != "" {
		return fmt.Sprintf("ring %s: invalid structure between %s and %s: %s", e.Ring, e.Device, e.Neighbor, e.Reason)
	}
	if e.Device != "" {
		return fmt.Sprintf("ring %s: invalid structure at %s: %s", e.Ring, e.Device, e.Reason)
	}
	return fmt.Sprintf("ring %s: invalid structure: %s", e.Ring, e.Reason)
}

func (e *InvalidRingStructureError) Unwrap() error {
	return ErrInvalidRingStructure
}

// NewInvalidRingStructureError creates an InvalidRingStructureError
func NewInvalidRingStructureError(ring, device, neighbor, reason string) *InvalidRingStructureError {
	return &InvalidRingStructureError{
		Ring:     ring,
		Device:   device,
		Neighbor: neighbor,
		Reason:   reason,
	}
}

// RingStatusError reports a hard precondition failure found while evaluating
// live ring state (head or tail unreachable, VLANs missing on head, ...).
type RingStatusError struct {
	Ring   string
	Reason string
}

func (e *RingStatusError) Error() string {
	return fmt.Sprintf("ring %s: %s", e.Ring, e.Reason)
}

func (e *RingStatusError) Unwrap() error {
	return ErrRingStatus
}

// NewRingStatusError creates a RingStatusError
func NewRingStatusError(ring, format string, args ...interface{}) *RingStatusError {
	return &RingStatusError{
		Ring:   ring,
		Reason: fmt.Sprintf(format, args...),
	}
}

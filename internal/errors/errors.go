package appErrors

import (
	"errors"
	"fmt"
)

// ErrClaimLost means the caller no longer owns the assignment claim, or the
// assignment left the active state underneath it. Workers treat it as a no-op.
var ErrClaimLost = errors.New("assignment claim lost")

// ValidationError is returned for malformed input; nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError is returned for unknown (or other-tenant) ids.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Entity, e.ID)
}

// Helper constructors
func NewCampaignNotFound(id int64) error {
	return &NotFoundError{Entity: "campaign", ID: id}
}

func NewAssignmentNotFound(id int64) error {
	return &NotFoundError{Entity: "assignment", ID: id}
}

func NewLeadNotFound(id int64) error {
	return &NotFoundError{Entity: "lead", ID: id}
}

// InvalidTransitionError is a campaign lifecycle change the state machine forbids.
type InvalidTransitionError struct {
	CampaignID int64
	From       string
	To         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign %d cannot go from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(id int64, from, to string) error {
	return &InvalidTransitionError{CampaignID: id, From: from, To: to}
}

// TransientExecutionError is a channel failure worth retrying (timeouts, broker down).
type TransientExecutionError struct {
	Err error
}

func (e *TransientExecutionError) Error() string {
	return "transient execution error: " + e.Err.Error()
}

func (e *TransientExecutionError) Unwrap() error { return e.Err }

func NewTransient(err error) error {
	return &TransientExecutionError{Err: err}
}

// PermanentExecutionError fails the assignment without spending remaining retries.
type PermanentExecutionError struct {
	Reason string
	Err    error
}

func (e *PermanentExecutionError) Error() string {
	if e.Err == nil {
		return "permanent execution error: " + e.Reason
	}
	return fmt.Sprintf("permanent execution error: %s: %v", e.Reason, e.Err)
}

func (e *PermanentExecutionError) Unwrap() error { return e.Err }

func NewPermanent(reason string, err error) error {
	return &PermanentExecutionError{Reason: reason, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentExecutionError
	return errors.As(err, &p)
}

// Package form models the companion editor and the chat box as immutable
// state values driven by pure reducers.
package form

import (
	"context"
	"strings"

	"companionai/pkg/domain"
	"companionai/pkg/validation"
)

// Status is the submission status of a form.
type Status int

const (
	StatusIdle Status = iota
	StatusSubmitting
)

const genericSubmitError = "Something went wrong."

// CompanionState is one snapshot of the companion editor.
type CompanionState struct {
	Values     domain.CompanionInput
	Errors     validation.FieldErrors
	Status     Status
	ExistingID string
	// Err is the visible message of the last failed submission.
	Err   string
	Saved *domain.Companion
	Rules validation.Rules
}

// NewCompanionState builds the initial editor state. A non-nil initial
// companion pre-populates the fields and switches the form to update mode.
func NewCompanionState(initial *domain.Companion, rules validation.Rules) CompanionState {
	s := CompanionState{Rules: rules}
	if initial != nil {
		s.Values = initial.Input()
		s.ExistingID = initial.ID
	}
	return s
}

// Disabled reports whether inputs are locked by an in-flight submission.
func (s CompanionState) Disabled() bool {
	return s.Status == StatusSubmitting
}

// CompanionAction is an event applied by ReduceCompanion.
type CompanionAction interface {
	companionAction()
}

type (
	SetField struct {
		Field string
		Value string
	}
	Submit          struct{}
	SubmitSucceeded struct{ Companion domain.Companion }
	SubmitFailed    struct{ Err error }
)

func (SetField) companionAction()        {}
func (Submit) companionAction()          {}
func (SubmitSucceeded) companionAction() {}
func (SubmitFailed) companionAction()    {}

// ReduceCompanion returns the state that follows s after action. s is never
// modified.
func ReduceCompanion(s CompanionState, action CompanionAction) CompanionState {
	switch a := action.(type) {
	case SetField:
		if s.Disabled() {
			return s
		}
		next := s
		next.Values = setValue(s.Values, a.Field, a.Value)
		if _, ok := s.Errors[a.Field]; ok {
			next.Errors = withoutField(s.Errors, a.Field)
		}
		return next
	case Submit:
		if s.Disabled() {
			return s
		}
		next := s
		values, errs := validation.Validate(s.Values, s.Rules)
		if errs != nil {
			next.Errors = errs
			return next
		}
		next.Values = values
		next.Errors = nil
		next.Err = ""
		next.Status = StatusSubmitting
		return next
	case SubmitSucceeded:
		saved := a.Companion
		next := s
		next.Status = StatusIdle
		next.Saved = &saved
		next.ExistingID = saved.ID
		next.Values = saved.Input()
		next.Err = ""
		return next
	case SubmitFailed:
		next := s
		next.Status = StatusIdle
		next.Err = genericSubmitError
		if a.Err != nil {
			if msg := strings.TrimSpace(a.Err.Error()); msg != "" {
				next.Err = genericSubmitError + " " + msg
			}
		}
		return next
	default:
		return s
	}
}

// CompanionAPI is the persistence side of the editor.
type CompanionAPI interface {
	CreateCompanion(ctx context.Context, in domain.CompanionInput) (domain.Companion, error)
	UpdateCompanion(ctx context.Context, id string, in domain.CompanionInput) (domain.Companion, error)
}

// SubmitCompanion validates s and, when valid, creates or updates the record
// through api. Invalid input and in-flight submissions issue no request.
func SubmitCompanion(ctx context.Context, s CompanionState, api CompanionAPI) CompanionState {
	if s.Disabled() {
		return s
	}
	next := ReduceCompanion(s, Submit{})
	if !next.Disabled() {
		return next
	}
	var (
		saved domain.Companion
		err   error
	)
	if next.ExistingID != "" {
		saved, err = api.UpdateCompanion(ctx, next.ExistingID, next.Values)
	} else {
		saved, err = api.CreateCompanion(ctx, next.Values)
	}
	if err != nil {
		return ReduceCompanion(next, SubmitFailed{Err: err})
	}
	return ReduceCompanion(next, SubmitSucceeded{Companion: saved})
}

func setValue(in domain.CompanionInput, field, value string) domain.CompanionInput {
	switch field {
	case validation.FieldName:
		in.Name = value
	case validation.FieldDescription:
		in.Description = value
	case validation.FieldInstructions:
		in.Instructions = value
	case validation.FieldSeed:
		in.Seed = value
	case validation.FieldSrc:
		in.Src = value
	case validation.FieldCategoryID:
		in.CategoryID = value
	}
	return in
}

func withoutField(errs validation.FieldErrors, field string) validation.FieldErrors {
	out := make(validation.FieldErrors, len(errs))
	for k, v := range errs {
		if k != field {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

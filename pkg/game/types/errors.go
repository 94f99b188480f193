package types

import (
	"errors"
	"fmt"
)

// ValidationError is returned for malformed or missing input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when a game, player, gem or word does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// PhaseError is returned when an action does not fit the current round phase.
// Phase is always set so callers can reconcile.
type PhaseError struct {
	Phase            RoundPhase
	Msg              string
	RemainingSeconds *int
}

func (e *PhaseError) Error() string {
	if e.RemainingSeconds != nil {
		return fmt.Sprintf("%s (phase %s, %ds remaining)", e.Msg, e.Phase, *e.RemainingSeconds)
	}
	return fmt.Sprintf("%s (phase %s)", e.Msg, e.Phase)
}

// AuthorizationError is returned when a non-host attempts a host action.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string {
	return e.Msg
}

// EconomyError is returned when a player cannot pay for an action.
type EconomyError struct {
	Msg      string
	Tokens   int
	Required int
}

func (e *EconomyError) Error() string {
	return e.Msg
}

// DependencyError wraps failures of the store or the AI service.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func NewDependencyError(dependency string, err error) error {
	return &DependencyError{Dependency: dependency, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsPhase(err error) bool {
	var target *PhaseError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsEconomy(err error) bool {
	var target *EconomyError
	return errors.As(err, &target)
}

func IsDependency(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}

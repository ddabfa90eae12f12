// Package domain defines the core types, ports, and errors of the data wrangler.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies the pipeline component that produced an error.
type Stage string

// Error stages.
const (
	StageProfiling      Stage = "profiling"
	StageTransformation Stage = "transformation"
	StageValidation     Stage = "validation"
	StageScoring        Stage = "scoring"
	StageRanking        Stage = "ranking"
	StageOrchestration  Stage = "orchestration"
	StageConfig         Stage = "config"
)

// Sentinel conditions matched with errors.Is.
var (
	ErrNotReversible   = errors.New("transformation is not reversible")
	ErrDependencyCycle = errors.New("dependency cycle")
)

// Error is the single error kind raised by pipeline components. It carries
// the stage that failed and an optional wrapped cause.
type Error struct {
	Stage   Stage
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithCode returns a copy of e tagged with code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// Wrap returns a copy of e wrapping err.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func newError(stage Stage, format string, args ...interface{}) *Error {
	return &Error{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// ErrProfiling creates a profiling-stage Error with a formatted message.
func ErrProfiling(format string, args ...interface{}) *Error {
	return newError(StageProfiling, format, args...)
}

// ErrTransformation creates a transformation-stage Error with a formatted message.
func ErrTransformation(format string, args ...interface{}) *Error {
	return newError(StageTransformation, format, args...)
}

// ErrValidation creates a validation-stage Error with a formatted message.
func ErrValidation(format string, args ...interface{}) *Error {
	return newError(StageValidation, format, args...)
}

// ErrScoring creates a scoring-stage Error with a formatted message.
func ErrScoring(format string, args ...interface{}) *Error {
	return newError(StageScoring, format, args...)
}

// ErrRanking creates a ranking-stage Error with a formatted message.
func ErrRanking(format string, args ...interface{}) *Error {
	return newError(StageRanking, format, args...)
}

// ErrOrchestration creates an orchestration-stage Error with a formatted message.
func ErrOrchestration(format string, args ...interface{}) *Error {
	return newError(StageOrchestration, format, args...)
}

// ErrConfig creates a config-stage Error with a formatted message.
func ErrConfig(format string, args ...interface{}) *Error {
	return newError(StageConfig, format, args...)
}

// DependencyCycleError reports the transformation ids forming a cycle.
type DependencyCycleError struct {
	IDs []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.IDs, " -> "))
}

// Is reports true for ErrDependencyCycle.
func (e *DependencyCycleError) Is(target error) bool { return target == ErrDependencyCycle }

// NotReversibleError reports why a transformation cannot be reversed.
type NotReversibleError struct {
	TransformationID string
	Reason           string
}

func (e *NotReversibleError) Error() string {
	return fmt.Sprintf("transformation %s is not reversible: %s", e.TransformationID, e.Reason)
}

// Is reports true for ErrNotReversible.
func (e *NotReversibleError) Is(target error) bool { return target == ErrNotReversible }

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err indicates the pipeline cannot run at all.
// Configuration errors and dependency cycles are never retried or skipped.
func IsFatal(err error) bool {
	if errors.Is(err, ErrDependencyCycle) {
		return true
	}
	var e *Error
	return errors.As(err, &e) && e.Stage == StageConfig
}

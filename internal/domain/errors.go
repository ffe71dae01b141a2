package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrCategoryNotFound    = errors.New("category not found")
	ErrDefinitionNotFound  = errors.New("achievement definition not found")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrKeyExists           = errors.New("key already exists")
	ErrDuplicateEvent      = errors.New("event already applied")
	ErrStoreConflict       = errors.New("store conflict")
	ErrChainIntegrity      = errors.New("achievement chain integrity violation")
	ErrChainParentInUse    = errors.New("achievement is the parent of another achievement")
	ErrRewardNotAccessible = errors.New("reward not accessible to player")
	ErrUnknownMetric       = errors.New("unknown metric")
	ErrUnknownTrigger      = errors.New("unknown trigger event")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternalError       = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrRewardNotFound)
}

// IsConflictError checks if an error means the write collided with existing state
func IsConflictError(err error) bool {
	return errors.Is(err, ErrKeyExists) ||
		errors.Is(err, ErrChainParentInUse) ||
		errors.Is(err, ErrChainIntegrity)
}

// FieldProblem is a single rejected field.
type FieldProblem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports a schema violation. Values are never coerced;
// the whole write is rejected.
type ValidationError struct {
	Problems []FieldProblem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Field, p.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// IsValidationError checks if err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewValidationError reports a single rejected field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Problems: []FieldProblem{{Field: field, Reason: reason}}}
}

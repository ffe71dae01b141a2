package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// structProblems converts validator tag failures into a ValidationError
func structProblems(v any) *ValidationError {
	ve := &ValidationError{}
	err := validate.Struct(v)
	if err == nil {
		return ve
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		ve.add("request", err.Error())
		return ve
	}
	for _, fe := range fieldErrs {
		ve.add(fieldName(fe.Namespace()), describeTag(fe))
	}
	return ve
}

// fieldName drops the root struct name: "Definition.max_progress" -> "max_progress".
func fieldName(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

// Validate checks a category before it is persisted
func (c Category) Validate() error {
	return structProblems(c).orNil()
}

// Validate checks a definition, its condition included
func (d Definition) Validate() error {
	ve := structProblems(d)
	if err := d.Condition.Validate(); err != nil {
		var cve *ValidationError
		if errors.As(err, &cve) {
			ve.Problems = append(ve.Problems, cve.Problems...)
		}
	}
	if d.ParentID != nil && (*d.ParentID == "" || (d.ID != "" && *d.ParentID == d.ID)) {
		ve.add("parent_id", "must reference another definition")
	}
	if d.Condition.Type == ConditionThreshold && d.IsRepeatable {
		ve.add("is_repeatable", "threshold achievements cannot repeat")
	}
	return ve.orNil()
}

// Validate checks a reward definition
func (r RewardDefinition) Validate() error {
	ve := structProblems(r)
	switch r.Type {
	case RewardTitle:
		if r.DisplayPosition == "" {
			ve.add("display_position", "is required for titles")
		}
	case RewardFrame:
		if r.DisplayPosition != "" {
			ve.add("display_position", "only allowed for titles")
		}
	}
	return ve.orNil()
}

// Validate checks an inbound event
func (e Event) Validate() error {
	ve := structProblems(e)
	seen := make(map[string]struct{}, len(e.Participants))
	for i, p := range e.Participants {
		if _, dup := seen[p.PlayerID]; dup {
			ve.add(fmt.Sprintf("participants[%d].player_id", i), "duplicate participant")
		}
		seen[p.PlayerID] = struct{}{}
		for m := range p.StatDeltas {
			if !m.Valid() {
				ve.add(fmt.Sprintf("participants[%d].stat_deltas", i), fmt.Sprintf("%s %q", ErrUnknownMetric, m))
			}
		}
	}
	return ve.orNil()
}

package validation

import (
	"strings"

	"github.com/kbukum/rediskit/errors"
)

// FieldError is one failed rule, keyed by its config path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Validator accumulates field errors for rules that struct tags cannot express.
type Validator struct {
	fields []FieldError
}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) AddError(field, message string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool {
	return len(v.fields) > 0
}

func (v *Validator) Errors() []FieldError {
	return v.fields
}

// Custom records message against field unless ok holds.
func (v *Validator) Custom(ok bool, field, message string) *Validator {
	if !ok {
		v.AddError(field, message)
	}
	return v
}

// Merge folds the result of a nested Validate into v, prefixing field
// paths with prefix. An error without field details is kept whole.
func (v *Validator) Merge(prefix string, err error) *Validator {
	if err == nil {
		return v
	}
	if appErr, ok := errors.AsAppError(err); ok {
		if nested, ok := appErr.Details["fields"].([]FieldError); ok {
			for _, f := range nested {
				v.AddError(join(prefix, f.Field), f.Message)
			}
			return v
		}
	}
	v.AddError(prefix, err.Error())
	return v
}

// Validate returns nil, or an INVALID_CONFIG error listing every field
// error under the "fields" detail.
func (v *Validator) Validate() error {
	if len(v.fields) == 0 {
		return nil
	}
	parts := make([]string, 0, len(v.fields))
	for _, f := range v.fields {
		parts = append(parts, f.String())
	}
	return errors.Validation(strings.Join(parts, "; ")).WithDetail("fields", v.fields)
}

func join(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	}
	return prefix + "." + field
}

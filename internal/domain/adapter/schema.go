package adapter

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
)

// Result is the outcome of validating options against a schema
type Result struct {
	OK     bool
	Fields []script.FieldError
}

// Err converts an invalid result into a *script.ValidationError
func (r Result) Err(subject string) error {
	if r.OK {
		return nil
	}
	return &script.ValidationError{Subject: subject, Fields: r.Fields}
}

// Validate checks opts against the definition's schema
func (d *Definition[T]) Validate(opts Options) Result {
	return ValidateOptions(d.validate, opts, d.rules)
}

// ValidateOptions evaluates validator rules against opts
func ValidateOptions(v *validator.Validate, opts Options, rules map[string]interface{}) Result {
	if len(rules) == 0 {
		return Result{OK: true}
	}
	fields := flatten("", v.ValidateMap(opts, rules))
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return Result{OK: len(fields) == 0, Fields: fields}
}

func flatten(prefix string, errs map[string]interface{}) []script.FieldError {
	var out []script.FieldError
	for field, v := range errs {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}
		switch e := v.(type) {
		case validator.ValidationErrors:
			for _, fe := range e {
				out = append(out, script.FieldError{
					Field:   name,
					Tag:     fe.Tag(),
					Param:   fe.Param(),
					Message: message(fe.Tag(), fe.Param()),
				})
			}
		case map[string]interface{}:
			out = append(out, flatten(name, e)...)
		case error:
			out = append(out, script.FieldError{Field: name, Tag: "invalid", Message: e.Error()})
		}
	}
	return out
}

func message(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", param)
	case "startswith":
		return fmt.Sprintf("must start with %q", param)
	}
	if param != "" {
		return fmt.Sprintf("must satisfy %s=%s", tag, param)
	}
	return fmt.Sprintf("must be a valid %s", tag)
}

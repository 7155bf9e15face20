package tasks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	// Use JSON field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toValidationError converts validator errors into a *ValidationError. field
// names the value when err comes from Var.
func toValidationError(err error, field string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		name := fe.Field()
		if name == "" {
			name = field
		}
		out.Fields[name] = message(name, fe)
	}
	return out
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank":
		return fmt.Sprintf("%s must not be empty", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func (s *Service) validateCreate(in CreateInput) error {
	if err := s.validate.Struct(in); err != nil {
		return toValidationError(err, "")
	}
	return nil
}

// patchFrom validates an update and turns it into a store patch.
func (s *Service) patchFrom(in UpdateInput) (Patch, error) {
	var p Patch
	if in.Title.Set {
		if in.Title.Null {
			return Patch{}, invalid("title", "title must not be null")
		}
		if err := s.validate.Var(in.Title.Value, "notblank,max=500"); err != nil {
			return Patch{}, toValidationError(err, "title")
		}
		p.Title = in.Title.Ptr()
	}
	if in.Description.Set {
		if !in.Description.Null {
			if err := s.validate.Var(in.Description.Value, "max=5000"); err != nil {
				return Patch{}, toValidationError(err, "description")
			}
		}
		p.Description = in.Description
	}
	if in.Completed.Set {
		if in.Completed.Null {
			return Patch{}, invalid("completed", "completed must not be null")
		}
		p.Completed = in.Completed.Ptr()
	}
	return p, nil
}

func orderFrom(sort string) (Order, error) {
	switch sort {
	case "":
		return Order{Field: SortCreatedAt}, nil
	case SortCreatedAt, SortTitle, SortCompleted:
		return Order{Field: sort}, nil
	}
	return Order{}, invalid("sort", fmt.Sprintf("sort must be one of %s, %s, %s", SortCreatedAt, SortTitle, SortCompleted))
}

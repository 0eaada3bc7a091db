package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fdiPattern accepts permanent (11-48) and primary (51-85) teeth in FDI notation.
var fdiPattern = regexp.MustCompile(`^(?:[1-4][1-8]|[5-8][1-5])$`)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

type validatorImpl struct {
	v *validator.Validate
}

// New returns a struct validator with the clinic-specific tags registered.
func New() Validator {
	v := validator.New()
	Register(v)
	return &validatorImpl{v: v}
}

// Register installs the custom tags and json field naming on an existing engine,
// such as the one gin binding uses.
func Register(v *validator.Validate) {
	_ = v.RegisterValidation("fdi", func(fl validator.FieldLevel) bool {
		return IsFDI(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// IsFDI reports whether s is a valid FDI tooth number.
func IsFDI(s string) bool {
	return fdiPattern.MatchString(s)
}

func (v *validatorImpl) Validate(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}
	if errs, ok := err.(validator.ValidationErrors); ok {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, describe(e))
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return err
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param())
	case "datetime":
		return fmt.Sprintf("%s must match layout %s", e.Field(), e.Param())
	case "fdi":
		return fmt.Sprintf("%s must be an FDI tooth number, got %q", e.Field(), e.Value())
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", e.Field(), e.Tag(), e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag())
	}
}

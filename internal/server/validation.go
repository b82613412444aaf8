package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/timesync/internal/duration"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
)

var validatorOnce sync.Once

// setupValidator registers the custom tags on gin's shared validator and
// reports field errors under their json names.
func setupValidator() {
	validatorOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true

		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
		_ = v.RegisterValidation("billing_line", func(fl validator.FieldLevel) bool {
			return usagereportdomain.ValidateBillingLineID(strings.TrimSpace(fl.Field().String())) == nil
		})
		_ = v.RegisterValidation("clock_time", func(fl validator.FieldLevel) bool {
			_, err := duration.ParseClockTime(fl.Field().String())
			return err == nil
		})
	})
}

// bindError keeps validator failures field-scoped; anything else is a
// malformed body.
func bindError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ErrRequestTooLarge
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return invalidRequestError()
}

func translateFieldErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		code := fieldErrorCode(e)
		message := validationMessage(code)
		if code == "too_long" {
			message = "must be at most " + e.Param() + " characters"
		}
		out = append(out, ValidationError{
			Field:   e.Field(),
			Code:    code,
			Message: message,
		})
	}
	return out
}

func fieldErrorCode(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "required"
	case "billing_line":
		return usagereportdomain.ErrInvalidBillingLine.Error()
	case "clock_time":
		return duration.ErrInvalidClockTime.Error()
	case "datetime":
		return duration.ErrInvalidDate.Error()
	case "max":
		return "too_long"
	default:
		return "invalid_" + e.Field()
	}
}

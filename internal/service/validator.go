package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// ValidateOptions tunes the record validator.
type ValidateOptions struct {
	ValidateEmails bool
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "normalized_phone" {
			// reported against the column the operator supplied
			return "phone_number"
		}
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateRecord returns every field-level problem of rec. An empty slice
// means the record may be persisted.
func ValidateRecord(rec model.ContactRecord, opts ValidateOptions) []model.FieldError {
	errs := []model.FieldError{}

	if err := validate.Struct(rec); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fieldError(fe))
			}
		} else {
			errs = append(errs, model.FieldError{Code: model.InvalidValue, Message: err.Error()})
		}
	}

	if opts.ValidateEmails && rec.Email != "" && !validEmail(rec.Email) {
		errs = append(errs, model.FieldError{
			Field:   "email",
			Code:    model.InvalidFormat,
			Message: fmt.Sprintf("%q is not a valid email address", rec.Email),
		})
	}
	return errs
}

func fieldError(fe validator.FieldError) model.FieldError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return model.FieldError{Field: field, Code: model.MissingField, Message: field + " is required"}
	case "max":
		return model.FieldError{Field: field, Code: model.FieldTooLong, Message: field + " must be at most " + fe.Param() + " characters"}
	case "oneof":
		return model.FieldError{Field: field, Code: model.InvalidValue, Message: field + " must be one of " + fe.Param()}
	}
	return model.FieldError{Field: field, Code: model.InvalidValue, Message: field + " is invalid"}
}

// validEmail accepts local@domain.tld.
func validEmail(email string) bool {
	if err := checkmail.ValidateFormat(email); err != nil {
		return false
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

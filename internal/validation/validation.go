package validation

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ]{7,16}$`)

var phone validator.Func = func(fl validator.FieldLevel) bool {
	return phoneRe.MatchString(strings.TrimSpace(fl.Field().String()))
}

var timeslot validator.Func = func(fl validator.FieldLevel) bool {
	return domain.ValidTimeSlot(fl.Field().String())
}

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", phone)
	_ = v.RegisterValidation("timeslot", timeslot)
	return &Validator{v: v}
}

// Struct validates s and returns an error marked as domain.ErrValidation
// naming the first offending fields.
func (v *Validator) Struct(s interface{}) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Mark(err, domain.ErrValidation)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return domain.Validationf("%s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "uuid":
		return fe.Field() + " must be a UUID"
	case "email":
		return fe.Field() + " must be a valid email"
	case "phone":
		return fe.Field() + " must be a valid phone number"
	case "timeslot":
		return fe.Field() + " must be HH:MM"
	}
	return fe.Field() + " is invalid (" + fe.Tag() + ")"
}

package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	Validate   *validator.Validate
	Translator ut.Translator

	// custom validation tags & texts
	refTag   = "ref"
	refText  = "{0} may only contain letters, digits, '-', '_', '.' and '/'"
	refRegex = regexp.MustCompile(`^[\w\-./]+$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "{0} is required"
)

// Instantiate the validator for use.
func init() {
	Validate = validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	Translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(Validate, Translator)

	// Use JSON tag names for errors instead of Go struct names.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// money fields are validated with the numeric tags (gt, gte, lte...)
	Validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	// register custom validators
	_ = Validate.RegisterValidation(refTag, refValidation)
	RegisterCustomTranslation(refTag, refText)

	RegisterCustomTranslation(requiredTag, requiredText, true)
	RegisterCustomTranslation(requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = Validate.RegisterTranslation(
		tag, Translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// CheckStruct validates s and converts validator errors into a ValidationError with translated fields.
func CheckStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field: strings.TrimPrefix(fe.Namespace(), reflect.TypeOf(s).Name()+"."),
			Error: fe.Translate(Translator),
		})
	}
	return NewValidationError(errors.New("invalid input"), fields...)
}

// CheckVar validates a single value against tag, reporting failures under field.
func CheckVar(field string, value interface{}, tag string) error {
	err := Validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg := strings.TrimSpace(fe.Translate(Translator))
		fields = append(fields, FieldError{Field: field, Error: field + " " + msg})
	}
	return NewValidationError(errors.New("invalid input"), fields...)
}

// Custom Global Validators

// refValidation only allows characters usable in opaque external references (class, period, student...).
func refValidation(fl validator.FieldLevel) bool {
	return refRegex.MatchString(fl.Field().String())
}

func decimalValue(v reflect.Value) interface{} {
	if d, ok := v.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

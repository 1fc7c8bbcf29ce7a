package utils

import (
	"errors"
	"reflect"
	"strings"

	"schoolreg/apperrors"
	"schoolreg/models"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/gofiber/fiber/v2"
)

var (
	Validate   *validator.Validate
	Translator ut.Translator

	// custom validation tags
	notBlankTag  = "notblank"
	staffRoleTag = "staff_role"
)

// Instantiate the validator for use.
func init() {
	Validate = validator.New()

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
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})

	_ = Validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = Validate.RegisterValidation(staffRoleTag, staffRoleValidation)
	registerCustomValidationsTranslations(notBlankTag, staffRoleTag)
}

// a noop register func is passed because the default translations are already registered.
func registerCustomValidationsTranslations(tags ...string) {
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range tags {
		_ = Validate.RegisterTranslation(tag, Translator, registerFn, translateCustomValidationErrs)
	}
}

func translateCustomValidationErrs(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return fe.Field() + " cannot be blank"
	case staffRoleTag:
		return fe.Field() + " must be one of Admin, Deputy Admin, Assistant Admin, Instructor"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func staffRoleValidation(fl validator.FieldLevel) bool {
	return IsValidStaffRole(fl.Field().String())
}

// ValidateStruct runs the validator and turns failures into a ValidationError with per-field details.
func ValidateStruct(v interface{}) error {
	err := Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("%s", err.Error())
	}
	fields := make([]apperrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperrors.FieldError{Field: fe.Field(), Error: fe.Translate(Translator)})
	}
	return apperrors.ValidationFields(fields[0].Error, fields)
}

// BindAndValidate parses the request body into v and validates it.
func BindAndValidate(c *fiber.Ctx, v interface{}) error {
	if err := c.BodyParser(v); err != nil {
		return apperrors.Validation("Invalid request body")
	}
	return ValidateStruct(v)
}

// IsValidStaffRole checks if a role belongs to a staff login account
func IsValidStaffRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RoleDeputyAdmin, models.RoleAssistantAdmin, models.RoleInstructor:
		return true
	}
	return false
}

package metadata

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/pkg/types"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// V returns the shared validator instance with the metadata validators
// registered.
func V() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("logicalNameValidator", logicalNameValidator)
		validate.RegisterValidation("fieldTypeValidator", fieldTypeValidator)
		validate.RegisterValidation("formTypeValidator", formTypeValidator)
	})
	return validate
}

const logicalNameRegex = `^[a-z][a-z0-9_]*$`
const logicalNameMaxLength = 128

var logicalNameRe = regexp.MustCompile(logicalNameRegex)

// logicalNameValidator checks that the name follows the logical-name
// convention: lowercase snake_case starting with a letter.
func logicalNameValidator(fl validator.FieldLevel) bool {
	return ValidateLogicalName(fl.Field().String())
}

// ValidateLogicalName reports whether the name is a valid logical name.
func ValidateLogicalName(name string) bool {
	if len(name) > logicalNameMaxLength {
		return false
	}
	return logicalNameRe.MatchString(name)
}

func fieldTypeValidator(fl validator.FieldLevel) bool {
	return types.FieldType(fl.Field().String()).IsValid()
}

func formTypeValidator(fl validator.FieldLevel) bool {
	return types.FormType(fl.Field().String()).IsValid()
}

// validateStruct runs the struct validators and folds failures into a single
// validation error listing the offending fields.
func validateStruct(v any) apperrors.Error {
	err := V().Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ErrInvalidDefinition.Err(err)
	}
	var parts []string
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			parts = append(parts, e.Namespace()+": missing required attribute")
		case "logicalNameValidator":
			parts = append(parts, e.Namespace()+": invalid name format")
		case "fieldTypeValidator":
			parts = append(parts, e.Namespace()+": unknown field type")
		case "formTypeValidator":
			parts = append(parts, e.Namespace()+": unknown form type")
		default:
			parts = append(parts, e.Namespace()+": validation failed")
		}
	}
	return ErrInvalidDefinition.Msg(strings.Join(parts, "; "))
}

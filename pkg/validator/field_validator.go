package validator

import (
	"fmt"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// Format names a syntax check applied to a non-empty field value.
type Format string

const (
	FormatNone  Format = ""
	FormatEmail Format = "email"
)

// FieldDefinition describes how one canonical field is validated.
type FieldDefinition struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Format   Format `json:"format,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// FieldValidator checks normalized string fields against their definitions.
type FieldValidator struct {
	validate *playground.Validate
}

// NewFieldValidator creates a new field validator
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{validate: playground.New(playground.WithRequiredStructEnabled())}
}

// ValidateFields validates values in definition order, so the same input always
// yields the same error list.
func (fv *FieldValidator) ValidateFields(values map[string]string, definitions []FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	for _, def := range definitions {
		value := strings.TrimSpace(values[def.Name])

		if value == "" {
			if def.Required {
				result.IsValid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   def.Name,
					Message: fmt.Sprintf("%s is required", def.Name),
				})
			}
			continue
		}

		if err := fv.checkFormat(value, def.Format); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   def.Name,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	return result
}

// IsEmail reports whether value is a syntactically valid email address.
func (fv *FieldValidator) IsEmail(value string) bool {
	return fv.checkFormat(strings.TrimSpace(value), FormatEmail) == nil
}

func (fv *FieldValidator) checkFormat(value string, format Format) error {
	switch format {
	case FormatNone:
		return nil
	case FormatEmail:
		if err := fv.validate.Var(value, "required,email"); err != nil {
			return fmt.Errorf("invalid email address %q", value)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

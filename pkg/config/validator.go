package config

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var sqlIdentifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("sql_identifier", validateSQLIdentifier)
}

// validateSQLIdentifier accepts empty values; use `required` to demand one.
func validateSQLIdentifier(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return sqlIdentifierPattern.MatchString(value)
}

package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidatorErrorToUser turns validator errors into a sentence a client can show.
func ValidatorErrorToUser(err validator.ValidationErrors) string {
	var errorMessages []string
	for _, err := range err {
		switch err.Tag() {
		case "required":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is required", err.Field()))
		case "email":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is not a valid email", err.Field()))
		case "oneof":
			errorMessages = append(errorMessages, fmt.Sprintf("%s must be one of %s", err.Field(), err.Param()))
		case "eq":
			errorMessages = append(errorMessages, fmt.Sprintf("%s must be %s", err.Field(), err.Param()))
		case "max":
			errorMessages = append(errorMessages, fmt.Sprintf("%s exceeds maximum of %s", err.Field(), err.Param()))
		default:
			errorMessages = append(errorMessages, fmt.Sprintf("validation failed on field %s", err.Field()))
		}
	}
	return strings.Join(errorMessages, ". ")
}

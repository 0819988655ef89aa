package services

import (
	"strings"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/req"
)

// validateInput проверяет теги validate и сворачивает результат в ValidationError.
func validateInput[T any](in T) error {
	fields, err := req.IsValid(in)
	if err != nil {
		return domain.NewValidationError("%v", err)
	}
	var verrs domain.ValidationErrors
	for _, f := range fields {
		verrs.Add(f.Field, f.Message)
	}
	return verrs.Err()
}

func requiredID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.NewValidationError("%s is required", field)
	}
	return nil
}

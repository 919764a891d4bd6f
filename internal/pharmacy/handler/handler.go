package handler

import (
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

func validationError(field, message string) error {
	return errors.Validation(map[string]string{field: message})
}

package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Serialization failure (40001) and lock not available (55P03):
	// the caller may retry the whole unit of work.
	case "40001", "55P03":
		return errors.RetryableConflict("concurrent update conflict, retry the operation")

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "existencia_no_negativa"):
		return errors.Conflict("stock on hand cannot go negative")

	case strings.Contains(constraint, "cantidad_positiva"):
		return errors.Validation(map[string]string{
			"cantidad": "must be a positive integer",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "medicamento_lote"):
		return "a lot with this medication and lot code already exists"
	case strings.Contains(constraint, "folio_institucion"):
		return "an entrada with this folio already exists for the institution"
	case strings.Contains(constraint, "clave"):
		return "a medication with this clave already exists"
	case strings.Contains(constraint, "curp"):
		return "a patient with this CURP already exists"
	default:
		return "a record with these values already exists"
	}
}

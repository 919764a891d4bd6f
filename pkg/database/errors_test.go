package database

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

func TestMapPQError_NonPQErrorPassesThrough(t *testing.T) {
	assert.Nil(t, MapPQError(fmt.Errorf("plain error")))
	assert.Nil(t, MapPQError(nil))
}

func TestMapPQError_UniqueViolations(t *testing.T) {
	tests := []struct {
		constraint string
		message    string
	}{
		{"lotes_medicamento_lote_unico", "a lot with this medication and lot code already exists"},
		{"entradas_folio_institucion_unico", "an entrada with this folio already exists for the institution"},
		{"medicamentos_clave_unica", "a medication with this clave already exists"},
		{"pacientes_curp_unico", "a patient with this CURP already exists"},
		{"something_else", "a record with these values already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			appErr := MapPQError(&pq.Error{Code: "23505", Constraint: tt.constraint})
			require.NotNil(t, appErr)
			assert.True(t, errors.Is(appErr, errors.ErrConflict))
			assert.Equal(t, http.StatusConflict, appErr.StatusCode)
			assert.Equal(t, tt.message, appErr.Message)
			assert.False(t, appErr.Retryable)
		})
	}
}

func TestMapPQError_CheckConstraints(t *testing.T) {
	appErr := MapPQError(&pq.Error{Code: "23514", Constraint: "lotes_existencia_no_negativa"})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrConflict))
	assert.Equal(t, "stock on hand cannot go negative", appErr.Message)

	appErr = MapPQError(&pq.Error{Code: "23514", Constraint: "detalles_cantidad_positiva"})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrValidation))
	assert.Equal(t, "must be a positive integer", appErr.Details["cantidad"])
}

func TestMapPQError_RetryableConflicts(t *testing.T) {
	for _, code := range []string{"40001", "55P03"} {
		appErr := MapPQError(&pq.Error{Code: pq.ErrorCode(code)})
		require.NotNil(t, appErr, "code %s", code)
		assert.True(t, errors.Is(appErr, errors.ErrConflict))
		assert.True(t, appErr.Retryable, "code %s should be retryable", code)
	}
}

func TestMapPQError_ForeignKeyAndNotNull(t *testing.T) {
	appErr := MapPQError(&pq.Error{Code: "23503"})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrBadRequest))

	appErr = MapPQError(&pq.Error{Code: "23502", Column: "caducidad"})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrValidation))
	assert.Equal(t, "must not be empty", appErr.Details["caducidad"])
}

func TestMapPQError_UnknownCodeReturnsNil(t *testing.T) {
	assert.Nil(t, MapPQError(&pq.Error{Code: "42P01"}))
}

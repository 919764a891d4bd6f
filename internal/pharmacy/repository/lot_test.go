package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/testutil"
)

func lotTestColumns() []string {
	return []string{"id", "medicamento_id", "lote_codigo", "caducidad", "existencia", "presentacion_id", "cpm", "alerta_enviada", "created_at", "updated_at"}
}

func newLotRepo(t *testing.T) (*LotRepository, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	db := database.FromSqlx(mockDB.DB, logger.New("pharmacy-service-test", "test"))
	return NewLotRepository(db), mockDB
}

func TestUpsertReceipt_ReportsInsertedVsIncremented(t *testing.T) {
	repo, mockDB := newLotRepo(t)
	defer mockDB.Close()

	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"
	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"
	expiry := time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery("INSERT INTO lotes").
		WithArgs(medID, "L001", expiry, 10, nil).
		WillReturnRows(testutil.MockRows(append(lotTestColumns(), "inserted")...).
			AddRow(lotID, medID, "L001", expiry, 10, nil, 0, false, time.Now(), time.Now(), true))

	lot, created, err := repo.UpsertReceipt(context.Background(), mockDB.DB, medID, "L001", 10, expiry, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 10, lot.Existencia)

	// second receipt for the same key converts to an increment
	mockDB.Mock.ExpectQuery("INSERT INTO lotes").
		WithArgs(medID, "L001", expiry, 5, nil).
		WillReturnRows(testutil.MockRows(append(lotTestColumns(), "inserted")...).
			AddRow(lotID, medID, "L001", expiry, 15, nil, 0, false, time.Now(), time.Now(), false))

	lot, created, err = repo.UpsertReceipt(context.Background(), mockDB.DB, medID, "L001", 5, expiry, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 15, lot.Existencia)

	mockDB.ExpectationsWereMet(t)
}

func TestUpsertReceipt_RejectsNonPositiveQuantity(t *testing.T) {
	repo, mockDB := newLotRepo(t)
	defer mockDB.Close()

	for _, qty := range []int{0, -5} {
		_, _, err := repo.UpsertReceipt(context.Background(), mockDB.DB, "m1", "L001", qty, time.Now(), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	}

	mockDB.ExpectationsWereMet(t)
}

func TestDecrement_InsufficientStockDetails(t *testing.T) {
	repo, mockDB := newLotRepo(t)
	defer mockDB.Close()

	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"
	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"

	// the guarded UPDATE misses, the re-read under lock shows 3 on hand
	mockDB.Mock.ExpectQuery("UPDATE lotes").
		WithArgs(lotID, 10).
		WillReturnError(sql.ErrNoRows)
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id = .+ FOR UPDATE").
		WithArgs(lotID).
		WillReturnRows(testutil.MockRows(lotTestColumns()...).
			AddRow(lotID, medID, "L001", time.Now().AddDate(1, 0, 0), 3, nil, 0, false, time.Now(), time.Now()))

	lot, err := repo.Decrement(context.Background(), mockDB.DB, lotID, 10)
	require.Error(t, err)
	assert.Nil(t, lot)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "10", appErr.Details["requested"])
	assert.Equal(t, "3", appErr.Details["available"])

	mockDB.ExpectationsWereMet(t)
}

func TestDecrement_MissingLotIsNotFound(t *testing.T) {
	repo, mockDB := newLotRepo(t)
	defer mockDB.Close()

	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"

	mockDB.Mock.ExpectQuery("UPDATE lotes").
		WithArgs(lotID, 1).
		WillReturnError(sql.ErrNoRows)
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id = .+ FOR UPDATE").
		WithArgs(lotID).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Decrement(context.Background(), mockDB.DB, lotID, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestDecrement_SufficientStock(t *testing.T) {
	repo, mockDB := newLotRepo(t)
	defer mockDB.Close()

	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"
	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"

	mockDB.Mock.ExpectQuery("UPDATE lotes").
		WithArgs(lotID, 10).
		WillReturnRows(testutil.MockRows(lotTestColumns()...).
			AddRow(lotID, medID, "L001", time.Now().AddDate(1, 0, 0), 40, nil, 0, false, time.Now(), time.Now()))

	lot, err := repo.Decrement(context.Background(), mockDB.DB, lotID, 10)
	require.NoError(t, err)
	assert.Equal(t, 40, lot.Existencia)

	mockDB.ExpectationsWereMet(t)
}

func TestDelete_RefusesLotWithStock(t *testing.T) {
	repo, mockDB := newLotRepo(t)
	defer mockDB.Close()

	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"
	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"

	mockDB.Mock.ExpectExec("DELETE FROM lotes").
		WithArgs(lotID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id").
		WithArgs(lotID).
		WillReturnRows(testutil.MockRows(lotTestColumns()...).
			AddRow(lotID, medID, "L001", time.Now().AddDate(1, 0, 0), 7, nil, 0, false, time.Now(), time.Now()))

	err := repo.Delete(context.Background(), lotID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	mockDB.ExpectationsWereMet(t)
}

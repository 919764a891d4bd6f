package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
	"github.com/farmatrack/farmatrack-backend/pkg/testutil"
)

func TestFormatEntradaFolio(t *testing.T) {
	assert.Equal(t, "ENT-20260829-0007", FormatEntradaFolio("ENT-20260829-", 7))
	assert.Equal(t, "ENT-20260829-0001", FormatEntradaFolio("ENT-20260829-", 1))
	// padding stretches past four digits instead of truncating
	assert.Equal(t, "ENT-20260829-12345", FormatEntradaFolio("ENT-20260829-", 12345))
}

func newReceivingHarness(t *testing.T) (*ReceivingService, *testutil.MockDB, *testutil.MockPublisher) {
	mockDB := testutil.NewMockDB(t)
	db := database.FromSqlx(mockDB.DB, testLogger())

	mockPub := testutil.NewMockPublisher()
	publisher := events.NewPharmacyEventPublisherWith(mockPub, testLogger())

	lots := repository.NewLotRepository(db)
	profiles := repository.NewConsumptionProfileRepository(db)
	medications := repository.NewMedicationRepository(db)
	presentations := repository.NewPresentationRepository(db)
	entradas := repository.NewEntradaRepository(db)
	alerts := repository.NewAlertLogRepository(db)

	monitor := NewStockMonitor(lots, profiles, testLogger())
	ledger := NewLotLedger(db, lots, monitor, testLogger())
	notifier := NewAlertNotifier(alerts, medications, publisher, testLogger())

	svc := NewReceivingService(db, entradas, medications, presentations, ledger, notifier, publisher, testLogger())
	return svc, mockDB, mockPub
}

func medicationColumns() []string {
	return []string{"id", "clave", "descripcion", "precio", "codigo_barras", "proveedor_id", "presentacion_id", "activo", "created_at", "updated_at"}
}

func TestCommitReceiving_BoxConversionAndAutoFolio(t *testing.T) {
	svc, mockDB, mockPub := newReceivingHarness(t)
	defer mockDB.Close()

	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"
	presID := "7c0a1df1-27d2-4a3e-9e94-1f1d9a3c55aa"
	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"
	almacenID := "11111111-1111-4111-8111-111111111111"
	institucionID := "22222222-2222-4222-8222-222222222222"

	in := CommitReceivingInput{
		Fecha:         "2026-08-29",
		TipoEntrada:   "compra",
		AlmacenID:     almacenID,
		InstitucionID: institucionID,
		Detalles: []ReceivingLineInput{
			{
				MedicamentoID:  medID,
				Lote:           "CAJA01",
				Caducidad:      "2028-01-31",
				Cantidad:       5,
				PrecioUnitario: decimal.NewFromFloat(120.50),
				PresentacionID: &presID,
			},
		},
	}

	mockDB.ExpectBegin()
	// no folio for today yet
	mockDB.Mock.ExpectQuery("SELECT MAX").
		WithArgs(institucionID, fmt.Sprintf("ENT-%s-", time.Now().Format("20060102"))).
		WillReturnRows(testutil.MockRows("max").AddRow(nil))
	mockDB.Mock.ExpectQuery("INSERT INTO entradas").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM medicamentos WHERE id").
		WithArgs(medID).
		WillReturnRows(testutil.MockRows(medicationColumns()...).
			AddRow(medID, "CLAVE001", "PARACETAMOL 500MG TABLETAS", "12.50", nil, nil, nil, true, time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM presentaciones WHERE id").
		WithArgs(presID).
		WillReturnRows(testutil.MockRows("id", "nombre", "piezas_por_caja", "activo", "created_at", "updated_at").
			AddRow(presID, "CAJA C/12", 12, true, time.Now(), time.Now()))
	// 5 boxes of 12 credit 60 atomic units
	mockDB.Mock.ExpectQuery("INSERT INTO lotes").
		WithArgs(medID, "CAJA01", testutil.AnyTime{}, 60, presID).
		WillReturnRows(testutil.MockRows("id", "medicamento_id", "lote_codigo", "caducidad", "existencia", "presentacion_id", "cpm", "alerta_enviada", "created_at", "updated_at", "inserted").
			AddRow(lotID, medID, "CAJA01", time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC), 60, presID, 0, false, time.Now(), time.Now(), true))
	mockDB.Mock.ExpectQuery("SELECT cpm FROM perfiles_consumo").
		WillReturnError(sql.ErrNoRows)
	mockDB.Mock.ExpectQuery("INSERT INTO detalles_entrada").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	result, err := svc.CommitReceiving(context.Background(), in)
	require.NoError(t, err)

	wantFolio := FormatEntradaFolio(fmt.Sprintf("ENT-%s-", time.Now().Format("20060102")), 1)
	assert.Equal(t, wantFolio, result.Folio)
	assert.Equal(t, 1, result.Lines)
	assert.Equal(t, 60, result.TotalUnits)

	mockPub.AssertEventPublished(t, messaging.EventStockReceived)
	mockDB.ExpectationsWereMet(t)
}

func TestCommitReceiving_MissingMedicationRollsBack(t *testing.T) {
	svc, mockDB, mockPub := newReceivingHarness(t)
	defer mockDB.Close()

	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"

	in := CommitReceivingInput{
		Folio:         "ENT-20260829-0100",
		Fecha:         "2026-08-29",
		TipoEntrada:   "compra",
		AlmacenID:     "11111111-1111-4111-8111-111111111111",
		InstitucionID: "22222222-2222-4222-8222-222222222222",
		Detalles: []ReceivingLineInput{
			{MedicamentoID: medID, Lote: "L001", Caducidad: "2028-01-31", Cantidad: 10},
		},
	}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("INSERT INTO entradas").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM medicamentos WHERE id").
		WithArgs(medID).
		WillReturnError(sql.ErrNoRows)
	mockDB.ExpectRollback()

	result, err := svc.CommitReceiving(context.Background(), in)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockPub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestCommitReceiving_BadDateRejectedBeforeTransaction(t *testing.T) {
	svc, mockDB, mockPub := newReceivingHarness(t)
	defer mockDB.Close()

	in := CommitReceivingInput{
		Fecha:         "29/08/2026",
		TipoEntrada:   "compra",
		AlmacenID:     "11111111-1111-4111-8111-111111111111",
		InstitucionID: "22222222-2222-4222-8222-222222222222",
		Detalles: []ReceivingLineInput{
			{MedicamentoID: "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de", Caducidad: "2028-01-31", Cantidad: 1},
		},
	}

	_, err := svc.CommitReceiving(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	mockPub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

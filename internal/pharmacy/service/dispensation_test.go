package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
	"github.com/farmatrack/farmatrack-backend/pkg/testutil"
)

func TestFormatSalidaFolio(t *testing.T) {
	now := time.Unix(1756400000, 0)
	folio := FormatSalidaFolio("9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de", now)
	assert.Equal(t, "SAL-MULTI-9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de-1756400000", folio)
}

func newDispensationHarness(t *testing.T) (*DispensationService, *testutil.MockDB, *testutil.MockPublisher) {
	mockDB := testutil.NewMockDB(t)
	db := database.FromSqlx(mockDB.DB, testLogger())

	mockPub := testutil.NewMockPublisher()
	publisher := events.NewPharmacyEventPublisherWith(mockPub, testLogger())

	lots := repository.NewLotRepository(db)
	profiles := repository.NewConsumptionProfileRepository(db)
	medications := repository.NewMedicationRepository(db)
	patients := repository.NewPatientRepository(db)
	recetas := repository.NewRecetaRepository(db)
	alerts := repository.NewAlertLogRepository(db)

	monitor := NewStockMonitor(lots, profiles, testLogger())
	ledger := NewLotLedger(db, lots, monitor, testLogger())
	notifier := NewAlertNotifier(alerts, medications, publisher, testLogger())

	svc := NewDispensationService(db, patients, recetas, lots, ledger, notifier, publisher, testLogger())
	return svc, mockDB, mockPub
}

func patientColumns() []string {
	return []string{"id", "nombre", "fecha_nacimiento", "curp", "created_at", "updated_at"}
}

func lotColumns() []string {
	return []string{"id", "medicamento_id", "lote_codigo", "caducidad", "existencia", "presentacion_id", "cpm", "alerta_enviada", "created_at", "updated_at"}
}

func TestCommitDispensation_InsufficientLineRollsBackEverything(t *testing.T) {
	svc, mockDB, mockPub := newDispensationHarness(t)
	defer mockDB.Close()

	patientID := "5b1a7c52-0f44-4b5a-b0a2-0db9a1b1c0aa"
	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"
	lotA := "aaaaaaaa-1111-4111-8111-111111111111"
	lotB := "bbbbbbbb-2222-4222-8222-222222222222"
	lotC := "cccccccc-3333-4333-8333-333333333333"

	// Lines arrive out of order; locks are taken in sorted lot-ID order.
	in := CommitDispensationInput{
		Paciente: PatientInput{
			Nombre:          "JUAN PEREZ",
			FechaNacimiento: "1980-01-01",
			CURP:            "pemj800101hdfrrn09",
		},
		Origen: "receta",
		Lineas: []DispensationLineInput{
			{LoteID: lotB, Cantidad: 3},
			{LoteID: lotC, Cantidad: 10},
			{LoteID: lotA, Cantidad: 1},
		},
	}

	caducidad := time.Now().AddDate(1, 0, 0)

	mockDB.ExpectBegin()
	// CURP is trimmed and uppercased before the upsert
	mockDB.Mock.ExpectQuery("INSERT INTO pacientes").
		WithArgs("JUAN PEREZ", testutil.AnyTime{}, "PEMJ800101HDFRRN09").
		WillReturnRows(testutil.MockRows(patientColumns()...).
			AddRow(patientID, "JUAN PEREZ", time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), "PEMJ800101HDFRRN09", time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id = .+ FOR UPDATE").
		WithArgs(lotA).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow(lotA, medID, "L00A", caducidad, 50, nil, 0, false, time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id = .+ FOR UPDATE").
		WithArgs(lotB).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow(lotB, medID, "L00B", caducidad, 50, nil, 0, false, time.Now(), time.Now()))
	// the third locked lot cannot cover its line, nothing was written yet
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id = .+ FOR UPDATE").
		WithArgs(lotC).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow(lotC, medID, "L00C", caducidad, 2, nil, 0, false, time.Now(), time.Now()))
	mockDB.ExpectRollback()

	result, err := svc.CommitDispensation(context.Background(), in)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "10", appErr.Details["requested"])
	assert.Equal(t, "2", appErr.Details["available"])
	assert.Equal(t, "L00C", appErr.Details["lot"])

	mockPub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestCommitDispensation_CurplessPatientCreatedAndLotDepleted(t *testing.T) {
	svc, mockDB, mockPub := newDispensationHarness(t)
	defer mockDB.Close()

	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"
	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"

	in := CommitDispensationInput{
		Paciente: PatientInput{
			Nombre:          "MARIA LOPEZ",
			FechaNacimiento: "1990-06-15",
		},
		Origen: "receta",
		Lineas: []DispensationLineInput{
			{LoteID: lotID, Cantidad: 4},
		},
	}

	caducidad := time.Now().AddDate(1, 0, 0)

	mockDB.ExpectBegin()
	// no CURP: exact (name, birthdate) lookup misses, so a new record is created
	mockDB.Mock.ExpectQuery("SELECT \\* FROM pacientes").
		WithArgs("MARIA LOPEZ", testutil.AnyTime{}).
		WillReturnError(sql.ErrNoRows)
	mockDB.Mock.ExpectQuery("INSERT INTO pacientes").
		WithArgs(testutil.AnyUUID{}, "MARIA LOPEZ", testutil.AnyTime{}, nil).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM lotes WHERE id = .+ FOR UPDATE").
		WithArgs(lotID).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow(lotID, medID, "L001", caducidad, 4, nil, 0, false, time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO recetas").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO recetas_medicamentos").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	// last 4 units leave the lot
	mockDB.Mock.ExpectQuery("UPDATE lotes").
		WithArgs(lotID, 4).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow(lotID, medID, "L001", caducidad, 0, nil, 0, false, time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT cpm FROM perfiles_consumo").
		WillReturnError(sql.ErrNoRows)
	mockDB.ExpectCommit()

	result, err := svc.CommitDispensation(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Folio, "SAL-MULTI-"))
	assert.Equal(t, 1, result.Lines)
	assert.Equal(t, 4, result.TotalUnits)
	assert.NotEmpty(t, result.PacienteID)

	mockPub.AssertEventPublished(t, messaging.EventStockDispensed)
	mockPub.AssertEventPublished(t, messaging.EventLotDepleted)
	mockDB.ExpectationsWereMet(t)
}

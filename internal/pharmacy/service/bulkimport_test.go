package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
	"github.com/farmatrack/farmatrack-backend/pkg/testutil"
)

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format("02/01/2006")
}

func validRow(fila int) ImportRow {
	return ImportRow{
		RowNumber:   fila,
		Clave:       "CLAVE001",
		Descripcion: "PARACETAMOL 500MG TABLETAS",
		Lote:        "L001",
		Cantidad:    "10",
		Precio:      "12.50",
		Caducidad:   futureDate(400),
	}
}

func TestValidateImportRow_ShortClave(t *testing.T) {
	row := validRow(3)
	row.Clave = "AB"

	clean, errs, _ := validateImportRow(row, time.Now())
	assert.Nil(t, clean)
	require.Len(t, errs, 1)
	assert.Equal(t, 3, errs[0].Fila)
	assert.Equal(t, "clave", errs[0].Campo)
	assert.Equal(t, "clave muy corta", errs[0].Mensaje)
}

func TestValidateImportRow_CollectsAllFieldErrors(t *testing.T) {
	row := ImportRow{
		RowNumber:   7,
		Clave:       "",
		Descripcion: "XY",
		Lote:        "",
		Cantidad:    "-4",
		Precio:      "-1",
		Caducidad:   "not-a-date",
	}

	clean, errs, _ := validateImportRow(row, time.Now())
	assert.Nil(t, clean)

	fields := make(map[string]bool)
	for _, e := range errs {
		assert.Equal(t, 7, e.Fila)
		fields[e.Campo] = true
	}
	for _, campo := range []string{"clave", "lote", "descripcion", "cantidad", "precio", "caducidad"} {
		assert.True(t, fields[campo], "expected error for %s", campo)
	}
}

func TestValidateImportRow_PastAndTodayExpiryRejected(t *testing.T) {
	row := validRow(2)
	row.Caducidad = time.Now().Format("02/01/2006") // today does not qualify

	clean, errs, _ := validateImportRow(row, time.Now())
	assert.Nil(t, clean)
	require.Len(t, errs, 1)
	assert.Equal(t, "caducidad", errs[0].Campo)
}

func TestValidateImportRow_NearExpiryWarns(t *testing.T) {
	row := validRow(2)
	row.Caducidad = futureDate(90)

	clean, errs, warnings := validateImportRow(row, time.Now())
	require.Empty(t, errs)
	require.NotNil(t, clean)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "caducidad_proxima")
	assert.Contains(t, warnings[0], "fila 2")
}

func TestValidateImportRow_NormalizesClave(t *testing.T) {
	row := validRow(2)
	row.Clave = "  clave001 "

	clean, errs, _ := validateImportRow(row, time.Now())
	require.Empty(t, errs)
	assert.Equal(t, "CLAVE001", clean.clave)
}

func TestParseImportDate_AcceptedFormats(t *testing.T) {
	want := time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, value := range []string{
		"15/03/2027",
		"2027-03-15",
		"15-03-2027",
		"2027/03/15",
		"15/03/27",
		"15032027",
	} {
		got, err := ParseImportDate(value)
		require.NoError(t, err, "format %q", value)
		assert.Equal(t, want.Year(), got.Year(), "format %q", value)
		assert.Equal(t, want.Month(), got.Month(), "format %q", value)
		assert.Equal(t, want.Day(), got.Day(), "format %q", value)
	}

	_, err := ParseImportDate("15.03.2027")
	assert.Error(t, err)
}

func TestSimilarityRatio(t *testing.T) {
	assert.InDelta(t, 1.0, SimilarityRatio("CLAVE001", "CLAVE001"), 0.001)
	// dots and spaces are stripped before comparing
	assert.InDelta(t, 1.0, SimilarityRatio("CLAVE.001", "CLAVE 001"), 0.001)
	// 7 of 8 positions match
	assert.InDelta(t, 0.875, SimilarityRatio("CLAVE001", "CLAVE002"), 0.001)
	assert.InDelta(t, 0, SimilarityRatio("", "CLAVE001"), 0.001)
}

func TestSimilarClaveWarnings(t *testing.T) {
	rows := []ImportRow{
		{Clave: "CLAVE001"},
		{Clave: "CLAVE002"}, // 0.875 similar to CLAVE001
		{Clave: "ZZZZZ999"}, // unrelated
	}

	warnings := similarClaveWarnings(rows)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "CLAVE001")
	assert.Contains(t, warnings[0], "CLAVE002")
}

func newImportHarness(t *testing.T) (*BulkImportService, *testutil.MockDB, *testutil.MockPublisher) {
	mockDB := testutil.NewMockDB(t)
	db := database.FromSqlx(mockDB.DB, testLogger())

	mockPub := testutil.NewMockPublisher()
	publisher := events.NewPharmacyEventPublisherWith(mockPub, testLogger())

	lots := repository.NewLotRepository(db)
	profiles := repository.NewConsumptionProfileRepository(db)
	medications := repository.NewMedicationRepository(db)
	presentations := repository.NewPresentationRepository(db)
	alerts := repository.NewAlertLogRepository(db)

	monitor := NewStockMonitor(lots, profiles, testLogger())
	ledger := NewLotLedger(db, lots, monitor, testLogger())
	notifier := NewAlertNotifier(alerts, medications, publisher, testLogger())

	svc := NewBulkImportService(db, medications, presentations, ledger, notifier, publisher, testLogger())
	return svc, mockDB, mockPub
}

func TestImportRows_DuplicateLotQuantitiesSummed(t *testing.T) {
	svc, mockDB, mockPub := newImportHarness(t)
	defer mockDB.Close()

	caducidad := futureDate(400)
	rows := []ImportRow{
		{RowNumber: 2, Clave: "CLAVE001", Descripcion: "PARACETAMOL 500MG TABLETAS", Lote: "L001", Cantidad: "10", Precio: "12.50", Caducidad: caducidad},
		{RowNumber: 3, Clave: "CLAVE001", Descripcion: "PARACETAMOL 500MG TABLETAS", Lote: "L001", Cantidad: "15", Precio: "12.50", Caducidad: caducidad},
	}

	presID := "7c0a1df1-27d2-4a3e-9e94-1f1d9a3c55aa"
	lotID := "2f3d1f9a-68a4-4a14-9f58-8f9a5a3f1a01"
	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"

	mockDB.ExpectBegin()
	// no medication with this clave yet
	mockDB.Mock.ExpectQuery("SELECT \\* FROM medicamentos WHERE clave IN").
		WillReturnRows(testutil.MockRows("id", "clave", "descripcion", "precio", "codigo_barras", "proveedor_id", "presentacion_id", "activo", "created_at", "updated_at"))
	// default presentation find-or-create
	mockDB.Mock.ExpectQuery("INSERT INTO presentaciones").
		WillReturnRows(testutil.MockRows("id", "nombre", "piezas_por_caja", "activo", "created_at", "updated_at").
			AddRow(presID, "UNIDAD", 1, true, time.Now(), time.Now()))
	// medication created from the first occurrence
	mockDB.Mock.ExpectQuery("INSERT INTO medicamentos").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	// one lot upsert with the summed quantity 25
	mockDB.Mock.ExpectQuery("INSERT INTO lotes").
		WithArgs(testutil.AnyUUID{}, "L001", testutil.AnyTime{}, 25, testutil.AnyUUID{}).
		WillReturnRows(testutil.MockRows("id", "medicamento_id", "lote_codigo", "caducidad", "existencia", "presentacion_id", "cpm", "alerta_enviada", "created_at", "updated_at", "inserted").
			AddRow(lotID, medID, "L001", time.Now().AddDate(1, 0, 0), 25, presID, 0, false, time.Now(), time.Now(), true))
	// untracked medication, no profile row
	mockDB.Mock.ExpectQuery("SELECT cpm FROM perfiles_consumo").
		WillReturnError(sql.ErrNoRows)
	mockDB.ExpectCommit()

	result, err := svc.ImportRows(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Exitosos)
	assert.Equal(t, 0, result.Actualizados)
	assert.Empty(t, result.Errores)

	var dupWarning string
	for _, w := range result.Advertencias {
		if len(w) >= len("lote_duplicado") && w[:len("lote_duplicado")] == "lote_duplicado" {
			dupWarning = w
		}
	}
	require.NotEmpty(t, dupWarning, "expected a lote_duplicado warning")
	assert.Contains(t, dupWarning, "2")
	assert.Contains(t, dupWarning, "3")

	mockPub.AssertEventPublished(t, messaging.EventImportCommitted)
	mockDB.ExpectationsWereMet(t)
}

func TestImportRows_InvalidRowDoesNotAffectOthers(t *testing.T) {
	svc, mockDB, _ := newImportHarness(t)
	defer mockDB.Close()

	caducidad := futureDate(400)
	rows := []ImportRow{
		{RowNumber: 2, Clave: "AB", Descripcion: "REJECTED ROW DESCRIPTION", Lote: "L001", Cantidad: "10", Precio: "1", Caducidad: caducidad},
		{RowNumber: 3, Clave: "CLAVE777", Descripcion: "IBUPROFENO 400MG TABLETAS", Lote: "L002", Cantidad: "5", Precio: "8.00", Caducidad: caducidad},
	}

	presID := "7c0a1df1-27d2-4a3e-9e94-1f1d9a3c55aa"
	medID := "9a1a7c52-0f44-4b5a-b0a2-0db9a1b1c0de"

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT \\* FROM medicamentos WHERE clave IN").
		WillReturnRows(testutil.MockRows("id", "clave", "descripcion", "precio", "codigo_barras", "proveedor_id", "presentacion_id", "activo", "created_at", "updated_at"))
	mockDB.Mock.ExpectQuery("INSERT INTO presentaciones").
		WillReturnRows(testutil.MockRows("id", "nombre", "piezas_por_caja", "activo", "created_at", "updated_at").
			AddRow(presID, "UNIDAD", 1, true, time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO medicamentos").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO lotes").
		WithArgs(testutil.AnyUUID{}, "L002", testutil.AnyTime{}, 5, testutil.AnyUUID{}).
		WillReturnRows(testutil.MockRows("id", "medicamento_id", "lote_codigo", "caducidad", "existencia", "presentacion_id", "cpm", "alerta_enviada", "created_at", "updated_at", "inserted").
			AddRow("3a3d1f9a-68a4-4a14-9f58-8f9a5a3f1a02", medID, "L002", time.Now().AddDate(1, 0, 0), 5, presID, 0, false, time.Now(), time.Now(), true))
	mockDB.Mock.ExpectQuery("SELECT cpm FROM perfiles_consumo").
		WillReturnError(sql.ErrNoRows)
	mockDB.ExpectCommit()

	result, err := svc.ImportRows(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Exitosos)
	require.Len(t, result.Errores, 1)
	assert.Equal(t, 2, result.Errores[0].Fila)
	assert.Equal(t, "clave muy corta", result.Errores[0].Mensaje)

	mockDB.ExpectationsWereMet(t)
}

func TestImportRows_AllRowsInvalidSkipsTransaction(t *testing.T) {
	svc, mockDB, mockPub := newImportHarness(t)
	defer mockDB.Close()

	rows := []ImportRow{
		{RowNumber: 2, Clave: "AB", Descripcion: "X", Lote: "", Cantidad: "x", Precio: "x", Caducidad: "x"},
	}

	result, err := svc.ImportRows(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Exitosos)
	assert.NotEmpty(t, result.Errores)

	mockPub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestJoinInts(t *testing.T) {
	assert.Equal(t, "2, 3, 9", joinInts([]int{2, 3, 9}))
	assert.Equal(t, "", joinInts(nil))
	// guard against format drift in warnings
	assert.Equal(t, fmt.Sprintf("%d", 4), joinInts([]int{4}))
}

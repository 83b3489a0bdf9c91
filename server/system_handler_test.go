package server

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcsms/internal"
	"evcsms/models"
	"evcsms/ocpp/core"
	"evcsms/rfid"
	"evcsms/types"
)

type stopRecord struct {
	chargerId string
	id        int
	meterStop int
	reason    string
}

type errorRecord struct {
	chargerId string
	status    string
	errorCode string
}

type fakeDatabase struct {
	mux    sync.Mutex
	starts []int
	stops  []stopRecord
	meters []models.MeterRecord
	faults []errorRecord
}

func (f *fakeDatabase) WriteLogMessage(internal.Data) error { return nil }

func (f *fakeDatabase) RecordTransactionStart(chargerId string, transactionId int, startTime time.Time, idTag string, meterStart int) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.starts = append(f.starts, transactionId)
	return nil
}

func (f *fakeDatabase) RecordTransactionStop(chargerId string, transactionId int, stopTime time.Time, meterStop int, reason string) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.stops = append(f.stops, stopRecord{chargerId, transactionId, meterStop, reason})
	return nil
}

func (f *fakeDatabase) RecordMeterValue(chargerId string, transactionId int, sample models.MeterRecord) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.meters = append(f.meters, sample)
	return nil
}

func (f *fakeDatabase) RecordError(chargerId string, status string, errorCode string, info string) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.faults = append(f.faults, errorRecord{chargerId, status, errorCode})
	return nil
}

func (f *fakeDatabase) GetSummary() ([]models.SummaryRow, error) { return nil, nil }

type staticAuthorizer rfid.Decision

func (a staticAuthorizer) Authorize(string) rfid.Decision { return rfid.Decision(a) }

func newTestHandler(t *testing.T, db *fakeDatabase, decision rfid.Decision) *SystemHandler {
	t.Helper()
	handler := NewSystemHandler(t.TempDir())
	handler.SetDatabase(db)
	handler.SetAuthorizer(staticAuthorizer(decision))
	return handler
}

func meterValuesRequest(value string, unit types.UnitOfMeasure) *core.MeterValuesRequest {
	return &core.MeterValuesRequest{
		ConnectorId: 1,
		MeterValue: []types.MeterValue{{
			Timestamp: types.NewDateTime(time.Now().UTC()),
			SampledValue: []types.SampledValue{{
				Value:     value,
				Context:   types.ReadingContextSamplePeriodic,
				Measurand: types.MeasurandEnergyActiveImportRegister,
				Unit:      unit,
			}},
		}},
	}
}

func TestBootNotificationAccepted(t *testing.T) {
	handler := newTestHandler(t, &fakeDatabase{}, rfid.DecisionAccepted)
	response, err := handler.OnBootNotification("cp1", &core.BootNotificationRequest{
		ChargePointVendor: "v",
		ChargePointModel:  "m",
	})
	require.NoError(t, err)
	assert.Equal(t, core.RegistrationStatusAccepted, response.Status)
	assert.Equal(t, 300, response.Interval)
	assert.False(t, response.CurrentTime.IsZero())
}

func TestChargingSession(t *testing.T) {
	db := &fakeDatabase{}
	handler := newTestHandler(t, db, rfid.DecisionAccepted)

	auth, err := handler.OnAuthorize("cp1", &core.AuthorizeRequest{IdTag: "TAG-1"})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusAccepted, auth.IdTagInfo.Status)

	started, err := handler.OnStartTransaction("cp1", &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  10000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusAccepted, started.IdTagInfo.Status)
	assert.Greater(t, started.TransactionId, 0)
	require.Len(t, db.starts, 1)

	// 10000 Wh and 10500 Wh, reduced to kWh on the way in
	_, err = handler.OnMeterValues("cp1", meterValuesRequest("10000", types.UnitOfMeasureWh))
	require.NoError(t, err)
	_, err = handler.OnMeterValues("cp1", meterValuesRequest("10500", types.UnitOfMeasureWh))
	require.NoError(t, err)
	require.Len(t, db.meters, 2)
	assert.InDelta(t, 10.0, db.meters[0].Value, 0.0001)
	assert.InDelta(t, 10.5, db.meters[1].Value, 0.0001)
	assert.Equal(t, "kWh", db.meters[0].Unit)

	stopped, err := handler.OnStopTransaction("cp1", &core.StopTransactionRequest{
		IdTag:         "TAG-1",
		MeterStop:     10500,
		TransactionId: started.TransactionId,
	})
	require.NoError(t, err)
	require.NotNil(t, stopped.IdTagInfo)
	assert.Equal(t, types.AuthorizationStatusAccepted, stopped.IdTagInfo.Status)

	require.Len(t, db.stops, 1)
	assert.Equal(t, started.TransactionId, db.stops[0].id)
	assert.Equal(t, 10500, db.stops[0].meterStop)
	assert.Equal(t, "Local", db.stops[0].reason)

	rows := handler.GetChargerStatus()
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.5, rows[0].PowerConsumed, 0.0001)

	snapshot := filepath.Join(handler.location, "cp1_"+strconv.Itoa(started.TransactionId)+".dat")
	_, err = os.Stat(snapshot)
	assert.NoError(t, err)
}

func TestMeterValuesOutsideTransactionDiscarded(t *testing.T) {
	db := &fakeDatabase{}
	handler := newTestHandler(t, db, rfid.DecisionAccepted)
	response, err := handler.OnMeterValues("cp1", meterValuesRequest("5000", types.UnitOfMeasureWh))
	require.NoError(t, err)
	assert.NotNil(t, response)
	assert.Empty(t, db.meters)
}

func TestMeterValuesKWhNotReconverted(t *testing.T) {
	db := &fakeDatabase{}
	handler := newTestHandler(t, db, rfid.DecisionAccepted)
	_, err := handler.OnStartTransaction("cp1", &core.StartTransactionRequest{IdTag: "TAG-1", MeterStart: 10000})
	require.NoError(t, err)

	// already in kWh: stored as-is, only Wh readings get divided
	_, err = handler.OnMeterValues("cp1", meterValuesRequest("10.5", types.UnitOfMeasureKWh))
	require.NoError(t, err)
	_, err = handler.OnMeterValues("cp1", meterValuesRequest("11.0", types.UnitOfMeasureKWh))
	require.NoError(t, err)

	require.Len(t, db.meters, 2)
	assert.InDelta(t, 10.5, db.meters[0].Value, 0.0001)
	assert.Equal(t, "kWh", db.meters[0].Unit)

	rows := handler.GetChargerStatus()
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.5, rows[0].PowerConsumed, 0.0001)
}

func TestStartTransactionRejectedTag(t *testing.T) {
	handler := newTestHandler(t, &fakeDatabase{}, rfid.DecisionRejected)
	started, err := handler.OnStartTransaction("cp1", &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "UNKNOWN",
		MeterStart:  1000,
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusInvalid, started.IdTagInfo.Status)
	assert.Greater(t, started.TransactionId, 0)
}

func TestStartTransactionOverwritesActive(t *testing.T) {
	db := &fakeDatabase{}
	handler := newTestHandler(t, db, rfid.DecisionAccepted)
	first, err := handler.OnStartTransaction("cp1", &core.StartTransactionRequest{IdTag: "TAG-1", MeterStart: 100})
	require.NoError(t, err)
	second, err := handler.OnStartTransaction("cp1", &core.StartTransactionRequest{IdTag: "TAG-2", MeterStart: 200})
	require.NoError(t, err)
	assert.Greater(t, second.TransactionId, first.TransactionId)

	rows := handler.GetChargerStatus()
	require.Len(t, rows, 1)
	assert.Equal(t, second.TransactionId, rows[0].TransactionId)
	assert.Equal(t, 200, rows[0].MeterStart)
}

func TestTransactionIdsMonotonic(t *testing.T) {
	handler := newTestHandler(t, &fakeDatabase{}, rfid.DecisionAccepted)
	var last int
	for i := 0; i < 5; i++ {
		started, err := handler.OnStartTransaction("cp1", &core.StartTransactionRequest{IdTag: "TAG-1"})
		require.NoError(t, err)
		assert.Greater(t, started.TransactionId, last)
		last = started.TransactionId
	}
}

func TestStopWithoutActiveTransaction(t *testing.T) {
	db := &fakeDatabase{}
	handler := newTestHandler(t, db, rfid.DecisionAccepted)
	response, err := handler.OnStopTransaction("cp1", &core.StopTransactionRequest{TransactionId: 999, MeterStop: 1})
	require.NoError(t, err)
	// accepted even without an idTag or a matching transaction
	require.NotNil(t, response.IdTagInfo)
	assert.Equal(t, types.AuthorizationStatusAccepted, response.IdTagInfo.Status)
	assert.Empty(t, db.stops)
}

func TestStatusNotificationFaultRecordedAndCleared(t *testing.T) {
	db := &fakeDatabase{}
	handler := newTestHandler(t, db, rfid.DecisionAccepted)

	_, err := handler.OnStatusNotification("cp1", &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusFaulted,
		ErrorCode:   core.GroundFailure,
	})
	require.NoError(t, err)
	require.Len(t, db.faults, 1)
	assert.Equal(t, "GroundFailure", db.faults[0].errorCode)

	rows := handler.GetChargerStatus()
	require.Len(t, rows, 1)
	assert.Equal(t, "error", rows[0].State)

	_, err = handler.OnStatusNotification("cp1", &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusAvailable,
		ErrorCode:   core.NoError,
	})
	require.NoError(t, err)
	rows = handler.GetChargerStatus()
	assert.NotEqual(t, "error", rows[0].State)
	assert.Empty(t, rows[0].ErrorCode)
	// no second fault record for the recovery
	assert.Len(t, db.faults, 1)
}

func TestUnknownActionAcknowledged(t *testing.T) {
	handler := newTestHandler(t, &fakeDatabase{}, rfid.DecisionAccepted)
	response := handler.OnUnknownAction("cp1", "DataTransfer")
	require.NotNil(t, response)
	assert.Equal(t, "Accepted", response.Status)
}

func TestHeartbeatUpdatesState(t *testing.T) {
	handler := newTestHandler(t, &fakeDatabase{}, rfid.DecisionAccepted)
	response, err := handler.OnHeartbeat("cp1", &core.HeartbeatRequest{})
	require.NoError(t, err)
	assert.False(t, response.CurrentTime.IsZero())
	rows := handler.GetChargerStatus()
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].LastHeartbeat)
}

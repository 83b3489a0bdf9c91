package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/models"
	"evcsms/ocpp/core"
	"evcsms/rfid"
	"evcsms/types"
	"evcsms/utility"
)

const defaultHeartbeatInterval = 300

// Authorizer resolves idTags; satisfied by rfid.Service.
type Authorizer interface {
	Authorize(idTag string) rfid.Decision
}

// GenericResponse acknowledges actions outside the supported profile so a
// charger never stalls waiting for a reply.
type GenericResponse struct {
	Status string `json:"status"`
}

func (r GenericResponse) GetFeatureName() string {
	return ""
}

// chargerState survives reconnects: the status page keeps showing the last
// transaction and fault after the socket is gone.
type chargerState struct {
	bootData      *core.BootNotificationRequest
	lastHeartbeat time.Time
	transaction   *models.Transaction
	status        core.ChargePointStatus
	errorCode     core.ChargePointErrorCode
	info          string
	abnormal      bool
}

// SystemHandler owns per-charger protocol state and the transaction
// lifecycle. All handlers run under one mutex; dependencies are injected
// with setters before the server starts.
type SystemHandler struct {
	chargers          map[string]*chargerState
	database          internal.Database
	authorizer        Authorizer
	eventHandler      internal.EventHandler
	logger            internal.LogHandler
	registry          *Registry
	location          string
	lastTransactionId int
	mux               sync.Mutex
}

// NewSystemHandler location names the snapshot directory; empty disables
// transaction snapshot files.
func NewSystemHandler(location string) *SystemHandler {
	return &SystemHandler{
		chargers: make(map[string]*chargerState),
		location: location,
	}
}

func (h *SystemHandler) SetDatabase(database internal.Database) {
	h.database = database
}

func (h *SystemHandler) SetAuthorizer(authorizer Authorizer) {
	h.authorizer = authorizer
}

func (h *SystemHandler) SetEventHandler(eventHandler internal.EventHandler) {
	h.eventHandler = eventHandler
}

func (h *SystemHandler) SetLogger(logger internal.LogHandler) {
	h.logger = logger
}

func (h *SystemHandler) SetRegistry(registry *Registry) {
	h.registry = registry
}

// state must be called with the mutex held.
func (h *SystemHandler) state(chargerId string) *chargerState {
	state, ok := h.chargers[chargerId]
	if !ok {
		state = &chargerState{}
		h.chargers[chargerId] = state
	}
	return state
}

// nextTransactionId derives ids from the clock, epoch seconds, and bumps
// past the previous id when two transactions start within one second.
// Must be called with the mutex held.
func (h *SystemHandler) nextTransactionId() int {
	id := int(time.Now().Unix())
	if id <= h.lastTransactionId {
		id = h.lastTransactionId + 1
	}
	h.lastTransactionId = id
	return id
}

func (h *SystemHandler) authorize(idTag string) rfid.Decision {
	if h.authorizer == nil {
		return rfid.DecisionRejected
	}
	return h.authorizer.Authorize(idTag)
}

func authorizationStatus(decision rfid.Decision) types.AuthorizationStatus {
	if decision == rfid.DecisionAccepted {
		return types.AuthorizationStatusAccepted
	}
	return types.AuthorizationStatusInvalid
}

// receiptTime prefers the charger-supplied stamp, falling back to the
// server clock when it is missing or unparseable.
func receiptTime(dt *types.DateTime) time.Time {
	if dt != nil && !dt.Time.IsZero() {
		return dt.Time
	}
	return time.Now().UTC()
}

func (h *SystemHandler) OnBootNotification(chargerId string, request *core.BootNotificationRequest) (*core.BootNotificationResponse, error) {
	if request == nil {
		return nil, utility.Err("nil boot notification request")
	}
	h.mux.Lock()
	state := h.state(chargerId)
	state.bootData = request
	h.mux.Unlock()
	h.featureEvent(core.BootNotificationFeatureName, chargerId, fmt.Sprintf("vendor: %s; model: %s", request.ChargePointVendor, request.ChargePointModel))
	return core.NewBootNotificationResponse(types.NewDateTime(time.Now().UTC()), defaultHeartbeatInterval, core.RegistrationStatusAccepted), nil
}

func (h *SystemHandler) OnAuthorize(chargerId string, request *core.AuthorizeRequest) (*core.AuthorizeResponse, error) {
	if request == nil {
		return nil, utility.Err("nil authorize request")
	}
	decision := h.authorize(request.IdTag)
	status := authorizationStatus(decision)
	h.featureEvent(core.AuthorizeFeatureName, chargerId, fmt.Sprintf("id tag: %s; status: %s", request.IdTag, status))
	h.notify(func(e internal.EventHandler) {
		e.OnAuthorize(&internal.EventMessage{
			ChargerId: chargerId,
			Time:      time.Now().UTC(),
			IdTag:     request.IdTag,
			Status:    string(status),
		})
	})
	return core.NewAuthorizationResponse(types.NewIdTagInfo(status)), nil
}

func (h *SystemHandler) OnHeartbeat(chargerId string, request *core.HeartbeatRequest) (*core.HeartbeatResponse, error) {
	now := time.Now().UTC()
	h.mux.Lock()
	h.state(chargerId).lastHeartbeat = now
	h.mux.Unlock()
	return core.NewHeartbeatResponse(types.NewDateTime(now)), nil
}

func (h *SystemHandler) OnStartTransaction(chargerId string, request *core.StartTransactionRequest) (*core.StartTransactionResponse, error) {
	if request == nil {
		return nil, utility.Err("nil start transaction request")
	}
	decision := h.authorize(request.IdTag)
	status := authorizationStatus(decision)

	h.mux.Lock()
	state := h.state(chargerId)
	if state.transaction != nil && !state.transaction.IsFinished {
		h.warn(fmt.Sprintf("%s: transaction %d is still active, overwriting", chargerId, state.transaction.Id))
	}
	transaction := &models.Transaction{
		Id:          h.nextTransactionId(),
		ChargerId:   chargerId,
		ConnectorId: request.ConnectorId,
		IdTag:       request.IdTag,
		MeterStart:  request.MeterStart,
		TimeStart:   receiptTime(request.Timestamp),
	}
	state.transaction = transaction
	h.mux.Unlock()

	if h.database != nil {
		err := h.database.RecordTransactionStart(chargerId, transaction.Id, transaction.TimeStart, transaction.IdTag, transaction.MeterStart)
		if err != nil {
			h.error("record transaction start", err)
		}
	}
	counters.TransactionsStarted.Inc()
	h.featureEvent(core.StartTransactionFeatureName, chargerId, fmt.Sprintf("transaction %d; connector %d; id tag: %s; meter start: %d", transaction.Id, transaction.ConnectorId, transaction.IdTag, transaction.MeterStart))
	h.notify(func(e internal.EventHandler) {
		e.OnTransactionStart(&internal.EventMessage{
			ChargerId:     chargerId,
			ConnectorId:   transaction.ConnectorId,
			Time:          transaction.TimeStart,
			IdTag:         transaction.IdTag,
			TransactionId: transaction.Id,
			Status:        string(status),
		})
	})
	return core.NewStartTransactionResponse(types.NewIdTagInfo(status), transaction.Id), nil
}

func (h *SystemHandler) OnMeterValues(chargerId string, request *core.MeterValuesRequest) (*core.MeterValuesResponse, error) {
	if request == nil {
		return nil, utility.Err("nil meter values request")
	}
	h.mux.Lock()
	state := h.state(chargerId)
	transaction := state.transaction
	if transaction == nil || transaction.IsFinished {
		h.mux.Unlock()
		// acknowledged but not stored, there is nothing to attach them to
		h.debug(fmt.Sprintf("%s: meter values outside a transaction, discarded", chargerId))
		return core.NewMeterValuesResponse(), nil
	}
	var recorded []models.MeterRecord
	for _, meterValue := range request.MeterValue {
		records := normalizeSampledValues(meterValue)
		if len(records) == 0 {
			continue
		}
		transaction.AddSample(records[0].Timestamp, records)
		recorded = append(recorded, records...)
	}
	transactionId := transaction.Id
	h.mux.Unlock()

	if h.database != nil {
		for _, record := range recorded {
			if err := h.database.RecordMeterValue(chargerId, transactionId, record); err != nil {
				h.error("record meter value", err)
			}
		}
	}
	return core.NewMeterValuesResponse(), nil
}

// normalizeSampledValues converts one MeterValue entry to numeric records.
// Values reported in Wh are reduced to kWh here and nowhere else; readings
// that do not parse as numbers are dropped.
func normalizeSampledValues(meterValue types.MeterValue) []models.MeterRecord {
	timestamp := receiptTime(meterValue.Timestamp)
	var records []models.MeterRecord
	for _, sampled := range meterValue.SampledValue {
		value, ok := utility.ToFloat(sampled.Value)
		if !ok {
			continue
		}
		unit := sampled.Unit
		if unit == types.UnitOfMeasureWh {
			value = value / 1000.0
			unit = types.UnitOfMeasureKWh
		}
		records = append(records, models.MeterRecord{
			Timestamp: timestamp,
			Measurand: string(sampled.Measurand),
			Value:     value,
			Unit:      string(unit),
			Context:   string(sampled.Context),
		})
	}
	return records
}

func (h *SystemHandler) OnStopTransaction(chargerId string, request *core.StopTransactionRequest) (*core.StopTransactionResponse, error) {
	if request == nil {
		return nil, utility.Err("nil stop transaction request")
	}
	// stop is always accepted; a charger with a car plugged in cannot be
	// told to keep charging
	idTagInfo := types.NewIdTagInfo(types.AuthorizationStatusAccepted)

	h.mux.Lock()
	state := h.state(chargerId)
	transaction := state.transaction
	if transaction == nil || transaction.IsFinished {
		h.mux.Unlock()
		h.warn(fmt.Sprintf("%s: stop for transaction %d without an active transaction", chargerId, request.TransactionId))
		return core.NewStopTransactionResponse(idTagInfo), nil
	}
	if transaction.Id != request.TransactionId {
		h.warn(fmt.Sprintf("%s: stop transaction id %d does not match active %d", chargerId, request.TransactionId, transaction.Id))
	}
	for _, meterValue := range request.TransactionData {
		if records := normalizeSampledValues(meterValue); len(records) > 0 {
			transaction.AddSample(records[0].Timestamp, records)
		}
	}
	meterStop := request.MeterStop
	stopTime := receiptTime(request.Timestamp)
	reason := string(request.Reason)
	if reason == "" {
		reason = string(core.ReasonLocal)
	}
	transaction.MeterStop = &meterStop
	transaction.TimeStop = &stopTime
	transaction.Reason = reason
	transaction.IsFinished = true
	h.mux.Unlock()

	// durable write happens before the response goes out
	if h.database != nil {
		err := h.database.RecordTransactionStop(chargerId, transaction.Id, stopTime, meterStop, reason)
		if err != nil {
			h.error("record transaction stop", err)
		}
	}
	h.writeSnapshot(transaction)

	consumed := transaction.PowerConsumed()
	counters.TransactionsStopped.Inc()
	counters.EnergyConsumed.Add(consumed)
	h.featureEvent(core.StopTransactionFeatureName, chargerId, fmt.Sprintf("transaction %d; meter stop: %d; reason: %s; consumed %.3f kWh", transaction.Id, meterStop, reason, consumed))
	h.notify(func(e internal.EventHandler) {
		e.OnTransactionStop(&internal.EventMessage{
			ChargerId:     chargerId,
			ConnectorId:   transaction.ConnectorId,
			Time:          stopTime,
			IdTag:         transaction.IdTag,
			TransactionId: transaction.Id,
			Status:        reason,
			Info:          fmt.Sprintf("consumed %.3f kWh", consumed),
		})
	})
	return core.NewStopTransactionResponse(idTagInfo), nil
}

func (h *SystemHandler) OnStatusNotification(chargerId string, request *core.StatusNotificationRequest) (*core.StatusNotificationResponse, error) {
	if request == nil {
		return nil, utility.Err("nil status notification request")
	}
	abnormal := core.IsAbnormal(request.Status, request.ErrorCode)

	h.mux.Lock()
	state := h.state(chargerId)
	state.status = request.Status
	state.info = request.Info
	if abnormal {
		state.errorCode = request.ErrorCode
		state.abnormal = true
	} else if state.abnormal {
		state.errorCode = ""
		state.info = request.Info
		state.abnormal = false
	}
	h.mux.Unlock()

	h.featureEvent(core.StatusNotificationFeatureName, chargerId, fmt.Sprintf("connector %d; status: %s; error: %s", request.ConnectorId, request.Status, request.ErrorCode))
	if abnormal {
		if h.database != nil {
			err := h.database.RecordError(chargerId, string(request.Status), string(request.ErrorCode), request.Info)
			if err != nil {
				h.error("record charger error", err)
			}
		}
		h.notify(func(e internal.EventHandler) {
			e.OnStatusNotification(&internal.EventMessage{
				ChargerId:   chargerId,
				ConnectorId: request.ConnectorId,
				Time:        receiptTime(request.Timestamp),
				Status:      string(request.Status),
				Info:        fmt.Sprintf("error: %s; %s", request.ErrorCode, request.Info),
			})
		})
	}
	return core.NewStatusNotificationResponse(), nil
}

// OnUnknownAction acknowledges actions outside the supported profile.
func (h *SystemHandler) OnUnknownAction(chargerId string, action string) *GenericResponse {
	h.warn(fmt.Sprintf("%s: unsupported action %s acknowledged", chargerId, action))
	return &GenericResponse{Status: "Accepted"}
}

// ActiveTransactionId returns the running transaction for a charger, used
// when a remote stop command arrives without an explicit id.
func (h *SystemHandler) ActiveTransactionId(chargerId string) (int, bool) {
	h.mux.Lock()
	defer h.mux.Unlock()
	state, ok := h.chargers[chargerId]
	if !ok || state.transaction == nil || state.transaction.IsFinished {
		return 0, false
	}
	return state.transaction.Id, true
}

// GetChargerStatus builds the live view rows, sorted by charger id.
func (h *SystemHandler) GetChargerStatus() []models.ChargerStatus {
	h.mux.Lock()
	defer h.mux.Unlock()
	rows := make([]models.ChargerStatus, 0, len(h.chargers))
	for chargerId, state := range h.chargers {
		connected := h.registry != nil && h.registry.IsConnected(chargerId)
		row := models.ChargerStatus{
			ChargerId: chargerId,
			Connected: connected,
			Status:    string(state.status),
			ErrorCode: string(state.errorCode),
			Info:      state.info,
		}
		if !state.lastHeartbeat.IsZero() {
			row.LastHeartbeat = state.lastHeartbeat.Format(time.RFC3339)
		}
		transaction := state.transaction
		charging := transaction != nil && !transaction.IsFinished
		if transaction != nil {
			row.TransactionId = transaction.Id
			row.MeterStart = transaction.MeterStart
			row.PowerConsumed = transaction.PowerConsumed()
			if latest, ok := transaction.LatestMeter(); ok {
				row.LatestMeter = latest
			}
		}
		switch {
		case state.abnormal:
			row.State = "error"
		case charging:
			row.State = "charging"
		case connected:
			row.State = "available"
		default:
			row.State = "offline"
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ChargerId < rows[j].ChargerId })
	return rows
}

// writeSnapshot dumps a closed transaction to <location>/<charger>_<id>.dat
// so sessions survive a database outage.
func (h *SystemHandler) writeSnapshot(transaction *models.Transaction) {
	if h.location == "" {
		return
	}
	data, err := json.MarshalIndent(transaction, "", "  ")
	if err != nil {
		h.error("marshal transaction snapshot", err)
		return
	}
	name := filepath.Join(h.location, fmt.Sprintf("%s_%d.dat", transaction.ChargerId, transaction.Id))
	if err = os.WriteFile(name, data, 0644); err != nil {
		h.error("write transaction snapshot", err)
	}
}

func (h *SystemHandler) notify(fn func(internal.EventHandler)) {
	if h.eventHandler != nil {
		fn(h.eventHandler)
	}
}

func (h *SystemHandler) featureEvent(feature, chargerId, text string) {
	if h.logger != nil {
		h.logger.FeatureEvent(feature, chargerId, text)
	}
}

func (h *SystemHandler) debug(text string) {
	if h.logger != nil {
		h.logger.Debug(text)
	}
}

func (h *SystemHandler) warn(text string) {
	if h.logger != nil {
		h.logger.Warn(text)
	}
}

func (h *SystemHandler) error(text string, err error) {
	if h.logger != nil {
		h.logger.Error(text, err)
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/metrics"
	"evcsms/metrics/counters"
	"evcsms/ocpp/core"
	"evcsms/rfid"
	"evcsms/telegram"
	"evcsms/types"
	"evcsms/utility"
)

const commandTimeout = 10 * time.Second

// CentralSystem ties the WebSocket server, the protocol handler and the
// operator API together and routes frames between them.
type CentralSystem struct {
	conf            *config.Config
	server          *Server
	api             *Api
	logger          *internal.Logger
	handler         *SystemHandler
	database        internal.Database
	pendingRequests map[string]chan string
	pendingMux      sync.Mutex
}

func NewCentralSystem(conf *config.Config) (*CentralSystem, error) {
	if conf == nil {
		return nil, utility.Err("no configuration")
	}
	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		location = time.UTC
	}
	logger := internal.NewLogger(location)
	logger.SetDebugMode(conf.IsDebug)

	cs := &CentralSystem{
		conf:            conf,
		logger:          logger,
		pendingRequests: make(map[string]chan string),
	}

	mongo, err := internal.NewMongoClient(conf)
	if err != nil {
		return nil, err
	}
	if mongo != nil {
		cs.database = mongo
		logger.SetDatabase(mongo)
	}

	rfidService := rfid.NewService(conf.Rfid.Allowlist, conf.Rfid.Denylist)
	rfidService.SetLogger(logger)

	handler := NewSystemHandler(conf.Location)
	handler.SetLogger(logger)
	handler.SetAuthorizer(rfidService)
	if cs.database != nil {
		handler.SetDatabase(cs.database)
	}
	cs.handler = handler

	if conf.Telegram.Enabled {
		bot, err := telegram.NewBot(conf.Telegram.ApiKey, conf.Telegram.ChatIds)
		if err != nil {
			logger.Error("telegram bot init", err)
		} else {
			bot.SetLogger(logger)
			bot.Start()
			handler.SetEventHandler(bot)
		}
	}

	server := NewServer(conf)
	server.SetLogger(logger)
	server.AddSupportedSubProtocol(types.SubProtocol16)
	server.SetMessageHandler(cs.handleIncomingMessage)
	cs.server = server
	handler.SetRegistry(server.Registry())

	if conf.Api.Enabled {
		cs.api = NewApi(conf, cs)
		cs.api.SetLogger(logger)
	}
	return cs, nil
}

// Logger exposes the shared logger for components wired in by main.
func (cs *CentralSystem) Logger() internal.LogHandler {
	return cs.logger
}

// SetSimulatorSupervisor exposes the embedded charge point simulator on
// the operator API.
func (cs *CentralSystem) SetSimulatorSupervisor(supervisor SimulatorSupervisor) {
	if cs.api != nil {
		cs.api.supervisor = supervisor
	}
}

// Start runs the metrics endpoint and the operator API in the background
// and blocks on the WebSocket listener.
func (cs *CentralSystem) Start() error {
	if cs.conf.Metrics.Enabled {
		go func() {
			if err := metrics.Listen(cs.conf); err != nil {
				cs.logger.Error("metrics listener", err)
			}
		}()
	}
	if cs.api != nil {
		go func() {
			if err := cs.api.Start(); err != nil {
				cs.logger.Error("api listener", err)
			}
		}()
	}
	return cs.server.Start()
}

// handleIncomingMessage decodes one frame and dispatches it. Malformed
// frames are logged and dropped; only a failing handler or socket write
// closes the connection.
func (cs *CentralSystem) handleIncomingMessage(ws *WebSocket, data []byte) error {
	message, err := ParseMessage(data)
	if err != nil {
		cs.logger.Warn(fmt.Sprintf("%s: dropping frame: %s", ws.ChargerId, err))
		return nil
	}
	switch message.TypeId {
	case CallTypeResult:
		cs.resolvePending(message)
		return nil
	case CallTypeError:
		cs.logger.Warn(fmt.Sprintf("%s: call error for %s: %s %s", ws.ChargerId, message.UniqueId, message.ErrorCode, message.ErrorDescription))
		cs.resolvePending(message)
		return nil
	}

	counters.MessagesReceived.WithLabelValues(message.Action).Inc()
	request, err := ParseCallRequest(message)
	if err != nil {
		cs.logger.Warn(fmt.Sprintf("%s: invalid %s payload: %s", ws.ChargerId, message.Action, err))
		return cs.server.SendCallError(ws, message.UniqueId, "FormationViolation", err.Error())
	}
	if request == nil {
		response := cs.handler.OnUnknownAction(ws.ChargerId, message.Action)
		return cs.server.SendResponse(ws, response, message.UniqueId)
	}

	var confirmation interface{}
	switch typed := request.(type) {
	case *core.BootNotificationRequest:
		confirmation, err = cs.handler.OnBootNotification(ws.ChargerId, typed)
	case *core.AuthorizeRequest:
		confirmation, err = cs.handler.OnAuthorize(ws.ChargerId, typed)
	case *core.HeartbeatRequest:
		confirmation, err = cs.handler.OnHeartbeat(ws.ChargerId, typed)
	case *core.StartTransactionRequest:
		confirmation, err = cs.handler.OnStartTransaction(ws.ChargerId, typed)
	case *core.StopTransactionRequest:
		confirmation, err = cs.handler.OnStopTransaction(ws.ChargerId, typed)
	case *core.MeterValuesRequest:
		confirmation, err = cs.handler.OnMeterValues(ws.ChargerId, typed)
	case *core.StatusNotificationRequest:
		confirmation, err = cs.handler.OnStatusNotification(ws.ChargerId, typed)
	default:
		confirmation = cs.handler.OnUnknownAction(ws.ChargerId, message.Action)
	}
	if err != nil {
		return err
	}
	return cs.server.SendResponse(ws, confirmation, message.UniqueId)
}

func (cs *CentralSystem) resolvePending(message *Message) {
	cs.pendingMux.Lock()
	defer cs.pendingMux.Unlock()
	ch, ok := cs.pendingRequests[message.UniqueId]
	if !ok {
		cs.logger.Debug(fmt.Sprintf("unexpected call result %s", message.UniqueId))
		return
	}
	delete(cs.pendingRequests, message.UniqueId)
	result := "{}"
	if message.TypeId == CallTypeError {
		result = fmt.Sprintf("error %s: %s", message.ErrorCode, message.ErrorDescription)
	} else if message.Payload != nil {
		if data, err := json.Marshal(message.Payload); err == nil {
			result = string(data)
		}
	}
	ch <- result
}

// SendCommand delivers a server-initiated call to a connected charger and
// waits for its answer. RemoteStopTransaction is the only supported
// feature; an empty payload targets the charger's running transaction.
func (cs *CentralSystem) SendCommand(chargerId, featureName, payload string) (string, error) {
	if featureName != core.RemoteStopTransactionFeatureName {
		return "", utility.Err(fmt.Sprintf("unsupported feature: %s", featureName))
	}
	transactionId, err := strconv.Atoi(payload)
	if err != nil {
		var ok bool
		transactionId, ok = cs.handler.ActiveTransactionId(chargerId)
		if !ok {
			return "", utility.Err(fmt.Sprintf("no active transaction on %s", chargerId))
		}
	}
	request := core.NewRemoteStopTransactionRequest(transactionId)

	// the pending entry is registered under the same lock as the write so
	// the answer can never arrive before the channel exists
	cs.pendingMux.Lock()
	uniqueId, err := cs.server.SendRequest(chargerId, request)
	if err != nil {
		cs.pendingMux.Unlock()
		return "", err
	}
	ch := make(chan string, 1)
	cs.pendingRequests[uniqueId] = ch
	cs.pendingMux.Unlock()

	select {
	case result := <-ch:
		return result, nil
	case <-time.After(commandTimeout):
		cs.pendingMux.Lock()
		delete(cs.pendingRequests, uniqueId)
		cs.pendingMux.Unlock()
		return "", utility.Err(fmt.Sprintf("command %s timed out", featureName))
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"evcsms/internal"
	"evcsms/internal/config"
)

// SimulatorSupervisor is the embedded charge point simulator control
// surface, wired in by the composition root when simulation is wanted.
type SimulatorSupervisor interface {
	StartSimulation(rawParams []byte) error
	StopSimulation() bool
	Status() interface{}
}

// Api is the operator HTTP surface: commands to chargers, the live status
// view, stored summaries and simulator control. It binds to a separate
// address so the charger-facing port stays WebSocket-only.
type Api struct {
	conf       *config.Config
	cs         *CentralSystem
	logger     internal.LogHandler
	supervisor SimulatorSupervisor
}

type commandRequest struct {
	ChargePointId string `json:"charge_point_id"`
	FeatureName   string `json:"feature_name"`
	Payload       string `json:"payload,omitempty"`
}

type commandResponse struct {
	Status string `json:"status"`
	Info   string `json:"info,omitempty"`
}

type simulatorCommand struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func NewApi(conf *config.Config, cs *CentralSystem) *Api {
	return &Api{
		conf: conf,
		cs:   cs,
	}
}

func (a *Api) SetLogger(logger internal.LogHandler) {
	a.logger = logger
}

func (a *Api) Start() error {
	router := httprouter.New()
	router.POST("/api/command", a.handleCommand)
	router.GET("/api/status", a.handleStatus)
	router.GET("/api/summary", a.handleSummary)
	router.GET("/api/simulator", a.handleSimulatorStatus)
	router.POST("/api/simulator", a.handleSimulatorCommand)
	addr := fmt.Sprintf("%s:%s", a.conf.Api.BindIP, a.conf.Api.Port)
	return http.ListenAndServe(addr, router)
}

func (a *Api) handleCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var command commandRequest
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	if command.ChargePointId == "" || command.FeatureName == "" {
		a.writeError(w, http.StatusBadRequest, "charge_point_id and feature_name are required")
		return
	}
	result, err := a.cs.SendCommand(command.ChargePointId, command.FeatureName, command.Payload)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.writeJson(w, http.StatusOK, commandResponse{Status: "ok", Info: result})
}

func (a *Api) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	a.writeJson(w, http.StatusOK, a.cs.handler.GetChargerStatus())
}

func (a *Api) handleSummary(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if a.cs.database == nil {
		a.writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	rows, err := a.cs.database.GetSummary()
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.writeJson(w, http.StatusOK, rows)
}

func (a *Api) handleSimulatorStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if a.supervisor == nil {
		a.writeError(w, http.StatusServiceUnavailable, "simulator is not enabled")
		return
	}
	a.writeJson(w, http.StatusOK, a.supervisor.Status())
}

func (a *Api) handleSimulatorCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if a.supervisor == nil {
		a.writeError(w, http.StatusServiceUnavailable, "simulator is not enabled")
		return
	}
	var command simulatorCommand
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	switch command.Command {
	case "start":
		if err := a.supervisor.StartSimulation(command.Params); err != nil {
			a.writeError(w, http.StatusConflict, err.Error())
			return
		}
		a.writeJson(w, http.StatusOK, commandResponse{Status: "ok", Info: "simulation started"})
	case "stop":
		if a.supervisor.StopSimulation() {
			a.writeJson(w, http.StatusOK, commandResponse{Status: "ok", Info: "simulation will stop after the current session"})
			return
		}
		a.writeJson(w, http.StatusOK, commandResponse{Status: "ok", Info: "simulation is not running"})
	default:
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown command: %s", command.Command))
	}
}

func (a *Api) writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && a.logger != nil {
		a.logger.Error("api response encode", err)
	}
}

func (a *Api) writeError(w http.ResponseWriter, status int, info string) {
	a.writeJson(w, status, commandResponse{Status: "error", Info: info})
}

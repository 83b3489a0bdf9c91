package evcs

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"evcsms/internal"
	"evcsms/utility"
)

// Status mirrors the supervisor state for the control API.
type Status struct {
	Running     bool   `json:"running"`
	LastStatus  string `json:"last_status"`
	LastCommand string `json:"last_command"`
	LastError   string `json:"last_error,omitempty"`
	Params      Params `json:"params"`
	StartTime   string `json:"start_time,omitempty"`
	StopTime    string `json:"stop_time,omitempty"`
}

// Supervisor runs one simulation at a time in the background. A stop is
// soft: the running session completes and no further session starts.
type Supervisor struct {
	mux     sync.Mutex
	status  Status
	logger  internal.LogHandler
	cancel  context.CancelFunc
	stopped atomic.Bool
}

func NewSupervisor(logger internal.LogHandler) *Supervisor {
	return &Supervisor{
		logger: logger,
		status: Status{LastStatus: "idle"},
	}
}

// StartSimulation launches a run with the given JSON parameters; omitted
// fields take their defaults. It fails while a run is in progress.
func (s *Supervisor) StartSimulation(rawParams []byte) error {
	var params Params
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return err
		}
	}
	params.normalize()

	s.mux.Lock()
	defer s.mux.Unlock()
	if s.status.Running {
		return utility.Err("simulation is already running")
	}
	s.stopped.Store(false)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.status = Status{
		Running:     true,
		LastStatus:  "running",
		LastCommand: "start",
		Params:      params,
		StartTime:   time.Now().UTC().Format(time.RFC3339),
	}
	go s.run(ctx, params)
	return nil
}

func (s *Supervisor) run(ctx context.Context, params Params) {
	err := Simulate(ctx, params, s.logger, s.stopped.Load)
	s.mux.Lock()
	defer s.mux.Unlock()
	s.status.Running = false
	s.status.StopTime = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		s.status.LastStatus = "failed"
		s.status.LastError = err.Error()
		if s.logger != nil {
			s.logger.Error("simulation run", err)
		}
	} else {
		s.status.LastStatus = "finished"
	}
}

// StopSimulation requests a soft stop and reports whether a run was
// active. The current charging session always completes.
func (s *Supervisor) StopSimulation() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.status.LastCommand = "stop"
	if !s.status.Running {
		return false
	}
	s.stopped.Store(true)
	return true
}

// Shutdown aborts the run immediately, including any session in flight.
// Used on process exit, not exposed on the API.
func (s *Supervisor) Shutdown() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Status returns a point-in-time copy of the supervisor state.
func (s *Supervisor) Status() interface{} {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.status
}

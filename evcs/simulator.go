package evcs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"evcsms/internal"
	"evcsms/ocpp/core"
	"evcsms/types"
	"evcsms/utility"
)

const (
	callTimeout       = 30 * time.Second
	heartbeatInterval = 5 * time.Second
	idleMeterInterval = 30 * time.Second
)

// RepeatValue is a session count setting. Control clients send it as a
// string, a bare number or a boolean; all three decode to their textual
// form for ParseRepeat.
type RepeatValue string

func (r *RepeatValue) UnmarshalJSON(data []byte) error {
	*r = RepeatValue(strings.Trim(strings.TrimSpace(string(data)), `"`))
	return nil
}

// Params describes one simulation run. Duration and Idle are in seconds so
// the struct can come straight from the control API or CLI flags.
type Params struct {
	Host     string      `json:"host"`
	Port     string      `json:"port"`
	PathBase string      `json:"path_base"`
	Name     string      `json:"name"`
	IdTag    string      `json:"rfid"`
	Duration int         `json:"duration"`
	Repeat   RepeatValue `json:"repeat"`
	Count    int         `json:"count"`
	Idle     int         `json:"idle,omitempty"`
	User     string      `json:"user,omitempty"`
	Password string      `json:"password,omitempty"`
}

func (p *Params) normalize() {
	if p.Host == "" {
		p.Host = "127.0.0.1"
	}
	if p.Port == "" {
		p.Port = "9000"
	}
	if p.PathBase == "" {
		p.PathBase = "/ws"
	}
	if p.Name == "" {
		p.Name = "SIM"
	}
	if p.IdTag == "" {
		p.IdTag = "TEST-1"
	}
	if p.Duration <= 0 {
		p.Duration = 60
	}
	if p.Count <= 0 {
		p.Count = 1
	}
	if p.Repeat == "" {
		p.Repeat = "1"
	}
}

func (p *Params) idleTime() time.Duration {
	if p.Idle > 0 {
		return time.Duration(p.Idle) * time.Second
	}
	if p.Count > 1 {
		return 60 * time.Second
	}
	return 20 * time.Second
}

// ParseRepeat maps a repeat setting to a session count; -1 means run until
// stopped. "true" and "forever" are accepted, anything unreadable is 1.
func ParseRepeat(value string) int {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "forever":
		return -1
	}
	n := utility.ToInt(strings.TrimSpace(value))
	if n < 1 {
		return 1
	}
	return n
}

// Simulate runs Count simulated chargers against one central system and
// returns when every charger has finished its sessions or ctx ends. The
// optional stop callback is consulted between sessions.
func Simulate(ctx context.Context, params Params, logger internal.LogHandler, stop func() bool) error {
	params.normalize()
	var wg sync.WaitGroup
	errs := make(chan error, params.Count)
	for i := 0; i < params.Count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := newChargePoint(params, logger)
			if err := cp.run(ctx, stop); err != nil {
				errs <- fmt.Errorf("%s: %w", cp.name, err)
			}
		}()
	}
	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// chargePoint is one simulated charger: a single connection, a listener
// goroutine and a sequential session loop.
type chargePoint struct {
	name        string
	url         string
	header      http.Header
	idTag       string
	duration    time.Duration
	idle        time.Duration
	sessions    int
	logger      internal.LogHandler
	conn        *websocket.Conn
	writeMux    sync.Mutex
	results     chan json.RawMessage
	remoteStop  atomic.Bool
	meter       int
	sequence    int
}

func newChargePoint(params Params, logger internal.LogHandler) *chargePoint {
	name := params.Name
	if params.Count > 1 {
		// unique path per simulated charger
		name = fmt.Sprintf("%s-%04X", name, rand.Intn(0x10000))
	}
	header := http.Header{}
	if params.User != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(params.User + ":" + params.Password))
		header.Set("Authorization", "Basic "+credentials)
	}
	return &chargePoint{
		name:     name,
		url:      fmt.Sprintf("ws://%s:%s%s/%s", params.Host, params.Port, params.PathBase, name),
		header:   header,
		idTag:    params.IdTag,
		duration: time.Duration(params.Duration) * time.Second,
		idle:     params.idleTime(),
		sessions: ParseRepeat(string(params.Repeat)),
		logger:   logger,
	}
}

func (cp *chargePoint) run(ctx context.Context, stop func() bool) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{types.SubProtocol16},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, cp.url, cp.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cp.url, err)
	}
	cp.conn = conn
	cp.results = make(chan json.RawMessage, 8)
	defer conn.Close()
	go cp.listener()

	for session := 0; cp.sessions < 0 || session < cp.sessions; session++ {
		if ctx.Err() != nil {
			return nil
		}
		if stop != nil && stop() {
			cp.debug(fmt.Sprintf("%s: stop requested, no further sessions", cp.name))
			return nil
		}
		if err := cp.runSession(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// listener is the only reader on the socket. Call results feed the session
// flow; incoming calls are acknowledged, and RemoteStopTransaction flips
// the stop flag the charging loop watches.
func (cp *chargePoint) listener() {
	for {
		_, data, err := cp.conn.ReadMessage()
		if err != nil {
			return
		}
		var fields []json.RawMessage
		if err = json.Unmarshal(data, &fields); err != nil || len(fields) < 2 {
			continue
		}
		var typeId int
		if err = json.Unmarshal(fields[0], &typeId); err != nil {
			continue
		}
		switch typeId {
		case 3:
			payload := json.RawMessage("{}")
			if len(fields) > 2 {
				payload = fields[2]
			}
			select {
			case cp.results <- payload:
			default:
			}
		case 2:
			if len(fields) < 3 {
				continue
			}
			var uniqueId, action string
			_ = json.Unmarshal(fields[1], &uniqueId)
			_ = json.Unmarshal(fields[2], &action)
			cp.acknowledge(uniqueId)
			if action == core.RemoteStopTransactionFeatureName {
				cp.debug(fmt.Sprintf("%s: remote stop received", cp.name))
				cp.remoteStop.Store(true)
			}
		case 4:
			cp.warn(fmt.Sprintf("%s: call error received: %s", cp.name, string(data)))
		}
	}
}

func (cp *chargePoint) acknowledge(uniqueId string) {
	frame := []interface{}{3, uniqueId, struct{}{}}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	cp.writeMux.Lock()
	defer cp.writeMux.Unlock()
	_ = cp.conn.WriteMessage(websocket.TextMessage, data)
}

// call sends one CALL and waits for the next result frame. The simulator
// never pipelines, so ordering results by arrival is enough.
func (cp *chargePoint) call(ctx context.Context, action string, payload interface{}) (json.RawMessage, error) {
	cp.sequence++
	frame := []interface{}{2, fmt.Sprintf("%s-%d", cp.name, cp.sequence), action, payload}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	cp.writeMux.Lock()
	err = cp.conn.WriteMessage(websocket.TextMessage, data)
	cp.writeMux.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case result := <-cp.results:
		return result, nil
	case <-time.After(callTimeout):
		return nil, utility.Err(fmt.Sprintf("no answer to %s", action))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runSession is one charging cycle: boot, authorize, start, ten meter
// reports across a randomized duration, stop, then an idle phase with
// heartbeats and clock meter readings.
func (cp *chargePoint) runSession(ctx context.Context) error {
	cp.remoteStop.Store(false)

	if _, err := cp.call(ctx, core.BootNotificationFeatureName, core.BootNotificationRequest{
		ChargePointVendor: "evcsms",
		ChargePointModel:  "sim-1",
	}); err != nil {
		return err
	}
	if _, err := cp.call(ctx, core.AuthorizeFeatureName, core.AuthorizeRequest{IdTag: cp.idTag}); err != nil {
		return err
	}

	cp.meter = 1000 + rand.Intn(1001)
	result, err := cp.call(ctx, core.StartTransactionFeatureName, core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       cp.idTag,
		MeterStart:  cp.meter,
		Timestamp:   types.NewDateTime(time.Now().UTC()),
	})
	if err != nil {
		return err
	}
	var started core.StartTransactionResponse
	if err = json.Unmarshal(result, &started); err != nil {
		return fmt.Errorf("start transaction response: %w", err)
	}

	// actual charging time varies 75-125% around the configured duration
	actual := time.Duration(float64(cp.duration) * (0.75 + rand.Float64()*0.5))
	interval := actual / 10
	for i := 0; i < 10; i++ {
		if cp.remoteStop.Load() {
			break
		}
		if err = sleep(ctx, interval); err != nil {
			return err
		}
		cp.meter += 50 + rand.Intn(101)
		if err = cp.sendMeterValue(ctx, started.TransactionId, types.ReadingContextSamplePeriodic); err != nil {
			return err
		}
	}

	stopRequest := core.StopTransactionRequest{
		IdTag:         cp.idTag,
		MeterStop:     cp.meter,
		TransactionId: started.TransactionId,
		Timestamp:     types.NewDateTime(time.Now().UTC()),
	}
	if cp.remoteStop.Load() {
		stopRequest.Reason = core.ReasonRemote
	}
	if _, err = cp.call(ctx, core.StopTransactionFeatureName, stopRequest); err != nil {
		return err
	}
	cp.debug(fmt.Sprintf("%s: transaction %d finished at meter %d", cp.name, started.TransactionId, cp.meter))

	return cp.runIdle(ctx)
}

func (cp *chargePoint) runIdle(ctx context.Context) error {
	deadline := time.Now().Add(cp.idle)
	step := heartbeatInterval
	if cp.idle < step {
		step = cp.idle
	}
	lastClockValue := time.Now()
	for time.Now().Before(deadline) {
		if err := sleep(ctx, step); err != nil {
			return err
		}
		if _, err := cp.call(ctx, core.HeartbeatFeatureName, core.HeartbeatRequest{}); err != nil {
			return err
		}
		if time.Since(lastClockValue) >= idleMeterInterval {
			cp.meter += rand.Intn(3)
			if err := cp.sendMeterValue(ctx, 0, types.ReadingContextSampleClock); err != nil {
				return err
			}
			lastClockValue = time.Now()
		}
	}
	return nil
}

func (cp *chargePoint) sendMeterValue(ctx context.Context, transactionId int, readingContext types.ReadingContext) error {
	request := core.MeterValuesRequest{
		ConnectorId: 1,
		MeterValue: []types.MeterValue{{
			Timestamp: types.NewDateTime(time.Now().UTC()),
			SampledValue: []types.SampledValue{{
				Value:     strconv.FormatFloat(float64(cp.meter)/1000.0, 'f', 3, 64),
				Context:   readingContext,
				Measurand: types.MeasurandEnergyActiveImportRegister,
				Unit:      types.UnitOfMeasureKWh,
			}},
		}},
	}
	if transactionId != 0 {
		request.TransactionId = &transactionId
	}
	_, err := cp.call(ctx, core.MeterValuesFeatureName, request)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cp *chargePoint) debug(text string) {
	if cp.logger != nil {
		cp.logger.Debug(text)
	}
}

func (cp *chargePoint) warn(text string) {
	if cp.logger != nil {
		cp.logger.Warn(text)
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/metrics/counters"
	"evcsms/ocpp"
	"evcsms/utility"
)

// MessageHandler processes one inbound frame. A returned error closes the
// connection; framing problems are expected traffic and must be handled
// inside without an error.
type MessageHandler func(ws *WebSocket, data []byte) error

// WebSocket is one charger connection. Writes are serialized: responses
// from the reader goroutine and server-initiated calls from the command
// API share the socket.
type WebSocket struct {
	conn      *websocket.Conn
	ChargerId string
	mux       sync.Mutex
	closed    bool
}

func (ws *WebSocket) WriteMessage(data []byte) error {
	ws.mux.Lock()
	defer ws.mux.Unlock()
	if ws.closed {
		return utility.Err("connection is closed")
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocket) Close() {
	ws.mux.Lock()
	defer ws.mux.Unlock()
	if !ws.closed {
		ws.closed = true
		_ = ws.conn.Close()
	}
}

type Server struct {
	conf                  *config.Config
	httpServer            *http.Server
	upgrader              websocket.Upgrader
	registry              *Registry
	logger                internal.LogHandler
	messageHandler        MessageHandler
	supportedSubProtocols []string
}

func NewServer(conf *config.Config) *Server {
	server := &Server{
		conf:     conf,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return server
}

func (s *Server) SetLogger(logger internal.LogHandler) {
	s.logger = logger
}

func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

func (s *Server) AddSupportedSubProtocol(protocol string) {
	if !utility.Contains(s.supportedSubProtocols, protocol) {
		s.supportedSubProtocols = append(s.supportedSubProtocols, protocol)
	}
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Start blocks serving WebSocket upgrades on <path_base>/<charger_id>.
func (s *Server) Start() error {
	router := httprouter.New()
	router.GET(s.conf.Listen.PathBase+"/*id", s.handleWsRequest)
	addr := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	if s.conf.Listen.TLS {
		return s.httpServer.ListenAndServeTLS(s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// charger id is the last path segment
	chargerId := strings.Trim(ps.ByName("id"), "/")
	if i := strings.LastIndex(chargerId, "/"); i >= 0 {
		chargerId = chargerId[i+1:]
	}
	if chargerId == "" {
		http.Error(w, "missing charge point id", http.StatusBadRequest)
		return
	}
	responseHeader := http.Header{}
	for _, protocol := range websocket.Subprotocols(r) {
		if utility.Contains(s.supportedSubProtocols, protocol) {
			responseHeader.Set("Sec-WebSocket-Protocol", protocol)
			break
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.error(fmt.Sprintf("upgrade failed for %s", chargerId), err)
		return
	}
	ws := &WebSocket{conn: conn, ChargerId: chargerId}
	s.registry.Register(chargerId, ws)
	counters.ConnectedChargers.Inc()
	s.debug(fmt.Sprintf("%s: connected, subprotocol %q", chargerId, conn.Subprotocol()))
	go s.messageReader(ws)
}

func (s *Server) messageReader(ws *WebSocket) {
	defer func() {
		ws.Close()
		s.registry.Unregister(ws.ChargerId)
		counters.ConnectedChargers.Dec()
		s.debug(fmt.Sprintf("%s: disconnected", ws.ChargerId))
	}()
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			s.debug(fmt.Sprintf("%s: read ended: %s", ws.ChargerId, err))
			return
		}
		s.rawDataEvent("in", string(data))
		if s.messageHandler == nil {
			continue
		}
		if err = s.messageHandler(ws, data); err != nil {
			s.error(fmt.Sprintf("%s: message handler failed, closing connection", ws.ChargerId), err)
			return
		}
	}
}

// SendResponse writes a CALLRESULT for a handled request.
func (s *Server) SendResponse(ws *WebSocket, confirmation interface{}, uniqueId string) error {
	callResult := CreateCallResult(confirmation, uniqueId)
	data, err := json.Marshal(callResult)
	if err != nil {
		return err
	}
	s.rawDataEvent("out", string(data))
	return ws.WriteMessage(data)
}

func (s *Server) SendCallError(ws *WebSocket, uniqueId, errorCode, description string) error {
	callError := &CallError{
		UniqueId:         uniqueId,
		ErrorCode:        errorCode,
		ErrorDescription: description,
	}
	data, err := json.Marshal(callError)
	if err != nil {
		return err
	}
	s.rawDataEvent("out", string(data))
	return ws.WriteMessage(data)
}

// SendRequest issues a server-initiated CALL to a connected charger and
// returns the unique id the caller should wait on.
func (s *Server) SendRequest(chargerId string, request ocpp.Request) (string, error) {
	ws, ok := s.registry.Lookup(chargerId)
	if !ok {
		return "", utility.Err(fmt.Sprintf("charge point %s is not connected", chargerId))
	}
	uniqueId := utility.NewUUID()
	callRequest := CreateCallRequest(request, uniqueId)
	data, err := json.Marshal(callRequest)
	if err != nil {
		return "", err
	}
	s.rawDataEvent("out", string(data))
	if err = ws.WriteMessage(data); err != nil {
		return "", err
	}
	return uniqueId, nil
}

func (s *Server) debug(text string) {
	if s.logger != nil {
		s.logger.Debug(text)
	}
}

func (s *Server) error(text string, err error) {
	if s.logger != nil {
		s.logger.Error(text, err)
	}
}

func (s *Server) rawDataEvent(direction, data string) {
	if s.logger != nil {
		s.logger.RawDataEvent(direction, data)
	}
}

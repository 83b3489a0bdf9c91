package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcsms/internal"
	"evcsms/internal/config"
)

func newTestCentralSystem(t *testing.T) *CentralSystem {
	t.Helper()
	conf := &config.Config{}
	cs := &CentralSystem{
		conf:            conf,
		logger:          internal.NewLogger(time.UTC),
		handler:         NewSystemHandler(""),
		pendingRequests: make(map[string]chan string),
	}
	cs.server = NewServer(conf)
	cs.handler.SetRegistry(cs.server.Registry())
	return cs
}

func TestResolvePendingDeliversResult(t *testing.T) {
	cs := newTestCentralSystem(t)
	ch := make(chan string, 1)
	cs.pendingRequests["req-1"] = ch

	cs.resolvePending(&Message{
		TypeId:   CallTypeResult,
		UniqueId: "req-1",
		Payload:  map[string]interface{}{"status": "Accepted"},
	})

	select {
	case result := <-ch:
		assert.Contains(t, result, "Accepted")
	default:
		t.Fatal("pending request was not resolved")
	}
	_, stillThere := cs.pendingRequests["req-1"]
	assert.False(t, stillThere)
}

func TestResolvePendingUnexpectedResult(t *testing.T) {
	cs := newTestCentralSystem(t)
	// must not panic or block
	cs.resolvePending(&Message{TypeId: CallTypeResult, UniqueId: "nobody-waits"})
}

func TestResolvePendingCallError(t *testing.T) {
	cs := newTestCentralSystem(t)
	ch := make(chan string, 1)
	cs.pendingRequests["req-2"] = ch

	cs.resolvePending(&Message{
		TypeId:           CallTypeError,
		UniqueId:         "req-2",
		ErrorCode:        "NotSupported",
		ErrorDescription: "nope",
	})
	result := <-ch
	assert.Contains(t, result, "NotSupported")
}

func TestSendCommandUnsupportedFeature(t *testing.T) {
	cs := newTestCentralSystem(t)
	_, err := cs.SendCommand("cp1", "Reset", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported feature")
}

func TestSendCommandNoActiveTransaction(t *testing.T) {
	cs := newTestCentralSystem(t)
	_, err := cs.SendCommand("cp1", "RemoteStopTransaction", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active transaction")
}

func TestSendCommandChargerNotConnected(t *testing.T) {
	cs := newTestCentralSystem(t)
	_, err := cs.SendCommand("cp1", "RemoteStopTransaction", "12345")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLookup(t *testing.T) {
	registry := NewRegistry()
	ws := &WebSocket{ChargerId: "cp1"}
	registry.Register("cp1", ws)

	found, ok := registry.Lookup("cp1")
	require.True(t, ok)
	assert.Same(t, ws, found)
	assert.True(t, registry.IsConnected("cp1"))
	assert.Equal(t, 1, registry.Count())
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	registry.Register("cp1", &WebSocket{ChargerId: "cp1"})
	registry.Unregister("cp1")

	_, ok := registry.Lookup("cp1")
	assert.False(t, ok)
	assert.Zero(t, registry.Count())
}

func TestRegistryDuplicateReplaces(t *testing.T) {
	registry := NewRegistry()
	first := &WebSocket{ChargerId: "cp1"}
	second := &WebSocket{ChargerId: "cp1"}
	registry.Register("cp1", first)
	registry.Register("cp1", second)

	found, ok := registry.Lookup("cp1")
	require.True(t, ok)
	assert.Same(t, second, found)
	assert.Equal(t, 1, registry.Count())
	// the first socket is replaced, not closed
	assert.False(t, first.closed)
}

func TestRegistryIds(t *testing.T) {
	registry := NewRegistry()
	registry.Register("cp1", &WebSocket{})
	registry.Register("cp2", &WebSocket{})
	assert.ElementsMatch(t, []string{"cp1", "cp2"}, registry.Ids())
}

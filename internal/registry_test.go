package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryMultiDevice(t *testing.T) {
	registry := NewRegistry()
	var onlines, offlines int
	registry.onOnline = func(int64, string) { onlines++ }
	registry.onOffline = func(int64, string) { offlines++ }

	phone := newTestConn(1, "alice")
	laptop := newTestConn(1, "alice")

	require.NoError(t, registry.Register(phone))
	require.NoError(t, registry.Register(laptop))
	require.Equal(t, 1, onlines, "only the first device triggers online")
	require.True(t, registry.IsOnline(1))
	require.Len(t, registry.ConnectionsFor(1), 2)

	registry.Unregister(phone)
	require.Zero(t, offlines, "user still has a live device")
	require.True(t, registry.IsOnline(1))

	registry.Unregister(laptop)
	require.Equal(t, 1, offlines)
	require.False(t, registry.IsOnline(1))
	require.Empty(t, registry.ConnectionsFor(1))
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConn(7, "bob")
	require.NoError(t, registry.Register(conn))
	require.NoError(t, registry.Register(conn))
	require.Len(t, registry.ConnectionsFor(7), 1)
}

func TestRegistryRejectsCrossUserOwnership(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConn(1, "alice")
	require.NoError(t, registry.Register(conn))

	hijack := &Conn{id: conn.id, userID: 2, username: "mallory", send: make(chan []byte, 1), done: make(chan struct{})}
	err := registry.Register(hijack)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, registry.ConnectionsFor(1), 1)
	require.Empty(t, registry.ConnectionsFor(2))
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	registry := NewRegistry()
	registry.Unregister(newTestConn(9, "ghost"))
	require.Zero(t, registry.ActiveUsers())
}

func TestRegistryVanishedHook(t *testing.T) {
	registry := NewRegistry()
	var vanished []int64
	registry.onVanished = func(userID int64) { vanished = append(vanished, userID) }

	conn := newTestConn(3, "carol")
	require.NoError(t, registry.Register(conn))
	registry.Unregister(conn)
	require.Equal(t, []int64{3}, vanished)
}

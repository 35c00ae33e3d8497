package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomTableSubscriptions(t *testing.T) {
	rooms := NewRoomTable()
	a := newTestConn(1, "alice")
	b := newTestConn(2, "bob")

	rooms.Join(42, a)
	rooms.Join(42, b)
	rooms.Join(7, a)

	require.Len(t, rooms.Subscribers(42, ""), 2)
	require.Len(t, rooms.Subscribers(42, a.id), 1)
	require.Len(t, rooms.Subscribers(7, ""), 1)

	rooms.Leave(42, a)
	subs := rooms.Subscribers(42, "")
	require.Len(t, subs, 1)
	require.Equal(t, b.id, subs[0].id)

	// disconnect cleanup removes every subscription the conn held
	rooms.DropConn(a)
	require.Empty(t, rooms.Subscribers(7, ""))
}

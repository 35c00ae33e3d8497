package internal

import (
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTyping(t *testing.T) (*TypingTracker, *Registry, *Conn, *Conn) {
	t.Helper()
	registry := NewRegistry()
	membership := &fakeMembership{participants: map[int64][]int64{42: {1, 2}}}
	tracker := NewTypingTracker(registry, membership, log.Default())

	typer := newTestConn(1, "alice")
	observer := newTestConn(2, "bob")
	require.NoError(t, registry.Register(typer))
	require.NoError(t, registry.Register(observer))
	return tracker, registry, typer, observer
}

func TestTypingStartBroadcastsToOthers(t *testing.T) {
	tracker, _, typer, observer := newTestTyping(t)

	tracker.Start(42, typer)

	env := recvEvent(t, observer)
	require.Equal(t, EventTypingIndicator, env.Type)
	ind := decodeAs[TypingIndicator](t, env)
	require.Equal(t, int64(42), ind.ChatID)
	require.Equal(t, int64(1), ind.UserID)
	require.True(t, ind.IsTyping)

	require.True(t, noEvent(typer), "typer never hears their own indicator")
}

func TestTypingRefreshRebroadcasts(t *testing.T) {
	tracker, _, typer, observer := newTestTyping(t)

	tracker.Start(42, typer)
	recvEvent(t, observer)
	tracker.Start(42, typer)

	env := recvEvent(t, observer)
	require.True(t, decodeAs[TypingIndicator](t, env).IsTyping)
}

func TestTypingStopBroadcastsOnce(t *testing.T) {
	tracker, _, typer, observer := newTestTyping(t)

	tracker.Start(42, typer)
	recvEvent(t, observer)

	tracker.Stop(42, typer)
	env := recvEvent(t, observer)
	require.False(t, decodeAs[TypingIndicator](t, env).IsTyping)

	// stop without an entry stays silent
	tracker.Stop(42, typer)
	require.True(t, noEvent(observer))
}

func TestTypingSweepExpiresEntries(t *testing.T) {
	tracker, _, typer, observer := newTestTyping(t)

	tracker.Start(42, typer)
	recvEvent(t, observer)

	tracker.sweepExpired(time.Now().Add(tracker.ttl + time.Second))

	env := recvEvent(t, observer)
	ind := decodeAs[TypingIndicator](t, env)
	require.False(t, ind.IsTyping)
	require.Equal(t, int64(1), ind.UserID)

	// the entry is gone, sweeping again broadcasts nothing
	tracker.sweepExpired(time.Now().Add(tracker.ttl + time.Minute))
	require.True(t, noEvent(observer))
}

func TestTypingMultiDeviceExclusion(t *testing.T) {
	registry := NewRegistry()
	membership := &fakeMembership{participants: map[int64][]int64{42: {1, 2}}}
	tracker := NewTypingTracker(registry, membership, log.Default())

	phone := newTestConn(1, "alice")
	laptop := newTestConn(1, "alice")
	observer := newTestConn(2, "bob")
	require.NoError(t, registry.Register(phone))
	require.NoError(t, registry.Register(laptop))
	require.NoError(t, registry.Register(observer))

	tracker.Start(42, phone)

	recvEvent(t, observer)
	require.True(t, noEvent(laptop), "the typer's other devices are excluded too")
}

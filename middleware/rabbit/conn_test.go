package rabbit

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/curtisnewbie/evbus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestConn(t *testing.T) (*Connection, *fakeBroker) {
	fb := newFakeBroker()
	c := NewConnection(ConnParam{
		Host:           "localhost",
		Port:           5672,
		Username:       "guest",
		Password:       "secret",
		ConnectionName: "evbus-test",
		ReconnectDelay: 10 * time.Millisecond,
		Dialer:         fb.dial,
	})
	t.Cleanup(func() { _ = c.Dispose(core.EmptyRail()) })
	return c, fb
}

func TestTryConnect(t *testing.T) {
	c, fb := newTestConn(t)
	rail := core.EmptyRail()
	assert.False(t, c.IsConnected())

	ok, err := c.TryConnect(rail)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, c.IsConnected())

	ok, err = c.TryConnect(rail)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, fb.dialCount())
	assert.Equal(t, "evbus-test", fb.lastConfig.Properties["connection_name"])
	assert.NotContains(t, c.String(), "secret")
}

func TestTryConnectBrokerUnreachable(t *testing.T) {
	c, fb := newTestConn(t)
	fb.setDown(true)

	ok, err := c.TryConnect(core.EmptyRail())
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.False(t, c.IsConnected())

	_, err = c.CreateChannel()
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestReconnectAfterShutdown(t *testing.T) {
	c, fb := newTestConn(t)
	var reconnected atomic.Int32
	c.OnReconnect(func(rail core.Rail) { reconnected.Add(1) })

	ok, err := c.TryConnect(core.EmptyRail())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, reconnected.Load())

	fb.dropConnections()
	require.Eventually(t, func() bool { return c.IsConnected() && reconnected.Load() == 1 }, waitFor, tick)
	assert.Equal(t, 2, fb.dialCount())
	assert.Equal(t, 1, fb.openConns())
}

func TestReconnectWhileBrokerDown(t *testing.T) {
	c, fb := newTestConn(t)
	var reconnected atomic.Int32
	c.OnReconnect(func(rail core.Rail) { reconnected.Add(1) })

	ok, _ := c.TryConnect(core.EmptyRail())
	require.True(t, ok)

	fb.setDown(true)
	fb.dropConnections()
	assert.Never(t, c.IsConnected, 100*time.Millisecond, tick)
	assert.Zero(t, reconnected.Load())

	fb.setDown(false)
	require.Eventually(t, func() bool { return c.IsConnected() && reconnected.Load() == 1 }, waitFor, tick)
}

func TestBlockedConnectionReplaced(t *testing.T) {
	c, fb := newTestConn(t)
	var reconnected atomic.Int32
	c.OnReconnect(func(rail core.Rail) { reconnected.Add(1) })

	ok, _ := c.TryConnect(core.EmptyRail())
	require.True(t, ok)

	fb.blockConnections(true, "low on memory")
	require.Eventually(t, func() bool { return c.IsConnected() && reconnected.Load() == 1 }, waitFor, tick)
	assert.Equal(t, 2, fb.dialCount())
	assert.Equal(t, 1, fb.openConns())

	// unblocked notification alone never replaces the connection
	fb.blockConnections(false, "")
	assert.Never(t, func() bool { return fb.dialCount() > 2 }, 100*time.Millisecond, tick)
	assert.True(t, c.IsConnected())
}

func TestReportChannelError(t *testing.T) {
	c, fb := newTestConn(t)
	ok, _ := c.TryConnect(core.EmptyRail())
	require.True(t, ok)

	c.ReportChannelError(core.EmptyRail(), errors.New("channel closed"))
	assert.Equal(t, 1, fb.dialCount())
	assert.True(t, c.IsConnected())
}

func TestConnectionDispose(t *testing.T) {
	c, fb := newTestConn(t)
	rail := core.EmptyRail()
	ok, _ := c.TryConnect(rail)
	require.True(t, ok)

	require.NoError(t, c.Dispose(rail))
	assert.True(t, c.IsDisposed())
	assert.False(t, c.IsConnected())
	assert.Zero(t, fb.openConns())

	ok, err := c.TryConnect(rail)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNotConnected))

	fb.dropConnections()
	assert.Never(t, func() bool { return fb.dialCount() > 1 }, 50*time.Millisecond, tick)
	assert.NoError(t, c.Dispose(rail))
}

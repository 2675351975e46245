package rabbit

import (
	"fmt"
	"sync"
	"time"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/util/errs"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultReconnectDelay = 5 * time.Second
)

type ConnParam struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Vhost          string
	ConnectionName string        // shown in the management ui.
	ReconnectDelay time.Duration // delay between failed reconnect attempts.
	Dialer         Dialer        // AmqpDialer by default.
}

// Connection exclusively owns one broker connection and re-establishes it whenever it's shut down.
//
// Connect attempts are serialized, so concurrent callers observe the outcome of the attempt that just finished.
type Connection struct {
	param ConnParam

	connMu sync.Mutex // serializes connect attempts.

	mu                 sync.RWMutex // guards fields below.
	transport          Transport
	disposed           bool
	everConnected      bool
	reconnectListeners []func(rail core.Rail)

	disposedCh chan struct{}
	watchers   sync.WaitGroup
}

func NewConnection(p ConnParam) *Connection {
	if p.Dialer == nil {
		p.Dialer = AmqpDialer
	}
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = DefaultReconnectDelay
	}
	return &Connection{
		param:      p,
		disposedCh: make(chan struct{}),
	}
}

// Create Connection using the configured props.
func NewConnectionFromProp() *Connection {
	return NewConnection(ConnParam{
		Host:           core.GetPropStr(PropRabbitMqHost),
		Port:           core.GetPropInt(PropRabbitMqPort),
		Username:       core.GetPropStr(PropRabbitMqUsername),
		Password:       core.GetPropStr(PropRabbitMqPassword),
		Vhost:          core.GetPropStr(PropRabbitMqVhost),
		ConnectionName: core.GetPropStr(core.PropAppName),
		ReconnectDelay: core.GetPropDur(PropRabbitMqReconnectDelay, time.Second),
	})
}

// Whether the transport is open and the connection is not disposed.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnectedLocked()
}

func (c *Connection) isConnectedLocked() bool {
	return !c.disposed && c.transport != nil && !c.transport.IsClosed()
}

func (c *Connection) IsDisposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

// Register listener that is invoked after each successful reconnect, the first connect is excluded.
func (c *Connection) OnReconnect(f func(rail core.Rail)) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectListeners = append(c.reconnectListeners, f)
}

// Try to establish the connection.
//
// If the connection is already established, true is returned immediately. It never panics,
// an unreachable broker results in (false, ErrNotConnected).
func (c *Connection) TryConnect(rail core.Rail) (bool, error) {
	ok, reconnected, err := c.connect(rail)
	if reconnected {
		reconnectTotal.Inc()
		for _, f := range c.copyReconnectListeners() {
			f(rail)
		}
	}
	return ok, err
}

func (c *Connection) connect(rail core.Rail) (ok bool, reconnected bool, err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, false, ErrNotConnected.WithInternalMsg("connection is disposed")
	}
	if c.isConnectedLocked() {
		c.mu.Unlock()
		return true, false, nil
	}
	stale := c.transport
	c.transport = nil
	c.mu.Unlock()

	// replaced wholesale, channels of the stale transport are unusable
	if stale != nil && !stale.IsClosed() {
		rail.WarnIf(stale.Close(), "failed to close stale RabbitMQ connection")
	}

	rail.Infof("Establish connection to RabbitMQ: '%s'", c)
	t, err := c.param.Dialer(c.dialUrl(), amqp.Config{
		Properties: amqp.Table{"connection_name": c.param.ConnectionName},
	})
	if err != nil {
		connectedGauge.Set(0)
		return false, false, ErrNotConnected.Wrapf(err, "failed to connect to '%s'", c)
	}

	closeCh := t.NotifyClose(make(chan *amqp.Error, 1))
	blockedCh := t.NotifyBlocked(make(chan amqp.Blocking, 1))

	c.mu.Lock()
	if c.disposed { // disposed while dialing
		c.mu.Unlock()
		_ = t.Close()
		return false, false, ErrNotConnected.WithInternalMsg("connection is disposed")
	}
	c.transport = t
	reconnected = c.everConnected
	c.everConnected = true
	c.watchers.Add(1)
	c.mu.Unlock()

	connectedGauge.Set(1)
	go c.watch(t, closeCh, blockedCh)

	rail.Infof("Connected to RabbitMQ: '%s'", c)
	return true, reconnected, nil
}

// watch shutdown and blocked notifications of the transport, each of them re-invokes the connect path.
func (c *Connection) watch(t Transport, closeCh chan *amqp.Error, blockedCh chan amqp.Blocking) {
	defer c.watchers.Done()

	for {
		select {
		case <-c.disposedCh:
			return

		case err := <-closeCh:
			if !c.isCurrent(t) {
				return
			}
			connectedGauge.Set(0)
			rail := core.EmptyRail()
			if err != nil {
				rail.Warnf("RabbitMQ connection shutdown detected, %v", ErrConnectionLost.Wrap(err))
			} else {
				rail.Warn("RabbitMQ connection closed, reconnecting")
			}
			c.reconnectLoop(rail)
			return

		case b, ok := <-blockedCh:
			if !ok {
				blockedCh = nil // closed along with the transport, closeCh takes it from here
				continue
			}
			rail := core.EmptyRail()
			if !b.Active {
				rail.Infof("RabbitMQ connection unblocked")
				continue
			}
			if !c.isCurrent(t) {
				return
			}
			// replaced with a new connection, the blocked one is closed
			rail.Warnf("RabbitMQ connection blocked, reason: '%v', reconnecting", b.Reason)
			connectedGauge.Set(0)
			rail.WarnIf(t.Close(), "failed to close blocked RabbitMQ connection")
			c.reconnectLoop(rail)
			return
		}
	}
}

// Report a channel-level exception.
//
// If the connection went down along with the channel, the connect path is re-invoked until
// the connection is re-established or disposed.
func (c *Connection) ReportChannelError(rail core.Rail, err error) {
	if c.IsDisposed() {
		return
	}
	rail.Warnf("RabbitMQ channel exception reported, %v", err)
	if c.IsConnected() {
		return
	}
	c.reconnectLoop(rail)
}

// reconnect until connected or disposed.
func (c *Connection) reconnectLoop(rail core.Rail) {
	for {
		ok, err := c.TryConnect(rail)
		if ok {
			return
		}
		if c.IsDisposed() {
			return
		}
		rail.Errorf("Failed to reconnect RabbitMQ, retry in %v, %v", c.param.ReconnectDelay, err)

		select {
		case <-c.disposedCh:
			return
		case <-time.After(c.param.ReconnectDelay):
		}
	}
}

func (c *Connection) isCurrent(t Transport) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disposed && c.transport == t
}

func (c *Connection) copyReconnectListeners() []func(rail core.Rail) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]func(rail core.Rail), len(c.reconnectListeners))
	copy(cp, c.reconnectListeners)
	return cp
}

// Open a new channel, fails with ErrNotConnected if the connection is not established.
func (c *Connection) CreateChannel() (Channel, error) {
	c.mu.RLock()
	connected := c.isConnectedLocked()
	t := c.transport
	c.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected.New()
	}
	ch, err := t.Channel()
	if err != nil {
		return nil, errs.WrapErrf(err, "failed to open RabbitMQ channel")
	}
	return ch, nil
}

// Dispose the connection, later notifications are ignored and the connection can't be re-established.
//
// It's safe to call Dispose multiple times.
func (c *Connection) Dispose(rail core.Rail) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	close(c.disposedCh)
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	var err error
	if t != nil && !t.IsClosed() {
		rail.Info("Closing RabbitMQ Connection")
		err = t.Close()
	}
	c.watchers.Wait()
	connectedGauge.Set(0)
	return err
}

func (c *Connection) dialUrl() string {
	p := c.param
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", p.Username, p.Password, p.Host, p.Port, p.Vhost)
}

func (c *Connection) String() string {
	p := c.param
	return fmt.Sprintf("%s@%s:%d/%s", p.Username, p.Host, p.Port, p.Vhost)
}

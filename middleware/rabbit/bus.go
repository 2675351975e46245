package rabbit

import (
	"errors"
	"sync"
	"time"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Default QOS
	DefaultQos = 68

	BusExchangeKind  = "direct"
	DefaultExchange  = "evbus.integration"
	jsonContentType  = "application/json"
	consumerTagPrefx = "evbus-"
)

type BusParam struct {
	Exchange         string // shared direct exchange, routing key is the event name.
	Queue            string // durable queue of the consumer group.
	Qos              int    // prefetch count of the consumer channel.
	RequeueOnFailure bool   // nack with requeue when a handler fails, the delivery is otherwise left unacked.
}

// Integration event bus over RabbitMQ.
//
// Events are published to a shared direct exchange using the event name as the routing key, and consumed
// from a durable queue shared by the consumer group. Deliveries are dispatched one at a time on a single
// consumer channel, each to every handler subscribed to the event, and acknowledged only when all of them succeed.
type EventBus struct {
	conn     *Connection
	param    BusParam
	registry *SubscriptionRegistry

	opMu          sync.Mutex          // serializes Subscribe, Unsubscribe, consumer rebuilding and Dispose.
	unbindErr     error               // error of the last unbind, guarded by opMu.
	pendingUnbind map[string]struct{} // removed events still bound on broker, guarded by opMu.

	dispatchMu sync.Mutex // one delivery at a time, across consumer rebuilds.

	mu        sync.RWMutex // guards fields below.
	factories map[string]HandlerFactory
	consumer  *busConsumer
	disposed  bool

	closed chan struct{}
	loops  sync.WaitGroup
}

type busConsumer struct {
	ch       Channel
	tag      string
	stopping chan struct{}
	stopOnce sync.Once
}

func (c *busConsumer) stop() {
	c.stopOnce.Do(func() { close(c.stopping) })
}

func (c *busConsumer) isStopping() bool {
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}

// Create EventBus, the bus takes ownership of the Connection.
func NewEventBus(conn *Connection, p BusParam) (*EventBus, error) {
	if conn == nil {
		return nil, errs.ErrIllegalArgument.WithInternalMsg("connection is nil")
	}
	if strutil.IsBlankStr(p.Queue) {
		return nil, errs.ErrIllegalArgument.WithInternalMsg("queue name of the consumer group is empty")
	}
	if strutil.IsBlankStr(p.Exchange) {
		p.Exchange = DefaultExchange
	}
	if p.Qos < 1 {
		p.Qos = DefaultQos
	}

	b := &EventBus{
		conn:      conn,
		param:     p,
		registry:  NewSubscriptionRegistry(),
		factories:     map[string]HandlerFactory{},
		pendingUnbind: map[string]struct{}{},
		closed:        make(chan struct{}),
	}
	b.registry.OnEventRemoved(b.onEventRemoved)
	conn.OnReconnect(b.onReconnect)
	return b, nil
}

// Create EventBus using the configured props.
func NewEventBusFromProp(conn *Connection) (*EventBus, error) {
	return NewEventBus(conn, BusParam{
		Exchange:         core.GetPropStr(PropRabbitMqBusExchange),
		Queue:            core.GetPropStr(PropRabbitMqBusQueue),
		Qos:              core.GetPropInt(PropRabbitMqConsumerQos),
		RequeueOnFailure: core.GetPropBool(PropRabbitMqBusRequeueOnFailure),
	})
}

func (b *EventBus) Param() BusParam {
	return b.param
}

func (b *EventBus) isDisposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}

// Register handler factory, re-registering the same id replaces the previous factory.
func (b *EventBus) RegisterHandler(handlerId string, factory HandlerFactory) error {
	if strutil.IsBlankStr(handlerId) || factory == nil {
		return ErrInvalidHandlerType.WithInternalMsg("handler id: '%v', factory is nil: %v", handlerId, factory == nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.factories[handlerId] = factory
	return nil
}

func (b *EventBus) factory(handlerId string) (HandlerFactory, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.factories[handlerId]
	return f, ok
}

// Publish event.
//
// The payload is encoded as json (nil payload is an empty body) and sent as a persistent message, with the
// event name as the routing key. Unroutable messages are reported by the broker, they are logged but not
// considered as failure. Returns ErrNotConnected if the broker is unreachable or ErrPublishFailed for
// other failures, the publish is never retried.
func (b *EventBus) Publish(rail core.Rail, eventName string, payload any) error {
	if eventName == "" {
		return errs.ErrIllegalArgument.WithInternalMsg("event name is empty")
	}
	if b.isDisposed() {
		return ErrBusDisposed.New()
	}
	if err := b.ensureConnected(rail); err != nil {
		publishedTotal.WithLabelValues(eventName, resultFailed).Inc()
		return err
	}

	err := b.publish(rail, eventName, payload)
	if err != nil {
		publishedTotal.WithLabelValues(eventName, resultFailed).Inc()
		return err
	}
	publishedTotal.WithLabelValues(eventName, resultOk).Inc()
	return nil
}

func (b *EventBus) publish(rail core.Rail, eventName string, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.WriteJson(payload); err != nil {
			return ErrPublishFailed.Wrapf(err, "failed to marshal payload of event '%v'", eventName)
		}
	}

	ch, err := b.conn.CreateChannel()
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return ErrPublishFailed.Wrapf(err, "event: '%v'", eventName)
	}
	defer ch.Close()

	if err := b.declareExchange(ch); err != nil {
		return ErrPublishFailed.Wrapf(err, "event: '%v'", eventName)
	}
	if err := ch.Confirm(false); err != nil {
		return ErrPublishFailed.Wrapf(err, "channel could not be put into confirm mode")
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	msg := amqp.Publishing{
		ContentType:  jsonContentType,
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      amqp.Table(core.BuildTraceHeadersAny(rail)),
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
	}
	acked, err := ch.PublishConfirmed(rail.Context(), b.param.Exchange, eventName, true, msg)
	if err != nil {
		return ErrPublishFailed.Wrapf(err, "exchange: '%v', event: '%v'", b.param.Exchange, eventName)
	}
	if !acked {
		return ErrPublishFailed.WithInternalMsg("broker failed to confirm, exchange: '%v', event: '%v'", b.param.Exchange, eventName)
	}

	// basic.return always precedes the confirmation
	select {
	case r, ok := <-returns:
		if ok {
			unroutableTotal.WithLabelValues(eventName).Inc()
			rail.Warnf("Event '%v' is unroutable, returned by broker: %v %v, messageId: '%v'", eventName, r.ReplyCode, r.ReplyText, msg.MessageId)
			return nil
		}
	default:
	}

	rail.Debugf("Published event '%v' to exchange '%v', messageId: '%v', payload: '%s'", eventName, b.param.Exchange, msg.MessageId,
		strutil.Ellipsis(strutil.UnsafeByt2Str(body), 512))
	return nil
}

// Subscribe handler to the event.
//
// The queue of the consumer group is bound to the event for the first subscriber, and the consumer
// is started if it's not running yet.
func (b *EventBus) Subscribe(rail core.Rail, eventName string, handlerId string) error {
	if eventName == "" {
		return ErrMissingEventName.WithInternalMsg("handler: '%v'", handlerId)
	}

	if b.isDisposed() {
		return ErrBusDisposed.New()
	}
	if _, ok := b.factory(handlerId); !ok {
		return ErrInvalidHandlerType.WithInternalMsg("handler '%v' is not registered", handlerId)
	}

	// reconnect listener acquires opMu
	if err := b.ensureConnected(rail); err != nil {
		return err
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() {
		return ErrBusDisposed.New()
	}

	if !b.registry.HasSubscriptionsForEvent(eventName) {
		if err := b.withChannel(func(ch Channel) error { return b.bind(ch, eventName) }); err != nil {
			return err
		}
	}
	if err := b.registry.AddSubscription(eventName, handlerId); err != nil {
		return err
	}
	delete(b.pendingUnbind, eventName)

	if err := b.ensureConsumerLocked(rail); err != nil {
		b.registry.RemoveSubscription(eventName, handlerId)
		b.unbindErr = nil
		return err
	}

	rail.Infof("Subscribed handler '%v' to event '%v', queue: '%v'", handlerId, eventName, b.param.Queue)
	return nil
}

// Unsubscribe handler from the event.
//
// The event is unbound from the queue when its last handler is removed, and when nothing is subscribed
// anymore the consumer is cancelled. The durable queue is kept, a later Subscribe resumes consuming it.
//
// Returns ErrNotConnected without changing the subscriptions if the broker is unreachable.
func (b *EventBus) Unsubscribe(rail core.Rail, eventName string, handlerId string) error {
	if b.isDisposed() {
		return ErrBusDisposed.New()
	}

	// reconnect listener acquires opMu
	if err := b.ensureConnected(rail); err != nil {
		return err
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() {
		return ErrBusDisposed.New()
	}
	if !b.conn.IsConnected() {
		return ErrNotConnected.WithInternalMsg("unable to unsubscribe handler '%v' from event '%v'", handlerId, eventName)
	}

	b.unbindErr = nil
	b.registry.RemoveSubscription(eventName, handlerId)
	err := b.unbindErr
	b.unbindErr = nil

	if b.registry.IsEmpty() {
		b.stopConsumerLocked(rail)
	}
	if err == nil {
		rail.Infof("Unsubscribed handler '%v' from event '%v'", handlerId, eventName)
	}
	return err
}

// Invoked by the registry (synchronously, within Unsubscribe) when the last handler of the event is removed.
//
// Events that fail to unbind are unbound again once the connection is re-established.
func (b *EventBus) onEventRemoved(eventName string) {
	if !b.conn.IsConnected() {
		b.pendingUnbind[eventName] = struct{}{}
		b.unbindErr = ErrNotConnected.WithInternalMsg("unable to unbind event '%v'", eventName)
		return
	}
	b.unbindErr = b.withChannel(func(ch Channel) error { return b.unbind(ch, eventName) })
	if b.unbindErr != nil {
		b.pendingUnbind[eventName] = struct{}{}
		return
	}
	delete(b.pendingUnbind, eventName)
}

func (b *EventBus) unbind(ch Channel, eventName string) error {
	if err := ch.QueueUnbind(b.param.Queue, eventName, b.param.Exchange, nil); err != nil {
		return errs.WrapErrf(err, "failed to unbind queue '%v' from exchange '%v', event: '%v'", b.param.Queue, b.param.Exchange, eventName)
	}
	core.Debugf("Unbound queue '%v' from exchange '%v', event: '%v'", b.param.Queue, b.param.Exchange, eventName)
	return nil
}

// unbind events removed while the broker was unreachable, caller must hold opMu.
func (b *EventBus) unbindPendingLocked(rail core.Rail) {
	if len(b.pendingUnbind) < 1 {
		return
	}
	err := b.withChannel(func(ch Channel) error {
		for e := range b.pendingUnbind {
			if !b.registry.HasSubscriptionsForEvent(e) {
				if err := b.unbind(ch, e); err != nil {
					return err
				}
			}
			delete(b.pendingUnbind, e)
		}
		return nil
	})
	if err != nil {
		rail.Errorf("Failed to unbind removed events, pending: %v, %v", len(b.pendingUnbind), err)
		return
	}
	rail.Infof("Unbound events removed while disconnected")
}

func (b *EventBus) HasSubscriptionsForEvent(eventName string) bool {
	return b.registry.HasSubscriptionsForEvent(eventName)
}

func (b *EventBus) IsEmpty() bool {
	return b.registry.IsEmpty()
}

// Snapshot of subscriptions, event name to handler ids.
func (b *EventBus) Subscribed() map[string][]string {
	return b.registry.Snapshot()
}

// Whether the consumer is running.
func (b *EventBus) Consuming() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consumer != nil && !b.consumer.ch.IsClosed()
}

func (b *EventBus) ensureConnected(rail core.Rail) error {
	if b.conn.IsConnected() {
		return nil
	}
	ok, err := b.conn.TryConnect(rail)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConnected.New()
	}
	return nil
}

func (b *EventBus) withChannel(f func(ch Channel) error) error {
	ch, err := b.conn.CreateChannel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return f(ch)
}

func (b *EventBus) declareExchange(ch Channel) error {
	if err := ch.ExchangeDeclare(b.param.Exchange, BusExchangeKind, true, false, false, false, nil); err != nil {
		return errs.WrapErrf(err, "failed to declare exchange, %v", b.param.Exchange)
	}
	return nil
}

func (b *EventBus) declareTopology(ch Channel) error {
	if err := b.declareExchange(ch); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(b.param.Queue, true, false, false, false, nil); err != nil {
		return errs.WrapErrf(err, "failed to declare queue, %v", b.param.Queue)
	}
	return nil
}

func (b *EventBus) bind(ch Channel, eventName string) error {
	if err := b.declareTopology(ch); err != nil {
		return err
	}
	if err := ch.QueueBind(b.param.Queue, eventName, b.param.Exchange, false, nil); err != nil {
		return errs.WrapErrf(err, "failed to declare binding, queue: %v, routingkey: %v, exchange: %v", b.param.Queue, eventName, b.param.Exchange)
	}
	core.Debugf("Declared binding for queue '%s' to exchange '%s' using routingKey '%s'", b.param.Queue, b.param.Exchange, eventName)
	return nil
}

func (b *EventBus) ensureConsumerLocked(rail core.Rail) error {
	b.mu.RLock()
	c := b.consumer
	b.mu.RUnlock()
	if c != nil && !c.ch.IsClosed() && !c.isStopping() {
		return nil
	}
	return b.startConsumerLocked(rail)
}

// start consumer on a new channel, the previous consumer (if any) is stopped.
func (b *EventBus) startConsumerLocked(rail core.Rail) error {
	b.stopConsumerLocked(rail)

	ch, err := b.conn.CreateChannel()
	if err != nil {
		return err
	}
	if err := b.declareTopology(ch); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(b.param.Qos, 0, false); err != nil {
		_ = ch.Close()
		return errs.WrapErrf(err, "failed to set qos")
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancelCh := ch.NotifyCancel(make(chan string, 1))

	tag := consumerTagPrefx + uuid.NewString()
	deliveries, err := ch.Consume(b.param.Queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return errs.WrapErrf(err, "failed to consume queue '%v'", b.param.Queue)
	}

	c := &busConsumer{ch: ch, tag: tag, stopping: make(chan struct{})}
	b.mu.Lock()
	b.consumer = c
	b.mu.Unlock()

	b.loops.Add(2)
	go b.deliveryLoop(c, deliveries)
	go b.watchConsumer(c, closeCh, cancelCh)

	rail.Infof("Started consumer '%v' for queue '%v', qos: %v", tag, b.param.Queue, b.param.Qos)
	return nil
}

func (b *EventBus) stopConsumerLocked(rail core.Rail) {
	b.mu.Lock()
	c := b.consumer
	b.consumer = nil
	b.mu.Unlock()

	if c == nil {
		return
	}
	c.stop()
	if c.ch.IsClosed() {
		return
	}
	rail.WarnIf(c.ch.Cancel(c.tag, false), "failed to cancel consumer")
	rail.WarnIf(c.ch.Close(), "failed to close consumer channel")
	rail.Infof("Stopped consumer '%v' for queue '%v'", c.tag, b.param.Queue)
}

// watch the consumer channel, channel exceptions and broker-side cancellation are recovered.
func (b *EventBus) watchConsumer(c *busConsumer, closeCh chan *amqp.Error, cancelCh chan string) {
	defer b.loops.Done()

	rail := core.EmptyRail()
	select {
	case <-c.stopping:
		return
	case <-b.closed:
		return
	case err := <-closeCh:
		if c.isStopping() {
			return
		}
		if err == nil {
			rail.Infof("Consumer channel '%v' closed", c.tag)
			return
		}
		b.conn.ReportChannelError(rail, ErrConnectionLost.Wrapf(err, "consumer channel '%v' closed", c.tag))
	case tag := <-cancelCh:
		if c.isStopping() {
			return
		}
		rail.Warnf("Consumer '%v' cancelled by broker", tag)
	}
	b.recoverConsumer(rail, c)
}

// restart the consumer until it's running or no longer needed.
func (b *EventBus) recoverConsumer(rail core.Rail, prev *busConsumer) {
	for {
		done, err := b.tryRestartConsumer(rail, prev)
		if done {
			return
		}
		rail.Errorf("Failed to restart consumer, retry in %v, %v", b.conn.param.ReconnectDelay, err)

		select {
		case <-b.closed:
			return
		case <-time.After(b.conn.param.ReconnectDelay):
		}
	}
}

func (b *EventBus) tryRestartConsumer(rail core.Rail, prev *busConsumer) (bool, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() || b.registry.IsEmpty() {
		return true, nil
	}
	b.mu.RLock()
	curr := b.consumer
	b.mu.RUnlock()
	if curr != nil && curr != prev && !curr.ch.IsClosed() {
		return true, nil // already rebuilt
	}
	if !b.conn.IsConnected() {
		return true, nil // rebuilt by the reconnect listener
	}
	return b.startConsumerLocked(rail) == nil, nil
}

// Invoked after the connection is re-established: topology is re-declared, every subscribed event is bound again,
// and consuming is resumed on a new channel. Unacked deliveries of the lost connection are redelivered by the broker.
func (b *EventBus) onReconnect(rail core.Rail) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() {
		return
	}
	b.unbindPendingLocked(rail)
	if b.registry.IsEmpty() {
		b.stopConsumerLocked(rail)
		return
	}

	events := b.registry.EventNames()
	err := b.withChannel(func(ch Channel) error {
		for _, e := range events {
			if err := b.bind(ch, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = b.startConsumerLocked(rail)
	}
	if err != nil {
		rail.Errorf("Failed to rebuild consumer after reconnect, %v", err)
		b.loops.Add(1)
		go func() {
			defer b.loops.Done()
			b.recoverConsumer(rail, nil)
		}()
		return
	}
	rail.Infof("Consumer rebuilt after reconnect, events: %v", events)
}

func (b *EventBus) deliveryLoop(c *busConsumer, deliveries <-chan amqp.Delivery) {
	defer b.loops.Done()
	for d := range deliveries {
		b.dispatchMu.Lock()
		// previous consumer may still be inside a handler, stopping is checked once it's finished
		if !c.isStopping() {
			b.dispatch(d)
		}
		b.dispatchMu.Unlock()
	}
	core.Debugf("Delivery loop of consumer '%v' exited", c.tag)
}

// dispatch delivery to every subscribed handler in registration order.
func (b *EventBus) dispatch(d amqp.Delivery) {
	eventName := d.RoutingKey
	rail := core.LoadPropagationKeysFromHeaders(core.EmptyRail(), map[string]any(d.Headers))

	handlerIds, err := b.registry.GetHandlersForEvent(eventName)
	if err != nil {
		deliveredTotal.WithLabelValues(eventName, outcomeNoHandler).Inc()
		rail.Warnf("No handler subscribes to event '%v', message acked and dropped, messageId: '%v'", eventName, d.MessageId)
		rail.WarnIf(d.Ack(false), "failed to ack delivery")
		return
	}

	for _, hid := range handlerIds {
		factory, ok := b.factory(hid)
		if !ok {
			err = ErrHandlerExecution.Wrap(ErrInvalidHandlerType.WithInternalMsg("handler '%v' is not registered", hid))
			break
		}
		start := time.Now()
		herr := invokeHandler(rail.NextSpan(), hid, factory, eventName, d.Body)
		handlerDuration.WithLabelValues(eventName, hid).Observe(time.Since(start).Seconds())
		if herr != nil {
			err = ErrHandlerExecution.Wrapf(herr, "handler: '%v', event: '%v'", hid, eventName)
			break
		}
	}

	if err == nil {
		deliveredTotal.WithLabelValues(eventName, outcomeAcked).Inc()
		rail.WarnIf(d.Ack(false), "failed to ack delivery")
		return
	}

	deliveredTotal.WithLabelValues(eventName, outcomeFailed).Inc()
	rail.Errorf("Failed to handle event '%v', messageId: '%v', redelivered: %v, payload: '%v', %v",
		eventName, d.MessageId, d.Redelivered, strutil.Ellipsis(strutil.UnsafeByt2Str(d.Body), 512), err)

	if b.param.RequeueOnFailure {
		rail.WarnIf(d.Nack(false, true), "failed to nack delivery")
	}
}

// Stop consuming, clear subscriptions and dispose the connection.
//
// In-flight handler is allowed to finish. It's safe to call Dispose multiple times.
func (b *EventBus) Dispose(rail core.Rail) error {
	b.opMu.Lock()
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		b.opMu.Unlock()
		return nil
	}
	b.disposed = true
	b.mu.Unlock()
	close(b.closed)

	b.stopConsumerLocked(rail)
	b.registry.Clear()
	b.opMu.Unlock()

	err := b.conn.Dispose(rail)
	b.loops.Wait()
	rail.Info("Event bus disposed")
	return err
}

package rabbit

import (
	"context"
	"errors"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// in-memory broker implementing the subset of AMQP 0-9-1 semantics the bus relies on:
// direct exchanges, durable queues, manual acks with prefetch, requeue of unacked deliveries
// when channel closes, mandatory returns, publisher confirms and close/blocked/cancel notifications.
type fakeBroker struct {
	mu         sync.Mutex
	down       bool
	nack       bool
	dialed     int
	returned   int
	exchanges  map[string]string
	queues     map[string]*fakeQueue
	bindings   map[string]map[string][]string // exchange -> routing key -> queues
	conns      []*fakeConn
	lastConfig amqp.Config
}

type fakeQueue struct {
	name      string
	ready     []*fakeMsg
	consumers []*fakeConsumer
}

type fakeMsg struct {
	queue       string
	exchange    string
	key         string
	pub         amqp.Publishing
	redelivered bool
}

type fakeConsumer struct {
	ch         *fakeChannel
	tag        string
	queue      string
	deliveries chan amqp.Delivery
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges: map[string]string{},
		queues:    map[string]*fakeQueue{},
		bindings:  map[string]map[string][]string{},
	}
}

func (b *fakeBroker) dial(url string, config amqp.Config) (Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errors.New("dial tcp 127.0.0.1:5672: connect: connection refused")
	}
	b.dialed++
	b.lastConfig = config
	c := &fakeConn{broker: b}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBroker) nackPublishes(nack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nack = nack
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dialed
}

func (b *fakeBroker) returnedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.returned
}

// force close every open connection, as if the broker was restarted.
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		if !c.closed {
			c.shutdownLocked(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true})
		}
	}
}

func (b *fakeBroker) blockConnections(active bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		if c.closed {
			continue
		}
		for _, l := range c.blocks {
			select {
			case l <- amqp.Blocking{Active: active, Reason: reason}:
			default:
			}
		}
	}
}

// close every channel that is consuming with a channel-level exception, connections stay open.
func (b *fakeBroker) failConsumerChannels() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		for _, ch := range c.channels {
			if !ch.closed && len(ch.consumers) > 0 {
				ch.shutdownLocked(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - unknown delivery tag 1", Server: true})
			}
		}
	}
}

// broker-side cancellation of the consumers of the queue.
func (b *fakeBroker) cancelConsumers(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return
	}
	consumers := q.consumers
	q.consumers = nil
	for _, c := range consumers {
		delete(c.ch.consumers, c.tag)
		close(c.deliveries)
		for _, l := range c.ch.cancels {
			select {
			case l <- c.tag:
			default:
			}
		}
	}
}

func (b *fakeBroker) bindQueue(exchange string, key string, queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindLocked(exchange, key, queue)
}

func (b *fakeBroker) hasBinding(exchange string, key string, queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.bindings[exchange][key] {
		if q == queue {
			return true
		}
	}
	return false
}

func (b *fakeBroker) hasQueue(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[queue]
	return ok
}

// number of ready and unacked messages of the queue.
func (b *fakeBroker) queueDepth(queue string) (ready int, unacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		ready = len(q.ready)
	}
	for _, c := range b.conns {
		for _, ch := range c.channels {
			for _, m := range ch.unacked {
				if m.queue == queue {
					unacked++
				}
			}
		}
	}
	return
}

func (b *fakeBroker) consumerCount(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.consumers)
	}
	return 0
}

func (b *fakeBroker) openConns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

func (b *fakeBroker) bindLocked(exchange string, key string, queue string) {
	keys, ok := b.bindings[exchange]
	if !ok {
		keys = map[string][]string{}
		b.bindings[exchange] = keys
	}
	for _, q := range keys[key] {
		if q == queue {
			return
		}
	}
	keys[key] = append(keys[key], queue)
}

func (b *fakeBroker) dispatchLocked(q *fakeQueue) {
	for len(q.ready) > 0 {
		var target *fakeConsumer
		for _, c := range q.consumers {
			if c.hasCapacity() {
				target = c
				break
			}
		}
		if target == nil {
			return
		}
		m := q.ready[0]
		q.ready = q.ready[1:]

		ch := target.ch
		ch.nextTag++
		tag := ch.nextTag
		ch.unacked[tag] = m
		target.deliveries <- amqp.Delivery{
			Acknowledger: ch,
			Headers:      m.pub.Headers,
			ContentType:  m.pub.ContentType,
			DeliveryMode: m.pub.DeliveryMode,
			MessageId:    m.pub.MessageId,
			Timestamp:    m.pub.Timestamp,
			ConsumerTag:  target.tag,
			DeliveryTag:  tag,
			Redelivered:  m.redelivered,
			Exchange:     m.exchange,
			RoutingKey:   m.key,
			Body:         m.pub.Body,
		}
	}
}

func (c *fakeConsumer) hasCapacity() bool {
	if len(c.deliveries) >= cap(c.deliveries) {
		return false
	}
	if c.ch.prefetch < 1 {
		return true
	}
	return len(c.ch.unacked) < c.ch.prefetch
}

type fakeConn struct {
	broker   *fakeBroker
	closed   bool
	channels []*fakeChannel
	closes   []chan *amqp.Error
	blocks   []chan amqp.Blocking
}

func (c *fakeConn) Channel() (Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{
		broker:    c.broker,
		conn:      c,
		unacked:   map[uint64]*fakeMsg{},
		consumers: map[string]*fakeConsumer{},
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(l chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		close(l)
		return l
	}
	c.closes = append(c.closes, l)
	return l
}

func (c *fakeConn) NotifyBlocked(l chan amqp.Blocking) chan amqp.Blocking {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		close(l)
		return l
	}
	c.blocks = append(c.blocks, l)
	return l
}

func (c *fakeConn) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.shutdownLocked(nil)
	return nil
}

func (c *fakeConn) shutdownLocked(err *amqp.Error) {
	c.closed = true
	for _, l := range c.closes {
		if err != nil {
			select {
			case l <- err:
			default:
			}
		}
		close(l)
	}
	for _, ch := range c.channels {
		if !ch.closed {
			ch.shutdownLocked(err)
		}
	}
	for _, l := range c.blocks {
		close(l)
	}
	c.closes = nil
	c.blocks = nil
}

type fakeChannel struct {
	broker    *fakeBroker
	conn      *fakeConn
	closed    bool
	confirm   bool
	prefetch  int
	nextTag   uint64
	unacked   map[uint64]*fakeMsg
	consumers map[string]*fakeConsumer
	closes    []chan *amqp.Error
	cancels   []chan string
	returns   []chan amqp.Return
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if prev, ok := ch.broker.exchanges[name]; ok && prev != kind {
		err := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'type' for exchange " + name, Server: true}
		ch.shutdownLocked(err)
		return err
	}
	ch.broker.exchanges[name] = kind
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := ch.broker.queues[name]
	if !ok {
		q = &fakeQueue{name: name}
		ch.broker.queues[name] = q
	}
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if err := ch.checkExistsLocked(name, exchange); err != nil {
		return err
	}
	ch.broker.bindLocked(exchange, key, name)
	return nil
}

func (ch *fakeChannel) QueueUnbind(name, key, exchange string, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if err := ch.checkExistsLocked(name, exchange); err != nil {
		return err
	}
	keys := ch.broker.bindings[exchange]
	qs := keys[key]
	for i, q := range qs {
		if q == name {
			keys[key] = append(qs[:i:i], qs[i+1:]...)
			break
		}
	}
	if len(keys[key]) < 1 {
		delete(keys, key)
	}
	return nil
}

func (ch *fakeChannel) checkExistsLocked(queue string, exchange string) error {
	if _, ok := ch.broker.exchanges[exchange]; !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + exchange + "'", Server: true}
		ch.shutdownLocked(err)
		return err
	}
	if _, ok := ch.broker.queues[queue]; !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'", Server: true}
		ch.shutdownLocked(err)
		return err
	}
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := ch.broker.queues[queue]
	if !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'", Server: true}
		ch.shutdownLocked(err)
		return nil, err
	}
	c := &fakeConsumer{ch: ch, tag: consumer, queue: queue, deliveries: make(chan amqp.Delivery, 1024)}
	ch.consumers[consumer] = c
	q.consumers = append(q.consumers, c)
	ch.broker.dispatchLocked(q)
	return c.deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if c, ok := ch.consumers[consumer]; ok {
		ch.removeConsumerLocked(c)
	}
	return nil
}

func (ch *fakeChannel) removeConsumerLocked(c *fakeConsumer) {
	delete(ch.consumers, c.tag)
	if q, ok := ch.broker.queues[c.queue]; ok {
		for i, qc := range q.consumers {
			if qc == c {
				q.consumers = append(q.consumers[:i:i], q.consumers[i+1:]...)
				break
			}
		}
	}
	close(c.deliveries)
}

func (ch *fakeChannel) Confirm(noWait bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *fakeChannel) PublishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (bool, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return false, amqp.ErrClosed
	}
	if _, ok := ch.broker.exchanges[exchange]; !ok && exchange != "" {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + exchange + "'", Server: true}
		ch.shutdownLocked(err)
		return false, err
	}
	if ch.confirm && ch.broker.nack {
		return false, nil
	}

	queues := ch.broker.bindings[exchange][key]
	if len(queues) < 1 && mandatory {
		ch.broker.returned++
		for _, l := range ch.returns {
			select {
			case l <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE", Exchange: exchange, RoutingKey: key, MessageId: msg.MessageId, Body: msg.Body}:
			default:
			}
		}
	}
	for _, qn := range queues {
		q := ch.broker.queues[qn]
		q.ready = append(q.ready, &fakeMsg{queue: qn, exchange: exchange, key: key, pub: msg})
		ch.broker.dispatchLocked(q)
	}
	return true, nil
}

func (ch *fakeChannel) NotifyReturn(l chan amqp.Return) chan amqp.Return {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		close(l)
		return l
	}
	ch.returns = append(ch.returns, l)
	return l
}

func (ch *fakeChannel) NotifyClose(l chan *amqp.Error) chan *amqp.Error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		close(l)
		return l
	}
	ch.closes = append(ch.closes, l)
	return l
}

func (ch *fakeChannel) NotifyCancel(l chan string) chan string {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		close(l)
		return l
	}
	ch.cancels = append(ch.cancels, l)
	return l
}

func (ch *fakeChannel) IsClosed() bool {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.shutdownLocked(nil)
	return nil
}

// close channel, unacked deliveries are requeued in their original order and flagged as redelivered.
func (ch *fakeChannel) shutdownLocked(err *amqp.Error) {
	ch.closed = true

	for _, c := range ch.consumers {
		ch.removeConsumerLocked(c)
	}

	tags := make([]uint64, 0, len(ch.unacked))
	for t := range ch.unacked {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	touched := map[string]*fakeQueue{}
	for _, t := range tags {
		m := ch.unacked[t]
		delete(ch.unacked, t)
		m.redelivered = true
		if q, ok := ch.broker.queues[m.queue]; ok {
			q.ready = append([]*fakeMsg{m}, q.ready...)
			touched[q.name] = q
		}
	}

	for _, l := range ch.closes {
		if err != nil {
			select {
			case l <- err:
			default:
			}
		}
		close(l)
	}
	for _, l := range ch.cancels {
		close(l)
	}
	for _, l := range ch.returns {
		close(l)
	}
	ch.closes, ch.cancels, ch.returns = nil, nil, nil

	for _, q := range touched {
		ch.broker.dispatchLocked(q)
	}
}

func (ch *fakeChannel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, false)
}

func (ch *fakeChannel) Nack(tag uint64, multiple bool, requeue bool) error {
	return ch.settle(tag, multiple, requeue)
}

func (ch *fakeChannel) Reject(tag uint64, requeue bool) error {
	return ch.settle(tag, false, requeue)
}

func (ch *fakeChannel) settle(tag uint64, multiple bool, requeue bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := ch.unacked[tag]; !ok {
		err := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - unknown delivery tag", Server: true}
		ch.shutdownLocked(err)
		return err
	}

	tags := []uint64{tag}
	if multiple {
		tags = tags[:0]
		for t := range ch.unacked {
			if t <= tag {
				tags = append(tags, t)
			}
		}
	}
	touched := map[string]*fakeQueue{}
	for _, t := range tags {
		m := ch.unacked[t]
		delete(ch.unacked, t)
		if q, ok := ch.broker.queues[m.queue]; ok {
			if requeue {
				m.redelivered = true
				q.ready = append([]*fakeMsg{m}, q.ready...)
			}
			touched[q.name] = q
		}
	}
	for _, q := range touched {
		ch.broker.dispatchLocked(q)
	}
	return nil
}

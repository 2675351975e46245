package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	_ Channel   = amqpChannel{}
	_ Transport = amqpTransport{}
)

// Subset of *amqp.Channel used by the bus.
//
// A Channel must not be used by multiple goroutines at the same time.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Confirm(noWait bool) error

	// Publish message and wait for the broker's confirmation (when the channel is in confirm mode).
	//
	// Returns false if the broker nacked the message.
	PublishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (bool, error)

	NotifyReturn(c chan amqp.Return) chan amqp.Return
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	NotifyCancel(c chan string) chan string
	IsClosed() bool
	Close() error
}

// Subset of *amqp.Connection used by the bus.
type Transport interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	NotifyBlocked(c chan amqp.Blocking) chan amqp.Blocking
	IsClosed() bool
	Close() error
}

// Dial broker and create Transport.
type Dialer func(url string, config amqp.Config) (Transport, error)

// Dial broker using amqp091-go.
func AmqpDialer(url string, config amqp.Config) (Transport, error) {
	c, err := amqp.DialConfig(url, config)
	if err != nil {
		return nil, err
	}
	return amqpTransport{c}, nil
}

type amqpTransport struct {
	*amqp.Connection
}

func (t amqpTransport) Channel() (Channel, error) {
	ch, err := t.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return amqpChannel{ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) PublishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (bool, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, false, msg)
	if err != nil {
		return false, err
	}
	if dc == nil { // not in confirm mode
		return true, nil
	}
	return dc.WaitContext(ctx)
}

package rabbit

import "github.com/curtisnewbie/evbus/core"

// misoconfig-section: RabbitMQ Configuration
const (
	// misoconfig-prop: RabbitMQ server host | localhost
	PropRabbitMqHost = "rabbitmq.host"

	// misoconfig-prop: RabbitMQ server port | 5672
	PropRabbitMqPort = "rabbitmq.port"

	// misoconfig-prop: username used to connect to server | guest
	PropRabbitMqUsername = "rabbitmq.username"

	// misoconfig-prop: password used to connect to server | guest
	PropRabbitMqPassword = "rabbitmq.password"

	// misoconfig-prop: virtual host
	PropRabbitMqVhost = "rabbitmq.vhost"

	// misoconfig-prop: consumer QOS | 68
	PropRabbitMqConsumerQos = "rabbitmq.consumer.qos"

	// misoconfig-prop: delay (in seconds) between reconnect attempts | 5
	PropRabbitMqReconnectDelay = "rabbitmq.reconnect.delay"

	// misoconfig-prop: name of the shared direct exchange for integration events | evbus.integration
	PropRabbitMqBusExchange = "rabbitmq.bus.exchange"

	// misoconfig-prop: name of the durable queue of this consumer group | ${app.name}
	PropRabbitMqBusQueue = "rabbitmq.bus.queue"

	// misoconfig-prop: nack and requeue the delivery when a handler fails, otherwise it's left unacked | false
	PropRabbitMqBusRequeueOnFailure = "rabbitmq.bus.requeue-on-failure"
)

// misoconfig-default-start
func init() {
	core.SetDefProp(PropRabbitMqHost, "localhost")
	core.SetDefProp(PropRabbitMqPort, 5672)
	core.SetDefProp(PropRabbitMqUsername, "guest")
	core.SetDefProp(PropRabbitMqPassword, "guest")
	core.SetDefProp(PropRabbitMqConsumerQos, DefaultQos)
	core.SetDefProp(PropRabbitMqReconnectDelay, 5)
	core.SetDefProp(PropRabbitMqBusExchange, "evbus.integration")
	core.SetDefProp(PropRabbitMqBusQueue, "${app.name}")
	core.SetDefProp(PropRabbitMqBusRequeueOnFailure, false)
}

// misoconfig-default-end

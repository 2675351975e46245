package rabbit

import (
	"github.com/curtisnewbie/evbus/core"
)

// EventPipeline is a thin typed wrapper of EventBus.Publish, RegisterHandler and Subscribe for a single event.
//
// Use NewEventPipeline to instantiate.
type EventPipeline[T any] struct {
	bus        *EventBus
	name       string
	logPayload bool
}

// Create new EventPipeline for the event.
func NewEventPipeline[T any](bus *EventBus, eventName string) *EventPipeline[T] {
	return &EventPipeline[T]{bus: bus, name: eventName}
}

// Name of the event.
func (ep *EventPipeline[T]) Name() string {
	return ep.name
}

// Log payload in listener.
func (ep *EventPipeline[T]) LogPayload() *EventPipeline[T] {
	ep.logPayload = true
	return ep
}

// Call EventBus.Publish.
func (ep *EventPipeline[T]) Send(rail core.Rail, event T) error {
	return ep.bus.Publish(rail, ep.name, event)
}

// Register listener as a JsonHandler and subscribe it to the event.
func (ep *EventPipeline[T]) Listen(rail core.Rail, handlerId string, listener func(rail core.Rail, t T) error) error {
	h := JsonHandler[T](func(rail core.Rail, eventName string, t T) error {
		if ep.logPayload {
			rail.Infof("Pipeline %s receive %+v", eventName, t)
		} else {
			rail.Infof("Pipeline %s receive event", eventName)
		}
		return listener(rail, t)
	})
	if err := ep.bus.RegisterHandler(handlerId, Singleton(h)); err != nil {
		return err
	}
	return ep.bus.Subscribe(rail, ep.name, handlerId)
}

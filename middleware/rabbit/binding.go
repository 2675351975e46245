package rabbit

import (
	"github.com/curtisnewbie/evbus/core"
)

// Handler declared along with the events it subscribes to.
type HandlerBinding struct {
	Id         string         // handler id.
	EventNames []string       // at least one event name is required.
	New        HandlerFactory // creates handler instance for each delivery.
}

// Create HandlerBinding for a stateless handler.
func Bind(handlerId string, h IntegrationEventHandler, eventNames ...string) HandlerBinding {
	return HandlerBinding{Id: handlerId, EventNames: eventNames, New: Singleton(h)}
}

// Register every handler and subscribe it to each of its declared events.
//
// Bindings are validated before anything is registered, a binding without event name fails with ErrMissingEventName.
// Subscription stops at the first error, subscriptions made before it are kept.
func (b *EventBus) SubscribeAll(rail core.Rail, bindings ...HandlerBinding) error {
	for _, hb := range bindings {
		if len(hb.EventNames) < 1 {
			return ErrMissingEventName.WithInternalMsg("handler: '%v'", hb.Id)
		}
		for _, en := range hb.EventNames {
			if en == "" {
				return ErrMissingEventName.WithInternalMsg("handler: '%v' declares empty event name", hb.Id)
			}
		}
		if hb.New == nil {
			return ErrInvalidHandlerType.WithInternalMsg("handler '%v' has no factory", hb.Id)
		}
	}

	for _, hb := range bindings {
		if err := b.RegisterHandler(hb.Id, hb.New); err != nil {
			return err
		}
	}
	for _, hb := range bindings {
		for _, en := range hb.EventNames {
			if err := b.Subscribe(rail, en, hb.Id); err != nil {
				return err
			}
		}
	}
	return nil
}

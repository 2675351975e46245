package rabbit

import (
	"sort"
	"sync"
)

// In-memory mapping of event name to the ordered handler ids subscribed to it.
//
// Safe for concurrent use.
type SubscriptionRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]string

	listenerMu sync.RWMutex
	onRemoved  []func(eventName string)
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{handlers: map[string][]string{}}
}

// Register listener invoked (exactly once per eviction) when the last handler of an event is removed.
func (r *SubscriptionRegistry) OnEventRemoved(f func(eventName string)) {
	if f == nil {
		return
	}
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.onRemoved = append(r.onRemoved, f)
}

// Add subscription, ErrDuplicateSubscription is returned if the handler already subscribes to the event.
func (r *SubscriptionRegistry) AddSubscription(eventName string, handlerId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers[eventName] {
		if h == handlerId {
			return ErrDuplicateSubscription.WithInternalMsg("event: '%v', handler: '%v'", eventName, handlerId)
		}
	}
	r.handlers[eventName] = append(r.handlers[eventName], handlerId)
	return nil
}

// Remove subscription, removing an unknown subscription is a no-op.
func (r *SubscriptionRegistry) RemoveSubscription(eventName string, handlerId string) {
	if r.removeSubscription(eventName, handlerId) {
		r.fireEventRemoved(eventName)
	}
}

func (r *SubscriptionRegistry) removeSubscription(eventName string, handlerId string) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs, ok := r.handlers[eventName]
	if !ok {
		return false
	}
	for i, h := range hs {
		if h != handlerId {
			continue
		}
		rest := make([]string, 0, len(hs)-1)
		rest = append(rest, hs[:i]...)
		rest = append(rest, hs[i+1:]...)
		if len(rest) < 1 {
			delete(r.handlers, eventName)
			return true
		}
		r.handlers[eventName] = rest
		return false
	}
	return false
}

func (r *SubscriptionRegistry) fireEventRemoved(eventName string) {
	r.listenerMu.RLock()
	listeners := make([]func(string), len(r.onRemoved))
	copy(listeners, r.onRemoved)
	r.listenerMu.RUnlock()

	for _, f := range listeners {
		f(eventName)
	}
}

func (r *SubscriptionRegistry) HasSubscriptionsForEvent(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[eventName]
	return ok
}

// Get handler ids of the event in registration order.
//
// The returned slice is a copy, ErrNoSubscription is returned if nothing subscribes to the event.
func (r *SubscriptionRegistry) GetHandlersForEvent(eventName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs, ok := r.handlers[eventName]
	if !ok {
		return nil, ErrNoSubscription.WithInternalMsg("event: '%v'", eventName)
	}
	cp := make([]string, len(hs))
	copy(cp, hs)
	return cp, nil
}

func (r *SubscriptionRegistry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers) < 1
}

// Remove all subscriptions, OnEventRemoved listeners are not invoked.
func (r *SubscriptionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = map[string][]string{}
}

// Sorted names of events that have at least one subscription.
func (r *SubscriptionRegistry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot of all subscriptions.
func (r *SubscriptionRegistry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := make(map[string][]string, len(r.handlers))
	for k, v := range r.handlers {
		cp := make([]string, len(v))
		copy(cp, v)
		m[k] = cp
	}
	return m
}

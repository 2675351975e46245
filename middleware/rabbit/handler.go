package rabbit

import (
	"bytes"
	"reflect"
	"runtime/debug"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
)

var (
	_ IntegrationEventHandler = RawHandler(nil)
	_ IntegrationEventHandler = JsonHandler[any](nil)
	_ IntegrationEventHandler = DocumentHandler(nil)
)

var nullLiteral = []byte("null")

type HandlerKind int

const (
	HandlerKindRaw      HandlerKind = iota // payload as raw string.
	HandlerKindJson                        // payload decoded into a declared type.
	HandlerKindDocument                    // payload parsed into json.Document.
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerKindRaw:
		return "raw"
	case HandlerKindJson:
		return "json"
	case HandlerKindDocument:
		return "document"
	}
	return "unknown"
}

// Integration event handler.
//
// Handle returns error to signal failure, the delivery is then left unacknowledged.
type IntegrationEventHandler interface {
	Kind() HandlerKind
	Handle(rail core.Rail, eventName string, payload []byte) error
}

// Create a fresh handler instance for each delivery.
type HandlerFactory func(rail core.Rail) (IntegrationEventHandler, error)

// Create HandlerFactory that always returns the same (stateless) handler.
func Singleton(h IntegrationEventHandler) HandlerFactory {
	return func(rail core.Rail) (IntegrationEventHandler, error) {
		return h, nil
	}
}

// Handler receiving the payload as is.
type RawHandler func(rail core.Rail, eventName string, payload string) error

func (h RawHandler) Kind() HandlerKind {
	return HandlerKindRaw
}

func (h RawHandler) Handle(rail core.Rail, eventName string, payload []byte) error {
	return h(rail, eventName, string(payload))
}

// Handler receiving the payload decoded as T.
//
// Decode failure is a handler failure. Empty (or null) payload is rejected with ErrNullPayload,
// unless T is a pointer, map, slice or interface, which then receives nil.
type JsonHandler[T any] func(rail core.Rail, eventName string, event T) error

func (h JsonHandler[T]) Kind() HandlerKind {
	return HandlerKindJson
}

func (h JsonHandler[T]) Handle(rail core.Rail, eventName string, payload []byte) error {
	if isNullPayload(payload) {
		var zero T
		if !isNilable(reflect.TypeOf((*T)(nil)).Elem()) {
			return ErrNullPayload.WithInternalMsg("event: '%v', type: %T", eventName, zero)
		}
		return h(rail, eventName, zero)
	}

	t, err := json.ParseJsonAs[T](payload)
	if err != nil {
		return errs.WrapErrf(err, "failed to decode payload of event '%v' as %T, payload: '%v'",
			eventName, t, strutil.Ellipsis(string(payload), 256))
	}
	return h(rail, eventName, t)
}

// Handler receiving the payload as a generic json.Document, empty payload is a null Document.
type DocumentHandler func(rail core.Rail, eventName string, doc json.Document) error

func (h DocumentHandler) Kind() HandlerKind {
	return HandlerKindDocument
}

func (h DocumentHandler) Handle(rail core.Rail, eventName string, payload []byte) error {
	doc, err := json.ParseDocument(payload)
	if err != nil {
		return errs.WrapErrf(err, "failed to parse payload of event '%v', payload: '%v'",
			eventName, strutil.Ellipsis(string(payload), 256))
	}
	return h(rail, eventName, doc)
}

// Create handler instance using factory and invoke it, panics are recovered as errors.
func invokeHandler(rail core.Rail, handlerId string, factory HandlerFactory, eventName string, payload []byte) (err error) {
	defer func() {
		if v := recover(); v != nil {
			rail.Errorf("Panic recovered in handler '%v' for event '%v', %v\n%v", handlerId, eventName, v, strutil.UnsafeByt2Str(debug.Stack()))
			err = errs.NewErrf("handler '%v' panic recovered, %v", handlerId, v)
		}
	}()

	h, err := factory(rail)
	if err != nil {
		return errs.WrapErrf(err, "failed to create handler '%v'", handlerId)
	}
	if h == nil {
		return errs.NewErrf("handler factory of '%v' returns nil", handlerId)
	}
	return h.Handle(rail, eventName, payload)
}

func isNullPayload(payload []byte) bool {
	p := bytes.TrimSpace(payload)
	return len(p) < 1 || bytes.Equal(p, nullLiteral)
}

func isNilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

package rabbit

import "github.com/curtisnewbie/evbus/util/errs"

const (
	ErrCodeNotConnected          = "EVBUS_NOT_CONNECTED"
	ErrCodeDuplicateSubscription = "EVBUS_DUPLICATE_SUBSCRIPTION"
	ErrCodeInvalidHandlerType    = "EVBUS_INVALID_HANDLER_TYPE"
	ErrCodePublishFailed         = "EVBUS_PUBLISH_FAILED"
	ErrCodeHandlerExecution      = "EVBUS_HANDLER_EXECUTION"
	ErrCodeConnectionLost        = "EVBUS_CONNECTION_LOST"
	ErrCodeNoSubscription        = "EVBUS_NO_SUBSCRIPTION"
	ErrCodeMissingEventName      = "EVBUS_MISSING_EVENT_NAME"
	ErrCodeBusDisposed           = "EVBUS_DISPOSED"
	ErrCodeNullPayload           = "EVBUS_NULL_PAYLOAD"
)

// Errors are matched by code, e.g., errors.Is(err, ErrNotConnected).
var (
	ErrNotConnected          = errs.NewErrfCode(ErrCodeNotConnected, "broker is not connected")
	ErrDuplicateSubscription = errs.NewErrfCode(ErrCodeDuplicateSubscription, "handler already subscribed to the event")
	ErrInvalidHandlerType    = errs.NewErrfCode(ErrCodeInvalidHandlerType, "handler is not registered")
	ErrPublishFailed         = errs.NewErrfCode(ErrCodePublishFailed, "failed to publish event")
	ErrHandlerExecution      = errs.NewErrfCode(ErrCodeHandlerExecution, "event handler failed")
	ErrConnectionLost        = errs.NewErrfCode(ErrCodeConnectionLost, "broker connection lost")
	ErrNoSubscription        = errs.NewErrfCode(ErrCodeNoSubscription, "no subscription for event")
	ErrMissingEventName      = errs.NewErrfCode(ErrCodeMissingEventName, "handler binding declares no event name")
	ErrBusDisposed           = errs.NewErrfCode(ErrCodeBusDisposed, "event bus is disposed")
	ErrNullPayload           = errs.NewErrfCode(ErrCodeNullPayload, "event payload is null")
)

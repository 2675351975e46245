package core

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

const (
	XTraceId = "X-B3-TraceId"
	XSpanId  = "X-B3-SpanId"
)

var (
	propagationKeys   = []string{XTraceId, XSpanId}
	propagationKeysMu sync.RWMutex
)

// Rail, an object that carries trace infromation along with the execution.
type Rail struct {
	ctx context.Context
}

func (r Rail) WarnIf(err error, op string, args ...any) {
	if err != nil {
		r.Warnf(fmt.Sprintf("%v - %v, %v", getCallerFn(), op, err), args...)
	}
}

func (r Rail) IsDone() bool {
	return r.ctx.Err() != nil
}

func (r Rail) Context() context.Context {
	return r.ctx
}

func (r Rail) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r Rail) CtxValue(key string) any {
	return r.ctx.Value(key)
}

func (r Rail) CtxValStr(key string) string {
	if s, ok := GetCtxStr(r.ctx, key); ok {
		return s
	}
	return ""
}

func (r Rail) TraceId() string {
	return r.CtxValStr(XTraceId)
}

func (r Rail) SpanId() string {
	return r.CtxValStr(XSpanId)
}

func (r Rail) fields() logrus.Fields {
	return logrus.Fields{XSpanId: r.ctx.Value(XSpanId), XTraceId: r.ctx.Value(XTraceId), callerField: getCallerFnAt(4)}
}

func (r Rail) Tracef(format string, args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	logger.WithFields(r.fields()).Tracef(format, args...)
}

func (r Rail) Debugf(format string, args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logger.WithFields(r.fields()).Debugf(format, args...)
}

func (r Rail) Infof(format string, args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.InfoLevel) {
		return
	}
	logger.WithFields(r.fields()).Infof(format, args...)
}

func (r Rail) Warnf(format string, args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.WarnLevel) {
		return
	}
	format = appendErrStack(true, format, args...)
	logger.WithFields(r.fields()).Warn(format)
}

func (r Rail) Errorf(format string, args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.ErrorLevel) {
		return
	}
	format = appendErrStack(true, format, args...)
	logger.WithFields(r.fields()).Error(format)
}

func (r Rail) Debug(args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logger.WithFields(r.fields()).Debug(args...)
}

func (r Rail) Info(args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.InfoLevel) {
		return
	}
	logger.WithFields(r.fields()).Info(args...)
}

func (r Rail) Warn(args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.WarnLevel) {
		return
	}
	if len(args) == 1 {
		if v, ok := args[0].(error); ok && v != nil {
			logger.WithFields(r.fields()).Warn(appendErrStack(false, v.Error(), v))
			return
		}
	}
	logger.WithFields(r.fields()).Warn(args...)
}

func (r Rail) Error(args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.ErrorLevel) {
		return
	}
	if len(args) == 1 {
		if v, ok := args[0].(error); ok && v != nil {
			logger.WithFields(r.fields()).Error(appendErrStack(false, v.Error(), v))
			return
		}
	}
	logger.WithFields(r.fields()).Error(args...)
}

func (r Rail) WithCtxVal(key string, val any) Rail {
	ctx := context.WithValue(r.ctx, key, val) //lint:ignore SA1029 keys must be exposed for user to use
	return NewRail(ctx)
}

// Create a new Rail with a new SpanId and a new Context
func (r Rail) NextSpan() Rail {
	return r.NewCtx().WithCtxVal(XSpanId, NewSpanId())
}

// Create a new Rail with a new Context, propagated values are copied.
func (r Rail) NewCtx() Rail {
	prev := r.ctx
	r.ctx = context.Background() // avoid using the cancelled context in a new goroutine

	UsePropagationKeys(func(k string) {
		if v := prev.Value(k); v != nil {
			r = r.WithCtxVal(k, v)
		}
	})
	return r
}

// Create new Rail with context's CancelFunc
func (r Rail) WithCancel() (Rail, context.CancelFunc) {
	cc, cancel := context.WithCancel(r.ctx)
	return NewRail(cc), cancel
}

// Create new Rail with timeout and context's CancelFunc
func (r Rail) WithTimeout(timeout time.Duration) (Rail, context.CancelFunc) {
	cc, cancel := context.WithTimeout(r.ctx, timeout)
	return NewRail(cc), cancel
}

// Create empty Rail.
func EmptyRail() Rail {
	return NewRail(context.Background())
}

// Create new TraceId.
func NewTraceId() string {
	t := [8]byte{}
	binary.NativeEndian.PutUint64(t[:], rand.Uint64())
	return hex.EncodeToString(t[:])
}

// Create new SpanId.
func NewSpanId() string {
	s := [8]byte{}
	binary.NativeEndian.PutUint64(s[:], rand.Uint64())
	return hex.EncodeToString(s[:])
}

// Create new Rail from context.
func NewRail(ctx context.Context) Rail {
	if ctx.Value(XSpanId) == nil {
		ctx = context.WithValue(ctx, XSpanId, NewSpanId()) //lint:ignore SA1029 keys must be exposed for user to use
	}
	if ctx.Value(XTraceId) == nil {
		ctx = context.WithValue(ctx, XTraceId, NewTraceId()) //lint:ignore SA1029 keys must be exposed for user to use
	}
	return Rail{ctx: ctx}
}

// Get value from context as a string
func GetCtxStr(ctx context.Context, key string) (string, bool) {
	v := ctx.Value(key)
	if v == nil {
		return "", false
	}
	return cast.ToString(v), true
}

// Add propagation key for tracing
func AddPropagationKeys(keys ...string) {
	propagationKeysMu.Lock()
	defer propagationKeysMu.Unlock()
outer:
	for _, k := range keys {
		if k == "" {
			continue
		}
		for _, pk := range propagationKeys {
			if pk == k {
				continue outer
			}
		}
		propagationKeys = append(propagationKeys, k)
	}
}

// Get all existing propagation key
func GetPropagationKeys() []string {
	propagationKeysMu.RLock()
	defer propagationKeysMu.RUnlock()
	cp := make([]string, len(propagationKeys))
	copy(cp, propagationKeys)
	return cp
}

func UsePropagationKeys(forEach func(key string)) {
	for _, k := range GetPropagationKeys() {
		forEach(k)
	}
}

// Load propagation keys from configuration.
func LoadPropagationKeys(r Rail) {
	keys := GetPropStrSlice(PropTracingPropagationKeys)
	if len(keys) < 1 {
		return
	}
	AddPropagationKeys(keys...)
	r.Infof("Loaded propagation keys for tracing: %v", keys)
}

// Restore propagated values (e.g., message headers) into a new Rail.
func LoadPropagationKeysFromHeaders[T any](rail Rail, headers map[string]T) Rail {
	UsePropagationKeys(func(k string) {
		if hv, ok := headers[k]; ok {
			rail = rail.WithCtxVal(k, cast.ToString(hv))
		}
	})
	return rail
}

// Build headers from the propagated values carried by the Rail.
func BuildTraceHeadersAny(rail Rail) map[string]any {
	headers := map[string]any{}
	UsePropagationKeys(func(key string) {
		if v := rail.CtxValue(key); v != nil {
			headers[key] = cast.ToString(v)
		}
	})
	return headers
}

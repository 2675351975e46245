package errs

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

const (
	ErrCodeIllegalArgument = "ILLEGAL_ARGUMENT"
)

var (
	ErrIllegalArgument = NewErrfCode(ErrCodeIllegalArgument, "illegal argument")
)

// Error carrying an optional code, a message, extra context and the stacktrace where it's created.
//
// Errors sharing the same non-empty code match each other in errors.Is, so package level
// sentinels can be derived from with WithInternalMsg, Wrap and Wrapf:
//
//	var ErrNotConnected = errs.NewErrfCode("NOT_CONNECTED", "broker is not connected")
//
//	err := ErrNotConnected.WithInternalMsg("host: %v", host)
//	errors.Is(err, ErrNotConnected) // true
type Err struct {
	code        string
	msg         string
	internalMsg string
	stack       string
	cause       error
}

func (e *Err) Code() string {
	return e.code
}

// Derive an error with the same code and message wrapping the cause, nil cause yields nil.
func (e *Err) Wrap(cause error) error {
	if cause == nil {
		return nil
	}
	n := e.derive()
	n.cause = cause
	return n
}

// Same as Wrap, with extra context.
func (e *Err) Wrapf(cause error, internalMsg string, args ...any) error {
	if cause == nil {
		return nil
	}
	n := e.derive()
	n.cause = cause
	n.internalMsg = sprintf(internalMsg, args...)
	return n
}

// Derive an error with the same code and message but different context.
func (e *Err) WithInternalMsg(msg string, args ...any) *Err {
	n := e.derive()
	n.internalMsg = sprintf(msg, args...)
	return n
}

// Derive an error with a fresh stacktrace.
func (e *Err) New() error {
	return e.derive()
}

func (e *Err) derive() *Err {
	n := *e
	n.stack = stack(4)
	return &n
}

func (e *Err) Error() string {
	tok := make([]string, 0, 3)
	if e.msg != "" {
		tok = append(tok, e.msg)
	}
	if e.internalMsg != "" {
		tok = append(tok, e.internalMsg)
	}
	if e.cause != nil {
		tok = append(tok, e.cause.Error())
	}
	return strings.Join(tok, ", ")
}

// Errors match when both carry the same non-empty code.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && e.code != "" && e.code == t.code
}

func (e *Err) Unwrap() error {
	return e.cause
}

func NewErrf(msg string, args ...any) *Err {
	return &Err{msg: sprintf(msg, args...), stack: stack(3)}
}

func NewErrfCode(code string, msg string, args ...any) *Err {
	return &Err{code: code, msg: sprintf(msg, args...), stack: stack(3)}
}

// Attach stacktrace to err, nil is returned for nil err and *Err is returned as is.
func WrapErr(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Err); ok {
		return e
	}
	return &Err{cause: err, stack: stack(3)}
}

// Wrap err with message, nil is returned for nil err.
func WrapErrf(err error, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Err{msg: sprintf(msg, args...), cause: err, stack: stack(3)}
}

// Find the innermost stacktrace carried by the error chain.
func UnwrapErrStack(err error) (string, bool) {
	var st string
	for e := err; e != nil; {
		if me, ok := e.(*Err); ok && me != nil {
			st = me.stack
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return st, st != ""
}

func sprintf(msg string, args ...any) string {
	if len(args) < 1 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

var pcPool = sync.Pool{
	New: func() any {
		v := make([]uintptr, 50)
		return &v
	},
}

func stack(skip int) string {
	pcs := pcPool.Get().(*[]uintptr)
	defer pcPool.Put(pcs)

	n := runtime.Callers(skip, *pcs)
	frames := runtime.CallersFrames((*pcs)[:n])
	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "\n\t%v\n\t\t%v:%v", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

const (
	callerField = "caller"

	traceSpanIdWidth = 16
	fnWidth          = 30
	levelWidth       = 5
)

var (
	logger = logrus.StandardLogger()

	logBufPool = sync.Pool{
		New: func() any {
			return &bytes.Buffer{}
		},
	}

	// logger calls getCallerFn very frequently
	callerUintptrPool = sync.Pool{
		New: func() any {
			p := make([]uintptr, 4)
			return &p
		},
	}
)

func init() {
	logrus.SetReportCaller(false) // set manually using Rail
	logrus.SetFormatter(CustomFormatter())
}

type CTFormatter struct {
}

func (c *CTFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var fn string
	if caller, ok := entry.Data[callerField].(string); ok {
		fn = caller
	}

	var traceId string
	var spanId string
	if fields := entry.Data; fields != nil {
		if v, ok := fields[XTraceId].(string); ok {
			traceId = v
		}
		if v, ok := fields[XSpanId].(string); ok {
			spanId = v
		}
	}

	levelstr := toLevelStr(entry.Level)

	b := logBufPool.Get().(*bytes.Buffer)
	defer putLogBuf(b)

	b.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelstr)
	if len(levelstr) < levelWidth {
		b.WriteString(strutil.Spaces(levelWidth - len(levelstr)))
	}

	b.WriteString(" [")
	b.WriteString(traceId)
	if len(traceId) < traceSpanIdWidth {
		b.WriteString(strutil.Spaces(traceSpanIdWidth - len(traceId)))
	}
	b.WriteByte(',')
	b.WriteString(spanId)
	if len(spanId) < traceSpanIdWidth {
		b.WriteString(strutil.Spaces(traceSpanIdWidth - len(spanId)))
	}

	b.WriteString("]  ")
	b.WriteString(fn)
	if len(fn) < fnWidth {
		b.WriteString(strutil.Spaces(fnWidth - len(fn)))
	}

	b.WriteString(" : ")
	b.WriteString(entry.Message)
	b.WriteByte('\n')

	// the pooled buffer is reused once Format returns
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out, nil
}

func putLogBuf(b *bytes.Buffer) {
	b.Reset()
	logBufPool.Put(b)
}

type NewRollingLogFileParam struct {
	Filename   string // filename
	MaxSize    int    // max file size in mb
	MaxAge     int    // max age in day
	MaxBackups int    // max number of files
}

// Create rolling file based logger
func BuildRollingLogFileWriter(p NewRollingLogFileParam) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   p.Filename,
		MaxSize:    p.MaxSize,    // megabytes
		MaxAge:     p.MaxAge,     // days
		MaxBackups: p.MaxBackups, // num of files
		LocalTime:  true,
		Compress:   false,
	}
}

func toLevelStr(level logrus.Level) string {
	switch level {
	case logrus.TraceLevel:
		return "TRACE"
	case logrus.DebugLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel:
		return "ERROR"
	case logrus.FatalLevel:
		return "FATAL"
	case logrus.PanicLevel:
		return "PANIC"
	}
	return "UNKNOWN"
}

// Get custom formatter logrus
func CustomFormatter() logrus.Formatter {
	return &CTFormatter{}
}

// Check whether current log level is DEBUG
func IsDebugLevel() bool {
	return logrus.GetLevel() == logrus.DebugLevel
}

// Parse log level
func ParseLogLevel(logLevel string) (logrus.Level, bool) {
	switch strings.ToUpper(logLevel) {
	case "INFO":
		return logrus.InfoLevel, true
	case "DEBUG":
		return logrus.DebugLevel, true
	case "WARN":
		return logrus.WarnLevel, true
	case "ERROR":
		return logrus.ErrorLevel, true
	case "TRACE":
		return logrus.TraceLevel, true
	case "FATAL":
		return logrus.FatalLevel, true
	case "PANIC":
		return logrus.PanicLevel, true
	}
	return logrus.InfoLevel, false
}

func SetLogLevel(level string) {
	ll, ok := ParseLogLevel(level)
	if !ok {
		return
	}
	logrus.SetLevel(ll)
}

func SetLogOutput(out io.Writer) {
	logrus.SetOutput(out)
}

// Configure logging level and output target based on loaded configuration.
//
// When 'logging.rolling.file' is set, logs are written to the rolling file, and with
// 'logging.file.rotate-daily' the file is rotated at 00:00:00 by the scheduler.
func ConfigureLogging(rail Rail) error {
	var out io.Writer = os.Stdout

	if HasProp(PropLoggingRollingFile) {
		log := BuildRollingLogFileWriter(NewRollingLogFileParam{
			Filename:   GetPropStr(PropLoggingRollingFile),
			MaxSize:    GetPropInt(PropLoggingRollingFileMaxSize), // megabytes
			MaxAge:     GetPropInt(PropLoggingRollingFileMaxAge),  // days
			MaxBackups: GetPropInt(PropLoggingRollingFileMaxBackups),
		})
		if GetPropBool(PropLoggingRollingFileOnly) {
			out = log
		} else {
			out = io.MultiWriter(os.Stdout, log)
		}

		if GetPropBool(PropLoggingRollingFileRotateDaily) {
			if err := ScheduleCron(Job{
				Name:            "RotateLogJob",
				Cron:            "0 0 0 * * ?",
				CronWithSeconds: true,
				Run:             func(r Rail) error { return log.Rotate() },
			}); err != nil {
				return errs.WrapErrf(err, "failed to register RotateLogJob")
			}
		}
	}

	SetLogOutput(out)

	if HasProp(PropLoggingLevel) {
		SetLogLevel(GetPropStr(PropLoggingLevel))
	}
	rail.Debugf("Logging configured, level: %v", logrus.GetLevel())
	return nil
}

func Tracef(format string, args ...interface{}) {
	if !logrus.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	logrus.WithField(callerField, getCallerFn()).Tracef(format, args...)
}

func Debugf(format string, args ...interface{}) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logrus.WithField(callerField, getCallerFn()).Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	if !logrus.IsLevelEnabled(logrus.InfoLevel) {
		return
	}
	logrus.WithField(callerField, getCallerFn()).Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	if !logrus.IsLevelEnabled(logrus.WarnLevel) {
		return
	}
	logrus.WithField(callerField, getCallerFn()).Warn(appendErrStack(true, format, args...))
}

func Errorf(format string, args ...interface{}) {
	if !logrus.IsLevelEnabled(logrus.ErrorLevel) {
		return
	}
	logrus.WithField(callerField, getCallerFn()).Error(appendErrStack(true, format, args...))
}

func appendErrStack(dofmt bool, format string, args ...any) string {
	if dofmt && format != "" && len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	var err error = nil
	for i := len(args) - 1; i > -1; i-- {
		if er, ok := args[i].(error); ok {
			err = er
			break
		}
	}
	if err != nil {
		if stackTrace, withStack := errs.UnwrapErrStack(err); withStack {
			format += stackTrace
		}
	}
	return format
}

func getCallerFn() string {
	return getCallerFnAt(4)
}

func getCallerFnAt(skip int) string {
	pcs := callerUintptrPool.Get().(*[]uintptr)
	defer putCallerUintptrPool(pcs)

	depth := runtime.Callers(skip, *pcs)
	frames := runtime.CallersFrames((*pcs)[:depth])

	// we only need the first frame
	if f, _ := frames.Next(); f.Function != "" {
		return unsafeGetShortFnName(f.Function)
	}
	return ""
}

func putCallerUintptrPool(pcs *[]uintptr) {
	clear(*pcs)
	callerUintptrPool.Put(pcs)
}

func getShortFnName(fn string) string {
	j := strings.LastIndex(fn, "/")
	if j < 0 {
		return fn
	}
	return fn[j+1:]
}

func unsafeGetShortFnName(fn string) string {
	j := strings.LastIndexByte(fn, '/')
	if j < 0 {
		return fn
	}
	return strutil.UnsafeByt2Str(strutil.UnsafeStr2Byt(fn)[j+1:])
}

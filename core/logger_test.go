package core

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestFormatter(t *testing.T) {
	f := &CTFormatter{}
	b, err := f.Format(&logrus.Entry{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local),
		Level:   logrus.WarnLevel,
		Message: "connection blocked",
		Data:    logrus.Fields{XTraceId: "abc", XSpanId: "def", callerField: "rabbit.(*Connection).watch"},
	})
	assert.NoError(t, err)
	s := string(b)
	assert.True(t, strings.HasPrefix(s, "2024-01-02 03:04:05.000 WARN  [abc"), s)
	assert.Contains(t, s, ",def")
	assert.Contains(t, s, "rabbit.(*Connection).watch")
	assert.True(t, strings.HasSuffix(s, " : connection blocked\n"), s)
}

func TestRailLogCaller(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(os.Stdout)
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(logrus.InfoLevel)

	rail := EmptyRail()
	rail.Debugf("debugging %v", 1)
	rail.Errorf("failed, %v", errs.NewErrf("boom"))

	out := buf.String()
	assert.Contains(t, out, "core.TestRailLogCaller")
	assert.Contains(t, out, rail.TraceId())
	assert.Contains(t, out, "debugging 1")
	assert.Contains(t, out, "failed, boom")
}

func TestParseLogLevel(t *testing.T) {
	l, ok := ParseLogLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, l)

	l, ok = ParseLogLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, logrus.InfoLevel, l)
}

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	p, err := parsePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePayload([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePayload([]byte(`{"Id":"u-1"}`))
	require.NoError(t, err)
	doc, ok := p.(json.Document)
	require.True(t, ok)
	assert.Equal(t, "u-1", doc.Get("Id").Str())

	_, err = parsePayload([]byte(`{"Id":`))
	assert.Error(t, err)
}

func TestDumpHandler(t *testing.T) {
	var buf bytes.Buffer
	rail := core.EmptyRail().WithCtxVal(core.XTraceId, "trace-1")

	require.NoError(t, newDumpHandler(&buf, true).Handle(rail, "MediaEncoding.Started", []byte(`{"Id":"ep-1"}`)))
	out := buf.String()
	assert.Contains(t, out, "[MediaEncoding.Started] traceId: trace-1")
	assert.Contains(t, out, "{\n  \"Id\": \"ep-1\"\n}")

	buf.Reset()
	require.NoError(t, newDumpHandler(&buf, false).Handle(rail, "Ping", nil))
	assert.True(t, strings.HasSuffix(buf.String(), "traceId: trace-1\n\n"))
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "evbus version "+version.Version)
}

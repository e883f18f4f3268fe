package main

import (
	"bytes"
	"testing"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/httpapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	_, ok, err := parseLine("   ")
	assert.NoError(t, err)
	assert.False(t, ok)

	f, ok, err := parseLine("안녕하세요\n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, httpapi.ClientFrame{Type: httpapi.ClientFrameMessage, Message: "안녕하세요"}, f)

	f, _, err = parseLine("/select premium-demolition")
	require.NoError(t, err)
	assert.Equal(t, httpapi.ClientFrameSelectService, f.Type)
	assert.Equal(t, "premium-demolition", f.ServiceID)

	f, _, err = parseLine(`/action premium-demolition address_submit {"address":"서울"}`)
	require.NoError(t, err)
	assert.Equal(t, "address_submit", f.ActionID)
	assert.JSONEq(t, `{"address":"서울"}`, string(f.Payload))

	f, _, err = parseLine("/action premium-demolition date_select 2025-05-01")
	require.NoError(t, err)
	assert.JSONEq(t, `"2025-05-01"`, string(f.Payload))

	f, _, err = parseLine("/action premium-demolition photo_skip")
	require.NoError(t, err)
	assert.Nil(t, f.Payload)

	_, _, err = parseLine("/action premium-demolition")
	assert.Error(t, err)
}

func TestRendererStreaming(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	msg := &api.Message{ID: "1", Role: api.RoleAssistant, Metadata: &api.Metadata{Origin: api.OriginAI, Streaming: true}}
	r.frame(&httpapi.ServerFrame{Type: httpapi.ServerFrameMessage, Message: msg})

	msg.Text = "Hello"
	r.frame(&httpapi.ServerFrame{Type: httpapi.ServerFrameUpdate, Message: msg})
	msg.Text = "Hello world"
	r.frame(&httpapi.ServerFrame{Type: httpapi.ServerFrameUpdate, Message: msg})
	msg.Metadata.Streaming = false
	r.frame(&httpapi.ServerFrame{Type: httpapi.ServerFrameUpdate, Message: msg})

	assert.Equal(t, "Assistant: Hello world\n", buf.String())
}

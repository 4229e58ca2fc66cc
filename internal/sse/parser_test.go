package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
	"data: line one\ndata: line two\n\n" +
	": comment\n" +
	"data: {\"type\":\"message_stop\"}\n\n" +
	"data: [DONE]\n\n"

func parseWhole(t *testing.T, body string) []Event {
	t.Helper()
	p := NewParser()
	events := p.Push([]byte(body))
	return append(events, p.Finish()...)
}

func TestParserWholeBody(t *testing.T) {
	events := parseWhole(t, sampleBody)
	require.Len(t, events, 4)
	assert.Equal(t, "message_start", events[0].Name)
	assert.Equal(t, `{"type":"message_start"}`, events[0].Data)
	assert.Equal(t, "line one\nline two", events[1].Data)
	assert.Equal(t, `{"type":"message_stop"}`, events[2].Data)
	assert.Equal(t, "[DONE]", events[3].Data)
}

func TestParserAnyByteSplit(t *testing.T) {
	want := parseWhole(t, sampleBody)
	for split := 1; split < len(sampleBody); split++ {
		p := NewParser()
		var got []Event
		got = append(got, p.Push([]byte(sampleBody[:split]))...)
		got = append(got, p.Push([]byte(sampleBody[split:]))...)
		got = append(got, p.Finish()...)
		require.Equal(t, want, got, "split at %d", split)
	}
}

func TestParserSingleByteFeed(t *testing.T) {
	want := parseWhole(t, sampleBody)
	p := NewParser()
	var got []Event
	for i := 0; i < len(sampleBody); i++ {
		got = append(got, p.Push([]byte{sampleBody[i]})...)
	}
	got = append(got, p.Finish()...)
	assert.Equal(t, want, got)
}

func TestParserFinishFlushesTrailingRecord(t *testing.T) {
	p := NewParser()
	events := p.Push([]byte("data: {\"partial\":true}"))
	assert.Empty(t, events)
	events = p.Finish()
	require.Len(t, events, 1)
	assert.Equal(t, `{"partial":true}`, events[0].Data)
}

func TestParserCRLF(t *testing.T) {
	events := parseWhole(t, "data: hello\r\n\r\n")
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Data)
}

func TestPayload(t *testing.T) {
	assert.Nil(t, Payload(""))
	assert.Nil(t, Payload("[DONE]"))
	assert.Nil(t, Payload("not json"))
	assert.Equal(t, []byte(`{"a":1}`), Payload(` {"a":1}`))
	assert.Equal(t, []byte(`[{"a":1}]`), Payload(`[{"a":1}]`))
}

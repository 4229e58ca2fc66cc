// Package sse implements an incremental Server-Sent-Events parser.
// It accepts arbitrary byte chunks, which may split lines or multi-byte
// sequences, and yields one event per blank-line-terminated record.
package sse

import (
	"bytes"
	"strings"
)

// Event is one parsed SSE record. Data is the newline-joined concatenation
// of all data: lines in the record; Name is the last event: field seen, if any.
type Event struct {
	Name string
	Data string
}

// Parser accumulates bytes and emits events at record boundaries.
// A record ends at a blank line. Trailing bytes with no final blank line
// are flushed by Finish.
type Parser struct {
	buf       []byte
	eventName string
	dataLines []string
	sawData   bool
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Push appends chunk to the internal buffer and returns all events whose
// terminating blank line arrived. Incomplete lines are carried over to the
// next Push so byte-split boundaries never corrupt a record.
func (p *Parser) Push(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)
	var events []Event
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		line = strings.TrimSuffix(line, "\r")
		p.consumeLine(line, &events)
	}
	return events
}

// Finish flushes any trailing incomplete record. The parser may be reused
// afterwards for a new stream.
func (p *Parser) Finish() []Event {
	var events []Event
	if len(p.buf) > 0 {
		line := strings.TrimSuffix(string(p.buf), "\r")
		p.buf = nil
		p.consumeLine(line, &events)
	}
	p.flushEvent(&events)
	return events
}

func (p *Parser) consumeLine(line string, events *[]Event) {
	if line == "" {
		p.flushEvent(events)
		return
	}
	if line[0] == ':' {
		return
	}
	if value, ok := strings.CutPrefix(line, "event:"); ok {
		p.eventName = strings.TrimPrefix(value, " ")
		return
	}
	if line == "event" {
		p.eventName = ""
		return
	}
	if value, ok := strings.CutPrefix(line, "data:"); ok {
		p.dataLines = append(p.dataLines, strings.TrimPrefix(value, " "))
		p.sawData = true
		return
	}
	if line == "data" {
		p.dataLines = append(p.dataLines, "")
		p.sawData = true
	}
}

func (p *Parser) flushEvent(events *[]Event) {
	if p.eventName == "" && !p.sawData {
		return
	}
	*events = append(*events, Event{
		Name: p.eventName,
		Data: strings.Join(p.dataLines, "\n"),
	})
	p.eventName = ""
	p.dataLines = nil
	p.sawData = false
}

// Payload returns the JSON payload of a data value, or nil when the value is
// empty, the [DONE] sentinel, or not a JSON object or array.
func Payload(data string) []byte {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" || trimmed == "[DONE]" {
		return nil
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil
	}
	return []byte(trimmed)
}

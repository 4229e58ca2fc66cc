package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yszxh/gproxy/internal/usage"
)

// chunkedReader yields its parts one Read at a time to exercise split frames.
type chunkedReader struct {
	parts []string
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	if n < len(r.parts[0]) {
		r.parts[0] = r.parts[0][n:]
	} else {
		r.parts = r.parts[1:]
	}
	return n, nil
}

func TestRunPassthroughFansOutIdenticalBytes(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\n"
	upstream := &chunkedReader{parts: []string{body[:7], body[7:20], body[20:]}}

	var downstream bytes.Buffer
	var recordedUp, recordedDown []byte
	err := Run(context.Background(), upstream, nil, usage.KindNone,
		func(chunk []byte) error {
			_, errWrite := downstream.Write(chunk)
			return errWrite
		},
		Recorders{
			UpstreamDone:   func(b []byte, _ *usage.Summary) { recordedUp = b },
			DownstreamDone: func(b []byte) { recordedDown = b },
		})
	require.NoError(t, err)
	assert.Equal(t, body, downstream.String())
	assert.Equal(t, body, string(recordedUp))
	assert.Equal(t, downstream.String(), string(recordedDown))
}

func TestRunTransformReceivesPayloadsAndSentinel(t *testing.T) {
	body := "event: x\ndata: {\"n\":1}\n\ndata: {\"n\":2}\n\ndata: [DONE]\n\n"
	var fed []string
	transform := func(data []byte) []string {
		fed = append(fed, string(data))
		if string(data) == "[DONE]" {
			return []string{"data: end\n\n"}
		}
		return []string{"data: got\n\n"}
	}

	var downstream bytes.Buffer
	var recordedDown []byte
	err := Run(context.Background(), strings.NewReader(body), transform, usage.KindNone,
		func(chunk []byte) error {
			_, errWrite := downstream.Write(chunk)
			return errWrite
		},
		Recorders{DownstreamDone: func(b []byte) { recordedDown = b }})
	require.NoError(t, err)

	// Two payload frames, then exactly one injected sentinel. The upstream's
	// own [DONE] never reaches the transform.
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, "[DONE]"}, fed)
	assert.Equal(t, "data: got\n\ndata: got\n\ndata: end\n\n", downstream.String())
	assert.Equal(t, downstream.String(), string(recordedDown))
}

func TestRunAccumulatesUpstreamUsage(t *testing.T) {
	body := "data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":100}}}\n\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":42}}\n\n"

	var finalUsage *usage.Summary
	err := Run(context.Background(), strings.NewReader(body), nil, usage.KindClaudeMessage,
		func([]byte) error { return nil },
		Recorders{UpstreamDone: func(_ []byte, u *usage.Summary) { finalUsage = u }})
	require.NoError(t, err)
	require.NotNil(t, finalUsage)
	assert.Equal(t, int64(100), finalUsage.Input())
	assert.Equal(t, int64(42), finalUsage.Output())
}

func TestRunEstimatesUsageFromOutputText(t *testing.T) {
	// No event ever reports usage; the recorder falls back to an estimate
	// from the accumulated output text.
	body := "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"twelve chars\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"and then some more text\"}}\n\n"

	var finalUsage *usage.Summary
	err := Run(context.Background(), strings.NewReader(body), nil, usage.KindClaudeMessage,
		func([]byte) error { return nil },
		Recorders{UpstreamDone: func(_ []byte, u *usage.Summary) { finalUsage = u }})
	require.NoError(t, err)
	require.NotNil(t, finalUsage)
	// 35 characters of text, one token per four.
	assert.Equal(t, int64(8), finalUsage.Output())
	assert.Equal(t, int64(0), finalUsage.Input())
}

func TestRunStopsOnWriteError(t *testing.T) {
	body := "data: {\"n\":1}\n\ndata: {\"n\":2}\n\n"
	writeErr := errors.New("client gone")
	writes := 0
	var recorded []byte

	err := Run(context.Background(), strings.NewReader(body), nil, usage.KindNone,
		func([]byte) error {
			writes++
			if writes > 1 {
				return writeErr
			}
			return nil
		},
		Recorders{DownstreamDone: func(b []byte) { recorded = b }})
	assert.ErrorIs(t, err, writeErr)
	// The recorder still flushed what was delivered before the failure.
	assert.NotNil(t, recorded)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, strings.NewReader("data: {\"n\":1}\n\n"), nil, usage.KindNone,
		func([]byte) error { return nil }, Recorders{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunFinishFlushesTrailingFrame(t *testing.T) {
	// No trailing blank line; Finish must still surface the final frame.
	body := "data: {\"n\":1}\n\ndata: {\"n\":2}"
	var fed []string
	transform := func(data []byte) []string {
		fed = append(fed, string(data))
		return nil
	}
	err := Run(context.Background(), strings.NewReader(body), transform, usage.KindNone,
		func([]byte) error { return nil }, Recorders{})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, "[DONE]"}, fed)
}

// Package stream glues an upstream SSE body to a downstream writer. Bytes
// fan out to asynchronous recorders so traffic and usage capture never block
// the client, and the recorder sees exactly the bytes the client sees.
package stream

import (
	"context"
	"io"
	"sync"

	"github.com/yszxh/gproxy/internal/sse"
	"github.com/yszxh/gproxy/internal/usage"
)

const readChunkSize = 4096

// doneSentinel is injected into the transform exactly once, after the
// upstream body ends, so stateful transforms can emit their closing frames.
var doneSentinel = []byte("[DONE]")

// TransformFunc converts one upstream SSE data payload into zero or more
// fully framed downstream chunks. It owns per-stream state via its closure.
type TransformFunc func(data []byte) []string

// Recorders receives the final buffered copies of both stream sides.
// Each callback fires exactly once, at stream end.
type Recorders struct {
	UpstreamDone   func(body []byte, finalUsage *usage.Summary)
	DownstreamDone func(body []byte)
}

// Run pumps the upstream body through transform into write. A nil transform
// passes bytes through unmodified. The upstream recorder additionally parses
// frames and accumulates usage in the upstream protocol's shape.
//
// Returns the first downstream write error or upstream read error; either
// way both recorders have flushed by the time Run returns.
func Run(ctx context.Context, upstream io.Reader, transform TransformFunc, upstreamKind usage.Kind, write func([]byte) error, recorders Recorders) error {
	upTx := make(chan []byte, 256)
	downTx := make(chan []byte, 256)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runUpstreamRecorder(upTx, upstreamKind, recorders.UpstreamDone)
	}()
	go func() {
		defer wg.Done()
		runDownstreamRecorder(downTx, recorders.DownstreamDone)
	}()

	err := pump(ctx, upstream, transform, write, upTx, downTx)
	close(upTx)
	close(downTx)
	wg.Wait()
	return err
}

func pump(ctx context.Context, upstream io.Reader, transform TransformFunc, write func([]byte) error, upTx, downTx chan<- []byte) error {
	parser := sse.NewParser()
	buf := make([]byte, readChunkSize)

	emit := func(chunk []byte) error {
		clone := append([]byte(nil), chunk...)
		downTx <- clone
		return write(chunk)
	}
	emitTransformed := func(data []byte) error {
		for _, framed := range transform(data) {
			if errWrite := emit([]byte(framed)); errWrite != nil {
				return errWrite
			}
		}
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, errRead := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			upTx <- append([]byte(nil), chunk...)

			if transform == nil {
				if errWrite := emit(chunk); errWrite != nil {
					return errWrite
				}
			} else {
				for _, event := range parser.Push(chunk) {
					if errWrite := feedEvent(event, emitTransformed); errWrite != nil {
						return errWrite
					}
				}
			}
		}
		if errRead == io.EOF {
			break
		}
		if errRead != nil {
			return errRead
		}
	}

	if transform == nil {
		return nil
	}
	for _, event := range parser.Finish() {
		if err := feedEvent(event, emitTransformed); err != nil {
			return err
		}
	}
	return emitTransformed(doneSentinel)
}

// feedEvent forwards one parsed frame's payload to the transform. Empty
// frames and the upstream's own [DONE] sentinel are dropped; the bridge
// injects its own sentinel at end of stream.
func feedEvent(event sse.Event, emit func([]byte) error) error {
	payload := sse.Payload(event.Data)
	if payload == nil {
		return nil
	}
	return emit(payload)
}

func runUpstreamRecorder(rx <-chan []byte, kind usage.Kind, done func([]byte, *usage.Summary)) {
	parser := sse.NewParser()
	accumulator := usage.NewAccumulator(kind)
	output := usage.NewOutputAccumulator(kind)
	var body []byte

	feed := func(events []sse.Event) {
		for _, event := range events {
			if payload := sse.Payload(event.Data); payload != nil {
				accumulator.Push(payload)
				output.Push(payload)
			}
		}
	}
	for chunk := range rx {
		body = append(body, chunk...)
		feed(parser.Push(chunk))
	}
	feed(parser.Finish())

	// When the upstream never reported usage, fall back to an estimate from
	// the accumulated output text.
	finalUsage := accumulator.Finalize()
	if finalUsage == nil {
		finalUsage = output.EstimateSummary()
	}
	if done != nil {
		done(body, finalUsage)
	}
}

func runDownstreamRecorder(rx <-chan []byte, done func([]byte)) {
	var body []byte
	for chunk := range rx {
		body = append(body, chunk...)
	}
	if done != nil {
		done(body)
	}
}

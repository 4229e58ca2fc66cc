// Package translator keeps the registry of protocol transforms. Requests
// translate from the client protocol into the upstream protocol; responses
// and streams translate back. Stream transforms are stateful: the registry
// hands each stream a fresh state object through the param pointer, so
// translation state can never leak across requests.
package translator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/yszxh/gproxy/internal/protocol"
)

// RequestTransform converts a request payload from the client protocol into
// the upstream protocol.
type RequestTransform func(model string, rawJSON []byte, stream bool) []byte

// StreamTransform converts one upstream SSE data payload into zero or more
// fully framed downstream SSE chunks. The bridge feeds it every non-empty
// payload plus a final "[DONE]" sentinel at upstream end; *param starts nil
// and holds the per-stream state.
type StreamTransform func(ctx context.Context, model string, originalRequestRawJSON, rawJSON []byte, param *any) []string

// NonStreamTransform converts a buffered upstream response body into the
// client protocol.
type NonStreamTransform func(ctx context.Context, model string, originalRequestRawJSON, rawJSON []byte) string

// Response groups the stream and non-stream directions for one pair.
type Response struct {
	Stream    StreamTransform
	NonStream NonStreamTransform
}

var (
	requests  = make(map[protocol.Proto]map[protocol.Proto]RequestTransform)
	responses = make(map[protocol.Proto]map[protocol.Proto]Response)
)

// Register installs the transforms for one (client, upstream) pair.
func Register(from, to protocol.Proto, request RequestTransform, response Response) {
	log.Debugf("registering translator %s -> %s", from, to)
	if _, ok := requests[from]; !ok {
		requests[from] = make(map[protocol.Proto]RequestTransform)
	}
	requests[from][to] = request
	if _, ok := responses[from]; !ok {
		responses[from] = make(map[protocol.Proto]Response)
	}
	responses[from][to] = response
}

// NeedConvert reports whether the pair has a registered transform.
func NeedConvert(from, to protocol.Proto) bool {
	if from == to {
		return false
	}
	_, ok := responses[from][to]
	return ok
}

// Request translates a request payload, or returns it unchanged when no
// transform is registered.
func Request(from, to protocol.Proto, model string, rawJSON []byte, stream bool) []byte {
	if fn, ok := requests[from][to]; ok {
		return fn(model, rawJSON, stream)
	}
	return rawJSON
}

// Stream translates one upstream stream payload back into the client
// protocol. With no registered pair the payload is re-framed verbatim.
func Stream(from, to protocol.Proto, ctx context.Context, model string, originalRequestRawJSON, rawJSON []byte, param *any) []string {
	if resp, ok := responses[from][to]; ok && resp.Stream != nil {
		return resp.Stream(ctx, model, originalRequestRawJSON, rawJSON, param)
	}
	return []string{"data: " + string(rawJSON) + "\n\n"}
}

// NonStream translates a buffered upstream response back into the client
// protocol, or returns it unchanged when no transform is registered.
func NonStream(from, to protocol.Proto, ctx context.Context, model string, originalRequestRawJSON, rawJSON []byte) string {
	if resp, ok := responses[from][to]; ok && resp.NonStream != nil {
		return resp.NonStream(ctx, model, originalRequestRawJSON, rawJSON)
	}
	return string(rawJSON)
}

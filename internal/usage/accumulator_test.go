package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeAccumulator(t *testing.T) {
	acc := NewAccumulator(KindClaudeMessage)

	got := acc.Push([]byte(`{"type":"message_start","message":{"usage":{"input_tokens":11,"cache_read_input_tokens":5}}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 11, got.Input())

	// content deltas carry no usage
	assert.Nil(t, acc.Push([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`)))

	got = acc.Push([]byte(`{"type":"message_delta","usage":{"output_tokens":42}}`))
	require.NotNil(t, got)

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.EqualValues(t, 11, final.Input())
	assert.EqualValues(t, 42, final.Output())
	require.NotNil(t, final.CacheReadTokens)
	assert.EqualValues(t, 5, *final.CacheReadTokens)
}

func TestMergeMonotonic(t *testing.T) {
	var s Summary
	s.Merge(Summary{InputTokens: ptr(10)})
	s.Merge(Summary{OutputTokens: ptr(3)})
	// nil fields never clear
	s.Merge(Summary{OutputTokens: ptr(7)})
	s.Merge(Summary{})
	assert.EqualValues(t, 10, s.Input())
	assert.EqualValues(t, 7, s.Output())
}

func TestOpenAIChatAccumulator(t *testing.T) {
	acc := NewAccumulator(KindOpenAIChat)
	assert.Nil(t, acc.Push([]byte(`{"choices":[{"delta":{"content":"x"}}],"usage":null}`)))
	got := acc.Push([]byte(`{"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4,"prompt_tokens_details":{"cached_tokens":2}}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 9, got.Input())
	assert.EqualValues(t, 4, got.Output())
}

func TestOpenAIResponsesAccumulator(t *testing.T) {
	acc := NewAccumulator(KindOpenAIResponses)
	got := acc.Push([]byte(`{"type":"response.completed","response":{"usage":{"input_tokens":20,"output_tokens":8}}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 20, got.Input())
	assert.EqualValues(t, 8, got.Output())
}

func TestOpenAIResponsesBufferedUsage(t *testing.T) {
	// Non-streaming response objects carry usage at the top level, not under
	// a response key.
	acc := NewAccumulator(KindOpenAIResponses)
	got := acc.Push([]byte(`{"id":"resp_1","status":"completed","usage":{"input_tokens":5,"output_tokens":2}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 5, got.Input())
	assert.EqualValues(t, 2, got.Output())

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.EqualValues(t, 5, final.Input())
}

func TestGeminiAccumulator(t *testing.T) {
	acc := NewAccumulator(KindGeminiGenerate)
	got := acc.Push([]byte(`{"candidates":[],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 5, got.Input())
	assert.EqualValues(t, 2, got.Output())
}

func TestMalformedFrameIsDropped(t *testing.T) {
	acc := NewAccumulator(KindClaudeMessage)
	assert.Nil(t, acc.Push([]byte(`{"truncated":`)))
	assert.Nil(t, acc.Finalize())
}

func TestFinalizeWithoutEvents(t *testing.T) {
	acc := NewAccumulator(KindGeminiGenerate)
	assert.Nil(t, acc.Finalize())
}

func TestOutputAccumulatorClaude(t *testing.T) {
	out := NewOutputAccumulator(KindClaudeMessage)
	out.Push([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hello "}}`))
	out.Push([]byte(`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"q\":1}"}}`))
	assert.Equal(t, `hello {"q":1}`, out.Text())
}

func TestOutputAccumulatorGeminiNonTextPart(t *testing.T) {
	out := NewOutputAccumulator(KindGeminiGenerate)
	out.Push([]byte(`{"candidates":[{"content":{"parts":[{"text":"abc"},{"functionCall":{"name":"f"}}]}}]}`))
	assert.Contains(t, out.Text(), "abc")
	assert.Contains(t, out.Text(), `"functionCall"`)
}

func TestOutputAccumulatorEstimate(t *testing.T) {
	out := NewOutputAccumulator(KindOpenAIChat)
	assert.Nil(t, out.EstimateSummary())

	out.Push([]byte(`{"choices":[{"delta":{"content":"ab"}}]}`))
	est := out.EstimateSummary()
	require.NotNil(t, est)
	// Short output still counts as at least one token.
	assert.EqualValues(t, 1, est.Output())
}

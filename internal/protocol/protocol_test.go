package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yszxh/gproxy/internal/usage"
)

func TestOperationProto(t *testing.T) {
	assert.Equal(t, ProtoClaude, OpClaudeMessagesStream.Proto())
	assert.Equal(t, ProtoGemini, OpGeminiCountTokens.Proto())
	assert.Equal(t, ProtoOpenAIChat, OpOpenAIChat.Proto())
	assert.Equal(t, ProtoOpenAIResponses, OpOpenAIResponsesStream.Proto())
}

func TestEquivalentPreservesStreaming(t *testing.T) {
	assert.Equal(t, OpClaudeMessagesStream, OpGeminiGenerateStream.Equivalent(ProtoClaude))
	assert.Equal(t, OpClaudeMessages, OpOpenAIChat.Equivalent(ProtoClaude))
	assert.Equal(t, OpGeminiGenerate, OpClaudeMessages.Equivalent(ProtoGemini))
	assert.Equal(t, OpOpenAIResponsesStream, OpClaudeMessagesStream.Equivalent(ProtoOpenAIResponses))
	assert.Equal(t, OpGeminiCountTokens, OpClaudeCountTokens.Equivalent(ProtoGemini))
	assert.Equal(t, OpOpenAIModelsList, OpClaudeModelsList.Equivalent(ProtoOpenAIChat))
}

func TestNativeTableFor(t *testing.T) {
	table := NativeTableFor(ProtoClaude, usage.KindClaudeMessage)

	rule := table.Rule(OpClaudeMessagesStream)
	assert.Equal(t, RuleNative, rule.Kind)
	assert.Equal(t, usage.KindClaudeMessage, rule.Usage)

	rule = table.Rule(OpGeminiGenerateStream)
	assert.Equal(t, RuleTransform, rule.Kind)
	assert.Equal(t, ProtoClaude, rule.Target)

	assert.Equal(t, RuleLocal, table.Rule(OpOAuthStart).Kind)
	assert.Equal(t, RuleUnsupported, table.Rule(Operation(999)).Kind)
}

func TestFromString(t *testing.T) {
	assert.Equal(t, ProtoClaude, FromString("Anthropic"))
	assert.Equal(t, ProtoOpenAIResponses, FromString("codex"))
	assert.Equal(t, ProtoOpenAIChat, FromString("anything-else"))
}

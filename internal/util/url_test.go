package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeURL(t *testing.T) {
	cases := []struct {
		base string
		path string
		want string
	}{
		{"https://api.anthropic.com", "/v1/messages", "https://api.anthropic.com/v1/messages"},
		{"https://api.anthropic.com/v1", "/v1/messages", "https://api.anthropic.com/v1/messages"},
		{"https://api.anthropic.com/v1/", "/v1/messages", "https://api.anthropic.com/v1/messages"},
		{"https://generativelanguage.googleapis.com/v1beta", "/v1beta/models/gemini-2.5-pro:generateContent", "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent"},
		{"https://example.com/gateway", "/v1/chat/completions", "https://example.com/gateway/v1/chat/completions"},
		{"https://example.com/v1beta", "/v1/chat/completions", "https://example.com/v1beta/v1/chat/completions"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ComposeURL(c.base, c.path), "base=%s path=%s", c.base, c.path)
	}
}

// Package translator wires every protocol pair into the registry through
// blank imports. Importing this package is enough to make all request and
// response transforms available.
package translator

import (
	_ "github.com/yszxh/gproxy/internal/translator/claude/gemini"
	_ "github.com/yszxh/gproxy/internal/translator/claude/openai"
	_ "github.com/yszxh/gproxy/internal/translator/claude/responses"

	_ "github.com/yszxh/gproxy/internal/translator/codex/claude"
	_ "github.com/yszxh/gproxy/internal/translator/codex/gemini"
	_ "github.com/yszxh/gproxy/internal/translator/codex/openai"

	_ "github.com/yszxh/gproxy/internal/translator/gemini/claude"
	_ "github.com/yszxh/gproxy/internal/translator/gemini/openai"
	_ "github.com/yszxh/gproxy/internal/translator/gemini/responses"

	_ "github.com/yszxh/gproxy/internal/translator/openai/claude"
	_ "github.com/yszxh/gproxy/internal/translator/openai/gemini"
	_ "github.com/yszxh/gproxy/internal/translator/openai/responses"
)

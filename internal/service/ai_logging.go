package service

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const maxAILogSnippetRunes = 512

// logAIExchange 以 debug 级别输出模型请求与响应的片段，方便排查模型行为。
func logAIExchange(logger zerolog.Logger, phase, content string) {
	trimmed := strings.TrimSpace(content)
	event := logger.Debug().Str("phase", phase)
	if trimmed == "" {
		event.Msg("ai exchange <empty>")
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxAILogSnippetRunes {
		snippet = string([]rune(trimmed)[:maxAILogSnippetRunes]) + "…(truncated)"
	}
	event.Int("runes", runeCount).Str("snippet", snippet).Msg("ai exchange")
}

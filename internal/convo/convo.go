// Package convo holds the stateless history-shaping helpers agents use
// before handing a prompt to the LLM façade (spec §4.9).
package convo

import (
	"github.com/turnforge/chatcore/internal/events"
)

const (
	DefaultMaxMessages  = 30
	DefaultMaxTokens    = 8000
	approxCharsPerToken = 4
)

// PrepareConfig bounds how much history PrepareForLLM keeps.
type PrepareConfig struct {
	MaxMessages int
	MaxTokens   int
}

// PrepareForLLM keeps system messages, then trims the remaining
// conversation to MaxMessages from the tail, then further trims to a
// MaxTokens budget (approximated at ~4 chars/token) also from the tail.
// Order is preserved.
func PrepareForLLM(history []events.ChatMessage, cfg PrepareConfig) []events.ChatMessage {
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var system []events.ChatMessage
	var rest []events.ChatMessage
	for _, m := range history {
		if m.Role == events.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(rest) > maxMessages {
		rest = rest[len(rest)-maxMessages:]
	}

	budget := maxTokens * approxCharsPerToken
	used := 0
	for _, m := range system {
		used += len(m.Content)
	}
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		used += len(rest[i].Content)
		if used > budget && start != len(rest) {
			break
		}
		start = i
		if used > budget {
			break
		}
	}
	rest = rest[start:]

	out := make([]events.ChatMessage, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

// FormatAsContext flattens the last n turns into a single string, one
// "role: content" line per message, oldest first.
func FormatAsContext(history []events.ChatMessage, n int) string {
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	tail := history[len(history)-n:]

	var out string
	for i, m := range tail {
		if i > 0 {
			out += "\n"
		}
		out += string(m.Role) + ": " + m.Content
	}
	return out
}

// LastUserMessage returns the most recent user message, if any.
func LastUserMessage(history []events.ChatMessage) (events.ChatMessage, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == events.RoleUser {
			return history[i], true
		}
	}
	return events.ChatMessage{}, false
}

// LastAssistantMessage returns the most recent assistant message, if any.
func LastAssistantMessage(history []events.ChatMessage) (events.ChatMessage, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == events.RoleAssistant {
			return history[i], true
		}
	}
	return events.ChatMessage{}, false
}

// DeduplicateByID keeps the last occurrence of each message id,
// preserving the position of that last occurrence.
func DeduplicateByID(history []events.ChatMessage) []events.ChatMessage {
	lastIndex := make(map[string]int, len(history))
	for i, m := range history {
		lastIndex[m.ID] = i
	}
	out := make([]events.ChatMessage, 0, len(lastIndex))
	for i, m := range history {
		if lastIndex[m.ID] == i {
			out = append(out, m)
		}
	}
	return out
}

package llm

import (
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?is)<(think|thinking|reasoning|analysis)>.*?</(think|thinking|reasoning|analysis)>`)

// CleanResponse strips chain-of-thought wrapper blocks and markdown code
// fences from model output.
func CleanResponse(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	// An unterminated <think> block swallows everything after it.
	if i := strings.Index(strings.ToLower(text), "<think>"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ExtractBalancedJSON returns the first complete {...} or [...] value in
// text, honoring string literals and escapes. ok is false when none closes.
func ExtractBalancedJSON(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		if end := balancedEnd(text, start); end > 0 {
			return text[start:end], true
		}
	}
	return "", false
}

func balancedEnd(text string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return -1
}

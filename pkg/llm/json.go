package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> preambles some models emit
// before their answer.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// ExtractJSON pulls the first valid JSON value out of a model response,
// tolerating think-tag preambles, markdown fences, and trailing prose.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	for _, open := range candidateDelims(cleaned) {
		if candidate, ok := scanBalanced(cleaned, open); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	// The response may already be bare JSON (a number, a quoted string).
	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// candidateDelims orders the opening delimiters to try. An object that
// appears before any array wins; the array is still a fallback in case the
// brace belongs to prose.
func candidateDelims(s string) []byte {
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		if arrStart >= 0 {
			return []byte{'{', '['}
		}
		return []byte{'{'}
	case arrStart >= 0:
		return []byte{'['}
	default:
		return nil
	}
}

// scanBalanced returns the first balanced structure opened by open,
// tracking nesting depth and skipping string literals.
func scanBalanced(s string, open byte) (string, bool) {
	var closing byte
	switch open {
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	default:
		return "", false
	}

	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}

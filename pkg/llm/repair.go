package llm

import (
	"encoding/json"
	"strings"
)

// extractedTextWrapper is the response shape some models produce when they
// wrap the requested JSON inside a prose field.
const extractedTextWrapper = "extracted_text"

// ExtractJSON pulls the JSON body out of model output, stripping markdown
// fences and surrounding prose, and repairs common structural damage. The
// second return value reports whether the result parses as JSON.
func ExtractJSON(content string) (string, bool) {
	body := stripFences(content)

	if json.Valid([]byte(body)) {
		return unwrap(body), true
	}

	repaired := repairJSON(body)
	if json.Valid([]byte(repaired)) {
		return unwrap(repaired), true
	}
	return repaired, false
}

// stripFences removes a leading/trailing markdown code fence and trims
// prose before the first brace or bracket.
func stripFences(content string) string {
	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if start := strings.IndexAny(body, "{["); start > 0 {
		body = body[start:]
	}
	return body
}

// repairJSON is a single forward scan that tracks string and nesting state,
// then fixes three damage classes: trailing commas before closers, excess
// closers past depth zero, and missing closers at the end.
func repairJSON(body string) string {
	var (
		out      strings.Builder
		stack    []byte // open braces and brackets
		inString bool
		escaped  bool
		// index in out of the last comma that is still removable if the
		// next significant character is a closer
		pendingComma = -1
	)

	flushComma := func() { pendingComma = -1 }

	for i := 0; i < len(body); i++ {
		c := body[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			flushComma()
			out.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			flushComma()
			out.WriteByte(c)
		case '}', ']':
			if len(stack) == 0 {
				// Excess trailing closer; drop it.
				continue
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				continue
			}
			stack = stack[:len(stack)-1]
			if pendingComma >= 0 {
				trimmed := out.String()[:pendingComma]
				out.Reset()
				out.WriteString(trimmed)
				flushComma()
			}
			out.WriteByte(c)
		case ',':
			pendingComma = out.Len()
			out.WriteByte(c)
		case ' ', '\t', '\n', '\r':
			out.WriteByte(c)
		default:
			flushComma()
			out.WriteByte(c)
		}
	}

	// An unterminated string swallows every closer after it; end the
	// string so the closers below land in the right state.
	if inString {
		out.WriteByte('"')
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out.WriteByte('}')
		} else {
			out.WriteByte(']')
		}
	}
	return out.String()
}

// unwrap handles the wrapper shape {"extracted_text": "<json string>"} by
// returning the inner document when it is itself valid JSON.
func unwrap(body string) string {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
		return body
	}
	raw, ok := wrapper[extractedTextWrapper]
	if !ok || len(wrapper) != 1 {
		return body
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		// Not a string wrapper; the field may itself hold the object.
		if json.Valid(raw) {
			return string(raw)
		}
		return body
	}
	inner = strings.TrimSpace(inner)
	if json.Valid([]byte(inner)) {
		return inner
	}
	return body
}

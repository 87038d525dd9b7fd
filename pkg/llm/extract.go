package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the first JSON object or array in response. Fenced
// blocks are preferred; otherwise the first balanced value in the text is
// used. It returns "" when nothing is found.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		if content := fencedJSON(response[start+len("```json"):]); content != "" {
			return content
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 {
			if content := fencedJSON(body[nl:]); content != "" {
				return content
			}
		}
	}

	if i := strings.IndexAny(response, "{["); i != -1 {
		return extractBalanced(response, i)
	}
	return ""
}

// fencedJSON returns the JSON value at the start of a fenced block body. The
// closing fence is trusted only if the content is valid JSON, since string
// values may themselves contain fences.
func fencedJSON(body string) string {
	if end := strings.Index(body, "```"); end != -1 {
		content := strings.TrimSpace(body[:end])
		if json.Valid([]byte(content)) && (strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")) {
			return content
		}
	}
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return extractBalanced(trimmed, 0)
	}
	return ""
}

// extractBalanced scans from an opening brace or bracket to its match,
// honouring string literals and escapes.
func extractBalanced(s string, start int) string {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// DecodeJSON extracts the JSON payload from response and unmarshals it into v.
func DecodeJSON(response string, v any) error {
	raw := ExtractJSON(response)
	if raw == "" {
		return fmt.Errorf("no JSON found in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// StripCodeFence removes a Markdown code fence around code, if present. Text
// without fences is returned trimmed of surrounding blank lines.
func StripCodeFence(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return strings.Trim(code, "\r\n")
	}

	body := trimmed[3:]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	if end := strings.LastIndex(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.Trim(body, "\r\n")
}

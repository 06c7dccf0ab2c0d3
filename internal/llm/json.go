// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedJSON matches a ```json code fence and captures its body.
var fencedJSON = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

// ExtractJSON decodes v from model output that may wrap the JSON in prose
// or a code fence. It tries, in order: the whole text, the first ```json
// fence, and the first brace-balanced object or array.
func ExtractJSON(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	if candidate := firstBalanced(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable JSON in model output")
}

// firstBalanced returns the first brace- or bracket-balanced span of text,
// respecting JSON string literals and escapes.
func firstBalanced(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}

	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

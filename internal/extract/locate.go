// Package extract recovers the topic analysis record from free-form model
// replies and drives the retrying extraction call.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fenceLine matches a markdown code fence line, optionally with a language tag.
var fenceLine = regexp.MustCompile("^\\s*```[\\w+.-]*\\s*$")

// Locate isolates the substring of text most likely to be one complete JSON
// object. It tolerates prose around the object, markdown fences, and braces
// inside string values. The returned span always decodes as strict JSON.
func Locate(text string) (string, bool) {
	text = stripFences(text)
	if text == "" {
		return "", false
	}

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				// A depth-zero point inside malformed input is not the end of
				// the object; keep scanning.
			}
		}
	}

	// Lenient fallback: the remainder from the first brace, if it decodes.
	rest := strings.TrimSpace(text[start:])
	if json.Valid([]byte(rest)) {
		return rest, true
	}
	return "", false
}

// stripFences removes code-fence lines from the start and end of text. Fence
// tokens elsewhere in the body are left alone.
func stripFences(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	for len(lines) > 0 && fenceLine.MatchString(lines[0]) {
		lines = lines[1:]
	}
	for len(lines) > 0 && fenceLine.MatchString(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	if n := len(lines); n > 0 {
		// A closing fence glued to the last line of the object.
		last := strings.TrimRight(lines[n-1], " \t\r")
		lines[n-1] = strings.TrimSuffix(last, "```")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
